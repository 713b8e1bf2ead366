package backupcodes

import "context"

// Repository stores hashed single-use MFA backup codes per account.
type Repository interface {
	ReplaceAll(ctx context.Context, accountID string, hashes []string) error
	Consume(ctx context.Context, accountID, hash string) (bool, error)
	Count(ctx context.Context, accountID string) (int, error)
	DeleteAll(ctx context.Context, accountID string) error
}
