// Package auth encodes and decodes the signed session carrier held in the
// docshare_session cookie.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/docshare/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Phase distinguishes the two non-anonymous carrier kinds.
type Phase string

const (
	PhaseMFAPending    Phase = "mfa_pending"
	PhaseAuthenticated Phase = "authenticated"
)

// Claims is the JWT payload. Subject holds the account id. CreatedAt and
// LastActivity are Unix milliseconds and live in the same signed token so
// they always change together.
type Claims struct {
	jwt.RegisteredClaims
	Email        string `json:"email"`
	Phase        Phase  `json:"phase"`
	CreatedAt    int64  `json:"cat,omitempty"`
	LastActivity int64  `json:"lat,omitempty"`
	MFAVerified  bool   `json:"mfa,omitempty"`
}

// Codec signs and verifies carriers with HS256.
type Codec struct {
	secret []byte
}

func NewCodec(secret []byte) *Codec {
	return &Codec{secret: secret}
}

// EncodeSession signs an authenticated carrier valid until expiresAt.
func (c *Codec) EncodeSession(s Session, expiresAt time.Time) (string, error) {
	return c.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.AccountID,
			IssuedAt:  jwt.NewNumericDate(s.LastActivity),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:        s.Email,
		Phase:        PhaseAuthenticated,
		CreatedAt:    s.CreatedAt.UnixMilli(),
		LastActivity: s.LastActivity.UnixMilli(),
		MFAVerified:  s.MFAVerified,
	})
}

// EncodePending signs a password-verified, second-factor-pending carrier.
func (c *Codec) EncodePending(p MFAPending) (string, error) {
	return c.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.AccountID,
			IssuedAt:  jwt.NewNumericDate(p.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(p.ExpiresAt),
		},
		Email: p.Email,
		Phase: PhaseMFAPending,
	})
}

func (c *Codec) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Parse verifies the signature and expiry against now. An expired token
// yields common.ErrTokenExpired, anything else common.ErrInvalidToken.
func (c *Codec) Parse(carrier string, now time.Time) (*Claims, error) {
	return c.parse(carrier,
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired())
}

// Peek verifies only the signature. It is used for best-effort reads of
// carriers that may already be expired.
func (c *Codec) Peek(carrier string) (*Claims, error) {
	return c.parse(carrier, jwt.WithoutClaimsValidation())
}

func (c *Codec) parse(carrier string, opts ...jwt.ParserOption) (*Claims, error) {
	if carrier == "" {
		return nil, common.ErrInvalidToken
	}

	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(carrier, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}
	if !token.Valid || claims.Subject == "" {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}

// Decode maps a carrier to exactly one State. Missing, forged, expired or
// partial carriers decode to Anonymous.
func (c *Codec) Decode(carrier string, now time.Time) State {
	claims, err := c.Parse(carrier, now)
	if err != nil {
		return Anonymous{}
	}

	switch claims.Phase {
	case PhaseMFAPending:
		p := MFAPending{AccountID: claims.Subject, Email: claims.Email}
		if claims.IssuedAt != nil {
			p.IssuedAt = claims.IssuedAt.Time
		}
		p.ExpiresAt = claims.ExpiresAt.Time
		return p
	case PhaseAuthenticated:
		if claims.CreatedAt == 0 || claims.LastActivity == 0 {
			return Anonymous{}
		}
		return Authenticated{Session: Session{
			AccountID:    claims.Subject,
			Email:        claims.Email,
			CreatedAt:    time.UnixMilli(claims.CreatedAt).UTC(),
			LastActivity: time.UnixMilli(claims.LastActivity).UTC(),
			MFAVerified:  claims.MFAVerified,
		}}
	default:
		return Anonymous{}
	}
}
