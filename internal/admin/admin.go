// Package admin implements the operator command line: schema migration,
// audit archival and inspection, grant cleanup and account bootstrap.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/docshare/internal/filex"
	"github.com/dmitrijs2005/docshare/internal/server/models"
	"github.com/spf13/cobra"
)

type AuditAdmin interface {
	Archive(ctx context.Context, olderThanDays int) (*models.AuditArchive, error)
	ReadArchive(ctx context.Context, id string) ([]models.AuditRecord, error)
	Stats(ctx context.Context, retentionDays int) (*models.AuditStats, error)
}

type GrantPurger interface {
	PurgeExpiredGrants(ctx context.Context) (int64, error)
}

type Registrar interface {
	Register(ctx context.Context, email, password string) (*models.Account, error)
}

// Deps are built lazily per command so that --help never touches the
// database. Close releases whatever Open acquired.
type Deps struct {
	Migrate       func(ctx context.Context) error
	Audit         AuditAdmin
	Grants        GrantPurger
	Accounts      Registrar
	RetentionDays int
	Close         func()
}

// Opener builds Deps for a single command run.
type Opener func(ctx context.Context) (*Deps, error)

// NewRootCmd assembles the command tree.
func NewRootCmd(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "docshare-admin",
		Short:         "Operate a docshare deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		migrateCmd(open),
		archiveCmd(open),
		readArchiveCmd(open),
		statsCmd(open),
		purgeGrantsCmd(open),
		createAccountCmd(open),
	)
	return root
}

func withDeps(cmd *cobra.Command, open Opener, fn func(ctx context.Context, d *Deps) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	d, err := open(ctx)
	if err != nil {
		return fmt.Errorf("initializing: %w", err)
	}
	if d.Close != nil {
		defer d.Close()
	}
	return fn(ctx, d)
}

func migrateCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, open, func(ctx context.Context, d *Deps) error {
				if err := d.Migrate(ctx); err != nil {
					return fmt.Errorf("migrating: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
				return nil
			})
		},
	}
}

func archiveCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Compact audit records older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("older-than-days")
			return withDeps(cmd, open, func(ctx context.Context, d *Deps) error {
				if !cmd.Flags().Changed("older-than-days") {
					days = d.RetentionDays
				}
				arc, err := d.Audit.Archive(ctx, days)
				if err != nil {
					return fmt.Errorf("archiving: %w", err)
				}
				out := cmd.OutOrStdout()
				if arc == nil {
					fmt.Fprintf(out, "No records older than %d days\n", days)
					return nil
				}
				fmt.Fprintf(out, "Archive:  %s\n", arc.ID)
				fmt.Fprintf(out, "Records:  %d\n", arc.RecordCount)
				fmt.Fprintf(out, "Period:   %s .. %s\n", arc.PeriodStart.Format(time.RFC3339), arc.PeriodEnd.Format(time.RFC3339))
				fmt.Fprintf(out, "Checksum: %s\n", arc.Checksum)
				return nil
			})
		},
	}
	cmd.Flags().Int("older-than-days", 0, "archive records older than this many days (default: configured retention)")
	return cmd
}

func readArchiveCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read-archive <archive-id>",
		Short: "Verify an archive checksum and print its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exportDir, _ := cmd.Flags().GetString("export")
			return withDeps(cmd, open, func(ctx context.Context, d *Deps) error {
				records, err := d.Audit.ReadArchive(ctx, args[0])
				if err != nil {
					return fmt.Errorf("reading archive: %w", err)
				}

				if exportDir == "" {
					return writeRecords(cmd.OutOrStdout(), records)
				}

				data, err := json.MarshalIndent(records, "", "  ")
				if err != nil {
					return err
				}
				path, err := filex.WriteExport(exportDir, args[0]+".json", data)
				if err != nil {
					return fmt.Errorf("exporting: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d records to %s\n", len(records), path)
				return nil
			})
		},
	}
	cmd.Flags().String("export", "", "write the verified records as JSON into this directory")
	return cmd
}

func statsCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show audit log statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, open, func(ctx context.Context, d *Deps) error {
				st, err := d.Audit.Stats(ctx, d.RetentionDays)
				if err != nil {
					return fmt.Errorf("reading stats: %w", err)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			})
		},
	}
}

func purgeGrantsCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-grants",
		Short: "Delete share grants whose expiry has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, open, func(ctx context.Context, d *Deps) error {
				n, err := d.Grants.PurgeExpiredGrants(ctx)
				if err != nil {
					return fmt.Errorf("purging grants: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired grants\n", n)
				return nil
			})
		},
	}
}

func createAccountCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-account",
		Short: "Create an account, prompting for its password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, err := promptNewPassword(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return withDeps(cmd, open, func(ctx context.Context, d *Deps) error {
				acc, err := d.Accounts.Register(ctx, email, password)
				if err != nil {
					return fmt.Errorf("creating account: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created account %s (%s)\n", acc.ID, acc.Email)
				return nil
			})
		},
	}
	cmd.Flags().String("email", "", "email address of the new account")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func writeRecords(w io.Writer, records []models.AuditRecord) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
