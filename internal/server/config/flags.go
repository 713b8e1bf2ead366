package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/docshare/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   session token HMAC secret key
//	-k string   encryption key for MFA secrets
//	-l int      failed attempts before lockout
//	-w int      lockout window, minutes
//	-i int      session inactivity timeout, minutes
//	-m int      session max duration, minutes
//	-r int      audit retention, days
//	-mfa bool   require a verified second factor for document access
//	-v string   log level
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// Duration flags are integers in minutes.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-d", "-s", "-k", "-l", "-w", "-i", "-m", "-r", "-mfa", "-v",
		"-u", "-p", "-b", "-g", "-e",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.EncryptionKey, "k", config.EncryptionKey, "encryption key")
	fs.IntVar(&config.LockoutThreshold, "l", config.LockoutThreshold, "failed attempts before lockout")

	lockoutWindow := fs.Int("w", int(config.LockoutDuration.Minutes()), "lockout window (in minutes)")
	inactivity := fs.Int("i", int(config.SessionInactivityTimeout.Minutes()), "session inactivity timeout (in minutes)")
	maxDuration := fs.Int("m", int(config.SessionMaxDuration.Minutes()), "session max duration (in minutes)")

	fs.IntVar(&config.AuditRetentionDays, "r", config.AuditRetentionDays, "audit retention (in days)")
	fs.BoolVar(&config.RequireMFA, "mfa", config.RequireMFA, "require two-factor authentication")
	fs.StringVar(&config.LogLevel, "v", config.LogLevel, "log level")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.LockoutDuration = time.Duration(*lockoutWindow) * time.Minute
	config.SessionInactivityTimeout = time.Duration(*inactivity) * time.Minute
	config.SessionMaxDuration = time.Duration(*maxDuration) * time.Minute
}
