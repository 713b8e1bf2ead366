package config

import (
	"os"
	"strconv"

	"github.com/dmitrijs2005/docshare/internal/flagx"
	"github.com/joho/godotenv"
)

// Environment variable names recognised by parseEnv.
const (
	EnvDatabaseDSN    = "DOCSHARE_DATABASE_DSN"
	EnvSecretKey      = "DOCSHARE_SECRET_KEY"
	EnvEncryptionKey  = "DOCSHARE_ENCRYPTION_KEY"
	EnvRequireMFA     = "DOCSHARE_REQUIRE_MFA"
	EnvS3RootUser     = "DOCSHARE_S3_ROOT_USER"
	EnvS3RootPassword = "DOCSHARE_S3_ROOT_PASSWORD"
	EnvS3BaseEndpoint = "DOCSHARE_S3_BASE_ENDPOINT"
)

// parseEnv overlays secrets and deployment toggles from the process
// environment. When -env points to a dotenv file it is loaded first;
// variables already present in the environment take precedence over it.
//
// A missing or unreadable dotenv file panics, matching the JSON loader.
func parseEnv(config *Config) {
	if path := flagx.EnvFileFlags(); path != "" {
		if err := godotenv.Load(path); err != nil {
			panic(err)
		}
	}

	setString(&config.DatabaseDSN, EnvDatabaseDSN)
	setString(&config.SecretKey, EnvSecretKey)
	setString(&config.EncryptionKey, EnvEncryptionKey)
	setString(&config.S3RootUser, EnvS3RootUser)
	setString(&config.S3RootPassword, EnvS3RootPassword)
	setString(&config.S3BaseEndpoint, EnvS3BaseEndpoint)

	if v, ok := os.LookupEnv(EnvRequireMFA); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			config.RequireMFA = b
		}
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
