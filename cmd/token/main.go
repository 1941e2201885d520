package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Rrens/zyra/internal/config"
	"github.com/Rrens/zyra/internal/logger"
	"github.com/Rrens/zyra/internal/security"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const usage = "usage: token <subject>"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if _, err := logger.Setup(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	token, err := issueToken(cfg.Auth, os.Args[1])
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue token")
	}

	log.Info().Str("subject", os.Args[1]).Dur("ttl", cfg.Auth.TokenTTL).Msg("Issued API token")
	fmt.Println(token)
}

// issueToken mints a bearer token accepted by the API for subject
func issueToken(cfg config.AuthConfig, subject string) (string, error) {
	if cfg.JWTSecret == "" {
		return "", errors.New("auth.jwt_secret is not set; the API accepts requests without a token")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("subject is required")
	}
	return security.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL).GenerateToken(subject)
}
