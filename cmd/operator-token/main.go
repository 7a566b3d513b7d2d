// Command operator-token mints a bearer token for the mailpipe operator API
// using the configured JWT secret.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/phrazzld/mailpipe/internal/auth"
	"github.com/phrazzld/mailpipe/internal/config"
)

func main() {
	subject := flag.String("subject", "", "operator identity recorded in the token")
	lifetime := flag.Duration("lifetime", 0, "token lifetime (defaults to auth.token_lifetime)")
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()

	if err := run(*subject, *lifetime, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "operator-token: %v\n", err)
		os.Exit(1)
	}
}

func run(subject string, lifetime time.Duration, configPath string) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	if lifetime <= 0 {
		lifetime = cfg.Auth.TokenLifetime
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, lifetime)
	if err != nil {
		return err
	}
	token, err := tokens.Generate(context.Background(), subject)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
