package main

import (
	"context"
	"fmt"
	"os"
	"time"

	parley "github.com/parley-chat/parley-go"
)

// storedTokenProvider serves the bearer token saved by 'parley login'.
// The identity provider's browser flow is not reachable from a terminal,
// so a refresh re-reads the stored token rather than minting a new one.
type storedTokenProvider struct{}

func (storedTokenProvider) Refresh(ctx context.Context) (parley.Token, error) {
	cfg, err := loadConfig()
	if err != nil {
		return parley.Token{}, err
	}
	if cfg.Auth.Token == "" {
		return parley.Token{}, parley.ErrInvalidGrant
	}
	exp := time.Now().Add(24 * time.Hour)
	if cfg.Auth.TokenExpires != "" {
		if t, err := time.Parse(time.RFC3339, cfg.Auth.TokenExpires); err == nil {
			exp = t
		}
	}
	return parley.Token{Value: cfg.Auth.Token, ExpiresAt: exp}, nil
}

func (storedTokenProvider) SignOut(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Auth = ConfigAuth{}
	return saveConfig(cfg)
}

// getClient creates a Parley client backed by the stored session.
func getClient() *parley.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'parley login <token>' first.")
		os.Exit(1)
	}

	supplier := parley.NewTokenSupplier(storedTokenProvider{}, parley.WithOnLogout(func() {
		fmt.Fprintln(os.Stderr, "Session expired. Run 'parley login <token>' again.")
	}))

	var opts []parley.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, parley.WithBaseURL(cfg.Default.BaseURL))
	}
	return parley.NewClient(supplier, opts...)
}
