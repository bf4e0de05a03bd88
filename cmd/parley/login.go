package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var loginExpires string

func init() {
	loginCmd.Flags().StringVar(&loginExpires, "expires", "", "token expiry (RFC 3339)")
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Store a bearer token in ~/.parley/config.toml",
	Long:  "Store an already-issued bearer token for the Parley backend.\nThe token is validated by fetching the current user profile.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Auth.Token = token
		cfg.Auth.TokenExpires = loginExpires
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		me, err := client.Users.Me(ctx)
		if err != nil {
			return fmt.Errorf("token rejected: %w", err)
		}

		cfg, err = loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Auth.UserID = me.ID
		cfg.Auth.Username = me.Username
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Logged in as %s. Token saved to %s\n", me.Username, path)
		return nil
	},
}
