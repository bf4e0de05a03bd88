package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(whoamiCmd)
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current user profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		me, err := client.Users.Me(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("User ID:     %s\n", me.ID)
		fmt.Printf("Username:    %s\n", me.Username)
		fmt.Printf("Email:       %s\n", me.Email)
		fmt.Printf("Last Active: %s\n", me.LastActive.Format(time.RFC3339))
		return nil
	},
}
