package main

import (
	"context"
	"fmt"
	"time"

	parley "github.com/parley-chat/parley-go"
	"github.com/spf13/cobra"
)

var searchTypes []string

func init() {
	searchCmd.Flags().StringSliceVar(&searchTypes, "types", []string{string(parley.SearchMessages)}, "search domains (MESSAGE, FILE, USER, AI)")
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search messages, files, and users",
	Long:  "Search the backend. A query ending in a space also routes to AI-assisted search.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		types := make([]parley.SearchType, 0, len(searchTypes))
		for _, t := range searchTypes {
			types = append(types, parley.SearchType(t))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		results, err := client.Search(ctx, args[0], types)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if len(results.Messages) == 0 && len(results.Users) == 0 {
			fmt.Println("No results.")
			return nil
		}
		if len(results.Messages) > 0 {
			fmt.Printf("Messages (%d):\n", len(results.Messages))
			for _, hit := range results.Messages {
				fmt.Printf("  [%s] %s: %s\n", hit.Message.SentAt.Format(time.RFC3339), hit.Sender.Username, hit.Message.Content)
			}
		}
		if len(results.Users) > 0 {
			fmt.Printf("Users (%d):\n", len(results.Users))
			for _, u := range results.Users {
				online := ""
				if u.IsOnline {
					online = " (online)"
				}
				fmt.Printf("  %s  %s%s\n", u.ID, u.Username, online)
			}
		}
		return nil
	},
}
