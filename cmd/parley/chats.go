package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	parley "github.com/parley-chat/parley-go"
	"github.com/spf13/cobra"
)

var (
	chatsJSONOutput bool

	chatsCreateType        string
	chatsCreateDescription string
)

func init() {
	chatsCmd.Flags().BoolVar(&chatsJSONOutput, "json", false, "output raw JSON")
	chatsCreateCmd.Flags().StringVar(&chatsCreateType, "type", string(parley.ChatChannel), "chat type (DIRECT, CHANNEL, THREAD, AI)")
	chatsCreateCmd.Flags().StringVar(&chatsCreateDescription, "description", "", "chat description")
	chatsCmd.AddCommand(chatsCreateCmd)
	rootCmd.AddCommand(chatsCmd)
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		chats, err := client.Chats.List(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if chatsJSONOutput {
			data, err := json.MarshalIndent(chats, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		if len(chats) == 0 {
			fmt.Println("No chats.")
			return nil
		}
		fmt.Printf("Chats (%d):\n", len(chats))
		for _, c := range chats {
			fmt.Printf("  %s  [%s] %s\n", c.ID, c.Type, c.Name)
		}
		return nil
	},
}

var chatsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		chat, err := client.Chats.Create(ctx, parley.Chat{
			Name:        args[0],
			Description: chatsCreateDescription,
			Type:        parley.ChatType(chatsCreateType),
		})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Chat created: %s\n", chat.ID)
		fmt.Printf("  Name: %s\n", chat.Name)
		fmt.Printf("  Type: %s\n", chat.Type)
		return nil
	},
}
