package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	parley "github.com/parley-chat/parley-go"
	"github.com/spf13/cobra"
)

var tailRaw bool

func init() {
	tailCmd.Flags().BoolVar(&tailRaw, "raw", false, "print raw event payloads")
	rootCmd.AddCommand(tailCmd)
}

var tailCmd = &cobra.Command{
	Use:   "tail <chat-id>",
	Short: "Stream live events from a chat until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID := args[0]
		client := getClient()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		session := parley.NewStreamSession(client)
		defer session.Cleanup()

		err := session.Subscribe(ctx, chatID, func(ev parley.ChatEvent) {
			if tailRaw {
				fmt.Printf("%s %s\n", ev.Type, ev.Raw)
				return
			}
			switch ev.Type {
			case parley.EventNewMessage:
				msg, err := ev.Message()
				if err != nil {
					fmt.Printf("[%s] undecodable message: %v\n", ev.Type, err)
					return
				}
				fmt.Printf("[%s] %s: %s\n", msg.SentAt.Format(time.RFC3339), msg.SenderID, msg.Content)
			case parley.EventOnlineUsers, parley.EventPresenceUpdate:
				ids, err := ev.UserIDs()
				if err != nil {
					fmt.Printf("[%s] undecodable payload: %v\n", ev.Type, err)
					return
				}
				fmt.Printf("[presence] %d online: %v\n", len(ids), ids)
			default:
				fmt.Printf("[%s]\n", ev.Type)
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe failed: %w", err)
		}

		fmt.Printf("Tailing chat %s (Ctrl-C to stop)...\n", chatID)
		<-ctx.Done()
		return nil
	},
}
