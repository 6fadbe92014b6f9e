package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/dmsync/internal/api"
	"github.com/matheus3301/dmsync/internal/tui/client"
	"github.com/spf13/cobra"
)

var listReq api.ListMessagesRequest

var openCmd = &cobra.Command{
	Use:   "open <conversation-id>",
	Short: "Make a conversation active and join its room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.OpenConversation(ctx, args[0])
			if err != nil {
				return err
			}
			printResult(resp, func() {
				if !resp.Joined {
					fmt.Println("opened offline, join will be sent on reconnect")
				}
				printMessages(resp.Messages)
			})
			return nil
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <text...>",
	Short: "Send a message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Send(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			printResult(resp, func() {
				state := "sent"
				if resp.Queued {
					state = "queued"
				}
				fmt.Printf("%s %s\n", resp.Message.ID, state)
			})
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list <conversation-id>",
	Short: "List, search and sort the messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := listReq
		req.ConversationID = args[0]
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.ListMessages(ctx, req)
			if err != nil {
				return err
			}
			printResult(resp, func() {
				if resp.Cached {
					fmt.Println("(cached)")
				}
				printMessages(resp.Messages)
			})
			return nil
		})
	},
}

var viewCmd = &cobra.Command{
	Use:   "view <message-id>",
	Short: "Show one message and record it as recently viewed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			m, err := c.ViewMessage(ctx, args[0])
			if err != nil {
				return err
			}
			printResult(m, func() {
				printMessages([]api.Message{m})
				if m.EditCount > 0 {
					fmt.Printf("edited %d times, last %s\n", m.EditCount, m.LastEditedAt.Format(time.DateTime))
				}
			})
			return nil
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <conversation-id> <message-id>",
	Short: "Send a read receipt",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			sent, err := c.MarkRead(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			printResult(api.SentResponse{Sent: sent}, func() { fmt.Println(sentLabel(sent)) })
			return nil
		})
	},
}

var typingCmd = &cobra.Command{
	Use:   "typing <conversation-id> <on|off>",
	Short: "Send a typing indicator",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		on, err := parseOnOff(args[1])
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			sent, err := c.Typing(ctx, args[0], on)
			if err != nil {
				return err
			}
			printResult(api.SentResponse{Sent: sent}, func() { fmt.Println(sentLabel(sent)) })
			return nil
		})
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <message-id> <text...>",
	Short: "Edit one of your messages",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Edit(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			printEdit(resp)
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <message-id>",
	Short: "Forget a message locally and drop its queued frames",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			printResult(resp, func() {
				fmt.Printf("deleted, %d queued frames dropped\n", resp.DroppedFrames)
			})
			return nil
		})
	},
}

var recallCmd = &cobra.Command{
	Use:   "recall <message-id>",
	Short: "Recall one of your messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			queued, err := c.Recall(ctx, args[0])
			if err != nil {
				return err
			}
			printResult(api.QueuedResponse{Queued: queued}, func() {
				if queued {
					fmt.Println("recalled locally, request queued")
					return
				}
				fmt.Println("recalled")
			})
			return nil
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <message-id>",
	Short: "Show the edit history of a message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			versions, err := c.History(ctx, args[0])
			if err != nil {
				return err
			}
			printResult(api.HistoryResponse{Versions: versions}, func() {
				for _, v := range versions {
					fmt.Printf("v%-3d %s  %s\n", v.Version, v.EditedAt.Format(time.DateTime), v.Content)
				}
			})
			return nil
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <message-id> <version>",
	Short: "Restore a message to an earlier version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := strconv.Atoi(strings.TrimPrefix(args[1], "v"))
		if err != nil {
			return fmt.Errorf("version: %w", err)
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Restore(ctx, args[0], version)
			if err != nil {
				return err
			}
			printEdit(resp)
			return nil
		})
	},
}

func printEdit(resp api.EditResponse) {
	printResult(resp, func() {
		switch {
		case !resp.Changed:
			fmt.Println("unchanged")
		case resp.Queued:
			fmt.Printf("applied locally as version %d, edit queued\n", resp.Version)
		default:
			fmt.Printf("version %d\n", resp.Version)
		}
	})
}

func printMessages(msgs []api.Message) {
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return
	}
	for _, m := range msgs {
		sender := m.SenderName
		if sender == "" {
			sender = m.SenderID
		}
		var flags []string
		if m.EditCount > 0 {
			flags = append(flags, "edited")
		}
		if m.IsRecalled {
			flags = append(flags, "recalled")
		}
		if m.Liked {
			flags = append(flags, "liked")
		}
		if m.Collected {
			flags = append(flags, "collected")
		}
		suffix := ""
		if len(flags) > 0 {
			suffix = " [" + strings.Join(flags, ",") + "]"
		}
		fmt.Printf("%s %-12s %-10s %s%s\n", m.CreatedAt.Format("01-02 15:04"), sender, m.Status, m.Content, suffix)
		fmt.Printf("    %s\n", m.ID)
	}
}

func sentLabel(sent bool) string {
	if sent {
		return "sent"
	}
	return "not sent"
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func init() {
	f := listCmd.Flags()
	f.StringVar(&listReq.Keyword, "keyword", "", "match content or sender")
	f.StringVar(&listReq.Sort, "sort", "", "recency, oldest, importance, alphabetical, engagement, relevance")
	f.StringVar(&listReq.SenderID, "sender", "", "only messages from this user id")
	f.StringVar(&listReq.Type, "type", "", "only messages of this type")
	f.StringVar(&listReq.Status, "status", "", "only messages with this status")
	f.BoolVar(&listReq.Unread, "unread", false, "only unread messages")
	f.StringVar(&listReq.Since, "since", "", "only messages newer than this duration, e.g. 24h")
	f.BoolVar(&listReq.Remote, "remote", false, "search on the server instead of locally")

	rootCmd.AddCommand(openCmd, sendCmd, listCmd, viewCmd, readCmd, typingCmd, editCmd, recallCmd, deleteCmd, historyCmd, restoreCmd)
}
