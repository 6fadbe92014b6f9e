package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/dmsync/internal/api"
	"github.com/matheus3301/dmsync/internal/config"
	"github.com/matheus3301/dmsync/internal/lock"
	"github.com/matheus3301/dmsync/internal/session"
	"github.com/matheus3301/dmsync/internal/tui/client"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

var (
	presenceConversation string
	presenceReq          api.PresenceRequest
	cacheClear           bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connection state, queue and conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			printResult(st, func() {
				fmt.Printf("Session: %s\n", st.Session)
				fmt.Printf("User:    %s\n", st.UserID)
				fmt.Printf("State:   %s\n", st.State)
				if st.LatencyMS > 0 {
					fmt.Printf("Latency: %dms\n", st.LatencyMS)
				}
				if st.ActiveConversation != "" {
					fmt.Printf("Active:  %s\n", st.ActiveConversation)
				}
				fmt.Printf("Queued:  %d\n", st.Queued)
				fmt.Printf("Cached:  %d searches\n", st.CachedSearches)
				for _, conv := range st.Conversations {
					line := fmt.Sprintf("  %-24s unread=%d", conv.ID, conv.Unread)
					if len(conv.Typing) > 0 {
						line += " typing=" + strings.Join(conv.Typing, ",")
					}
					fmt.Println(line)
				}
			})
			return nil
		})
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Dial the relay",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			state, err := c.Connect(ctx)
			if err != nil {
				return err
			}
			printResult(api.StateResponse{State: state}, func() { fmt.Println(state) })
			return nil
		})
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Leave the active conversation and close the relay connection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			state, err := c.Disconnect(ctx)
			if err != nil {
				return err
			}
			printResult(api.StateResponse{State: state}, func() { fmt.Println(state) })
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Disconnect and clear messages, presence, queue and quick access",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			state, err := c.Logout(ctx)
			if err != nil {
				return err
			}
			printResult(api.StateResponse{State: state}, func() { fmt.Println("logged out") })
			return nil
		})
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Show cached remote searches, or empty the cache with --clear",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Cache(ctx, cacheClear)
			if err != nil {
				return err
			}
			printResult(resp, func() {
				if cacheClear {
					fmt.Printf("cleared %d entries\n", resp.Cleared)
					return
				}
				fmt.Printf("%d entries\n", resp.Size)
				for _, e := range resp.Entries {
					fmt.Printf("  %-48s results=%d age=%s\n", e.Key, e.Results, time.Duration(e.AgeMS)*time.Millisecond)
				}
			})
			return nil
		})
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Resend queued edits and messages now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Retry(ctx)
			if err != nil {
				return err
			}
			printResult(resp, func() {
				fmt.Printf("sent=%d retained=%d dropped=%d\n", resp.Sent, resp.Retained, resp.Dropped)
			})
			return nil
		})
	},
}

var presenceCmd = &cobra.Command{
	Use:   "presence [user-id...]",
	Short: "Show known presence, optionally with typing users of a conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := presenceReq
		req.UserIDs = args
		req.ConversationID = presenceConversation
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Presence(ctx, req)
			if err != nil {
				return err
			}
			printResult(resp, func() {
				for _, u := range resp.Users {
					line := fmt.Sprintf("%-20s %-8s %s", u.UserID, u.Status, u.LastSeen)
					if u.Message != "" {
						line += "  " + u.Message
					}
					fmt.Println(line)
				}
				if len(resp.Typing) > 0 {
					fmt.Printf("typing: %s\n", strings.Join(resp.Typing, ", "))
				}
			})
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [namespace...]",
	Short: "Stream daemon events, e.g. watch message. notify.",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := sessionName()
		if err != nil {
			return err
		}
		c, err := client.New(session.SocketPath(name))
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return c.Watch(ctx, args, func(evt api.Event) error {
			if jsonOutput {
				outputJSON(evt)
				return nil
			}
			fmt.Printf("%s %-32s %s\n", evt.At.Format(time.TimeOnly), evt.Kind, evt.Payload)
			return nil
		})
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List known sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := os.ReadDir(filepath.Join(session.BaseDir(), "sessions"))
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		type row struct {
			Name    string `json:"name"`
			Path    string `json:"path"`
			Running bool   `json:"running"`
			PID     int    `json:"pid,omitempty"`
		}
		var rows []row
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			dir := session.Dir(e.Name())
			pid, running := lock.Holder(dir)
			rows = append(rows, row{Name: e.Name(), Path: dir, Running: running, PID: pid})
		}
		printResult(rows, func() {
			if len(rows) == 0 {
				fmt.Println("No sessions found.")
				return
			}
			for _, r := range rows {
				state := "stopped"
				if r.Running {
					state = fmt.Sprintf("running, pid %d", r.PID)
				}
				fmt.Printf("%-20s %s (%s)\n", r.Name, r.Path, state)
			}
		})
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change session settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings of the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := sessionName()
		if err != nil {
			return err
		}
		s, err := session.Settings(name)
		if err != nil {
			return err
		}
		if s.Token != "" {
			s.Token = "********"
		}
		printResult(s, func() {
			fmt.Printf("session:          %s\n", name)
			fmt.Printf("relay_url:        %s\n", s.RelayURL)
			fmt.Printf("api_url:          %s\n", s.APIURL)
			fmt.Printf("user_id:          %s\n", s.UserID)
			fmt.Printf("user_name:        %s\n", s.UserName)
			fmt.Printf("token:            %s\n", s.Token)
			fmt.Printf("reconnect:        %s..%s, %d attempts\n", s.Reconnect.BaseDelay, s.Reconnect.MaxDelay, s.Reconnect.MaxAttempts)
			fmt.Printf("edit_retry:       %d attempts\n", s.EditRetry.MaxAttempts)
			fmt.Printf("search_cache_ttl: %s\n", s.SearchCacheTTL)
			if s.MetricsAddr != "" {
				fmt.Printf("metrics_addr:     %s\n", s.MetricsAddr)
			}
		})
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a session setting (relay_url, api_url, token, user_id, ...)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := sessionName()
		if err != nil {
			return err
		}
		path := session.ConfigPath()
		cfg, err := config.LoadOrEmpty(path)
		if err != nil {
			return err
		}
		s := cfg.Session(name)
		if err := setConfigValue(&s, args[0], args[1]); err != nil {
			return err
		}
		cfg.SetSession(name, s)
		if cfg.DefaultSession == "" {
			cfg.DefaultSession = name
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return err
		}
		if err := config.Save(path, cfg); err != nil {
			return err
		}
		fmt.Printf("%s.%s updated\n", name, args[0])
		return nil
	},
}

func setConfigValue(s *config.Session, key, value string) error {
	duration := func(d *config.Duration) error {
		return d.UnmarshalText([]byte(value))
	}
	integer := func(n *int) error {
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*n = v
		return nil
	}
	switch key {
	case "relay_url":
		s.RelayURL = value
	case "api_url":
		s.APIURL = value
	case "token":
		s.Token = value
	case "user_id":
		s.UserID = value
	case "user_name":
		s.UserName = value
	case "metrics_addr":
		s.MetricsAddr = value
	case "reconnect.base_delay":
		return duration(&s.Reconnect.BaseDelay)
	case "reconnect.max_delay":
		return duration(&s.Reconnect.MaxDelay)
	case "reconnect.max_attempts":
		return integer(&s.Reconnect.MaxAttempts)
	case "edit_retry.max_attempts":
		return integer(&s.EditRetry.MaxAttempts)
	case "search_cache_ttl":
		return duration(&s.SearchCacheTTL)
	default:
		keys := []string{
			"relay_url", "api_url", "token", "user_id", "user_name", "metrics_addr",
			"reconnect.base_delay", "reconnect.max_delay", "reconnect.max_attempts",
			"edit_retry.max_attempts", "search_cache_ttl",
		}
		sort.Strings(keys)
		return fmt.Errorf("unknown key %q (valid: %s)", key, strings.Join(keys, ", "))
	}
	return nil
}

var inviteCmd = &cobra.Command{
	Use:   "invite <conversation-id>",
	Short: "Print a QR code that opens the conversation on another client",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := sessionName()
		if err != nil {
			return err
		}
		s, err := session.Settings(name)
		if err != nil {
			return err
		}
		link := session.InviteLink(s.RelayURL, args[0])
		if jsonOutput {
			outputJSON(map[string]string{"link": link})
			return nil
		}
		qr, err := qrcode.New(link, qrcode.Low)
		if err != nil {
			return fmt.Errorf("generate QR code: %w", err)
		}
		fmt.Print(qr.ToSmallString(false))
		fmt.Println(link)
		return nil
	},
}

func init() {
	pf := presenceCmd.Flags()
	pf.StringVar(&presenceConversation, "conversation", "", "also list users typing in this conversation")
	pf.StringVar(&presenceReq.Status, "status", "", "only users with this status")
	pf.StringVar(&presenceReq.SetStatus, "set", "", "set your own status: online, away, busy, dnd or offline")
	pf.StringVar(&presenceReq.StatusMessage, "message", "", "status message to go with --set")
	cacheCmd.Flags().BoolVar(&cacheClear, "clear", false, "drop every cached search")

	configCmd.AddCommand(configShowCmd, configSetCmd)
	rootCmd.AddCommand(statusCmd, connectCmd, disconnectCmd, logoutCmd, retryCmd, presenceCmd, cacheCmd, watchCmd, sessionsCmd, configCmd, inviteCmd)
}
