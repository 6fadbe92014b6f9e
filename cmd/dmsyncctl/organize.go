package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/dmsync/internal/api"
	"github.com/matheus3301/dmsync/internal/tui/client"
	"github.com/spf13/cobra"
)

var (
	filterClear      bool
	prefsReset       bool
	quickClearRecent bool
)

// toggleCmd builds the like, collect and follow commands.
func toggleCmd(kind, short string) *cobra.Command {
	return &cobra.Command{
		Use:   kind + " <message|post|comment|user> <id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				resp, err := c.Toggle(ctx, kind, args[0], args[1])
				if err != nil {
					return err
				}
				printResult(resp, func() {
					e := resp.Engagement
					state := "confirmed"
					if !resp.Confirmed {
						state = "rolled back"
					}
					switch kind {
					case "follow":
						fmt.Printf("%s: following=%v followers=%d\n", state, e.Following, e.FollowerCount)
					case "collect":
						fmt.Printf("%s: collected=%v\n", state, e.Collected)
					default:
						fmt.Printf("%s: liked=%v likes=%d\n", state, e.Liked, e.LikeCount)
					}
				})
				return nil
			})
		},
	}
}

var pinCmd = &cobra.Command{
	Use:   "pin <message-id>",
	Short: "Pin a message to quick access",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			changed, err := c.Pin(ctx, args[0])
			return printChanged(changed, "pinned", "already pinned", err)
		})
	},
}

var unpinCmd = &cobra.Command{
	Use:   "unpin <message-id>",
	Short: "Remove a message from the pinned list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			changed, err := c.Unpin(ctx, args[0])
			return printChanged(changed, "unpinned", "not pinned", err)
		})
	},
}

func printChanged(changed bool, yes, no string, err error) error {
	if err != nil {
		return err
	}
	printResult(api.ChangedResponse{Changed: changed}, func() {
		if changed {
			fmt.Println(yes)
			return
		}
		fmt.Println(no)
	})
	return nil
}

var quickCmd = &cobra.Command{
	Use:   "quick",
	Short: "Show pinned and recently viewed messages and active filters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			var (
				resp api.QuickAccessResponse
				err  error
			)
			if quickClearRecent {
				resp, err = c.SetFilter(ctx, api.SetFilterRequest{ClearRecent: true})
			} else {
				resp, err = c.QuickAccess(ctx)
			}
			if err != nil {
				return err
			}
			printQuickAccess(resp)
			return nil
		})
	},
}

var filterCmd = &cobra.Command{
	Use:   "filter [showPinned|showRecent|showImportant|showTodo]",
	Short: "Toggle a quick filter, or clear all with --clear",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := api.SetFilterRequest{Clear: filterClear}
		if len(args) == 1 {
			req.Name = args[0]
		}
		if req.Name == "" && !req.Clear {
			return fmt.Errorf("name a filter or pass --clear")
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.SetFilter(ctx, req)
			if err != nil {
				return err
			}
			printQuickAccess(resp)
			return nil
		})
	},
}

func printQuickAccess(resp api.QuickAccessResponse) {
	printResult(resp, func() {
		section := func(title string, items []api.Snapshot) {
			fmt.Printf("%s:\n", title)
			if len(items) == 0 {
				fmt.Println("  (none)")
			}
			for _, s := range items {
				fmt.Printf("  %s %s  %s\n", s.At.Format(time.DateTime), s.MessageID, s.Content)
			}
		}
		section("Pinned", resp.Pinned)
		section("Recent", resp.Recent)
		if len(resp.Filters) > 0 {
			fmt.Printf("Filters: %s\n", strings.Join(resp.Filters, ", "))
		}
	})
}

var markCmd = &cobra.Command{
	Use:   "mark <message-id> [important|urgent|todo|done]",
	Short: "Toggle a mark on a message, or list its marks",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mark := ""
		if len(args) == 2 {
			mark = args[1]
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Mark(ctx, args[0], mark)
			if err != nil {
				return err
			}
			printResult(resp, func() {
				if mark != "" {
					fmt.Printf("%s: %v\n", mark, resp.On)
				}
				fmt.Printf("marks: %s\n", strings.Join(resp.Marks, ", "))
			})
			return nil
		})
	},
}

var prefsCmd = &cobra.Command{
	Use:   "prefs [key value]",
	Short: "Show or change sort preferences",
	Long: "Show sort preferences, change one with a key and value, or restore\n" +
		"the defaults with --reset. Keys: defaultSort, boostCollected, boostMarked,\n" +
		"boostFromVIP, recencyWeight, importanceWeight, engagementWeight.",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("expected no arguments or a key and a value")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		req := api.SetPreferenceRequest{Reset: prefsReset}
		if len(args) == 2 {
			req.Key, req.Value = args[0], args[1]
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			p, err := c.SetPreference(ctx, req)
			if err != nil {
				return err
			}
			printResult(p, func() {
				fmt.Printf("defaultSort:      %s\n", p.DefaultSort)
				fmt.Printf("boostCollected:   %v\n", p.BoostCollected)
				fmt.Printf("boostMarked:      %v\n", p.BoostMarked)
				fmt.Printf("boostFromVIP:     %v\n", p.BoostFromVIP)
				fmt.Printf("recencyWeight:    %g\n", p.RecencyWeight)
				fmt.Printf("importanceWeight: %g\n", p.ImportanceWeight)
				fmt.Printf("engagementWeight: %g\n", p.EngagementWeight)
			})
			return nil
		})
	},
}

var suggestCmd = &cobra.Command{
	Use:   "suggest [partial]",
	Short: "Suggest search keywords from history and message content",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		partial := ""
		if len(args) == 1 {
			partial = args[0]
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			s, err := c.Suggestions(ctx, partial)
			if err != nil {
				return err
			}
			printResult(api.SuggestionsResponse{Suggestions: s}, func() {
				for _, k := range s {
					fmt.Println(k)
				}
			})
			return nil
		})
	},
}

func init() {
	filterCmd.Flags().BoolVar(&filterClear, "clear", false, "turn every filter off")
	quickCmd.Flags().BoolVar(&quickClearRecent, "clear-recent", false, "empty the recently viewed list first")
	prefsCmd.Flags().BoolVar(&prefsReset, "reset", false, "restore default preferences")

	rootCmd.AddCommand(
		toggleCmd("like", "Like or unlike a target"),
		toggleCmd("collect", "Collect or uncollect a target"),
		toggleCmd("follow", "Follow or unfollow a user"),
		pinCmd, unpinCmd, quickCmd, filterCmd, markCmd, prefsCmd, suggestCmd,
	)
}
