package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/dmsync/internal/session"
	"github.com/matheus3301/dmsync/internal/tui/client"
	"github.com/spf13/cobra"
)

var (
	sessionFlag string
	jsonOutput  bool
	timeout     time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "dmsyncctl",
	Short: "Control a running dmsync daemon",
	Long: "Command-line interface for a dmsync session daemon.\n" +
		"Send and edit messages, manage quick access and sorting, and watch events.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "session name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func sessionName() (string, error) {
	name := session.Resolve(sessionFlag)
	if err := session.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// withClient connects to the session daemon and runs fn with a request
// context bounded by --timeout.
func withClient(fn func(ctx context.Context, c *client.Client) error) error {
	name, err := sessionName()
	if err != nil {
		return err
	}
	c, err := client.New(session.SocketPath(name))
	if err != nil {
		return fmt.Errorf("cannot connect to daemon for session %q: %w", name, err)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return fn(ctx, c)
}

// printResult writes v as JSON with --json, otherwise calls human.
func printResult(v any, human func()) {
	if jsonOutput {
		outputJSON(v)
		return
	}
	human()
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
