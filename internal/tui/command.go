package tui

import (
	"strings"

	"github.com/matheus3301/dmsync/internal/api"
)

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command string (without the leading ':').
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}

// sortCycle is the order the 'o' key steps through. The empty entry
// returns to the preferred strategy.
var sortCycle = []string{"", "recency", "oldest", "importance", "engagement", "alphabetical"}

func nextSort(current string) string {
	for i, s := range sortCycle {
		if s == current {
			return sortCycle[(i+1)%len(sortCycle)]
		}
	}
	return sortCycle[0]
}

// filterRequest maps ":filter <name>" and ":filter off" to a request.
func filterRequest(args string) api.SetFilterRequest {
	switch args {
	case "", "off", "clear", "none":
		return api.SetFilterRequest{Clear: true}
	}
	return api.SetFilterRequest{Name: args}
}
