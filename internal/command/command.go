// Package command implements the slash commands chat users can send to
// the relay instead of a query.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Command is one slash command.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Handler     CommandHandler
}

// CommandHandler executes a command with the text after its name.
type CommandHandler func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error)

// CommandContext identifies where a command came from.
type CommandContext struct {
	Platform  string
	ChannelID string
	UserID    string
	UserName  string
}

// CommandResult holds the output of a command.
type CommandResult struct {
	Content string `json:"content"`
	Data    any    `json:"data,omitempty"`
}

// Registry holds the registered commands by name and alias.
type Registry struct {
	commands map[string]*Command
	names    map[string]string
	mu       sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]*Command),
		names:    make(map[string]string),
	}
}

// Register adds cmd. A later command with the same name or alias wins.
func (r *Registry) Register(cmd *Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd.Name] = cmd
	r.names[cmd.Name] = cmd.Name
	for _, a := range cmd.Aliases {
		r.names[a] = cmd.Name
	}
}

// Parse splits "/name args" into its parts. ok is false when input is
// not a slash command.
func Parse(input string) (name, args string, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") || len(input) == 1 {
		return "", "", false
	}
	parts := strings.SplitN(input[1:], " ", 2)
	name = strings.ToLower(parts[0])
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}
	return name, args, true
}

// Dispatch runs the command named in input. Unknown commands produce a
// hint rather than an error.
func (r *Registry) Dispatch(ctx context.Context, input string, cc *CommandContext) (*CommandResult, error) {
	name, args, ok := Parse(input)
	if !ok {
		return nil, fmt.Errorf("not a command: %q", input)
	}

	r.mu.RLock()
	cmd, found := r.commands[r.names[name]]
	r.mu.RUnlock()
	if !found {
		return &CommandResult{
			Content: fmt.Sprintf("Unknown command: /%s. Type /help for available commands.", name),
		}, nil
	}
	return cmd.Handler(ctx, args, cc)
}

// List returns all registered commands sorted by name.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		result = append(result, cmd)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}
