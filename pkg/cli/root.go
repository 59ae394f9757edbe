package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command

	// Default names the subcommand run when no command is given, or when the
	// first argument is a flag
	Default string
	Out     io.Writer
}

// NewRootCommand creates the root command
func NewRootCommand(name, description string) *Command {
	return &Command{
		Name:        name,
		Description: description,
		Subcommands: make(map[string]*Command),
		Out:         os.Stdout,
	}
}

// Add registers a subcommand
func (c *Command) Add(sub *Command) {
	c.Subcommands[sub.Name] = sub
}

func isHelp(arg string) bool {
	switch strings.ToLower(arg) {
	case "-h", "--help", "help":
		return true
	}
	return false
}

// Execute dispatches args, without the program name, to a subcommand
func (c *Command) Execute(args []string) error {
	if len(args) > 0 && isHelp(args[0]) {
		return c.usage()
	}

	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		if def, ok := c.Subcommands[c.Default]; ok {
			return def.Run(args)
		}
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}
	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	out := c.Out
	if out == nil {
		out = os.Stdout
	}
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "%s\n\nCommands:\n", c.Description)
	for _, name := range names {
		marker := ""
		if name == c.Default {
			marker = " (default)"
		}
		fmt.Fprintf(out, "  %-15s %s%s\n", name, c.Subcommands[name].Description, marker)
	}
	return nil
}
