package tui

import "strings"

// Command represents a parsed prompt command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command string, with or without the leading ':'.
// Aliases are folded into their full name.
func ParseCommand(input string) Command {
	input = strings.TrimPrefix(strings.TrimSpace(input), ":")
	name, args, _ := strings.Cut(strings.TrimSpace(input), " ")
	cmd := Command{Name: strings.ToLower(name), Args: strings.TrimSpace(args)}
	switch cmd.Name {
	case "q", "exit":
		cmd.Name = "quit"
	case "o":
		cmd.Name = "open"
	case "h":
		cmd.Name = "help"
	case "del", "rm":
		cmd.Name = "delete"
	}
	return cmd
}
