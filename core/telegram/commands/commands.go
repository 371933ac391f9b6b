// Package commands describes menu entries a bot understands.
package commands

// Command is the metadata of one menu entry. Aliases are literal texts that
// resolve to the same command, typically reply keyboard labels.
type Command struct {
	Description string
	Hidden      bool
	Aliases     []string
}
