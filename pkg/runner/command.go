// Package runner invokes external executables with uniform logging and
// outcome classification.
package runner

import (
	"strings"
)

// Command is an external invocation: an executable and its argument vector.
// Arguments are passed to the process verbatim, never through a shell.
type Command struct {
	Name string
	Args []string
}

// New creates a command for the named executable.
func New(name string, args ...string) Command {
	return Command{Name: name, Args: append([]string(nil), args...)}
}

// Arg returns a copy of c with args appended.
func (c Command) Arg(args ...string) Command {
	out := Command{Name: c.Name, Args: make([]string, 0, len(c.Args)+len(args))}
	out.Args = append(out.Args, c.Args...)
	out.Args = append(out.Args, args...)
	return out
}

// Flag returns a copy of c with a flag and its values appended.
func (c Command) Flag(flag string, values ...string) Command {
	return c.Arg(append([]string{flag}, values...)...)
}

// Params returns a copy of c with a free-form parameter string from the run
// configuration split on whitespace and appended. There is no quoting: a
// single argument cannot contain spaces.
func (c Command) Params(params string) Command {
	return c.Arg(strings.Fields(params)...)
}

// Argv returns the full argument vector including the executable.
func (c Command) Argv() []string {
	return append([]string{c.Name}, c.Args...)
}

// String renders the command as a shell-quoted line for the run log.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	for _, a := range c.Argv() {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

const safeChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_./=:,+@%"

func quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !strings.ContainsRune(safeChars, r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
