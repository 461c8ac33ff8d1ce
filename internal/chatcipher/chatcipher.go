// Package chatcipher shells out to an external utility to obscure chat
// transcripts before they reach the persistence layer. The utility takes a
// mode argument ("encrypt" or "decrypt") and the payload, and prints the
// result on stdout.
package chatcipher

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Codec encodes and decodes chat transcripts.
type Codec interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, blob string) (string, error)
}

// Command invokes an out-of-process cipher utility.
type Command struct {
	name string
	args []string
}

// New builds a Command from a shell-style command line, e.g.
// "python3 tools/chatcipher.py".
func New(cmdline string) *Command {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return &Command{}
	}
	return &Command{name: fields[0], args: fields[1:]}
}

func (c *Command) run(ctx context.Context, mode, payload string) (string, error) {
	if c.name == "" {
		return "", fmt.Errorf("chatcipher: no command configured")
	}
	args := append(append([]string{}, c.args...), mode, payload)
	out, err := exec.CommandContext(ctx, c.name, args...).Output()
	if err != nil {
		return "", fmt.Errorf("chatcipher %s: %w", mode, err)
	}
	// The utility terminates its output with a newline.
	return strings.TrimRight(string(out), "\r\n"), nil
}

func (c *Command) Encrypt(ctx context.Context, plaintext string) (string, error) {
	return c.run(ctx, "encrypt", plaintext)
}

func (c *Command) Decrypt(ctx context.Context, blob string) (string, error) {
	if blob == "" {
		return "", nil
	}
	return c.run(ctx, "decrypt", blob)
}

// Plain stores transcripts as-is. Used in tests and when no cipher command
// is configured.
type Plain struct{}

func (Plain) Encrypt(ctx context.Context, plaintext string) (string, error) { return plaintext, nil }
func (Plain) Decrypt(ctx context.Context, blob string) (string, error)      { return blob, nil }
