// Package llm defines the completion provider boundary.
package llm

import "context"

// Completer generates an answer from a system instruction and a prompt.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}
