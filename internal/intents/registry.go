// Package intents hosts the action-intent registry. Action intents are
// multi-turn executors (transfers, downloads, account actions) that can claim
// a turn before retrieval runs. Handlers are registered explicitly at startup
// under a fixed name, so the wiring is statically verifiable.
package intents

import (
	"context"
	"fmt"
)

const (
	// FlagExecuted marks a turn an action intent completed successfully.
	FlagExecuted = "EXECUTED"
	// FlagError marks a turn an action intent claimed but failed to finish.
	FlagError = "ERROR"
)

// Result is what a handler reports back for one turn.
type Result struct {
	// Handled means the handler claimed the turn; its Answer is final.
	Handled bool
	// InFlight keeps the handler attached to the session for the next turn.
	InFlight bool
	// ResetSession asks the orchestrator to drop the session history, used
	// by intents that end a logical conversation.
	ResetSession bool

	Answer string
	Intent string
	Flag   string
}

// Handler executes one action intent. TryHandle decides whether a fresh turn
// starts this intent; Resume continues a multi-turn exchange this handler
// already claimed.
type Handler interface {
	Name() string
	TryHandle(ctx context.Context, sessionID, query string) (Result, error)
	Resume(ctx context.Context, sessionID, query string) (Result, error)
}

// Registry holds handlers in registration order. Detection probes them in
// that order and the first claim wins.
type Registry struct {
	order    []string
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(handler Handler) error {
	name := handler.Name()
	if name == "" {
		return fmt.Errorf("intents: handler with empty name")
	}
	if _, ok := r.handlers[name]; ok {
		return fmt.Errorf("intents: duplicate handler %q", name)
	}
	r.handlers[name] = handler
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Resolve(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Detect offers the turn to every handler in registration order and returns
// the first claim. A handler error skips that handler, it never fails the
// turn.
func (r *Registry) Detect(ctx context.Context, sessionID, query string) (Result, string, error) {
	var lastErr error
	for _, name := range r.order {
		result, err := r.handlers[name].TryHandle(ctx, sessionID, query)
		if err != nil {
			lastErr = fmt.Errorf("intent %s: %w", name, err)
			continue
		}
		if result.Handled || result.InFlight {
			if result.Intent == "" {
				result.Intent = name
			}
			return result, name, nil
		}
	}
	return Result{}, "", lastErr
}
