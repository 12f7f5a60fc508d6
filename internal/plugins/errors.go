package plugins

import (
	"errors"
	"fmt"
	"strings"
)

// CycleError reports plugins whose dependencies form a cycle. Nothing is
// loaded when it is returned.
type CycleError struct {
	Plugins []string
}

func (e *CycleError) Error() string {
	return "plugins: dependency cycle among " + strings.Join(e.Plugins, ", ")
}

// IsCycle reports whether err is or wraps a *CycleError.
func IsCycle(err error) bool {
	var target *CycleError
	return errors.As(err, &target)
}

// Problem is one validation failure of one plugin.
type Problem struct {
	Plugin string
	Reason string
}

func (p Problem) String() string {
	return p.Plugin + ": " + p.Reason
}

// ValidationError aggregates every problem found across all plugins before
// anything is loaded.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	lines := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		lines[i] = p.String()
	}
	return fmt.Sprintf("plugins: %d validation problem(s): %s", len(e.Problems), strings.Join(lines, "; "))
}

// LoadError wraps the failure of a single plugin during load.
type LoadError struct {
	Plugin string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("plugins: load %s: %v", e.Plugin, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
