// internal/redirect/errors.go
//
// Typed errors for record construction and store mutations.
//
// Context
// -------
// Validation failures surface at save time to whoever is editing a rule,
// never during request matching.  A request that matches nothing is a nil
// record, not an error.  Callers branch with errors.Is / errors.As.
package redirect

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by mutations and loads that reference an id the
// store does not hold.
var ErrNotFound = errors.New("redirect: record not found")

// InvalidSourceError reports a malformed source path: empty, or carrying a
// fragment anchor.
type InvalidSourceError struct {
	Source string
	Reason string
}

func (e *InvalidSourceError) Error() string {
	return fmt.Sprintf("redirect: invalid source %q: %s", e.Source, e.Reason)
}

// SelfRedirectError reports a rule whose source resolves to its own target.
type SelfRedirectError struct {
	Source string
}

func (e *SelfRedirectError) Error() string {
	return fmt.Sprintf("redirect: source %q redirects to itself", e.Source)
}

// DuplicateError reports a write whose canonical hash collides with a
// different existing record.  ConflictID names that record so an editor can
// be pointed at it.
type DuplicateError struct {
	Hash       string
	ConflictID int64
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("redirect: hash %s already used by record %d", e.Hash, e.ConflictID)
}
