// Package state provides the in-memory session store and the small
// file- and SQLite-backed stores that sit beside it.
package state

import "github.com/user/gptrelay/internal/types"

// Compile-time interface compliance checks.
var _ types.SessionStore = (*SessionStore)(nil)
