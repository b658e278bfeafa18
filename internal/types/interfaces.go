// internal/types/interfaces.go
package types

// SessionStore holds the bounded per-user conversation history.
// Every operation is total: none of them fail or perform I/O.
type SessionStore interface {
	Append(userID UserID, msg Message)
	Snapshot(userID UserID) []Message
	Clear(userID UserID)
	Stats() SessionStats
}
