// Package types provides the core data types shared across sessiontail.
package types

import "time"

// SessionInfo describes one discovered session log file. Usage is the
// aggregate token consumption of the assembled messages; it is only known
// once the session has been read.
type SessionInfo struct {
	ID           string      `json:"id"`
	Path         string      `json:"path"`
	MessageCount int         `json:"messageCount"`
	FirstAt      time.Time   `json:"firstAt,omitzero"`
	LastAt       time.Time   `json:"lastAt,omitzero"`
	Summary      string      `json:"summary,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// TrackerState is the persistable read cursor of one session file. The
// offset only ever advances, except on detected truncation which resets it
// to zero.
type TrackerState struct {
	SessionID string    `json:"sessionID"`
	Path      string    `json:"path"`
	Offset    int64     `json:"offset"`
	ModTime   time.Time `json:"modTime,omitzero"`
}
