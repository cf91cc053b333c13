// Package tracker owns the read cursor for one session log file and turns
// appended bytes into parsed events, exactly once each.
package tracker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sessiontail/sessiontail/internal/logging"
	"github.com/sessiontail/sessiontail/internal/parser"
	"github.com/sessiontail/sessiontail/internal/retry"
	"github.com/sessiontail/sessiontail/pkg/types"
)

// Tracker reads a session file incrementally. The cursor only ever advances
// past fully terminated lines; a trailing line still missing its terminator
// is left for a later read. All file access goes through the retry layer.
type Tracker struct {
	mu        sync.Mutex
	path      string
	sessionID string
	offset    int64
	modTime   time.Time
	policy    retry.Policy
	log       zerolog.Logger
}

// New creates a tracker for one session file, starting at offset zero.
func New(path, sessionID string, policy retry.Policy) *Tracker {
	return &Tracker{
		path:      path,
		sessionID: sessionID,
		policy:    policy,
		log:       logging.For("tracker").With().Str("session", sessionID).Logger(),
	}
}

// chunk is the raw result of one file read.
type chunk struct {
	lines     [][]byte
	consumed  int64
	size      int64
	modTime   time.Time
	truncated bool
}

// readFrom reads complete lines from offset up to the file size observed at
// open time. Bytes past the last terminator are not consumed; content still
// being appended is picked up whole on a later call.
func readFrom(path string, offset int64) (chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return chunk{}, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return chunk{}, err
	}

	c := chunk{size: fi.Size(), modTime: fi.ModTime()}

	start := offset
	if c.size < offset {
		// File shrank under us: everything from the top is new again.
		c.truncated = true
		start = 0
	}
	if c.size == start {
		return c, nil
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return chunk{}, err
	}

	r := bufio.NewReader(io.LimitReader(f, c.size-start))
	for {
		line, err := r.ReadBytes('\n')
		if err == nil {
			c.consumed += int64(len(line))
			c.lines = append(c.lines, bytes.TrimRight(line, "\r\n"))
			continue
		}
		if errors.Is(err, io.EOF) {
			// Partial trailing line: leave it unconsumed.
			return c, nil
		}
		return chunk{}, err
	}
}

// ReadNew returns events appended since the last call, advancing the cursor
// past every fully consumed line (parse failures included; their bytes are
// gone either way). Detected truncation resets the cursor and re-reads from
// the top.
func (t *Tracker) ReadNew(ctx context.Context) ([]types.SessionEvent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, err := retry.DoValue(ctx, t.policy, func() (chunk, error) {
		return readFrom(t.path, t.offset)
	})
	if err != nil {
		return nil, err
	}

	if c.truncated {
		t.log.Warn().
			Int64("cursor", t.offset).
			Int64("size", c.size).
			Msg("session file truncated, re-reading from start")
		t.offset = 0
	}

	t.offset += c.consumed
	t.modTime = c.modTime

	if len(c.lines) == 0 {
		return nil, nil
	}
	return parser.ParseAll(c.lines), nil
}

// ReadAll re-reads the whole file without touching the incremental cursor.
// Used for history loads.
func (t *Tracker) ReadAll(ctx context.Context) ([]types.SessionEvent, error) {
	c, err := retry.DoValue(ctx, t.policy, func() (chunk, error) {
		return readFrom(t.path, 0)
	})
	if err != nil {
		return nil, err
	}
	return parser.ParseAll(c.lines), nil
}

// CountLines returns the number of complete lines currently in the file.
func (t *Tracker) CountLines(ctx context.Context) (int, error) {
	c, err := retry.DoValue(ctx, t.policy, func() (chunk, error) {
		return readFrom(t.path, 0)
	})
	if err != nil {
		return 0, err
	}
	return len(c.lines), nil
}

// State snapshots the cursor for persistence.
func (t *Tracker) State() types.TrackerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return types.TrackerState{
		SessionID: t.sessionID,
		Path:      t.path,
		Offset:    t.offset,
		ModTime:   t.modTime,
	}
}

// Restore adopts a persisted cursor. A stale offset beyond the current file
// size is harmless: the next read detects it as truncation.
func (t *Tracker) Restore(state types.TrackerState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state.Offset > 0 {
		t.offset = state.Offset
	}
	if !state.ModTime.IsZero() {
		t.modTime = state.ModTime
	}
}

// Path returns the tracked file path.
func (t *Tracker) Path() string {
	return t.path
}

// SessionID returns the session this tracker belongs to.
func (t *Tracker) SessionID() string {
	return t.sessionID
}
