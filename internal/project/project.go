// Package project maps project directories onto the on-disk session layout:
// one directory per project under the sessions root, one JSONL file per
// session inside it.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SessionFileSuffix is the fixed suffix of session log files.
const SessionFileSuffix = ".jsonl"

// subagentPrefix marks transcript files of short-lived delegated runs; they
// are not conversations and are skipped everywhere.
const subagentPrefix = "agent-"

// encodeCache stores encodings by directory; paths repeat constantly on the
// watch path and encoding is pure.
var (
	cacheMu     sync.RWMutex
	encodeCache = make(map[string]string)
)

// DefaultRoot returns the default sessions root (~/.claude).
func DefaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".claude")
}

// Encode turns an absolute project path into its directory name under the
// sessions root. Every "/" becomes "-", matching the observed layout for
// ordinary paths; any other byte outside [A-Za-z0-9_] is escaped as %XX so
// distinct paths can never collide.
func Encode(projectPath string) string {
	cacheMu.RLock()
	if enc, ok := encodeCache[projectPath]; ok {
		cacheMu.RUnlock()
		return enc
	}
	cacheMu.RUnlock()

	var b strings.Builder
	for i := 0; i < len(projectPath); i++ {
		c := projectPath[i]
		switch {
		case c == '/':
			b.WriteByte('-')
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	enc := b.String()

	cacheMu.Lock()
	encodeCache[projectPath] = enc
	cacheMu.Unlock()
	return enc
}

// Dir returns the sessions directory for a project.
func Dir(root, projectPath string) string {
	return filepath.Join(root, "projects", Encode(projectPath))
}

// SessionFile returns the log file path for a session within a project.
func SessionFile(root, projectPath, sessionID string) string {
	return filepath.Join(Dir(root, projectPath), sessionID+SessionFileSuffix)
}

// SessionIDFromFile extracts the session id from a log file path. It returns
// false for files outside the naming convention, including subagent
// transcripts.
func SessionIDFromFile(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, SessionFileSuffix) {
		return "", false
	}
	if strings.HasPrefix(base, subagentPrefix) {
		return "", false
	}
	id := strings.TrimSuffix(base, SessionFileSuffix)
	if id == "" {
		return "", false
	}
	return id, true
}

// Key identifies a session across projects; used for caches, dispatch and
// subscription bookkeeping.
func Key(projectPath, sessionID string) string {
	return Encode(projectPath) + "/" + sessionID
}
