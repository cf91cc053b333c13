// Package config provides configuration loading, merging, and path management
// for sessiontail.
//
// # Configuration Loading
//
// The Load function searches for and merges configuration from multiple
// sources in priority order:
//
//  1. Built-in defaults
//  2. Global config (~/.config/sessiontail/ - XDG compatible)
//  3. Project config (<directory>/.sessiontail/)
//  4. SESSIONTAIL_CONFIG file
//  5. SESSIONTAIL_* environment variables
//
// Later sources override earlier ones; environment variables have the highest
// precedence.
//
// # Supported Formats
//
// Four file names are recognized in each config directory:
//   - sessiontail.json  - standard JSON
//   - sessiontail.jsonc - JSON with comments, processed using tidwall/jsonc
//   - sessiontail.yaml  - YAML
//   - sessiontail.yml   - YAML
//
// # Variable Interpolation
//
// Configuration files support two placeholder forms:
//   - {env:VAR_NAME} - expands to environment variable values
//   - {file:path}    - expands to file contents (escaped for JSON)
//
// File paths in {file:path} placeholders may be absolute, relative to the
// config file's directory, or home-relative (~/).
//
// # Environment Variable Overrides
//
//   - SESSIONTAIL_CLAUDE_DIR     - root of the session log tree
//   - SESSIONTAIL_STATE_DIR      - cursor and index persistence directory
//   - SESSIONTAIL_LOG_LEVEL      - zerolog level name
//   - SESSIONTAIL_PORT           - HTTP listen port
//   - SESSIONTAIL_CACHE_CAPACITY - per-session message cache size
//   - SESSIONTAIL_GRACE_TIMEOUT  - subscription teardown grace period
//   - SESSIONTAIL_CONFIG         - path to a specific config file
//
// # Path Management
//
// The Paths type provides XDG Base Directory compliant locations:
//   - Data:   ~/.local/share/sessiontail (XDG_DATA_HOME)
//   - Config: ~/.config/sessiontail     (XDG_CONFIG_HOME)
//   - Cache:  ~/.cache/sessiontail      (XDG_CACHE_HOME)
//   - State:  ~/.local/state/sessiontail (XDG_STATE_HOME)
//
// On Windows these fall back to APPDATA.
package config
