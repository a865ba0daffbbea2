package toolbus

import "time"

// Config drives which built-ins are enabled and their safety limits,
// mirroring original_source/app/tools_bus.py's per-feature TOOLS_ALLOW_*
// and TOOLS_*_* settings (spec §4.8).
type Config struct {
	// Allowlist names are added to the names enabled by the per-feature
	// toggles below; the effective allowlist is the union of both (spec
	// §4.8: "union of explicitly allowlisted names and names enabled by
	// feature toggles").
	Allowlist []string

	AllowShell       bool
	ShellAllowedCmds []string
	ShellCWD         string
	ShellTimeout     time.Duration

	AllowFS      bool
	AllowFSWrite bool
	FSRoots      []string
	FSMaxBytes   int64

	AllowHTTPFetch   bool
	HTTPAllowedHosts []string
	HTTPMaxBytes     int64
	HTTPTimeout      time.Duration

	AllowGit bool
	GitCWD   string
	GitTimeout time.Duration

	// MaxOutputChars bounds stdout/stderr captured per invocation before
	// it is returned or logged (spec §4.8 step 4: "truncate to configured
	// max chars").
	MaxOutputChars int

	// LogPath is the NDJSON append log. Empty disables it.
	LogPath string
	// ReplayDir, if set, writes one JSON file per invocation named by
	// replay_id, backing GET /v1/tools/replay/{replay_id}.
	ReplayDir string
}

func DefaultConfig() Config {
	return Config{
		ShellTimeout:   30 * time.Second,
		FSMaxBytes:     1 << 20,
		HTTPMaxBytes:   1 << 20,
		HTTPTimeout:    15 * time.Second,
		GitTimeout:     15 * time.Second,
		MaxOutputChars: 20000,
	}
}

// effectiveAllowlist implements the union rule from spec §4.8.
func (c Config) effectiveAllowlist() map[string]bool {
	allowed := make(map[string]bool, len(c.Allowlist)+4)
	for _, name := range c.Allowlist {
		allowed[name] = true
	}
	if c.AllowShell {
		allowed["shell"] = true
	}
	if c.AllowFS {
		allowed["read_file"] = true
		allowed["write_file"] = true
	}
	if c.AllowHTTPFetch {
		allowed["http_fetch"] = true
	}
	if c.AllowGit {
		allowed["git"] = true
	}
	return allowed
}
