// Package allowlist loads the ImageAllowlist (spec §3): an ordered,
// immutable-at-runtime list of full image references workers may run.
// check_image_ref (internal/validator) requires a byte-for-byte match
// against an entry here — never a prefix or glob.
package allowlist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hellblazer/hal-9000/internal/orcherr"
)

// Allowlist is the immutable, ordered set of permitted worker image refs.
type Allowlist struct {
	entries []string
}

// defaultEntries ships one pinned image per profile (spec GLOSSARY: base,
// python, node, java), named after the worker image family used throughout
// the CLI surface examples in spec §8 (ghcr.io/hellblazer/hal-9000).
var defaultEntries = []string{
	"ghcr.io/hellblazer/hal-9000:worker-base",
	"ghcr.io/hellblazer/hal-9000:worker-python",
	"ghcr.io/hellblazer/hal-9000:worker-node",
	"ghcr.io/hellblazer/hal-9000:worker-java",
}

// Load reads $home/allowlist.json (a JSON array of strings) if present,
// falling back to the built-in defaults. The allowlist is loaded exactly
// once, at bootstrap (spec §3); callers must not mutate the result.
func Load(home string) (*Allowlist, error) {
	path := filepath.Join(home, "allowlist.json")
	// #nosec G304 -- path is derived from HAL9000_HOME, a trusted local setting.
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Allowlist{entries: append([]string(nil), defaultEntries...)}, nil
		}
		return nil, orcherr.New(orcherr.Internal, "allowlist.Load", err)
	}
	var entries []string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, orcherr.New(orcherr.Internal, "allowlist.Load", err)
	}
	if len(entries) == 0 {
		return nil, orcherr.New(orcherr.Internal, "allowlist.Load", fmt.Errorf("allowlist at %s is empty", path))
	}
	return &Allowlist{entries: entries}, nil
}

// FromEntries builds an Allowlist from an explicit slice, bypassing Load's
// filesystem lookup. Used by tests that need a deterministic allowlist.
func FromEntries(entries []string) *Allowlist {
	return &Allowlist{entries: append([]string(nil), entries...)}
}

// Entries returns the ordered allowlist. The returned slice must not be mutated.
func (a *Allowlist) Entries() []string { return a.entries }

// Default returns the first allowlist entry, used as WORKER_IMAGE's default (spec §6).
func (a *Allowlist) Default() string {
	if len(a.entries) == 0 {
		return ""
	}
	return a.entries[0]
}

// Contains reports whether ref is present, byte-for-byte.
func (a *Allowlist) Contains(ref string) bool {
	for _, e := range a.entries {
		if e == ref {
			return true
		}
	}
	return false
}

// ForProfile resolves the image-ref for a profile name by matching the
// "worker-<profile>" suffix convention used by defaultEntries; callers with
// a custom allowlist.json must set WORKER_IMAGE explicitly instead.
func (a *Allowlist) ForProfile(profile string) (string, bool) {
	suffix := "worker-" + profile
	for _, e := range a.entries {
		if hasImageSuffix(e, suffix) {
			return e, true
		}
	}
	return "", false
}

func hasImageSuffix(ref, suffix string) bool {
	// Match on the tag portion only (after the last ':'), ignoring any digest.
	if at := indexByte(ref, '@'); at >= 0 {
		ref = ref[:at]
	}
	tagStart := -1
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == ':' {
			tagStart = i + 1
			break
		}
		if ref[i] == '/' {
			break
		}
	}
	if tagStart < 0 {
		return false
	}
	tag := ref[tagStart:]
	return tag == suffix
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
