// Package namederive computes the deterministic session name from a
// project path (spec §4.2): "hal-9000-<basename>-<hash8>".
package namederive

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	nonSlug   = regexp.MustCompile(`[^a-z0-9_-]+`)
	dashRuns  = regexp.MustCompile(`-+`)
	underRuns = regexp.MustCompile(`_+`)
)

// Derive returns "hal-9000-<basename>-<hash8>" for an already-canonical
// absolute project path. Deterministic: the same path always yields the
// same name; different paths are collision-resistant to within the
// birthday bound of 8 hex chars (spec §4.2, acceptable for per-user
// session counts).
func Derive(canonicalAbsPath string) string {
	base := basenameSlug(canonicalAbsPath)
	hash := hash8(canonicalAbsPath)
	return "hal-9000-" + base + "-" + hash
}

func basenameSlug(p string) string {
	trimmed := strings.TrimRight(p, "/")
	idx := strings.LastIndex(trimmed, "/")
	base := trimmed
	if idx >= 0 {
		base = trimmed[idx+1:]
	}
	base = strings.ToLower(base)
	base = nonSlug.ReplaceAllString(base, "-")
	base = dashRuns.ReplaceAllString(base, "-")
	base = underRuns.ReplaceAllString(base, "_")
	base = strings.Trim(base, "-_")
	if base == "" {
		base = "project"
	}
	return base
}

func hash8(p string) string {
	sum := sha256.Sum256([]byte(p))
	return hex.EncodeToString(sum[:])[:8]
}
