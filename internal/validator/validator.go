// Package validator is the boundary between untrusted caller input (CLI
// arguments forwarded by the front-end) and the container engine. Every
// value that ends up in an engine-command argument passes through one of
// these checks first (spec §4.1); the rest of the orchestrator assumes
// validated inputs.
package validator

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hellblazer/hal-9000/internal/orcherr"
)

var (
	workerNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	profileRe    = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)
)

// KnownProfiles is the profile set from the Worker data model (spec §3).
var KnownProfiles = map[string]bool{
	"base":   true,
	"python": true,
	"node":   true,
	"java":   true,
}

var blockedRoots = []string{"/proc", "/sys", "/dev", "/etc", "/boot", "/root"}

// CheckWorkerName accepts iff s matches ^[a-zA-Z0-9_-]+$ and is non-empty.
func CheckWorkerName(s string) error {
	if s == "" || !workerNameRe.MatchString(s) {
		return orcherr.New(orcherr.InvalidArgument, "validator.CheckWorkerName",
			fmt.Errorf("invalid worker name %q: must match %s", s, workerNameRe.String()))
	}
	return nil
}

// CheckImageRef accepts iff s equals, byte-for-byte, some entry of allowlist.
// The match is not prefix, not glob.
func CheckImageRef(s string, allowlist []string) error {
	for _, entry := range allowlist {
		if s == entry {
			return nil
		}
	}
	return orcherr.New(orcherr.PolicyDenied, "validator.CheckImageRef",
		fmt.Errorf("image ref %q is not in the allowlist", s))
}

// CheckProfile accepts iff s matches ^[a-zA-Z0-9-]+$ and is a known profile.
func CheckProfile(s string) error {
	if s == "" || !profileRe.MatchString(s) {
		return orcherr.New(orcherr.InvalidArgument, "validator.CheckProfile",
			fmt.Errorf("invalid profile %q: must match %s", s, profileRe.String()))
	}
	if !KnownProfiles[s] {
		return orcherr.New(orcherr.InvalidArgument, "validator.CheckProfile",
			fmt.Errorf("unknown profile %q", s))
	}
	return nil
}

// CheckProjectPath resolves p to a canonical absolute path and rejects it if
// it doesn't exist, isn't a directory, escapes via a symlink (contains ".."
// after resolution), or begins under a blocked system root. No operation is
// performed on the path before validation.
//
// The unexported checkProjectPath takes the stat and symlink-resolution
// functions as parameters; CheckProjectPath passes the real filesystem ones.
func CheckProjectPath(p string) (string, error) {
	return checkProjectPath(p, osStat, filepath.EvalSymlinks)
}

type statFunc func(string) (isDir bool, err error)

func checkProjectPath(p string, stat statFunc, evalSymlinks func(string) (string, error)) (string, error) {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		return "", orcherr.New(orcherr.InvalidArgument, "validator.CheckProjectPath",
			fmt.Errorf("project path must not be empty"))
	}
	if strings.ContainsRune(trimmed, 0) {
		return "", orcherr.New(orcherr.InvalidArgument, "validator.CheckProjectPath",
			fmt.Errorf("project path contains a NUL byte"))
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", orcherr.New(orcherr.InvalidArgument, "validator.CheckProjectPath", err)
	}
	resolved, err := evalSymlinks(abs)
	if err != nil {
		return "", orcherr.New(orcherr.InvalidArgument, "validator.CheckProjectPath",
			fmt.Errorf("path does not exist: %w", err))
	}
	if strings.Contains(resolved, "..") {
		return "", orcherr.New(orcherr.InvalidArgument, "validator.CheckProjectPath",
			fmt.Errorf("resolved path %q escapes via \"..\"", resolved))
	}
	isDir, err := stat(resolved)
	if err != nil {
		return "", orcherr.New(orcherr.InvalidArgument, "validator.CheckProjectPath", err)
	}
	if !isDir {
		return "", orcherr.New(orcherr.InvalidArgument, "validator.CheckProjectPath",
			fmt.Errorf("%q is not a directory", resolved))
	}
	for _, blocked := range blockedRoots {
		if resolved == blocked || strings.HasPrefix(resolved, blocked+"/") {
			return "", orcherr.New(orcherr.PolicyDenied, "validator.CheckProjectPath",
				fmt.Errorf("%q is under blocked system root %q", resolved, blocked))
		}
	}
	return resolved, nil
}
