package mcp

import (
	"path/filepath"
	"strings"
)

// Allowlist holds the local checkouts the tools may touch. A path is allowed
// when it is one of the roots or lies beneath one. Matching ignores case.
type Allowlist struct {
	roots []string
}

// NewAllowlist normalises roots. Blank entries are dropped.
func NewAllowlist(roots []string) *Allowlist {
	a := &Allowlist{}
	for _, r := range roots {
		if r = strings.TrimSpace(r); r == "" {
			continue
		}
		if c, err := canonical(r); err == nil {
			a.roots = append(a.roots, c)
		}
	}
	return a
}

// Empty reports whether no root is configured. An empty list denies all.
func (a *Allowlist) Empty() bool { return len(a.roots) == 0 }

// Allows reports whether path is inside an allowed root.
func (a *Allowlist) Allows(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	target, err := canonical(path)
	if err != nil {
		return false
	}
	for _, root := range a.roots {
		if target == root || strings.HasPrefix(target, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// canonical makes p absolute, resolves symlinks when it exists and lower
// cases it, so "/src/../etc" and a link out of a root are both caught.
func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return strings.ToLower(filepath.Clean(abs)), nil
}
