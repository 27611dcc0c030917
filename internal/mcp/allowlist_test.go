package mcp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowlist_Allows(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "widgets")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "web"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "widgets-evil"), 0o755))

	allow := NewAllowlist([]string{" ", root})
	tests := []struct {
		name string
		path string
		want bool
	}{
		{"root itself", root, true},
		{"subdirectory", filepath.Join(root, "web"), true},
		{"case differs", filepath.Join(base, "WIDGETS"), true},
		{"sibling sharing a prefix", filepath.Join(base, "widgets-evil"), false},
		{"dot dot escape", filepath.Join(root, "..", "widgets-evil"), false},
		{"parent", base, false},
		{"blank", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, allow.Allows(tt.path))
		})
	}
}

func TestAllowlist_SymlinkOutOfRootIsDenied(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "widgets")
	outside := filepath.Join(base, "secrets")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	link := filepath.Join(root, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	assert.False(t, NewAllowlist([]string{root}).Allows(link))
}

func TestAllowlist_Empty(t *testing.T) {
	allow := NewAllowlist(nil)
	assert.True(t, allow.Empty())
	assert.False(t, allow.Allows(t.TempDir()))
}
