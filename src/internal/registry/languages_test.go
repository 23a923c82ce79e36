package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLanguage(t *testing.T) {
	r := NewRegistry()

	cases := []struct {
		path string
		want string
	}{
		{"main.go", "go"},
		{"/abs/path/server.GO", "go"},
		{"app.ts", "typescript"},
		{"component.tsx", "typescript"},
		{"index.js", "javascript"},
		{"script.py", "python"},
		{"lib.rs", "rust"},
		{"Main.java", "java"},
		{"kernel.c", "c"},
		{"header.hpp", "c"},
		{"notes.txt", PlaintextLanguage},
		{"README", PlaintextLanguage},
		{"Makefile", PlaintextLanguage},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, r.ResolveLanguage(tc.path), "path %s", tc.path)
	}
}

func TestResolveLanguage_FirstMatchWins(t *testing.T) {
	r := NewRegistryWith([]ServerDescriptor{
		{ID: "first", Extensions: []string{".x"}},
		{ID: "second", Extensions: []string{".x"}},
	})
	assert.Equal(t, "first", r.ResolveLanguage("file.x"))
}

func TestFindDescriptor(t *testing.T) {
	r := NewRegistry()

	desc, ok := r.FindDescriptor("go")
	require.True(t, ok)
	assert.Equal(t, "gopls", desc.Command)

	_, ok = r.FindDescriptor("cobol")
	assert.False(t, ok)
}

func TestFindRoot_WalksUpToMarker(t *testing.T) {
	tmp := t.TempDir()
	sub := filepath.Join(tmp, "pkg", "deep")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "go.mod"), []byte("module x\n"), 0o644))

	desc, ok := NewRegistry().FindDescriptor("go")
	require.True(t, ok)

	root := desc.FindRoot(filepath.Join(sub, "main.go"), tmp)
	assert.Equal(t, tmp, root)
}

func TestFindRoot_FallsBackToCwd(t *testing.T) {
	tmp := t.TempDir()
	sub := filepath.Join(tmp, "src")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	desc, ok := NewRegistry().FindDescriptor("rust")
	require.True(t, ok)

	root := desc.FindRoot(filepath.Join(sub, "lib.rs"), tmp)
	assert.Equal(t, tmp, root)
}

func TestFindRoot_NearestMarkerWins(t *testing.T) {
	tmp := t.TempDir()
	nested := filepath.Join(tmp, "services", "api")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "go.mod"), []byte("module outer\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "go.mod"), []byte("module inner\n"), 0o644))

	desc, ok := NewRegistry().FindDescriptor("go")
	require.True(t, ok)

	root := desc.FindRoot(filepath.Join(nested, "handler.go"), tmp)
	assert.Equal(t, nested, root)
}

func TestGetInitOptions_ReturnsCopy(t *testing.T) {
	desc, ok := NewRegistry().FindDescriptor("go")
	require.True(t, ok)

	opts := desc.GetInitOptions()
	opts["usePlaceholders"] = true

	fresh := desc.GetInitOptions()
	assert.Equal(t, false, fresh["usePlaceholders"])
}

func TestGetInitOptions_NilOptions(t *testing.T) {
	desc := &ServerDescriptor{ID: "bare"}
	opts := desc.GetInitOptions()
	require.NotNil(t, opts)
	assert.Empty(t, opts)
}
