package registry

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// PlaintextLanguage is the sentinel returned for files no descriptor
// claims. It only routes; it is never surfaced as an error by itself.
const PlaintextLanguage = "plaintext"

// ServerDescriptor contains static information about one supported
// language server. Descriptors are immutable after startup.
type ServerDescriptor struct {
	ID          string   // Language identifier (go, python, typescript, ...)
	Extensions  []string // File extensions routed to this server
	Command     string   // LSP server binary
	Args        []string // Arguments for the server binary
	RootMarkers []string // Project files that mark a workspace root

	InitializationOptions map[string]interface{}
	RequestTimeout        time.Duration
	InitializeTimeout     time.Duration
}

// defaultDescriptors is consulted in order; the first extension match wins.
var defaultDescriptors = []ServerDescriptor{
	{
		ID:          "go",
		Extensions:  []string{".go"},
		Command:     "gopls",
		Args:        []string{"serve"},
		RootMarkers: []string{"go.work", "go.mod"},
		InitializationOptions: map[string]interface{}{
			"usePlaceholders":    false,
			"completeUnimported": true,
		},
		RequestTimeout:    15 * time.Second,
		InitializeTimeout: 15 * time.Second,
	},
	{
		ID:                "typescript",
		Extensions:        []string{".ts", ".tsx", ".mts", ".cts"},
		Command:           "typescript-language-server",
		Args:              []string{"--stdio"},
		RootMarkers:       []string{"tsconfig.json", "package.json"},
		RequestTimeout:    15 * time.Second,
		InitializeTimeout: 30 * time.Second,
	},
	{
		ID:                "javascript",
		Extensions:        []string{".js", ".jsx", ".mjs", ".cjs"},
		Command:           "typescript-language-server",
		Args:              []string{"--stdio"},
		RootMarkers:       []string{"package.json"},
		RequestTimeout:    15 * time.Second,
		InitializeTimeout: 30 * time.Second,
	},
	{
		ID:                "python",
		Extensions:        []string{".py", ".pyi"},
		Command:           "pylsp",
		RootMarkers:       []string{"pyproject.toml", "setup.py", "requirements.txt"},
		RequestTimeout:    30 * time.Second,
		InitializeTimeout: 30 * time.Second,
	},
	{
		ID:          "rust",
		Extensions:  []string{".rs"},
		Command:     "rust-analyzer",
		RootMarkers: []string{"Cargo.toml"},
		InitializationOptions: map[string]interface{}{
			"checkOnSave": map[string]interface{}{"enable": true},
			"procMacro":   map[string]interface{}{"enable": true},
		},
		RequestTimeout:    15 * time.Second,
		InitializeTimeout: 30 * time.Second,
	},
	{
		ID:                "java",
		Extensions:        []string{".java"},
		Command:           "jdtls",
		RootMarkers:       []string{"pom.xml", "build.gradle", "build.gradle.kts"},
		RequestTimeout:    90 * time.Second,
		InitializeTimeout: 90 * time.Second,
	},
	{
		ID:                "c",
		Extensions:        []string{".c", ".h", ".cpp", ".cc", ".hpp"},
		Command:           "clangd",
		RootMarkers:       []string{"compile_commands.json", "CMakeLists.txt", "Makefile"},
		RequestTimeout:    15 * time.Second,
		InitializeTimeout: 15 * time.Second,
	},
}

// Registry is a static table of server descriptors plus pure lookup logic.
// Construct one per process; it holds no mutable state after creation.
type Registry struct {
	descriptors []ServerDescriptor
}

// NewRegistry returns a registry over the built-in descriptor table.
func NewRegistry() *Registry {
	return &Registry{descriptors: defaultDescriptors}
}

// NewRegistryWith returns a registry over a caller-supplied table,
// consulted in the given order.
func NewRegistryWith(descriptors []ServerDescriptor) *Registry {
	return &Registry{descriptors: descriptors}
}

// ResolveLanguage matches the file's extension against descriptors in
// registry order. No extension or no match yields PlaintextLanguage.
func (r *Registry) ResolveLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return PlaintextLanguage
	}
	for _, d := range r.descriptors {
		for _, e := range d.Extensions {
			if e == ext {
				return d.ID
			}
		}
	}
	return PlaintextLanguage
}

// FindDescriptor returns the descriptor for a language id.
func (r *Registry) FindDescriptor(languageID string) (*ServerDescriptor, bool) {
	for i := range r.descriptors {
		if r.descriptors[i].ID == languageID {
			d := r.descriptors[i]
			return &d, true
		}
	}
	return nil, false
}

// Descriptors returns the table in registry order.
func (r *Registry) Descriptors() []ServerDescriptor {
	out := make([]ServerDescriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Available reports whether the descriptor's server binary is installed.
func (d *ServerDescriptor) Available() bool {
	_, err := exec.LookPath(d.Command)
	return err == nil
}

// FindRoot walks up from the file toward cwd looking for this language's
// project markers. It falls back to cwd when no marker is found or the
// file lives outside cwd entirely.
func (d *ServerDescriptor) FindRoot(file, cwd string) string {
	dir := filepath.Dir(file)
	for {
		for _, marker := range d.RootMarkers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}
		if dir == cwd {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return cwd
}

// GetInitOptions returns a copy of the initialization options so callers
// cannot mutate the descriptor.
func (d *ServerDescriptor) GetInitOptions() map[string]interface{} {
	if d.InitializationOptions == nil {
		return map[string]interface{}{}
	}
	result := make(map[string]interface{}, len(d.InitializationOptions))
	for k, v := range d.InitializationOptions {
		result[k] = v
	}
	return result
}
