package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFilePathToURIRoundTrip(t *testing.T) {
	paths := []string{
		"/home/user/file.go",
		"/tmp/project with spaces/main.go",
		"/a/b/c.d.e.go",
	}
	for _, p := range paths {
		uri := FilePathToURI(p)
		assert.Contains(t, uri, "file://", "path %s", p)
		assert.Equal(t, p, URIToFilePath(uri), "round trip %s", p)
	}
}

func TestURIToFilePath_NonFileURIPassesThrough(t *testing.T) {
	assert.Equal(t, "untitled:Untitled-1", URIToFilePath("untitled:Untitled-1"))
	assert.Equal(t, "/already/a/path.go", URIToFilePath("/already/a/path.go"))
}

func TestClampTimeout(t *testing.T) {
	def := 10 * time.Second
	min := time.Second
	max := 60 * time.Second

	assert.Equal(t, def, ClampTimeout(0, def, min, max))
	assert.Equal(t, min, ClampTimeout(200*time.Millisecond, def, min, max))
	assert.Equal(t, max, ClampTimeout(5*time.Minute, def, min, max))
	assert.Equal(t, 30*time.Second, ClampTimeout(30*time.Second, def, min, max))
}
