package common

import (
	"strings"

	"go.lsp.dev/uri"
)

// FilePathToURI converts an absolute file path to a file:// URI.
func FilePathToURI(path string) string {
	return string(uri.File(path))
}

// URIToFilePath converts a file:// URI back to a file path. Strings that
// are not file URIs are returned unchanged so callers can pass either form.
func URIToFilePath(s string) string {
	if !strings.HasPrefix(s, "file://") {
		return s
	}
	return uri.URI(s).Filename()
}
