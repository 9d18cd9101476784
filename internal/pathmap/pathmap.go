// Package pathmap translates the paths a torrent client reports into paths on
// the local filesystem.
package pathmap

import (
	"fmt"
	"path/filepath"
	"strings"
)

// PrefixMismatchError is returned when a configured path prefix is not a
// leading component of the save path reported by the server.
type PrefixMismatchError struct {
	SavePath string
	Prefix   string
}

func (e *PrefixMismatchError) Error() string {
	return fmt.Sprintf("path prefix %q does not match save path %q", e.Prefix, e.SavePath)
}

// InvalidNameError is returned when a torrent name is not a single path
// component. Joining such a name could point outside the staging or
// destination directory, or at the directory itself.
type InvalidNameError struct {
	Name string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid torrent name %q: must be a single path component", e.Name)
}

// ValidateName rejects empty names, "." and "..", and names containing a
// path separator.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsRune(name, '/') {
		return &InvalidNameError{Name: name}
	}

	return nil
}

// Plan is where a torrent currently lives and where it has to go.
type Plan struct {
	Source      string
	Destination string
}

// ComputeSource maps a remote save path and torrent name to a local path.
// The prefix is stripped on path component boundaries, so "/data" never
// matches "/data2". An empty rootPath resolves relative to the working directory.
func ComputeSource(savePath, name, rootPath, pathPrefix string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}

	relative := savePath

	if pathPrefix != "" {
		stripped, ok := stripPrefix(savePath, pathPrefix)
		if !ok {
			return "", &PrefixMismatchError{SavePath: savePath, Prefix: pathPrefix}
		}

		relative = stripped
	}

	return filepath.Join(rootPath, relative, name), nil
}

// ComputeDestination returns the destination for a torrent of the given
// category. The boolean is false when the category has no mapping, which means
// the torrent must be left alone. An invalid name never yields a destination.
func ComputeDestination(category, name string, categories map[string]string) (string, bool) {
	dir, ok := categoryDir(category, categories)
	if !ok || ValidateName(name) != nil {
		return "", false
	}

	return filepath.Join(dir, name), true
}

func categoryDir(category string, categories map[string]string) (string, bool) {
	if category == "" {
		return "", false
	}

	dir, ok := categories[category]
	if !ok || dir == "" {
		return "", false
	}

	return dir, true
}

// Compute builds the full plan. A nil plan with a nil error means the torrent
// category is not mapped and the torrent is skipped. A mapped torrent with an
// invalid name fails with *InvalidNameError.
func Compute(savePath, name, category, rootPath, pathPrefix string, categories map[string]string) (*Plan, error) {
	dir, ok := categoryDir(category, categories)
	if !ok {
		return nil, nil
	}

	source, err := ComputeSource(savePath, name, rootPath, pathPrefix)
	if err != nil {
		return nil, err
	}

	return &Plan{Source: source, Destination: filepath.Join(dir, name)}, nil
}

func stripPrefix(savePath, prefix string) (string, bool) {
	p := filepath.Clean(prefix)
	s := filepath.Clean(savePath)

	if s == p {
		return "", true
	}

	if p == string(filepath.Separator) {
		return strings.TrimPrefix(s, p), strings.HasPrefix(s, p)
	}

	if !strings.HasPrefix(s, p+string(filepath.Separator)) {
		return "", false
	}

	return s[len(p)+1:], true
}
