// Package repofind locates a git repository on disk by application
// identifier. Projects declare their identity in an app.properties file
// (key app.id); the locator walks a search root, matches the identifier,
// and ascends to the enclosing git working tree root.
package repofind

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const propertiesFile = "app.properties"

// ErrNotFound reports that no project under the search root declares the
// requested application identifier.
var ErrNotFound = errors.New("no matching repository")

// AmbiguousError reports an identifier claimed by more than one distinct
// git repository.
type AmbiguousError struct {
	AppID string
	Roots []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("app.id=%s matches %d repositories: %s",
		e.AppID, len(e.Roots), strings.Join(e.Roots, ", "))
}

// Locate walks searchRoot looking for a project whose app.properties
// declares app.id=appID and returns the root of its git working tree.
// Multiple property files inside the same repository are fine; matches in
// distinct repositories are ambiguous and rejected.
func Locate(searchRoot, appID string, log *zap.Logger) (string, error) {
	if log == nil {
		log = zap.NewNop()
	}

	seen := make(map[string]bool)
	var roots []string

	err := filepath.WalkDir(searchRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != propertiesFile {
			return nil
		}

		props, err := ReadProperties(path)
		if err != nil {
			log.Debug("skipping unreadable properties file",
				zap.String("path", path), zap.Error(err))
			return nil
		}
		if props["app.id"] != appID {
			return nil
		}

		root, ok := FindGitRoot(filepath.Dir(path))
		if !ok {
			log.Debug("matched properties file outside any git repository",
				zap.String("path", path))
			return nil
		}
		if !seen[root] {
			seen[root] = true
			roots = append(roots, root)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking %s: %w", searchRoot, err)
	}

	switch len(roots) {
	case 0:
		return "", fmt.Errorf("app.id=%s under %s: %w", appID, searchRoot, ErrNotFound)
	case 1:
		return roots[0], nil
	default:
		return "", &AmbiguousError{AppID: appID, Roots: roots}
	}
}

// FindGitRoot ascends from start until it finds a directory containing
// .git. The second return is false if the walk reaches the filesystem root
// without a match.
func FindGitRoot(start string) (string, bool) {
	current := start
	for {
		if _, err := os.Stat(filepath.Join(current, ".git")); err == nil {
			return current, true
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", false
		}
		current = parent
	}
}

// ReadProperties parses a java-style properties file into a map. Blank
// lines and #-comments are skipped; values keep everything after the first
// equals sign.
func ReadProperties(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	props := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		props[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return props, scanner.Err()
}
