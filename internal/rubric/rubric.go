package rubric

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed rubrics/*.md
var embeddedFS embed.FS

// Rubric is one mode's prompt material.
type Rubric struct {
	Mode         Mode
	RequiredKeys []string
	Text         string
}

type frontmatter struct {
	Mode         string   `yaml:"mode"`
	RequiredKeys []string `yaml:"required_keys"`
}

// parseFrontmatter splits YAML frontmatter from markdown content. Content
// without a frontmatter block is returned unchanged with empty metadata.
func parseFrontmatter(content []byte) (frontmatter, []byte, error) {
	var fm frontmatter
	if !bytes.HasPrefix(content, []byte("---\n")) {
		return fm, content, nil
	}
	rest := content[4:]
	end := bytes.Index(rest, []byte("\n---"))
	if end == -1 {
		return fm, content, nil
	}
	if err := yaml.Unmarshal(rest[:end], &fm); err != nil {
		return fm, nil, fmt.Errorf("parsing rubric frontmatter: %w", err)
	}
	body := bytes.TrimLeft(rest[end+4:], "\n")
	return fm, body, nil
}

// Loader resolves rubrics, preferring override directories over the
// embedded defaults. Loaded rubrics are cached.
type Loader struct {
	overrideDirs []string
	mu           sync.RWMutex
	cache        map[Mode]*Rubric
}

// NewLoader creates a loader with the given override directories, checked
// in order; first match wins.
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[Mode]*Rubric),
	}
}

// DefaultLoader checks the project-local .facet/rubrics directory, then
// the user config directory.
func DefaultLoader(projectRoot string) *Loader {
	var dirs []string
	if projectRoot != "" {
		dirs = append(dirs, filepath.Join(projectRoot, ".facet", "rubrics"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "facet", "rubrics"))
	}
	return NewLoader(dirs...)
}

// Load returns the rubric for a mode.
func (l *Loader) Load(mode Mode) (*Rubric, error) {
	l.mu.RLock()
	if r, ok := l.cache[mode]; ok {
		l.mu.RUnlock()
		return r, nil
	}
	l.mu.RUnlock()

	content, err := l.loadContent(string(mode) + ".md")
	if err != nil {
		return nil, err
	}
	fm, body, err := parseFrontmatter(content)
	if err != nil {
		return nil, err
	}
	if fm.Mode != "" && fm.Mode != string(mode) {
		return nil, fmt.Errorf("rubric for %s declares mode %q", mode, fm.Mode)
	}

	r := &Rubric{
		Mode:         mode,
		RequiredKeys: fm.RequiredKeys,
		Text:         string(bytes.TrimSpace(body)),
	}
	l.mu.Lock()
	l.cache[mode] = r
	l.mu.Unlock()
	return r, nil
}

func (l *Loader) loadContent(name string) ([]byte, error) {
	for _, dir := range l.overrideDirs {
		path := filepath.Join(dir, name)
		if data, err := os.ReadFile(path); err == nil {
			return data, nil
		}
	}
	data, err := embeddedFS.ReadFile("rubrics/" + name)
	if err != nil {
		return nil, fmt.Errorf("no rubric %s: %w", name, err)
	}
	return data, nil
}

var (
	requiredKeysOnce sync.Once
	requiredKeys     map[Mode][]string
)

// RequiredKeys returns the top-level keys a mode's JSON result must
// contain, taken from the embedded rubric frontmatter. Used by the result
// extractor's schema check.
func RequiredKeys(mode Mode) []string {
	requiredKeysOnce.Do(func() {
		requiredKeys = make(map[Mode][]string)
		loader := NewLoader() // embedded only; overrides cannot change the schema
		for _, m := range AllModes() {
			if r, err := loader.Load(m); err == nil {
				requiredKeys[m] = r.RequiredKeys
			}
		}
	})
	return requiredKeys[mode]
}
