package apply

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Guard is an overridable path policy for plans coming from untrusted
// authors. With Root set, paths must stay inside it and patterns match the
// slash-separated path relative to Root. Deny wins over Allow; an empty
// Allow list allows everything not denied.
type Guard struct {
	Root  string   `yaml:"root"`
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// Resolve joins a relative path onto the absolute form of Root and checks
// it. With Root set the result is absolute.
func (g Guard) Resolve(path string) (string, error) {
	if g.Root != "" && !filepath.IsAbs(path) {
		root, err := g.absRoot()
		if err != nil {
			return "", err
		}
		path = filepath.Join(root, path)
	}
	if err := g.Check(path); err != nil {
		return "", err
	}
	return path, nil
}

// Check validates path against the policy. With Root set, a relative path
// is taken relative to Root.
func (g Guard) Check(path string) error {
	rel, err := g.relative(path)
	if err != nil {
		return err
	}

	for _, pattern := range g.Deny {
		matched, err := doublestar.Match(pattern, rel)
		if err != nil {
			return fmt.Errorf("apply: deny pattern %q: %w", pattern, err)
		}
		if matched {
			return &PathDeniedError{Path: path, Reason: fmt.Sprintf("matches deny pattern %q", pattern)}
		}
	}

	if len(g.Allow) == 0 {
		return nil
	}
	for _, pattern := range g.Allow {
		matched, err := doublestar.Match(pattern, rel)
		if err != nil {
			return fmt.Errorf("apply: allow pattern %q: %w", pattern, err)
		}
		if matched {
			return nil
		}
	}
	return &PathDeniedError{Path: path, Reason: "not matched by any allow pattern"}
}

func (g Guard) relative(path string) (string, error) {
	if g.Root == "" {
		return filepath.ToSlash(filepath.Clean(path)), nil
	}

	root, err := g.absRoot()
	if err != nil {
		return "", err
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	rel, err := filepath.Rel(root, filepath.Clean(abs))
	if err != nil {
		return "", &PathDeniedError{Path: path, Reason: "not under root " + g.Root}
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &PathDeniedError{Path: path, Reason: "escapes root " + g.Root}
	}
	return filepath.ToSlash(rel), nil
}

func (g Guard) absRoot() (string, error) {
	root, err := filepath.Abs(g.Root)
	if err != nil {
		return "", fmt.Errorf("apply: resolve root %s: %w", g.Root, err)
	}
	return root, nil
}
