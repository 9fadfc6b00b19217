package appdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrTraversal is returned when a supplied path would resolve outside the
// managed application root.
var ErrTraversal = errors.New("path escapes application root")

// Guard validates externally supplied relative paths against a fixed root
// directory. Every read, write, and delete into the managed directory must go
// through Resolve; there is no bypass.
type Guard struct {
	root string
}

// NewGuard builds a Guard for root. The root is made absolute and
// canonicalized once so that later prefix checks compare like with like.
func NewGuard(root string) (*Guard, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("appdir: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("appdir: resolve root %s: %w", root, err)
	}
	if canon, err := filepath.EvalSymlinks(abs); err == nil {
		abs = canon
	}
	return &Guard{root: abs}, nil
}

// Root returns the canonical application root.
func (g *Guard) Root() string { return g.root }

// Resolve joins rel against the root, canonicalizes, and verifies the result
// still lives under the root. Absolute inputs, ".." escapes, and symlinked
// ancestors pointing outside the root all fail with ErrTraversal. Resolution
// is idempotent: resolving an already-resolved path yields the same result.
func (g *Guard) Resolve(rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", errors.New("appdir: empty path")
	}
	if filepath.IsAbs(rel) {
		// Accept absolute paths only when they already point into the root;
		// everything else is treated as an escape attempt.
		clean := filepath.Clean(rel)
		if !g.contains(clean) {
			return "", fmt.Errorf("%w: %s", ErrTraversal, rel)
		}
		return g.verify(clean, rel)
	}
	joined := filepath.Join(g.root, rel)
	if !g.contains(joined) {
		return "", fmt.Errorf("%w: %s", ErrTraversal, rel)
	}
	return g.verify(joined, rel)
}

// verify canonicalizes the nearest existing ancestor of p so a symlink inside
// the tree cannot smuggle the target outside the root.
func (g *Guard) verify(p, rel string) (string, error) {
	canon, err := canonicalize(p)
	if err != nil {
		return "", fmt.Errorf("appdir: canonicalize %s: %w", rel, err)
	}
	if !g.contains(canon) {
		return "", fmt.Errorf("%w: %s", ErrTraversal, rel)
	}
	return canon, nil
}

func (g *Guard) contains(p string) bool {
	if p == g.root {
		return true
	}
	return strings.HasPrefix(p, g.root+string(filepath.Separator))
}

// canonicalize resolves symlinks for the longest existing prefix of p and
// re-appends the non-existing remainder unchanged. The target itself may not
// exist yet (a write creates it), so EvalSymlinks on p directly is not enough.
func canonicalize(p string) (string, error) {
	existing := p
	var tail []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		tail = append([]string{filepath.Base(existing)}, tail...)
		existing = parent
	}
	canon, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	if len(tail) == 0 {
		return canon, nil
	}
	return filepath.Join(append([]string{canon}, tail...)...), nil
}
