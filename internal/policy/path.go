// Package policy implements the Policy Guards (C1): path containment, SSRF
// classification, command gating, and size/time caps. All guards here are
// pure and deterministic per §4.1.
package policy

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/moonbotio/moonbot/internal/moonerr"
)

// ResolvePath validates that path, taken relative to workspace when not
// absolute, resolves to a location inside workspace, and returns the
// canonical absolute path. Ported from the teacher's filesystem containment
// check, generalized into a standalone guard usable by any tool.
//
// Invariant P5: for any P where ResolvePath(P, R) succeeds, the result
// begins with the canonical R; any P containing ".." after normalization
// that would escape R is rejected.
func ResolvePath(path, workspace string) (string, error) {
	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(workspace, path))
	}

	absWorkspace, _ := filepath.Abs(workspace)
	wsReal, err := filepath.EvalSymlinks(absWorkspace)
	if err != nil {
		wsReal = absWorkspace // workspace doesn't exist yet — use as-is
	}

	absResolved, _ := filepath.Abs(resolved)
	real, err := filepath.EvalSymlinks(absResolved)
	if err != nil {
		if os.IsNotExist(err) {
			if linfo, lerr := os.Lstat(absResolved); lerr == nil && linfo.Mode()&os.ModeSymlink != 0 {
				target, readErr := os.Readlink(absResolved)
				if readErr != nil {
					return "", moonerr.New(moonerr.InvalidPath, "cannot resolve symlink")
				}
				if !filepath.IsAbs(target) {
					target = filepath.Join(filepath.Dir(absResolved), target)
				}
				target = filepath.Clean(target)

				resolvedTarget, resolveErr := resolveThroughExistingAncestors(target)
				if resolveErr != nil {
					slog.Warn("policy.broken_symlink_resolve_failed", "path", path, "target", target)
					return "", moonerr.New(moonerr.InvalidPath, "cannot resolve broken symlink target")
				}
				if !isPathInside(resolvedTarget, wsReal) {
					slog.Warn("policy.broken_symlink_escape", "path", path, "target", resolvedTarget, "workspace", wsReal)
					return "", moonerr.New(moonerr.InvalidPath, "broken symlink target outside workspace")
				}
				real = resolvedTarget
			} else {
				parentReal, parentErr := filepath.EvalSymlinks(filepath.Dir(absResolved))
				if parentErr != nil {
					return "", moonerr.New(moonerr.InvalidPath, "cannot resolve path")
				}
				real = filepath.Join(parentReal, filepath.Base(absResolved))
			}
		} else {
			slog.Warn("policy.path_resolve_failed", "path", path, "error", err)
			return "", moonerr.New(moonerr.InvalidPath, "cannot resolve path")
		}
	}

	if !isPathInside(real, wsReal) {
		slog.Warn("policy.path_escape", "path", path, "resolved", real, "workspace", wsReal)
		return "", moonerr.New(moonerr.InvalidPath, "path outside workspace")
	}

	if hasMutableSymlinkParent(real) {
		slog.Warn("policy.mutable_symlink_parent", "path", path, "resolved", real)
		return "", moonerr.New(moonerr.InvalidPath, "path contains mutable symlink component")
	}

	if err := checkHardlink(real); err != nil {
		return "", err
	}

	return real, nil
}

func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

// resolveThroughExistingAncestors resolves a path by finding the deepest
// existing ancestor, canonicalizing it, then appending the remaining
// non-existent components. Handles broken symlinks whose targets contain
// intermediate symlinks that escape the workspace.
func resolveThroughExistingAncestors(target string) (string, error) {
	if real, err := filepath.EvalSymlinks(target); err == nil {
		return real, nil
	}

	current := target
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent

		if realParent, err := filepath.EvalSymlinks(current); err == nil {
			result := realParent
			for _, component := range tail {
				result = filepath.Join(result, component)
			}
			return result, nil
		}
	}
	return filepath.Clean(target), nil
}

// hasMutableSymlinkParent reports whether any path component is a symlink
// whose parent directory is writable by this process — a TOCTOU symlink
// rebind risk between resolution and use.
func hasMutableSymlinkParent(path string) bool {
	clean := filepath.Clean(path)
	components := strings.Split(clean, string(filepath.Separator))
	current := string(filepath.Separator)
	for _, comp := range components {
		if comp == "" {
			continue
		}
		current = filepath.Join(current, comp)
		info, err := os.Lstat(current)
		if err != nil {
			break
		}
		if info.Mode()&os.ModeSymlink != 0 {
			parentDir := filepath.Dir(current)
			if syscall.Access(parentDir, 0x2 /* W_OK */) == nil {
				return true
			}
		}
	}
	return false
}

// checkHardlink rejects regular files with nlink > 1.
func checkHardlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return nil
	}
	if info.IsDir() {
		return nil
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if stat.Nlink > 1 {
			slog.Warn("policy.hardlink_rejected", "path", path, "nlink", stat.Nlink)
			return moonerr.New(moonerr.InvalidPath, fmt.Sprintf("hardlinked file not allowed (nlink=%d)", stat.Nlink))
		}
	}
	return nil
}
