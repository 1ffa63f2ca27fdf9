package download

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Finalizer places a completed transfer into the library layout and
// returns the destination directory, so a job that turns out to be
// unwanted can have its output removed again.
type Finalizer interface {
	Finalize(ctx context.Context, transfer Transfer, job Job) (string, error)
}

// LayoutFinalizer moves transfer directories into
// <root>/<artist name>/<release folder name>.
type LayoutFinalizer struct {
	root string
}

// NewLayoutFinalizer creates a finalizer rooted at dir.
func NewLayoutFinalizer(dir string) *LayoutFinalizer {
	return &LayoutFinalizer{root: dir}
}

// Finalize moves the transfer directory into place. An existing target
// directory is replaced, so re-processing the same release converges.
func (f *LayoutFinalizer) Finalize(ctx context.Context, transfer Transfer, job Job) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	artistDir := filepath.Join(f.root, sanitizePathComponent(job.ArtistName))
	if err := os.MkdirAll(artistDir, 0o755); err != nil {
		return "", fmt.Errorf("create artist directory: %w", err)
	}

	target := filepath.Join(artistDir, sanitizePathComponent(job.ReleaseFolderName))
	if err := os.RemoveAll(target); err != nil {
		return "", fmt.Errorf("clear target directory: %w", err)
	}
	if err := os.Rename(transfer.Dir, target); err == nil {
		return target, nil
	}

	// Rename fails across filesystems; fall back to copying.
	if err := copyTree(transfer.Dir, target); err != nil {
		return "", fmt.Errorf("copy transfer into library: %w", err)
	}
	return target, os.RemoveAll(transfer.Dir)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if entry.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()

		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}

// sanitizePathComponent keeps names from escaping the library root.
func sanitizePathComponent(name string) string {
	cleaned := make([]rune, 0, len(name))
	for _, r := range name {
		switch r {
		case '/', '\\', 0:
			cleaned = append(cleaned, '_')
		default:
			cleaned = append(cleaned, r)
		}
	}
	out := string(cleaned)
	if out == "" || out == "." || out == ".." {
		return "_"
	}
	return out
}
