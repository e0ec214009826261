package storage

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// LocalBackend stores project files under a single root directory.
type LocalBackend struct {
	root string
}

func NewLocalBackend(root string) *LocalBackend {
	return &LocalBackend{root: root}
}

func (b *LocalBackend) abs(path string) string {
	return filepath.Join(b.root, filepath.FromSlash(path))
}

func (b *LocalBackend) MkDir(path string) error {
	return os.MkdirAll(b.abs(path), 0o755)
}

func (b *LocalBackend) Rm(path string) error {
	err := os.Remove(b.abs(path))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

func (b *LocalBackend) FWrite(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(b.abs(path)), 0o755); err != nil {
		return err
	}
	return os.WriteFile(b.abs(path), content, 0o644)
}

func (b *LocalBackend) FPut(path string, r io.Reader, _ int64) error {
	if err := os.MkdirAll(filepath.Dir(b.abs(path)), 0o755); err != nil {
		return err
	}
	f, err := os.Create(b.abs(path))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}

func (b *LocalBackend) Rename(src, dst string) error {
	return os.Rename(b.abs(src), b.abs(dst))
}

func (b *LocalBackend) Mv(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(b.abs(dst)), 0o755); err != nil {
		return err
	}
	return os.Rename(b.abs(src), b.abs(dst))
}

func (b *LocalBackend) Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(b.abs(path))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return f, err
}

// CpDir copies a tree, hard-linking unchanged regular files instead of
// rewriting their bytes. Hard links fall back to a plain copy when the
// filesystem refuses them.
func (b *LocalBackend) CpDir(src, dst string, ignore []string) error {
	srcAbs, dstAbs := b.abs(src), b.abs(dst)
	return filepath.WalkDir(srcAbs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if lo.Contains(ignore, d.Name()) && p != srcAbs {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(srcAbs, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dstAbs, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if err := os.Link(p, target); err == nil {
			return nil
		}
		return copyFile(p, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func (b *LocalBackend) RmDir(path string) error {
	return os.RemoveAll(b.abs(path))
}

func (b *LocalBackend) ListDir(path string) ([]FileInfo, error) {
	entries, err := os.ReadDir(b.abs(path))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	infos := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			return nil, err
		}
		infos = append(infos, FileInfo{
			Name:         e.Name(),
			Size:         fi.Size(),
			IsDir:        e.IsDir(),
			LastModified: fi.ModTime(),
		})
	}
	return infos, nil
}

func (b *LocalBackend) Walk(path string, fn func(rel string, info FileInfo) error) error {
	root := b.abs(path)
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), FileInfo{
			Name:         d.Name(),
			Size:         fi.Size(),
			LastModified: fi.ModTime(),
		})
	})
}

func (b *LocalBackend) TreeSize(path string) (int64, int64, error) {
	var size, inodes int64
	err := filepath.WalkDir(b.abs(path), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == b.abs(path) {
				return filepath.SkipAll
			}
			return err
		}
		if p == b.abs(path) {
			return nil
		}
		inodes++
		if !d.IsDir() {
			fi, err := d.Info()
			if err != nil {
				return err
			}
			size += fi.Size()
		}
		return nil
	})
	return size, inodes, err
}

// MakeReadOnly walks a published tree and drops write permission.
// Scripts keep the executable bit so published software still runs.
func (b *LocalBackend) MakeReadOnly(path string) error {
	return filepath.WalkDir(b.abs(path), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.Chmod(p, 0o555)
		}
		executable, err := hasShebang(p)
		if err != nil {
			return errors.Wrapf(err, "inspect %s", p)
		}
		mode := fs.FileMode(0o444)
		if executable {
			mode = 0o555
		}
		return os.Chmod(p, mode)
	})
}

func hasShebang(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	head := make([]byte, 2)
	n, err := io.ReadFull(f, head)
	if err != nil && n < 2 {
		return false, nil
	}
	return bytes.Equal(head, []byte("#!")), nil
}
