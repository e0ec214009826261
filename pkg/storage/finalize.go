package storage

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mholt/archives"
	"github.com/pkg/errors"
)

// Names of the regenerable special files at the root of a published
// project. They are excluded from checksums and listings of themselves.
const (
	ChecksumFileName = "SHA256SUMS.txt"
	ListingFileName  = "FILES.txt"
	LicenseFileName  = "LICENSE.txt"
)

var specialFiles = []string{ChecksumFileName, ListingFileName, LicenseFileName}

func isSpecialFile(rel string) bool {
	for _, s := range specialFiles {
		if rel == s {
			return true
		}
	}
	return false
}

// MakeChecksumFile writes a SHA-256 manifest of every file under root,
// one "<hex>  <path>" line per file in path order. Safe to re-run; the
// manifest itself is excluded.
func MakeChecksumFile(b Backend, root string) error {
	var lines []string
	err := b.Walk(root, func(rel string, _ FileInfo) error {
		if isSpecialFile(rel) {
			return nil
		}
		f, err := b.Open(root + "/" + rel)
		if err != nil {
			return err
		}
		defer f.Close()
		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return err
		}
		lines = append(lines, fmt.Sprintf("%x  %s", h.Sum(nil), rel))
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "checksum manifest")
	}
	sort.Strings(lines)
	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}
	return b.FWrite(root+"/"+ChecksumFileName, []byte(content))
}

// MakeFileListing writes the FILES.txt listing with per-entry size.
func MakeFileListing(b Backend, root string) error {
	var lines []string
	err := b.Walk(root, func(rel string, info FileInfo) error {
		if isSpecialFile(rel) {
			return nil
		}
		lines = append(lines, fmt.Sprintf("%s\t%d", rel, info.Size))
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "file listing")
	}
	sort.Strings(lines)
	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}
	return b.FWrite(root+"/"+ListingFileName, []byte(content))
}

// MakeZip builds a zip archive of the tree at root and writes it to
// zipPath. Re-running replaces the archive. The archive lists files
// under a top-level directory named prefix.
func MakeZip(ctx context.Context, b Backend, root, zipPath, prefix string) error {
	var files []archives.FileInfo
	err := b.Walk(root, func(rel string, info FileInfo) error {
		if rel == zipName(zipPath) {
			return nil
		}
		path := root + "/" + rel
		files = append(files, archives.FileInfo{
			FileInfo:      backendFileInfo{info},
			NameInArchive: prefix + "/" + rel,
			Open: func() (fs.File, error) {
				rc, err := b.Open(path)
				if err != nil {
					return nil, err
				}
				return backendFile{rc, info}, nil
			},
		})
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "zip listing")
	}

	tmp, err := os.CreateTemp("", "project-zip-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := (archives.Zip{}).Archive(ctx, tmp, files); err != nil {
		return errors.Wrap(err, "zip archive")
	}
	size, err := tmp.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return b.FPut(zipPath, tmp, size)
}

func zipName(zipPath string) string {
	return zipPath[strings.LastIndex(zipPath, "/")+1:]
}

// backendFileInfo adapts a backend entry to fs.FileInfo.
type backendFileInfo struct {
	info FileInfo
}

func (f backendFileInfo) Name() string       { return f.info.Name }
func (f backendFileInfo) Size() int64        { return f.info.Size }
func (f backendFileInfo) Mode() fs.FileMode  { return 0o444 }
func (f backendFileInfo) ModTime() time.Time { return f.info.LastModified }
func (f backendFileInfo) IsDir() bool        { return f.info.IsDir }
func (f backendFileInfo) Sys() any           { return nil }

// backendFile adapts a backend reader to fs.File for the archiver.
type backendFile struct {
	io.ReadCloser
	info FileInfo
}

func (f backendFile) Stat() (fs.FileInfo, error) { return backendFileInfo{f.info}, nil }
