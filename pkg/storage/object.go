package storage

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/mit-lcp/physionet-server/pkg/config"
	"github.com/mit-lcp/physionet-server/pkg/logutils"
)

// ObjectBackend stores project files as objects in a single bucket.
// Directories are key prefixes; permission operations are no-ops.
type ObjectBackend struct {
	client *minio.Client
	bucket string
}

// NewObjectBackend initializes the object store client and ensures the
// bucket exists.
func NewObjectBackend(cfg *config.Config) (*ObjectBackend, error) {
	client, err := minio.New(cfg.Storage.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
		Secure: cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "object storage init")
	}
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.Storage.Bucket)
	if err != nil {
		return nil, errors.Wrap(err, "object storage bucket check")
	}
	if !exists {
		if err = client.MakeBucket(ctx, cfg.Storage.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrap(err, "object storage bucket create")
		}
		logutils.Log.Infof("Created bucket %s", cfg.Storage.Bucket)
	}
	return &ObjectBackend{client: client, bucket: cfg.Storage.Bucket}, nil
}

// MkDir is a no-op; prefixes exist implicitly.
func (b *ObjectBackend) MkDir(_ string) error { return nil }

func (b *ObjectBackend) Rm(path string) error {
	return b.client.RemoveObject(context.Background(), b.bucket, path, minio.RemoveObjectOptions{})
}

func (b *ObjectBackend) FWrite(path string, content []byte) error {
	return b.FPut(path, bytes.NewReader(content), int64(len(content)))
}

func (b *ObjectBackend) FPut(path string, r io.Reader, size int64) error {
	_, err := b.client.PutObject(context.Background(), b.bucket, path, r, size,
		minio.PutObjectOptions{})
	return errors.Wrapf(err, "put %s", path)
}

func (b *ObjectBackend) Rename(src, dst string) error {
	ctx := context.Background()
	_, err := b.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: b.bucket, Object: dst},
		minio.CopySrcOptions{Bucket: b.bucket, Object: src})
	if err != nil {
		return errors.Wrapf(err, "copy %s to %s", src, dst)
	}
	return b.client.RemoveObject(ctx, b.bucket, src, minio.RemoveObjectOptions{})
}

// Mv renames every object under the prefix. Not atomic; the object
// store offers no multi-key rename.
func (b *ObjectBackend) Mv(src, dst string) error {
	ctx := context.Background()
	src, dst = asPrefix(src), asPrefix(dst)
	for obj := range b.client.ListObjects(ctx, b.bucket,
		minio.ListObjectsOptions{Prefix: src, Recursive: true}) {
		if obj.Err != nil {
			return obj.Err
		}
		if err := b.Rename(obj.Key, dst+strings.TrimPrefix(obj.Key, src)); err != nil {
			return err
		}
	}
	return nil
}

func (b *ObjectBackend) Open(path string) (io.ReadCloser, error) {
	obj, err := b.client.GetObject(context.Background(), b.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject defers errors to the first read; probe now so missing
	// keys surface as ErrNotFound.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return obj, nil
}

func (b *ObjectBackend) CpDir(src, dst string, ignore []string) error {
	ctx := context.Background()
	src, dst = asPrefix(src), asPrefix(dst)
	for obj := range b.client.ListObjects(ctx, b.bucket,
		minio.ListObjectsOptions{Prefix: src, Recursive: true}) {
		if obj.Err != nil {
			return obj.Err
		}
		rel := strings.TrimPrefix(obj.Key, src)
		if ignoredKey(rel, ignore) {
			continue
		}
		_, err := b.client.CopyObject(ctx,
			minio.CopyDestOptions{Bucket: b.bucket, Object: dst + rel},
			minio.CopySrcOptions{Bucket: b.bucket, Object: obj.Key})
		if err != nil {
			return errors.Wrapf(err, "copy %s", obj.Key)
		}
	}
	return nil
}

func ignoredKey(rel string, ignore []string) bool {
	for _, part := range strings.Split(rel, "/") {
		for _, ig := range ignore {
			if part == ig {
				return true
			}
		}
	}
	return false
}

func (b *ObjectBackend) RmDir(path string) error {
	ctx := context.Background()
	prefix := asPrefix(path)
	for obj := range b.client.ListObjects(ctx, b.bucket,
		minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return obj.Err
		}
		if err := b.client.RemoveObject(ctx, b.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return err
		}
	}
	return nil
}

func (b *ObjectBackend) ListDir(path string) ([]FileInfo, error) {
	ctx := context.Background()
	prefix := asPrefix(path)
	var infos []FileInfo
	for obj := range b.client.ListObjects(ctx, b.bucket,
		minio.ListObjectsOptions{Prefix: prefix, Recursive: false}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := strings.TrimPrefix(obj.Key, prefix)
		if isDir := strings.HasSuffix(name, "/"); isDir {
			infos = append(infos, FileInfo{Name: strings.TrimSuffix(name, "/"), IsDir: true})
			continue
		}
		infos = append(infos, FileInfo{
			Name:         name,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	return infos, nil
}

func (b *ObjectBackend) Walk(path string, fn func(rel string, info FileInfo) error) error {
	ctx := context.Background()
	prefix := asPrefix(path)
	for obj := range b.client.ListObjects(ctx, b.bucket,
		minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return obj.Err
		}
		rel := strings.TrimPrefix(obj.Key, prefix)
		err := fn(rel, FileInfo{
			Name:         rel[strings.LastIndex(rel, "/")+1:],
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// TreeSize sums object sizes under the prefix by listing; best effort,
// consistent with the optimistic quota model.
func (b *ObjectBackend) TreeSize(path string) (int64, int64, error) {
	var size, inodes int64
	err := b.Walk(path, func(_ string, info FileInfo) error {
		size += info.Size
		inodes++
		return nil
	})
	return size, inodes, err
}

// MakeReadOnly is a no-op; object permissions are bucket policy.
func (b *ObjectBackend) MakeReadOnly(_ string) error { return nil }

func asPrefix(path string) string {
	if path == "" || strings.HasSuffix(path, "/") {
		return path
	}
	return path + "/"
}
