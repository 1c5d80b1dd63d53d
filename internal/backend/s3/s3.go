// Package s3 implements the S3-backed persistent Backend: a plain object
// store client built around the GetObject/PutObject/DeleteObject/
// ListObjectsV2 call shapes, satisfying the Backend contract.
//
// Layout: a directory is a zero-byte object whose key ends in "/". A file
// is an object holding its bytes directly. A symlink is a zero-byte object
// carrying its destination in the x-amz-meta-vfs-symlink-target header.
// Metadata-only updates (MetaUpdates) have no S3 primitive, so they are
// implemented as a self-copy with MetadataDirective REPLACE.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/gzip"

	"github.com/objectfs/shadowvfs/internal/backend"
	"github.com/objectfs/shadowvfs/internal/circuit"
	"github.com/objectfs/shadowvfs/pkg/retry"
	"github.com/objectfs/shadowvfs/pkg/vfserr"
	"github.com/objectfs/shadowvfs/pkg/vfstypes"
)

const symlinkTargetHeader = "vfs-symlink-target"
const mtimeHeader = "vfs-mtime"
const lockKeySuffix = ".vfs-lock"

// Config configures the S3 backend.
type Config struct {
	Bucket             string
	Region             string
	Endpoint           string // non-empty for S3-compatible stores (MinIO, LocalStack)
	Prefix             string
	ForcePathStyle     bool
	CompressionEnabled bool
	CompressionMinSize int64
	Retry              retry.Config
	CircuitBreaker     circuit.Config
}

// Backend implements internal/backend.Backend against an S3 bucket.
type Backend struct {
	client  *s3.Client
	cfg     Config
	retryer *retry.Retryer
	breaker *circuit.CircuitBreaker
}

// New constructs a Backend, loading AWS credentials and region the standard
// SDK way (environment, shared config, IAM role).
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("s3: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	breaker := circuit.NewCircuitBreaker("s3-backend", cfg.CircuitBreaker)

	return &Backend{
		client:  client,
		cfg:     cfg,
		retryer: retry.New(cfg.Retry),
		breaker: breaker,
	}, nil
}

var _ backend.Backend = (*Backend)(nil)

func (b *Backend) key(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if b.cfg.Prefix == "" {
		return trimmed
	}
	return strings.TrimSuffix(b.cfg.Prefix, "/") + "/" + trimmed
}

func (b *Backend) dirKey(path string) string {
	k := b.key(path)
	if k == "" {
		return ""
	}
	return strings.TrimSuffix(k, "/") + "/"
}

func (b *Backend) call(ctx context.Context, fn func(context.Context) error) error {
	return b.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return b.retryer.DoWithContext(ctx, fn)
	})
}

// ReadFile fetches a file object's full contents, transparently
// decompressing gzip-compressed bodies (identified by a Content-Encoding
// header).
func (b *Backend) ReadFile(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	var gzipped bool

	err := b.call(ctx, func(ctx context.Context) error {
		out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.cfg.Bucket),
			Key:    aws.String(b.key(path)),
		})
		if err != nil {
			return translateError(err, path)
		}
		defer out.Body.Close()

		body, err := io.ReadAll(out.Body)
		if err != nil {
			return vfserr.Wrap(vfserr.EConnection, path, err)
		}
		data = body
		gzipped = aws.ToString(out.ContentEncoding) == "gzip"
		return nil
	})
	if err != nil {
		return nil, err
	}

	if gzipped {
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, vfserr.Wrap(vfserr.EInternal, path, err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, vfserr.Wrap(vfserr.EInternal, path, err)
		}
		return out, nil
	}
	return data, nil
}

// ReadDir lists the immediate children of the directory at path using a
// delimited ListObjectsV2 call.
func (b *Backend) ReadDir(ctx context.Context, path string) ([]vfstypes.FileEntry, error) {
	prefix := b.dirKey(path)
	var entries []vfstypes.FileEntry

	err := b.call(ctx, func(ctx context.Context) error {
		entries = nil
		paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
			Bucket:    aws.String(b.cfg.Bucket),
			Prefix:    aws.String(prefix),
			Delimiter: aws.String("/"),
		})

		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return translateError(err, path)
			}

			for _, p := range page.CommonPrefixes {
				name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(p.Prefix), prefix), "/")
				if name == "" {
					continue
				}
				entries = append(entries, vfstypes.FileEntry{
					Filename: name,
					FilePath: joinPath(path, name),
					FileType: vfstypes.FileTypeDirectory,
				})
			}

			for _, obj := range page.Contents {
				k := aws.ToString(obj.Key)
				if k == prefix {
					continue // the directory marker object itself
				}
				name := strings.TrimPrefix(k, prefix)
				if name == "" || strings.HasSuffix(name, lockKeySuffix) {
					continue
				}

				entry, ok, err := b.headToEntry(ctx, joinPath(path, name), name)
				if err != nil {
					return err
				}
				if ok {
					entries = append(entries, entry)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Filename < entries[j].Filename })
	return entries, nil
}

// LInfo fetches the type and metadata of the object or directory marker at
// path without following symlinks.
func (b *Backend) LInfo(ctx context.Context, path string) (vfstypes.FileEntry, bool, error) {
	if path == "/" {
		// The root always "exists" conceptually, but LInfo reports !ok
		// when it has never been created, which for S3 means the root
		// directory marker object is absent.
		ok, err := b.objectExists(ctx, b.dirKey("/"))
		if err != nil {
			return vfstypes.FileEntry{}, false, err
		}
		if !ok {
			return vfstypes.FileEntry{}, false, nil
		}
		return vfstypes.FileEntry{Filename: "", FilePath: "/", FileType: vfstypes.FileTypeDirectory}, true, nil
	}

	name := pathBasename(path)
	entry, ok, err := b.headToEntry(ctx, path, name)
	if err != nil {
		return vfstypes.FileEntry{}, false, err
	}
	if ok {
		return entry, true, nil
	}

	// Not a file/symlink object; check for a directory marker.
	dirOK, err := b.objectExists(ctx, b.dirKey(path))
	if err != nil {
		return vfstypes.FileEntry{}, false, err
	}
	if !dirOK {
		return vfstypes.FileEntry{}, false, nil
	}
	return vfstypes.FileEntry{Filename: name, FilePath: path, FileType: vfstypes.FileTypeDirectory}, true, nil
}

func (b *Backend) objectExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := b.call(ctx, func(ctx context.Context) error {
		_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(b.cfg.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var notFound *types.NotFound
			if errors.As(err, &notFound) {
				exists = false
				return nil
			}
			return translateError(err, key)
		}
		exists = true
		return nil
	})
	return exists, err
}

func (b *Backend) headToEntry(ctx context.Context, path, name string) (vfstypes.FileEntry, bool, error) {
	var entry vfstypes.FileEntry
	var found bool

	err := b.call(ctx, func(ctx context.Context) error {
		out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(b.cfg.Bucket),
			Key:    aws.String(b.key(path)),
		})
		if err != nil {
			var notFound *types.NotFound
			if errors.As(err, &notFound) {
				found = false
				return nil
			}
			return translateError(err, path)
		}

		found = true
		entry = vfstypes.FileEntry{Filename: name, FilePath: path, FileType: vfstypes.FileTypeFile}
		if target, ok := out.Metadata[symlinkTargetHeader]; ok {
			entry.FileType = vfstypes.FileTypeSymlink
			entry.Destination = target
		}
		if mtime, ok := out.Metadata[mtimeHeader]; ok {
			if parsed, perr := time.Parse(time.RFC3339Nano, mtime); perr == nil {
				entry.Meta = vfstypes.FileMeta{MTime: parsed.UnixMilli()}
			}
		}
		return nil
	})
	return entry, found, err
}

// Bulk applies a BulkRequest in the 4-phase order the Backend contract
// requires.
func (b *Backend) Bulk(ctx context.Context, req backend.BulkRequest) error {
	for _, p := range req.ToDelete {
		if err := b.deleteRecursive(ctx, p); err != nil {
			return err
		}
	}

	for _, p := range req.FoldersToCreate {
		if err := b.putDirMarker(ctx, p); err != nil {
			return err
		}
	}

	for _, fw := range req.FilesToWrite {
		if err := b.putFile(ctx, fw.Path, fw.Data, fw.Meta); err != nil {
			return err
		}
	}
	for _, sc := range req.SymlinksToCreate {
		if err := b.putSymlink(ctx, sc.Path, sc.Destination, sc.Meta); err != nil {
			return err
		}
	}

	for _, mu := range req.MetaUpdates {
		if err := b.updateMeta(ctx, mu.Path, mu.Meta); err != nil {
			return err
		}
	}

	return nil
}

func (b *Backend) deleteRecursive(ctx context.Context, path string) error {
	keys := []string{b.key(path), b.dirKey(path)}

	children, err := b.ReadDir(ctx, path)
	if err == nil {
		for _, c := range children {
			if err := b.deleteRecursive(ctx, c.FilePath); err != nil {
				return err
			}
		}
	}

	return b.call(ctx, func(ctx context.Context) error {
		var objs []types.ObjectIdentifier
		for _, k := range keys {
			objs = append(objs, types.ObjectIdentifier{Key: aws.String(k)})
		}
		_, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.cfg.Bucket),
			Delete: &types.Delete{Objects: objs, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return translateError(err, path)
		}
		return nil
	})
}

func (b *Backend) putDirMarker(ctx context.Context, path string) error {
	return b.call(ctx, func(ctx context.Context) error {
		_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(b.cfg.Bucket),
			Key:    aws.String(b.dirKey(path)),
			Body:   bytes.NewReader(nil),
		})
		if err != nil {
			return translateError(err, path)
		}
		return nil
	})
}

func (b *Backend) putFile(ctx context.Context, path string, data []byte, meta vfstypes.FileMeta) error {
	body := data
	encoding := ""
	if b.cfg.CompressionEnabled && int64(len(data)) >= b.cfg.CompressionMinSize {
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err == nil && w.Close() == nil {
			body = buf.Bytes()
			encoding = "gzip"
		}
	}

	return b.call(ctx, func(ctx context.Context) error {
		input := &s3.PutObjectInput{
			Bucket:   aws.String(b.cfg.Bucket),
			Key:      aws.String(b.key(path)),
			Body:     bytes.NewReader(body),
			Metadata: map[string]string{mtimeHeader: metaTime(meta)},
		}
		if encoding != "" {
			input.ContentEncoding = aws.String(encoding)
		}
		_, err := b.client.PutObject(ctx, input)
		if err != nil {
			return translateError(err, path)
		}
		return nil
	})
}

func (b *Backend) putSymlink(ctx context.Context, path, destination string, meta vfstypes.FileMeta) error {
	return b.call(ctx, func(ctx context.Context) error {
		_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(b.cfg.Bucket),
			Key:    aws.String(b.key(path)),
			Body:   bytes.NewReader(nil),
			Metadata: map[string]string{
				symlinkTargetHeader: destination,
				mtimeHeader:         metaTime(meta),
			},
		})
		if err != nil {
			return translateError(err, path)
		}
		return nil
	})
}

// updateMeta has no direct S3 primitive, so it self-copies the object onto
// itself with MetadataDirective REPLACE, updating only the mtime header.
func (b *Backend) updateMeta(ctx context.Context, path string, meta vfstypes.FileMeta) error {
	return b.call(ctx, func(ctx context.Context) error {
		key := b.key(path)
		_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:            aws.String(b.cfg.Bucket),
			Key:               aws.String(key),
			CopySource:        aws.String(b.cfg.Bucket + "/" + key),
			Metadata:          map[string]string{mtimeHeader: metaTime(meta)},
			MetadataDirective: types.MetadataDirectiveReplace,
		})
		if err != nil {
			return translateError(err, path)
		}
		return nil
	})
}

func metaTime(meta vfstypes.FileMeta) string {
	return time.UnixMilli(meta.MTime).UTC().Format(time.RFC3339Nano)
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

func pathBasename(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

func translateError(err error, path string) error {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return vfserr.New(vfserr.ENOENT, path)
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return vfserr.New(vfserr.ENOENT, path)
	}
	return vfserr.Wrap(vfserr.EConnection, path, err)
}
