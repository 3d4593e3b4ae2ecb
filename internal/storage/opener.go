package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"
)

// URI schemes understood by Opener.
const (
	SchemeFile = "file"
	SchemeS3   = "s3"
)

// Location is a parsed source URI.
type Location struct {
	Scheme string
	Bucket string // s3 only
	Path   string
}

// String formats the location back into a URI.
func (l Location) String() string {
	if l.Scheme == SchemeS3 {
		return "s3://" + l.Bucket + "/" + l.Path
	}
	return "file://" + l.Path
}

// HasPattern reports whether the path contains glob metacharacters.
func (l Location) HasPattern() bool {
	return strings.ContainsAny(l.Path, "*?[")
}

// ParseURI parses "file:///abs/path", "s3://bucket/key" or a bare
// filesystem path.
func ParseURI(uri string) (Location, error) {
	if uri == "" {
		return Location{}, fmt.Errorf("storage: empty uri")
	}
	if !strings.Contains(uri, "://") {
		return Location{Scheme: SchemeFile, Path: uri}, nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, fmt.Errorf("storage: invalid uri %q: %w", uri, err)
	}

	switch u.Scheme {
	case SchemeFile:
		p := u.Path
		if u.Host != "" {
			// file://relative/path
			p = u.Host + p
		}
		if p == "" {
			return Location{}, fmt.Errorf("storage: uri %q has no path", uri)
		}
		return Location{Scheme: SchemeFile, Path: p}, nil
	case SchemeS3:
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return Location{}, fmt.Errorf("storage: uri %q must name a bucket and key", uri)
		}
		return Location{Scheme: SchemeS3, Bucket: u.Host, Path: key}, nil
	default:
		return Location{}, fmt.Errorf("storage: unsupported uri scheme %q", u.Scheme)
	}
}

// S3Factory creates a source for one bucket.
type S3Factory func(ctx context.Context, bucket string) (ObjectSource, error)

// Opener opens URIs across backends. S3 sources are created lazily, one per
// bucket.
type Opener struct {
	local ObjectSource
	s3    S3Factory

	mu      sync.Mutex
	buckets map[string]ObjectSource
}

// NewOpener creates an opener. A nil local source uses the filesystem as is;
// a nil factory rejects s3 URIs.
func NewOpener(local ObjectSource, s3 S3Factory) *Opener {
	if local == nil {
		local = &LocalStorage{}
	}
	return &Opener{
		local:   local,
		s3:      s3,
		buckets: make(map[string]ObjectSource),
	}
}

// NewS3Factory returns a factory creating S3Storage sources with cfg.
func NewS3Factory(cfg S3Config) S3Factory {
	return func(ctx context.Context, bucket string) (ObjectSource, error) {
		return NewS3Storage(ctx, bucket, cfg)
	}
}

func (o *Opener) source(ctx context.Context, loc Location) (ObjectSource, error) {
	if loc.Scheme == SchemeFile {
		return o.local, nil
	}
	if o.s3 == nil {
		return nil, fmt.Errorf("storage: s3 sources are not configured")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if src, ok := o.buckets[loc.Bucket]; ok {
		return src, nil
	}
	src, err := o.s3(ctx, loc.Bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to create s3 source for %s: %w", loc.Bucket, err)
	}
	o.buckets[loc.Bucket] = src
	return src, nil
}

// Open opens the object at loc.
func (o *Opener) Open(ctx context.Context, loc Location) (io.ReadCloser, error) {
	src, err := o.source(ctx, loc)
	if err != nil {
		return nil, err
	}
	return src.Open(ctx, loc.Path)
}

// Expand resolves a location whose path may hold a glob pattern into the
// matching objects. A location without a pattern is returned unchanged.
// Patterns follow path.Match, so '*' does not cross '/'.
func (o *Opener) Expand(ctx context.Context, loc Location) ([]Location, error) {
	if !loc.HasPattern() {
		return []Location{loc}, nil
	}
	if _, err := path.Match(loc.Path, ""); err != nil {
		return nil, fmt.Errorf("storage: invalid pattern %q: %w", loc.Path, err)
	}

	src, err := o.source(ctx, loc)
	if err != nil {
		return nil, err
	}

	prefix := loc.Path[:strings.IndexAny(loc.Path, "*?[")]
	keys, err := src.ListObjects(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var out []Location
	for _, key := range keys {
		if ok, _ := path.Match(loc.Path, key); ok {
			out = append(out, Location{Scheme: loc.Scheme, Bucket: loc.Bucket, Path: key})
		}
	}
	return out, nil
}
