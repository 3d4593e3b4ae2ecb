package storage

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri  string
		want Location
	}{
		{"file:///data/in.csv", Location{Scheme: SchemeFile, Path: "/data/in.csv"}},
		{"file://rel/in.csv", Location{Scheme: SchemeFile, Path: "rel/in.csv"}},
		{"/data/in.csv", Location{Scheme: SchemeFile, Path: "/data/in.csv"}},
		{"s3://bucket/in/a.json", Location{Scheme: SchemeS3, Bucket: "bucket", Path: "in/a.json"}},
		{"s3://bucket/in/*.json", Location{Scheme: SchemeS3, Bucket: "bucket", Path: "in/*.json"}},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, err := ParseURI(tt.uri)
			if err != nil {
				t.Fatalf("ParseURI failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("location mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseURI_Invalid(t *testing.T) {
	for _, uri := range []string{"", "s3://bucket", "s3:///key", "http://host/x", "file://"} {
		if _, err := ParseURI(uri); err == nil {
			t.Errorf("ParseURI(%q): expected error", uri)
		}
	}
}

func TestLocation_String(t *testing.T) {
	if got := (Location{Scheme: SchemeS3, Bucket: "b", Path: "k/x"}).String(); got != "s3://b/k/x" {
		t.Errorf("got %q", got)
	}
	if got := (Location{Scheme: SchemeFile, Path: "/tmp/x"}).String(); got != "file:///tmp/x" {
		t.Errorf("got %q", got)
	}
}

func TestOpener_ExpandLocalPattern(t *testing.T) {
	dir := filepath.ToSlash(t.TempDir())
	local := &LocalStorage{}
	ctx := context.Background()
	for _, name := range []string{"a.csv", "b.csv", "c.json", "sub/d.csv"} {
		if err := local.Put(ctx, dir+"/"+name, strings.NewReader("x")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	o := NewOpener(nil, nil)
	locs, err := o.Expand(ctx, Location{Scheme: SchemeFile, Path: dir + "/*.csv"})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}

	var got []string
	for _, l := range locs {
		got = append(got, l.Path)
	}
	if diff := cmp.Diff([]string{dir + "/a.csv", dir + "/b.csv"}, got); diff != "" {
		t.Errorf("expansion mismatch (-want +got):\n%s", diff)
	}

	rc, err := o.Open(ctx, locs[0])
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	b, _ := io.ReadAll(rc)
	rc.Close()
	if string(b) != "x" {
		t.Errorf("unexpected content %q", b)
	}
}

func TestOpener_ExpandWithoutPattern(t *testing.T) {
	o := NewOpener(nil, nil)
	loc := Location{Scheme: SchemeFile, Path: "/does/not/matter.csv"}
	locs, err := o.Expand(context.Background(), loc)
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if len(locs) != 1 || locs[0] != loc {
		t.Errorf("expected location unchanged, got %v", locs)
	}
}

func TestOpener_S3RequiresFactory(t *testing.T) {
	o := NewOpener(nil, nil)
	if _, err := o.Open(context.Background(), Location{Scheme: SchemeS3, Bucket: "b", Path: "k"}); err == nil {
		t.Error("expected error without s3 factory")
	}
}

func TestOpener_S3FactoryCachedPerBucket(t *testing.T) {
	calls := 0
	o := NewOpener(nil, func(ctx context.Context, bucket string) (ObjectSource, error) {
		calls++
		ls, err := NewLocalStorage(t.TempDir())
		if err != nil {
			return nil, err
		}
		return ls, ls.Put(ctx, "k", strings.NewReader(bucket))
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		rc, err := o.Open(ctx, Location{Scheme: SchemeS3, Bucket: "one", Path: "k"})
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		rc.Close()
	}
	if calls != 1 {
		t.Errorf("expected one source per bucket, factory called %d times", calls)
	}
}
