package objectstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, key, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

func TestDir(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeFile(t, root, "books/b.md", "# B")
	writeFile(t, root, "books/a.pdf", "%PDF-1.7")
	writeFile(t, root, "notes.txt", "ignored")

	d, err := NewDir(root)
	require.NoError(t, err)

	t.Run("head", func(t *testing.T) {
		o, err := d.Head(ctx, "books/b.md")
		require.NoError(t, err)
		assert.Equal(t, int64(3), o.Size)
		assert.False(t, o.ModTime.IsZero())
	})

	t.Run("get", func(t *testing.T) {
		data, err := d.Get(ctx, "books/a.pdf")
		require.NoError(t, err)
		assert.Equal(t, "%PDF-1.7", string(data))
	})

	t.Run("missing", func(t *testing.T) {
		_, err := d.Get(ctx, "books/none.md")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = d.Head(ctx, "books")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("escaping keys rejected", func(t *testing.T) {
		for _, key := range []string{"", "../secret", "books/../../x"} {
			_, err := d.Get(ctx, key)
			assert.ErrorIs(t, err, ErrInvalidKey, key)
		}
	})

	t.Run("list", func(t *testing.T) {
		all, err := d.List(ctx, "")
		require.NoError(t, err)
		keys := make([]string, len(all))
		for i, o := range all {
			keys[i] = o.Key
		}
		assert.Equal(t, []string{"books/a.pdf", "books/b.md", "notes.txt"}, keys)

		books, err := d.List(ctx, "books/")
		require.NoError(t, err)
		assert.Len(t, books, 2)

		docs := FilterByExtension(all, []string{".PDF", ".md"})
		assert.Len(t, docs, 2)
	})

	_, err = NewDir(filepath.Join(root, "notes.txt"))
	assert.Error(t, err)
}

// fakeS3 serves a fixed set of objects, two per page.
type fakeS3 struct {
	objects map[string]string
	lists   int
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(body))), LastModified: aws.Time(time.Unix(10, 0))}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.lists++
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	// Deterministic paging: serve keys in sorted order after the token.
	slices.Sort(keys)
	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		for i, k := range keys {
			if k == tok {
				start = i
			}
		}
	}
	end := min(start+2, len(keys))
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k])))})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func TestS3(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string]string{
		"in/a.md":  "# A",
		"in/b.pdf": "%PDF",
		"in/c.md":  "# C",
		"out/x":    "x",
	}}
	store := NewS3WithClient("bucket", fake)

	o, err := store.Head(ctx, "in/a.md")
	require.NoError(t, err)
	assert.Equal(t, int64(3), o.Size)

	data, err := store.Get(ctx, "in/b.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))

	_, err = store.Get(ctx, "in/none")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Head(ctx, "in/none")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidKey)

	listed, err := store.List(ctx, "in/")
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "in/a.md", listed[0].Key)
	assert.Equal(t, "in/c.md", listed[2].Key)
	assert.Equal(t, 2, fake.lists, "paginated")
}

func TestNewS3_RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{})
	assert.Error(t, err)
}
