package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteeditor/api/internal/store"
)

func newTestArchiveStore(t *testing.T) (*store.SQLStore, store.Document) {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, store.DialectSQLite, filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.ApplyMigrations(ctx, db, store.DialectSQLite))

	s := store.NewSQLStore(db, store.DialectSQLite)
	require.NoError(t, s.UpsertSubject(ctx, store.Subject{ID: "sub_1", Name: "Bakery"}))
	doc, err := s.EnsureDocument(ctx, "doc_1", "sub_1", "<h1>v1</h1>")
	require.NoError(t, err)
	return s, doc
}

type recordingMirror struct {
	mu    sync.Mutex
	snaps []store.VersionSnapshot
	err   error
}

func (m *recordingMirror) Put(_ context.Context, snap store.VersionSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
	return m.err
}

func TestRecordCapsHistory(t *testing.T) {
	s, doc := newTestArchiveStore(t)
	ctx := context.Background()
	mirror := &recordingMirror{}
	a := New(s, 3, mirror, nil)

	for v := int64(1); v <= 6; v++ {
		_, err := a.Record(ctx, doc, fmt.Sprintf("<h1>v%d</h1>", v), SourceEdit, v)
		require.NoError(t, err)
	}

	items, err := a.List(ctx, "sub_1", 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, int64(6), items[0].Version)
	assert.Equal(t, int64(4), items[2].Version)
	assert.Len(t, mirror.snaps, 6)

	snap, err := a.Get(ctx, "sub_1", 5)
	require.NoError(t, err)
	assert.Equal(t, "<h1>v5</h1>", snap.Content)
	assert.Equal(t, SourceEdit, snap.Source)
}

func TestRecordIgnoresMirrorFailure(t *testing.T) {
	s, doc := newTestArchiveStore(t)
	a := New(s, 0, &recordingMirror{err: errors.New("bucket offline")}, nil)

	snap, err := a.Record(context.Background(), doc, "<h1>v2</h1>", SourceUndo, 2)
	require.NoError(t, err)
	assert.NotZero(t, snap.ID)
	assert.Equal(t, DefaultMaxSnapshots, a.Keep())
}

func TestMirrorsTriesEveryMirror(t *testing.T) {
	s, doc := newTestArchiveStore(t)
	broken := &recordingMirror{err: errors.New("bucket offline")}
	healthy := &recordingMirror{}
	a := New(s, 5, Mirrors{broken, healthy}, nil)

	_, err := a.Record(context.Background(), doc, "<h1>v2</h1>", SourceEdit, 2)
	require.NoError(t, err)

	require.Len(t, broken.snaps, 1)
	require.Len(t, healthy.snaps, 1)
	assert.Equal(t, int64(2), healthy.snaps[0].Version)

	err = Mirrors{broken, healthy}.Put(context.Background(), healthy.snaps[0])
	assert.ErrorContains(t, err, "bucket offline")
	assert.NoError(t, Mirrors{healthy}.Put(context.Background(), healthy.snaps[0]))
}

type fakeObjectClient struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string]string
}

func newFakeObjectClient() *fakeObjectClient {
	return &fakeObjectClient{buckets: map[string]bool{}, objects: map[string]string{}}
}

func (c *fakeObjectClient) BucketExists(_ context.Context, bucket string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buckets[bucket], nil
}

func (c *fakeObjectClient) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buckets[bucket] = true
	return nil
}

func (c *fakeObjectClient) PutObject(_ context.Context, _ string, key string, reader io.Reader, _ int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	body, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[key] = string(body)
	return minio.UploadInfo{Key: key, Size: int64(len(body))}, nil
}

func (c *fakeObjectClient) ListObjects(_ context.Context, _ string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(chan minio.ObjectInfo, len(c.objects))
	for key := range c.objects {
		if len(key) >= len(opts.Prefix) && key[:len(opts.Prefix)] == opts.Prefix {
			out <- minio.ObjectInfo{Key: key}
		}
	}
	close(out)
	return out
}

func (c *fakeObjectClient) RemoveObject(_ context.Context, _ string, key string, _ minio.RemoveObjectOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, key)
	return nil
}

func (c *fakeObjectClient) keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.objects))
	for key := range c.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func TestObjectMirrorCreatesBucketAndPrunes(t *testing.T) {
	ctx := context.Background()
	client := newFakeObjectClient()
	mirror := newObjectMirror(client, "archive", 2)
	require.NoError(t, mirror.ensureBucket(ctx))
	assert.True(t, client.buckets["archive"])

	for id := int64(1); id <= 3; id++ {
		require.NoError(t, mirror.Put(ctx, store.VersionSnapshot{ID: id, SubjectID: "sub_1", Version: id + 1, Content: "c"}))
	}
	require.NoError(t, mirror.Put(ctx, store.VersionSnapshot{ID: 9, SubjectID: "sub_2", Version: 1, Content: "other"}))

	assert.Equal(t, []string{
		"subjects/sub_1/000000000002-v3.html",
		"subjects/sub_1/000000000003-v4.html",
		"subjects/sub_2/000000000009-v1.html",
	}, client.keys())
}
