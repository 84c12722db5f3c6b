package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-media/logger"
	"github.com/saiset-co/sai-media/types"
)

const halfMB = 512 * 1024

type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

type failingReader struct {
	sent int
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.sent > 0 {
		return 0, errors.New("connection reset")
	}
	r.sent = copy(p, []byte("partial"))
	return r.sent, nil
}

func newTestStore(t *testing.T, maxBytes int64) *Store {
	t.Helper()

	s, err := New(Config{
		Dir:       t.TempDir(),
		MaxBytes:  maxBytes,
		MaxAge:    24 * time.Hour,
		ChunkSize: 4096,
	}, logger.NewNop(), nil)
	require.NoError(t, err)

	return s
}

func newStream(url string, size int, knownLength bool) *types.MediaStream {
	length := int64(-1)
	if knownLength {
		length = int64(size)
	}
	return &types.MediaStream{
		Body:          io.NopCloser(bytes.NewReader(bytes.Repeat([]byte{'x'}, size))),
		SourceURL:     url,
		Extension:     ".jpg",
		ContentType:   "image/jpeg",
		ContentLength: length,
	}
}

func admit(t *testing.T, s *Store, url string, size int, knownLength bool) *types.Artifact {
	t.Helper()

	artifact, err := s.Admit(context.Background(), newStream(url, size, knownLength), types.MediaImage)
	require.NoError(t, err)
	return artifact
}

func age(t *testing.T, artifact *types.Artifact, d time.Duration) {
	t.Helper()

	ts := time.Now().Add(-d)
	require.NoError(t, os.Chtimes(artifact.Path, ts, ts))
}

func TestAdmitWritesPinnedArtifact(t *testing.T) {
	s := newTestStore(t, 10<<20)

	body := &trackingBody{Reader: strings.NewReader("hello media")}
	artifact, err := s.Admit(context.Background(), &types.MediaStream{
		Body:          body,
		SourceURL:     "https://cdn.example.com/a.mp4",
		Extension:     ".mp4",
		ContentLength: 11,
	}, types.MediaVideo)
	require.NoError(t, err)

	assert.True(t, body.closed)
	assert.Equal(t, int64(11), artifact.Size)
	assert.Equal(t, types.MediaVideo, artifact.Kind)
	assert.Equal(t, filepath.Join(s.Dir(), artifact.ID), artifact.Path)
	assert.True(t, strings.HasSuffix(artifact.ID, ".mp4"))
	assert.Contains(t, artifact.ID, "_")

	status := s.Status()
	assert.Equal(t, 1, status.Count)
	assert.Equal(t, int64(11), status.TotalBytes)
	assert.Equal(t, 1, status.Pinned)

	s.Release(artifact)
	assert.Equal(t, 0, s.Status().Pinned)
	assert.FileExists(t, artifact.Path)

	r, err := s.Open(artifact)
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello media", string(data))
}

func TestAdmitEvictsOldestWhenFull(t *testing.T) {
	for _, known := range []bool{true, false} {
		s := newTestStore(t, 1<<20)

		a := admit(t, s, "https://e/a", halfMB, known)
		s.Release(a)
		age(t, a, 2*time.Minute)

		b := admit(t, s, "https://e/b", halfMB, known)
		s.Release(b)
		age(t, b, time.Minute)

		c := admit(t, s, "https://e/c", halfMB, known)
		s.Release(c)

		assert.NoFileExists(t, a.Path)
		assert.FileExists(t, b.Path)
		assert.FileExists(t, c.Path)

		status := s.Status()
		assert.Equal(t, 2, status.Count)
		assert.LessOrEqual(t, status.TotalBytes, int64(1<<20))
	}
}

func TestAdmitKnownLengthMakesRoomAhead(t *testing.T) {
	s := newTestStore(t, 1<<20)

	a := admit(t, s, "https://e/a", halfMB, true)
	s.Release(a)
	age(t, a, time.Minute)

	b := admit(t, s, "https://e/b", 700*1024, true)
	s.Release(b)

	assert.NoFileExists(t, a.Path)
	assert.FileExists(t, b.Path)
}

func TestAdmitEvictsByCreationPrefixBeforeModTime(t *testing.T) {
	s := newTestStore(t, 1<<20)
	payload := bytes.Repeat([]byte{'x'}, halfMB)

	older := filepath.Join(s.Dir(), "1700000000_aa.jpg")
	newer := filepath.Join(s.Dir(), "1700000100_bb.jpg")
	require.NoError(t, os.WriteFile(older, payload, 0644))
	require.NoError(t, os.WriteFile(newer, payload, 0644))

	touched := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(newer, touched.Add(-time.Hour), touched.Add(-time.Hour)))
	require.NoError(t, os.Chtimes(older, touched, touched))

	c := admit(t, s, "https://e/c", halfMB, true)
	s.Release(c)

	assert.NoFileExists(t, older)
	assert.FileExists(t, newer)
	assert.FileExists(t, c.Path)
}

func TestAdmitEvictsUnprefixedFileByModTime(t *testing.T) {
	s := newTestStore(t, 1<<20)
	payload := bytes.Repeat([]byte{'x'}, halfMB)

	legacy := filepath.Join(s.Dir(), "legacy.jpg")
	require.NoError(t, os.WriteFile(legacy, payload, 0644))
	ts := time.Unix(1600000000, 0)
	require.NoError(t, os.Chtimes(legacy, ts, ts))

	recent := filepath.Join(s.Dir(), "1700000000_aa.jpg")
	require.NoError(t, os.WriteFile(recent, payload, 0644))

	c := admit(t, s, "https://e/c", halfMB, true)
	s.Release(c)

	assert.NoFileExists(t, legacy)
	assert.FileExists(t, recent)
}

func TestAdmitNeverEvictsPinnedFiles(t *testing.T) {
	s := newTestStore(t, 1<<20)

	a := admit(t, s, "https://e/a", halfMB, true)
	age(t, a, 2*time.Minute)

	b := admit(t, s, "https://e/b", halfMB, true)
	s.Release(b)
	age(t, b, time.Minute)

	c := admit(t, s, "https://e/c", halfMB, true)

	assert.FileExists(t, a.Path)
	assert.NoFileExists(t, b.Path)
	assert.FileExists(t, c.Path)
}

func TestEvictExpired(t *testing.T) {
	s := newTestStore(t, 10<<20)

	old := admit(t, s, "https://e/old", 100, true)
	s.Release(old)
	age(t, old, 25*time.Hour)

	fresh := admit(t, s, "https://e/fresh", 200, true)
	s.Release(fresh)

	count, freed := s.EvictExpired()
	assert.Equal(t, 1, count)
	assert.Equal(t, int64(100), freed)
	assert.NoFileExists(t, old.Path)
	assert.FileExists(t, fresh.Path)
}

func TestEvictExpiredSkipsPinned(t *testing.T) {
	s := newTestStore(t, 10<<20)

	old := admit(t, s, "https://e/old", 100, true)
	age(t, old, 48*time.Hour)

	count, _ := s.EvictExpired()
	assert.Equal(t, 0, count)
	assert.FileExists(t, old.Path)

	s.Release(old)
	count, _ = s.EvictExpired()
	assert.Equal(t, 1, count)
}

func TestClearAll(t *testing.T) {
	s := newTestStore(t, 10<<20)

	count, freed := s.ClearAll()
	assert.Equal(t, 0, count)
	assert.Equal(t, int64(0), freed)

	released := admit(t, s, "https://e/a", 300, true)
	s.Release(released)
	pinned := admit(t, s, "https://e/b", 400, true)

	count, freed = s.ClearAll()
	assert.Equal(t, 1, count)
	assert.Equal(t, int64(300), freed)
	assert.FileExists(t, pinned.Path)

	s.Release(pinned)
	count, freed = s.ClearAll()
	assert.Equal(t, 1, count)
	assert.Equal(t, int64(400), freed)
	assert.Equal(t, 0, s.Status().Count)
}

func TestDiscardRemovesFile(t *testing.T) {
	s := newTestStore(t, 10<<20)

	artifact := admit(t, s, "https://e/v", 1000, true)
	s.Discard(artifact)

	assert.NoFileExists(t, artifact.Path)
	status := s.Status()
	assert.Equal(t, 0, status.Count)
	assert.Equal(t, 0, status.Pinned)
}

func TestAdmitWriteFailureRemovesPartialFile(t *testing.T) {
	s := newTestStore(t, 10<<20)

	_, err := s.Admit(context.Background(), &types.MediaStream{
		Body:          io.NopCloser(&failingReader{}),
		SourceURL:     "https://e/broken",
		Extension:     ".png",
		ContentLength: -1,
	}, types.MediaImage)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrStoreIO)

	status := s.Status()
	assert.Equal(t, 0, status.Count)
	assert.Equal(t, 0, status.Pinned)
}

func TestAdmitNilStream(t *testing.T) {
	s := newTestStore(t, 10<<20)

	_, err := s.Admit(context.Background(), nil, types.MediaImage)
	assert.ErrorIs(t, err, types.ErrStoreStreamNil)
}

func TestAdmitCancelledContext(t *testing.T) {
	s := newTestStore(t, 10<<20)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Admit(ctx, newStream("https://e/a", 10, true), types.MediaImage)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Status().Count)
}

func TestConcurrentAdmitsProduceDistinctFiles(t *testing.T) {
	s := newTestStore(t, 10<<20)

	const workers = 20

	var wg sync.WaitGroup
	ids := make([]string, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			artifact, err := s.Admit(context.Background(), newStream("https://e/same", 10*1024, true), types.MediaImage)
			errs[i] = err
			if err == nil {
				ids[i] = artifact.ID
				s.Release(artifact)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, workers)
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		seen[ids[i]] = struct{}{}
	}

	assert.Len(t, seen, workers)
	assert.Equal(t, workers, s.Status().Count)
}

func TestNewRejectsEmptyDir(t *testing.T) {
	_, err := New(Config{}, logger.NewNop(), nil)
	assert.ErrorIs(t, err, types.ErrStoreIO)
}
