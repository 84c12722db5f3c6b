package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-media/metrics"
	"github.com/saiset-co/sai-media/types"
)

const (
	ReasonSize    = "size"
	ReasonAge     = "age"
	ReasonClear   = "clear"
	ReasonDiscard = "discard"

	defaultChunkSize = 8192
	createAttempts   = 3
)

type Config struct {
	Dir       string
	MaxBytes  int64
	MaxAge    time.Duration
	ChunkSize int
}

func NewConfig(c *types.MediaCacheConfig) Config {
	return Config{
		Dir:       c.Dir,
		MaxBytes:  c.MaxBytes(),
		MaxAge:    c.MaxAge(),
		ChunkSize: c.ChunkSize,
	}
}

// Store is a flat directory of downloaded media bounded by total size and
// file age. Files handed out by Admit stay pinned until released and are
// never evicted while pinned.
type Store struct {
	logger  types.Logger
	metrics *metrics.Metrics
	config  Config
	mu      sync.Mutex
	pins    map[string]int
	seq     atomic.Uint64
	now     func() time.Time
}

type entry struct {
	name    string
	size    int64
	modTime time.Time
}

// createdAt reads the creation second from the "{unix}_" name prefix and
// falls back to the modification time for names without one.
func (e entry) createdAt() time.Time {
	prefix, _, ok := strings.Cut(e.name, "_")
	if !ok {
		return e.modTime
	}
	sec, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return e.modTime
	}
	return time.Unix(sec, 0)
}

func New(config Config, logger types.Logger, m *metrics.Metrics) (*Store, error) {
	if config.Dir == "" {
		return nil, types.Errorf(types.ErrStoreIO, "cache directory is empty")
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = defaultChunkSize
	}

	dir, err := filepath.Abs(config.Dir)
	if err != nil {
		return nil, errors.WithStack(types.Errorf(types.ErrStoreIO, "resolve %s: %v", config.Dir, err))
	}
	config.Dir = dir

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WithStack(types.Errorf(types.ErrStoreIO, "create %s: %v", dir, err))
	}

	return &Store{
		logger:  logger,
		metrics: m,
		config:  config,
		pins:    make(map[string]int),
		now:     time.Now,
	}, nil
}

func (s *Store) Dir() string {
	return s.config.Dir
}

// Admit makes room for the stream, creates its file and copies the body
// into it. Eviction and file creation happen under the cache lock; the copy
// does not. The stream is always closed.
func (s *Store) Admit(ctx context.Context, stream *types.MediaStream, kind types.MediaKind) (*types.Artifact, error) {
	if stream == nil || stream.Body == nil {
		return nil, types.ErrStoreStreamNil
	}
	defer stream.Close()

	if err := ctx.Err(); err != nil {
		return nil, types.WrapError(err, "admit cancelled")
	}

	createdAt := s.now()

	s.mu.Lock()
	count, freed := s.makeRoomLocked(stream.ContentLength)
	name, file, err := s.createLocked(stream.SourceURL, stream.Extension, createdAt)
	if err == nil {
		s.pins[name]++
	}
	s.mu.Unlock()

	if count > 0 {
		s.metrics.Evicted(ReasonSize, count, freed)
		s.logger.Debug("Evicted cache files to admit download",
			zap.Int("files", count),
			zap.Int64("bytes", freed))
	}

	if err != nil {
		return nil, err
	}

	path := s.path(name)
	written, err := s.copyChunks(ctx, file, stream.Body)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = closeErr
	}

	if err != nil {
		s.mu.Lock()
		s.unpinLocked(name)
		s.removeLocked(name)
		s.mu.Unlock()

		return nil, errors.WithStack(types.Errorf(types.ErrStoreIO, "write %s: %v", name, err))
	}

	s.metrics.FetchedBytes(kind, written)

	return &types.Artifact{
		ID:        name,
		Path:      path,
		Size:      written,
		CreatedAt: createdAt,
		Kind:      kind,
		SourceURL: stream.SourceURL,
	}, nil
}

// EvictExpired removes unpinned files older than the configured maximum age.
func (s *Store) EvictExpired() (int, int64) {
	cutoff := s.now().Add(-s.config.MaxAge)

	s.mu.Lock()
	count, freed := s.removeWhereLocked(func(e entry) bool {
		return e.modTime.Before(cutoff)
	})
	s.mu.Unlock()

	s.metrics.Evicted(ReasonAge, count, freed)

	return count, freed
}

// ClearAll removes every unpinned file.
func (s *Store) ClearAll() (int, int64) {
	s.mu.Lock()
	count, freed := s.removeWhereLocked(func(entry) bool { return true })
	s.mu.Unlock()

	s.metrics.Evicted(ReasonClear, count, freed)

	return count, freed
}

func (s *Store) Release(artifact *types.Artifact) {
	if artifact == nil {
		return
	}

	s.mu.Lock()
	s.unpinLocked(artifact.ID)
	s.mu.Unlock()
}

// Discard unpins the artifact and deletes its file.
func (s *Store) Discard(artifact *types.Artifact) {
	if artifact == nil {
		return
	}

	s.mu.Lock()
	delete(s.pins, artifact.ID)
	removed := s.removeLocked(artifact.ID)
	s.mu.Unlock()

	if removed {
		s.metrics.Evicted(ReasonDiscard, 1, artifact.Size)
	}
}

func (s *Store) Open(artifact *types.Artifact) (io.ReadCloser, error) {
	if artifact == nil {
		return nil, types.ErrStoreStreamNil
	}

	file, err := os.Open(s.path(artifact.ID))
	if err != nil {
		return nil, errors.WithStack(types.Errorf(types.ErrStoreIO, "open %s: %v", artifact.ID, err))
	}

	return file, nil
}

func (s *Store) Status() types.CacheStatus {
	s.mu.Lock()
	entries := s.listLocked()
	pinned := len(s.pins)
	s.mu.Unlock()

	var total int64
	for _, e := range entries {
		total += e.size
	}

	s.metrics.SetCacheUsage(len(entries), total)

	return types.CacheStatus{
		Count:       len(entries),
		TotalBytes:  total,
		MaxBytes:    s.config.MaxBytes,
		MaxAgeHours: s.config.MaxAge.Hours(),
		Pinned:      pinned,
	}
}

func (s *Store) makeRoomLocked(incoming int64) (int, int64) {
	entries := s.listLocked()
	sort.Slice(entries, func(i, j int) bool {
		ci, cj := entries[i].createdAt(), entries[j].createdAt()
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		if !entries[i].modTime.Equal(entries[j].modTime) {
			return entries[i].modTime.Before(entries[j].modTime)
		}
		return entries[i].name < entries[j].name
	})

	var total int64
	for _, e := range entries {
		total += e.size
	}

	var count int
	var freed int64

	for _, e := range entries {
		if !s.overLimit(total, incoming) {
			break
		}
		if s.pins[e.name] > 0 {
			continue
		}
		if !s.removeLocked(e.name) {
			continue
		}
		total -= e.size
		freed += e.size
		count++
	}

	return count, freed
}

func (s *Store) overLimit(total, incoming int64) bool {
	if total >= s.config.MaxBytes {
		return true
	}
	return incoming > 0 && total+incoming > s.config.MaxBytes
}

func (s *Store) removeWhereLocked(match func(entry) bool) (int, int64) {
	var count int
	var freed int64

	for _, e := range s.listLocked() {
		if s.pins[e.name] > 0 || !match(e) {
			continue
		}
		if s.removeLocked(e.name) {
			count++
			freed += e.size
		}
	}

	return count, freed
}

func (s *Store) createLocked(sourceURL, ext string, createdAt time.Time) (string, *os.File, error) {
	var lastErr error

	for i := 0; i < createAttempts; i++ {
		name := s.fileName(sourceURL, ext, createdAt)
		file, err := os.OpenFile(s.path(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return name, file, nil
		}
		lastErr = err
		if !os.IsExist(err) {
			break
		}
	}

	return "", nil, errors.WithStack(types.Errorf(types.ErrStoreIO, "create file: %v", lastErr))
}

func (s *Store) fileName(sourceURL, ext string, createdAt time.Time) string {
	key := sourceURL + "|" + strconv.FormatInt(createdAt.UnixNano(), 10) + "|" + strconv.FormatUint(s.seq.Add(1), 10)
	return strconv.FormatInt(createdAt.Unix(), 10) + "_" + strconv.FormatUint(xxhash.Sum64String(key), 16) + ext
}

func (s *Store) copyChunks(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, s.config.ChunkSize)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			w, err := dst.Write(buf[:n])
			written += int64(w)
			if err != nil {
				return written, err
			}
		}

		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

func (s *Store) listLocked() []entry {
	dirEntries, err := os.ReadDir(s.config.Dir)
	if err != nil {
		s.logger.Warn("Failed to list cache directory",
			zap.String("dir", s.config.Dir),
			zap.Error(err))
		return nil
	}

	entries := make([]entry, 0, len(dirEntries))
	for _, d := range dirEntries {
		if !d.Type().IsRegular() {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		entries = append(entries, entry{
			name:    d.Name(),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}

	return entries
}

func (s *Store) removeLocked(name string) bool {
	if err := os.Remove(s.path(name)); err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to delete cache file",
				zap.String("file", name),
				zap.Error(err))
		}
		return false
	}
	return true
}

func (s *Store) unpinLocked(name string) {
	if s.pins[name] <= 1 {
		delete(s.pins, name)
		return
	}
	s.pins[name]--
}

func (s *Store) path(name string) string {
	return filepath.Join(s.config.Dir, filepath.Base(name))
}
