package types

import (
	"context"
	"io"
	"time"
)

type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaImage MediaKind = "image"
)

func (k MediaKind) Valid() bool {
	return k == MediaVideo || k == MediaImage
}

// MediaStream is an open response body returned by a Fetcher. The caller
// owns it and must Close it.
type MediaStream struct {
	Body          io.ReadCloser
	SourceURL     string
	ContentType   string
	Extension     string
	ContentLength int64
}

func (s *MediaStream) Close() error {
	if s == nil || s.Body == nil {
		return nil
	}
	return s.Body.Close()
}

type Fetcher interface {
	Fetch(ctx context.Context, url string, kind MediaKind) (*MediaStream, error)
}

// Artifact references a downloaded file in the cache directory. It is a
// plain value: the file is opened only when a sink transports it.
type Artifact struct {
	ID        string
	Path      string
	Size      int64
	CreatedAt time.Time
	Kind      MediaKind
	SourceURL string
}

type CacheStatus struct {
	Count       int     `json:"count"`
	TotalBytes  int64   `json:"total_bytes"`
	MaxBytes    int64   `json:"max_bytes"`
	MaxAgeHours float64 `json:"max_age_hours"`
	Pinned      int     `json:"pinned"`
}

type ArtifactReleaser interface {
	Release(artifact *Artifact)
}

type ArtifactOpener interface {
	Open(artifact *Artifact) (io.ReadCloser, error)
}

type Store interface {
	ArtifactReleaser
	ArtifactOpener
	Admit(ctx context.Context, stream *MediaStream, kind MediaKind) (*Artifact, error)
	Discard(artifact *Artifact)
	EvictExpired() (int, int64)
	ClearAll() (int, int64)
	Status() CacheStatus
}

// MediaResolver turns a share link into ordered deliverables whose media
// artifacts are pinned until released.
type MediaResolver interface {
	ResolveVideo(ctx context.Context, link string) ([]Deliverable, error)
	ResolveGallery(ctx context.Context, link string) ([]Deliverable, error)
}
