package types

import (
	"context"
	"strings"
)

const (
	PlaceholderTitle    = "unknown title"
	PlaceholderAuthor   = "unknown author"
	PlaceholderVideoURL = "no video link"
	PlaceholderPreview  = "no preview"
	PlaceholderMusic    = "no music"
)

type VideoInfo struct {
	Platform     string
	Title        string
	Author       string
	URL          string
	PreviewImage string
	MusicURL     string
}

// HasMediaURL reports whether the upstream returned a downloadable link.
func (v *VideoInfo) HasMediaURL() bool {
	u := strings.TrimSpace(v.URL)
	return u != "" && u != PlaceholderVideoURL
}

type GalleryInfo struct {
	Platform string
	Author   string
	Title    string
	Images   []string
	Text     string
	Time     string
}

type Resolver interface {
	ResolveVideo(ctx context.Context, link string) (*VideoInfo, error)
	ResolveGallery(ctx context.Context, link string) (*GalleryInfo, error)
}
