package media

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-media/types"
)

type Config struct {
	MaxVideoBytes int64
	MaxWorkers    int
	SummaryCount  string
}

func NewConfig(c *types.ServiceConfig) Config {
	config := Config{
		MaxVideoBytes: int64(c.MaxVideoSizeMB) * 1024 * 1024,
		SummaryCount:  types.SummaryCountDeclared,
		MaxWorkers:    1,
	}
	if c.Batch != nil && c.Batch.SummaryCount != "" {
		config.SummaryCount = c.Batch.SummaryCount
	}
	if c.Download != nil && c.Download.MaxWorkers > 0 {
		config.MaxWorkers = c.Download.MaxWorkers
	}
	return config
}

// Orchestrator turns a share link into an ordered list of deliverables:
// it resolves the link, downloads the media into the store and describes it.
type Orchestrator struct {
	logger   types.Logger
	resolver types.Resolver
	fetcher  types.Fetcher
	store    types.Store
	config   Config
}

func NewOrchestrator(config Config, resolver types.Resolver, fetcher types.Fetcher, store types.Store, logger types.Logger) *Orchestrator {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 1
	}

	return &Orchestrator{
		logger:   logger,
		resolver: resolver,
		fetcher:  fetcher,
		store:    store,
		config:   config,
	}
}

// ResolveVideo returns the video description followed by the video itself.
// The returned media artifact is pinned until the caller releases it.
func (o *Orchestrator) ResolveVideo(ctx context.Context, link string) ([]types.Deliverable, error) {
	info, err := o.resolver.ResolveVideo(ctx, link)
	if err != nil {
		return nil, err
	}

	if !info.HasMediaURL() {
		return nil, types.Errorf(types.ErrNoMediaURL, "video %s", link)
	}

	stream, err := o.fetcher.Fetch(ctx, info.URL, types.MediaVideo)
	if err != nil {
		return nil, err
	}

	if o.oversized(stream.ContentLength) {
		_ = stream.Close()
		return nil, types.Errorf(types.ErrOversizedMedia, "declared %d bytes, limit %d", stream.ContentLength, o.config.MaxVideoBytes)
	}

	artifact, err := o.store.Admit(ctx, stream, types.MediaVideo)
	if err != nil {
		return nil, err
	}

	if o.oversized(artifact.Size) {
		o.store.Discard(artifact)
		return nil, types.Errorf(types.ErrOversizedMedia, "downloaded %d bytes, limit %d", artifact.Size, o.config.MaxVideoBytes)
	}

	o.logger.Info("Video resolved",
		zap.String("platform", info.Platform),
		zap.String("artifact", artifact.ID),
		zap.Int64("size", artifact.Size))

	return []types.Deliverable{
		types.NewText(DescribeVideo(info)),
		types.NewMedia(artifact, info.Title),
	}, nil
}

// ResolveGallery downloads every image of a gallery concurrently and returns
// a header, the images in upstream order each preceded by a position line,
// and a closing summary. Individual download failures are skipped.
func (o *Orchestrator) ResolveGallery(ctx context.Context, link string) ([]types.Deliverable, error) {
	info, err := o.resolver.ResolveGallery(ctx, link)
	if err != nil {
		return nil, err
	}

	images := info.Images
	if len(images) == 0 {
		return nil, types.Errorf(types.ErrGalleryEmpty, "upstream returned no images for %s", link)
	}

	artifacts := o.downloadAll(ctx, images)

	delivered := 0
	for _, artifact := range artifacts {
		if artifact != nil {
			delivered++
		}
	}

	if delivered == 0 {
		return nil, types.Errorf(types.ErrGalleryEmpty, "all %d downloads failed for %s", len(images), link)
	}

	total := len(images)
	items := make([]types.Deliverable, 0, 2*delivered+2)
	items = append(items, types.NewText(DescribeGallery(info, total)))

	for i, artifact := range artifacts {
		if artifact == nil {
			continue
		}
		items = append(items,
			types.NewText(fmt.Sprintf("Image %d/%d", i+1, total)),
			types.NewMedia(artifact, ""))
	}

	count := total
	if o.config.SummaryCount == types.SummaryCountDelivered {
		count = delivered
	}
	items = append(items, types.NewText(fmt.Sprintf("Gallery complete: %d images in total.", count)))

	o.logger.Info("Gallery resolved",
		zap.String("platform", info.Platform),
		zap.Int("declared", total),
		zap.Int("delivered", delivered))

	return items, nil
}

// downloadAll fetches and admits images with bounded concurrency. Slot i of
// the result is nil when image i failed.
func (o *Orchestrator) downloadAll(ctx context.Context, images []string) []*types.Artifact {
	artifacts := make([]*types.Artifact, len(images))

	var g errgroup.Group
	g.SetLimit(o.config.MaxWorkers)

	for i, url := range images {
		g.Go(func() error {
			artifact, err := o.downloadImage(ctx, url)
			if types.IsError(err, types.ErrStoreIO) {
				o.logger.ErrorWithErrStack("Gallery image not cached", err,
					zap.Int("index", i),
					zap.String("url", url))
				return nil
			}
			if err != nil {
				o.logger.Warn("Gallery image skipped",
					zap.Int("index", i),
					zap.String("url", url),
					zap.Error(err))
				return nil
			}
			artifacts[i] = artifact
			return nil
		})
	}

	_ = g.Wait()

	return artifacts
}

func (o *Orchestrator) downloadImage(ctx context.Context, url string) (*types.Artifact, error) {
	stream, err := o.fetcher.Fetch(ctx, url, types.MediaImage)
	if err != nil {
		return nil, err
	}
	return o.store.Admit(ctx, stream, types.MediaImage)
}

func (o *Orchestrator) oversized(size int64) bool {
	return o.config.MaxVideoBytes > 0 && size > o.config.MaxVideoBytes
}

func DescribeVideo(info *types.VideoInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Platform: %s\n", info.Platform)
	fmt.Fprintf(&b, "Title: %s\n", info.Title)
	fmt.Fprintf(&b, "Author: %s\n", info.Author)
	fmt.Fprintf(&b, "No-watermark video: %s\n", orDefault(info.URL, types.PlaceholderVideoURL))
	fmt.Fprintf(&b, "Preview: %s\n", info.PreviewImage)
	fmt.Fprintf(&b, "Music: %s", info.MusicURL)
	return b.String()
}

func DescribeGallery(info *types.GalleryInfo, images int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Platform: %s\n", info.Platform)
	fmt.Fprintf(&b, "Author: %s\n", info.Author)
	if info.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", info.Title)
	}
	if info.Text != "" {
		fmt.Fprintf(&b, "Text: %s\n", info.Text)
	}
	if info.Time != "" {
		fmt.Fprintf(&b, "Published: %s\n", info.Time)
	}
	fmt.Fprintf(&b, "Images: %d", images)
	return b.String()
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
