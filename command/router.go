package command

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-media/metrics"
	"github.com/saiset-co/sai-media/types"
)

const exampleLink = "https://www.douyin.com/example_video_url"

// Router matches chat messages against the configured triggers and runs the
// matching action. Every outcome, errors included, reaches the receiver as
// sink deliveries.
type Router struct {
	logger     types.Logger
	metrics    *metrics.Metrics
	media      types.MediaResolver
	store      types.Store
	scheduler  types.DeliveryScheduler
	sink       types.Sink
	commands   []types.CommandConfig
	burstLimit int
}

type Config struct {
	Commands []types.CommandConfig
	// BurstLimit is the largest number of gallery images sent back to back.
	// Larger galleries are paced by the scheduler.
	BurstLimit int
}

func NewConfig(c *types.ServiceConfig) Config {
	config := Config{Commands: c.Commands}
	if c.Batch != nil {
		config.BurstLimit = c.Batch.ImageLimit
	}
	return config
}

func NewRouter(config Config, media types.MediaResolver, store types.Store, scheduler types.DeliveryScheduler, sink types.Sink, logger types.Logger, m *metrics.Metrics) *Router {
	burstLimit := config.BurstLimit
	if burstLimit < 1 {
		burstLimit = 1
	}

	sorted := make([]types.CommandConfig, 0, len(config.Commands))
	for _, c := range config.Commands {
		if strings.TrimSpace(c.Trigger) != "" {
			sorted = append(sorted, c)
		}
	}

	// Longest trigger first so "parse video hd" is not shadowed by "parse video".
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Trigger) > len(sorted[j].Trigger)
	})

	return &Router{
		logger:     logger,
		metrics:    m,
		media:      media,
		store:      store,
		scheduler:  scheduler,
		sink:       sink,
		commands:   sorted,
		burstLimit: burstLimit,
	}
}

func (r *Router) Handle(ctx context.Context, receiver, content string) (*types.CommandResult, error) {
	if strings.TrimSpace(receiver) == "" {
		return nil, types.Errorf(types.ErrMessageInvalid, "receiver is empty")
	}

	content = strings.TrimSpace(content)

	command, args, ok := r.match(content)
	if !ok {
		return &types.CommandResult{Handled: false}, nil
	}

	r.logger.Info("Command received",
		zap.String("receiver", receiver),
		zap.String("action", string(command.Action)),
		zap.String("content", content))

	result := &types.CommandResult{Handled: true, Action: command.Action}

	switch command.Action {
	case types.ActionVideo, types.ActionGallery:
		if args == "" {
			r.reply(ctx, receiver, result, fmt.Sprintf("Please provide a link, for example: %s <link>", command.Trigger))
			return result, nil
		}
		r.resolve(ctx, receiver, command.Action, args, result)
	case types.ActionClearCache:
		count, freed := r.store.ClearAll()
		r.reply(ctx, receiver, result, fmt.Sprintf("Cache cleared: %d files removed, %s freed.", count, humanize.IBytes(uint64(freed))))
	case types.ActionCacheStatus:
		r.reply(ctx, receiver, result, FormatStatus(r.store.Status(), r.scheduler.Pending()))
	case types.ActionHelp:
		r.reply(ctx, receiver, result, r.HelpText())
	}

	return result, nil
}

func (r *Router) match(content string) (types.CommandConfig, string, bool) {
	for _, c := range r.commands {
		if strings.HasPrefix(content, c.Trigger) {
			return c, strings.TrimSpace(content[len(c.Trigger):]), true
		}
	}
	return types.CommandConfig{}, "", false
}

func (r *Router) resolve(ctx context.Context, receiver string, action types.CommandAction, link string, result *types.CommandResult) {
	var items []types.Deliverable
	var err error

	if action == types.ActionVideo {
		items, err = r.media.ResolveVideo(ctx, link)
	} else {
		items, err = r.media.ResolveGallery(ctx, link)
	}

	if err != nil {
		if types.IsError(err, types.ErrStoreIO) {
			r.logger.ErrorWithErrStack("Media cache write failed", err,
				zap.String("action", string(action)),
				zap.String("link", link))
		} else {
			r.logger.Warn("Media resolution failed",
				zap.String("action", string(action)),
				zap.String("link", link),
				zap.Error(err))
		}
		r.reply(ctx, receiver, result, types.UserMessage(err))
		return
	}

	if action == types.ActionGallery && types.CountMedia(items) > r.burstLimit {
		planID, err := r.scheduler.Enqueue(receiver, items)
		if err != nil {
			types.ReleaseAll(r.store, items)
			r.reply(ctx, receiver, result, types.UserMessage(err))
			return
		}
		result.PlanID = planID
		result.Queued = len(items)
		return
	}

	r.deliver(ctx, receiver, items, result)
}

// deliver sends items in order and stops at the first failure. Artifacts are
// released once delivery ends either way.
func (r *Router) deliver(ctx context.Context, receiver string, items []types.Deliverable, result *types.CommandResult) {
	defer types.ReleaseAll(r.store, items)

	for i, item := range items {
		if err := r.sink.Send(ctx, receiver, item); err != nil {
			r.metrics.Delivery("direct", "failure")
			result.Failures++
			r.logger.Error("Direct delivery failed",
				zap.String("receiver", receiver),
				zap.Int("index", i),
				zap.Int("dropped", len(items)-i-1),
				zap.Error(err))
			return
		}
		r.metrics.Delivery("direct", "success")
		result.Sent++
	}
}

func (r *Router) reply(ctx context.Context, receiver string, result *types.CommandResult, text string) {
	result.Replies = append(result.Replies, text)
	r.deliver(ctx, receiver, []types.Deliverable{types.NewText(text)}, result)
}

func (r *Router) HelpText() string {
	var media, operator []string
	for _, c := range r.commands {
		switch c.Action {
		case types.ActionVideo, types.ActionGallery:
			media = append(media, c.Trigger)
		default:
			operator = append(operator, fmt.Sprintf("'%s'", c.Trigger))
		}
	}
	sort.Strings(media)

	var b strings.Builder
	b.WriteString("Usage:\n")

	example := exampleLink
	if len(media) > 0 {
		example = media[0] + " " + exampleLink
	}
	fmt.Fprintf(&b, "1. Send '%s <link>' to parse a video or gallery link, for example: %s\n", strings.Join(media, "/"), example)
	b.WriteString("2. The bot replies with the parsed details and the media.")

	if len(operator) > 0 {
		sort.Strings(operator)
		fmt.Fprintf(&b, "\nOther commands: %s", strings.Join(operator, ", "))
	}

	return b.String()
}

func FormatStatus(status types.CacheStatus, pendingPlans int) string {
	return fmt.Sprintf("Cache: %d files, %s of %s used, max age %s hours, %d in use, %d deliveries pending.",
		status.Count,
		humanize.IBytes(uint64(status.TotalBytes)),
		humanize.IBytes(uint64(status.MaxBytes)),
		humanize.Ftoa(status.MaxAgeHours),
		status.Pinned,
		pendingPlans)
}
