package types

import "context"

type CommandAction string

const (
	ActionVideo       CommandAction = "video"
	ActionGallery     CommandAction = "gallery"
	ActionClearCache  CommandAction = "clear_cache"
	ActionCacheStatus CommandAction = "cache_status"
	ActionHelp        CommandAction = "help"
)

type CommandResult struct {
	Handled  bool          `json:"handled"`
	Action   CommandAction `json:"action,omitempty"`
	PlanID   string        `json:"plan_id,omitempty"`
	Sent     int           `json:"sent"`
	Queued   int           `json:"queued"`
	Replies  []string      `json:"replies,omitempty"`
	Failures int           `json:"failures"`
}

type CommandRouter interface {
	Handle(ctx context.Context, receiver, content string) (*CommandResult, error)
}
