package types

import (
	"context"
	"time"
)

type DeliverableKind int

const (
	DeliverableText DeliverableKind = iota
	DeliverableMedia
)

func (k DeliverableKind) String() string {
	if k == DeliverableMedia {
		return "media"
	}
	return "text"
}

// Deliverable is one unit of outbound content. Construct it with NewText or
// NewMedia; it is passed by value and never mutated afterwards.
type Deliverable struct {
	kind    DeliverableKind
	text    string
	caption string
	media   *Artifact
}

func NewText(text string) Deliverable {
	return Deliverable{kind: DeliverableText, text: text}
}

func NewMedia(artifact *Artifact, caption string) Deliverable {
	return Deliverable{kind: DeliverableMedia, media: artifact, caption: caption}
}

func (d Deliverable) Kind() DeliverableKind { return d.kind }
func (d Deliverable) Text() string          { return d.text }
func (d Deliverable) Caption() string       { return d.caption }
func (d Deliverable) Artifact() *Artifact   { return d.media }

func (d Deliverable) IsMedia() bool {
	return d.kind == DeliverableMedia && d.media != nil
}

// ReleaseAll returns every artifact loaned to items back to the releaser.
func ReleaseAll(releaser ArtifactReleaser, items []Deliverable) {
	if releaser == nil {
		return
	}
	for _, item := range items {
		if item.IsMedia() {
			releaser.Release(item.media)
		}
	}
}

// CountMedia returns the number of media items in items.
func CountMedia(items []Deliverable) int {
	n := 0
	for _, item := range items {
		if item.IsMedia() {
			n++
		}
	}
	return n
}

type Sink interface {
	Send(ctx context.Context, receiver string, item Deliverable) error
}

type PlanState int32

const (
	PlanPending PlanState = iota
	PlanSending
	PlanCompleted
	PlanFailed
)

func (s PlanState) String() string {
	switch s {
	case PlanPending:
		return "pending"
	case PlanSending:
		return "sending"
	case PlanCompleted:
		return "completed"
	case PlanFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type DeliveryPlan struct {
	ID         string
	Receiver   string
	Items      []Deliverable
	Index      int
	NextSendAt time.Time
	State      PlanState
	CreatedAt  time.Time
}

func (p *DeliveryPlan) Done() bool {
	return p.Index >= len(p.Items)
}

type DeliveryScheduler interface {
	LifecycleManager
	Enqueue(receiver string, items []Deliverable) (string, error)
	Pending() int
}
