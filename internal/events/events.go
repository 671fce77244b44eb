// Package events carries "model changed" notifications from the stage
// orchestrator to whoever renders the model.
package events

import (
	"context"

	"github.com/grnet/panoramix/internal/idgen"
	"github.com/grnet/panoramix/internal/model"
)

// Event topic constants
const (
	TopicStageUpdated     = "zeus.stage.updated"
	TopicStageCompleted   = "zeus.stage.completed"
	TopicFieldUpdated     = "zeus.field.updated"
	TopicRefreshCompleted = "zeus.refresh.completed"

	// TopicAll matches every console topic.
	TopicAll = "zeus.>"
)

// StageEvent describes a stage after a merge. Path is set for field updates;
// refresh events carry only ID and User.
type StageEvent struct {
	ID         string `json:"id"`
	User       string `json:"user"`
	Stage      string `json:"stage,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
	Running    bool   `json:"running"`
	Completed  bool   `json:"completed"`
	Pending    bool   `json:"pending"`
	Path       string `json:"path,omitempty"`
}

// NewStageEvent snapshots s for user. s may be nil.
func NewStageEvent(user string, s *model.Stage, path string) StageEvent {
	id, _ := idgen.Generate()
	ev := StageEvent{ID: id, User: user, Path: path}
	if s != nil {
		ev.Stage = s.ID
		ev.InstanceID = s.InstanceID
		ev.Running = s.Running
		ev.Completed = s.Completed
		ev.Pending = s.Pending
	}
	return ev
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
