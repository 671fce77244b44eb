package stages

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/grnet/panoramix/internal/docpath"
	"github.com/grnet/panoramix/internal/events"
	"github.com/grnet/panoramix/internal/merge"
	"github.com/grnet/panoramix/internal/metrics"
	"github.com/grnet/panoramix/internal/model"
	"github.com/grnet/panoramix/internal/normalize"
)

// Contribute posts the advance action of a stage and merges the result
// against a fresh overview. All users are then refreshed; when the action
// flipped the stage's completed flag they are refreshed a second time and
// the completion hook runs. completed reports whether the flip happened.
func (s *Syncer) Contribute(ctx context.Context, user, stage string) (completed bool, err error) {
	st, err := s.lookup(user, stage)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	urlPath, wasCompleted := st.URLPath, st.Completed
	s.mu.Unlock()

	raw, err := s.api.Contribute(ctx, user, urlPath)
	metrics.RecordFetch(metrics.KindContribute, err)
	if err != nil {
		return false, fmt.Errorf("contributing to %s for %s: %w", urlPath, user, err)
	}
	rawOv, err := s.api.Overview(ctx, user)
	metrics.RecordFetch(metrics.KindOverview, err)
	if err != nil {
		return false, fmt.Errorf("fetching overview for %s: %w", user, err)
	}
	if err := s.applyContribution(ctx, user, st, raw, normalize.Overview(rawOv)); err != nil {
		return false, err
	}

	if err := s.RefreshAll(ctx, false); err != nil {
		return false, err
	}
	s.mu.Lock()
	completed = st.Completed != wasCompleted
	path := st.Path
	s.mu.Unlock()
	if !completed {
		return false, nil
	}

	if err := s.RefreshAll(ctx, false); err != nil {
		return true, err
	}
	if s.onCompleted != nil {
		s.onCompleted(user, stage, path)
	}
	return true, nil
}

// applyContribution merges raw into st, following ov even when it moves the
// stage to another instance.
func (s *Syncer) applyContribution(ctx context.Context, user string, st *model.Stage, raw *model.StagePayload, ov *model.Overview) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	wasCompleted := st.Completed
	src := s.builder.Build(st.ID, raw, st, ov)
	merge.Stage(st, src, false)
	ev := events.NewStageEvent(user, st, "")
	completed := !wasCompleted && st.Completed
	s.mu.Unlock()

	s.publish(ctx, events.TopicStageUpdated, ev)
	if completed {
		s.publish(ctx, events.TopicStageCompleted, ev)
	}
	return nil
}

// UpdateField writes value to the field at path (e.g. "/stage_A/x/y") of a
// stage. The field's meta is marked updating until the call returns, on
// success and failure alike. Unless the field's action is computed by the
// backend, the wire value is written to the local document before posting.
func (s *Syncer) UpdateField(ctx context.Context, user, stage, path string, value any) (err error) {
	st, err := s.lookup(user, stage)
	if err != nil {
		return err
	}
	key := docpath.StripRoot(path)
	if key == "" {
		return fmt.Errorf("updating %s: %w", path, &docpath.InvalidPathError{Path: path})
	}

	s.mu.Lock()
	meta := st.MetaFor(path)
	params := ParamValue(st.Document, meta, key, value)
	meta.Updating = true
	if meta.SetsValue() {
		docpath.Set(st.Document, key, params)
	}
	urlPath := st.URLPath
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		meta.Updating = false
		s.mu.Unlock()
		metrics.RecordFieldUpdate(err)
	}()

	raw, err := s.api.Update(ctx, user, urlPath, key, params)
	metrics.RecordFetch(metrics.KindUpdate, err)
	if err != nil {
		return fmt.Errorf("updating %s of %s for %s: %w", key, urlPath, user, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	merge.Stage(st, s.builder.Build(st.ID, raw, st, nil), false)
	ev := events.NewStageEvent(user, st, path)
	s.mu.Unlock()

	s.publish(ctx, events.TopicFieldUpdated, ev)
	return nil
}

// ParamValue computes the wire value of an edit of key.
//
// Closing a dict field sends "lock". A choices field sends its value, or nil
// when empty, coerced to an integer for int fields. A computed action sends
// the parameters it declares, taken from the stage document. Other int
// fields are coerced; everything else is sent as given.
func ParamValue(document map[string]any, meta *model.PathMeta, key string, value any) any {
	if meta == nil {
		meta = &model.PathMeta{}
	}
	if meta.Type == model.TypeDict && value == model.LockValue {
		return model.ActionLock
	}
	if meta.Action == model.ActionChoices {
		if meta.Type == model.TypeInt {
			return toInt(value)
		}
		if !truthy(value) {
			return nil
		}
		return value
	}
	if meta.IsCompute() {
		inst := map[string]any{}
		for _, param := range meta.Params {
			if v, ok := document[param]; ok && truthy(v) {
				inst[param] = v
			}
		}
		return inst
	}
	if meta.Type == model.TypeInt {
		return toInt(value)
	}
	return value
}

// toInt coerces value to an int, or nil when it is empty or has no leading
// digits.
func toInt(value any) any {
	if !truthy(value) {
		return nil
	}
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		return leadingInt(v)
	}
	return nil
}

// leadingInt parses the optionally signed run of digits that starts s after
// leading whitespace, so "12abc" is 12 and "1.5" is 1. It returns nil when
// there are no digits.
func leadingInt(s string) any {
	s = strings.TrimLeft(s, " \t\n\r")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return nil
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return nil
	}
	return n
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	}
	return true
}
