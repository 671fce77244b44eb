package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/grnet/panoramix/internal/events"
	"github.com/grnet/panoramix/internal/merge"
	"github.com/grnet/panoramix/internal/metrics"
	"github.com/grnet/panoramix/internal/model"
	"github.com/grnet/panoramix/internal/normalize"
)

// FetchStage refreshes one stage of user. Completed and pending stages are
// left alone unless forceOverview is set.
func (s *Syncer) FetchStage(ctx context.Context, user, stage string, forceOverview bool) error {
	st, err := s.lookup(user, stage)
	if err != nil {
		return err
	}
	return s.fetchStage(ctx, user, st, forceOverview)
}

// fetchStage fetches the detail of st. When the stage is in flux, or the
// caller forces it, the overview is fetched too and the stage re-derived
// from it; if that moves the stage to another instance, the new instance is
// fetched before anything is merged.
func (s *Syncer) fetchStage(ctx context.Context, user string, st *model.Stage, force bool) error {
	for redirects := 0; ; redirects++ {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrClosed
		}
		skip := (st.Completed || st.Pending) && !force
		urlPath := st.URLPath
		s.mu.Unlock()
		if skip {
			return nil
		}
		if redirects > maxRedirects {
			return fmt.Errorf("fetching %s for %s: %w", urlPath, user, ErrRedirectLoop)
		}

		raw, err := s.api.Stage(ctx, user, urlPath)
		metrics.RecordFetch(metrics.KindStage, err)
		if err != nil {
			return fmt.Errorf("fetching %s for %s: %w", urlPath, user, err)
		}

		var ov *model.Overview
		if force || raw.InFlux() {
			rawOv, err := s.api.Overview(ctx, user)
			metrics.RecordFetch(metrics.KindOverview, err)
			if err != nil {
				return fmt.Errorf("fetching overview for %s: %w", user, err)
			}
			ov = normalize.Overview(rawOv)
		}

		moved, err := s.apply(ctx, user, st, raw, ov)
		if err != nil || !moved {
			return err
		}
		s.logger.Debug("stage instance moved", "user", user, "stage", st.ID, "from", urlPath)
	}
}

// apply normalizes raw and merges it into st. When ov moves the stage to a
// different instance, only the new fetch key is recorded and moved is true.
func (s *Syncer) apply(ctx context.Context, user string, st *model.Stage, raw *model.StagePayload, ov *model.Overview) (moved bool, err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrClosed
	}
	src := s.builder.Build(st.ID, raw, st, ov)
	if ov != nil && src.URLPath != st.URLPath {
		st.URLPath = src.URLPath
		s.mu.Unlock()
		return true, nil
	}
	wasCompleted := st.Completed
	merge.Stage(st, src, false)
	ev := events.NewStageEvent(user, st, "")
	completed := !wasCompleted && st.Completed
	s.mu.Unlock()

	s.publish(ctx, events.TopicStageUpdated, ev)
	if completed {
		s.logger.Info("stage completed", "user", user, "stage", ev.Stage, "instance_id", ev.InstanceID)
		s.publish(ctx, events.TopicStageCompleted, ev)
	}
	return false, nil
}

// RefreshUser fetches every stage of user concurrently. Once all fetches
// have returned, the first completed stage whose successor is neither
// running nor completed gets its successor fetched with the overview, so a
// stage unblocked by the batch shows up without waiting for the next
// refresh.
func (s *Syncer) RefreshUser(ctx context.Context, user string, forceOverview bool) error {
	s.mu.Lock()
	set, ok := s.models[user]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownUser, user)
	}
	ordered := set.Ordered()
	s.mu.Unlock()

	g := s.group()
	for _, st := range ordered {
		g.Go(func() error {
			return s.fetchStage(ctx, user, st, forceOverview)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if next := s.cascadeTarget(ordered); next != nil {
		s.logger.Debug("advancing to unblocked stage", "user", user, "stage", next.ID)
		if err := s.fetchStage(ctx, user, next, true); err != nil {
			return err
		}
	}
	s.publish(ctx, events.TopicRefreshCompleted, events.NewStageEvent(user, nil, ""))
	return nil
}

func (s *Syncer) cascadeTarget(ordered []*model.Stage) *model.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, st := range ordered[:max(len(ordered)-1, 0)] {
		next := ordered[i+1]
		if st.Completed && !next.Running && !next.Completed {
			return next
		}
	}
	return nil
}

// RefreshAll refreshes every registered user concurrently. A failing user
// does not stop the others; the errors are joined.
func (s *Syncer) RefreshAll(ctx context.Context, forceOverview bool) error {
	users := s.Users()
	errs := make([]error, len(users))
	g := s.group()
	for i, user := range users {
		g.Go(func() error {
			errs[i] = s.RefreshUser(ctx, user, forceOverview)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
