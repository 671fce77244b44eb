// Package stages keeps the per-user stage models of a negotiation in sync
// with the backend.
//
// A Syncer owns every model it hands out. Network calls run without holding
// its lock; normalization and merging run under it, so a merge never
// interleaves with another merge or with a reader using View.
package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/grnet/panoramix/internal/client"
	"github.com/grnet/panoramix/internal/events"
	"github.com/grnet/panoramix/internal/merge"
	"github.com/grnet/panoramix/internal/metrics"
	"github.com/grnet/panoramix/internal/model"
	"github.com/grnet/panoramix/internal/normalize"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnknownUser  = errors.New("stages: unknown user")
	ErrUnknownStage = errors.New("stages: unknown stage")
	ErrRedirectLoop = errors.New("stages: stage instance keeps moving")
	ErrClosed       = errors.New("stages: syncer closed")
)

// maxRedirects bounds how often one fetch follows a moved instance.
const maxRedirects = 4

// CompletedFunc is called after a contribute completed a stage and the
// follow-up refresh has been merged.
type CompletedFunc func(user, stage, path string)

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

// WithPublisher sets the model-changed event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Syncer) { s.pub = p }
}

// WithBuilder sets the stage normalizer, and with it the peer registry.
func WithBuilder(b *normalize.Builder) Option {
	return func(s *Syncer) { s.builder = b }
}

// WithConcurrency limits concurrent stage fetches per user. Zero or less
// means unlimited.
func WithConcurrency(n int) Option {
	return func(s *Syncer) { s.concurrency = n }
}

// OnStageCompleted registers fn as the completion hook.
func OnStageCompleted(fn CompletedFunc) Option {
	return func(s *Syncer) { s.onCompleted = fn }
}

// Syncer is the stage orchestrator.
type Syncer struct {
	api         *client.API
	builder     *normalize.Builder
	pub         events.Publisher
	logger      *slog.Logger
	concurrency int
	onCompleted CompletedFunc

	mu     sync.Mutex
	users  []string
	models map[string]*model.StageSet
	closed bool
}

// New creates a Syncer talking to the backend through t.
func New(t client.Transport, opts ...Option) *Syncer {
	s := &Syncer{
		api:    client.NewAPI(t),
		models: make(map[string]*model.StageSet),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.builder == nil {
		s.builder = normalize.NewBuilder(nil, nil)
	}
	if s.pub == nil {
		s.pub = &events.NoopPublisher{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Init loads the stage list of user from the overview and fetches the detail
// of every stage that is not pending. The user's model is registered even
// when some detail fetch fails; the error is returned.
func (s *Syncer) Init(ctx context.Context, user string) error {
	raw, err := s.api.Overview(ctx, user)
	metrics.RecordFetch(metrics.KindOverview, err)
	if err != nil {
		return fmt.Errorf("loading stages of %s: %w", user, err)
	}
	ov := normalize.Overview(raw)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	set := model.NewStageSet()
	for _, id := range raw.Meta.Order {
		set.Add(s.initStage(id, raw.Meta.ByID[id], raw, ov))
	}
	if !slices.Contains(s.users, user) {
		s.users = append(s.users, user)
	}
	s.models[user] = set
	ordered := set.Ordered()
	s.mu.Unlock()

	s.logger.Info("stages loaded", "user", user, "stages", len(ordered), "next_stage", ov.NextStage)

	g := s.group()
	for _, st := range ordered {
		g.Go(func() error {
			return s.fetchStage(ctx, user, st, false)
		})
	}
	return g.Wait()
}

// initStage builds the initial model of stage id. Callers hold s.mu.
func (s *Syncer) initStage(id string, info model.StageInfo, raw *model.OverviewPayload, ov *model.Overview) *model.Stage {
	st := model.NewStage(id)
	st.Analysis = map[string]any{}
	normalize.DeriveState(id, st, info.RawState(), ov).Apply(st)
	st.GlobalNegotiation = raw.GlobalNegotiationID.String()
	st.Negotiation = info.StageNegotiationID.String()
	st.MetaFor(st.Path).Options = map[string]any{
		"id":          info.ID.String(),
		"title":       info.Title,
		"description": info.Description,
		"consensus":   info.Consensus,
	}
	if last, ok := ov.LastReport(id); ok && last.Completed {
		merge.Stage(st, s.builder.Build(id, last.Payload(), st, ov), false)
	}
	return st
}

// Users returns the registered users in registration order.
func (s *Syncer) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.users)
}

// View calls fn with the model of user while holding the Syncer's lock. fn
// must not retain the set or call back into the Syncer.
func (s *Syncer) View(user string, fn func(*model.StageSet)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.models[user]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUser, user)
	}
	fn(set)
	return nil
}

// RunningPaths returns the path of every running stage of every user.
func (s *Syncer) RunningPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var paths []string
	for _, user := range s.users {
		for _, st := range s.models[user].Ordered() {
			if st.Running && !slices.Contains(paths, st.Path) {
				paths = append(paths, st.Path)
			}
		}
	}
	return paths
}

// UserSnapshot is one user's models in declared order.
type UserSnapshot struct {
	User   string         `json:"user"`
	Stages []*model.Stage `json:"stages"`
}

// Snapshot encodes every model as JSON.
func (s *Syncer) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UserSnapshot, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, UserSnapshot{User: user, Stages: s.models[user].Ordered()})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// Close stops the Syncer from applying results. Requests in flight finish,
// but their results are discarded and they return ErrClosed.
func (s *Syncer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Syncer) lookup(user, stage string) (*model.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	set, ok := s.models[user]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, user)
	}
	st, ok := set.Get(stage)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownStage, user, stage)
	}
	return st, nil
}

func (s *Syncer) group() *errgroup.Group {
	g := &errgroup.Group{}
	if s.concurrency > 0 {
		g.SetLimit(s.concurrency)
	}
	return g
}

func (s *Syncer) publish(ctx context.Context, topic string, ev events.StageEvent) {
	if err := s.pub.Publish(ctx, topic, ev); err != nil {
		s.logger.Warn("publishing event failed", "topic", topic, "user", ev.User, "stage", ev.Stage, "err", err)
	}
}
