// Package console is the edit controller behind the election console. It
// owns the stage models of every user, the set of expanded paths, the
// status dialog, and the background refresh loop, and turns every backend
// failure into a user notification.
package console

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grnet/panoramix/internal/client"
	"github.com/grnet/panoramix/internal/docpath"
	"github.com/grnet/panoramix/internal/model"
	"github.com/grnet/panoramix/internal/stages"
	zsync "github.com/grnet/panoramix/internal/sync"
)

// APIErrorMessage is the notification shown for any failed backend call.
const APIErrorMessage = "api error"

// DefaultInterval is the refresh loop period.
const DefaultInterval = 5 * time.Second

// Notifier surfaces transient messages to the user.
type Notifier interface {
	Notify(message string, err error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string, err error)

// Notify calls f.
func (f NotifierFunc) Notify(message string, err error) { f(message, err) }

// Status is the content of the status dialog.
type Status struct {
	Path string
	Meta model.PathMeta
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithNotifier sets where API errors are reported. The default logs them.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithInterval sets the refresh loop period.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) { c.interval = d }
}

// WithManual starts the controller in manual refresh mode.
func WithManual(manual bool) Option {
	return func(c *Controller) { c.manual = manual }
}

// WithDestinations exports a snapshot of the models to dests after each
// successful refresh.
func WithDestinations(dests ...zsync.Destination) Option {
	return func(c *Controller) { c.destinations = append(c.destinations, dests...) }
}

// WithStageOptions passes options through to the stage orchestrator.
func WithStageOptions(opts ...stages.Option) Option {
	return func(c *Controller) { c.stageOpts = append(c.stageOpts, opts...) }
}

// Controller is the console's edit controller.
type Controller struct {
	users        []string
	syncer       *stages.Syncer
	sched        *zsync.Scheduler
	notifier     Notifier
	logger       *slog.Logger
	interval     time.Duration
	manual       bool
	destinations []zsync.Destination
	stageOpts    []stages.Option

	updating atomic.Int32

	mu       sync.Mutex
	expanded []string
	status   *Status
}

// New creates a Controller for users talking to the backend through t.
func New(t client.Transport, users []string, opts ...Option) *Controller {
	c := &Controller{
		users:    slices.Clone(users),
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.notifier == nil {
		c.notifier = NotifierFunc(func(msg string, err error) {
			c.logger.Warn(msg, "err", err)
		})
	}

	stageOpts := append([]stages.Option{stages.WithLogger(c.logger)}, c.stageOpts...)
	stageOpts = append(stageOpts, stages.OnStageCompleted(c.stageCompleted))
	c.syncer = stages.New(t, stageOpts...)
	c.sched = zsync.NewScheduler(c.refresh, c.syncer.Snapshot, c.destinations, c.interval, c.logger)
	c.sched.SetManual(c.manual)
	return c
}

// Syncer returns the stage orchestrator holding the models.
func (c *Controller) Syncer() *stages.Syncer { return c.syncer }

// Load initializes the models of every user and expands the running
// stages. A user that fails to load is reported and skipped.
func (c *Controller) Load(ctx context.Context) error {
	var errs []error
	for _, user := range c.users {
		if err := c.syncer.Init(ctx, user); err != nil {
			c.notify(err)
			errs = append(errs, err)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateRunningPaths(slices.Clone(c.expanded))
	return errors.Join(errs...)
}

// Start begins the background refresh loop.
func (c *Controller) Start() {
	c.sched.Start()
}

// Stop ends the refresh loop and discards results of requests still in
// flight.
func (c *Controller) Stop() error {
	c.sched.Stop()
	return c.syncer.Close()
}

// SetManual suspends or resumes the timer-driven refresh.
func (c *Controller) SetManual(manual bool) {
	c.sched.SetManual(manual)
}

// Manual reports whether the refresh loop is suspended.
func (c *Controller) Manual() bool {
	return c.sched.Manual()
}

// Reload refreshes every model now. It returns zsync.ErrRefreshDropped when
// a refresh is already running.
func (c *Controller) Reload(ctx context.Context) error {
	return c.sched.Trigger(ctx)
}

// refresh is the body of the refresh loop.
func (c *Controller) refresh(ctx context.Context) error {
	err := c.syncer.RefreshAll(ctx, false)
	if err != nil && !errors.Is(err, stages.ErrClosed) {
		c.notify(err)
	}
	return err
}

// OnValueChange writes value to the field at path and refreshes the models
// once the backend accepted it.
func (c *Controller) OnValueChange(ctx context.Context, user, stage, path string, value any) error {
	c.updating.Add(1)
	defer c.updating.Add(-1)

	if err := c.syncer.UpdateField(ctx, user, stage, path, value); err != nil {
		c.notify(err)
		return err
	}
	if err := c.sched.Trigger(ctx); err != nil && !errors.Is(err, zsync.ErrRefreshDropped) {
		return err
	}
	return nil
}

// OnKeyLock closes the dict field at path.
func (c *Controller) OnKeyLock(ctx context.Context, user, stage, path string) error {
	return c.OnValueChange(ctx, user, stage, path, model.LockValue)
}

// UpdateInProgress reports whether a field update is running.
func (c *Controller) UpdateInProgress() bool {
	return c.updating.Load() > 0
}

// DocAction contributes to stage. When that completes the stage, its path
// is collapsed and the newly running stages are expanded.
func (c *Controller) DocAction(ctx context.Context, user, stage string) error {
	if _, err := c.syncer.Contribute(ctx, user, stage); err != nil {
		c.notify(err)
		return err
	}
	return nil
}

func (c *Controller) stageCompleted(user, stage, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	paths := slices.DeleteFunc(slices.Clone(c.expanded), func(p string) bool { return p == path })
	c.updateRunningPaths(paths)
	c.logger.Info("stage completed", "user", user, "stage", stage)
}

// updateRunningPaths replaces the expanded set with paths plus the path of
// every running stage. Callers hold c.mu.
func (c *Controller) updateRunningPaths(paths []string) {
	for _, p := range c.syncer.RunningPaths() {
		if !slices.Contains(paths, p) {
			paths = append(paths, p)
		}
	}
	c.expanded = paths
}

// ExpandPath adds path to the expanded set.
func (c *Controller) ExpandPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.Contains(c.expanded, path) {
		c.expanded = append(c.expanded, path)
	}
}

// ExpandPathState expands path when state is true and collapses it
// otherwise.
func (c *Controller) ExpandPathState(path string, state bool) {
	if state {
		c.ExpandPath(path)
		return
	}
	c.CollapsePath(path)
}

// CollapsePath removes path from the expanded set.
func (c *Controller) CollapsePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expanded = slices.DeleteFunc(c.expanded, func(p string) bool { return p == path })
}

// ExpandedPaths returns the expanded set in insertion order.
func (c *Controller) ExpandedPaths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.expanded)
}

// IsExpanded reports whether path is expanded.
func (c *Controller) IsExpanded(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Contains(c.expanded, path)
}

// ShowStatus opens the status dialog for the meta of path, titled label or
// the path itself.
func (c *Controller) ShowStatus(user, stage, path, label string) error {
	var meta model.PathMeta
	var found bool
	err := c.syncer.View(user, func(set *model.StageSet) {
		st, ok := set.Get(stage)
		if !ok {
			return
		}
		found = true
		if m, ok := st.Meta[path]; ok {
			meta = copyMeta(m)
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return stages.ErrUnknownStage
	}
	if label == "" {
		label = path
	}
	c.mu.Lock()
	c.status = &Status{Path: label, Meta: meta}
	c.mu.Unlock()
	return nil
}

// HideStatus closes the status dialog.
func (c *Controller) HideStatus() {
	c.mu.Lock()
	c.status = nil
	c.mu.Unlock()
}

// Status returns the open status dialog, if any.
func (c *Controller) Status() (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == nil {
		return Status{}, false
	}
	return *c.status, true
}

func (c *Controller) notify(err error) {
	c.notifier.Notify(APIErrorMessage, err)
}

// copyMeta returns a copy of m that shares no maps with it.
func copyMeta(m *model.PathMeta) model.PathMeta {
	out := *m
	if m.Options != nil {
		out.Options = docpath.Clone(m.Options).(map[string]any)
	}
	if m.Analysis != nil {
		out.Analysis = docpath.Clone(m.Analysis).(map[string]any)
	}
	out.Params = slices.Clone(m.Params)
	out.Positions = slices.Clone(m.Positions)
	return out
}
