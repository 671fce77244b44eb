package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/grnet/panoramix/internal/client"
	"github.com/grnet/panoramix/internal/console"
	"github.com/grnet/panoramix/internal/events"
	"github.com/grnet/panoramix/internal/normalize"
	"github.com/grnet/panoramix/internal/stages"
	"github.com/grnet/panoramix/internal/ui"
)

// session is a loaded console for the selected users.
type session struct {
	ctrl *console.Controller
	bus  *events.LocalBus
	pub  events.Publisher
}

type sessionOptions struct {
	natsURL string
	console []console.Option
}

// openSession builds a controller over t and loads every user's stages.
// Failed users are reported on stderr; the session stays usable for the
// others.
func openSession(ctx context.Context, t client.Transport, stderr io.Writer, opts sessionOptions) (*session, error) {
	if len(users) == 0 {
		return nil, errors.New("no users; pass --user or set ZEUS_USERS")
	}
	s := &session{bus: events.NewLocalBus()}
	s.pub = s.bus
	if opts.natsURL != "" {
		np, err := events.NewNATSPublisher(opts.natsURL)
		if err != nil {
			s.bus.Close()
			return nil, err
		}
		s.pub = events.Multi{s.bus, np}
	}

	var rules []normalize.JoinRule
	if cfg != nil {
		rules = cfg.JoinRules
	}
	copts := []console.Option{
		console.WithLogger(logger),
		console.WithNotifier(console.NotifierFunc(func(msg string, err error) {
			fmt.Fprintf(stderr, "%s: %v\n", ui.RenderFail(msg), err)
		})),
		console.WithStageOptions(
			stages.WithBuilder(normalize.NewBuilder(nil, rules)),
			stages.WithPublisher(s.pub),
		),
	}
	s.ctrl = console.New(t, users, append(copts, opts.console...)...)

	if err := s.ctrl.Load(ctx); err != nil && len(s.ctrl.Syncer().Users()) == 0 {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *session) close() {
	_ = s.ctrl.Stop()
	_ = s.pub.Close()
}

// singleUser returns the only selected user, for commands acting as one.
func singleUser() (string, error) {
	if len(users) != 1 {
		return "", fmt.Errorf("exactly one --user is required, got %d", len(users))
	}
	return users[0], nil
}

// fieldPath resolves a field argument of stage to a document path.
func fieldPath(stage, field string) string {
	if strings.HasPrefix(field, "/") {
		return field
	}
	return "/" + stage + "/" + strings.Trim(field, "/")
}

// parseValue decodes s as JSON when it is valid JSON and keeps it as a
// string otherwise.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
