// Package client provides the transport contract the stage orchestrator
// depends on and an HTTP/JSON implementation that talks to the negotiation
// backend.
package client

import (
	"context"
	"net/url"

	"github.com/grnet/panoramix/internal/model"
)

// Transport is the backend collaborator. Request issues a GET and Post a
// POST with an optional JSON body; both decode the JSON response into out
// when out is non-nil. Errors are returned as-is and never retried.
type Transport interface {
	Request(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, body any, out any) error
}

// UpdateRequest is the body of a field update post.
type UpdateRequest struct {
	Instructions map[string]any `json:"instructions"`
}

// API exposes the stage endpoints of one backend over a Transport.
type API struct {
	t Transport
}

// NewAPI wraps t.
func NewAPI(t Transport) *API {
	return &API{t: t}
}

// Overview fetches GET /{user}/stages/.
func (a *API) Overview(ctx context.Context, user string) (*model.OverviewPayload, error) {
	var ov model.OverviewPayload
	if err := a.t.Request(ctx, OverviewPath(user), &ov); err != nil {
		return nil, err
	}
	return &ov, nil
}

// Stage fetches GET /{user}/stages/{urlPath}/.
func (a *API) Stage(ctx context.Context, user, urlPath string) (*model.StagePayload, error) {
	var p model.StagePayload
	if err := a.t.Request(ctx, StagePath(user, urlPath), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Contribute posts the advance action of a stage instance.
func (a *API) Contribute(ctx context.Context, user, urlPath string) (*model.StagePayload, error) {
	var p model.StagePayload
	if err := a.t.Post(ctx, StagePath(user, urlPath)+"contribute/", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Update posts a single field instruction {key: params}.
func (a *API) Update(ctx context.Context, user, urlPath, key string, params any) (*model.StagePayload, error) {
	body := UpdateRequest{Instructions: map[string]any{key: params}}
	var p model.StagePayload
	if err := a.t.Post(ctx, StagePath(user, urlPath)+"update/", body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// OverviewPath is the overview endpoint of user.
func OverviewPath(user string) string {
	return "/" + url.PathEscape(user) + "/stages/"
}

// StagePath is the detail endpoint of a stage instance.
func StagePath(user, urlPath string) string {
	return OverviewPath(user) + url.PathEscape(urlPath) + "/"
}
