package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
)

type call struct {
	method string
	path   string
	body   string
}

type response struct {
	body string
	err  error
}

// fakeTransport serves scripted responses per "METHOD path". Each route
// pops its responses in order and keeps repeating the last one.
type fakeTransport struct {
	mu       sync.Mutex
	calls    []call
	routes   map[string][]response
	fallback func(method, path string) (string, error)

	// gates block a route until the channel is closed; entered is signaled
	// when a gated call arrives.
	gates   map[string]chan struct{}
	entered chan string
}

func newFake() *fakeTransport {
	return &fakeTransport{
		routes:  map[string][]response{},
		gates:   map[string]chan struct{}{},
		entered: make(chan string, 16),
	}
}

func (f *fakeTransport) on(method, path string, bodies ...string) *fakeTransport {
	key := method + " " + path
	for _, b := range bodies {
		f.routes[key] = append(f.routes[key], response{body: b})
	}
	return f
}

func (f *fakeTransport) fail(method, path string, err error) *fakeTransport {
	key := method + " " + path
	f.routes[key] = append(f.routes[key], response{err: err})
	return f
}

func (f *fakeTransport) gate(method, path string) chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[method+" "+path] = ch
	f.mu.Unlock()
	return ch
}

func (f *fakeTransport) Request(ctx context.Context, path string, out any) error {
	return f.do(ctx, "GET", path, nil, out)
}

func (f *fakeTransport) Post(ctx context.Context, path string, body any, out any) error {
	return f.do(ctx, "POST", path, body, out)
}

func (f *fakeTransport) do(ctx context.Context, method, path string, body any, out any) error {
	key := method + " " + path
	var encoded string
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		encoded = string(data)
	}

	f.mu.Lock()
	f.calls = append(f.calls, call{method: method, path: path, body: encoded})
	gate := f.gates[key]
	f.mu.Unlock()

	if gate != nil {
		f.entered <- key
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	queue := f.routes[key]
	var resp response
	switch {
	case len(queue) > 0:
		resp = queue[0]
		if len(queue) > 1 {
			f.routes[key] = queue[1:]
		}
	case f.fallback != nil:
		b, err := f.fallback(method, path)
		resp = response{body: b, err: err}
	default:
		f.mu.Unlock()
		return fmt.Errorf("fake: no route for %s", key)
	}
	f.mu.Unlock()

	if resp.err != nil {
		return resp.err
	}
	if out != nil && resp.body != "" {
		return json.Unmarshal([]byte(resp.body), out)
	}
	return nil
}

// count returns how many calls were made to method and path.
func (f *fakeTransport) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.method == method && c.path == path {
			n++
		}
	}
	return n
}

func (f *fakeTransport) last(method, path string) (call, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].method == method && f.calls[i].path == path {
			return f.calls[i], true
		}
	}
	return call{}, false
}

const (
	overviewPath = "/alice/stages/"
	stageA1      = "/alice/stages/stage_A_1/"
	stageB1      = "/alice/stages/stage_B_1/"
)

// overviewJSON builds an overview with stages A and B pointing at next.
func overviewJSON(nextStage string, nextInstance int, reports ...string) string {
	return fmt.Sprintf(`{
		"meta": {
			"stage_A": {"id": 1, "title": "Setup", "description": "Pick trustees", "stage_negotiation_id": 11},
			"stage_B": {"id": 2, "title": "Keys", "stage_negotiation_id": 12}
		},
		"reports": [%s],
		"global_negotiation_id": 10,
		"next_stage": %q,
		"next_instance": %d
	}`, strings.Join(reports, ","), nextStage, nextInstance)
}

func report(stage string, instance int, completed bool) string {
	return fmt.Sprintf(`{"stage": %q, "instance": %d, "completed": %v}`, stage, instance, completed)
}

func newTestSyncer(t *testing.T, f *fakeTransport, opts ...Option) *Syncer {
	t.Helper()
	s := New(f, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
