package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/grnet/panoramix/internal/client"
	"github.com/grnet/panoramix/internal/events"
	"github.com/grnet/panoramix/internal/model"
	"github.com/grnet/panoramix/internal/stages"
	"github.com/grnet/panoramix/internal/ui"
)

// newBackend serves a two-stage negotiation for alice over HTTP.
// Contributing to stage_A completes it.
func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	var advanced atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("GET /alice/stages/", func(w http.ResponseWriter, r *http.Request) {
		next, reports := "stage_A", ""
		if advanced.Load() {
			next, reports = "stage_B", `{"stage": "stage_A", "instance": 1, "completed": true}`
		}
		fmt.Fprintf(w, `{
			"meta": {"stage_A": {"id": 1, "title": "Setup"}, "stage_B": {"id": 2, "title": "Keys"}},
			"reports": [%s], "next_stage": %q, "next_instance": 1
		}`, reports, next)
	})
	mux.HandleFunc("GET /alice/stages/stage_A_1/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"document": {"n": 3, "trustees/alice": "p1"}, "options": {"n": {"type": "int"}}, "instance": 1, "completed": %v}`, advanced.Load())
	})
	mux.HandleFunc("GET /alice/stages/stage_B_1/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"document": {"k": "v"}, "instance": 1, "completed": false}`)
	})
	mux.HandleFunc("POST /alice/stages/stage_A_1/contribute/", func(w http.ResponseWriter, r *http.Request) {
		advanced.Store(true)
		fmt.Fprint(w, `{"completed": true, "instance": 1}`)
	})
	mux.HandleFunc("POST /alice/stages/stage_A_1/update/", func(w http.ResponseWriter, r *http.Request) {
		var req client.UpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"detail": "bad body"}`, http.StatusBadRequest)
			return
		}
		data, _ := json.Marshal(map[string]any{"document": req.Instructions})
		w.Write(data)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func withUsers(t *testing.T, u ...string) {
	t.Helper()
	prev := users
	users = u
	t.Cleanup(func() { users = prev })
}

func newTestSession(t *testing.T) (*session, *bytes.Buffer) {
	t.Helper()
	withUsers(t, "alice")
	srv := newBackend(t)
	var stderr bytes.Buffer
	s, err := openSession(context.Background(), client.NewHTTPClient(srv.URL, ""), &stderr, sessionOptions{})
	if err != nil {
		t.Fatalf("openSession: %v", err)
	}
	t.Cleanup(s.close)
	return s, &stderr
}

func TestOpenSession_NoUsers(t *testing.T) {
	withUsers(t)
	if _, err := openSession(context.Background(), client.NewHTTPClient("http://127.0.0.1:1", ""), &bytes.Buffer{}, sessionOptions{}); err == nil {
		t.Fatal("expected error without users")
	}
}

func TestOpenSession_AllUsersFail(t *testing.T) {
	withUsers(t, "bob")
	srv := newBackend(t)
	var stderr bytes.Buffer
	if _, err := openSession(context.Background(), client.NewHTTPClient(srv.URL, ""), &stderr, sessionOptions{}); err == nil {
		t.Fatal("expected error when no user loads")
	}
	if !strings.Contains(stderr.String(), "api error") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRunShow(t *testing.T) {
	s, _ := newTestSession(t)

	var buf bytes.Buffer
	if err := runShow(&buf, s.ctrl, "", false); err != nil {
		t.Fatalf("runShow: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"alice", "stage_A", "running", "Setup", "stage_B", "pending"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := runShow(&buf, s.ctrl, "stage_A", false); err != nil {
		t.Fatalf("runShow(stage_A): %v", err)
	}
	if !strings.Contains(buf.String(), "/stage_A/n = 3") || !strings.Contains(buf.String(), "/stage_A/trustees/alice = p1") {
		t.Errorf("document output:\n%s", buf.String())
	}

	if err := runShow(&buf, s.ctrl, "stage_Z", false); !errors.Is(err, stages.ErrUnknownStage) {
		t.Errorf("unknown stage err = %v", err)
	}
}

func TestRunShow_JSON(t *testing.T) {
	s, _ := newTestSession(t)

	var buf bytes.Buffer
	if err := runShow(&buf, s.ctrl, "", true); err != nil {
		t.Fatalf("runShow: %v", err)
	}
	var snap []stages.UserSnapshot
	if err := json.Unmarshal(buf.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, buf.String())
	}
	if len(snap) != 1 || snap[0].User != "alice" || len(snap[0].Stages) != 2 {
		t.Errorf("snapshot = %+v", snap)
	}

	buf.Reset()
	if err := runShow(&buf, s.ctrl, "stage_A", true); err != nil {
		t.Fatalf("runShow(stage_A): %v", err)
	}
	var st model.Stage
	if err := json.Unmarshal(buf.Bytes(), &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st.ID != "stage_A" || st.Document["n"] != 3.0 {
		t.Errorf("stage = %+v", st)
	}
}

func TestSetField(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	if err := s.ctrl.OnValueChange(ctx, "alice", "stage_A", fieldPath("stage_A", "n"), parseValue("7")); err != nil {
		t.Fatalf("OnValueChange: %v", err)
	}
	var buf bytes.Buffer
	if err := printField(&buf, s.ctrl, "alice", "stage_A", "/stage_A/n"); err != nil {
		t.Fatalf("printField: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "/stage_A/n = ") {
		t.Errorf("printField output = %q", buf.String())
	}
}

func TestRunContribute(t *testing.T) {
	s, stderr := newTestSession(t)

	var buf bytes.Buffer
	if err := runContribute(context.Background(), &buf, s.ctrl, "alice", "stage_A"); err != nil {
		t.Fatalf("runContribute: %v (stderr %s)", err, stderr.String())
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "completed") || !strings.Contains(lines[1], "running") {
		t.Errorf("output:\n%s", buf.String())
	}
	if got := s.ctrl.ExpandedPaths(); !reflect.DeepEqual(got, []string{"/stage_B"}) {
		t.Errorf("ExpandedPaths() = %v", got)
	}
}

func TestPrintTransitions(t *testing.T) {
	updated := make(chan []byte, 4)
	completed := make(chan []byte, 4)
	send := func(ch chan []byte, ev events.StageEvent) {
		data, _ := json.Marshal(ev)
		ch <- data
	}
	send(updated, events.StageEvent{User: "alice", Stage: "stage_B", Running: true, InstanceID: "stage_B_1"})
	send(updated, events.StageEvent{User: "alice", Stage: "stage_B", Running: true, InstanceID: "stage_B_1"})
	send(completed, events.StageEvent{User: "alice", Stage: "stage_A", Completed: true})
	updated <- []byte("not json")
	close(updated)
	close(completed)

	states := map[stageKey]model.State{
		{"alice", "stage_A"}: model.StateRunning,
		{"alice", "stage_B"}: model.StatePending,
	}
	var buf bytes.Buffer
	printTransitions(context.Background(), &buf, states, updated, completed)

	out := buf.String()
	if n := strings.Count(out, "\n"); n != 2 {
		t.Fatalf("expected 2 transitions, got %d:\n%s", n, out)
	}
	if !strings.Contains(out, "stage_B") || !strings.Contains(out, "completed") {
		t.Errorf("output:\n%s", out)
	}
	if states[stageKey{"alice", "stage_A"}] != model.StateCompleted {
		t.Errorf("states = %v", states)
	}
}

func TestPrintEvent(t *testing.T) {
	ev := events.StageEvent{ID: "zc-1", User: "alice", Stage: "stage_A", Completed: true, Path: "/stage_A/n"}

	var buf bytes.Buffer
	printEvent(&buf, ev, false)
	if got := buf.String(); got != "zc-1 alice stage_A completed /stage_A/n\n" {
		t.Errorf("printEvent = %q", got)
	}

	buf.Reset()
	printEvent(&buf, events.StageEvent{ID: "zc-2", User: "bob"}, false)
	if got := buf.String(); got != "zc-2 bob\n" {
		t.Errorf("printEvent(refresh) = %q", got)
	}

	buf.Reset()
	printEvent(&buf, ev, true)
	var back events.StageEvent
	if err := json.Unmarshal(buf.Bytes(), &back); err != nil || back != ev {
		t.Errorf("printEvent(json) = %q, %v", buf.String(), err)
	}
}

func TestMetricsHandler(t *testing.T) {
	srv := httptest.NewServer(metricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(buf.String(), "zeus_refresh_duration_seconds") {
		t.Errorf("status %d, body:\n%s", resp.StatusCode, buf.String())
	}
}

func TestHelpers(t *testing.T) {
	for _, tc := range []struct {
		stage, field, want string
	}{
		{"stage_A", "n", "/stage_A/n"},
		{"stage_A", "trustees/alice/", "/stage_A/trustees/alice"},
		{"stage_A", "/stage_B/x", "/stage_B/x"},
	} {
		if got := fieldPath(tc.stage, tc.field); got != tc.want {
			t.Errorf("fieldPath(%q, %q) = %q, want %q", tc.stage, tc.field, got, tc.want)
		}
	}

	for _, tc := range []struct {
		in   string
		want any
	}{
		{"7", 7.0},
		{"true", true},
		{"null", nil},
		{`{"a": 1}`, map[string]any{"a": 1.0}},
		{"p1", "p1"},
		{"CLOSE", "CLOSE"},
	} {
		if got := parseValue(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("parseValue(%q) = %#v, want %#v", tc.in, got, tc.want)
		}
	}

	withUsers(t, "alice", "bob")
	if _, err := singleUser(); err == nil {
		t.Error("singleUser with two users: expected error")
	}
	withUsers(t, "alice")
	if u, err := singleUser(); err != nil || u != "alice" {
		t.Errorf("singleUser() = %q, %v", u, err)
	}
}

func TestColorizeHelpOutput(t *testing.T) {
	in := "Stages:\n  show        Show the stages\n\nA running stage labeled PROPOSE accepts a contribute; DONE does not.\n\nFlags:\n      --host string   backend API base URL (default \"http://localhost:8000\")\n"
	out := colorizeHelpOutput(in)
	for _, want := range []string{
		ui.RenderAccent("Stages:"),
		"  " + ui.RenderCommand("show") + "        ",
		ui.RenderState(model.StateRunning),
		ui.RenderWarn("PROPOSE"),
		" DONE ",
		"--host " + ui.RenderMuted("string"),
		ui.RenderMuted(`(default "http://localhost:8000")`),
	} {
		if !strings.Contains(out, want) {
			t.Errorf("colorized output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, ui.RenderWarn("DONE")) {
		t.Error("settled label DONE styled as actionable")
	}
}

func TestHelpText(t *testing.T) {
	text := helpText(showCmd)
	for _, want := range []string{"pending, running or completed", "FINISH", "Usage:", "zeusctl show [stage]"} {
		if !strings.Contains(text, want) {
			t.Errorf("show help missing %q:\n%s", want, text)
		}
	}
	if text := helpText(remoteCmd); !strings.HasPrefix(text, "Manage named backend remotes\n\n") {
		t.Errorf("remote help = %q", text)
	}
}
