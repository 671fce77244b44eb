package normalize

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/grnet/panoramix/internal/model"
	"github.com/grnet/panoramix/internal/peers"
)

func decodePayload(t *testing.T, data string) *model.StagePayload {
	t.Helper()
	var p model.StagePayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	return &p
}

func TestBuild_WildcardOptions(t *testing.T) {
	raw := decodePayload(t, `{
		"document": {"x/y": 1, "x/z": 2},
		"options": {"x/*": {"foo": 1}, "x/y": {"bar": 2}}
	}`)
	st := NewBuilder(nil, nil).Build("s", raw, nil, nil)

	y := st.Meta["/s/x/y"]
	if y == nil {
		t.Fatal("missing meta for /s/x/y")
	}
	if y.Options["foo"] != 1.0 || y.Options["bar"] != 2.0 {
		t.Errorf("/s/x/y options = %v, want foo and bar", y.Options)
	}
	z := st.Meta["/s/x/z"]
	if z == nil {
		t.Fatal("missing meta for /s/x/z")
	}
	if !reflect.DeepEqual(z.Options, map[string]any{"foo": 1.0}) {
		t.Errorf("/s/x/z options = %v, want only foo", z.Options)
	}
}

func TestBuild_ExactOverridesWildcard(t *testing.T) {
	raw := decodePayload(t, `{
		"document": {"params/n": 3},
		"options": {"params/*": {"type": "string", "action": "edit"}, "params/n": {"type": "int"}}
	}`)
	st := NewBuilder(nil, nil).Build("s", raw, nil, nil)
	m := st.Meta["/s/params/n"]
	if m.Type != model.TypeInt || m.Action != model.ActionEdit {
		t.Errorf("meta = %+v, want int/edit", m)
	}
}

func TestBuild_EveryDocumentPathHasMeta(t *testing.T) {
	raw := decodePayload(t, `{
		"document": {"a": 1, "b/c": 2, "b/d": null},
		"options": {"a": "not an object", "b/c": [1, 2]}
	}`)
	st := NewBuilder(nil, nil).Build("s", raw, nil, nil)
	for _, path := range []string{"/s/a", "/s/b/c", "/s/b/d"} {
		if st.Meta[path] == nil {
			t.Errorf("missing meta for %s", path)
		}
	}
}

func TestBuild_DictLock(t *testing.T) {
	raw := decodePayload(t, `{
		"document": {"trustees": {"alice": "p1"}, "mixers": null, "title": "x"},
		"options": {"trustees": {"type": "dict"}, "mixers": {"type": "dict"}}
	}`)
	st := NewBuilder(nil, nil).Build("s", raw, nil, nil)

	trustees := st.Meta["/s/trustees"]
	if !trustees.LockAction || !trustees.DictLocked {
		t.Errorf("trustees = %+v, want locked", trustees)
	}
	if !reflect.DeepEqual(trustees.DictLockedValue, map[string]any{"alice": "p1"}) {
		t.Errorf("DictLockedValue = %v", trustees.DictLockedValue)
	}
	mixers := st.Meta["/s/mixers"]
	if !mixers.LockAction || mixers.DictLocked {
		t.Errorf("mixers = %+v, want lockable and unlocked", mixers)
	}
	if st.Meta["/s/title"].LockAction {
		t.Error("title should not be lockable")
	}
}

func TestBuild_JoinRules(t *testing.T) {
	raw := decodePayload(t, `{
		"peer_id": "p2",
		"document": {
			"trustees": null,
			"trustees/alice": "p1",
			"trustees/bob": "p2",
			"mixers": null,
			"mixers/bob": true,
			"public_shares": null,
			"public_shares/alice": "share"
		}
	}`)
	reg := peers.New()
	st := NewBuilder(reg, nil).Build("stage_A", raw, nil, nil)

	if !st.Meta["/stage_A/trustees"].ActionDisabled {
		t.Error("trustees should be disabled: p2 holds an entry")
	}
	if !st.Meta["/stage_A/mixers"].ActionDisabled {
		t.Error("mixers should be disabled: bob is the current peer")
	}
	if st.Meta["/stage_A/public_shares"].ActionDisabled {
		t.Error("public_shares should stay enabled")
	}
	if reg.Name("p2") != "bob" {
		t.Errorf("registry p2 = %q, want bob", reg.Name("p2"))
	}
}

func TestBuild_StateLabels(t *testing.T) {
	t.Run("SettledStage", func(t *testing.T) {
		raw := decodePayload(t, `{"label": "DONE", "document": {"a": 1, "b": 2}, "labels": {"b": "CONFLICT"}}`)
		st := NewBuilder(nil, nil).Build("s", raw, nil, nil)
		if got := st.Meta["/s/a"].StateLabel; got != "done" {
			t.Errorf("/s/a state = %q, want done", got)
		}
		if got := st.Meta["/s/b"].StateLabel; got != "conflict" {
			t.Errorf("/s/b state = %q, want conflict (labels take precedence)", got)
		}
	})
	t.Run("StatusFallback", func(t *testing.T) {
		raw := decodePayload(t, `{"status": "no_transition", "document": {"a": 1}}`)
		st := NewBuilder(nil, nil).Build("s", raw, nil, nil)
		if got := st.Meta["/s/a"].StateLabel; got != "no_transition" {
			t.Errorf("state = %q", got)
		}
	})
	t.Run("AnalysisSuppressesBulkLabel", func(t *testing.T) {
		raw := decodePayload(t, `{"label": "DONE", "analysis": {}, "document": {"a": 1}}`)
		st := NewBuilder(nil, nil).Build("s", raw, nil, nil)
		if got := st.Meta["/s/a"].StateLabel; got != "" {
			t.Errorf("state = %q, want empty", got)
		}
	})
	t.Run("StageRootLabel", func(t *testing.T) {
		raw := decodePayload(t, `{"document": {"a": 1}, "labels": {"": "PROPOSE"}}`)
		st := NewBuilder(nil, nil).Build("s", raw, nil, nil)
		if got := st.Meta["/s"].StateLabel; got != "propose" {
			t.Errorf("root state = %q, want propose", got)
		}
	})
}

func TestBuild_OurNodeAnalysis(t *testing.T) {
	raw := decodePayload(t, `{
		"document": {"a": 1},
		"analysis": {"a": {"reason": "missing share"}, "b": "flag"},
		"our_node_analysis": {"ok": false}
	}`)
	st := NewBuilder(nil, nil).Build("s", raw, nil, nil)
	if !reflect.DeepEqual(st.Meta["/s/a"].Analysis, map[string]any{"reason": "missing share"}) {
		t.Errorf("/s/a analysis = %v", st.Meta["/s/a"].Analysis)
	}
	if b := st.Meta["/s/b"]; b == nil || b.Analysis == nil || len(b.Analysis) != 0 {
		t.Errorf("/s/b analysis = %+v, want empty object", b)
	}
	if !reflect.DeepEqual(st.Analysis, map[string]any{"a": map[string]any{"reason": "missing share"}, "b": "flag"}) {
		t.Errorf("stage analysis = %v", st.Analysis)
	}
}

func TestBuild_Conflicts(t *testing.T) {
	raw := decodePayload(t, `{
		"peer_id": "p1",
		"document": {"trustees/alice": "p1", "trustees/bob": "p2", "trustees/carol": "p3", "n": 3},
		"positions": {"n": [[4, "p2", []], [3, "p1", ["p3"]]]},
		"apriori_positions": {"n": [[3, "p3", []]]}
	}`)
	st := NewBuilder(nil, nil).Build("s", raw, nil, nil)
	pos := st.Meta["/s/n"].Positions
	if len(pos) != 3 {
		t.Fatalf("positions = %+v, want 3 peers", pos)
	}

	us, ok := pos.Get(peers.Self)
	if !ok {
		t.Fatal("missing entry for us")
	}
	if !us.Proposed || !us.Proposing || !us.Conflict {
		t.Errorf("us = %+v, want proposing conflict", us)
	}
	bob, _ := pos.Get("bob")
	if bob.Value != 4.0 || !bob.Conflict {
		t.Errorf("bob = %+v, want conflicting 4", bob)
	}
	carol, _ := pos.Get("carol")
	if !carol.Consented || carol.Conflict {
		t.Errorf("carol = %+v, want consent without conflict (matches apriori)", carol)
	}
	if !carol.Consenting {
		t.Error("carol had not consented apriori, want consenting")
	}

	if got := pos.Peers(); !reflect.DeepEqual(got, []string{"us", "bob", "carol"}) {
		t.Errorf("order = %v, want [us bob carol]", got)
	}
}

func TestBuildPositions(t *testing.T) {
	view := map[string]string{"p1": "us", "p2": "bob", "p3": "carol", "p4": "al"}

	t.Run("SingleValueNeverConflicts", func(t *testing.T) {
		pos := BuildPositions([]model.Proposal{
			{Value: "x", Proposer: "p2", Peers: []string{"p1"}},
		}, nil, view)
		for _, p := range pos {
			if p.Conflict {
				t.Errorf("%s conflicts with a single proposal", p.Peer)
			}
		}
	})

	t.Run("SameValueTwiceIsNotContested", func(t *testing.T) {
		pos := BuildPositions([]model.Proposal{
			{Value: "x", Proposer: "p2"},
			{Value: "x", Proposer: "p3"},
		}, nil, view)
		for _, p := range pos {
			if p.Conflict {
				t.Errorf("%s conflicts although one distinct value is proposed", p.Peer)
			}
		}
	})

	t.Run("ProposerRepeatingAprioriProposal", func(t *testing.T) {
		apriori := map[string]model.AprioriPosition{"bob": {Value: "old", Proposed: true}}
		pos := BuildPositions([]model.Proposal{
			{Value: "new", Proposer: "p2"},
			{Value: "other", Proposer: "p3"},
		}, apriori, view)
		bob, _ := pos.Get("bob")
		if bob.Conflict || bob.Proposing {
			t.Errorf("bob = %+v, want no conflict and not proposing", bob)
		}
		carol, _ := pos.Get("carol")
		if !carol.Conflict {
			t.Errorf("carol = %+v, want conflict", carol)
		}
	})

	t.Run("ThreeWay", func(t *testing.T) {
		apriori := map[string]model.AprioriPosition{"al": {Value: 3.0, Consented: true}}
		pos := BuildPositions([]model.Proposal{
			{Value: 1.0, Proposer: "p2"},
			{Value: 2.0, Proposer: "p3"},
			{Value: 3.0, Proposer: "p1", Peers: []string{"p4"}},
		}, apriori, view)
		for _, want := range []struct {
			peer     string
			conflict bool
		}{{"us", true}, {"bob", true}, {"carol", true}, {"al", false}} {
			e, ok := pos.Get(want.peer)
			if !ok {
				t.Fatalf("missing %s", want.peer)
			}
			if e.Conflict != want.conflict {
				t.Errorf("%s conflict = %v, want %v", want.peer, e.Conflict, want.conflict)
			}
		}
		if got := pos.Peers(); !reflect.DeepEqual(got, []string{"us", "al", "bob", "carol"}) {
			t.Errorf("order = %v", got)
		}
	})

	t.Run("UnknownPeerUsesID", func(t *testing.T) {
		pos := BuildPositions([]model.Proposal{{Value: 1.0, Proposer: "zz-peer"}}, nil, view)
		if got := pos.Peers(); !reflect.DeepEqual(got, []string{"zz-peer"}) {
			t.Errorf("peers = %v", got)
		}
	})
}

func TestBuild_PriorFallbacksAndOverview(t *testing.T) {
	prior := model.NewStage("stage_B")
	prior.Instance = 2
	prior.URLPath = "stage_B_2"
	prior.InstanceID = "stage_B_2"
	prior.Running = true
	prior.Negotiation = "n-7"

	st := NewBuilder(nil, nil).Build("stage_B", &model.StagePayload{ConsensusID: "c1"}, prior, nil)
	if st.Instance != 2 || st.URLPath != "stage_B_2" || !st.Running || st.Negotiation != "n-7" {
		t.Errorf("fallbacks not applied: %+v", st)
	}
	if st.ConsensusID != "c1" {
		t.Errorf("ConsensusID = %q", st.ConsensusID)
	}

	ov := Overview(&model.OverviewPayload{
		Reports:             []model.Report{{Stage: "stage_B", Instance: 2, Completed: true}},
		NextStage:           "stage_C",
		NextInstance:        "1",
		GlobalNegotiationID: "g-1",
	})
	st = NewBuilder(nil, nil).Build("stage_B", &model.StagePayload{}, prior, ov)
	if !st.Completed || st.Running || st.Pending || st.GlobalNegotiation != "g-1" {
		t.Errorf("overview not applied: %+v", st)
	}
}

func TestBuild_LivenessWithoutOverview(t *testing.T) {
	completed := func(v bool) *bool { return &v }
	for _, tc := range []struct {
		name      string
		prior     model.State
		completed *bool
		want      model.State
	}{
		{"RunningCompletes", model.StateRunning, completed(true), model.StateCompleted},
		{"RunningStaysOpen", model.StateRunning, completed(false), model.StateRunning},
		{"RunningUnreported", model.StateRunning, nil, model.StateRunning},
		{"PendingCompletes", model.StatePending, completed(true), model.StateCompleted},
		{"PendingStaysOpen", model.StatePending, completed(false), model.StatePending},
		{"CompletedReopens", model.StateCompleted, completed(false), model.StatePending},
		{"CompletedStays", model.StateCompleted, completed(true), model.StateCompleted},
		{"CompletedUnreported", model.StateCompleted, nil, model.StateCompleted},
	} {
		t.Run(tc.name, func(t *testing.T) {
			prior := model.NewStage("stage_A")
			prior.Running = tc.prior == model.StateRunning
			prior.Pending = tc.prior == model.StatePending
			prior.Completed = tc.prior == model.StateCompleted

			st := NewBuilder(nil, nil).Build("stage_A", &model.StagePayload{Completed: tc.completed}, prior, nil)
			set := 0
			for _, b := range []bool{st.Running, st.Pending, st.Completed} {
				if b {
					set++
				}
			}
			if set != 1 {
				t.Fatalf("running=%v pending=%v completed=%v, want exactly one", st.Running, st.Pending, st.Completed)
			}
			if got := st.State(); got != tc.want {
				t.Errorf("State() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseJoinRules(t *testing.T) {
	rules, err := ParseJoinRules("trustees=value, public_shares ,/mixers/,voters=name")
	if err != nil {
		t.Fatalf("ParseJoinRules() error = %v", err)
	}
	want := []JoinRule{{Key: "trustees", ByValue: true}, {Key: "public_shares"}, {Key: "mixers"}, {Key: "voters"}}
	if !reflect.DeepEqual(rules, want) {
		t.Errorf("rules = %+v, want %+v", rules, want)
	}
	for _, bad := range []string{"=value", "x=regex"} {
		if _, err := ParseJoinRules(bad); err == nil {
			t.Errorf("ParseJoinRules(%q) expected error", bad)
		}
	}
}
