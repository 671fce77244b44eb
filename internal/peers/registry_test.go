package peers

import (
	"sync"
	"testing"
)

func TestRegistry_ObserveAndSet(t *testing.T) {
	r := New()
	r.Observe("peer-1")
	if got := r.Name("peer-1"); got != "peer-1" {
		t.Errorf("Name() = %q, want peer-1", got)
	}

	r.Set("peer-1", "alice")
	r.Observe("peer-1")
	if got := r.Name("peer-1"); got != "alice" {
		t.Errorf("Name() after Observe = %q, want alice", got)
	}
	if got := r.Name("unknown"); got != "unknown" {
		t.Errorf("Name(unknown) = %q", got)
	}
	if _, ok := r.Lookup("unknown"); ok {
		t.Error("Lookup(unknown) found a name")
	}
}

func TestRegistry_MergeDocument(t *testing.T) {
	r := New()
	r.MergeDocument("trustees", map[string]any{
		"trustees":       nil,
		"trustees/alice": "peer-1",
		"trustees/bob":   "peer-2",
		"trustees/carol": 3.0,
		"mixers/dave":    "peer-4",
	})
	if got := r.Name("peer-1"); got != "alice" {
		t.Errorf("peer-1 = %q, want alice", got)
	}
	if got := r.Name("peer-2"); got != "bob" {
		t.Errorf("peer-2 = %q, want bob", got)
	}
	if _, ok := r.Lookup("peer-4"); ok {
		t.Error("mixers entry should not register a name")
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestRegistry_View(t *testing.T) {
	r := New()
	r.Set("peer-1", "alice")
	r.Set("peer-2", "bob")

	view := r.View("peer-2")
	if view["peer-2"] != Self {
		t.Errorf("self = %q, want %q", view["peer-2"], Self)
	}
	if view["peer-1"] != "alice" {
		t.Errorf("peer-1 = %q", view["peer-1"])
	}
	if got := r.Name("peer-2"); got != "bob" {
		t.Errorf("View mutated registry: %q", got)
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Observe("peer-1")
			r.Set("peer-2", "bob")
		}()
		go func() {
			defer wg.Done()
			_ = r.View("peer-1")
			_ = r.Name("peer-2")
		}()
	}
	wg.Wait()
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}
