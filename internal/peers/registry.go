// Package peers maps negotiation peer ids to display names.
//
// The registry is owned by the stage orchestrator and shared by every stage
// normalization of a session. Names are learnt from the stage payloads
// themselves: the peer a payload is addressed to registers under its own id
// until a trustee registry entry ("trustees/<name>": <peer id>) names it.
package peers

import (
	"log/slog"
	"strings"
	"sync"
)

// Self is the display name of the peer the console acts as.
const Self = "us"

// Registry is a concurrency-safe peer id to display name table.
type Registry struct {
	mu    sync.RWMutex
	names map[string]string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{names: make(map[string]string)}
}

// Observe registers peerID under its own id when it is not yet known.
func (r *Registry) Observe(peerID string) {
	if peerID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names[peerID]; !ok {
		r.names[peerID] = peerID
	}
}

// Set names peerID, replacing an earlier name.
func (r *Registry) Set(peerID, name string) {
	if peerID == "" || name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.names[peerID]; ok && prev != name && prev != peerID {
		slog.Debug("peers: renamed", "peer_id", peerID, "from", prev, "to", name)
	}
	r.names[peerID] = name
}

// MergeDocument learns names from the registry entries of a flat stage
// document: every key under prefix+"/" names the peer id it holds.
func (r *Registry) MergeDocument(prefix string, doc map[string]any) {
	for key, value := range doc {
		if !strings.HasPrefix(key, prefix+"/") {
			continue
		}
		peerID, ok := value.(string)
		if !ok {
			continue
		}
		name := key[strings.LastIndex(key, "/")+1:]
		r.Set(peerID, name)
	}
}

// Name returns the display name of peerID, or peerID when unknown.
func (r *Registry) Name(peerID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name, ok := r.names[peerID]; ok {
		return name
	}
	return peerID
}

// Lookup returns the display name of peerID.
func (r *Registry) Lookup(peerID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.names[peerID]
	return name, ok
}

// View returns a snapshot of the table in which self renders as Self.
func (r *Registry) View(self string) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.names)+1)
	for id, name := range r.names {
		out[id] = name
	}
	if self != "" {
		out[self] = Self
	}
	return out
}

// Len returns the number of known peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
