package normalize

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/grnet/panoramix/internal/docpath"
	"github.com/grnet/panoramix/internal/model"
	"github.com/grnet/panoramix/internal/peers"
)

// RegistryKey is the document key whose children name the negotiation's
// peers ("trustees/<name>": <peer id>).
const RegistryKey = "trustees"

// JoinRule disables the action of a join-style registry for the peer that
// already appears in it. The registry lives at document key Key; a child
// matches by its value (the peer id) when ByValue is set, by its trailing
// segment (the peer name) otherwise.
type JoinRule struct {
	Key     string
	ByValue bool
}

// DefaultJoinRules covers the trustee, public share and mixer registries.
var DefaultJoinRules = []JoinRule{
	{Key: "trustees", ByValue: true},
	{Key: "public_shares"},
	{Key: "mixers"},
}

// ParseJoinRules parses "key[=value],key,..." into rules.
func ParseJoinRules(s string) ([]JoinRule, error) {
	var rules []JoinRule
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key, mode, hasMode := strings.Cut(item, "=")
		rule := JoinRule{Key: strings.Trim(key, "/")}
		if rule.Key == "" {
			return nil, fmt.Errorf("join rule %q: empty key", item)
		}
		if hasMode {
			switch mode {
			case "value":
				rule.ByValue = true
			case "name":
			default:
				return nil, fmt.Errorf("join rule %q: unknown match mode %q", item, mode)
			}
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Builder derives stage models from stage payloads.
type Builder struct {
	peers *peers.Registry
	rules []JoinRule
}

// NewBuilder creates a builder that records peer names in reg. Nil rules
// select DefaultJoinRules.
func NewBuilder(reg *peers.Registry, rules []JoinRule) *Builder {
	if reg == nil {
		reg = peers.New()
	}
	if rules == nil {
		rules = DefaultJoinRules
	}
	return &Builder{peers: reg, rules: rules}
}

// Peers returns the registry the builder updates.
func (b *Builder) Peers() *peers.Registry {
	return b.peers
}

// Build normalizes raw into a fresh stage for id. prior is the long-lived
// model; fields the payload does not carry are taken from it. When ov is
// non-nil the stage's liveness is re-derived from it. Malformed parts of raw
// degrade to empty metadata.
func (b *Builder) Build(id string, raw *model.StagePayload, prior *model.Stage, ov *model.Overview) *model.Stage {
	if raw == nil {
		raw = &model.StagePayload{}
	}
	if prior == nil {
		prior = model.NewStage(id)
	}
	root := "/" + id
	peerID := raw.PeerID.String()

	b.peers.Observe(peerID)
	b.peers.MergeDocument(RegistryKey, raw.Document)
	peerName := ""
	if peerID != "" {
		peerName = b.peers.Name(peerID)
	}

	docPaths := docpath.PrefixPaths(root, raw.Document)
	options := docpath.PrefixPaths(root, raw.Options)
	meta := make(map[string]*model.PathMeta, len(docPaths))

	for _, path := range sortedKeys(docPaths) {
		m := &model.PathMeta{}
		m.ApplyOptions(optionEntry(options[docpath.Parent(path)+"/*"]))
		m.ApplyOptions(optionEntry(options[path]))
		meta[path] = m
	}

	b.disableJoined(root, docPaths, meta, peerID, peerName)

	for path, m := range meta {
		m.LockAction = false
		if m.Type != model.TypeDict {
			continue
		}
		m.LockAction = true
		if v := docPaths[path]; v != nil {
			m.DictLocked = true
			m.DictLockedValue = docpath.Clone(v)
		}
	}

	if label := raw.StateLabel(); raw.Analysis == nil && model.IsSettledLabel(label) {
		for path := range docPaths {
			metaFor(meta, path).StateLabel = strings.ToLower(label)
		}
	}

	if raw.OurNodeAnalysis != nil {
		for path, v := range docpath.PrefixPaths(root, raw.Analysis) {
			m := metaFor(meta, path)
			if m.Analysis != nil {
				continue
			}
			if detail, ok := v.(map[string]any); ok {
				m.Analysis = docpath.Clone(detail).(map[string]any)
			} else {
				m.Analysis = map[string]any{}
			}
		}
	}

	for path, v := range docpath.PrefixPaths(root, raw.Labels) {
		if label, ok := v.(string); ok {
			metaFor(meta, path).StateLabel = strings.ToLower(label)
		}
	}

	if raw.Positions != nil {
		view := b.peers.View(peerID)
		for path, proposals := range docpath.PrefixPaths(root, raw.Positions) {
			if len(proposals) == 0 {
				continue
			}
			m, ok := meta[path]
			if !ok {
				continue
			}
			apriori := aprioriPositions(raw.AprioriPositions[docpath.StripRoot(path)], view)
			m.Positions = BuildPositions(proposals, apriori, view)
		}
	}

	st := &model.Stage{
		ID:                id,
		ConsensusID:       raw.ConsensusID.String(),
		Document:          docpath.Unflatten(raw.Document),
		Meta:              meta,
		Analysis:          docpath.Unflatten(raw.Analysis),
		Path:              prior.Path,
		URLPath:           prior.URLPath,
		InstanceID:        prior.InstanceID,
		Instance:          prior.Instance,
		Completed:         prior.Completed,
		Running:           prior.Running,
		Pending:           prior.Pending,
		GlobalNegotiation: prior.GlobalNegotiation,
		Negotiation:       prior.Negotiation,
	}
	if st.Path == "" {
		st.Path = root
	}
	if raw.Instance != nil {
		st.Instance = *raw.Instance
	}
	if raw.Completed != nil {
		st.Completed = *raw.Completed
	}
	if ov == nil {
		// Without an overview only completion is reported; keep exactly one
		// liveness state set.
		st.Running = !st.Completed && prior.Running
		st.Pending = !st.Completed && !st.Running
		return st
	}
	DeriveState(id, prior, raw.RawState(), ov).Apply(st)
	if ov.GlobalNegotiationID != "" {
		st.GlobalNegotiation = ov.GlobalNegotiationID
	}
	return st
}

// disableJoined marks a join registry's action disabled when the current
// peer already has an entry in it.
func (b *Builder) disableJoined(root string, docPaths map[string]any, meta map[string]*model.PathMeta, peerID, peerName string) {
	if peerID == "" {
		return
	}
	for path, value := range docPaths {
		for _, rule := range b.rules {
			parent := root + "/" + rule.Key
			if !strings.HasPrefix(path, parent+"/") {
				continue
			}
			var joined bool
			if rule.ByValue {
				joined = fmt.Sprint(value) == peerID
			} else {
				name := docpath.Base(path)
				joined = name == peerName || name == peerID
			}
			if joined {
				metaFor(meta, parent).ActionDisabled = true
			}
		}
	}
}

// BuildPositions computes the per-peer position entries of one field.
//
// A peer conflicts when more than one distinct value is proposed and its
// current value differs from its own apriori value; a proposer repeating a
// proposal it already held apriori does not conflict. The result lists Self
// first, then peers by ascending name length, ties in first-seen order.
func BuildPositions(proposals []model.Proposal, apriori map[string]model.AprioriPosition, view map[string]string) model.Positions {
	contested := distinctValues(proposals) > 1

	var out model.Positions
	index := map[string]int{}
	entry := func(name string) *model.PositionEntry {
		i, ok := index[name]
		if !ok {
			i = len(out)
			index[name] = i
			out = append(out, model.PeerPosition{Peer: name})
		}
		return &out[i].PositionEntry
	}

	for _, p := range proposals {
		name := peerName(view, p.Proposer)
		ap := apriori[name]
		*entry(name) = model.PositionEntry{
			Value:     p.Value,
			Proposed:  true,
			Apriori:   ap,
			Proposing: !ap.Proposed,
			Conflict:  contested && !sameValue(p.Value, ap.Value) && !ap.Proposed,
		}
		for _, peer := range p.Peers {
			name := peerName(view, peer)
			ap := apriori[name]
			e := entry(name)
			e.Value = p.Value
			e.Consented = true
			e.Apriori = ap
			e.Consenting = !ap.Consented
			e.Conflict = contested && !sameValue(p.Value, ap.Value)
		}
	}

	slices.SortStableFunc(out, func(a, b model.PeerPosition) int {
		switch {
		case a.Peer == b.Peer:
			return 0
		case a.Peer == peers.Self:
			return -1
		case b.Peer == peers.Self:
			return 1
		}
		return len(a.Peer) - len(b.Peer)
	})
	return out
}

func aprioriPositions(proposals []model.Proposal, view map[string]string) map[string]model.AprioriPosition {
	out := make(map[string]model.AprioriPosition)
	for _, p := range proposals {
		out[peerName(view, p.Proposer)] = model.AprioriPosition{Value: p.Value, Proposed: true}
		for _, peer := range p.Peers {
			name := peerName(view, peer)
			ap := out[name]
			ap.Value = p.Value
			ap.Consented = true
			out[name] = ap
		}
	}
	return out
}

func peerName(view map[string]string, id string) string {
	if name, ok := view[id]; ok {
		return name
	}
	return id
}

func distinctValues(proposals []model.Proposal) int {
	var seen []any
	for _, p := range proposals {
		if !slices.ContainsFunc(seen, func(v any) bool { return sameValue(v, p.Value) }) {
			seen = append(seen, p.Value)
		}
	}
	return len(seen)
}

func sameValue(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func optionEntry(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func metaFor(meta map[string]*model.PathMeta, path string) *model.PathMeta {
	m, ok := meta[path]
	if !ok {
		m = &model.PathMeta{}
		meta[path] = m
	}
	return m
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
