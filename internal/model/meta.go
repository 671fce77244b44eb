package model

import "strings"

// Field types and actions declared by stage options.
const (
	TypeDict = "dict"
	TypeInt  = "int"

	ActionEdit    = "edit"
	ActionChoices = "choices"
	ActionLock    = "lock"

	computePrefix = "compute"
)

// LockValue is the edit value that closes a dict-typed field.
const LockValue = "CLOSE"

// PathMeta annotates one document path.
type PathMeta struct {
	// Options holds the declared option attributes, exact entry over wildcard.
	Options map[string]any `json:"options,omitempty"`

	Type     string   `json:"type,omitempty"`
	Action   string   `json:"action,omitempty"`
	Params   []string `json:"params,omitempty"`
	KeyLabel string   `json:"key_label,omitempty"`

	ActionDisabled  bool           `json:"action_disabled,omitempty"`
	LockAction      bool           `json:"lock_action,omitempty"`
	DictLocked      bool           `json:"dict_locked,omitempty"`
	DictLockedValue any            `json:"dict_locked_value,omitempty"`
	StateLabel      string         `json:"state_label,omitempty"`
	Analysis        map[string]any `json:"analysis,omitempty"`
	Positions       Positions      `json:"positions,omitempty"`

	// Updating is set while a field write is in flight. Merges never touch it.
	Updating bool `json:"updating,omitempty"`
}

// ApplyOptions overlays declared option attributes onto m and re-reads the
// well-known ones.
func (m *PathMeta) ApplyOptions(opts map[string]any) {
	if len(opts) == 0 {
		return
	}
	if m.Options == nil {
		m.Options = make(map[string]any, len(opts))
	}
	for k, v := range opts {
		m.Options[k] = v
	}
	m.Type, _ = m.Options["type"].(string)
	m.Action, _ = m.Options["action"].(string)
	m.KeyLabel, _ = m.Options["key_label"].(string)
	if disabled, ok := m.Options["action_disabled"].(bool); ok {
		m.ActionDisabled = disabled
	}
	m.Params = m.Params[:0]
	if params, ok := m.Options["params"].([]any); ok {
		for _, p := range params {
			if s, ok := p.(string); ok {
				m.Params = append(m.Params, s)
			}
		}
	}
	if len(m.Params) == 0 {
		m.Params = nil
	}
}

// IsCompute reports whether the field's action is computed server-side.
func (m *PathMeta) IsCompute() bool {
	return strings.HasPrefix(m.Action, computePrefix)
}

// SetsValue reports whether an edit writes its value into the local
// document. Computed actions never do.
func (m *PathMeta) SetsValue() bool {
	return !m.IsCompute()
}

// PositionEntry is one peer's view of a field's proposed or agreed value.
type PositionEntry struct {
	Value      any             `json:"value"`
	Proposed   bool            `json:"proposed"`
	Consented  bool            `json:"consented"`
	Proposing  bool            `json:"proposing"`
	Consenting bool            `json:"consenting"`
	Conflict   bool            `json:"conflict"`
	Apriori    AprioriPosition `json:"apriori"`
}

// AprioriPosition is a peer's position before the current round.
type AprioriPosition struct {
	Value     any  `json:"value,omitempty"`
	Proposed  bool `json:"proposed,omitempty"`
	Consented bool `json:"consented,omitempty"`
}

// PeerPosition pairs a display name with its entry.
type PeerPosition struct {
	Peer string `json:"peer"`
	PositionEntry
}

// Positions is a display-ordered mapping of peer name to entry.
type Positions []PeerPosition

// Get returns the entry for peer.
func (p Positions) Get(peer string) (*PositionEntry, bool) {
	for i := range p {
		if p[i].Peer == peer {
			return &p[i].PositionEntry, true
		}
	}
	return nil, false
}

// Peers returns the peer names in display order.
func (p Positions) Peers() []string {
	out := make([]string, len(p))
	for i, pp := range p {
		out[i] = pp.Peer
	}
	return out
}
