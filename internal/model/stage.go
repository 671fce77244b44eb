package model

// State is the liveness state of a stage. Exactly one holds at a time.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsValid checks whether the state is a known value.
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateRunning, StateCompleted:
		return true
	}
	return false
}

// Stage is one phase of a negotiation as seen by one user. A Stage is owned
// by its user's StageSet and is mutated in place for the whole session;
// holders of a *Stage keep observing live updates.
type Stage struct {
	ID         string `json:"id"`
	Instance   int    `json:"instance"`
	Completed  bool   `json:"completed"`
	Running    bool   `json:"running"`
	Pending    bool   `json:"pending"`
	Path       string `json:"path"`
	URLPath    string `json:"url_path"`
	InstanceID string `json:"instance_id"`

	Document map[string]any       `json:"document"`
	Meta     map[string]*PathMeta `json:"meta"`
	Analysis map[string]any       `json:"analysis"`

	ConsensusID       string `json:"consensus_id,omitempty"`
	GlobalNegotiation string `json:"global_negotiation,omitempty"`
	Negotiation       string `json:"negotiation,omitempty"`
}

// NewStage returns an empty stage rooted at "/"+id.
func NewStage(id string) *Stage {
	return &Stage{
		ID:       id,
		Path:     "/" + id,
		Document: map[string]any{},
		Meta:     map[string]*PathMeta{},
		Analysis: map[string]any{},
	}
}

// State reports the stage's liveness state.
func (s *Stage) State() State {
	switch {
	case s.Completed:
		return StateCompleted
	case s.Running:
		return StateRunning
	default:
		return StatePending
	}
}

// MetaFor returns the metadata record for path, creating an empty one when
// none exists.
func (s *Stage) MetaFor(path string) *PathMeta {
	if s.Meta == nil {
		s.Meta = map[string]*PathMeta{}
	}
	m, ok := s.Meta[path]
	if !ok {
		m = &PathMeta{}
		s.Meta[path] = m
	}
	return m
}

// StageSet is one user's ordered collection of stages. Order is the
// declared stage order of the overview and decides cascade successors.
type StageSet struct {
	Order  []string          `json:"order"`
	Stages map[string]*Stage `json:"stages"`
}

// NewStageSet returns an empty set.
func NewStageSet() *StageSet {
	return &StageSet{Stages: map[string]*Stage{}}
}

// Add appends stage to the set, keeping its position if the id is known.
func (ss *StageSet) Add(stage *Stage) {
	if _, ok := ss.Stages[stage.ID]; !ok {
		ss.Order = append(ss.Order, stage.ID)
	}
	ss.Stages[stage.ID] = stage
}

// Get returns the stage with the given id.
func (ss *StageSet) Get(id string) (*Stage, bool) {
	s, ok := ss.Stages[id]
	return s, ok
}

// Ordered returns the stages in declared order.
func (ss *StageSet) Ordered() []*Stage {
	out := make([]*Stage, 0, len(ss.Order))
	for _, id := range ss.Order {
		if s, ok := ss.Stages[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Next returns the stage declared after id.
func (ss *StageSet) Next(id string) (*Stage, bool) {
	for i, sid := range ss.Order {
		if sid == id && i+1 < len(ss.Order) {
			return ss.Get(ss.Order[i+1])
		}
	}
	return nil, false
}
