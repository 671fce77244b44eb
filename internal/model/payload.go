package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is an identifier the backend may send as a string or a number.
type ID string

// UnmarshalJSON accepts strings, numbers and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("id: %w", err)
		}
		*id = ID(n.String())
	}
	return nil
}

// String returns the string representation of the id.
func (id ID) String() string {
	return string(id)
}

// Proposal is one position entry as sent by the backend: the proposed value,
// the proposing peer id, and the peer ids that consented to it. On the wire
// it is the tuple [value, proposer, peers].
type Proposal struct {
	Value    any
	Proposer string
	Peers    []string
}

// UnmarshalJSON decodes the tuple form. Malformed entries decode to an empty
// proposal rather than failing the whole payload.
func (p *Proposal) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		*p = Proposal{}
		return nil
	}
	*p = Proposal{}
	if len(tuple) > 0 {
		_ = json.Unmarshal(tuple[0], &p.Value)
	}
	if len(tuple) > 1 {
		var proposer ID
		if proposer.UnmarshalJSON(tuple[1]) == nil {
			p.Proposer = proposer.String()
		}
	}
	if len(tuple) > 2 {
		var peers []ID
		if json.Unmarshal(tuple[2], &peers) == nil {
			for _, peer := range peers {
				p.Peers = append(p.Peers, peer.String())
			}
		}
	}
	return nil
}

// MarshalJSON encodes the tuple form.
func (p Proposal) MarshalJSON() ([]byte, error) {
	peers := p.Peers
	if peers == nil {
		peers = []string{}
	}
	return json.Marshal([]any{p.Value, p.Proposer, peers})
}

// RawState carries the liveness fields a payload may or may not include.
type RawState struct {
	Instance  *int
	Completed *bool
}

// StagePayload is the stage detail document returned by
// GET /{user}/stages/{id_instance}/ and by update/contribute posts.
type StagePayload struct {
	Document         map[string]any        `json:"document,omitempty"`
	Options          map[string]any        `json:"options,omitempty"`
	Positions        map[string][]Proposal `json:"positions,omitempty"`
	AprioriPositions map[string][]Proposal `json:"apriori_positions,omitempty"`
	Analysis         map[string]any        `json:"analysis,omitempty"`
	Labels           map[string]any        `json:"labels,omitempty"`
	Label            string                `json:"label,omitempty"`
	Status           string                `json:"status,omitempty"`
	PeerID           ID                    `json:"peer_id,omitempty"`
	ConsensusID      ID                    `json:"consensus_id,omitempty"`
	Completed        *bool                 `json:"completed,omitempty"`
	Instance         *int                  `json:"instance,omitempty"`
	OurNodeAnalysis  any                   `json:"our_node_analysis,omitempty"`
}

// RawState returns the liveness fields present in the payload.
func (p *StagePayload) RawState() RawState {
	if p == nil {
		return RawState{}
	}
	return RawState{Instance: p.Instance, Completed: p.Completed}
}

// InFlux reports whether the payload describes an active consensus that has
// not completed yet.
func (p *StagePayload) InFlux() bool {
	return p.ConsensusID != "" && p.Completed != nil && !*p.Completed
}

// StateLabel returns the stage-level label, falling back to status.
func (p *StagePayload) StateLabel() string {
	if p.Label != "" {
		return p.Label
	}
	return p.Status
}

// Report is one entry of the overview's append-only report log.
type Report struct {
	Stage     string         `json:"stage"`
	Instance  int            `json:"instance"`
	Completed bool           `json:"completed"`
	Document  map[string]any `json:"document,omitempty"`
	Labels    map[string]any `json:"labels,omitempty"`
}

// Payload returns the report as a stage payload.
func (r Report) Payload() *StagePayload {
	instance, completed := r.Instance, r.Completed
	return &StagePayload{
		Document:  r.Document,
		Labels:    r.Labels,
		Instance:  &instance,
		Completed: &completed,
	}
}

// StageInfo is a stage's entry in the overview meta block.
type StageInfo struct {
	ID                 ID     `json:"id"`
	Title              string `json:"title,omitempty"`
	Description        string `json:"description,omitempty"`
	Consensus          any    `json:"consensus,omitempty"`
	StageNegotiationID ID     `json:"stage_negotiation_id,omitempty"`
	Instance           *int   `json:"instance,omitempty"`
	Completed          *bool  `json:"completed,omitempty"`
}

// RawState returns the liveness fields present in the entry.
func (i StageInfo) RawState() RawState {
	return RawState{Instance: i.Instance, Completed: i.Completed}
}

// StageInfos is the overview meta block. JSON key order is the declared
// stage order and is preserved.
type StageInfos struct {
	Order []string
	ByID  map[string]StageInfo
}

// UnmarshalJSON decodes the object while recording key order.
func (s *StageInfos) UnmarshalJSON(data []byte) error {
	s.Order = nil
	s.ByID = map[string]StageInfo{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("stage meta: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("stage meta: expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("stage meta: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("stage meta: unexpected key %v", tok)
		}
		var info StageInfo
		if err := dec.Decode(&info); err != nil {
			return fmt.Errorf("stage meta %q: %w", key, err)
		}
		if _, seen := s.ByID[key]; !seen {
			s.Order = append(s.Order, key)
		}
		s.ByID[key] = info
	}
	return nil
}

// MarshalJSON encodes the object in declared order.
func (s StageInfos) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range s.Order {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(s.ByID[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// OverviewPayload is the response of GET /{user}/stages/.
type OverviewPayload struct {
	Meta                StageInfos `json:"meta"`
	Reports             []Report   `json:"reports,omitempty"`
	GlobalNegotiationID ID         `json:"global_negotiation_id,omitempty"`
	NextStage           string     `json:"next_stage,omitempty"`
	NextInstance        ID         `json:"next_instance,omitempty"`
}

// Overview is the normalized overview: reports grouped per stage in payload
// order, plus the pointer to the active stage instance.
type Overview struct {
	ReportsByStage      map[string][]Report
	GlobalNegotiationID string
	NextStage           string
	NextInstance        string
}

// LastReport returns the most recent report for stage.
func (o *Overview) LastReport(stage string) (Report, bool) {
	reports := o.ReportsByStage[stage]
	if len(reports) == 0 {
		return Report{}, false
	}
	return reports[len(reports)-1], true
}

// NextInstanceID returns the instance id the overview names as running.
func (o *Overview) NextInstanceID() string {
	return InstanceID(o.NextStage, o.NextInstance)
}

// InstanceID joins a stage id and an instance into the fetch key.
func InstanceID(stage string, instance any) string {
	switch v := instance.(type) {
	case int:
		return stage + "_" + strconv.Itoa(v)
	default:
		return fmt.Sprintf("%s_%v", stage, v)
	}
}
