// Package merge applies freshly normalized stage models onto the long-lived
// ones.
//
// Containers already present in the target are mutated rather than replaced
// whenever their kind matches, so callers holding a nested map of a stage
// document keep observing updates.
package merge

import (
	"reflect"

	"github.com/grnet/panoramix/internal/docpath"
	"github.com/grnet/panoramix/internal/model"
)

// Merge merges source into target. A slot whose kind differs between the two
// (map, slice or scalar) is replaced wholesale; maps recurse; slices of equal
// length merge element-wise in place, others are replaced; unequal scalars
// are assigned. With removeMissing, keys absent from source are deleted after
// their siblings have been merged.
//
// A slice cannot change length behind a holder's back, so a slice whose
// length differs gets a fresh backing array and the old one no longer
// observes updates.
func Merge(target, source map[string]any, removeMissing bool) {
	if target == nil {
		return
	}
	for key, sv := range source {
		tv, ok := target[key]
		if !ok {
			target[key] = docpath.Clone(sv)
			continue
		}
		target[key] = mergeValue(tv, sv, removeMissing)
	}
	if !removeMissing {
		return
	}
	for key := range target {
		if _, ok := source[key]; !ok {
			delete(target, key)
		}
	}
}

func mergeValue(tv, sv any, removeMissing bool) any {
	switch s := sv.(type) {
	case map[string]any:
		t, ok := tv.(map[string]any)
		if !ok {
			return docpath.Clone(s)
		}
		Merge(t, s, removeMissing)
		return t
	case []any:
		t, ok := tv.([]any)
		if !ok || len(t) != len(s) {
			return docpath.Clone(s)
		}
		for i := range s {
			t[i] = mergeValue(t[i], s[i], removeMissing)
		}
		return t
	default:
		switch tv.(type) {
		case map[string]any, []any:
			return sv
		}
		if reflect.DeepEqual(tv, sv) {
			return tv
		}
		return sv
	}
}

// Stage merges src onto target. Scalar fields are assigned, the document and
// analysis merge structurally, and per-path metadata merges record by record
// so PathMeta pointers held elsewhere stay valid. The Updating flag of an
// existing record is never touched.
func Stage(target, src *model.Stage, removeMissing bool) {
	if target == nil || src == nil {
		return
	}
	target.ID = src.ID
	target.ConsensusID = src.ConsensusID
	target.Path = src.Path
	target.URLPath = src.URLPath
	target.InstanceID = src.InstanceID
	target.Instance = src.Instance
	target.Completed = src.Completed
	target.Running = src.Running
	target.Pending = src.Pending
	target.GlobalNegotiation = src.GlobalNegotiation
	target.Negotiation = src.Negotiation

	target.Document = mergeDoc(target.Document, src.Document, removeMissing)
	target.Analysis = mergeDoc(target.Analysis, src.Analysis, removeMissing)

	if target.Meta == nil {
		target.Meta = make(map[string]*model.PathMeta, len(src.Meta))
	}
	for path, sm := range src.Meta {
		if sm == nil {
			continue
		}
		tm, ok := target.Meta[path]
		if !ok || tm == nil {
			cp := *sm
			cp.Updating = false
			target.Meta[path] = &cp
			continue
		}
		Meta(tm, sm, removeMissing)
	}
	if removeMissing {
		for path := range target.Meta {
			if _, ok := src.Meta[path]; !ok {
				delete(target.Meta, path)
			}
		}
	}
}

// Meta merges src into target, leaving target.Updating as it is. Options and
// Analysis merge in place; Positions is rebuilt by every normalization and is
// replaced.
func Meta(target, src *model.PathMeta, removeMissing bool) {
	if target.Options == nil && src.Options != nil {
		target.Options = map[string]any{}
	}
	if target.Options != nil {
		Merge(target.Options, src.Options, removeMissing)
	}
	target.Type = src.Type
	target.Action = src.Action
	target.Params = src.Params
	target.KeyLabel = src.KeyLabel
	target.ActionDisabled = src.ActionDisabled
	target.LockAction = src.LockAction
	target.DictLocked = src.DictLocked
	target.DictLockedValue = src.DictLockedValue
	target.StateLabel = src.StateLabel
	target.Positions = src.Positions

	switch {
	case src.Analysis == nil && removeMissing:
		target.Analysis = nil
	case src.Analysis == nil:
	case target.Analysis == nil:
		target.Analysis = docpath.Clone(src.Analysis).(map[string]any)
	default:
		Merge(target.Analysis, src.Analysis, removeMissing)
	}
}

func mergeDoc(target, source map[string]any, removeMissing bool) map[string]any {
	if target == nil {
		if source == nil {
			return nil
		}
		return docpath.Clone(source).(map[string]any)
	}
	if source == nil {
		source = map[string]any{}
		if !removeMissing {
			return target
		}
	}
	Merge(target, source, removeMissing)
	return target
}
