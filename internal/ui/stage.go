package ui

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/grnet/panoramix/internal/docpath"
	"github.com/grnet/panoramix/internal/model"
)

// StageLine renders the one-line summary of a stage.
func StageLine(st *model.Stage) string {
	title, _ := st.MetaFor(st.Path).Options["title"].(string)
	line := fmt.Sprintf("%-12s %-10s instance %d", st.ID, RenderState(st.State()), st.Instance)
	if title != "" {
		line += "  " + RenderMuted(title)
	}
	return line
}

// FieldLines renders every leaf of the stage document as "path = value"
// followed by the annotations of its meta, in path order.
func FieldLines(st *model.Stage) []string {
	flat, err := docpath.Flatten(st.Document)
	if err != nil {
		return []string{RenderFail(err.Error())}
	}
	paths := make([]string, 0, len(flat))
	for k := range flat {
		paths = append(paths, k)
	}
	slices.Sort(paths)

	lines := make([]string, 0, len(paths))
	for _, key := range paths {
		path := docpath.Join(st.Path, key)
		line := fmt.Sprintf("%s = %s", path, formatValue(flat[key]))
		if notes := annotations(st.Meta[path]); len(notes) > 0 {
			line += "  " + RenderMuted("["+strings.Join(notes, ", ")+"]")
		}
		lines = append(lines, line)
	}
	return lines
}

func annotations(m *model.PathMeta) []string {
	if m == nil {
		return nil
	}
	var notes []string
	if m.Type != "" {
		notes = append(notes, m.Type)
	}
	if m.Action != "" {
		notes = append(notes, m.Action)
	}
	if m.DictLocked {
		notes = append(notes, "locked")
	}
	if m.ActionDisabled {
		notes = append(notes, "disabled")
	}
	if m.StateLabel != "" {
		notes = append(notes, m.StateLabel)
	}
	if m.Updating {
		notes = append(notes, RenderWarn("updating"))
	}
	for _, p := range m.Positions {
		if p.Conflict {
			notes = append(notes, RenderFail("conflict:"+p.Peer))
		}
	}
	return notes
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return RenderMuted("null")
	case string:
		return t
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
