package model

import "strings"

// Stage state labels the backend reports.
const (
	LabelDone         = "DONE"
	LabelNoTransition = "NO_TRANSITION"
	LabelAutoclose    = "AUTOCLOSE"
	LabelEnhance      = "ENHANCE"
)

// actionableLabels are stage labels for which the contribute action is offered.
var actionableLabels = map[string]bool{
	"FINISH":     true,
	"PROPOSE":    true,
	"TRANSITION": true,
	"ENHANCE":    true,
	"CONSENT":    true,
	"CONFLICT":   true,
}

var actionLabels = map[string]string{
	LabelEnhance:      "CONSENT & PROPOSE",
	LabelNoTransition: "PROPOSE",
	LabelAutoclose:    "WAIT",
}

// IsSettledLabel reports whether a stage-level label means there is nothing
// left to do in the stage.
func IsSettledLabel(label string) bool {
	switch strings.ToUpper(label) {
	case LabelNoTransition, LabelDone:
		return true
	}
	return false
}

// CanAction reports whether the contribute action applies to a stage in the
// given state label.
func CanAction(stateLabel string) bool {
	return actionableLabels[strings.ToUpper(stateLabel)]
}

// ActionLabel returns the display label of the contribute action.
func ActionLabel(stateLabel string) string {
	label, ok := actionLabels[strings.ToUpper(stateLabel)]
	if !ok {
		label = strings.ReplaceAll(stateLabel, "_", " ")
	}
	if label == "" {
		label = "WAIT"
	}
	return capitalize(label)
}

// KeyLabel returns the display label of a document key: the declared
// key_label option, or the key with underscores as spaces, capitalized.
func KeyLabel(key string, meta *PathMeta) string {
	if meta != nil && meta.KeyLabel != "" {
		return meta.KeyLabel
	}
	return capitalize(strings.ReplaceAll(key, "_", " "))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
