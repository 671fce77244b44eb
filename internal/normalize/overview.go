// Package normalize turns backend stage payloads into the console's stage
// model.
//
// Everything here is a pure derivation over its inputs apart from the peer
// registry, which Builder updates with the names it learns. Re-running a
// derivation on unchanged inputs yields the same result, so the orchestrator
// can re-poll freely.
package normalize

import "github.com/grnet/panoramix/internal/model"

// Overview groups the overview's report log per stage, keeping payload order,
// and copies the next-stage pointer. A nil payload normalizes to an empty
// overview.
func Overview(raw *model.OverviewPayload) *model.Overview {
	ov := &model.Overview{ReportsByStage: map[string][]model.Report{}}
	if raw == nil {
		return ov
	}
	for _, r := range raw.Reports {
		ov.ReportsByStage[r.Stage] = append(ov.ReportsByStage[r.Stage], r)
	}
	ov.GlobalNegotiationID = raw.GlobalNegotiationID.String()
	ov.NextStage = raw.NextStage
	ov.NextInstance = raw.NextInstance.String()
	return ov
}
