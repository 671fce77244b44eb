package metrics

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordFetch(t *testing.T) {
	for _, tc := range []struct {
		name   string
		kind   string
		err    error
		status string
	}{
		{"OverviewSuccess", KindOverview, nil, StatusSuccess},
		{"StageError", KindStage, errors.New("boom"), StatusError},
		{"ContributeSuccess", KindContribute, nil, StatusSuccess},
		{"UpdateError", KindUpdate, errors.New("boom"), StatusError},
	} {
		t.Run(tc.name, func(t *testing.T) {
			before := testutil.ToFloat64(stageFetchesTotal.WithLabelValues(tc.kind, tc.status))
			RecordFetch(tc.kind, tc.err)
			after := testutil.ToFloat64(stageFetchesTotal.WithLabelValues(tc.kind, tc.status))
			if after != before+1 {
				t.Errorf("counter = %v, want %v", after, before+1)
			}
		})
	}
}

func TestRecordRefresh(t *testing.T) {
	dropped := testutil.ToFloat64(refreshTotal.WithLabelValues(StatusDropped))
	success := testutil.ToFloat64(refreshTotal.WithLabelValues(StatusSuccess))
	failed := testutil.ToFloat64(refreshTotal.WithLabelValues(StatusError))

	RecordRefresh(nil, true, 0)
	RecordRefresh(nil, false, 0.2)
	RecordRefresh(errors.New("boom"), false, 1.5)

	if got := testutil.ToFloat64(refreshTotal.WithLabelValues(StatusDropped)); got != dropped+1 {
		t.Errorf("dropped = %v", got)
	}
	if got := testutil.ToFloat64(refreshTotal.WithLabelValues(StatusSuccess)); got != success+1 {
		t.Errorf("success = %v", got)
	}
	if got := testutil.ToFloat64(refreshTotal.WithLabelValues(StatusError)); got != failed+1 {
		t.Errorf("error = %v", got)
	}
}

func TestRecordFieldUpdate_Concurrent(t *testing.T) {
	before := testutil.ToFloat64(fieldUpdatesTotal.WithLabelValues(StatusSuccess))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			RecordFieldUpdate(nil)
		}()
	}
	wg.Wait()
	if got := testutil.ToFloat64(fieldUpdatesTotal.WithLabelValues(StatusSuccess)); got != before+50 {
		t.Errorf("field updates = %v, want %v", got, before+50)
	}
}

func TestGatherer(t *testing.T) {
	RecordFetch(KindStage, nil)
	families, err := Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "zeus_stage_fetches_total" {
			found = true
		}
	}
	if !found {
		t.Error("zeus_stage_fetches_total not gathered")
	}
}
