package normalize

import "github.com/grnet/panoramix/internal/model"

// Liveness is the derived lifecycle of a stage.
type Liveness struct {
	Instance   int
	Completed  bool
	Running    bool
	Pending    bool
	InstanceID string
	URLPath    string
	Path       string
}

// State reports the liveness state.
func (l Liveness) State() model.State {
	switch {
	case l.Completed:
		return model.StateCompleted
	case l.Running:
		return model.StateRunning
	default:
		return model.StatePending
	}
}

// DeriveState computes the instance and liveness of stage id.
//
// The last report of the stage decides when there is one: a completed report
// pins its instance, an open one means the next instance is underway.
// Without reports the raw payload's own fields apply, then the prior model's,
// then instance 1 and not completed. An uncompleted stage runs iff its
// instance id is the overview's next pointer and is pending otherwise.
func DeriveState(id string, prior *model.Stage, raw model.RawState, ov *model.Overview) Liveness {
	if ov == nil {
		ov = &model.Overview{}
	}
	var l Liveness
	if last, ok := ov.LastReport(id); ok {
		if last.Completed {
			l.Instance = last.Instance
			l.Completed = true
		} else {
			l.Instance = last.Instance + 1
		}
	} else {
		switch {
		case raw.Instance != nil:
			l.Instance = *raw.Instance
		case prior != nil && prior.Instance != 0:
			l.Instance = prior.Instance
		default:
			l.Instance = 1
		}
		switch {
		case raw.Completed != nil:
			l.Completed = *raw.Completed
		case prior != nil:
			l.Completed = prior.Completed
		}
	}

	l.InstanceID = model.InstanceID(id, l.Instance)
	l.URLPath = l.InstanceID
	l.Path = "/" + id
	l.Running = !l.Completed && l.InstanceID == ov.NextInstanceID()
	l.Pending = !l.Completed && !l.Running
	return l
}

// Apply writes the derived fields onto s.
func (l Liveness) Apply(s *model.Stage) {
	s.Instance = l.Instance
	s.Completed = l.Completed
	s.Running = l.Running
	s.Pending = l.Pending
	s.InstanceID = l.InstanceID
	s.URLPath = l.URLPath
	s.Path = l.Path
}
