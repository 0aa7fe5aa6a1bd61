package pipeline

import "time"

// Stage is the coarse, time-derived warm-up phase reported to observers.
type Stage string

const (
	StageInit          Stage = "INIT"
	StagePreprocessing Stage = "PREPROCESSING"
	StageTraining50    Stage = "TRAINING_50"
	StageTraining75    Stage = "TRAINING_75"
	StageActive        Stage = "ACTIVE"
)

// StageFor maps time since the pipeline started to a stage.
func StageFor(elapsed time.Duration) Stage {
	switch {
	case elapsed < 30*time.Second:
		return StageInit
	case elapsed < 60*time.Second:
		return StagePreprocessing
	case elapsed < 90*time.Second:
		return StageTraining50
	case elapsed < 120*time.Second:
		return StageTraining75
	default:
		return StageActive
	}
}

// Detail is the status line shown next to the stage.
func (s Stage) Detail() string {
	switch s {
	case StageInit:
		return "waiting for sufficient data samples"
	case StagePreprocessing:
		return "preprocessing training data"
	case StageTraining50:
		return "training model on collected samples"
	case StageTraining75:
		return "optimizing model parameters"
	case StageActive:
		return "trained"
	default:
		return string(s)
	}
}

// stageTracker latches ACTIVE for the rest of the session.
type stageTracker struct {
	started time.Time
	current Stage
}

// start pins the stage clock; without it the first update does.
func (t *stageTracker) start(at time.Time) {
	if t.started.IsZero() {
		t.started = at
	}
}

func (t *stageTracker) update(at time.Time) Stage {
	if t.current == StageActive {
		return t.current
	}
	t.start(at)
	t.current = StageFor(at.Sub(t.started))
	return t.current
}
