package orchestrator

import (
	"fmt"
	"time"
)

// Stage is the position of a request in the pipeline.
type Stage string

const (
	StageReceived    Stage = "RECEIVED"
	StageClassified  Stage = "CLASSIFIED"
	StagePlanned     Stage = "PLANNED"
	StageExecuting   Stage = "EXECUTING"
	StageSynthesized Stage = "SYNTHESIZED"
)

// validTransitions defines allowed stage transitions. SYNTHESIZED is
// terminal and no stage is revisited.
var validTransitions = map[Stage]Stage{
	StageReceived:   StageClassified,
	StageClassified: StagePlanned,
	StagePlanned:    StageExecuting,
	StageExecuting:  StageSynthesized,
}

// Transition returns nil if from→to is a legal transition.
func Transition(from, to Stage) error {
	next, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("no transitions from %q", from)
	}
	if next != to {
		return fmt.Errorf("invalid transition %q → %q", from, to)
	}
	return nil
}

// stageClock tracks one request's stage and how long it spent there.
type stageClock struct {
	stage   Stage
	entered time.Time
}

func newStageClock() *stageClock {
	return &stageClock{stage: StageReceived, entered: time.Now()}
}

// advance moves to the next stage and returns the stage left and the
// time spent in it.
func (c *stageClock) advance(to Stage) (Stage, time.Duration, error) {
	if err := Transition(c.stage, to); err != nil {
		return c.stage, 0, err
	}
	from, spent := c.stage, time.Since(c.entered)
	c.stage, c.entered = to, time.Now()
	return from, spent, nil
}
