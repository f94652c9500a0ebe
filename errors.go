package dash_archiver

import (
	"errors"
	"fmt"
)

var (
	ErrResolution = errors.New("resolution failure")
	ErrFetch      = errors.New("fetch failure")
	ErrPersist    = errors.New("persist failure")
	ErrCombine    = errors.New("combine failure")
	ErrCleanup    = errors.New("cleanup failure")

	ErrNoTitle    = errors.New("no title found in page")
	ErrNoPlayInfo = errors.New("no __playinfo__ found in page")
	ErrNoDash     = errors.New("no data.dash in play info")
	ErrNoStreams  = errors.New("no audio or video stream selected")
	ErrNoURL      = errors.New("no stream URL")
	ErrNoPayload  = errors.New("no downloaded payload")
)

// Step names one stage of a pipeline run.
type Step string

const (
	StepResolve Step = "resolve"
	StepFetch   Step = "fetch"
	StepPersist Step = "persist"
	StepCombine Step = "combine"
	StepCleanup Step = "cleanup"
)

var stepSentinels = map[Step]error{
	StepResolve: ErrResolution,
	StepFetch:   ErrFetch,
	StepPersist: ErrPersist,
	StepCombine: ErrCombine,
	StepCleanup: ErrCleanup,
}

// Sentinel returns the error kind that failures of this step match with errors.Is.
func (s Step) Sentinel() error {
	return stepSentinels[s]
}

// StepError is the failure of a single pipeline step. It matches the step's sentinel error (e.g. ErrFetch) with
// errors.Is, and unwraps to the underlying cause.
type StepError struct {
	Step Step
	Err  error
}

func newStepError(step Step, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%v: %v", e.Step.Sentinel(), e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Is(target error) bool {
	return target != nil && target == e.Step.Sentinel()
}
