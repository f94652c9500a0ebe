package dash_archiver

import "time"

// RunRecord is the persisted summary of a pipeline run.
type RunRecord struct {
	ID         string
	URL        string
	Title      string
	OutputPath string
	StartedAt  time.Time
	FinishedAt time.Time
	Steps      []StepRecord
}

type StepRecord struct {
	Step    Step
	Skipped bool   `json:",omitempty"`
	Error   string `json:",omitempty"`
}

// Succeeded is true if every step ran without error.
func (r *RunRecord) Succeeded() bool {
	if len(r.Steps) == 0 {
		return false
	}
	for _, s := range r.Steps {
		if s.Skipped || s.Error != "" {
			return false
		}
	}
	return true
}

// History stores a record of every pipeline run.
type History interface {
	ListRuns() ([]RunRecord, error)
	// GetRun returns (nil, nil) if there is no such run.
	GetRun(id string) (*RunRecord, error)
	WriteRun(*RunRecord) error
}

type NilHistory struct{}

func (h NilHistory) ListRuns() ([]RunRecord, error) {
	return nil, nil
}

func (h NilHistory) GetRun(_ string) (*RunRecord, error) {
	return nil, nil
}

func (h NilHistory) WriteRun(_ *RunRecord) error {
	return nil
}
