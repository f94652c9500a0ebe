package dash_archiver

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/alanbriolat/dash-archiver/async"
	"github.com/alanbriolat/dash-archiver/download"
	"github.com/alanbriolat/dash-archiver/generic"
	"github.com/alanbriolat/dash-archiver/mux"
)

type RunStatus string

const (
	RunStatusNew      RunStatus = "new"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunState is the observable state of a pipeline run.
type RunState struct {
	ID     string
	URL    string
	Title  string
	Step   Step
	Status RunStatus
	// Bytes of media fetched so far, and expected in total (0 if unknown).
	Downloaded int64
	Expected   int64
}

// An Observer is called on every change of RunState. Calls are serialized across all runs of a Pipeline.
type Observer func(old RunState, new RunState)

// StepResult is the outcome of one step. A step is either skipped, succeeds (Err == nil) or fails.
type StepResult struct {
	Step    Step
	Skipped bool
	Err     error
}

func (r StepResult) IsOk() bool {
	return !r.Skipped && r.Err == nil
}

// RunReport is the outcome of Pipeline.Run.
type RunReport struct {
	ID    string
	URL   string
	Title string
	// Path of the muxed file, empty if none was produced.
	OutputPath string
	Steps      []StepResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// Step returns the result of the named step, if it was recorded.
func (r *RunReport) Step(step Step) generic.Option[StepResult] {
	for _, s := range r.Steps {
		if s.Step == step {
			return generic.Some(s)
		}
	}
	return generic.None[StepResult]()
}

// Err combines the errors of all failed steps, or returns nil if none failed.
func (r *RunReport) Err() error {
	var result error
	for _, s := range r.Steps {
		if s.Err != nil {
			result = multierror.Append(result, s.Err)
		}
	}
	return result
}

// Succeeded is true if every step ran and none failed.
func (r *RunReport) Succeeded() bool {
	return r.Record().Succeeded()
}

// Record converts the report to its persisted form.
func (r *RunReport) Record() *RunRecord {
	record := &RunRecord{
		ID:         r.ID,
		URL:        r.URL,
		Title:      r.Title,
		OutputPath: r.OutputPath,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Steps:      make([]StepRecord, 0, len(r.Steps)),
	}
	for _, s := range r.Steps {
		sr := StepRecord{Step: s.Step, Skipped: s.Skipped}
		if s.Err != nil {
			sr.Error = s.Err.Error()
		}
		record.Steps = append(record.Steps, sr)
	}
	return record
}

// A Pipeline resolves a page, then fetches, persists, combines and cleans up its media.
type Pipeline struct {
	config   Config
	client   *http.Client
	resolver *Resolver
	observer Observer
	// Held while calling observer.
	observerMu sync.Mutex
}

func NewPipeline(config Config) *Pipeline {
	if config.Muxer == nil {
		config.Muxer = mux.NewFFmpeg("ffmpeg")
	}
	if config.History == nil {
		config.History = NilHistory{}
	}
	client := &http.Client{Timeout: config.Timeout}
	return &Pipeline{
		config:   config,
		client:   client,
		resolver: NewResolver(client),
	}
}

// WithObserver sets the function notified of RunState changes.
func (p *Pipeline) WithObserver(f Observer) *Pipeline {
	p.observer = f
	return p
}

// Run executes the whole pipeline for one page URL. It never fails as such: the outcome of every step is in the
// returned report, which is also written to the configured History.
func (p *Pipeline) Run(ctx context.Context, pageURL string) *RunReport {
	r := p.newRun(ctx, pageURL)
	r.execute()
	if err := p.config.History.WriteRun(r.report.Record()); err != nil {
		r.log.Warnf("Failed to record run in history: %v", err)
	}
	return r.report
}

// run is the state of a single Pipeline.Run.
type run struct {
	pipeline *Pipeline
	ctx      context.Context
	log      *zap.SugaredLogger
	state    RunState
	report   *RunReport
	media    ResolvedMedia
	payload  DownloadedPayload
	ws       *download.Workspace
	failed   bool
}

func (p *Pipeline) newRun(ctx context.Context, pageURL string) *run {
	id := uuid.NewString()
	return &run{
		pipeline: p,
		ctx:      ctx,
		log:      Logger(ctx).Named("pipeline").With(zap.String("run_id", id)).Sugar(),
		state:    RunState{ID: id, URL: pageURL, Status: RunStatusNew},
		report:   &RunReport{ID: id, URL: pageURL},
	}
}

func (r *run) updateState(f func(s *RunState)) {
	old := r.state
	f(&r.state)
	if r.state != old && r.pipeline.observer != nil {
		r.pipeline.observerMu.Lock()
		defer r.pipeline.observerMu.Unlock()
		r.pipeline.observer(old, r.state)
	}
}

func (r *run) execute() {
	r.report.StartedAt = time.Now()
	defer func() {
		r.report.FinishedAt = time.Now()
		r.updateState(func(s *RunState) {
			if r.report.Succeeded() {
				s.Status = RunStatusComplete
			} else {
				s.Status = RunStatusFailed
			}
		})
	}()
	r.updateState(func(s *RunState) { s.Status = RunStatusRunning })

	r.runStep(StepResolve, r.resolveStreams)
	if r.failed {
		// Never attempt downloads against absent URLs
		r.skip(StepFetch, StepPersist, StepCombine, StepCleanup)
		return
	}

	err := download.WithWorkspace(func(ws *download.Workspace) error {
		r.ws = ws
		r.runStep(StepFetch, r.fetchStreams)
		r.runStep(StepPersist, r.persistStreams)
		r.runStep(StepCombine, r.combine)
		r.do(StepCleanup, r.cleanup)
		return nil
	}, r.workspaceOptions()...)
	if err != nil {
		r.log.Errorf("Failed to prepare workspace: %v", err)
		r.record(StepResult{Step: StepFetch, Err: newStepError(StepFetch, err)})
		r.skip(StepPersist, StepCombine, StepCleanup)
	}
}

func (r *run) workspaceOptions() []download.WorkspaceOption {
	opts := []download.WorkspaceOption{
		download.WithTargetDir(r.pipeline.config.TargetDir),
		download.WithPattern("dash-archiver-" + r.state.ID + "-*"),
		download.WithLogger(r.log.Desugar()),
	}
	if r.pipeline.config.TempDir != "" {
		opts = append(opts, download.WithTempDir(r.pipeline.config.TempDir))
	}
	return opts
}

// runStep runs f as step, unless an earlier failure and the StopOnError policy mean it should be skipped.
func (r *run) runStep(step Step, f func() error) {
	if r.failed && r.pipeline.config.Policy == StopOnError {
		r.skip(step)
		return
	}
	r.do(step, f)
}

// do runs f as step, recording its result.
func (r *run) do(step Step, f func() error) {
	r.updateState(func(s *RunState) { s.Step = step })
	err := newStepError(step, f())
	if err != nil {
		r.failed = true
		r.log.Errorf("%v", err)
	} else {
		r.log.Debugf("Step %s succeeded", step)
	}
	r.record(StepResult{Step: step, Err: err})
}

func (r *run) skip(steps ...Step) {
	for _, step := range steps {
		r.log.Debugf("Step %s skipped", step)
		r.record(StepResult{Step: step, Skipped: true})
	}
}

func (r *run) record(result StepResult) {
	r.report.Steps = append(r.report.Steps, result)
}

func (r *run) resolveStreams() error {
	media, err := r.pipeline.resolver.resolve(r.ctx, r.state.URL)
	if err != nil {
		return err
	}
	r.media = media
	title := media.Title.UnwrapOrDefault()
	r.report.Title = title
	r.updateState(func(s *RunState) { s.Title = title })
	if !media.HasStreams() {
		return ErrNoStreams
	}
	return nil
}

// fetchStreams downloads every selected stream. Streams are fetched concurrently and independently, so one failing
// does not prevent the other from being fetched.
func (r *run) fetchStreams() error {
	t := &transfer{progressCallback: func(downloaded int64, expected int64) {
		r.updateState(func(s *RunState) {
			s.Downloaded = downloaded
			s.Expected = expected
		})
	}}
	fetch := func(name string, url generic.Option[string]) ([]byte, error) {
		u, ok := url.Get()
		if !ok {
			return nil, fmt.Errorf("%s: %w", name, ErrNoURL)
		}
		r.log.Infof("Fetching %s stream", name)
		data, err := get(r.ctx, r.pipeline.client, u, r.media.Header, t)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return data, nil
	}

	video := async.RunResult(func() ([]byte, error) { return fetch("video", r.media.VideoURL) })
	audio := async.RunResult(func() ([]byte, error) { return fetch("audio", r.media.AudioURL) })

	var result error
	var err error
	if r.payload.Video, err = (<-video).Parts(); err != nil {
		result = multierror.Append(result, err)
	}
	if r.payload.Audio, err = (<-audio).Parts(); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

// persistStreams writes whichever payloads were fetched into the workspace.
func (r *run) persistStreams() error {
	write := func(name string, filename string, data []byte) error {
		if data == nil {
			return fmt.Errorf("%s: %w", name, ErrNoPayload)
		}
		path, err := r.ws.WriteTemp(filename, data)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		r.log.Debugf("Wrote %d bytes to %s", len(data), path)
		return nil
	}

	var result error
	if err := write("video", download.VideoFilename, r.payload.Video); err != nil {
		result = multierror.Append(result, err)
	}
	if err := write("audio", download.AudioFilename, r.payload.Audio); err != nil {
		result = multierror.Append(result, err)
	}
	// Payloads are no longer needed once on disk
	r.payload = DownloadedPayload{}
	return result
}

// combine muxes the persisted streams into the output file named after the title.
func (r *run) combine() error {
	title, err := r.media.Title.OkOr(ErrNoTitle).Parts()
	if err != nil {
		return err
	}
	job := mux.Job{
		VideoPath: r.ws.TempPath(download.VideoFilename),
		AudioPath: r.ws.TempPath(download.AudioFilename),
	}
	for _, path := range []string{job.VideoPath, job.AudioPath} {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("missing input: %w", err)
		}
	}
	filename, err := r.pipeline.config.OutputFilename(r.state.ID, title)
	if err != nil {
		return fmt.Errorf("failed to build output filename: %w", err)
	}
	job.OutputPath = r.ws.TargetPath(filename)

	r.log.Infof("Combining streams into %s", job.OutputPath)
	if err := r.pipeline.config.Muxer.Mux(mux.WithLogger(r.ctx, r.log.Desugar()), job); err != nil {
		return err
	}
	r.report.OutputPath = job.OutputPath
	return nil
}

// cleanup deletes the temporary stream files. Files that are already gone are not an error, so it is safe to call
// more than once.
func (r *run) cleanup() error {
	var result error
	for _, filename := range []string{download.VideoFilename, download.AudioFilename} {
		removed, err := r.ws.RemoveTemp(filename)
		if err != nil {
			result = multierror.Append(result, err)
		} else if !removed {
			r.log.Infof("Temporary file %s already absent", filename)
		}
	}
	return result
}
