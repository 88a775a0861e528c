package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigil-data/activity.report/internal/capture"
	"github.com/vigil-data/activity.report/internal/classify"
	"github.com/vigil-data/activity.report/internal/errkind"
	"github.com/vigil-data/activity.report/internal/features"
	"github.com/vigil-data/activity.report/internal/monitoring"
	"github.com/vigil-data/activity.report/internal/timeutil"
)

// MediaController is the frame-source surface the batch analyzer drives.
type MediaController interface {
	Capture(ctx context.Context, source string) (capture.Frame, error)
	MediaStatus(ctx context.Context, name string) (capture.MediaStatus, error)
	ControlMedia(ctx context.Context, name string, action capture.MediaAction, position time.Duration) error
}

// JobState is the batch job lifecycle phase.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobError     JobState = "error"
)

// Gap records one analysis step that produced no result. The batch
// continues past it; the hole stays visible in the final series.
type Gap struct {
	Position time.Duration `json:"position"`
	Reason   string        `json:"reason"`
}

// Job tracks one batch analysis of a recorded source.
type Job struct {
	ID         string            `json:"id"`
	Source     string            `json:"source"`
	Interval   time.Duration     `json:"interval"`
	State      JobState          `json:"state"`
	Progress   float64           `json:"progress"`
	Results    []classify.Result `json:"results,omitempty"`
	Gaps       []Gap             `json:"gaps,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// settleDelay gives the source time to present the sought frame before the
// screenshot request.
const settleDelay = 500 * time.Millisecond

// JobManager runs batch analyses asynchronously and answers status polls.
type JobManager struct {
	media      MediaController
	extractor  *features.Extractor
	classifier *classify.Classifier
	clock      timeutil.Clock
	logf       func(string, ...interface{})

	mu   sync.Mutex
	jobs map[string]*Job
}

// NewJobManager builds an empty registry.
func NewJobManager(media MediaController, extractor *features.Extractor, classifier *classify.Classifier, clock timeutil.Clock) *JobManager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &JobManager{
		media:      media,
		extractor:  extractor,
		classifier: classifier,
		clock:      clock,
		logf:       monitoring.Scoped("vidscan"),
		jobs:       make(map[string]*Job),
	}
}

// Analyze starts a batch job over the named source, sampling one frame
// every interval, and returns the job id immediately. Poll Job for
// progress and results.
func (m *JobManager) Analyze(ctx context.Context, source string, interval time.Duration) (string, error) {
	if source == "" {
		return "", errkind.New(errkind.Capture, "analysis.analyze", "source name must not be empty")
	}
	if interval <= 0 {
		return "", errkind.Newf(errkind.Capture, "analysis.analyze", "sample interval must be positive, got %s", interval)
	}

	job := &Job{
		ID:       uuid.NewString(),
		Source:   source,
		Interval: interval,
		State:    JobPending,
	}
	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	go m.run(ctx, job.ID)
	return job.ID, nil
}

// Job returns a copy of the job's current state.
func (m *JobManager) Job(id string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return snapshotJob(job), true
}

func snapshotJob(job *Job) Job {
	out := *job
	out.Results = append([]classify.Result(nil), job.Results...)
	out.Gaps = append([]Gap(nil), job.Gaps...)
	return out
}

func (m *JobManager) run(ctx context.Context, id string) {
	m.update(id, func(job *Job) {
		job.State = JobRunning
		job.StartedAt = m.clock.Now()
	})

	err := m.analyze(ctx, id)

	m.update(id, func(job *Job) {
		job.FinishedAt = m.clock.Now()
		if err != nil {
			job.State = JobError
			job.Error = err.Error()
			return
		}
		job.State = JobCompleted
		job.Progress = 100
	})
}

func (m *JobManager) analyze(ctx context.Context, id string) error {
	job, ok := m.Job(id)
	if !ok {
		return errkind.New(errkind.Capture, "analysis.run", "job vanished from registry")
	}

	status, err := m.media.MediaStatus(ctx, job.Source)
	if err != nil {
		return err
	}
	if status.Duration <= 0 {
		return errkind.Newf(errkind.Capture, "analysis.run", "source %q reports no duration", job.Source)
	}

	m.logf("analyzing %q: %s at %s steps", job.Source, status.Duration, job.Interval)

	// Results are stamped on the job's own timeline: start time plus media
	// position, so exports can recover each step's position exactly.
	base := job.StartedAt
	var prev capture.Frame
	for pos := time.Duration(0); pos < status.Duration; pos += job.Interval {
		if ctx.Err() != nil {
			return errkind.Wrap(errkind.Capture, "analysis.run", ctx.Err())
		}

		frame, err := m.step(ctx, job.Source, pos)
		if err != nil {
			m.logf("step %s failed, recording gap: %v", pos, err)
			m.update(id, func(job *Job) {
				job.Gaps = append(job.Gaps, Gap{Position: pos, Reason: err.Error()})
				job.Progress = progress(pos+job.Interval, status.Duration)
			})
			continue
		}

		sample := capture.SyncedSample{Frame: frame, Unsynced: true}
		vec := m.extractor.Extract(sample, prev)
		res := m.classifier.Classify(base.Add(pos), vec, true)
		prev = frame

		m.update(id, func(job *Job) {
			job.Results = append(job.Results, res)
			job.Progress = progress(pos+job.Interval, status.Duration)
		})
	}
	return nil
}

// step seeks the source to pos, lets it settle, and grabs the frame.
func (m *JobManager) step(ctx context.Context, source string, pos time.Duration) (capture.Frame, error) {
	if err := m.media.ControlMedia(ctx, source, capture.MediaSeek, pos); err != nil {
		return capture.Frame{}, err
	}
	m.clock.Sleep(settleDelay)

	frame, err := m.media.Capture(ctx, source)
	if err != nil {
		return capture.Frame{}, err
	}
	if frame.Empty() {
		return capture.Frame{}, errkind.New(errkind.Capture, "analysis.step", "empty frame")
	}
	return frame, nil
}

func (m *JobManager) update(id string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		fn(job)
	}
}

func progress(done, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(done) / float64(total) * 100
	if p > 100 {
		p = 100
	}
	return p
}
