package publisher

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	StateStarted  = "started"
	StateProgress = "progress"
	StateFinished = "finished"
)

type ProgressEvent struct {
	RunID     string    `json:"runId"`
	Label     string    `json:"label"`
	State     string    `json:"state"`
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	Percent   float64   `json:"percent"`
	Timestamp time.Time `json:"timestamp"`
}

type EventPublisher interface {
	PublishEvent(subject string, ev ProgressEvent) error
}

func NewRunID() string { return uuid.NewString() }

// ProgressReporter turns render progress into events on <prefix>.<runID>.
// Intermediate events are sent at most once per whole percent.
type ProgressReporter struct {
	pub     EventPublisher
	subject string
	runID   string
	log     *zap.Logger
	now     func() time.Time

	label       string
	total, done int
	lastPercent int
	failed      bool
}

func NewProgressReporter(pub EventPublisher, prefix, runID string, logger *zap.Logger) *ProgressReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressReporter{
		pub:     pub,
		subject: Subject(prefix, runID),
		runID:   runID,
		log:     logger,
		now:     time.Now,
	}
}

func (r *ProgressReporter) Subject() string { return r.subject }

func (r *ProgressReporter) Start(total int, label string) {
	r.label, r.total, r.done, r.lastPercent = label, total, 0, 0
	r.send(StateStarted)
}

func (r *ProgressReporter) Add(n int) {
	r.done += n
	if p := r.percent(); int(p) > r.lastPercent {
		r.lastPercent = int(p)
		r.send(StateProgress)
	}
}

func (r *ProgressReporter) Finish() { r.send(StateFinished) }

func (r *ProgressReporter) percent() float64 {
	if r.total <= 0 {
		return 0
	}
	return 100 * float64(r.done) / float64(r.total)
}

func (r *ProgressReporter) send(state string) {
	ev := ProgressEvent{
		RunID:     r.runID,
		Label:     r.label,
		State:     state,
		Done:      r.done,
		Total:     r.total,
		Percent:   r.percent(),
		Timestamp: r.now().UTC(),
	}
	if err := r.pub.PublishEvent(r.subject, ev); err != nil {
		// Warn once per run, the render carries on without events.
		if !r.failed {
			r.log.Warn("progress event not published", zap.String("subject", r.subject), zap.Error(err))
			r.failed = true
		}
		return
	}
	r.failed = false
}
