package render

import (
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// Progress receives one unit per encoded frame. Implementations must not
// fail the render; they log their own errors.
type Progress interface {
	Start(total int, label string)
	Add(n int)
	Finish()
}

type NopProgress struct{}

func (NopProgress) Start(int, string) {}
func (NopProgress) Add(int)           {}
func (NopProgress) Finish()           {}

// BarProgress draws a terminal progress bar.
type BarProgress struct {
	w      io.Writer
	logger *zap.Logger
	bar    *progressbar.ProgressBar
}

func NewBarProgress(w io.Writer, logger *zap.Logger) *BarProgress {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BarProgress{w: w, logger: logger}
}

func (p *BarProgress) Start(total int, label string) {
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription(label),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { io.WriteString(p.w, "\n") }),
	)
}

func (p *BarProgress) Add(n int) {
	if p.bar == nil {
		return
	}
	if err := p.bar.Add(n); err != nil {
		p.logger.Debug("progress bar update failed", zap.Error(err))
	}
}

func (p *BarProgress) Finish() {
	if p.bar == nil {
		return
	}
	if err := p.bar.Finish(); err != nil {
		p.logger.Debug("progress bar finish failed", zap.Error(err))
	}
}

// MultiProgress fans every call out to each reporter.
type MultiProgress []Progress

func (m MultiProgress) Start(total int, label string) {
	for _, p := range m {
		p.Start(total, label)
	}
}

func (m MultiProgress) Add(n int) {
	for _, p := range m {
		p.Add(n)
	}
}

func (m MultiProgress) Finish() {
	for _, p := range m {
		p.Finish()
	}
}
