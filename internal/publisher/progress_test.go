package publisher

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakePublisher struct {
	subjects []string
	events   []ProgressEvent
	err      error
}

func (f *fakePublisher) PublishEvent(subject string, ev ProgressEvent) error {
	f.subjects = append(f.subjects, subject)
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func TestProgressReporterEvents(t *testing.T) {
	pub := &fakePublisher{}
	r := NewProgressReporter(pub, "geomixtrail.render", "run-1", nil)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	r.Start(300, "rendering video")
	for i := 0; i < 300; i++ {
		r.Add(1)
	}
	r.Finish()

	// started + one per whole percent + finished
	if len(pub.events) != 1+100+1 {
		t.Fatalf("events = %d", len(pub.events))
	}
	first, last := pub.events[0], pub.events[len(pub.events)-1]
	if first.State != StateStarted || first.Total != 300 || first.Label != "rendering video" || first.RunID != "run-1" {
		t.Fatalf("unexpected first event: %+v", first)
	}
	if last.State != StateFinished || last.Done != 300 || last.Percent != 100 || !last.Timestamp.Equal(fixed) {
		t.Fatalf("unexpected last event: %+v", last)
	}
	for _, s := range pub.subjects {
		if s != "geomixtrail.render.run-1" {
			t.Fatalf("subject = %q", s)
		}
	}
}

func TestProgressReporterFewFrames(t *testing.T) {
	pub := &fakePublisher{}
	r := NewProgressReporter(pub, "p", "r", nil)
	r.Start(3, "video")
	r.Add(1)
	r.Add(1)
	r.Add(1)
	r.Finish()
	if len(pub.events) != 5 {
		t.Fatalf("events = %d", len(pub.events))
	}
	if pub.events[2].Done != 2 || pub.events[2].State != StateProgress {
		t.Fatalf("unexpected event: %+v", pub.events[2])
	}
}

func TestProgressReporterPublishErrorsDoNotPanic(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	r := NewProgressReporter(pub, "p", "r", nil)
	r.Start(2, "image")
	r.Add(2)
	r.Finish()
	if len(pub.subjects) != 3 || len(pub.events) != 0 {
		t.Fatalf("attempts = %d events = %d", len(pub.subjects), len(pub.events))
	}
	if !r.failed {
		t.Fatal("failure not recorded")
	}
}

func TestSubject(t *testing.T) {
	cases := map[[2]string]string{
		{"geomixtrail.render", "abc"}:  "geomixtrail.render.abc",
		{"geomixtrail.render.", "a.b"}: "geomixtrail.render.a_b",
		{"", "x y"}:                    "x_y",
		{"p", ""}:                      "p._",
		{"p", "a>*"}:                   "p.a__",
	}
	for in, want := range cases {
		if got := Subject(in[0], in[1]); got != want {
			t.Fatalf("Subject(%q, %q) = %q, want %q", in[0], in[1], got, want)
		}
	}
}

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	if a == b {
		t.Fatal("run ids repeat")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Fatalf("run id %q is not a uuid: %v", a, err)
	}
}
