package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"refcommission/internal/logging"
)

type fakeExpirer struct {
	calls int
	at    time.Time
	err   error
}

func (f *fakeExpirer) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	f.calls++
	f.at = now
	return 3, f.err
}

func TestRunOnceUsesClock(t *testing.T) {
	exp := &fakeExpirer{}
	s, err := New("@every 1h", exp, logging.Discard())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.RunOnce()
	if exp.calls != 1 || !exp.at.Equal(fixed) {
		t.Fatalf("calls=%d at=%s", exp.calls, exp.at)
	}

	exp.err = errors.New("db down")
	s.RunOnce()
	if exp.calls != 2 {
		t.Fatalf("expected sweep to run despite previous error")
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	if _, err := New("every now and then", &fakeExpirer{}, logging.Discard()); err == nil {
		t.Fatal("expected schedule error")
	}
}

func TestStartStop(t *testing.T) {
	s, err := New("@every 1h", &fakeExpirer{}, logging.Discard())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
