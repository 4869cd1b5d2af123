package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSweeper struct {
	acceptance    atomic.Int32
	announcements atomic.Int32
	failAccept    bool
}

func (f *fakeSweeper) SweepAcceptance(context.Context) (int, error) {
	f.acceptance.Add(1)
	if f.failAccept {
		return 0, errors.New("db locked")
	}
	return 2, nil
}

func (f *fakeSweeper) SweepAnnouncements(context.Context) (int, error) {
	f.announcements.Add(1)
	return 1, nil
}

func TestRunOnceRunsBothSweeps(t *testing.T) {
	f := &fakeSweeper{}
	expired, deactivated := New(f, "", nil).RunOnce(context.Background())
	if expired != 2 || deactivated != 1 {
		t.Fatalf("unexpected counts %d %d", expired, deactivated)
	}
}

func TestFailingSweepDoesNotSkipTheOther(t *testing.T) {
	f := &fakeSweeper{failAccept: true}
	New(f, "", nil).RunOnce(context.Background())
	if f.announcements.Load() != 1 {
		t.Fatalf("announcement sweep skipped")
	}
}

func TestInvalidSchedule(t *testing.T) {
	s := New(&fakeSweeper{}, "every now and then", nil)
	if err := s.Start(); err == nil {
		s.Stop()
		t.Fatalf("expected schedule error")
	}
}

func TestStartRunsOnSchedule(t *testing.T) {
	f := &fakeSweeper{}
	s := New(f, "@every 1s", nil)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	if err := s.Start(); err == nil {
		t.Fatalf("second start should fail")
	}
	deadline := time.Now().Add(5 * time.Second)
	for f.acceptance.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sweep never ran")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
