package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestScheduler(t *testing.T, windows []Window) *Scheduler {
	t.Helper()
	s, err := New(Options{Windows: windows, Location: time.UTC}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestNextPicksEarliestUpcomingWindow(t *testing.T) {
	s := newTestScheduler(t, []Window{
		{Name: "morning", At: "10:00", Role: "baseline"},
		{Name: "afternoon", At: "15:00", Role: "comparison"},
	})

	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	at, window := s.Next(now)
	if window.Name != "morning" {
		t.Fatalf("expected morning, got %s", window.Name)
	}
	if !at.Equal(time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("wrong fire time: %s", at)
	}
}

func TestNextSkipsPassedWindows(t *testing.T) {
	s := newTestScheduler(t, []Window{
		{Name: "morning", At: "10:00", Role: "baseline"},
		{Name: "afternoon", At: "15:00", Role: "comparison"},
	})

	now := time.Date(2025, 3, 14, 12, 30, 0, 0, time.UTC)
	_, window := s.Next(now)
	if window.Name != "afternoon" {
		t.Fatalf("expected afternoon, got %s", window.Name)
	}
}

func TestNextRollsToNextDay(t *testing.T) {
	s := newTestScheduler(t, []Window{
		{Name: "morning", At: "10:00", Role: "baseline"},
		{Name: "afternoon", At: "15:00", Role: "comparison"},
	})

	now := time.Date(2025, 3, 14, 16, 0, 0, 0, time.UTC)
	at, window := s.Next(now)
	if window.Name != "morning" {
		t.Fatalf("expected next-day morning, got %s", window.Name)
	}
	if !at.Equal(time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("wrong fire time: %s", at)
	}
}

func TestNextExactlyAtWindowMovesOn(t *testing.T) {
	s := newTestScheduler(t, []Window{{Name: "morning", At: "10:00", Role: "baseline"}})

	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	at, _ := s.Next(now)
	if at.Day() != 15 {
		t.Fatalf("a window at exactly now fires tomorrow, got %s", at)
	}
}

func TestNewRejectsBadTime(t *testing.T) {
	_, err := New(Options{Windows: []Window{{Name: "bad", At: "25:99"}}}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for invalid clock time")
	}
}

func TestNewRequiresWindows(t *testing.T) {
	_, err := New(Options{}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error when no windows configured")
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	s := newTestScheduler(t, []Window{{Name: "morning", At: "10:00", Role: "baseline"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx, func(ctx context.Context, window string, now time.Time) error {
		t.Fatal("fire should not be called after cancellation")
		return nil
	})
	if err == nil {
		t.Fatal("expected context error")
	}
}
