package maintenance_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruslanbekov/magic-auth/internal/maintenance"
)

type fakeTokenRepo struct {
	deleteExpiredTokens func(ctx context.Context, now time.Time) (int64, error)
}

func (r *fakeTokenRepo) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	return r.deleteExpiredTokens(ctx, now)
}

type fakeArchiver struct {
	rotate func(ctx context.Context, cutoff time.Time, dest io.Writer) (int, error)
}

func (a *fakeArchiver) Rotate(ctx context.Context, cutoff time.Time, dest io.Writer) (int, error) {
	return a.rotate(ctx, cutoff, dest)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestSweeper_DeletesOnTick(t *testing.T) {
	swept := make(chan time.Time, 1)
	repo := &fakeTokenRepo{
		deleteExpiredTokens: func(_ context.Context, now time.Time) (int64, error) {
			select {
			case swept <- now:
			default:
			}
			return 3, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := maintenance.NewSweeper(repo, testLogger(), 10*time.Millisecond)
	go s.Start(ctx)

	select {
	case now := <-swept:
		if time.Since(now) > time.Minute {
			t.Errorf("sweep cutoff %v is stale", now)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never ran")
	}
}

func TestSweeper_StopsOnContextCancel(t *testing.T) {
	repo := &fakeTokenRepo{
		deleteExpiredTokens: func(_ context.Context, _ time.Time) (int64, error) {
			return 0, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s := maintenance.NewSweeper(repo, testLogger(), 10*time.Millisecond)
	go func() {
		s.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}

func TestNewRotator_InvalidCron(t *testing.T) {
	_, err := maintenance.NewRotator(&fakeArchiver{}, testLogger(), "not a cron", time.Hour, "/tmp/x")
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestRotateOnce_PassesCutoffAndArchiveFile(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "audit.jsonl")

	retention := 90 * 24 * time.Hour
	var gotCutoff time.Time
	arch := &fakeArchiver{
		rotate: func(_ context.Context, cutoff time.Time, dest io.Writer) (int, error) {
			gotCutoff = cutoff
			if _, err := dest.Write([]byte("{\"id\":\"1\"}\n")); err != nil {
				t.Fatalf("write archive: %v", err)
			}
			return 1, nil
		},
	}

	r, err := maintenance.NewRotator(arch, testLogger(), "0 3 * * *", retention, archivePath)
	if err != nil {
		t.Fatalf("new rotator: %v", err)
	}
	if err := r.RotateOnce(context.Background()); err != nil {
		t.Fatalf("rotate once: %v", err)
	}

	wantCutoff := time.Now().UTC().Add(-retention)
	if gotCutoff.Before(wantCutoff.Add(-time.Minute)) || gotCutoff.After(wantCutoff.Add(time.Minute)) {
		t.Errorf("cutoff = %v, want about %v", gotCutoff, wantCutoff)
	}

	data, err := os.ReadFile(archivePath)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if string(data) != "{\"id\":\"1\"}\n" {
		t.Errorf("archive content = %q", data)
	}
}

func TestRotateOnce_PropagatesRotationFailure(t *testing.T) {
	dir := t.TempDir()
	arch := &fakeArchiver{
		rotate: func(_ context.Context, _ time.Time, _ io.Writer) (int, error) {
			return 0, errors.New("db down")
		},
	}

	r, err := maintenance.NewRotator(arch, testLogger(), "0 3 * * *", time.Hour, filepath.Join(dir, "audit.jsonl"))
	if err != nil {
		t.Fatalf("new rotator: %v", err)
	}
	if err := r.RotateOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
