package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/santaline/internal/orchestrator"
	"github.com/kalambet/santaline/internal/storage"
)

type mockImages struct {
	mu      sync.Mutex
	prompts []string
	genFn   func(prompt string) (*orchestrator.ImageResult, error)
}

func (m *mockImages) GenerateImage(_ context.Context, prompt, _ string, _ *orchestrator.Media) (*orchestrator.ImageResult, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	return m.genFn(prompt)
}

func okImage(string) (*orchestrator.ImageResult, error) {
	return &orchestrator.ImageResult{
		ImageData: "aGVsbG8=",
		MIMEType:  "image/png",
		Model:     "gemini-image",
		Tried:     []orchestrator.Candidate{"gemini-image"},
	}, nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// resetRunAfter sets run_after to now so the job is immediately claimable after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID)
	if err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func jobResult(t *testing.T, store *storage.Store, id string) (storage.Job, Result) {
	t.Helper()
	job, err := store.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	var res Result
	if job.ResultJSON != "" {
		if err := json.Unmarshal([]byte(job.ResultJSON), &res); err != nil {
			t.Fatalf("decoding result: %v", err)
		}
	}
	return job, res
}

func TestEnqueue_Validates(t *testing.T) {
	store := openTestStore(t)

	_, err := Enqueue(store, Payload{AspectRatio: "1:1"})
	if !errors.Is(err, orchestrator.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}

	_, err = Enqueue(store, Payload{Prompt: "a sleigh", AspectRatio: "2:1"})
	if !errors.Is(err, orchestrator.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput for bad aspect ratio", err)
	}

	id, err := Enqueue(store, Payload{Prompt: "a sleigh"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := store.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Type != JobType || job.Status != "pending" {
		t.Errorf("job = %+v", job)
	}
}

func TestWorker_ProcessesJob(t *testing.T) {
	store := openTestStore(t)
	id, err := Enqueue(store, Payload{Prompt: "a sleigh", AspectRatio: "1:1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	images := &mockImages{genFn: okImage}
	w := NewWorker(store, images, 0, 1)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	job, res := jobResult(t, store, id)
	if job.Status != "completed" {
		t.Errorf("status = %q, want completed", job.Status)
	}
	if res.ImageData != "aGVsbG8=" || res.MIMEType != "image/png" || res.ProviderModel != "gemini-image" {
		t.Errorf("result = %+v", res)
	}
	if res.UseFallback {
		t.Error("UseFallback should be false")
	}
}

func TestWorker_LetterTextBecomesPrompt(t *testing.T) {
	store := openTestStore(t)
	if _, err := Enqueue(store, Payload{LetterText: "I want a puppy"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	images := &mockImages{genFn: okImage}
	if _, err := NewWorker(store, images, 0, 1).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(images.prompts) != 1 || !strings.Contains(images.prompts[0], `"I want a puppy"`) {
		t.Errorf("prompts = %q", images.prompts)
	}
}

func TestWorker_FallbackCompletesJob(t *testing.T) {
	store := openTestStore(t)
	id, _ := Enqueue(store, Payload{Prompt: "a sleigh"})

	images := &mockImages{genFn: func(string) (*orchestrator.ImageResult, error) {
		return &orchestrator.ImageResult{
			UseFallback: true,
			RetryAfter:  42,
			Tried:       []orchestrator.Candidate{"a", "b"},
		}, nil
	}}
	if _, err := NewWorker(store, images, 0, 1).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	job, res := jobResult(t, store, id)
	if job.Status != "completed" {
		t.Errorf("status = %q, want completed", job.Status)
	}
	if !res.UseFallback || res.RetryAfter != 42 || len(res.TriedModels) != 2 {
		t.Errorf("result = %+v", res)
	}
	if res.ImageData != "" {
		t.Errorf("fallback result carries image data")
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store := openTestStore(t)
	id, _ := Enqueue(store, Payload{Prompt: "retry me"})

	var calls atomic.Int32
	images := &mockImages{genFn: func(p string) (*orchestrator.ImageResult, error) {
		if calls.Add(1) == 1 {
			return nil, fmt.Errorf("transient error")
		}
		return okImage(p)
	}}
	w := NewWorker(store, images, 0, 1)
	ctx := context.Background()

	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 1 = %v, %v", didWork, err)
	}

	job, _ := jobResult(t, store, id)
	if job.Status != "pending" || job.Attempts != 1 {
		t.Errorf("after 1st fail: status=%q attempts=%d, want pending/1", job.Status, job.Attempts)
	}
	if !strings.Contains(job.LastError, "transient error") {
		t.Errorf("LastError = %q", job.LastError)
	}

	resetRunAfter(t, store, id)

	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 2 = %v, %v", didWork, err)
	}
	job, _ = jobResult(t, store, id)
	if job.Status != "completed" {
		t.Errorf("after retry: status=%q, want completed", job.Status)
	}
}

func TestWorker_MaxRetriesExceeded(t *testing.T) {
	store := openTestStore(t)
	id, _ := Enqueue(store, Payload{Prompt: "doomed"})

	images := &mockImages{genFn: func(string) (*orchestrator.ImageResult, error) {
		return nil, fmt.Errorf("permanent error")
	}}
	w := NewWorker(store, images, 0, 1)

	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		if i < 3 {
			resetRunAfter(t, store, id)
		}
	}

	job, _ := jobResult(t, store, id)
	if job.Status != "failed" {
		t.Errorf("final status = %q, want %q", job.Status, "failed")
	}
}

func TestWorker_RunOnceEmptyQueue(t *testing.T) {
	store := openTestStore(t)
	didWork, err := NewWorker(store, &mockImages{genFn: okImage}, 0, 1).RunOnce(context.Background())
	if err != nil || didWork {
		t.Errorf("RunOnce on empty queue = %v, %v; want false, nil", didWork, err)
	}
}

func TestWorker_RunDrainsQueueConcurrently(t *testing.T) {
	store := openTestStore(t)

	const total = 12
	ids := make([]string, 0, total)
	for i := 0; i < total; i++ {
		id, err := Enqueue(store, Payload{Prompt: fmt.Sprintf("sleigh %d", i)})
		if err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	images := &mockImages{genFn: okImage}
	w := NewWorker(store, images, 10*time.Millisecond, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		completed := 0
		for _, id := range ids {
			if job, err := store.GetJob(id); err == nil && job.Status == "completed" {
				completed++
			}
		}
		if completed == total {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("timed out with %d/%d jobs completed", completed, total)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	images.mu.Lock()
	defer images.mu.Unlock()
	if len(images.prompts) != total {
		t.Errorf("generated %d images, want %d", len(images.prompts), total)
	}
}

// stallingDispatcher blocks every attempt until its context ends.
type stallingDispatcher struct {
	once    sync.Once
	started chan struct{}
}

func (d *stallingDispatcher) Dispatch(ctx context.Context, _ orchestrator.Target) orchestrator.DispatchOutcome {
	d.once.Do(func() { close(d.started) })
	<-ctx.Done()
	return orchestrator.DispatchOutcome{Kind: orchestrator.OutcomeNetworkError, Err: ctx.Err()}
}

type countingRecorder struct {
	n atomic.Int32
}

func (r *countingRecorder) Record(context.Context, *orchestrator.Result) error {
	r.n.Add(1)
	return nil
}

func TestWorker_ShutdownMidRenderKeepsJobQueued(t *testing.T) {
	store := openTestStore(t)
	id, err := Enqueue(store, Payload{Prompt: "a sleigh"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	mc := orchestrator.ModelConfig{Defaults: []string{"gemini-2.5-flash-preview-image"}}
	d := &stallingDispatcher{started: make(chan struct{})}
	ctrl := orchestrator.NewController(
		orchestrator.NewResolver(mc, mc, mc, nil, quiet), d,
		orchestrator.WithLogger(quiet),
	)
	rec := &countingRecorder{}
	svc := orchestrator.NewService(ctrl, rec, quiet)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-d.started
		cancel()
	}()

	didWork, err := NewWorker(store, svc, 0, 1).WithLogger(quiet).RunOnce(ctx)
	if err != nil || !didWork {
		t.Fatalf("RunOnce = %v, %v", didWork, err)
	}

	job, err := store.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != "pending" {
		t.Errorf("status = %q, want pending", job.Status)
	}
	if job.ResultJSON != "" {
		t.Errorf("interrupted job stored a result: %s", job.ResultJSON)
	}
	if !strings.Contains(job.LastError, "context canceled") {
		t.Errorf("LastError = %q", job.LastError)
	}
	if n := rec.n.Load(); n != 0 {
		t.Errorf("recorded %d requests, want 0", n)
	}
}

func TestWorker_FallbackAfterCancelIsNotCompleted(t *testing.T) {
	store := openTestStore(t)
	id, _ := Enqueue(store, Payload{Prompt: "a sleigh"})

	ctx, cancel := context.WithCancel(context.Background())
	images := &mockImages{genFn: func(string) (*orchestrator.ImageResult, error) {
		cancel()
		return &orchestrator.ImageResult{UseFallback: true}, nil
	}}
	if _, err := NewWorker(store, images, 0, 1).RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	job, _ := jobResult(t, store, id)
	if job.Status == "completed" {
		t.Error("job completed after the worker was cancelled")
	}
}
