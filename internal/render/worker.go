// Package render turns queued letters into pictures of Santa in the
// background, using the image capability of the orchestrator.
package render

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/santaline/internal/letter"
	"github.com/kalambet/santaline/internal/orchestrator"
	"github.com/kalambet/santaline/internal/storage"
)

// JobType is the job queue type handled by the worker.
const JobType = "render_letter"

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id, resultJSON string) error
	FailJob(id string, errMsg string) error
}

// Enqueuer adds jobs to the queue.
type Enqueuer interface {
	EnqueueJob(job storage.Job) error
}

// ImageGenerator produces images with fallback semantics.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, aspectRatio string, contextImage *orchestrator.Media) (*orchestrator.ImageResult, error)
}

// Payload is the job input. When Prompt is empty the prompt is derived from
// LetterText.
type Payload struct {
	Prompt      string `json:"prompt,omitempty"`
	LetterText  string `json:"letterText,omitempty"`
	AspectRatio string `json:"aspectRatio,omitempty"`
}

func (p Payload) prompt() string {
	if s := strings.TrimSpace(p.Prompt); s != "" {
		return s
	}
	if s := strings.TrimSpace(p.LetterText); s != "" {
		return letter.ImagePrompt(s)
	}
	return ""
}

// Result is stored as the job result.
type Result struct {
	ImageData     string   `json:"imageData,omitempty"`
	MIMEType      string   `json:"mimeType,omitempty"`
	ProviderModel string   `json:"providerModel,omitempty"`
	UseFallback   bool     `json:"useFallback,omitempty"`
	RetryAfter    int      `json:"retryAfterSeconds,omitempty"`
	TriedModels   []string `json:"triedModels,omitempty"`
}

// Enqueue validates p and queues a render job, returning its ID.
func Enqueue(q Enqueuer, p Payload) (string, error) {
	if p.prompt() == "" {
		return "", fmt.Errorf("%w: prompt or letterText is required", orchestrator.ErrInvalidInput)
	}
	if !orchestrator.ValidAspectRatio(strings.TrimSpace(p.AspectRatio)) {
		return "", fmt.Errorf("%w: unsupported aspect ratio %q", orchestrator.ErrInvalidInput, p.AspectRatio)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshalling payload: %w", err)
	}
	id := uuid.New().String()
	if err := q.EnqueueJob(storage.Job{ID: id, Type: JobType, PayloadJSON: string(data)}); err != nil {
		return "", fmt.Errorf("enqueueing render job: %w", err)
	}
	return id, nil
}

// Worker processes render_letter jobs from the SQLite job queue.
type Worker struct {
	store       JobStore
	images      ImageGenerator
	poll        time.Duration
	concurrency int
	logger      *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms. If concurrency is <= 0,
// a single loop runs.
func NewWorker(store JobStore, images ImageGenerator, pollInterval time.Duration, concurrency int) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		store:       store,
		images:      images,
		poll:        pollInterval,
		concurrency: concurrency,
		logger:      slog.Default(),
	}
}

// WithLogger replaces the worker's logger.
func (w *Worker) WithLogger(l *slog.Logger) *Worker {
	if l != nil {
		w.logger = l
	}
	return w
}

// Run starts the polling loops and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("render iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single render_letter job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	result, err := w.processJob(ctx, job)
	if err != nil {
		w.logger.Warn("render job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID, result); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	w.logger.Info("render job completed", "job_id", job.ID)
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) (string, error) {
	var payload Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return "", fmt.Errorf("parsing payload: %w", err)
	}

	img, err := w.images.GenerateImage(ctx, payload.prompt(), payload.AspectRatio, nil)
	if err != nil {
		return "", fmt.Errorf("generating image: %w", err)
	}
	if img.UseFallback && ctx.Err() != nil {
		return "", fmt.Errorf("render interrupted: %w", ctx.Err())
	}

	res := Result{
		ImageData:     img.ImageData,
		MIMEType:      img.MIMEType,
		ProviderModel: string(img.Model),
		UseFallback:   img.UseFallback,
		RetryAfter:    img.RetryAfter,
	}
	for _, c := range img.Tried {
		res.TriedModels = append(res.TriedModels, string(c))
	}

	data, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("marshalling result: %w", err)
	}
	return string(data), nil
}
