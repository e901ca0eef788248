package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultAnalyzePrompt is used when an image analysis request has no prompt.
const DefaultAnalyzePrompt = "Read this letter to Santa and summarize what the child wants."

const defaultMediaMIME = "image/jpeg"

// ErrInvalidInput is returned before any upstream attempt for malformed requests.
var ErrInvalidInput = errors.New("invalid input")

var aspectRatios = map[string]bool{
	"1:1": true, "3:4": true, "4:3": true, "9:16": true, "16:9": true,
}

// ValidAspectRatio reports whether ratio is empty or one the image models accept.
func ValidAspectRatio(ratio string) bool {
	return ratio == "" || aspectRatios[ratio]
}

// QuotaError reports that every candidate was rate limited.
type QuotaError struct {
	RetryAfter int
	Tried      []Candidate
	LastErr    error
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exhausted after %d models, retry after %ds", len(e.Tried), e.RetryAfter)
}

func (e *QuotaError) Unwrap() error { return e.LastErr }

// UnavailableError reports that every candidate failed.
type UnavailableError struct {
	Tried        []Candidate
	LastErr      error
	ProviderBody []byte
}

func (e *UnavailableError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("all %d models failed: %v", len(e.Tried), e.LastErr)
	}
	return fmt.Sprintf("all %d models failed", len(e.Tried))
}

func (e *UnavailableError) Unwrap() error { return e.LastErr }

// Recorder receives every terminal result. Failures are logged and never
// change what the caller sees.
type Recorder interface {
	Record(ctx context.Context, res *Result) error
}

type TextResult struct {
	Text  string
	Model Candidate
	Tried []Candidate
}

// ImageResult carries either image bytes or UseFallback. UseFallback means
// the caller should render its local placeholder.
type ImageResult struct {
	ImageData    string
	MIMEType     string
	Model        Candidate
	UseFallback  bool
	RetryAfter   int
	Tried        []Candidate
	ProviderBody []byte
}

// Service exposes one method per capability on top of a Controller.
type Service struct {
	ctrl     *Controller
	recorder Recorder
	logger   *slog.Logger
}

// NewService creates a service. recorder may be nil.
func NewService(ctrl *Controller, recorder Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ctrl: ctrl, recorder: recorder, logger: logger}
}

// GenerateText produces text for prompt. modelHint, if set, is tried first.
func (s *Service) GenerateText(ctx context.Context, prompt, modelHint string) (*TextResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}

	res, err := s.run(ctx, &Request{
		Capability: GenerateText,
		Prompt:     prompt,
		ModelHint:  strings.TrimSpace(modelHint),
	})
	if err != nil {
		return nil, err
	}
	return textResult(res)
}

// GenerateImage produces an image. Exhausting every candidate is not an
// error: the result has UseFallback set instead.
func (s *Service) GenerateImage(ctx context.Context, prompt, aspectRatio string, contextImage *Media) (*ImageResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	aspectRatio = strings.TrimSpace(aspectRatio)
	if !ValidAspectRatio(aspectRatio) {
		return nil, fmt.Errorf("%w: unsupported aspect ratio %q", ErrInvalidInput, aspectRatio)
	}

	var media *Media
	if contextImage != nil {
		m, err := normalizeMedia(contextImage.Data, contextImage.MIMEType)
		if err != nil {
			return nil, err
		}
		media = m
	}

	res, err := s.run(ctx, &Request{
		Capability:  GenerateImage,
		Prompt:      prompt,
		AspectRatio: aspectRatio,
		Media:       media,
	})
	if err != nil {
		return nil, err
	}

	if res.Terminal != TerminalSuccess {
		return &ImageResult{
			UseFallback:  true,
			RetryAfter:   res.RetryAfter,
			Tried:        res.Tried,
			ProviderBody: res.ProviderBody,
		}, nil
	}
	return &ImageResult{
		ImageData: res.Payload,
		MIMEType:  res.MIMEType,
		Model:     res.Candidate,
		Tried:     res.Tried,
	}, nil
}

// AnalyzeImage describes inline media. It also serves audio transcription
// when called with an audio MIME type.
func (s *Service) AnalyzeImage(ctx context.Context, imageBase64, mimeType, prompt string) (*TextResult, error) {
	media, err := normalizeMedia(imageBase64, mimeType)
	if err != nil {
		return nil, err
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		prompt = DefaultAnalyzePrompt
	}

	res, err := s.run(ctx, &Request{
		Capability: AnalyzeImage,
		Prompt:     prompt,
		Media:      media,
	})
	if err != nil {
		return nil, err
	}
	return textResult(res)
}

func (s *Service) run(ctx context.Context, req *Request) (*Result, error) {
	res, err := s.ctrl.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	// A sweep cut short by the caller is neither a fallback nor a record.
	if res.Terminal != TerminalSuccess {
		if cerr := ctx.Err(); cerr != nil {
			return nil, fmt.Errorf("%s interrupted: %w", req.Capability, cerr)
		}
	}
	if s.recorder != nil {
		if rerr := s.recorder.Record(context.WithoutCancel(ctx), res); rerr != nil {
			s.logger.Warn("recording request failed", "capability", req.Capability, "error", rerr)
		}
	}
	return res, nil
}

func textResult(res *Result) (*TextResult, error) {
	switch res.Terminal {
	case TerminalSuccess:
		return &TextResult{Text: res.Payload, Model: res.Candidate, Tried: res.Tried}, nil
	case TerminalQuotaExhausted:
		return nil, &QuotaError{RetryAfter: res.RetryAfter, Tried: res.Tried, LastErr: res.LastErr}
	default:
		return nil, &UnavailableError{Tried: res.Tried, LastErr: res.LastErr, ProviderBody: res.ProviderBody}
	}
}

// normalizeMedia accepts raw base64 or a data URL.
func normalizeMedia(data, mimeType string) (*Media, error) {
	data = strings.TrimSpace(data)
	mimeType = strings.TrimSpace(mimeType)
	if rest, ok := strings.CutPrefix(data, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, fmt.Errorf("%w: malformed data URL", ErrInvalidInput)
		}
		if mimeType == "" {
			mimeType = strings.TrimSuffix(meta, ";base64")
		}
		data = payload
	}
	if data == "" {
		return nil, fmt.Errorf("%w: media data is required", ErrInvalidInput)
	}
	if mimeType == "" {
		mimeType = defaultMediaMIME
	}
	return &Media{Data: data, MIMEType: mimeType}, nil
}
