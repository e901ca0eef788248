package orchestrator

import (
	"fmt"
	"strings"

	"github.com/kalambet/santaline/internal/gemini"
)

// Capability is the kind of logical request a caller submits.
type Capability int

const (
	GenerateText Capability = iota
	GenerateImage
	AnalyzeImage
)

func (c Capability) String() string {
	switch c {
	case GenerateText:
		return "generate_text"
	case GenerateImage:
		return "generate_image"
	case AnalyzeImage:
		return "analyze_image"
	default:
		return fmt.Sprintf("capability(%d)", int(c))
	}
}

// Shape selects which upstream endpoint a payload is sent to.
type Shape string

const (
	ShapeGenerateContent Shape = gemini.MethodGenerateContent
	ShapePredict         Shape = gemini.MethodPredict
)

// Candidate identifies one upstream model, optionally pinned to a single
// endpoint shape with a method suffix ("imagen-3.0-generate-002:predict").
type Candidate string

// Model returns the model name without any shape suffix.
func (c Candidate) Model() string {
	model, _ := c.split()
	return model
}

// Shapes returns the endpoint shapes to try for this candidate. A pinned
// candidate yields only its own shape.
func (c Candidate) Shapes(defaults []Shape) []Shape {
	if _, pinned := c.split(); pinned != "" {
		return []Shape{pinned}
	}
	return defaults
}

func (c Candidate) split() (string, Shape) {
	s := string(c)
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return s, ""
	}
	switch sh := Shape(s[i+1:]); sh {
	case ShapeGenerateContent, ShapePredict:
		return s[:i], sh
	}
	return s, ""
}

// Media is base64-encoded binary input attached to a request.
type Media struct {
	Data     string
	MIMEType string
}

// Request is a single logical request. It lives only for the duration of
// one Controller.Run call.
type Request struct {
	Capability  Capability
	Prompt      string
	ModelHint   string
	AspectRatio string
	Media       *Media
}

const (
	textTemperature   = 0.7
	textMaxTokens     = 800
	imageTemperature  = 0.9
	imageMaxTokens    = 2048
	visionTemperature = 0.4
	visionMaxTokens   = 1024
)

// descriptor holds everything that varies per capability.
type descriptor struct {
	defaults []Candidate
	shapes   []Shape
	// discover enables the one-shot model listing after static candidates fail.
	discover bool
	// fallback turns every non-success terminal into FallbackRequested.
	fallback bool
	image    bool
	build    func(req *Request, shape Shape) any
}

var (
	defaultTextCandidates = []Candidate{
		"gemini-2.0-flash-exp",
		"gemini-1.5-pro",
		"gemini-1.5-flash",
	}
	defaultImageCandidates = []Candidate{
		"gemini-2.5-flash-preview-image",
		"gemini-2.0-flash-preview-image-generation",
		"imagen-3.0-generate-002:predict",
	}
	defaultVisionCandidates = []Candidate{
		"gemini-2.0-flash-exp",
		"gemini-1.5-pro",
		"gemini-1.5-flash",
	}
)

var descriptors = map[Capability]descriptor{
	GenerateText: {
		defaults: defaultTextCandidates,
		shapes:   []Shape{ShapeGenerateContent, ShapePredict},
		discover: true,
		build:    buildTextPayload,
	},
	GenerateImage: {
		defaults: defaultImageCandidates,
		shapes:   []Shape{ShapeGenerateContent, ShapePredict},
		fallback: true,
		image:    true,
		build:    buildImagePayload,
	},
	AnalyzeImage: {
		defaults: defaultVisionCandidates,
		shapes:   []Shape{ShapeGenerateContent},
		build:    buildVisionPayload,
	},
}

func descriptorFor(c Capability) (descriptor, error) {
	d, ok := descriptors[c]
	if !ok {
		return descriptor{}, fmt.Errorf("%w: unknown capability %s", ErrInvalidInput, c)
	}
	return d, nil
}

func buildTextPayload(req *Request, shape Shape) any {
	if shape == ShapePredict {
		return gemini.PredictRequest{
			Instances:  []gemini.PredictInstance{{Prompt: req.Prompt}},
			Parameters: gemini.PredictParameters{SampleCount: 1},
		}
	}
	return gemini.GenerateContentRequest{
		Contents: []gemini.Content{{
			Role:  "user",
			Parts: []gemini.Part{{Text: req.Prompt}},
		}},
		GenerationConfig: &gemini.GenerationConfig{
			Temperature:     textTemperature,
			MaxOutputTokens: textMaxTokens,
		},
	}
}

func buildImagePayload(req *Request, shape Shape) any {
	if shape == ShapePredict {
		inst := gemini.PredictInstance{Prompt: req.Prompt}
		if req.Media != nil {
			inst.Image = &gemini.PredictImage{
				BytesBase64Encoded: req.Media.Data,
				MIMEType:           req.Media.MIMEType,
			}
		}
		return gemini.PredictRequest{
			Instances: []gemini.PredictInstance{inst},
			Parameters: gemini.PredictParameters{
				SampleCount: 1,
				AspectRatio: req.AspectRatio,
			},
		}
	}

	text := "Generate an image: " + req.Prompt
	if req.AspectRatio != "" {
		text += "\nAspect ratio: " + req.AspectRatio
	}
	parts := []gemini.Part{{Text: text}}
	if req.Media != nil {
		parts = append(parts, gemini.Part{InlineData: &gemini.InlineData{
			MIMEType: req.Media.MIMEType,
			Data:     req.Media.Data,
		}})
	}
	return gemini.GenerateContentRequest{
		Contents: []gemini.Content{{Role: "user", Parts: parts}},
		GenerationConfig: &gemini.GenerationConfig{
			Temperature:        imageTemperature,
			MaxOutputTokens:    imageMaxTokens,
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	}
}

func buildVisionPayload(req *Request, _ Shape) any {
	var parts []gemini.Part
	if req.Media != nil {
		parts = append(parts, gemini.Part{InlineData: &gemini.InlineData{
			MIMEType: req.Media.MIMEType,
			Data:     req.Media.Data,
		}})
	}
	parts = append(parts, gemini.Part{Text: req.Prompt})
	return gemini.GenerateContentRequest{
		Contents: []gemini.Content{{Role: "user", Parts: parts}},
		GenerationConfig: &gemini.GenerationConfig{
			Temperature:     visionTemperature,
			MaxOutputTokens: visionMaxTokens,
		},
	}
}
