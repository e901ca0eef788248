package gemini

import (
	"net/http"
	"strings"
)

// Methods exposed by the Generative Language API model endpoints.
const (
	MethodGenerateContent = "generateContent"
	MethodPredict         = "predict"
)

// GenerateContentRequest is the body of a models/{model}:generateContent call.
type GenerateContentRequest struct {
	Contents         []Content         `json:"contents"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

// Content is one turn of a conversation.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part holds either text or inline binary data.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData carries base64 media alongside a prompt.
type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type GenerationConfig struct {
	Temperature        float64  `json:"temperature"`
	MaxOutputTokens    int      `json:"maxOutputTokens,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

// PredictRequest is the body of a models/{model}:predict call.
type PredictRequest struct {
	Instances  []PredictInstance `json:"instances"`
	Parameters PredictParameters `json:"parameters"`
}

type PredictInstance struct {
	Prompt string        `json:"prompt"`
	Image  *PredictImage `json:"image,omitempty"`
}

type PredictImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MIMEType           string `json:"mimeType,omitempty"`
}

type PredictParameters struct {
	SampleCount int    `json:"sampleCount"`
	AspectRatio string `json:"aspectRatio,omitempty"`
}

// Response is a raw upstream reply. The body is never interpreted here.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Model is an entry of the models listing.
type Model struct {
	Name                       string   `json:"name"`
	DisplayName                string   `json:"displayName,omitempty"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods,omitempty"`
}

// ID returns the model name without the "models/" resource prefix.
func (m Model) ID() string {
	return strings.TrimPrefix(m.Name, "models/")
}

// Supports reports whether the model lists the given generation method.
func (m Model) Supports(method string) bool {
	for _, s := range m.SupportedGenerationMethods {
		if s == method {
			return true
		}
	}
	return false
}

// ModelList is the response of GET /models.
type ModelList struct {
	Models        []Model `json:"models"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
}
