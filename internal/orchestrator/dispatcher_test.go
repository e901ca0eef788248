package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/santaline/internal/gemini"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		body   string
		kind   OutcomeKind
	}{
		{200, hoHoHo, OutcomeOK},
		{404, `{"error":{"code":404,"status":"NOT_FOUND"}}`, OutcomeNotSupported},
		{429, `{}`, OutcomeRateLimited},
		{403, `{"error":{"code":403,"status":"RESOURCE_EXHAUSTED"}}`, OutcomeRateLimited},
		{500, ``, OutcomeServerError},
		{503, `upstream connect error`, OutcomeServerError},
		{400, `{"error":{"status":"INVALID_ARGUMENT"}}`, OutcomeClientError},
		{401, ``, OutcomeClientError},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.status), func(t *testing.T) {
			got := Classify(&gemini.Response{StatusCode: tt.status, Body: []byte(tt.body)}, DefaultRetryAfter)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.status, got.Status)
		})
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		header string
		want   int
	}{
		{
			name: "error details retry info",
			body: `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","details":[
				{"@type":"type.googleapis.com/google.rpc.QuotaFailure","violations":[]},
				{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"42s"}]}}`,
			want: 42,
		},
		{
			name: "top level details",
			body: `{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"17s"}]}`,
			want: 17,
		},
		{
			name: "fractional delay rounds up",
			body: `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"1.5s"}]}}`,
			want: 2,
		},
		{
			name: "proto duration object",
			body: `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":{"seconds":30}}]}}`,
			want: 30,
		},
		{
			name:   "body hint beats header",
			body:   `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"5s"}]}}`,
			header: "90",
			want:   5,
		},
		{
			name:   "header seconds",
			body:   `{"error":{"status":"RESOURCE_EXHAUSTED"}}`,
			header: "12",
			want:   12,
		},
		{
			name: "negative proto duration ignored",
			body: `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":{"seconds":-5}}]}}`,
			want: DefaultRetryAfter,
		},
		{
			name: "retry info without delay",
			body: `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo"}]}}`,
			want: DefaultRetryAfter,
		},
		{
			name: "no hint",
			body: `rate limited`,
			want: DefaultRetryAfter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Retry-After", tt.header)
			}
			assert.Equal(t, tt.want, RetryAfterSeconds([]byte(tt.body), h, DefaultRetryAfter))
		})
	}
}

func TestRetryAfterSeconds_HTTPDate(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", time.Now().Add(2*time.Minute).UTC().Format(http.TimeFormat))

	got := RetryAfterSeconds(nil, h, DefaultRetryAfter)
	assert.InDelta(t, 120, got, 2)
}

func TestHTTPDispatcher_BuildsPayloadPerShape(t *testing.T) {
	type captured struct {
		path string
		body map[string]any
	}
	var calls []captured

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		calls = append(calls, captured{path: r.URL.Path, body: body})

		if strings.HasSuffix(r.URL.Path, ":predict") {
			fmt.Fprint(w, `{"predictions":[{"bytesBase64Encoded":"`+fakeImage+`"}]}`)
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"3s"}]}}`)
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(gemini.NewClient("k", gemini.WithBaseURL(srv.URL)), 0)
	req := &Request{Capability: GenerateImage, Prompt: "a sleigh", AspectRatio: "16:9"}

	out := d.Dispatch(context.Background(), Target{Request: req, Candidate: "gemini-image", Shape: ShapeGenerateContent})
	assert.Equal(t, OutcomeRateLimited, out.Kind)
	assert.Equal(t, 3, out.RetryAfter)

	out = d.Dispatch(context.Background(), Target{Request: req, Candidate: "imagen:predict", Shape: ShapePredict})
	assert.Equal(t, OutcomeOK, out.Kind)

	require.Len(t, calls, 2)
	assert.Equal(t, "/v1beta/models/gemini-image:generateContent", calls[0].path)
	assert.Contains(t, calls[0].body, "contents")
	assert.Contains(t, calls[0].body, "generationConfig")

	assert.Equal(t, "/v1beta/models/imagen:predict", calls[1].path)
	params, _ := calls[1].body["parameters"].(map[string]any)
	assert.Equal(t, "16:9", params["aspectRatio"])
}

func TestHTTPDispatcher_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	d := NewHTTPDispatcher(gemini.NewClient("k", gemini.WithBaseURL(url)), 0)
	out := d.Dispatch(context.Background(), Target{
		Request:   &Request{Capability: GenerateText, Prompt: "hi"},
		Candidate: "gemini-1.5-flash",
		Shape:     ShapeGenerateContent,
	})
	assert.Equal(t, OutcomeNetworkError, out.Kind)
	assert.Error(t, out.Err)
}

func TestBuildVisionPayload(t *testing.T) {
	p := buildVisionPayload(&Request{
		Capability: AnalyzeImage,
		Prompt:     "what is this",
		Media:      &Media{Data: "aGk=", MIMEType: "image/png"},
	}, ShapeGenerateContent).(gemini.GenerateContentRequest)

	require.Len(t, p.Contents, 1)
	parts := p.Contents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "image/png", parts[0].InlineData.MIMEType)
	assert.Equal(t, "what is this", parts[1].Text)
	assert.Equal(t, 0.4, p.GenerationConfig.Temperature)
	assert.Equal(t, 1024, p.GenerationConfig.MaxOutputTokens)
}
