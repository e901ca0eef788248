package orchestrator

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const (
	fetchTimeout    = 20 * time.Second
	maxFetchedImage = 20 << 20
)

// ImageFetcher resolves an image URL found in a response to inline bytes.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) (data, mimeType string, err error)
}

// HTTPFetcher downloads images over HTTP and re-encodes them as base64.
type HTTPFetcher struct {
	httpClient *http.Client
}

func NewHTTPFetcher(hc *http.Client) *HTTPFetcher {
	if hc == nil {
		hc = &http.Client{Timeout: fetchTimeout}
	}
	return &HTTPFetcher{httpClient: hc}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetching image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetching image: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchedImage+1))
	if err != nil {
		return "", "", fmt.Errorf("reading image: %w", err)
	}
	if len(data) == 0 {
		return "", "", fmt.Errorf("fetching image: empty body")
	}
	if len(data) > maxFetchedImage {
		return "", "", fmt.Errorf("fetching image: larger than %d bytes", maxFetchedImage)
	}

	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(ct, "image/") {
		ct = mimetype.Detect(data).String()
	}
	if !strings.HasPrefix(ct, "image/") {
		return "", "", fmt.Errorf("fetching image: content type %q is not an image", ct)
	}

	return base64.StdEncoding.EncodeToString(data), ct, nil
}
