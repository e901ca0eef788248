package orchestrator

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	defaultImageMIME = "image/png"
	// minBase64Len keeps the deep scan from mistaking ids and tokens for images.
	minBase64Len = 128
)

// Extraction is the tagged result of searching a response body. Found with
// an empty Value means the payload was located but is empty. URL is set when
// an image is referenced rather than inlined.
type Extraction struct {
	Found    bool
	Value    string
	Path     string
	URL      string
	MIMEType string
}

var textPaths = []string{
	"candidates.0.content.parts.0.text",
	"predictions.0.outputs.0.text",
	"predictions.0.content",
	"predictions.0",
	"output.text",
}

// ExtractText locates generated text in a response body.
func ExtractText(body []byte) Extraction {
	if !gjson.ValidBytes(body) {
		return Extraction{}
	}
	root := gjson.ParseBytes(body)

	for _, p := range textPaths {
		r := root.Get(p)
		if !r.Exists() || r.Type == gjson.Null {
			continue
		}
		if r.Type == gjson.String {
			return Extraction{Found: true, Value: r.String(), Path: p}
		}
		if p == "predictions.0" {
			return Extraction{Found: true, Value: r.Raw, Path: p}
		}
	}

	if v, path, ok := deepText(root, ""); ok {
		return Extraction{Found: true, Value: v, Path: path}
	}
	return Extraction{}
}

func deepText(r gjson.Result, path string) (string, string, bool) {
	if !r.IsObject() && !r.IsArray() {
		return "", "", false
	}
	var (
		value, at string
		found     bool
	)
	if r.IsObject() {
		if t := r.Get("text"); t.Type == gjson.String {
			return t.String(), join(path, "text"), true
		}
	}
	r.ForEach(func(key, child gjson.Result) bool {
		value, at, found = deepText(child, join(path, key.String()))
		return !found
	})
	return value, at, found
}

var (
	directImageFields = []string{"imageData", "b64_json", "bytesBase64Encoded", "base64"}

	imageArrays = []string{"candidates.0.content.parts", "data", "images", "output"}

	arrayImageFields = []string{
		"inlineData.data",
		"inline_data.data",
		"blob.data",
		"b64_json",
		"bytesBase64Encoded",
		"base64",
		"imageData",
	}

	arrayMIMEFields = []string{
		"inlineData.mimeType",
		"inline_data.mime_type",
		"blob.mimeType",
		"mimeType",
	}

	predictionImageFields = []string{
		"bytesBase64Encoded",
		"image.bytesBase64Encoded",
		"image.imageBytes",
	}

	generatedImageFields = []string{
		"image.imageBytes",
		"image.bytesBase64Encoded",
		"bytesBase64Encoded",
	}

	urlFields = []string{"url", "uri", "imageUrl", "image_url"}

	imageURLPattern = regexp.MustCompile(`(?i)^https?://\S+\.(png|jpe?g|gif|webp)(\?\S*)?$`)
)

// ExtractImage locates generated image bytes or an image URL in a response
// body. Known response shapes are checked before the deep scan.
func ExtractImage(body []byte) Extraction {
	if !gjson.ValidBytes(body) {
		return Extraction{}
	}
	root := gjson.ParseBytes(body)

	for _, f := range directImageFields {
		if e, ok := imageValue(root.Get(f), f, ""); ok {
			return e
		}
	}

	for _, arr := range imageArrays {
		if e, ok := scanArray(root.Get(arr), arr, arrayImageFields, arrayMIMEFields, true); ok {
			return e
		}
	}

	if e, ok := scanArray(root.Get("predictions"), "predictions", predictionImageFields, []string{"mimeType", "image.mimeType"}, false); ok {
		return e
	}
	if e, ok := scanArray(root.Get("generatedImages"), "generatedImages", generatedImageFields, []string{"image.mimeType", "mimeType"}, false); ok {
		return e
	}

	if e, ok := deepImage(root, "", ""); ok {
		return e
	}
	return Extraction{}
}

func scanArray(arr gjson.Result, path string, fields, mimeFields []string, urls bool) (Extraction, bool) {
	if !arr.IsArray() {
		return Extraction{}, false
	}
	var (
		out   Extraction
		found bool
	)
	arr.ForEach(func(idx, item gjson.Result) bool {
		mime := firstString(item, mimeFields)
		for _, f := range fields {
			if e, ok := imageValue(item.Get(f), join(join(path, idx.String()), f), mime); ok {
				out, found = e, true
				return false
			}
		}
		if urls {
			for _, f := range urlFields {
				if u := item.Get(f); u.Type == gjson.String && isHTTPURL(u.String()) {
					out = Extraction{Found: true, URL: u.String(), Path: join(join(path, idx.String()), f)}
					found = true
					return false
				}
			}
		}
		return true
	})
	return out, found
}

func deepImage(r gjson.Result, path, key string) (Extraction, bool) {
	switch {
	case r.Type == gjson.String:
		s := r.String()
		if e, ok := dataURL(s, path); ok {
			return e, true
		}
		if imageURLPattern.MatchString(s) || (isURLField(key) && isHTTPURL(s)) {
			return Extraction{Found: true, URL: s, Path: path}, true
		}
		if looksLikeBase64(s) {
			return Extraction{Found: true, Value: s, Path: path, MIMEType: defaultImageMIME}, true
		}
	case r.IsObject() || r.IsArray():
		var (
			out   Extraction
			found bool
		)
		r.ForEach(func(k, child gjson.Result) bool {
			// Thought signatures are opaque base64 blobs, not images.
			if strings.Contains(strings.ToLower(k.String()), "signature") {
				return true
			}
			out, found = deepImage(child, join(path, k.String()), k.String())
			return !found
		})
		return out, found
	}
	return Extraction{}, false
}

// imageValue accepts inline base64 or a data URL found at a known field.
func imageValue(r gjson.Result, path, mime string) (Extraction, bool) {
	if r.Type != gjson.String {
		return Extraction{}, false
	}
	s := strings.TrimSpace(r.String())
	if s == "" {
		return Extraction{}, false
	}
	if e, ok := dataURL(s, path); ok {
		return e, true
	}
	if isHTTPURL(s) {
		return Extraction{Found: true, URL: s, Path: path}, true
	}
	if mime == "" {
		mime = defaultImageMIME
	}
	return Extraction{Found: true, Value: s, Path: path, MIMEType: mime}, true
}

func dataURL(s, path string) (Extraction, bool) {
	if !strings.HasPrefix(s, "data:image/") {
		return Extraction{}, false
	}
	meta, data, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") || data == "" {
		return Extraction{}, false
	}
	return Extraction{
		Found:    true,
		Value:    data,
		Path:     path,
		MIMEType: strings.TrimSuffix(meta, ";base64"),
	}, true
}

func looksLikeBase64(s string) bool {
	if len(s) < minBase64Len {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+', c == '/', c == '=', c == '-', c == '_':
		default:
			return false
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if _, err := enc.DecodeString(s); err == nil {
			return true
		}
	}
	return false
}

func isURLField(key string) bool {
	for _, f := range urlFields {
		if f == key {
			return true
		}
	}
	return false
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}

func firstString(r gjson.Result, paths []string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
