// Package letter handles letters to Santa: PDF text extraction and the
// prompts used to summarize a letter or render it into a picture.
package letter

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// MaxTextBytes caps the extracted text handed to text generation.
const MaxTextBytes = 16 * 1024

// DefaultSummaryPrompt is the instruction used when summarizing a letter.
const DefaultSummaryPrompt = "Read this letter to Santa and summarize what the child wants."

var (
	// ErrNoText is returned when a PDF has no extractable text layer.
	ErrNoText = errors.New("pdf has no text layer")
	// ErrNotPDF is returned when the payload does not parse as a PDF.
	ErrNotPDF = errors.New("not a valid pdf")
)

// IsPDF reports whether the MIME type or the leading bytes identify a PDF.
func IsPDF(mimeType string, data []byte) bool {
	if strings.EqualFold(strings.TrimSpace(mimeType), "application/pdf") {
		return true
	}
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// ExtractPDFText returns the plain text of every page, whitespace-collapsed
// and truncated to MaxTextBytes on a rune boundary.
func ExtractPDFText(data []byte) (text string, err error) {
	// The pdf reader panics on some malformed xref tables.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: %v", ErrNotPDF, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotPDF, err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	raw, err := io.ReadAll(io.LimitReader(plain, 4*MaxTextBytes))
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}

	text = strings.Join(strings.Fields(string(raw)), " ")
	if text == "" {
		return "", ErrNoText
	}
	return truncate(text, MaxTextBytes), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// SummaryPrompt wraps extracted letter text in the summarization instruction.
func SummaryPrompt(text string) string {
	return DefaultSummaryPrompt + "\n\nLetter:\n\"\"\"\n" + strings.TrimSpace(text) + "\n\"\"\""
}

// ImagePrompt describes a picture of Santa holding a letter with the given text.
func ImagePrompt(textOnLetter string) string {
	return fmt.Sprintf("Create a cinematic square photo of Santa Claus holding a letter. "+
		"The letter contains the following text: %q. Use warm Christmas lighting. "+
		"Santa should look friendly and jolly. Professional photo quality. "+
		"The image should fill the entire square frame.", strings.TrimSpace(textOnLetter))
}
