package main

import (
	"fmt"
	"io"
	"os"
)

// ANSI sequences for the few styles the CLI uses.
const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
)

// notices receives progress and status lines so stdout stays clean for
// generated text and piped output.
var notices io.Writer = os.Stderr

func paint(style, text string) string {
	if noColor || style == "" {
		return text
	}
	return style + text + ansiReset
}

// modelLabel styles a model or record identifier.
func modelLabel(s string) string { return paint(ansiCyan, s) }

// keyLabel styles a configuration key.
func keyLabel(s string) string { return paint(ansiBold, s) }

// outcomeLabel colors a request-log outcome: green on success, yellow when
// the caller can still recover, red otherwise.
func outcomeLabel(outcome string) string {
	switch outcome {
	case "success":
		return paint(ansiGreen, outcome)
	case "fallback_requested", "quota_exhausted":
		return paint(ansiYellow, outcome)
	default:
		return paint(ansiRed, outcome)
	}
}

func notice(style, mark, format string, args []any) {
	fmt.Fprintln(notices, paint(style, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { notice(ansiGreen, "✓", format, args) }
func printError(format string, args ...any)   { notice(ansiRed, "✗", format, args) }
func printWarning(format string, args ...any) { notice(ansiYellow, "!", format, args) }
func printStep(format string, args ...any)    { notice(ansiCyan, "→", format, args) }

// printStatus writes an indented "Label: value" line.
func printStatus(label, format string, args ...any) {
	fmt.Fprintf(notices, "  %s %s\n", keyLabel(label+":"), fmt.Sprintf(format, args...))
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
