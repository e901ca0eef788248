package persona

import (
	"errors"
	"strings"
	"testing"
)

func sampleContext() CallContext {
	return CallContext{
		RecipientName: "Lucía",
		Age:           "7",
		Gifts:         "a red bike",
		Behavior:      "Muy bien",
		Persona:       Santa,
	}
}

func TestInstruction_English(t *testing.T) {
	got := Instruction(sampleContext(), English)

	want := "You are a Christmas assistant. IMPORTANT: You MUST respond ALWAYS in English, without exception.\n\n" +
		"Child's information:\n" +
		"- Name: Lucía\n" +
		"- Age: 7\n" +
		"- Desired gifts: a red bike\n" +
		"- Behavior this year: Muy bien\n\n" +
		"Personality: Classic Santa Claus. Warm, kind, jolly. Ho ho ho! Reference the child's personal details in the conversation."
	if got != want {
		t.Errorf("Instruction mismatch\ngot:  %q\nwant: %q", got, want)
	}
}

func TestInstruction_MissingFieldsAndDetails(t *testing.T) {
	cc := CallContext{Details: "has a dog named Rudy", Persona: Grinch}
	got := Instruction(cc, German)

	if strings.Count(got, "nicht angegeben") != 4 {
		t.Errorf("expected 4 placeholders, got:\n%s", got)
	}
	if !strings.Contains(got, "- Zusätzliche Details: has a dog named Rudy") {
		t.Errorf("details line missing:\n%s", got)
	}
	if !strings.HasSuffix(got, translations[German].grinch) {
		t.Errorf("expected grinch personality at the end:\n%s", got)
	}
}

func TestInstruction_UnknownPersonaAndLanguage(t *testing.T) {
	cc := sampleContext()
	cc.Persona = "elf"

	got := Instruction(cc, Language("Klingon"))
	if !strings.HasPrefix(got, translations[Spanish].base) {
		t.Errorf("expected Spanish fallback:\n%s", got)
	}
	if !strings.HasSuffix(got, translations[Spanish].santa) {
		t.Errorf("expected santa fallback:\n%s", got)
	}
}

func TestInstruction_SpicySanta(t *testing.T) {
	cc := sampleContext()
	cc.Persona = SpicySanta
	for lang, p := range translations {
		if got := Instruction(cc, lang); !strings.HasSuffix(got, p.spicy) {
			t.Errorf("%s: expected spicy personality", lang)
		}
	}
}

func TestParseLanguage(t *testing.T) {
	cases := map[string]Language{
		"":           Spanish,
		"Spanish":    Spanish,
		"en":         English,
		" English ":  English,
		"fr":         French,
		"GERMAN":     German,
		"it":         Italian,
		"Portuguese": Portuguese,
		"xx":         Spanish,
	}
	for in, want := range cases {
		if got := ParseLanguage(in); got != want {
			t.Errorf("ParseLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildPrompt_NoHistory(t *testing.T) {
	b := New(0)
	got, err := b.BuildPrompt(sampleContext(), English, nil, "  Hi Santa!  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := Instruction(sampleContext(), English) + "\n\n User: Hi Santa!\nAssistant:"
	if got != want {
		t.Errorf("BuildPrompt mismatch\ngot:  %q\nwant: %q", got, want)
	}
}

func TestBuildPrompt_WithHistory(t *testing.T) {
	b := New(0)
	history := []Turn{
		{Role: "user", Text: "Hello"},
		{Role: "model", Text: "Ho ho ho!"},
	}
	got, err := b.BuildPrompt(sampleContext(), English, history, "Can I have a bike?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := Instruction(sampleContext(), English) +
		"\n\nUser: Hello\nAssistant: Ho ho ho!" +
		"\n\n User: Can I have a bike?\nAssistant:"
	if got != want {
		t.Errorf("BuildPrompt mismatch\ngot:  %q\nwant: %q", got, want)
	}
}

func TestBuildPrompt_HistoryBudgetDropsOldest(t *testing.T) {
	b := New(10)
	history := []Turn{
		{Role: "user", Text: strings.Repeat("old ", 20)},
		{Role: "model", Text: "recent"},
		{Role: "user", Text: "   "},
	}
	got, err := b.BuildPrompt(sampleContext(), English, history, "next")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(got, "old old") {
		t.Errorf("oldest turn should be dropped:\n%s", got)
	}
	if !strings.Contains(got, "Assistant: recent") {
		t.Errorf("recent turn should be kept:\n%s", got)
	}
}

func TestBuildPrompt_EmptyMessage(t *testing.T) {
	_, err := New(0).BuildPrompt(sampleContext(), English, nil, " \n ")
	if !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("err = %v, want ErrEmptyMessage", err)
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := map[string]int{"": 0, "a": 1, "abcd": 1, "abcde": 2}
	for in, want := range cases {
		if got := EstimateTokens(in); got != want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", in, got, want)
		}
	}
}
