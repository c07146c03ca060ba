package coach

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/zhouzirui/aaroh/backend/internal/model/practice"
)

func TestDisabledServiceReturnsEmptyNote(t *testing.T) {
	svc, err := NewService(context.Background(), nil, Config{Enabled: true}, nil)
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}
	if svc.Enabled() {
		t.Fatal("service without a chat model must be disabled")
	}
	if note := svc.Advise(context.Background(), practice.FeedbackSummary{}); note != "" {
		t.Fatalf("expected empty note, got %q", note)
	}

	var nilSvc *Service
	if nilSvc.Enabled() {
		t.Fatal("nil service must report disabled")
	}
}

func TestDescribeSummary(t *testing.T) {
	best, worst := "C", "G"
	text := describeSummary(practice.FeedbackSummary{
		TotalChords:   3,
		CorrectChords: 2,
		Accuracy:      66.67,
		Level:         practice.LevelIntermediate,
		Stars:         3,
		MissingChords: []practice.MissingChord{{Chord: "G", Time: 1.5}},
		BestChord:     &best,
		WorstChord:    &worst,
		Duration:      4,
		TransitionsWrong: []practice.Transition{
			{From: "C", To: "G", Count: 1},
		},
	})

	for _, want := range []string{
		"Level: Intermediate",
		"2 of 3 chords correct",
		"Strongest chord: C",
		"Weakest chord: G",
		"Missed: G@1.5s",
		"C->G x1",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in:\n%s", want, text)
		}
	}
}

func TestDescribeEmptySummary(t *testing.T) {
	text := describeSummary(practice.FeedbackSummary{Level: practice.LevelBeginner, Stars: 1})
	if strings.Contains(text, "Strongest") || strings.Contains(text, "Missed") {
		t.Fatalf("empty summary should not mention chords: %s", text)
	}
}

func TestCleanNote(t *testing.T) {
	if got := cleanNote("  \"Slow down the C to G change.\"\n"); got != "Slow down the C to G change." {
		t.Fatalf("unexpected cleaned note %q", got)
	}

	long := strings.Repeat("a", maxNoteRunes+50)
	got := cleanNote(long)
	if utf8.RuneCountInString(got) != maxNoteRunes+1 || !strings.HasSuffix(got, "…") {
		t.Fatalf("expected truncated note, got %d runes", utf8.RuneCountInString(got))
	}
}
