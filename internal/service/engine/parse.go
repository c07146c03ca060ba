package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/zhouzirui/aaroh/backend/internal/model/practice"
)

// wireEvent mirrors one entry of the engine's feedback array. Pointers
// separate absent fields from zero values.
type wireEvent struct {
	Chord       *string  `json:"chord"`
	Start       *float64 `json:"start"`
	Time        *float64 `json:"time"`
	End         *float64 `json:"end"`
	Duration    *float64 `json:"duration"`
	Correct     *bool    `json:"correct"`
	StringIndex *int     `json:"stringIndex"`
}

type wireSummary struct {
	Accuracy json.RawMessage `json:"accuracy"`
	Level    *string         `json:"level"`
}

type wireOutput struct {
	Feedback   *[]wireEvent    `json:"feedback"`
	Accuracy   json.RawMessage `json:"accuracy"`
	Level      *string         `json:"level"`
	MicSummary *wireSummary    `json:"mic_summary"`
	Error      *string         `json:"error"`
}

// Mode selects which fields the parser requires.
type Mode int

const (
	// ModeReference is a single-recording analysis: events only.
	ModeReference Mode = iota
	// ModeCompare scores a subject against a reference and must carry
	// accuracy and level.
	ModeCompare
)

// Parse validates raw engine stdout and converts it into an AnalysisResult.
// Errors wrap practice.ErrEngineInvocation when the engine reported its own
// failure and practice.ErrMalformedOutput for any schema violation.
func Parse(stdout []byte, mode Mode) (practice.AnalysisResult, error) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return practice.AnalysisResult{}, fmt.Errorf("empty engine output: %w", practice.ErrMalformedOutput)
	}

	var out wireOutput
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return practice.AnalysisResult{}, fmt.Errorf("decode engine output: %w: %w", practice.ErrMalformedOutput, err)
	}
	if out.Error != nil {
		return practice.AnalysisResult{}, fmt.Errorf("engine reported %q: %w", *out.Error, practice.ErrEngineInvocation)
	}
	if out.Feedback == nil {
		return practice.AnalysisResult{}, fmt.Errorf("missing feedback array: %w", practice.ErrMalformedOutput)
	}

	events, err := convertEvents(*out.Feedback)
	if err != nil {
		return practice.AnalysisResult{}, err
	}

	result := practice.AnalysisResult{Events: events, Reference: mode == ModeReference}

	rawAccuracy, level := out.Accuracy, out.Level
	if out.MicSummary != nil {
		if !present(rawAccuracy) {
			rawAccuracy = out.MicSummary.Accuracy
		}
		if level == nil {
			level = out.MicSummary.Level
		}
	}

	if present(rawAccuracy) {
		acc, err := parseAccuracy(rawAccuracy)
		if err != nil {
			return practice.AnalysisResult{}, err
		}
		result.Accuracy = acc
	} else if mode == ModeCompare {
		return practice.AnalysisResult{}, fmt.Errorf("missing accuracy: %w", practice.ErrMalformedOutput)
	}

	if level != nil {
		lv := practice.Level(*level)
		if !lv.Valid() {
			return practice.AnalysisResult{}, fmt.Errorf("unknown level %q: %w", *level, practice.ErrMalformedOutput)
		}
		result.Level = lv
	} else if mode == ModeCompare {
		return practice.AnalysisResult{}, fmt.Errorf("missing level: %w", practice.ErrMalformedOutput)
	}

	return result, nil
}

func convertEvents(raw []wireEvent) ([]practice.ChordEvent, error) {
	events := make([]practice.ChordEvent, 0, len(raw))
	prevStart := math.Inf(-1)

	for i, w := range raw {
		switch {
		case w.Chord == nil || *w.Chord == "":
			return nil, fmt.Errorf("event %d: missing chord: %w", i, practice.ErrMalformedOutput)
		case w.Start == nil:
			return nil, fmt.Errorf("event %d: missing start: %w", i, practice.ErrMalformedOutput)
		case w.Correct == nil:
			return nil, fmt.Errorf("event %d: missing correct: %w", i, practice.ErrMalformedOutput)
		}

		start := *w.Start
		if math.IsNaN(start) || start < 0 {
			return nil, fmt.Errorf("event %d: invalid start %v: %w", i, start, practice.ErrMalformedOutput)
		}
		if start < prevStart {
			return nil, fmt.Errorf("event %d: start %v before previous %v: %w", i, start, prevStart, practice.ErrMalformedOutput)
		}
		prevStart = start

		ev := practice.ChordEvent{
			Time:    start,
			Chord:   *w.Chord,
			Correct: *w.Correct,
			Start:   start,
		}
		if w.Time != nil {
			ev.Time = *w.Time
		}

		switch {
		case w.End != nil:
			end := *w.End
			ev.End = &end
		case w.Duration != nil:
			if *w.Duration < 0 {
				return nil, fmt.Errorf("event %d: negative duration: %w", i, practice.ErrMalformedOutput)
			}
			end := start + *w.Duration
			ev.End = &end
		}
		if ev.End != nil && *ev.End < start {
			return nil, fmt.Errorf("event %d: end before start: %w", i, practice.ErrMalformedOutput)
		}

		events = append(events, ev)
	}
	return events, nil
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

func parseAccuracy(raw json.RawMessage) (float64, error) {
	var acc float64
	if err := json.Unmarshal(raw, &acc); err != nil {
		return 0, fmt.Errorf("accuracy %s is not a number: %w", raw, practice.ErrMalformedOutput)
	}
	if acc < 0 || acc > 100 {
		return 0, fmt.Errorf("accuracy %v out of range: %w", acc, practice.ErrMalformedOutput)
	}
	return acc, nil
}
