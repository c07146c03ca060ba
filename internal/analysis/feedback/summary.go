package feedback

import "github.com/zhouzirui/aaroh/backend/internal/model/practice"

// Advice is the fixed guidance/tariff copy shown for a level.
type Advice struct {
	Guidance string
	Tariff   string
}

var adviceByLevel = map[practice.Level]Advice{
	practice.LevelProfessional: {
		Guidance: "Excellent! You're at a professional level. Keep refining your chord transitions.",
		Tariff:   "🔥 You nailed it! 🎸",
	},
	practice.LevelIntermediate: {
		Guidance: "You're doing well. Focus on accuracy and tempo balance.",
		Tariff:   "🚀 Solid progress! Push a little more for perfection.",
	},
	practice.LevelBeginner: {
		Guidance: "You're at the Beginner level. Practice slow transitions, especially between F, C, and Am chords.",
		Tariff:   "💪 Great start! Keep practicing daily and you'll hit Intermediate soon!",
	},
}

// AdviceFor returns the copy for level; unknown levels get the Beginner text.
func AdviceFor(level practice.Level) Advice {
	if advice, ok := adviceByLevel[level]; ok {
		return advice
	}
	return adviceByLevel[practice.LevelBeginner]
}

// Stars converts the engine accuracy (0-100) into a 1-5 rating.
func Stars(accuracy float64) int {
	switch {
	case accuracy >= 90:
		return 5
	case accuracy >= 75:
		return 4
	case accuracy >= 60:
		return 3
	case accuracy >= 40:
		return 2
	default:
		return 1
	}
}

type chordStat struct {
	label   string
	correct int
	total   int
}

func (s chordStat) ratio() float64 {
	return float64(s.correct) / float64(s.total)
}

type transitionKey struct {
	from string
	to   string
}

// Summarize derives the performance summary from one analysis result.
// It has no side effects and returns identical output for identical input.
func Summarize(result practice.AnalysisResult) practice.FeedbackSummary {
	events := result.Events
	advice := AdviceFor(result.Level)

	summary := practice.FeedbackSummary{
		TotalChords:      len(events),
		Accuracy:         result.Accuracy,
		Level:            result.Level,
		Stars:            Stars(result.Accuracy),
		MissingChords:    make([]practice.MissingChord, 0),
		TransitionsWrong: make([]practice.Transition, 0),
		Guidance:         advice.Guidance,
		Tariff:           advice.Tariff,
	}

	// Per-chord stats keep first-occurrence order so ties resolve the same way every run.
	stats := make([]chordStat, 0)
	statIndex := make(map[string]int)

	for _, ev := range events {
		if ev.Correct {
			summary.CorrectChords++
		} else {
			summary.MissingChords = append(summary.MissingChords, practice.MissingChord{
				Chord: ev.Chord,
				Time:  ev.Start,
			})
		}

		idx, ok := statIndex[ev.Chord]
		if !ok {
			idx = len(stats)
			statIndex[ev.Chord] = idx
			stats = append(stats, chordStat{label: ev.Chord})
		}
		stats[idx].total++
		if ev.Correct {
			stats[idx].correct++
		}
	}
	summary.Mistakes = summary.TotalChords - summary.CorrectChords

	if len(stats) > 0 {
		best, worst := stats[0], stats[0]
		for _, st := range stats[1:] {
			if st.ratio() > best.ratio() {
				best = st
			}
			if st.ratio() < worst.ratio() {
				worst = st
			}
		}
		bestLabel, worstLabel := best.label, worst.label
		summary.BestChord = &bestLabel
		summary.WorstChord = &worstLabel
	}

	summary.TransitionsWrong = wrongTransitions(events)

	if n := len(events); n > 0 && events[n-1].End != nil {
		summary.Duration = *events[n-1].End
	}

	return summary
}

// wrongTransitions counts adjacent pairs where either side was played incorrectly.
func wrongTransitions(events []practice.ChordEvent) []practice.Transition {
	out := make([]practice.Transition, 0)
	index := make(map[transitionKey]int)

	for i := 1; i < len(events); i++ {
		prev, curr := events[i-1], events[i]
		if prev.Correct && curr.Correct {
			continue
		}
		key := transitionKey{from: prev.Chord, to: curr.Chord}
		if pos, ok := index[key]; ok {
			out[pos].Count++
			continue
		}
		index[key] = len(out)
		out = append(out, practice.Transition{From: key.from, To: key.to, Count: 1})
	}
	return out
}
