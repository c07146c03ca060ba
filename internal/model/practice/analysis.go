package practice

// Level is the skill tier reported by the recognition engine.
type Level string

const (
	LevelBeginner     Level = "Beginner"
	LevelIntermediate Level = "Intermediate"
	LevelProfessional Level = "Professional"
)

// Valid reports whether l is one of the known tiers.
func (l Level) Valid() bool {
	switch l {
	case LevelBeginner, LevelIntermediate, LevelProfessional:
		return true
	default:
		return false
	}
}

// ChordEvent is one detected chord in the analysed recording.
type ChordEvent struct {
	Time    float64  `json:"time"`
	Chord   string   `json:"chord"`
	Correct bool     `json:"correct"`
	Start   float64  `json:"start"`
	End     *float64 `json:"end,omitempty"`
}

// AnalysisResult is the validated output of the recognition engine.
// Events are ordered by start time and may be empty.
type AnalysisResult struct {
	Events    []ChordEvent `json:"events"`
	Accuracy  float64      `json:"accuracy"`
	Level     Level        `json:"level"`
	Reference bool         `json:"reference,omitempty"`
}

// MissingChord marks an incorrectly played chord and when it started.
type MissingChord struct {
	Chord string  `json:"chord"`
	Time  float64 `json:"time"`
}

// Transition counts adjacent chord pairs that touched a mistake.
type Transition struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Count int    `json:"count"`
}

// FeedbackSummary is the performance record delivered to the client.
// BestChord and WorstChord are nil when no chords were detected.
type FeedbackSummary struct {
	TotalChords      int            `json:"totalChords"`
	CorrectChords    int            `json:"correctChords"`
	Mistakes         int            `json:"mistakes"`
	Accuracy         float64        `json:"accuracy"`
	Level            Level          `json:"level"`
	Stars            int            `json:"stars"`
	MissingChords    []MissingChord `json:"missingChords"`
	BestChord        *string        `json:"bestChord"`
	WorstChord       *string        `json:"worstChord"`
	Duration         float64        `json:"duration"`
	TransitionsWrong []Transition   `json:"transitionsWrong"`
	Guidance         string         `json:"guidance"`
	Tariff           string         `json:"tariff"`
}
