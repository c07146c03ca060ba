package practice

import "time"

// Stage is one step of a recording session's pipeline.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageReceiving   Stage = "receiving"
	StageFinalizing  Stage = "finalizing"
	StageMerging     Stage = "merging"
	StageTranscoding Stage = "transcoding"
	StageAnalyzing   Stage = "analyzing"
	StageAggregating Stage = "aggregating"
	StageDelivered   Stage = "delivered"
	StageFailed      Stage = "failed"
)

// Terminal reports whether no further transition is possible from s.
func (s Stage) Terminal() bool {
	return s == StageDelivered || s == StageFailed
}

// FragmentRef points at one persisted audio chunk.
type FragmentRef struct {
	SessionID string `json:"sessionId"`
	Seq       int    `json:"seq"`
	Size      int    `json:"size"`
	Path      string `json:"path"`
}

// SessionInfo is a read-only snapshot of a coordinator-owned session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Stage     Stage     `json:"stage"`
	Fragments int       `json:"fragments"`
	CreatedAt time.Time `json:"createdAt"`
}
