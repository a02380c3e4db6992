package protocol

import "time"

// TranscriptEvent is broadcast on the bus after an upload has been transcribed.
type TranscriptEvent struct {
	RequestID  string    `json:"request_id"`
	Filename   string    `json:"filename"`
	Format     string    `json:"format"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence,omitempty"`
	AudioMS    int64     `json:"audio_ms"`
	Engine     string    `json:"engine"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectTranscriptFinal = "stt.text.final"
)
