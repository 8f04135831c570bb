package protocol

import "time"

// SpeakRequest asks the runtime to voice text into a target's channel.
type SpeakRequest struct {
	RequestID   string `json:"request_id,omitempty"`
	TargetID    uint64 `json:"target_id"`
	ChannelID   string `json:"channel_id"`
	Text        string `json:"text"`
	Character   string `json:"character,omitempty"`
	UserID      uint64 `json:"user_id,omitempty"`
	SpeakerName string `json:"speaker_name,omitempty"`
	// OwnVoice marks a user speaking with their uploaded sample; the spoken
	// text then carries no speaker prefix.
	OwnVoice  bool      `json:"own_voice,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SpeakResult reports the outcome of one speak request.
type SpeakResult struct {
	RequestID string    `json:"request_id,omitempty"`
	TargetID  uint64    `json:"target_id"`
	Queued    bool      `json:"queued"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClearRequest drops a target's pending playback queue.
type ClearRequest struct {
	TargetID  uint64    `json:"target_id"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectSpeakRequest = "speak.request"
	SubjectSpeakResult  = "speak.result"
	SubjectSpeakClear   = "speak.clear"
)
