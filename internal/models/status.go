package models

// Status is the episode lifecycle state. Transitions only move forward,
// except that FAILED is reachable from any non-terminal state.
type Status string

const (
	StatusCreated      Status = "CREATED"
	StatusIngesting    Status = "INGESTING"
	StatusScripting    Status = "SCRIPTING"
	StatusSynthesizing Status = "SYNTHESIZING"
	StatusAudioPost    Status = "AUDIO_POST"
	StatusVideoRender  Status = "VIDEO_RENDER"
	StatusPublished    Status = "PUBLISHED"
	StatusFailed       Status = "FAILED"
)

// Older records use these spellings for two of the states.
const (
	legacyProcessing     Status = "PROCESSING"
	legacyPostProcessing Status = "POST_PROCESSING"
)

// Normalize maps legacy status spellings onto the current enum. Unknown
// values pass through unchanged.
func (s Status) Normalize() Status {
	switch s {
	case legacyProcessing:
		return StatusIngesting
	case legacyPostProcessing:
		return StatusAudioPost
	default:
		return s
	}
}

// Terminal reports whether no further stage may run.
func (s Status) Terminal() bool {
	switch s.Normalize() {
	case StatusPublished, StatusFailed:
		return true
	default:
		return false
	}
}

// Progress returns a rough percentage for the status polling surface.
func (s Status) Progress() int {
	switch s.Normalize() {
	case StatusCreated:
		return 0
	case StatusIngesting:
		return 10
	case StatusScripting:
		return 25
	case StatusSynthesizing:
		return 50
	case StatusAudioPost:
		return 70
	case StatusVideoRender:
		return 85
	case StatusPublished:
		return 100
	case StatusFailed:
		return 100
	default:
		return 0
	}
}
