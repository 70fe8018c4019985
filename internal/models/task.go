package models

import (
	"time"

	"github.com/google/uuid"
)

// Task status enums. Terminal states never transition again.
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusCancelled  = "cancelled"
)

// Input descriptor types. When more than one source is supplied the
// priority is file > url > text.
const (
	InputTypeText = "text"
	InputTypeFile = "file"
	InputTypeURL  = "url"
)

// IsTerminalStatus reports whether a task in the given status can still change.
func IsTerminalStatus(status string) bool {
	switch status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Task is one narrated-video generation request. Rows are never deleted;
// ReservedCredits and ReservationID are immutable once set at admission.
type Task struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	InputType       string     `json:"input_type"`
	SourceText      string     `json:"source_text,omitempty"`
	SourceURL       string     `json:"source_url,omitempty"`
	InputFileRef    string     `json:"input_file_ref,omitempty"`
	TargetLanguage  string     `json:"target_language"`
	VoiceType       string     `json:"voice_type"`
	Status          string     `json:"status"`
	Progress        int        `json:"progress"`
	OutputVideoRef  string     `json:"output_video_ref,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	ReservedCredits int        `json:"reserved_credits"`
	ReservationID   uuid.UUID  `json:"reservation_id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// DisplayName returns a short label derived from the task source, mirroring
// what the task list endpoint exposes instead of the full source text.
func (t *Task) DisplayName() string {
	src := t.SourceText
	if src == "" {
		src = t.SourceURL
	}
	if src == "" {
		src = t.InputFileRef
	}
	runes := []rune(src)
	if len(runes) > 30 {
		return string(runes[:30]) + "..."
	}
	return src
}

// Supported target languages for narration.
var SupportedLanguages = map[string]string{
	"en": "English",
	"zh": "Simplified Chinese",
	"ja": "Japanese",
	"ko": "Korean",
	"fr": "French",
	"de": "German",
	"es": "Spanish",
	"pt": "Portuguese",
	"ru": "Russian",
	"ar": "Arabic",
	"hi": "Hindi",
	"it": "Italian",
	"nl": "Dutch",
	"id": "Indonesian",
	"pl": "Polish",
	"th": "Thai",
	"tr": "Turkish",
	"vi": "Vietnamese",
}

const DefaultVoiceType = "achernar"
