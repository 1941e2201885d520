package domain

// Mode selects which model and generation parameters a chat uses
type Mode string

const (
	ModeTutor Mode = "tutor"
	ModeExam  Mode = "exam"
)

// ModePreset is the resolved generation preset for a mode
type ModePreset struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// ModeUpdate represents a mode switch request
type ModeUpdate struct {
	Mode Mode `json:"mode" validate:"required,max=64"`
}
