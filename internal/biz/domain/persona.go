package domain

// Persona is the system prompt applied when generating a proactive message
type Persona struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

// IsZero reports an absent persona
func (p Persona) IsZero() bool {
	return p.Prompt == ""
}
