package answer

import "strings"

// Persona is who the user appears to be.
type Persona string

const (
	PersonaAgent    Persona = "agent"
	PersonaInvestor Persona = "investor"
	PersonaNeutral  Persona = "neutral"
)

// Classify matches text against the cue lists. Agent cues win over investor cues.
func Classify(text string, cues Cues) Persona {
	text = strings.ToLower(text)
	if containsAny(text, cues.Agent) {
		return PersonaAgent
	}
	if containsAny(text, cues.Investor) {
		return PersonaInvestor
	}
	return PersonaNeutral
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(text, n) {
			return true
		}
	}
	return false
}
