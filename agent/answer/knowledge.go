package answer

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed knowledge.yaml
var defaultKnowledge []byte

// FAQEntry answers a question containing Keyword without a model call.
type FAQEntry struct {
	Keyword string `yaml:"keyword"`
	Answer  string `yaml:"answer"`
}

// FileHint points the user at a menu entry when the question mentions Keyword.
type FileHint struct {
	Keyword string `yaml:"keyword"`
	Hint    string `yaml:"hint"`
}

// PersonaScript is the prompt style and closing lines for one persona.
type PersonaScript struct {
	Style     string   `yaml:"style"`
	CTAs      []string `yaml:"ctas"`
	Followups []string `yaml:"followups"`
}

// Cues are lower-case phrases that identify a persona.
type Cues struct {
	Agent    []string `yaml:"agent"`
	Investor []string `yaml:"investor"`
}

// Knowledge is everything the generator knows about the object.
type Knowledge struct {
	Summary   string     `yaml:"summary"`
	Contact   string     `yaml:"contact"`
	Fallback  string     `yaml:"fallback"`
	Highlight string     `yaml:"highlight"`
	Cues      Cues       `yaml:"cues"`
	FAQ       []FAQEntry `yaml:"faq"`
	FileHints []FileHint `yaml:"file_hints"`
	Personas  struct {
		Agent    PersonaScript `yaml:"agent"`
		Investor PersonaScript `yaml:"investor"`
	} `yaml:"personas"`
}

// LoadKnowledge reads knowledge from path, or the built-in defaults when
// path is empty.
func LoadKnowledge(path string) (*Knowledge, error) {
	data := defaultKnowledge
	if path = strings.TrimSpace(path); path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("answer: read knowledge: %w", err)
		}
	}
	return ParseKnowledge(data)
}

// ParseKnowledge decodes YAML knowledge and lower-cases keywords and cues.
func ParseKnowledge(data []byte) (*Knowledge, error) {
	var kb Knowledge
	if err := yaml.Unmarshal(data, &kb); err != nil {
		return nil, fmt.Errorf("answer: parse knowledge: %w", err)
	}
	if strings.TrimSpace(kb.Summary) == "" {
		return nil, fmt.Errorf("answer: knowledge summary is empty")
	}
	kb.Cues.Agent = lowerAll(kb.Cues.Agent)
	kb.Cues.Investor = lowerAll(kb.Cues.Investor)
	for i := range kb.FAQ {
		kb.FAQ[i].Keyword = strings.ToLower(strings.TrimSpace(kb.FAQ[i].Keyword))
	}
	for i := range kb.FileHints {
		kb.FileHints[i].Keyword = strings.ToLower(strings.TrimSpace(kb.FileHints[i].Keyword))
	}
	return &kb, nil
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// script returns the style and closing candidates for p. Neutral mixes both.
func (kb *Knowledge) script(p Persona) PersonaScript {
	agent, investor := kb.Personas.Agent, kb.Personas.Investor
	switch p {
	case PersonaAgent:
		return agent
	case PersonaInvestor:
		return investor
	}
	return PersonaScript{
		Style:     strings.TrimSpace(agent.Style + "\n\n" + investor.Style),
		CTAs:      append(append([]string(nil), agent.CTAs...), investor.CTAs...),
		Followups: append(append([]string(nil), agent.Followups...), investor.Followups...),
	}
}
