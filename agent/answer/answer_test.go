package answer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	prompts []string
	reply   string
	err     error
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func defaultKB(t *testing.T) *Knowledge {
	t.Helper()
	kb, err := LoadKnowledge("")
	require.NoError(t, err)
	return kb
}

func TestClassify(t *testing.T) {
	cues := Cues{Agent: []string{"я агент", "брокер"}, Investor: []string{"инвестор", "доход"}}

	assert.Equal(t, PersonaAgent, Classify("Добрый день, я агент", cues))
	assert.Equal(t, PersonaAgent, Classify("БРОКЕР и инвестор", cues))
	assert.Equal(t, PersonaInvestor, Classify("Какой доход?", cues))
	assert.Equal(t, PersonaNeutral, Classify("Где находится объект?", cues))
	assert.Equal(t, PersonaNeutral, Classify("anything", Cues{}))
}

func TestDefaultKnowledgeLoads(t *testing.T) {
	kb := defaultKB(t)
	assert.Contains(t, kb.Summary, "Калуга")
	assert.True(t, strings.HasPrefix(kb.Contact, "\n\n"))
	assert.NotEmpty(t, kb.FAQ)
	assert.NotEmpty(t, kb.Personas.Agent.CTAs)
	assert.NotEmpty(t, kb.Cues.Investor)
}

func TestParseKnowledgeRejectsEmptySummary(t *testing.T) {
	_, err := ParseKnowledge([]byte("contact: x\n"))
	assert.Error(t, err)

	_, err = LoadKnowledge("/nonexistent/knowledge.yaml")
	assert.Error(t, err)
}

func TestGenerateAnswersFAQWithoutModel(t *testing.T) {
	kb := defaultKB(t)
	fc := &fakeCompleter{reply: "unused"}
	g, err := NewGenerator(kb, fc)
	require.NoError(t, err)

	out, err := g.Generate(context.Background(), "Какая ОКУПАЕМОСТЬ объекта?", 1)
	require.NoError(t, err)
	assert.Empty(t, fc.prompts)
	assert.True(t, strings.HasSuffix(out, kb.Contact))
	assert.Contains(t, out, "окупаемости")
}

func TestGenerateCallsModelWithPersonaPrompt(t *testing.T) {
	kb := defaultKB(t)
	fc := &fakeCompleter{reply: "  Ответ модели  "}
	g, err := NewGenerator(kb, fc)
	require.NoError(t, err)
	g.pick = func(int) int { return 0 }

	out, err := g.Generate(context.Background(), "Я агент, пришлите документы", 5)
	require.NoError(t, err)
	assert.Equal(t, "Ответ модели"+kb.Contact, out)

	require.Len(t, fc.prompts, 1)
	prompt := fc.prompts[0]
	assert.True(t, strings.HasPrefix(prompt, kb.Summary))
	assert.Contains(t, prompt, kb.Personas.Agent.Style)
	assert.NotContains(t, prompt, kb.Personas.Investor.Style)
	assert.Contains(t, prompt, kb.Personas.Agent.CTAs[0])
	assert.Contains(t, prompt, "📎 "+kb.FileHints[0].Hint)
	assert.Contains(t, prompt, "3. ❓ "+kb.Personas.Agent.Followups[0])
}

func TestNeutralPromptMixesPersonas(t *testing.T) {
	kb := defaultKB(t)
	g, err := NewGenerator(kb, &fakeCompleter{})
	require.NoError(t, err)
	g.pick = func(n int) int { return n - 1 }

	prompt := g.Prompt("Где это?", PersonaNeutral)
	assert.Contains(t, prompt, kb.Personas.Agent.Style)
	assert.Contains(t, prompt, kb.Personas.Investor.Style)
	ctas := kb.Personas.Investor.CTAs
	assert.Contains(t, prompt, ctas[len(ctas)-1])
}

func TestGenerateUsesKnowledgeFallback(t *testing.T) {
	kb := defaultKB(t)
	require.NotEmpty(t, kb.Fallback)

	for name, c := range map[string]*fakeCompleter{
		"model error": {err: errors.New("rate limited")},
		"empty reply": {reply: "  "},
	} {
		t.Run(name, func(t *testing.T) {
			g, err := NewGenerator(kb, c)
			require.NoError(t, err)
			text, err := g.Generate(context.Background(), "Где объект?", 1)
			require.NoError(t, err)
			assert.Equal(t, kb.Fallback+kb.Contact, text)
		})
	}
}

func TestGenerateErrors(t *testing.T) {
	kb := defaultKB(t)
	kb.Fallback = ""

	g, err := NewGenerator(kb, &fakeCompleter{err: errors.New("rate limited")})
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), "Где объект?", 1)
	assert.ErrorContains(t, err, "rate limited")

	g, err = NewGenerator(kb, &fakeCompleter{reply: "  "})
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), "Где объект?", 1)
	assert.ErrorIs(t, err, ErrEmptyCompletion)

	_, err = NewGenerator(nil, &fakeCompleter{})
	assert.Error(t, err)
	_, err = NewGenerator(kb, nil)
	assert.Error(t, err)
}

type fakeChat struct {
	params openai.ChatCompletionNewParams
	resp   *openai.ChatCompletion
	err    error
}

func (f *fakeChat) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.params = body
	return f.resp, f.err
}

func TestOpenAICompleterBuildsParams(t *testing.T) {
	fc := &fakeChat{resp: &openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "ok"}}}}}
	c := newOpenAICompleter(fc, OpenAIOptions{SystemPrompt: "be brief", Temperature: 0.4})

	out, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, DefaultModel, fc.params.Model)
	assert.Len(t, fc.params.Messages, 2)

	fc.resp = &openai.ChatCompletion{}
	_, err = c.Complete(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestOpenAICompleterOverHTTP(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-test",`+
			`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Объект доступен"}}]}`)
	}))
	defer srv.Close()

	c, err := NewOpenAICompleter(OpenAIOptions{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-test", HTTPClient: srv.Client()})
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "Где объект?")
	require.NoError(t, err)
	assert.Equal(t, "Объект доступен", out)
	assert.Equal(t, "gpt-test", got["model"])

	_, err = NewOpenAICompleter(OpenAIOptions{})
	assert.Error(t, err)
}
