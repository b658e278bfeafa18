// internal/context/engine.go
package context

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"text/template"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/gptrelay/internal/types"
	"github.com/user/gptrelay/pkg/llm"
)

// Engine assembles token-budgeted prompts for the LLM.
type Engine struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	reserve   int
	prompt    *template.Template
	now       func() time.Time
}

// PromptData is the data available to the system prompt template.
type PromptData struct {
	Time string
	Date string
}

// New creates a context engine with the specified token budget.
// model is used to select the appropriate tokenizer (e.g. "gpt-4o-mini").
// maxTokens is the model's context window size.
// reserve is the number of tokens to reserve for the model's response.
// promptPath names a text/template file for the system prompt; empty uses
// DefaultPrompt.
func New(model string, maxTokens, reserve int, promptPath string) (*Engine, error) {
	source := DefaultPrompt
	if promptPath != "" {
		raw, err := os.ReadFile(promptPath)
		if err != nil {
			return nil, fmt.Errorf("read system prompt: %w", err)
		}
		source = string(raw)
	}
	tmpl, err := template.New("system").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse system prompt: %w", err)
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// The encoding tables are fetched on first use; without them
			// token counts are estimated from text length.
			slog.Warn("tokenizer unavailable, estimating token counts", "model", model, "error", err)
			enc = nil
		}
	}
	return &Engine{
		tokenizer: enc,
		maxTokens: maxTokens,
		reserve:   reserve,
		prompt:    tmpl,
		now:       time.Now,
	}, nil
}

// countTokens returns the token count for a string.
func (e *Engine) countTokens(text string) int {
	if e.tokenizer == nil {
		return len(text)/4 + 1
	}
	return len(e.tokenizer.Encode(text, nil, nil))
}

// Build turns history into upstream messages: the system prompt followed by
// the newest turns that fit the input budget, in chronological order. The
// newest turn is always included.
func (e *Engine) Build(history []types.Message) []llm.Message {
	sysPrompt := e.systemPrompt()
	remaining := e.maxTokens - e.reserve - e.countTokens(sysPrompt)

	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := e.countTokens(history[i].Text)
		if cost > remaining && i < len(history)-1 {
			break
		}
		remaining -= cost
		start = i
	}

	messages := make([]llm.Message, 0, 1+len(history)-start)
	messages = append(messages, llm.Message{Role: "system", Content: sysPrompt})
	for _, m := range history[start:] {
		messages = append(messages, llm.Message{Role: string(m.Role), Content: m.Text})
	}
	return messages
}

func (e *Engine) systemPrompt() string {
	now := e.now()
	data := PromptData{
		Time: now.Format(time.RFC3339),
		Date: now.Format("Monday, 2 January 2006"),
	}
	var buf bytes.Buffer
	if err := e.prompt.Execute(&buf, data); err != nil {
		slog.Error("render system prompt", "error", err)
		return DefaultPersona
	}
	return buf.String()
}
