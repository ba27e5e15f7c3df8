// Package agent runs the model-driven conversation loop: it carries chat
// history to the model, executes the tool calls the model requests, and
// feeds the results back until the model produces a text answer.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"hargraph/internal/gemini"
	"hargraph/internal/storage"
	"hargraph/internal/tools"
)

// maxToolTurns caps how many model calls a single user message may trigger.
// Tool requests are executed on every turn, including the last; hitting the
// ceiling means the final turn's results are never sent back to the model
// and the conversation falls back to whatever text exists.
const maxToolTurns = 5

// fallbackText is returned when the loop ends without the model producing
// any prose.
const fallbackText = "I processed that, but I don't have a text response."

// ToolCall records one executed (or attempted) tool invocation for the
// transcript.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Args      map[string]any `json:"args,omitempty"`
	Status    string         `json:"status"` // pending, success, error
	Result    any            `json:"result,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notifier receives tool-call lifecycle events, once when a call starts and
// once when it finishes. Implementations must be fast; the loop blocks on
// them.
type Notifier interface {
	ToolCallUpdated(call ToolCall)
}

type noopNotifier struct{}

func (noopNotifier) ToolCallUpdated(ToolCall) {}

// ModelClient is the slice of the Gemini client the orchestrator needs.
type ModelClient interface {
	GenerateContent(ctx context.Context, req gemini.GenerateRequest) (*gemini.GenerateResponse, error)
}

// ChatStore persists the conversation transcript.
type ChatStore interface {
	AppendChatMessage(m storage.ChatMessage) error
	ListChatMessages() ([]storage.ChatMessage, error)
}

// Orchestrator drives one conversation against one dataset session.
type Orchestrator struct {
	model    ModelClient
	registry *tools.Registry
	chats    ChatStore
	notifier Notifier
}

// New builds an orchestrator. A nil notifier is replaced with a no-op.
func New(model ModelClient, registry *tools.Registry, chats ChatStore, notifier Notifier) *Orchestrator {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Orchestrator{model: model, registry: registry, chats: chats, notifier: notifier}
}

// Reply holds the outcome of one user message.
type Reply struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

// HandleMessage appends the user message to the transcript, runs the
// model/tool loop against the given session, persists the model's answer,
// and returns it.
func (o *Orchestrator) HandleMessage(ctx context.Context, sess *tools.Session, text string) (Reply, error) {
	history, err := o.chats.ListChatMessages()
	if err != nil {
		return Reply{}, fmt.Errorf("loading chat history: %w", err)
	}

	contents := contentsFromHistory(history)
	contents = append(contents, gemini.Content{
		Role:  "user",
		Parts: []gemini.Part{{Text: text}},
	})
	if err := o.chats.AppendChatMessage(storage.ChatMessage{
		ID:        uuid.NewString(),
		Role:      "user",
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return Reply{}, fmt.Errorf("persisting user message: %w", err)
	}

	req := gemini.GenerateRequest{
		Contents:          contents,
		Tools:             []gemini.Tool{{FunctionDeclarations: o.registry.Declarations()}},
		SystemInstruction: &gemini.Content{Parts: []gemini.Part{{Text: systemPrompt}}},
	}

	reply, err := o.runLoop(ctx, sess, req)
	if err != nil {
		return Reply{}, err
	}

	callsJSON := ""
	if len(reply.ToolCalls) > 0 {
		raw, err := json.Marshal(reply.ToolCalls)
		if err != nil {
			return Reply{}, fmt.Errorf("encoding tool calls: %w", err)
		}
		callsJSON = string(raw)
	}
	if err := o.chats.AppendChatMessage(storage.ChatMessage{
		ID:            uuid.NewString(),
		Role:          "model",
		Text:          reply.Text,
		ToolCallsJSON: callsJSON,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		return Reply{}, fmt.Errorf("persisting model message: %w", err)
	}
	return reply, nil
}

func (o *Orchestrator) runLoop(ctx context.Context, sess *tools.Session, req gemini.GenerateRequest) (Reply, error) {
	var reply Reply

	for turn := 0; turn < maxToolTurns; turn++ {
		resp, err := o.model.GenerateContent(ctx, req)
		if err != nil {
			return Reply{}, fmt.Errorf("model turn %d: %w", turn+1, err)
		}

		if text := resp.Text(); text != "" {
			reply.Text = text
		}

		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			break
		}

		modelContent := gemini.Content{Role: "model"}
		for i := range calls {
			modelContent.Parts = append(modelContent.Parts, gemini.Part{FunctionCall: &calls[i]})
		}

		// Execute in the order requested; each result goes back as one
		// functionResponse part of a single follow-up message.
		followUp := gemini.Content{Role: "user"}
		for _, fc := range calls {
			call := ToolCall{
				ID:        uuid.NewString(),
				Name:      fc.Name,
				Args:      fc.Args,
				Status:    "pending",
				Timestamp: time.Now().UTC(),
			}
			o.notifier.ToolCallUpdated(call)

			out := o.registry.Dispatch(ctx, sess, fc.Name, fc.Args)
			if _, failed := out["error"]; failed {
				call.Status = "error"
			} else {
				call.Status = "success"
			}
			call.Result = out
			o.notifier.ToolCallUpdated(call)
			reply.ToolCalls = append(reply.ToolCalls, call)

			slog.Debug("tool call finished", "tool", fc.Name, "status", call.Status)
			followUp.Parts = append(followUp.Parts, gemini.Part{
				FunctionResponse: &gemini.FunctionResponse{Name: fc.Name, Response: out},
			})
		}

		req.Contents = append(req.Contents, modelContent, followUp)
	}

	if reply.Text == "" {
		reply.Text = fallbackText
	}
	return reply, nil
}

// contentsFromHistory replays the persisted transcript as model-visible
// turns. Tool call details are kept only in storage; the model sees the
// prose either side of them.
func contentsFromHistory(history []storage.ChatMessage) []gemini.Content {
	contents := make([]gemini.Content, 0, len(history))
	for _, m := range history {
		if m.Text == "" {
			continue
		}
		contents = append(contents, gemini.Content{
			Role:  m.Role,
			Parts: []gemini.Part{{Text: m.Text}},
		})
	}
	return contents
}
