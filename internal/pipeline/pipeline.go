package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/coachloop/coachloop/internal/coach"
	"github.com/coachloop/coachloop/internal/event"
	"github.com/coachloop/coachloop/internal/store"
	"github.com/coachloop/coachloop/internal/toolrun"
)

// Pipeline turns one user turn into the envelope sequence of a coaching
// response: stream.open, message deltas, optional cards and tool requests,
// message.final, stream.done. Tool requests are only ever emitted, never
// executed here; execution belongs to the client through the handshake
// endpoints.
type Pipeline struct {
	chatModel    model.ToolCallingChatModel
	sessions     *store.SessionStore
	messages     *store.MessageStore
	coaches      *coach.Resolver
	catalog      *toolrun.Catalog
	historyLimit int
	logger       *slog.Logger
}

// New creates a Pipeline.
func New(chatModel model.ToolCallingChatModel, sessions *store.SessionStore, messages *store.MessageStore, coaches *coach.Resolver, catalog *toolrun.Catalog, historyLimit int, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		chatModel:    chatModel,
		sessions:     sessions,
		messages:     messages,
		coaches:      coaches,
		catalog:      catalog,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

// Authorize loads the session and verifies the caller owns it. Handlers call
// this before the response is committed so auth failures surface as plain
// HTTP statuses instead of stream errors.
func (p *Pipeline) Authorize(ctx context.Context, sessionID, userID string) (*store.Session, error) {
	return p.sessions.GetOwned(ctx, sessionID, userID)
}

// Run produces the envelope sequence for one turn. Any unrecoverable failure
// ends the stream with a single error envelope; partial assistant text is
// discarded, not persisted.
func (p *Pipeline) Run(ctx context.Context, sess *store.Session, userText string, seq *event.Sequencer, emit func(event.Envelope) bool) {
	blueprint := p.coaches.Resolve(sess.CoachID)

	userMsg, err := p.messages.Append(ctx, sess.ID, store.RoleUser, userText, nil)
	if err != nil {
		p.fail(seq, emit, "persist_failed", fmt.Errorf("persist user message: %w", err))
		return
	}

	if !p.emitPayload(seq, emit, event.TypeStreamOpen, event.StreamOpen{
		SessionID: sess.ID,
		TurnID:    userMsg.ID,
	}) {
		return
	}

	msgs, err := p.buildPrompt(ctx, sess, blueprint)
	if err != nil {
		p.fail(seq, emit, "history_failed", err)
		return
	}

	chatModel := p.chatModel
	if infos := toolInfos(p.catalog); len(infos) > 0 {
		chatModel, err = p.chatModel.WithTools(infos)
		if err != nil {
			p.fail(seq, emit, "model_failed", fmt.Errorf("bind tools: %w", err))
			return
		}
	}

	final, ok := p.streamModel(ctx, chatModel, msgs, seq, emit)
	if !ok {
		return
	}

	for _, card := range detectCards(final.Content) {
		if !p.emitPayload(seq, emit, card.Type, card.Payload) {
			return
		}
	}

	for _, tc := range final.ToolCalls {
		tool, known := p.catalog.Get(tc.Function.Name)
		if !known || tool.Owner != toolrun.OwnerClient {
			p.logger.Warn("model requested unavailable tool", "tool", tc.Function.Name)
			continue
		}
		if !p.emitPayload(seq, emit, event.TypeToolRequest, event.ToolRequest{
			ToolID:    tool.ID,
			SessionID: sess.ID,
			Input:     json.RawMessage(tc.Function.Arguments),
		}) {
			return
		}
	}

	assistantMsg, err := p.messages.Append(ctx, sess.ID, store.RoleAssistant, final.Content, nil)
	if err != nil {
		p.fail(seq, emit, "persist_failed", fmt.Errorf("persist assistant message: %w", err))
		return
	}
	if err := p.sessions.Touch(ctx, sess.ID); err != nil {
		// Advisory metadata only; the turn itself succeeded.
		p.logger.Warn("touch session failed", "session_id", sess.ID, "error", err)
	}

	if !p.emitPayload(seq, emit, event.TypeMessageFinal, event.MessageFinal{
		MessageID: assistantMsg.ID,
		Text:      final.Content,
	}) {
		return
	}
	p.emitPayload(seq, emit, event.TypeStreamDone, event.StreamDone{})

	p.logger.Info("turn completed",
		"session_id", sess.ID, "turn_id", userMsg.ID, "chars", len(final.Content))
}

// streamModel drives the model stream, emitting one message.delta per content
// chunk, and returns the concatenated final message.
func (p *Pipeline) streamModel(ctx context.Context, chatModel model.BaseChatModel, msgs []*schema.Message, seq *event.Sequencer, emit func(event.Envelope) bool) (*schema.Message, bool) {
	sr, err := chatModel.Stream(ctx, msgs)
	if err != nil {
		p.fail(seq, emit, "model_failed", fmt.Errorf("model stream: %w", err))
		return nil, false
	}
	defer sr.Close()

	var chunks []*schema.Message
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				// Consumer cancelled; nothing is persisted.
				return nil, false
			}
			p.fail(seq, emit, "model_failed", fmt.Errorf("model recv: %w", err))
			return nil, false
		}

		chunks = append(chunks, chunk)
		if chunk.Content == "" {
			continue
		}
		if !p.emitPayload(seq, emit, event.TypeMessageDelta, event.MessageDelta{Text: chunk.Content}) {
			return nil, false
		}
	}

	if len(chunks) == 0 {
		p.fail(seq, emit, "model_failed", fmt.Errorf("model produced no output"))
		return nil, false
	}

	final, err := schema.ConcatMessages(chunks)
	if err != nil {
		p.fail(seq, emit, "model_failed", fmt.Errorf("concat model output: %w", err))
		return nil, false
	}
	return final, true
}

func (p *Pipeline) buildPrompt(ctx context.Context, sess *store.Session, blueprint coach.Blueprint) ([]*schema.Message, error) {
	history, err := p.messages.History(ctx, sess.ID, p.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	msgs := make([]*schema.Message, 0, len(history)+1)
	msgs = append(msgs, schema.SystemMessage(blueprint.SystemPrompt()))
	for _, m := range history {
		switch m.Role {
		case store.RoleUser:
			msgs = append(msgs, schema.UserMessage(m.Text))
		case store.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(m.Text, nil))
		}
	}
	return msgs, nil
}

func (p *Pipeline) emitPayload(seq *event.Sequencer, emit func(event.Envelope) bool, t event.Type, payload any) bool {
	e, err := seq.Next(t, payload)
	if err != nil {
		p.logger.Error("build envelope failed", "type", t, "error", err)
		return false
	}
	return emit(e)
}

func (p *Pipeline) fail(seq *event.Sequencer, emit func(event.Envelope) bool, code string, err error) {
	p.logger.Error("pipeline failed", "code", code, "error", err)
	p.emitPayload(seq, emit, event.TypeError, event.ErrorPayload{
		Code:    code,
		Message: err.Error(),
	})
}
