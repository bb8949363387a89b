// Package chat runs one conversational turn: condense the follow-up, retrieve, answer, commit.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docchat/internal/ai"
	"docchat/internal/errs"
	"docchat/internal/index"
	"docchat/internal/model"
	"docchat/internal/retriever"
)

const EmptyAnswer = "The model returned an empty response."

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrNoIndex      = errors.New("no documents have been indexed for this session")
)

// Conversation is the session state a turn reads and, on success, appends to.
type Conversation interface {
	History() []model.ChatTurn
	Index() *index.Index
	Commit(user, assistant model.ChatTurn) ([]model.ChatTurn, error)
	SetState(State)
}

type Options struct {
	TopK            int
	MaxContextChars int
	Temperature     float64
	SystemPrompt    string
	// MaxHistoryTurns bounds the history placed in prompts; 0 keeps all of it.
	MaxHistoryTurns int
}

type TurnResult struct {
	Answer         string
	CondensedQuery string
	Chunks         []index.ScoredChunk
	Turns          []model.ChatTurn
}

type Engine struct {
	completer ai.Completer
	retriever *retriever.Retriever
	opts      Options
}

func NewEngine(completer ai.Completer, r *retriever.Retriever, opts Options) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = 4
	}
	return &Engine{completer: completer, retriever: r, opts: opts}
}

// Chat answers message against the conversation's index. The user and assistant
// turns are committed together, and only when every stage succeeded.
func (e *Engine) Chat(ctx context.Context, conv Conversation, message string) (*TurnResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, errs.New(errs.ErrGeneration, "input", false, ErrEmptyMessage)
	}
	idx := conv.Index()
	if idx == nil {
		return nil, errs.New(errs.ErrGeneration, "input", false, ErrNoIndex)
	}

	history := e.window(conv.History())
	defer conv.SetState(StateIdle)

	conv.SetState(StateAwaitingCondense)
	condensed, err := e.condense(ctx, history, message)
	if err != nil {
		return nil, errs.Wrap(errs.ErrGeneration, "condense", err)
	}

	conv.SetState(StateAwaitingCompletion)
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrGeneration, "retrieve", err)
	}
	res, err := e.retriever.Retrieve(ctx, idx, condensed, e.opts.TopK, e.opts.MaxContextChars)
	if err != nil {
		return nil, errs.Wrap(errs.ErrGeneration, "retrieve", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrGeneration, "answer", err)
	}
	prompt := buildAnswerPrompt(res.Context, history, message)
	answer, err := e.completer.Complete(ctx, prompt, e.opts.Temperature, e.opts.SystemPrompt)
	if err != nil {
		return nil, errs.Wrap(errs.ErrGeneration, "answer", completionError("answer", err))
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = EmptyAnswer
	}

	now := time.Now()
	turns, err := conv.Commit(
		model.ChatTurn{Role: model.RoleUser, Content: message, CreatedAt: now},
		model.ChatTurn{Role: model.RoleAssistant, Content: answer, CreatedAt: now},
	)
	if err != nil {
		return nil, errs.Wrap(errs.ErrGeneration, "commit", err)
	}

	return &TurnResult{
		Answer:         answer,
		CondensedQuery: condensed,
		Chunks:         res.Chunks,
		Turns:          turns,
	}, nil
}

// condense rewrites message into a standalone question. Without a prior user
// turn there is nothing to resolve against and the message is used as is.
func (e *Engine) condense(ctx context.Context, history []model.ChatTurn, message string) (string, error) {
	if !hasUserTurn(history) {
		return message, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	prompt := fmt.Sprintf(condenseTemplate, formatHistory(history), message)
	out, err := e.completer.Complete(ctx, prompt, 0, "")
	if err != nil {
		return "", completionError("condense", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return message, nil
	}
	return out, nil
}

func (e *Engine) window(history []model.ChatTurn) []model.ChatTurn {
	if e.opts.MaxHistoryTurns > 0 && len(history) > e.opts.MaxHistoryTurns {
		return history[len(history)-e.opts.MaxHistoryTurns:]
	}
	return history
}

func completionError(stage string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return errs.New(errs.ErrCompletion, stage, ai.IsTransient(err), err)
}

func hasUserTurn(history []model.ChatTurn) bool {
	for _, t := range history {
		if t.Role == model.RoleUser {
			return true
		}
	}
	return false
}
