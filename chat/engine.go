package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/fabfab/fund-agent/index"
	"github.com/fabfab/fund-agent/llm"
	"github.com/fabfab/fund-agent/session"
)

// fallbackErrorMessage is the only failure text a client ever sees; backend
// detail stays in the server log.
const fallbackErrorMessage = "Sorry, something went wrong. Try again."

const systemPromptTemplate = "You are an expert Mutual Fund analyst for a bank, and you provide answers to your boss " +
	"about whether the bank should purchase the fund named %s. Only base your answer on the context information. " +
	"If the information is not provided, just say you don't know."

// Config tunes per-conversation behavior.
type Config struct {
	// SearchLimit is the retrieval width per turn; zero means
	// index.DefaultSearchLimit.
	SearchLimit int

	// MemoryBudget is the history window size in runes; zero means
	// DefaultMemoryBudget.
	MemoryBudget int
}

// Engine opens conversations over the shared index store. One engine serves
// every channel; each Handshake yields an independent Conversation.
type Engine struct {
	store    index.Store
	resolver *session.Resolver
	records  session.RecordStore
	cfg      Config
	logger   *log.Logger
}

func NewEngine(store index.Store, resolver *session.Resolver, records session.RecordStore, cfg Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}

	return &Engine{
		store:    store,
		resolver: resolver,
		records:  records,
		cfg:      cfg,
		logger:   logger,
	}
}

// Handshake authenticates a channel: the session id names the collection,
// the settings bind the providers for the whole conversation, and the
// optional history seeds the memory window. Mid-conversation provider
// changes are not supported; a client wanting different settings opens a new
// channel.
type Handshake struct {
	SessionID string
	Settings  session.Settings

	// FundName may be omitted; the engine then falls back to the name
	// recorded at upload time.
	FundName string

	// History is ordered [userText, assistantText] pairs from a prior
	// conversation.
	History [][2]string
}

// Handshake resolves the session and rehydrates its conversation state.
// index.ErrSessionNotFound passes through so the transport can surface an
// error frame and keep the channel open for another attempt.
func (e *Engine) Handshake(ctx context.Context, hs Handshake) (*Conversation, error) {
	sess, err := e.resolver.Resolve(hs.Settings)
	if err != nil {
		return nil, err
	}

	handle, err := e.store.Open(ctx, hs.SessionID, sess.Embedder)
	if err != nil {
		return nil, err
	}

	fundName := strings.TrimSpace(hs.FundName)
	if fundName == "" && e.records != nil {
		record, err := e.records.Get(ctx, hs.SessionID)
		if err == nil {
			fundName = record.FundName
		} else if !errors.Is(err, session.ErrRecordNotFound) {
			return nil, fmt.Errorf("load session record: %w", err)
		}
	}
	if fundName == "" {
		fundName = "in the uploaded documents"
	}

	window := NewWindow(e.cfg.MemoryBudget)
	for _, pair := range hs.History {
		window.Append(
			llm.Message{Role: llm.RoleUser, Content: pair[0]},
			llm.Message{Role: llm.RoleAssistant, Content: pair[1]},
		)
	}

	// The execution path is fixed here, once: providers that declare
	// streaming and implement StreamClient stream token fragments, everyone
	// else answers single-shot.
	var streamer llm.StreamClient
	if sess.Streaming {
		if sc, ok := sess.LLM.(llm.StreamClient); ok {
			streamer = sc
		}
	}

	return &Conversation{
		sessionID:    hs.SessionID,
		fundName:     fundName,
		systemPrompt: fmt.Sprintf(systemPromptTemplate, fundName),
		handle:       handle,
		client:       sess.LLM,
		streamer:     streamer,
		window:       window,
		searchLimit:  e.cfg.SearchLimit,
		logger:       e.logger,
	}, nil
}

// Conversation is the state of one authenticated chat channel. It references
// the shared index handle but exclusively owns its memory window. Turns are
// strictly sequential; the mutex enforces that a second turn cannot
// interleave with an unfinished one.
type Conversation struct {
	mu sync.Mutex

	sessionID    string
	fundName     string
	systemPrompt string
	handle       index.Handle
	client       llm.Client
	streamer     llm.StreamClient
	window       *Window
	searchLimit  int
	logger       *log.Logger
}

func (c *Conversation) SessionID() string {
	return c.sessionID
}

func (c *Conversation) FundName() string {
	return c.fundName
}

// emitError marks a frame-delivery failure (client gone). It aborts the turn
// without any further frames, as opposed to backend failures which convert to
// a single error frame.
type emitError struct {
	err error
}

func (e *emitError) Error() string {
	return e.err.Error()
}

// Turn runs one user message through retrieval and generation, emitting
// start, the user echo, bot fragments, and a terminal end frame. Exactly one
// of end or error terminates the turn. The returned error is non-nil only
// when frames can no longer be delivered.
func (c *Conversation) Turn(ctx context.Context, query string, emit func(Frame) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	query = strings.TrimSpace(query)
	if query == "" {
		return emit(ErrorFrame("Please enter a question."))
	}

	if err := emit(StartFrame()); err != nil {
		return err
	}
	if err := emit(StreamFrame(SenderYou, query)); err != nil {
		return err
	}

	answer, err := c.generate(ctx, query, emit)
	if err != nil {
		var ee *emitError
		if errors.As(err, &ee) {
			return ee.err
		}

		c.logger.Printf("chat turn failed (session %s): %v", c.sessionID, err)
		return emit(ErrorFrame(fallbackErrorMessage))
	}

	if err := emit(EndFrame()); err != nil {
		return err
	}

	c.window.Append(
		llm.Message{Role: llm.RoleUser, Content: query},
		llm.Message{Role: llm.RoleAssistant, Content: answer},
	)
	return nil
}

func (c *Conversation) generate(ctx context.Context, query string, emit func(Frame) error) (string, error) {
	passages, err := c.handle.Search(ctx, query, c.searchLimit)
	if err != nil {
		return "", err
	}

	history := c.window.Messages()
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: c.systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: index.GroundedPrompt(query, passages)})

	if c.streamer != nil {
		builder := &strings.Builder{}
		err := c.streamer.GenerateStream(ctx, messages, func(chunk string) error {
			if chunk == "" {
				return nil
			}
			builder.WriteString(chunk)
			if err := emit(StreamFrame(SenderBot, chunk)); err != nil {
				return &emitError{err: err}
			}
			return nil
		})
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(builder.String()), nil
	}

	answer, err := c.client.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("llm generate: %w", err)
	}
	answer = strings.TrimSpace(answer)

	if err := emit(StreamFrame(SenderBot, answer)); err != nil {
		return "", &emitError{err: err}
	}
	return answer, nil
}
