package chat_test

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/fabfab/fund-agent/chat"
	"github.com/fabfab/fund-agent/embeddings"
	"github.com/fabfab/fund-agent/index"
	"github.com/fabfab/fund-agent/ingestion"
	"github.com/fabfab/fund-agent/llm"
	"github.com/fabfab/fund-agent/session"
)

type stubHandle struct {
	passages  []index.Passage
	searchErr error
}

func (stubHandle) SessionID() string { return "s1" }

func (s stubHandle) Search(ctx context.Context, query string, limit int) ([]index.Passage, error) {
	return s.passages, s.searchErr
}

type stubStore struct {
	handle  index.Handle
	openErr error
}

func (s stubStore) Build(ctx context.Context, sessionID string, docs []ingestion.Document, embedder embeddings.Embedder) (index.Handle, error) {
	return s.handle, nil
}

func (s stubStore) Open(ctx context.Context, sessionID string, embedder embeddings.Embedder) (index.Handle, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.handle, nil
}

func (stubStore) Drop(ctx context.Context, sessionID string) error { return nil }

var _ index.Store = stubStore{}

// streamingLLM emits the reply as fixed-size fragments.
type streamingLLM struct {
	chunks   []string
	err      error
	lastSeen []llm.Message
}

func (s *streamingLLM) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	s.lastSeen = messages
	return strings.Join(s.chunks, ""), s.err
}

func (s *streamingLLM) GenerateStream(ctx context.Context, messages []llm.Message, fn func(string) error) error {
	s.lastSeen = messages
	if s.err != nil {
		return s.err
	}
	for _, chunk := range s.chunks {
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return nil
}

var _ llm.StreamClient = (*streamingLLM)(nil)

type singleShotLLM struct {
	reply string
	err   error
}

func (s *singleShotLLM) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	return s.reply, s.err
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

func testSettings() session.Settings {
	return session.Settings{
		LLMProvider:       "stub",
		LLMParams:         llm.Params{},
		EmbeddingProvider: "stub",
		EmbeddingParams:   llm.Params{},
	}
}

func newTestEngine(t *testing.T, store index.Store, client llm.Client, streaming bool, records session.RecordStore) *chat.Engine {
	t.Helper()

	llms := llm.NewRegistry()
	llms.Register("stub", llm.Factory{
		Streaming: streaming,
		New: func(llm.Params) (llm.Client, error) {
			return client, nil
		},
	})
	embedders := embeddings.NewRegistry()
	embedders.Register("stub", func(llm.Params) (embeddings.Embedder, error) {
		return stubEmbedder{}, nil
	})

	logger := log.New(io.Discard, "", 0)
	return chat.NewEngine(store, session.NewResolver(llms, embedders), records, chat.Config{}, logger)
}

type frameRecorder struct {
	frames  []chat.Frame
	failAt  int // emit fails once this many frames have been written; 0 disables
	emitErr error
}

func (r *frameRecorder) emit(frame chat.Frame) error {
	if r.failAt > 0 && len(r.frames) >= r.failAt {
		if r.emitErr == nil {
			r.emitErr = errors.New("client gone")
		}
		return r.emitErr
	}
	r.frames = append(r.frames, frame)
	return nil
}

func TestHandshakeUnknownSessionPassesThrough(t *testing.T) {
	engine := newTestEngine(t, stubStore{openErr: index.ErrSessionNotFound}, &singleShotLLM{}, false, nil)

	conv, err := engine.Handshake(context.Background(), chat.Handshake{
		SessionID: "missing",
		Settings:  testSettings(),
	})
	if !errors.Is(err, index.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if conv != nil {
		t.Fatal("no conversation on failure")
	}
}

func TestHandshakeFallsBackToRecordedFundName(t *testing.T) {
	records := session.NewMemoryRecordStore()
	defer records.Close()
	if err := records.Put(context.Background(), session.Record{ID: "s1", FundName: "Alpha Growth Fund"}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	engine := newTestEngine(t, stubStore{handle: stubHandle{}}, &singleShotLLM{}, false, records)

	conv, err := engine.Handshake(context.Background(), chat.Handshake{
		SessionID: "s1",
		Settings:  testSettings(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.FundName() != "Alpha Growth Fund" {
		t.Fatalf("fund name must come from the upload record, got %q", conv.FundName())
	}
}

func TestHandshakeExplicitFundNameWins(t *testing.T) {
	records := session.NewMemoryRecordStore()
	defer records.Close()
	if err := records.Put(context.Background(), session.Record{ID: "s1", FundName: "Recorded Name"}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	engine := newTestEngine(t, stubStore{handle: stubHandle{}}, &singleShotLLM{}, false, records)

	conv, err := engine.Handshake(context.Background(), chat.Handshake{
		SessionID: "s1",
		Settings:  testSettings(),
		FundName:  "Client Name",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.FundName() != "Client Name" {
		t.Fatalf("client-supplied name must win, got %q", conv.FundName())
	}
}

func TestTurnStreamsFrameSequence(t *testing.T) {
	client := &streamingLLM{chunks: []string{"European ", "equities."}}
	engine := newTestEngine(t, stubStore{handle: stubHandle{
		passages: []index.Passage{{Content: "The fund buys European equities.", Source: "fund.md"}},
	}}, client, true, nil)

	conv, err := engine.Handshake(context.Background(), chat.Handshake{SessionID: "s1", Settings: testSettings()})
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}

	rec := &frameRecorder{}
	if err := conv.Turn(context.Background(), "What does the fund buy?", rec.emit); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []chat.Frame{
		chat.StartFrame(),
		chat.StreamFrame(chat.SenderYou, "What does the fund buy?"),
		chat.StreamFrame(chat.SenderBot, "European "),
		chat.StreamFrame(chat.SenderBot, "equities."),
		chat.EndFrame(),
	}
	if len(rec.frames) != len(want) {
		t.Fatalf("expected %d frames, got %d: %+v", len(want), len(rec.frames), rec.frames)
	}
	for i, frame := range want {
		if rec.frames[i] != frame {
			t.Fatalf("frame %d mismatch: got %+v, want %+v", i, rec.frames[i], frame)
		}
	}
}

func TestTurnSingleShotEmitsOneFragment(t *testing.T) {
	client := &singleShotLLM{reply: "  European equities.  "}
	engine := newTestEngine(t, stubStore{handle: stubHandle{}}, client, false, nil)

	conv, err := engine.Handshake(context.Background(), chat.Handshake{SessionID: "s1", Settings: testSettings()})
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}

	rec := &frameRecorder{}
	if err := conv.Turn(context.Background(), "q", rec.emit); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rec.frames) != 4 {
		t.Fatalf("expected start, echo, answer, end; got %+v", rec.frames)
	}
	answer := rec.frames[2]
	if answer.Sender != chat.SenderBot || answer.Type != chat.FrameStream || answer.Message != "European equities." {
		t.Fatalf("unexpected answer frame: %+v", answer)
	}
}

func TestTurnEmptyQueryEmitsSingleErrorFrame(t *testing.T) {
	engine := newTestEngine(t, stubStore{handle: stubHandle{}}, &singleShotLLM{reply: "x"}, false, nil)
	conv, err := engine.Handshake(context.Background(), chat.Handshake{SessionID: "s1", Settings: testSettings()})
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}

	rec := &frameRecorder{}
	if err := conv.Turn(context.Background(), "   ", rec.emit); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.frames) != 1 || rec.frames[0].Type != chat.FrameError {
		t.Fatalf("expected a single error frame, got %+v", rec.frames)
	}
	if rec.frames[0].Message != "Please enter a question." {
		t.Fatalf("unexpected message: %q", rec.frames[0].Message)
	}
}

func TestTurnBackendFailureBecomesErrorFrame(t *testing.T) {
	client := &singleShotLLM{err: errors.New("model unavailable")}
	engine := newTestEngine(t, stubStore{handle: stubHandle{}}, client, false, nil)
	conv, err := engine.Handshake(context.Background(), chat.Handshake{SessionID: "s1", Settings: testSettings()})
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}

	rec := &frameRecorder{}
	if err := conv.Turn(context.Background(), "q", rec.emit); err != nil {
		t.Fatalf("backend failures must not close the channel: %v", err)
	}

	last := rec.frames[len(rec.frames)-1]
	if last.Type != chat.FrameError {
		t.Fatalf("turn must terminate with an error frame, got %+v", last)
	}
	if last.Message != "Sorry, something went wrong. Try again." {
		t.Fatalf("backend detail must not leak, got %q", last.Message)
	}
	for _, frame := range rec.frames[:len(rec.frames)-1] {
		if frame.Type == chat.FrameEnd || frame.Type == chat.FrameError {
			t.Fatalf("only one terminal frame allowed, got %+v", rec.frames)
		}
	}
}

func TestTurnEmitFailureAbortsWithoutMoreFrames(t *testing.T) {
	client := &streamingLLM{chunks: []string{"one", "two", "three"}}
	engine := newTestEngine(t, stubStore{handle: stubHandle{}}, client, true, nil)
	conv, err := engine.Handshake(context.Background(), chat.Handshake{SessionID: "s1", Settings: testSettings()})
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}

	// Allow start, echo, and the first fragment; fail on the second.
	rec := &frameRecorder{failAt: 3}
	turnErr := conv.Turn(context.Background(), "q", rec.emit)
	if turnErr == nil {
		t.Fatal("a dead client must surface as a turn error")
	}
	if len(rec.frames) != 3 {
		t.Fatalf("no frames may follow a delivery failure, got %+v", rec.frames)
	}
}

func TestTurnUpdatesMemoryWindow(t *testing.T) {
	first := &streamingLLM{chunks: []string{"blue"}}
	engine := newTestEngine(t, stubStore{handle: stubHandle{}}, first, true, nil)
	conv, err := engine.Handshake(context.Background(), chat.Handshake{SessionID: "s1", Settings: testSettings()})
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}

	rec := &frameRecorder{}
	if err := conv.Turn(context.Background(), "favorite color?", rec.emit); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if err := conv.Turn(context.Background(), "why?", rec.emit); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	var sawHistory bool
	for _, msg := range first.lastSeen {
		if msg.Role == llm.RoleAssistant && msg.Content == "blue" {
			sawHistory = true
		}
	}
	if !sawHistory {
		t.Fatal("the previous turn's answer must appear in the next prompt")
	}
}

func TestHandshakeSeedsHistory(t *testing.T) {
	client := &streamingLLM{chunks: []string{"ok"}}
	engine := newTestEngine(t, stubStore{handle: stubHandle{}}, client, true, nil)

	conv, err := engine.Handshake(context.Background(), chat.Handshake{
		SessionID: "s1",
		Settings:  testSettings(),
		History:   [][2]string{{"earlier question", "earlier answer"}},
	})
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}

	rec := &frameRecorder{}
	if err := conv.Turn(context.Background(), "follow-up", rec.emit); err != nil {
		t.Fatalf("turn: %v", err)
	}

	var sawSeed bool
	for _, msg := range client.lastSeen {
		if msg.Content == "earlier answer" {
			sawSeed = true
		}
	}
	if !sawSeed {
		t.Fatal("handshake history must seed the prompt window")
	}
}
