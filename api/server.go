// Package api exposes the upload and chat workflows over HTTP and WebSocket.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/fabfab/fund-agent/chat"
	"github.com/fabfab/fund-agent/embeddings"
	"github.com/fabfab/fund-agent/factsheet"
	"github.com/fabfab/fund-agent/index"
	"github.com/fabfab/fund-agent/ingestion"
	"github.com/fabfab/fund-agent/llm"
	"github.com/fabfab/fund-agent/session"
)

const maxUploadBytes = 64 << 20

// Server wires the ingestion, index, and chat services behind HTTP handlers.
type Server struct {
	ingestor    *ingestion.Ingestor
	store       index.Store
	resolver    *session.Resolver
	records     session.RecordStore
	engine      *chat.Engine
	searchLimit int
	logger      *log.Logger
	handler     http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type uploadResponse struct {
	FundName     string             `json:"fund_name"`
	FundOverview []factsheet.Answer `json:"fund_overview"`
}

// New constructs a Server over already-wired services.
func New(
	ingestor *ingestion.Ingestor,
	store index.Store,
	resolver *session.Resolver,
	records session.RecordStore,
	engine *chat.Engine,
	searchLimit int,
	logger *log.Logger,
) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		ingestor:    ingestor,
		store:       store,
		resolver:    resolver,
		records:     records,
		engine:      engine,
		searchLimit: searchLimit,
		logger:      logger,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/ws_chat", s.handleChat)
	return allowAllCORS(mux)
}

// allowAllCORS mirrors the permissive policy of the original deployment,
// where the browser UI is served from a different origin.
func allowAllCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

// handleUpload ingests the multipart payload, builds or extends the session's
// collection, and returns the extracted fact sheet.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeClientError(w, fmt.Errorf("parse multipart form: %w", err))
		return
	}

	sessionID := strings.TrimSpace(r.FormValue("session_id"))
	if sessionID == "" {
		s.writeClientError(w, fmt.Errorf("session_id is required"))
		return
	}

	settings, err := session.ParseSettings([]byte(r.FormValue("settings")))
	if err != nil {
		s.writeClientError(w, err)
		return
	}

	sess, err := s.resolver.Resolve(settings)
	if err != nil {
		s.writeClientError(w, err)
		return
	}

	files, err := readUploadFiles(r)
	if err != nil {
		s.writeClientError(w, err)
		return
	}

	docs, err := s.ingestor.Ingest(files)
	if err != nil {
		// Parser detail can name filesystem paths and library internals;
		// the client only learns the upload could not be processed.
		s.writeInternalError(w, fmt.Errorf("ingest documents: %w", err))
		return
	}

	ctx := r.Context()

	handle, err := s.store.Build(ctx, sessionID, docs, sess.Embedder)
	if err != nil {
		s.writeInternalError(w, fmt.Errorf("build index: %w", err))
		return
	}

	sheet, err := factsheet.Extract(ctx, handle, sess.LLM, s.searchLimit)
	if err != nil {
		s.writeInternalError(w, fmt.Errorf("extract fact sheet: %w", err))
		return
	}

	record := session.Record{
		ID:                sessionID,
		FundName:          sheet.FundName,
		LLMProvider:       sess.LLMProvider,
		EmbeddingProvider: sess.EmbeddingProvider,
		Documents:         len(files),
	}
	if err := s.records.Put(ctx, record); err != nil {
		// The fact sheet is already built; losing the record only costs the
		// fund-name fallback on a later handshake.
		s.logger.Printf("store session record %s: %v", sessionID, err)
	}

	s.logger.Printf("indexed session %s: %d files, %d chunks, fund %q", sessionID, len(files), len(docs), sheet.FundName)
	s.writeJSON(w, http.StatusOK, uploadResponse{FundName: sheet.FundName, FundOverview: sheet.Answers})
}

func readUploadFiles(r *http.Request) ([]ingestion.File, error) {
	if r.MultipartForm == nil || len(r.MultipartForm.File["files"]) == 0 {
		return nil, fmt.Errorf("at least one file is required")
	}

	headers := r.MultipartForm.File["files"]
	files := make([]ingestion.File, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload %q: %w", header.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read upload %q: %w", header.Filename, err)
		}
		files = append(files, ingestion.File{Name: header.Filename, Data: data})
	}
	return files, nil
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: fmt.Sprintf("method not allowed, use %s", allowed)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

// writeClientError surfaces input faults with their specific message.
func (s *Server) writeClientError(w http.ResponseWriter, err error) {
	s.logger.Printf("api client error: %v", err)
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}

// writeInternalError logs the full failure and returns an opaque message so
// backend detail never reaches the client.
func (s *Server) writeInternalError(w http.ResponseWriter, err error) {
	s.logger.Printf("api internal error: %v", err)
	s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

// isClientFault classifies errors from settings parsing and provider
// resolution, which carry messages safe to echo.
func isClientFault(err error) bool {
	var settingsErr *session.SettingsError
	var llmParamsErr *llm.ParamsError
	var embParamsErr *embeddings.ParamsError
	return errors.As(err, &settingsErr) ||
		errors.As(err, &llmParamsErr) ||
		errors.As(err, &embParamsErr) ||
		errors.Is(err, llm.ErrUnknownProvider) ||
		errors.Is(err, embeddings.ErrUnknownProvider)
}
