package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fabfab/fund-agent/api"
	"github.com/fabfab/fund-agent/chat"
	"github.com/fabfab/fund-agent/config"
	"github.com/fabfab/fund-agent/embeddings"
	"github.com/fabfab/fund-agent/index"
	"github.com/fabfab/fund-agent/ingestion"
	"github.com/fabfab/fund-agent/llm"
	"github.com/fabfab/fund-agent/session"
)

const defaultAskSettings = `{
	"llm": "ollama",
	"llms": {"ollama": {"modelName": "llama3"}},
	"embedding": "ollama",
	"embeddings": {"ollama": {"modelName": "nomic-embed-text"}}
}`

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "serve":
		serveCmd(cfg, logger, os.Args[2:])
	case "ask":
		askCmd(cfg, logger, os.Args[2:])
	case "drop":
		dropCmd(cfg, logger, os.Args[2:])
	default:
		logger.Printf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func serveCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", cfg.Addr, "listen address")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse serve flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("vector store setup: %v", err)
	}
	defer closeStore()

	records, err := buildRecordStore(cfg)
	if err != nil {
		logger.Fatalf("session store setup: %v", err)
	}
	defer records.Close()

	resolver := buildResolver(cfg)
	ingestor := ingestion.NewIngestor(cfg.ChunkSize, cfg.ChunkOverlap)
	engine := chat.NewEngine(store, resolver, records, chat.Config{
		SearchLimit:  cfg.SearchLimit,
		MemoryBudget: cfg.MemoryBudget,
	}, logger)

	server := &http.Server{
		Addr:              *addr,
		Handler:           api.New(ingestor, store, resolver, records, engine, cfg.SearchLimit, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("server shutdown: %v", err)
		}
	}()

	logger.Printf("fund-agent listening on %s (vector backend %s, session store %s)", *addr, cfg.VectorBackend, cfg.SessionStore)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("serve: %v", err)
	}
}

func askCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("ask", flag.ExitOnError)
	sessionID := flags.String("session", "", "session id of an indexed upload")
	question := flags.String("question", "", "question to ask against the session")
	settingsJSON := flags.String("settings", defaultAskSettings, "session settings JSON")
	limit := flags.Int("limit", cfg.SearchLimit, "number of context passages to retrieve")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse ask flags: %v", err)
	}

	if strings.TrimSpace(*sessionID) == "" || strings.TrimSpace(*question) == "" {
		logger.Fatalf("ask requires -session and -question")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("vector store setup: %v", err)
	}
	defer closeStore()

	settings, err := session.ParseSettings([]byte(*settingsJSON))
	if err != nil {
		logger.Fatalf("parse settings: %v", err)
	}

	sess, err := buildResolver(cfg).Resolve(settings)
	if err != nil {
		logger.Fatalf("resolve session: %v", err)
	}

	handle, err := store.Open(ctx, *sessionID, sess.Embedder)
	if err != nil {
		logger.Fatalf("open session index: %v", err)
	}

	answer, err := index.Answer(ctx, handle, sess.LLM, *question, *limit)
	if err != nil {
		logger.Fatalf("answer: %v", err)
	}

	fmt.Println(answer)
}

func dropCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("drop", flag.ExitOnError)
	sessionID := flags.String("session", "", "session id to remove")
	confirmed := flags.Bool("confirm", false, "skip confirmation prompt")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse drop flags: %v", err)
	}

	if strings.TrimSpace(*sessionID) == "" {
		logger.Fatalf("drop requires -session")
	}

	if !*confirmed {
		fmt.Printf("This will permanently delete the indexed data for session %q. Continue? [y/N]: ", *sessionID)
		var answer string
		if _, err := fmt.Scanln(&answer); err != nil {
			logger.Println("drop aborted")
			return
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			logger.Println("drop aborted")
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("vector store setup: %v", err)
	}
	defer closeStore()

	if err := store.Drop(ctx, *sessionID); err != nil {
		logger.Fatalf("drop session: %v", err)
	}

	records, err := buildRecordStore(cfg)
	if err != nil {
		logger.Fatalf("session store setup: %v", err)
	}
	defer records.Close()
	if err := records.Delete(ctx, *sessionID); err != nil {
		logger.Printf("delete session record: %v", err)
	}

	logger.Printf("session %s removed", *sessionID)
}

func buildResolver(cfg config.Config) *session.Resolver {
	llms := llm.NewRegistry()
	llm.RegisterOllama(llms, cfg.OllamaHost)
	llm.RegisterOpenAI(llms, cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)

	embedders := embeddings.NewRegistry()
	embeddings.RegisterOllama(embedders, cfg.OllamaHost, cfg.EmbeddingDimension)
	embeddings.RegisterOpenAI(embedders, cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbeddingDimension)

	return session.NewResolver(llms, embedders)
}

func buildStore(ctx context.Context, cfg config.Config) (index.Store, func(), error) {
	switch cfg.VectorBackend {
	case config.BackendQdrant:
		store, err := index.NewQdrantStore(index.QdrantConfig{URL: cfg.QdrantURL, APIKey: cfg.QdrantAPIKey})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil

	case config.BackendPostgres:
		pool, err := index.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return index.NewPostgresStore(pool), pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown vector backend: %q", cfg.VectorBackend)
	}
}

func buildRecordStore(cfg config.Config) (session.RecordStore, error) {
	switch cfg.SessionStore {
	case config.SessionStoreMemory:
		return session.NewMemoryRecordStore(), nil

	case config.SessionStoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		return session.NewRedisRecordStore(client, cfg.SessionTTL), nil

	default:
		return nil, fmt.Errorf("unknown session store: %q", cfg.SessionStore)
	}
}

func printUsage() {
	fmt.Println("Usage: fund-agent <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  serve    Run the upload and chat HTTP server")
	fmt.Println("  ask      Ask a one-shot question against an indexed session")
	fmt.Println("  drop     Remove a session's indexed data")
}
