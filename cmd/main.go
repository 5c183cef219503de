package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"health-rag/internal/chunker"
	"health-rag/internal/config"
	"health-rag/internal/embedding"
	"health-rag/internal/helper"
	"health-rag/internal/kb"
	"health-rag/internal/llmservice"
	"health-rag/internal/models"
	"health-rag/internal/parser"
	"health-rag/internal/rag"
	"health-rag/internal/retriever"
	"health-rag/internal/server"
	"health-rag/internal/vectorcache"
)

const (
	configFilePath      = "./configs/config.yaml"
	cacheCollectionName = "chunk_embeddings"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	// .env is optional; it only overrides secrets and endpoints
	_ = godotenv.Load()

	configPath := flag.String("config", configFilePath, "Path to the config file")
	filePath := flag.String("file", "", "Ingest a single document and exit")
	query := flag.String("query", "", "Answer a single question and exit")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if *filePath != "" && *query != "" {
		log.Fatal().Msg("Please provide either a document using the -file flag or a question using the -query flag, but not both")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	log.Debug().Interface("config", cfg.Summary()).Msg("Loaded config")

	ctx := context.Background()
	app, err := buildApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing service")
	}

	switch {
	case *filePath != "":
		ingestFile(ctx, app, *filePath)
	case *query != "":
		answerQuestion(ctx, app, *query)
	default:
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		srv := server.New(cfg, app.kb, app.retriever, app.builder, app.backend)
		if err := srv.Run(addr); err != nil {
			log.Fatal().Err(err).Msg("Server stopped")
		}
	}
}

type app struct {
	cfg       *config.Config
	kb        *kb.Store
	retriever *retriever.Retriever
	builder   *rag.Builder
	backend   *llmservice.Client
}

// buildApp wires the pipeline: embedder (optionally behind the persistent
// cache), knowledge base, retriever, generation client, answer builder. The
// knowledge base is reloaded and re-embedded before anything serves.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := helper.CreateFolder(cfg.Storage.UploadDir); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}

	embedder, err := embedding.NewOllama(&cfg.EmbedLLM, cfg.RAG.BatchSize)
	if err != nil {
		return nil, err
	}
	if cfg.Storage.CacheEnabled {
		embedder, err = withEmbeddingCache(cfg, embedder)
		if err != nil {
			return nil, err
		}
	}

	store := kb.NewStore(cfg.Storage.KBFile, embedder)
	if err := store.Load(ctx); err != nil {
		return nil, err
	}

	backend, err := llmservice.NewOllama(&cfg.GenLLM.LLMConfig)
	if err != nil {
		return nil, err
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if backend.Available(probeCtx) {
		log.Info().Msgf("ollama ready: %s", cfg.GenLLM.Model)
	} else {
		log.Warn().Msgf("ollama model %q not reachable; run: ollama pull %s", cfg.GenLLM.Model, cfg.GenLLM.Model)
	}

	builder := rag.NewBuilder(backend, llmservice.Options{
		Temperature: cfg.GenLLM.Temperature,
		MaxTokens:   cfg.GenLLM.MaxTokens,
		TopP:        cfg.GenLLM.TopP,
		TopK:        cfg.GenLLM.TopK,
		Timeout:     time.Duration(cfg.GenLLM.TimeoutSecs) * time.Second,
	})

	return &app{
		cfg:       cfg,
		kb:        store,
		retriever: retriever.New(embedder),
		builder:   builder,
		backend:   backend,
	}, nil
}

func withEmbeddingCache(cfg *config.Config, embedder *embedding.Embedder) (*embedding.Embedder, error) {
	if err := helper.CreateFolder(cfg.Storage.CacheDir); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	cache, err := vectorcache.Open(cfg.Storage.CacheDir, cacheCollectionName, cfg.EmbedLLM.Model)
	if err != nil {
		return nil, err
	}
	var cached embeddings.Embedder = vectorcache.NewCachingEmbedder(embedder.Client(), cache)
	log.Info().Msgf("embedding cache enabled at %s", cfg.Storage.CacheDir)
	return embedder.WithClient(cached), nil
}

// ingestFile is the one-shot CLI path: parse, chunk, add, print a summary.
func ingestFile(ctx context.Context, app *app, path string) {
	if err := parser.Validate(path, app.cfg.Document.MaxFileSizeMB); err != nil {
		log.Fatal().Err(err).Msg("Error validating document")
	}
	text, pages, err := parser.Extract(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Error parsing document")
	}

	source := filepath.Base(path)
	pageChunks := chunker.New(app.cfg.Document.ChunkSize, app.cfg.Document.MinChunkWords).Split(text)
	if len(pageChunks) == 0 {
		log.Fatal().Msgf("No extractable content in %s", source)
	}
	chunks := make([]models.Chunk, len(pageChunks))
	for i, pc := range pageChunks {
		chunks[i] = models.Chunk{Text: pc.Text, Source: source, Page: pc.Page}
	}

	added, total, err := app.kb.AddDocument(ctx, chunks)
	if err != nil {
		log.Fatal().Err(err).Msg("Error ingesting document")
	}
	helper.PrettyPrint(map[string]any{
		"source":       source,
		"pages":        pages,
		"chunks_added": added,
		"total_chunks": total,
	})
}

// answerQuestion is the one-shot CLI path for a single query.
func answerQuestion(ctx context.Context, app *app, question string) {
	snap := app.kb.Snapshot()

	var answer models.GroundedAnswer
	if len(snap.Chunks) == 0 || !snap.Index.Present() {
		answer = app.builder.EmptyKnowledgeBase()
	} else {
		retrieved, err := app.retriever.Retrieve(ctx, question, snap.Chunks, snap.Index,
			app.cfg.RAG.TopK, app.cfg.RAG.MinScore)
		if err != nil {
			log.Fatal().Err(err).Msg("Error retrieving context")
		}
		answer = app.builder.Answer(ctx, question, retrieved)
	}
	if answer.Failed() {
		log.Fatal().Err(answer.Err).Msg("Error generating answer")
	}

	fmt.Printf("Question:\n%s\n\n", question)
	fmt.Printf("Answer:\n%s\n\n", answer.Answer)
	fmt.Printf("Sources (confidence %.2f):\n", answer.Confidence)
	for _, source := range answer.Sources {
		fmt.Printf("  - %s\n", source)
	}
}
