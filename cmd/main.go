package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"codebase-qa/internal/api"
	"codebase-qa/internal/chromemdb"
	"codebase-qa/internal/config"
	"codebase-qa/internal/db"
	"codebase-qa/internal/embedding"
	"codebase-qa/internal/helper"
	"codebase-qa/internal/llmservice"
	"codebase-qa/internal/parser"
	"codebase-qa/internal/rag"
	"codebase-qa/internal/tui"
)

const (
	configFilePath = "./configs/config.yaml"
	envFilePath    = ".env"
)

// app holds the handles built once at startup.
type app struct {
	cfg     *config.Config
	rag     *rag.RAG
	chromem *chromemdb.VectorDBManager
	closers []io.Closer
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", configFilePath, "Path to the config file")
	filePath := flag.String("file", "", "Path to a document to ingest")
	query := flag.String("query", "", "Question to be answered")
	clearAll := flag.Bool("clear", false, "Delete every document from the collection")
	interactive := flag.Bool("interactive", false, "Ask questions in a terminal UI")
	asJSON := flag.Bool("json", false, "Print the -query response as JSON")
	flag.Parse()

	if *filePath != "" && *query != "" {
		log.Fatal().Msg("Please provide either a document file using the -file flag or a query using the -query flag, but not both")
	}

	if err := config.LoadEnvFile(envFilePath); err != nil {
		log.Warn().Err(err).Msg("Error loading .env file")
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	setLogLevel(cfg.Log.Level)
	for _, w := range cfg.Warnings() {
		log.Warn().Msg(w)
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing")
	}
	m := mode{
		clearAll:    *clearAll,
		filePath:    *filePath,
		query:       *query,
		asJSON:      *asJSON,
		interactive: *interactive,
	}
	if err := execute(ctx, a, m); err != nil {
		log.Fatal().Err(err).Msg("Error running")
	}
}

// mode is the action picked by the command line flags.
type mode struct {
	clearAll    bool
	filePath    string
	query       string
	asJSON      bool
	interactive bool
}

// execute runs m and always closes a afterwards, so the export and client
// cleanup happen before main exits on an error.
func execute(ctx context.Context, a *app, m mode) error {
	defer a.close(ctx)

	switch {
	case m.clearAll:
		return clearDocuments(ctx, a)
	case m.filePath != "":
		return ingestFile(ctx, a, m.filePath)
	case m.query != "":
		return answerQuery(ctx, a, m.query, m.asJSON)
	case m.interactive:
		return runTUI(ctx, a)
	default:
		return serve(a)
	}
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	embedder, err := embedding.NewEmbedder(ctx, &cfg.EmbedLLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	if c, ok := embedder.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	var store rag.Store
	switch cfg.VectorDB.Type {
	case config.VectorDBPGVector:
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return nil, err
		}
		pg, err := db.NewPGVectorStore(ctx, db.NewDB(sqldb, cfg.Database.Debug), cfg.Database.Table, cfg.EmbedLLM.Dimension)
		if err != nil {
			sqldb.Close()
			return nil, err
		}
		a.closers = append(a.closers, pg)
		store = pg
	case config.VectorDBChromem:
		if !cfg.VectorDB.InMemory {
			if err := helper.CreateFolder(cfg.VectorDB.Path); err != nil {
				return nil, err
			}
		}
		m, err := chromemdb.NewVectorDBManager(chromemdb.Options{
			Path:          cfg.VectorDB.Path,
			Collection:    cfg.VectorDB.Collection,
			InMemory:      cfg.VectorDB.InMemory,
			Compress:      cfg.VectorDB.Compress,
			EncryptionKey: cfg.VectorDB.EncryptionKey,
			ExportFile:    cfg.VectorDB.ExportFile,
			Dimension:     cfg.EmbedLLM.Dimension,
			EmbeddingFunc: chromemdb.EmbeddingFuncFrom(embedder),
		})
		if err != nil {
			return nil, err
		}
		a.chromem = m
		store = m
	default:
		return nil, fmt.Errorf("unknown vector db type: %s", cfg.VectorDB.Type)
	}

	generator, err := llmservice.NewGenerator(ctx, &cfg.InferenceLLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize generator: %w", err)
	}
	if c, ok := generator.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	a.rag = rag.NewRAG(store, embedder, generator, cfg)
	log.Info().
		Str("vector_db", cfg.VectorDB.Type).
		Str("collection", cfg.VectorDB.Collection).
		Str("embedder", cfg.EmbedLLM.Provider+"/"+cfg.EmbedLLM.Model).
		Str("llm", cfg.InferenceLLM.Provider).
		Msg("Initialized")
	return a, nil
}

// close exports an in-memory chromem collection when an export file is set,
// then releases the clients.
func (a *app) close(ctx context.Context) {
	if a.chromem != nil && a.cfg.VectorDB.InMemory && a.cfg.VectorDB.ExportFile != "" {
		if err := a.chromem.Export(ctx); err != nil {
			log.Error().Err(err).Msg("Error exporting collection")
		}
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing client")
		}
	}
}

func ingestFile(ctx context.Context, a *app, filePath string) error {
	if !parser.Supported(filePath, parser.Options{OfficeFormats: a.cfg.Parser.OfficeFormats}) {
		return fmt.Errorf("%w: %s", parser.ErrUnsupportedFileType, filePath)
	}
	count, err := a.rag.Ingest(ctx, filePath, filepath.Base(filePath))
	if err != nil {
		return fmt.Errorf("failed to ingest document: %w", err)
	}
	log.Info().Int("chunks", count).Str("file", filePath).Msg("Ingested")
	return nil
}

func answerQuery(ctx context.Context, a *app, query string, asJSON bool) error {
	response, err := a.rag.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query: %w", err)
	}
	if asJSON {
		helper.PrettyPrint(response)
		return nil
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	log.Info().Msg("Sources: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	for _, src := range response.Sources {
		fmt.Printf("- %s (chunk %v, page %v)\n", src.Source, src.ChunkIndex, src.Page)
	}
	fmt.Println()

	log.Info().Bool("degraded", response.Degraded).Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", response.Answer)
	return nil
}

func clearDocuments(ctx context.Context, a *app) error {
	if err := a.rag.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear documents: %w", err)
	}
	log.Info().Str("collection", a.rag.CollectionName()).Msg("All documents cleared")
	return nil
}

func runTUI(ctx context.Context, a *app) error {
	docs, err := a.rag.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	summary := fmt.Sprintf("%d documents in %s", len(docs), a.rag.CollectionName())

	// keep the console logger from drawing over the UI
	level := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.Disabled)
	defer zerolog.SetGlobalLevel(level)
	if _, err := tea.NewProgram(tui.New(ctx, a.rag, summary), tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("error running tui: %w", err)
	}
	return nil
}

func serve(a *app) error {
	if err := helper.CreateFolder(a.cfg.Server.UploadDir); err != nil {
		return fmt.Errorf("failed to create upload folder: %w", err)
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           api.NewHandler(a.rag, &a.cfg.Server).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Codebase QA API running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}
	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.Server.ShutdownSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
	return nil
}
