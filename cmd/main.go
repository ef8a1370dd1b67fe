package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"report-rag/internal/config"
	"report-rag/internal/db"
	"report-rag/internal/helper"
	"report-rag/internal/index"
	"report-rag/internal/logger"
	"report-rag/internal/models"
	"report-rag/internal/rag"
	"report-rag/internal/server"
)

const configFilePath = "./configs/config.yaml"

var (
	configPath string
	seedPath   string
)

type app struct {
	cfg       *config.Config
	store     db.Store
	processor *rag.RAG
	registry  *prometheus.Registry
}

func (a *app) Close() {
	if a.processor != nil {
		if err := a.processor.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing processor")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing document store")
		}
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.Default(), nil
	}
	return config.LoadConfig(configPath)
}

func setup(cmd *cobra.Command, withProcessor bool) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if seedPath != "" {
		cfg.Database.SeedFile = seedPath
	}
	if err := logger.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		return nil, err
	}
	log.Debug().
		Str("provider", cfg.Embeddings.Provider).
		Str("model", cfg.Embeddings.Model).
		Str("index", cfg.Index.Backend).
		Str("database", cfg.Database.Driver).
		Msg("Loaded config")

	ctx := cmd.Context()
	store, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	a := &app{cfg: cfg, store: store}
	if !withProcessor {
		return a, nil
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.processor, err = rag.Build(ctx, cfg, store, a.registry)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build processor: %w", err)
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "report-rag",
		Short:         "Index report documents and search them by meaning",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", configFilePath, "path to the YAML config file")
	root.PersistentFlags().StringVar(&seedPath, "seed", "", "JSON file of documents for the in-memory store")

	root.AddCommand(newServeCmd(), newProcessCmd(), newSearchCmd(), newStatsCmd(), newResetCmd(), newIngestCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var processOnStart bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search and processing API over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if processOnStart {
				if _, err := a.processor.ProcessAllDocuments(cmd.Context()); err != nil {
					log.Error().Err(err).Msg("Initial processing run failed")
				}
			}
			srv := server.New(a.processor, server.Options{
				DefaultTopK:          a.cfg.Search.DefaultTopK,
				DefaultMinSimilarity: a.cfg.Search.DefaultMinSimilarity,
				Gatherer:             a.registry,
			})
			return srv.ListenAndServe(cmd.Context(), a.cfg.Server)
		},
	}
	cmd.Flags().BoolVar(&processOnStart, "process", false, "run a processing pass before serving")
	return cmd
}

func newProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Chunk, embed and index every new or changed document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.processor.ProcessAllDocuments(cmd.Context())
			if stats != nil {
				helper.PrettyPrint(stats)
			}
			return err
		},
	}
}

func newSearchCmd() *cobra.Command {
	var (
		topK          int
		minSimilarity float64
		process       bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Return the chunks most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			// The in-memory index starts empty in every process.
			if process {
				if _, err := a.processor.ProcessAllDocuments(cmd.Context()); err != nil {
					return err
				}
			}
			opts := index.SearchOptions{TopK: a.cfg.Search.DefaultTopK, MinSimilarity: a.cfg.Search.DefaultMinSimilarity}
			if cmd.Flags().Changed("top-k") {
				opts.TopK = topK
			}
			if cmd.Flags().Changed("min-similarity") {
				opts.MinSimilarity = minSimilarity
			}
			results, err := a.processor.Search(cmd.Context(), strings.Join(args, " "), opts)
			if err != nil {
				return err
			}
			for i := range results {
				results[i].Content = models.Preview(results[i].Content, models.ContentPreviewLimit)
			}
			helper.PrettyPrint(results)
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 10, "maximum number of results")
	cmd.Flags().Float64Var(&minSimilarity, "min-similarity", 0.5, "minimum cosine similarity")
	cmd.Flags().BoolVar(&process, "process", true, "index documents before searching")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print index statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.processor.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			helper.PrettyPrint(stats)
			return nil
		},
	}
}

func newResetCmd() *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the index and mark every document as unprocessed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.processor.Reset(cmd.Context()); err != nil {
				return err
			}
			if purge {
				if err := a.store.Purge(cmd.Context()); err != nil {
					return err
				}
				log.Info().Msg("Reset complete, documents purged")
				return nil
			}
			docs, err := a.store.ListDocuments(cmd.Context(), models.DocumentFilter{})
			if err != nil {
				return err
			}
			for _, d := range docs {
				if err := a.store.UpdateDocumentStatus(cmd.Context(), d.ID, models.DocumentStatus{}); err != nil {
					log.Warn().Err(err).Str("document_id", d.ID).Msg("Failed to clear document status")
				}
			}
			log.Info().Int("documents", len(docs)).Msg("Reset complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "also delete every document from the store")
	return cmd
}

func newIngestCmd() *cobra.Command {
	var meta models.DocumentMetadata
	var id string
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Add a plain text document to the document store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			text, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if id == "" {
				if id, err = helper.GenerateUUID(); err != nil {
					return err
				}
			}
			if meta.Filename == "" {
				meta.Filename = filepath.Base(args[0])
			}
			doc := models.Document{ID: id, Text: string(text), Metadata: meta}
			if err := a.store.UpsertDocument(cmd.Context(), doc); err != nil {
				return err
			}
			log.Info().Str("document_id", id).Int("bytes", len(text)).Msg("Document stored")
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "document id (random when empty)")
	cmd.Flags().StringVar(&meta.Region, "region", "", "reporting region")
	cmd.Flags().StringVar(&meta.Organization, "organization", "", "reporting organization")
	cmd.Flags().StringVar(&meta.Standard, "standard", "", "reporting standard, e.g. GRI")
	cmd.Flags().StringVar(&meta.Filename, "filename", "", "source file name (defaults to the file's base name)")
	return cmd
}

func main() {
	if err := logger.Setup("info", "console", os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		stop()
		os.Exit(1)
	}
}
