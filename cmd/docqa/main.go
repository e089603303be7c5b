package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/docqa/config"
	"github.com/mohammad-safakhou/docqa/internal/chunker"
	"github.com/mohammad-safakhou/docqa/internal/extract"
	"github.com/mohammad-safakhou/docqa/internal/index"
	"github.com/mohammad-safakhou/docqa/internal/rag"
	srv "github.com/mohammad-safakhou/docqa/internal/server"
	"github.com/mohammad-safakhou/docqa/models"
	"github.com/mohammad-safakhou/docqa/provider"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	root := &cobra.Command{Use: "docqa", Short: "Document QA service"}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if err := cfg.Index.Validate(); err != nil {
				return err
			}
			if err := cfg.Providers.Validate(); err != nil {
				return err
			}
			return srv.Run(cfg)
		},
	}

	var migDir string
	var direction string
	var steps int
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			dsn, err := cfg.Databases.Postgres.DSN()
			if err != nil {
				return err
			}
			return srv.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	indexCmd := &cobra.Command{
		Use:   "index [files...]",
		Short: "Index PDF files into the vector index without running the server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if err := cfg.Index.Validate(); err != nil {
				return err
			}
			if err := cfg.Providers.Validate(); err != nil {
				return err
			}
			return indexFiles(cmd.Context(), cfg, args)
		},
	}

	root.AddCommand(serve, migrate, indexCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// indexFiles runs the same ingestion pipeline the upload endpoint uses,
// reading PDFs straight from disk.
func indexFiles(ctx context.Context, cfg *config.Config, paths []string) error {
	prov, err := provider.NewProvider(cfg.Providers)
	if err != nil {
		return err
	}
	ix, err := index.Open(cfg.Index.Path, prov.ModelID())
	if err != nil {
		return err
	}
	defer ix.Close()

	ch, err := chunker.New(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)
	if err != nil {
		return err
	}

	indexer := rag.NewIndexer(ch, prov, ix, nil)
	extractor := extract.NewPDF()

	for _, path := range paths {
		blocks, err := extractor.Extract(path)
		if err != nil {
			return fmt.Errorf("extract %s: %w", path, err)
		}
		doc := models.Document{
			FileID:   uuid.NewString(),
			Filename: filepath.Base(path),
			Blocks:   blocks,
		}
		stats, err := indexer.IndexDocument(ctx, doc)
		if err != nil {
			return fmt.Errorf("index %s: %w", path, err)
		}
		log.Printf("%s: indexed %d chunks as %s", path, stats.ChunksAdded, doc.FileID)
	}

	total, err := ix.Count(ctx)
	if err != nil {
		return err
	}
	log.Printf("index now holds %d chunks", total)
	return nil
}
