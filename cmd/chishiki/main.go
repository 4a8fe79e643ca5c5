// Package main is the Chishiki CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/chishiki/internal/config"
	"github.com/hyperjump/chishiki/internal/gardening"
	"github.com/hyperjump/chishiki/internal/knowledge"
	"github.com/hyperjump/chishiki/internal/models"
	"github.com/hyperjump/chishiki/internal/server"
	"github.com/hyperjump/chishiki/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "config.yaml"

// loadConfig loads config from path. When path is the default and no such
// file exists in the current directory, built-in defaults are used, so
// "chishiki save" works from any project without setup.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, nil
		}
	}
	return config.Load(path)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "save":
		runSave()
	case "search":
		runSearch()
	case "garden":
		runGarden()
	case "index-codebase":
		runIndexCodebase()
	case "search-codebase":
		runSearchCodebase()
	case "sync":
		runSync()
	case "server":
		runServer()
	case "watch":
		runWatch()
	case "version", "--version", "-v":
		fmt.Printf("chishiki version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// openBase loads config and wires up the knowledge base for one command.
// The returned cleanup flushes the logger and closes the base.
func openBase(configPath string, debug bool) (*knowledge.Base, *zap.Logger, func()) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	root, err := os.Getwd()
	if err != nil {
		fmt.Printf("Failed to resolve working directory: %v\n", err)
		os.Exit(1)
	}
	base, err := knowledge.New(cfg, root, knowledge.WithLogger(logger))
	if err != nil {
		logger.Sync()
		fmt.Printf("Failed to initialize knowledge base: %v\n", err)
		os.Exit(1)
	}
	cleanup := func() {
		_ = base.Close()
		_ = logger.Sync()
	}
	return base, logger, cleanup
}

func runSave() {
	fs := flag.NewFlagSet("save", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	title := fs.String("title", "", "record title")
	category := fs.String("category", "general", "record category")
	source := fs.String("source", "", "record source")
	silent := fs.Bool("silent", false, "suppress the saved-record log line")
	_ = fs.Parse(os.Args[2:])

	content := strings.Join(fs.Args(), " ")
	if *title == "" || content == "" {
		fmt.Println("Usage: chishiki save -title <title> [flags] <content>")
		os.Exit(1)
	}

	base, _, cleanup := openBase(*configPath, false)
	defer cleanup()

	id, err := base.Save(context.Background(), &models.LearningRecord{
		Title:    *title,
		Category: *category,
		Content:  models.TextContent(content),
		Source:   *source,
	}, *silent)
	if err != nil {
		fmt.Printf("Save failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Saved: %s\n", id)
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	limit := fs.Int("limit", 0, "maximum results (0 = config default)")
	tags := fs.String("tags", "", "comma-separated tag filter")
	format := fs.String("format", "text", "output format: text, json, or context")
	_ = fs.Parse(os.Args[2:])

	query := strings.Join(fs.Args(), " ")

	base, _, cleanup := openBase(*configPath, false)
	defer cleanup()

	var tagList []string
	if *tags != "" {
		for _, t := range strings.Split(*tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tagList = append(tagList, t)
			}
		}
	}

	ctx := context.Background()
	switch *format {
	case "context":
		fmt.Println(base.ContextString(ctx, query, tagList))
	case "json":
		records := base.Retrieve(ctx, query, tagList, *limit)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(records)
	case "text":
		records := base.Retrieve(ctx, query, tagList, *limit)
		if len(records) == 0 {
			fmt.Println("No results.")
			return
		}
		for i, r := range records {
			fmt.Printf("%d. [%s] %s (%s)\n", i+1, r.Category, r.Title, r.ID)
			if desc := r.Description(); desc != "" {
				fmt.Printf("   %s\n", utils.Truncate(desc, 200))
			}
		}
	default:
		fmt.Printf("Unknown format: %s\n", *format)
		os.Exit(1)
	}
}

func runGarden() {
	fs := flag.NewFlagSet("garden", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	dryRun := fs.Bool("dry-run", false, "compute without persisting")
	deep := fs.Bool("deep", false, "extract facts from every record regardless of score")
	workers := fs.Int("workers", 0, "concurrent extraction workers (0 = config default)")
	_ = fs.Parse(os.Args[2:])

	base, _, cleanup := openBase(*configPath, false)
	defer cleanup()

	report, err := base.Garden(context.Background(), gardening.Options{
		DryRun:     *dryRun,
		DeepMode:   *deep,
		MaxWorkers: *workers,
	})
	if err != nil {
		fmt.Printf("Gardening failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Scored: %d  Deduped: %d  Extracted: %d  Skipped: %d\n",
		report.Scored, report.Deduped, report.Extracted, report.SkippedExtraction)
}

func runIndexCodebase() {
	fs := flag.NewFlagSet("index-codebase", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	root := fs.String("root", "", "directory to index (default: current project)")
	force := fs.Bool("force", false, "re-index files even when unchanged")
	_ = fs.Parse(os.Args[2:])

	base, _, cleanup := openBase(*configPath, false)
	defer cleanup()

	stats, err := base.IndexCodebase(context.Background(), *root, *force)
	if err != nil {
		fmt.Printf("Indexing failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Indexed: %d files (%d chunks)  Skipped: %d  Failed: %d  Deleted chunks: %d\n",
		stats.FilesIndexed, stats.ChunksIndexed, stats.FilesSkipped, stats.FilesFailed, stats.ChunksDeleted)
}

func runSearchCodebase() {
	fs := flag.NewFlagSet("search-codebase", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	limit := fs.Int("limit", 5, "maximum results")
	_ = fs.Parse(os.Args[2:])

	query := strings.Join(fs.Args(), " ")
	if query == "" {
		fmt.Println("Usage: chishiki search-codebase [flags] <query>")
		os.Exit(1)
	}

	base, _, cleanup := openBase(*configPath, false)
	defer cleanup()

	hits, err := base.SearchCodebase(context.Background(), query, *limit)
	if err != nil {
		fmt.Printf("Search failed: %v\n", err)
		os.Exit(1)
	}
	if len(hits) == 0 {
		fmt.Println("No results.")
		return
	}
	for i, h := range hits {
		fmt.Printf("%d. %s#%d (%.4f)\n", i+1, h.FilePath, h.ChunkIndex, h.Score)
		fmt.Printf("   %s\n", utils.Truncate(strings.ReplaceAll(h.Content, "\n", " "), 160))
	}
}

func runSync() {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	base, _, cleanup := openBase(*configPath, false)
	defer cleanup()

	n := base.SyncAll(context.Background())
	fmt.Printf("Synced %d record(s)\n", n)
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	root, err := os.Getwd()
	if err != nil {
		fmt.Printf("Failed to resolve working directory: %v\n", err)
		os.Exit(1)
	}
	base, err := knowledge.New(cfg, root, knowledge.WithLogger(logger))
	if err != nil {
		logger.Fatal("Failed to initialize knowledge base", zap.Error(err))
	}
	defer base.Close()

	srv := server.NewServer(base, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runWatch() {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	base, logger, cleanup := openBase(*configPath, *debug)
	defer cleanup()

	// Index once up front so the watcher only has to track changes.
	stats, err := base.IndexCodebase(context.Background(), "", false)
	if err != nil {
		fmt.Printf("Initial indexing failed: %v\n", err)
		os.Exit(1)
	}
	logger.Info("initial index complete",
		zap.Int("indexed", stats.FilesIndexed),
		zap.Int("skipped", stats.FilesSkipped),
	)

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()

	w := base.NewWatcher()
	if err := w.Start(watchCtx); err != nil {
		fmt.Printf("Failed to start watcher: %v\n", err)
		os.Exit(1)
	}
	defer w.Stop()

	cwd, _ := os.Getwd()
	fmt.Printf("Watching %s (Ctrl+C to stop)\n", filepath.Base(cwd))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Stopping watcher...")
}

func printUsage() {
	fmt.Println(`chishiki - knowledge persistence and semantic retrieval

Usage: chishiki <command> [flags] [args]

Commands:
  save             Save a learning record
  search           Search saved learnings
  garden           Score, deduplicate, and extract facts from learnings
  index-codebase   Index source files for semantic code search
  search-codebase  Search indexed source code
  sync             Resync all records into the vector index
  server           Run the HTTP API server
  watch            Watch the project and index changed files
  version          Print version

Run 'chishiki <command> -h' for command flags.`)
}
