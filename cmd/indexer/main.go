// Command indexer rebuilds corpus indexes offline, so a deployment can warm
// the vector stores before the API server starts taking traffic.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/chatcfd/backend/internal/llm"
	"github.com/chatcfd/backend/internal/metrics"
	"github.com/chatcfd/backend/internal/rag"
	"github.com/chatcfd/backend/pkg/config"
	appLogger "github.com/chatcfd/backend/pkg/logger"
)

func main() {
	corpusFlag := flag.String("corpus", "", "corpus to rebuild; empty rebuilds all configured corpora")
	timeoutFlag := flag.Duration("timeout", 30*time.Minute, "overall rebuild deadline")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	metrics.Init()

	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		appLogger.Fatal("Failed to create LLM client", zap.Error(err))
	}

	store := rag.NewStore(cfg.Corpora.StorageDir, cfg.CorpusSet(), llmClient, nil)

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	targets := store.Corpora()
	if *corpusFlag != "" {
		targets = []string{*corpusFlag}
	}

	failed := 0
	for _, corpus := range targets {
		appLogger.Info("Rebuilding corpus", zap.String("corpus", corpus))
		if err := store.Rebuild(ctx, corpus); err != nil {
			appLogger.Error("Rebuild failed", zap.String("corpus", corpus), zap.Error(err))
			failed++
			continue
		}
	}

	if failed > 0 {
		appLogger.Fatal("Indexing finished with failures", zap.Int("failed", failed))
	}
	appLogger.Info("Indexing complete", zap.Int("corpora", len(targets)))
}
