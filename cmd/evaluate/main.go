// Command evaluate runs the golden-dataset retrieval evaluation and prints a
// report.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/chatcfd/backend/internal/evaluation"
	"github.com/chatcfd/backend/internal/llm"
	"github.com/chatcfd/backend/internal/metrics"
	"github.com/chatcfd/backend/internal/rag"
	"github.com/chatcfd/backend/pkg/config"
	appLogger "github.com/chatcfd/backend/pkg/logger"
)

func main() {
	datasetFlag := flag.String("dataset", "./data/eval_dataset.json", "path to the golden dataset JSON")
	timeoutFlag := flag.Duration("timeout", 15*time.Minute, "overall evaluation deadline")
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

	dataset, err := evaluation.LoadDataset(*datasetFlag)
	if err != nil {
		appLogger.Fatal("Failed to load dataset", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	evaluator := evaluation.NewEvaluator(store, llmClient)
	report, err := evaluator.Run(ctx, dataset)
	if err != nil {
		appLogger.Fatal("Evaluation failed", zap.Error(err))
	}

	fmt.Println(evaluation.FormatReport(report))
}
