// Package evaluation measures retrieval quality against a golden dataset of
// questions with known source documents.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/chatcfd/backend/internal/chat"
	"github.com/chatcfd/backend/internal/llm"
	"github.com/chatcfd/backend/internal/rag"
	"github.com/chatcfd/backend/pkg/logger"
)

type Evaluator struct {
	retriever chat.Retriever
	embedder  llm.Embedder
}

type Dataset struct {
	Items []DatasetItem `json:"items"`
}

type DatasetItem struct {
	Corpus         string `json:"corpus"`
	Query          string `json:"query"`
	ExpectedSource string `json:"expected_source"`
	GroundTruth    string `json:"ground_truth"`
}

type Report struct {
	TotalQueries      int
	SourceHits        int
	SourceHitRate     float64
	AvgTopScore       float64
	AvgGroundTruthSim float64
	FailedQueries     int
}

func NewEvaluator(retriever chat.Retriever, embedder llm.Embedder) *Evaluator {
	return &Evaluator{
		retriever: retriever,
		embedder:  embedder,
	}
}

// Run retrieves every dataset query and scores the results: did the expected
// source come back, how strong was the top match, and how close is the top
// chunk to the ground-truth answer.
func (e *Evaluator) Run(ctx context.Context, dataset *Dataset) (*Report, error) {
	logger.Info("Running retrieval evaluation", zap.Int("items", len(dataset.Items)))

	report := &Report{TotalQueries: len(dataset.Items)}

	var totalTopScore, totalSim float64
	scored := 0

	for i, item := range dataset.Items {
		matches, err := e.retriever.Retrieve(ctx, item.Corpus, item.Query)
		if err != nil {
			logger.Error("Retrieval failed during evaluation",
				zap.Int("index", i),
				zap.String("corpus", item.Corpus),
				zap.Error(err),
			)
			report.FailedQueries++
			continue
		}
		if len(matches) == 0 {
			continue
		}

		scored++
		totalTopScore += matches[0].Score

		if sourceHit(matches, item.ExpectedSource) {
			report.SourceHits++
		}

		if item.GroundTruth != "" {
			sim, err := e.groundTruthSimilarity(ctx, matches[0].Text, item.GroundTruth)
			if err != nil {
				logger.Warn("Failed to score ground-truth similarity", zap.Error(err))
			} else {
				totalSim += sim
			}
		}
	}

	if scored > 0 {
		report.AvgTopScore = totalTopScore / float64(scored)
		report.AvgGroundTruthSim = totalSim / float64(scored)
	}
	if report.TotalQueries > 0 {
		report.SourceHitRate = float64(report.SourceHits) / float64(report.TotalQueries) * 100
	}

	logger.Info("Retrieval evaluation completed",
		zap.Int("total", report.TotalQueries),
		zap.Int("source_hits", report.SourceHits),
		zap.Int("failed", report.FailedQueries),
	)

	return report, nil
}

func sourceHit(matches []rag.ScoredChunk, expected string) bool {
	if expected == "" {
		return false
	}
	for _, match := range matches {
		if match.Source == expected {
			return true
		}
	}
	return false
}

func (e *Evaluator) groundTruthSimilarity(ctx context.Context, retrieved, groundTruth string) (float64, error) {
	vectors, err := e.embedder.EmbedBatch(ctx, []string{retrieved, groundTruth})
	if err != nil {
		return 0, err
	}
	if len(vectors) != 2 {
		return 0, fmt.Errorf("expected 2 embeddings, got %d", len(vectors))
	}
	return rag.CosineSimilarity(vectors[0], vectors[1]), nil
}

// LoadDataset reads a golden dataset from a JSON file.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	var dataset Dataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}
	return &dataset, nil
}

// FormatReport renders a report for terminal output.
func FormatReport(report *Report) string {
	return fmt.Sprintf(`
Retrieval Evaluation Report
===========================

Total Queries: %d
Failed Queries: %d

Expected Source Retrieved: %d (%.1f%%)

Average Top Match Score: %.3f
Average Ground-Truth Similarity: %.3f
`,
		report.TotalQueries,
		report.FailedQueries,
		report.SourceHits, report.SourceHitRate,
		report.AvgTopScore,
		report.AvgGroundTruthSim,
	)
}
