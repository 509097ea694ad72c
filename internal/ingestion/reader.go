// Package ingestion turns a directory of source documents into indexable
// text chunks with source-file attribution.
package ingestion

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/chatcfd/backend/internal/extract"
	"github.com/chatcfd/backend/pkg/logger"
	"github.com/chatcfd/backend/pkg/utils"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 100
)

var whitespaceRE = regexp.MustCompile(`\s+`)

// SourceDocument is one reference file read from a corpus directory.
type SourceDocument struct {
	Name string
	Text string
}

// Chunk is one indexable unit of text with its source filename.
type Chunk struct {
	ID     string
	Text   string
	Source string
}

// Reader loads and chunks the supported documents of a directory.
type Reader struct {
	chunkSize    int
	chunkOverlap int
}

func NewReader() *Reader {
	return &Reader{
		chunkSize:    defaultChunkSize,
		chunkOverlap: defaultChunkOverlap,
	}
}

// LoadDirectory reads every supported document in dir, sorted by filename so
// chunk IDs stay stable across builds of unchanged content. Files that cannot
// be parsed are skipped with a warning rather than failing the whole build.
func (r *Reader) LoadDirectory(dir string) ([]SourceDocument, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read source directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && supportedExtension(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	docs := make([]SourceDocument, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		content, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("Failed to read source document", zap.String("file", name), zap.Error(err))
			continue
		}

		text, err := documentText(name, content)
		if err != nil {
			logger.Warn("Failed to parse source document", zap.String("file", name), zap.Error(err))
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		docs = append(docs, SourceDocument{Name: name, Text: text})
	}

	return docs, nil
}

// ChunkDocuments splits each document into overlapping word-window chunks.
func (r *Reader) ChunkDocuments(docs []SourceDocument) []Chunk {
	var chunks []Chunk
	for _, doc := range docs {
		for i, text := range r.chunkText(doc.Text) {
			chunks = append(chunks, Chunk{
				ID:     fmt.Sprintf("%s_chunk_%d", utils.Hash(doc.Name), i),
				Text:   text,
				Source: doc.Name,
			})
		}
	}
	return chunks
}

func supportedExtension(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md", ".pdf", ".docx", ".html", ".htm":
		return true
	default:
		return false
	}
}

func documentText(name string, content []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md":
		return strings.ToValidUTF8(string(content), ""), nil
	case ".html", ".htm":
		return cleanHTML(string(content))
	default:
		return extract.Text(name, content)
	}
}

func cleanHTML(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := doc.Find("body").Text()
	text = whitespaceRE.ReplaceAllString(text, " ")

	return strings.TrimSpace(text), nil
}

func (r *Reader) chunkText(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var currentChunk strings.Builder
	currentSize := 0

	for _, word := range words {
		wordLen := len(word) + 1

		if currentSize+wordLen > r.chunkSize && currentChunk.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(currentChunk.String()))

			overlapWords := strings.Fields(currentChunk.String())
			overlapStart := max(0, len(overlapWords)-r.chunkOverlap/10)
			currentChunk.Reset()
			currentChunk.WriteString(strings.Join(overlapWords[overlapStart:], " ") + " ")
			currentSize = currentChunk.Len()
		}

		currentChunk.WriteString(word + " ")
		currentSize += wordLen
	}

	if currentChunk.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(currentChunk.String()))
	}

	return chunks
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
