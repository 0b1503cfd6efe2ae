// Package ingest implements the Ingest Pipeline (spec.md §4.8): chunking
// strategies, byte/chunk-count bounds, and the write-then-embed flow that
// turns raw text into searchable engrams.
//
// Grounded on the teacher's internal/llm/chunker.go (sentence-aware
// splitting, token-ish size estimation) generalized from LLM-context-window
// chunking to the spec's named structural strategies, and
// internal/importer/markdown.go for the heading-boundary splitter.
package ingest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/scrypster/engramind/pkg/engram"
)

// Strategy selects how Chunk splits content into pieces.
type Strategy string

const (
	StrategyWhole      Strategy = "whole"
	StrategyParagraphs Strategy = "paragraphs"
	StrategySentences  Strategy = "sentences"
	StrategyLines      Strategy = "lines"
	StrategyMarkdown   Strategy = "markdown"
	StrategyAuto       Strategy = "auto"
)

// autoSizeThreshold is the content length (bytes) above which Strategy
// "auto" prefers paragraph splitting over a single whole-content chunk.
const autoSizeThreshold = 2000

var sentenceTerminator = regexp.MustCompile(`[.!?]+[\s]+`)
var headingPattern = regexp.MustCompile(`(?m)^#{1,6}\s+.+$`)

// Chunk splits content per strategy. Empty/whitespace-only chunks are
// dropped; StrategyWhole never splits regardless of size (the caller's
// Bounds still apply afterward).
func Chunk(content string, strategy Strategy) ([]string, error) {
	switch strategy {
	case "", StrategyAuto:
		return chunkAuto(content), nil
	case StrategyWhole:
		return nonEmpty([]string{content}), nil
	case StrategyParagraphs:
		return chunkParagraphs(content), nil
	case StrategySentences:
		return chunkSentences(content), nil
	case StrategyLines:
		return chunkLines(content), nil
	case StrategyMarkdown:
		return chunkMarkdown(content), nil
	default:
		return nil, fmt.Errorf("%w: unknown chunking strategy %q", engram.ErrInvalidField, strategy)
	}
}

// chunkAuto picks paragraphs for content with blank-line structure above
// autoSizeThreshold, markdown for heading-structured content, and whole
// otherwise — a cheap stand-in for true structure detection appropriate for
// a best-effort default.
func chunkAuto(content string) []string {
	if headingPattern.MatchString(content) {
		return chunkMarkdown(content)
	}
	if len(content) > autoSizeThreshold && strings.Contains(content, "\n\n") {
		return chunkParagraphs(content)
	}
	return nonEmpty([]string{content})
}

func chunkParagraphs(content string) []string {
	parts := regexp.MustCompile(`\n\s*\n`).Split(content, -1)
	return nonEmpty(parts)
}

func chunkSentences(content string) []string {
	parts := sentenceTerminator.Split(content, -1)
	return nonEmpty(parts)
}

func chunkLines(content string) []string {
	parts := strings.Split(content, "\n")
	return nonEmpty(parts)
}

// chunkMarkdown splits on heading boundaries (spec.md §4.8 "markdown (split
// on heading boundaries)"), keeping each heading with the body that follows
// it until the next heading.
func chunkMarkdown(content string) []string {
	locs := headingPattern.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return nonEmpty([]string{content})
	}

	var chunks []string
	if locs[0][0] > 0 {
		chunks = append(chunks, content[:locs[0][0]])
	}
	for i, loc := range locs {
		end := len(content)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		chunks = append(chunks, content[loc[0]:end])
	}
	return nonEmpty(chunks)
}

func nonEmpty(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
