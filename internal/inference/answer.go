package inference

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knova/knova/internal/vector"
)

// Confidence scoring constants.
const (
	// neutralConfidence is the baseline for turns with no retrieved context
	// (general chat) and for degraded document-excerpt answers.
	neutralConfidence = 0.5

	// highRelevanceThreshold marks a chunk as highly relevant.
	highRelevanceThreshold = 0.7

	// relevanceBonusPerChunk is added per highly relevant chunk.
	relevanceBonusPerChunk = 0.05

	// relevanceBonusCap bounds the total relevance bonus.
	relevanceBonusCap = 0.15
)

// Fallback copy.
const (
	degradedBanner = "**Note: AI service temporarily unavailable. Showing relevant document excerpts:**"

	degradedFooter = "*For AI-generated answers, please try again later.*"

	noServiceMessage = "The AI service is temporarily unavailable. Please try again in a few minutes."

	highDemandMessage = "The AI service is currently experiencing high demand. Please try again in a moment."

	// fallbackExcerptLimit bounds how many chunks a degraded answer quotes.
	fallbackExcerptLimit = 3

	// fallbackContentLimit truncates long excerpts in degraded answers.
	fallbackContentLimit = 500
)

// Citation points at a source chunk that cleared the similarity floor.
type Citation struct {
	DocumentID   int64
	Filename     string
	PageNumber   int
	SectionTitle string
	ChunkIndex   int
	Similarity   float64
}

// Answer is the structured result of one inference call. Degraded marks
// answers that were not generated by the model; fallback paths must never
// clear it.
type Answer struct {
	Text        string
	Citations   []Citation
	Confidence  float64
	Model       string
	Latency     time.Duration
	SourceCount int
	Cached      bool
	Degraded    bool

	// FallbackReason records the causing error when Degraded is set.
	FallbackReason string
}

// extractCitations keeps only chunks at or above the similarity floor.
func extractCitations(chunks []vector.Result, minSimilarity float64) []Citation {
	var citations []Citation
	for _, r := range chunks {
		if r.Similarity < minSimilarity {
			continue
		}
		citations = append(citations, Citation{
			DocumentID:   r.Chunk.DocumentID,
			Filename:     r.Chunk.Filename,
			PageNumber:   r.Chunk.PageNumber,
			SectionTitle: r.Chunk.SectionTitle,
			ChunkIndex:   r.Chunk.Index,
			Similarity:   r.Similarity,
		})
	}
	return citations
}

// confidenceScore derives answer confidence from retrieval quality: the mean
// similarity of retrieved chunks, boosted per highly relevant chunk up to a
// fixed cap, clamped to [0,1]. No retrieval yields the neutral baseline.
func confidenceScore(chunks []vector.Result) float64 {
	if len(chunks) == 0 {
		return neutralConfidence
	}

	var sum float64
	var relevant int
	for _, r := range chunks {
		sum += r.Similarity
		if r.Similarity > highRelevanceThreshold {
			relevant++
		}
	}
	avg := sum / float64(len(chunks))

	bonus := min(float64(relevant)*relevanceBonusPerChunk, relevanceBonusCap)

	score := avg + bonus
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}

// degradedAnswer synthesizes an answer from retrieved chunks when the
// provider is unreachable: top excerpts verbatim with source headers under
// an explicit degraded banner.
func degradedAnswer(chunks []vector.Result, minSimilarity float64, cause error) *Answer {
	var excerpts []string
	for _, r := range chunks {
		if len(excerpts) >= fallbackExcerptLimit {
			break
		}
		content := strings.TrimSpace(r.Chunk.Content)
		if content == "" {
			continue
		}
		if len(content) > fallbackContentLimit {
			content = content[:fallbackContentLimit] + "..."
		}
		excerpts = append(excerpts, sourceHeader(r.Chunk)+":\n"+content)
	}

	text := degradedBanner + "\n\n" +
		strings.Join(excerpts, chunkDelimiter) + "\n\n" + degradedFooter

	return &Answer{
		Text:           text,
		Citations:      extractCitations(chunks, minSimilarity),
		Confidence:     neutralConfidence,
		Model:          "fallback",
		SourceCount:    len(chunks),
		Degraded:       true,
		FallbackReason: cause.Error(),
	}
}

// unavailableAnswer is the fixed apology used when the provider is down and
// no context exists to fall back on.
func unavailableAnswer(model string, cause error) *Answer {
	return &Answer{
		Text:           noServiceMessage,
		Confidence:     0,
		Model:          model,
		Degraded:       true,
		FallbackReason: cause.Error(),
	}
}

// rateLimitedAnswer is the fixed message for local or provider rate limits.
func rateLimitedAnswer(model string, cause error) *Answer {
	text := highDemandMessage
	var rle *RateLimitError
	if errors.As(cause, &rle) && rle.Wait > 0 {
		text = fmt.Sprintf("%s (retry in %s)", highDemandMessage, rle.Wait.Round(time.Second))
	}
	return &Answer{
		Text:           text,
		Confidence:     0,
		Model:          model,
		Degraded:       true,
		FallbackReason: cause.Error(),
	}
}
