package rag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"

	"health-rag/internal/llmservice"
	"health-rag/internal/models"
)

// Distinguishable generation failures. The answer carries one of these
// wrapped around the underlying cause; callers branch with errors.Is.
var (
	ErrBackendTimeout     = errors.New("generation backend timed out")
	ErrBackendUnavailable = errors.New("generation backend unavailable")
	ErrMalformedResponse  = errors.New("generation backend returned a malformed response")
)

// Generator is the text-generation collaborator.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts llmservice.Options) llmservice.Result
	Model() string
}

// Builder constructs grounded answers: it couples retrieval output to
// generation input and enforces that the backend is never invoked without
// grounding context.
type Builder struct {
	generator Generator
	opts      llmservice.Options
}

func NewBuilder(generator Generator, opts llmservice.Options) *Builder {
	return &Builder{generator: generator, opts: opts}
}

// EmptyKnowledgeBase is the deterministic answer for questions asked before
// any document has been ingested. No backend call is made.
func (b *Builder) EmptyKnowledgeBase() models.GroundedAnswer {
	return models.GroundedAnswer{
		Answer:     models.EmptyKnowledgeBaseMessage,
		Sources:    []string{},
		Confidence: 0.0,
		Model:      b.generator.Model(),
	}
}

// Answer produces the grounded answer for question given the retrieved
// chunks. With no retrieved chunks it returns the templated no-context
// response and skips generation entirely; an ungrounded completion is pure
// hallucination risk. Otherwise it calls the backend once (no retries) and
// post-processes the completion: disclaimer appended exactly once, sources
// listing what was available to the model, confidence reflecting retrieval
// quality only.
func (b *Builder) Answer(ctx context.Context, question string, retrieved []models.RetrievedChunk) models.GroundedAnswer {
	if len(retrieved) == 0 {
		return models.GroundedAnswer{
			Answer:     fmt.Sprintf(models.NoContextResponseTemplate, question),
			Sources:    []string{},
			Confidence: 0.0,
			Model:      b.generator.Model(),
		}
	}

	prompt := BuildPrompt(question, retrieved)
	result := b.generator.Generate(ctx, prompt, b.opts)

	answer := models.GroundedAnswer{
		Sources:    []string{},
		Confidence: 0.0,
		Model:      b.generator.Model(),
	}
	switch result.Kind {
	case llmservice.KindSuccess:
		answer.Answer = appendDisclaimer(result.Text)
		answer.Sources = Sources(retrieved)
		answer.Confidence = Confidence(retrieved)
	case llmservice.KindTimeout:
		log.Error().Err(result.Err).Msg("generation timed out")
		answer.Err = fmt.Errorf("%w: %v", ErrBackendTimeout, result.Err)
	case llmservice.KindUnavailable:
		log.Error().Err(result.Err).Msg("generation backend unreachable")
		answer.Err = fmt.Errorf("%w: %v", ErrBackendUnavailable, result.Err)
	default:
		log.Error().Err(result.Err).Msg("generation returned malformed response")
		answer.Err = fmt.Errorf("%w: %v", ErrMalformedResponse, result.Err)
	}
	return answer
}

// BuildPrompt renders the anti-hallucination prompt: every retrieved chunk
// becomes a context block tagged with its source and page, followed by the
// strict grounding rules and the question.
func BuildPrompt(question string, retrieved []models.RetrievedChunk) string {
	var blocks strings.Builder
	for i, rc := range retrieved {
		blocks.WriteString(fmt.Sprintf(models.ContextBlockFormat, i+1, rc.Source, rc.Page, rc.Text))
		blocks.WriteString("\n")
	}
	return fmt.Sprintf(models.GroundedPromptTemplate, blocks.String(), question)
}

// Sources lists the unique "source (Page N)" citations over the retrieved
// chunks in order of first appearance. It describes what was available to
// the model, not what the generated text chose to cite.
func Sources(retrieved []models.RetrievedChunk) []string {
	sources := make([]string, 0, len(retrieved))
	seen := make(map[string]struct{}, len(retrieved))
	for _, rc := range retrieved {
		citation := fmt.Sprintf(models.SourceCitationFormat, rc.Source, rc.Page)
		if _, ok := seen[citation]; ok {
			continue
		}
		seen[citation] = struct{}{}
		sources = append(sources, citation)
	}
	return sources
}

// Confidence is the mean retrieval score rounded to two decimal places. It
// measures how well the corpus matched the question, not how certain the
// generated text is.
func Confidence(retrieved []models.RetrievedChunk) float64 {
	if len(retrieved) == 0 {
		return 0.0
	}
	var sum float64
	for _, rc := range retrieved {
		sum += rc.Score
	}
	return math.Round(sum/float64(len(retrieved))*100) / 100
}

// appendDisclaimer adds the fixed disclaimer to a non-empty generated
// answer, exactly once.
func appendDisclaimer(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	if strings.Contains(text, models.MedicalDisclaimer) {
		return text
	}
	return text + models.MedicalDisclaimer
}
