// Package chat wraps the Gemini API for post analysis: client construction,
// API key validation, error classification and the structured
// caption/hashtag/vibe inference call.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/fpang/ig-caption-studio/internal/metrics"
	"github.com/fpang/ig-caption-studio/internal/outcome"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// Generator is the subset of the Gemini models service used here.
// *genai.Models satisfies it.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewGeminiClient creates a Gemini API client for the given key.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return client, nil
}

// ValidateAPIKey verifies the key by making a minimal API call. It returns
// nil if the key works, or a classified *outcome.Error.
func ValidateAPIKey(ctx context.Context, gen Generator, sink *metrics.Sink) error {
	log.Debug().Msg("Validating API key with Gemini API")

	start := time.Now()
	resp, err := gen.GenerateContent(ctx, ModelGemini25FlashLite, genai.Text("hi"), nil)
	elapsed := time.Since(start)

	result := "success"
	switch {
	case err != nil:
		err = classifyError(err)
		result = string(outcome.KindOf(err))
	case resp == nil || len(resp.Candidates) == 0:
		log.Warn().Msg("API key validation returned empty response")
		err = outcome.New(outcome.KindUnknown, "Gemini API returned an empty response")
		result = "empty_response"
	}

	sink.New().
		Dimension("Result", result).
		Metric("ApiKeyValidationMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("ApiKeyValidationResult").
		Flush()

	log.Debug().
		Str("result", result).
		Dur("duration", elapsed).
		Msg("API key validation result")
	if err != nil {
		return err
	}

	log.Info().Msg("API key validated successfully")
	return nil
}
