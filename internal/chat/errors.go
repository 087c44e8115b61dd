package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/fpang/ig-caption-studio/internal/outcome"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// classifyError maps a Gemini call failure onto an outcome kind.
// Key problems stay Unknown: they are not the user's Instagram session.
func classifyError(err error) *outcome.Error {
	if err == nil {
		return nil
	}

	var oe *outcome.Error
	if errors.As(err, &oe) {
		return oe
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(&apiErr)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return classifyAPIError(apiErrPtr)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		log.Error().Err(err).Msg("Gemini request timed out")
		return outcome.Wrap(outcome.KindTimeout, "The AI analysis took too long. Please try again.", err)
	}
	if errors.Is(err, context.Canceled) {
		return outcome.Wrap(outcome.KindUnknown, "The AI analysis was cancelled.", err)
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "api key not valid") ||
		strings.Contains(errLower, "invalid api key") ||
		strings.Contains(errLower, "api_key_invalid") ||
		strings.Contains(errLower, "permission denied"):
		log.Error().Err(err).Msg("Invalid Gemini API key")
		return outcome.Wrap(outcome.KindUnknown, "Gemini API key is invalid or has been revoked", err)

	case strings.Contains(errLower, "quota") ||
		strings.Contains(errLower, "resource exhausted") ||
		strings.Contains(errLower, "rate limit"):
		log.Error().Err(err).Msg("Gemini quota exceeded")
		return outcome.Wrap(outcome.KindNetworkUnavailable, "Gemini API rate limit exceeded - try again later", err)
	}

	classified := outcome.Classify(err, "Failed to generate AI analysis.")
	log.Error().Err(err).Str("errorKind", string(classified.Kind)).Msg("Gemini request failed")
	return classified
}

func classifyAPIError(err *genai.APIError) *outcome.Error {
	switch {
	case err.Code == 400:
		log.Error().Int("code", err.Code).Str("message", err.Message).Msg("Gemini rejected the request")
		return outcome.Wrap(outcome.KindUnknown, "Gemini rejected the request: "+err.Message, err)

	case err.Code == 401 || err.Code == 403:
		log.Error().Int("code", err.Code).Msg("Gemini authentication failed")
		return outcome.Wrap(outcome.KindUnknown, "Gemini API key is invalid, expired, or lacks permissions", err)

	case err.Code == 429:
		log.Error().Int("code", err.Code).Msg("Gemini rate limit exceeded")
		return outcome.Wrap(outcome.KindNetworkUnavailable, "Gemini API rate limit exceeded - try again later", err)

	case err.Code >= 500:
		log.Error().Int("code", err.Code).Msg("Gemini server error")
		return outcome.Wrap(outcome.KindNetworkUnavailable, "Gemini API server error - try again later", err)

	default:
		log.Error().Int("code", err.Code).Str("message", err.Message).Msg("Gemini API error")
		msg := err.Message
		if msg == "" {
			msg = "Failed to generate AI analysis."
		}
		return outcome.Wrap(outcome.KindUnknown, msg, err)
	}
}
