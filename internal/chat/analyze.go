package chat

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/fpang/ig-caption-studio/internal/imageenc"
	"github.com/fpang/ig-caption-studio/internal/metrics"
	"github.com/fpang/ig-caption-studio/internal/outcome"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// DefaultInferTimeout bounds one inference call.
const DefaultInferTimeout = 60 * time.Second

// Messages surfaced for inference failures.
const (
	EmptyResponseMessage = "Failed to generate AI analysis."
	MalformedMessage     = "The AI response was incomplete. Please regenerate."
)

// AnalysisResult is the structured suggestion for one post.
type AnalysisResult struct {
	Caption  string   `json:"caption"`
	Hashtags []string `json:"hashtags"`
	Vibe     string   `json:"vibe"`
}

// Analyzer produces an AnalysisResult for an encoded image and the post's
// current caption (which may be empty).
type Analyzer interface {
	Analyze(ctx context.Context, image imageenc.Payload, caption string) (*AnalysisResult, error)
}

// analysisSchema constrains the model output to the AnalysisResult shape.
var analysisSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"caption": {Type: genai.TypeString, Description: "A new, engaging caption for the post."},
		"hashtags": {
			Type:        genai.TypeArray,
			Items:       &genai.Schema{Type: genai.TypeString},
			Description: "5-10 relevant, high-reach hashtags.",
		},
		"vibe": {Type: genai.TypeString, Description: "The vibe or aesthetic of the image in one short sentence."},
	},
	Required:         []string{"caption", "hashtags", "vibe"},
	PropertyOrdering: []string{"caption", "hashtags", "vibe"},
}

// BuildAnalysisPrompt returns the text part sent alongside the image.
func BuildAnalysisPrompt(caption string) string {
	if strings.TrimSpace(caption) == "" {
		caption = "No caption"
	}
	var sb strings.Builder
	sb.WriteString("Analyze this Instagram post image.\n")
	sb.WriteString("The current caption is: \"" + caption + "\".\n\n")
	sb.WriteString("1. Write a new, engaging caption that is better than the current one.\n")
	sb.WriteString("2. Suggest 5-10 relevant, high-reach hashtags.\n")
	sb.WriteString("3. Describe the \"vibe\" or aesthetic of the image in one short sentence.\n")
	return sb.String()
}

// GeminiAnalyzer runs post analysis against the Gemini API.
type GeminiAnalyzer struct {
	gen     Generator
	model   string
	timeout time.Duration
	metrics *metrics.Sink
}

var _ Analyzer = (*GeminiAnalyzer)(nil)

// NewGeminiAnalyzer creates an analyzer using GetModelName() and
// DefaultInferTimeout.
func NewGeminiAnalyzer(gen Generator) *GeminiAnalyzer {
	return &GeminiAnalyzer{
		gen:     gen,
		model:   GetModelName(),
		timeout: DefaultInferTimeout,
		metrics: metrics.Default(),
	}
}

// WithModel overrides the model ID.
func (a *GeminiAnalyzer) WithModel(model string) *GeminiAnalyzer {
	if model != "" {
		a.model = model
	}
	return a
}

// WithTimeout overrides the per-call timeout.
func (a *GeminiAnalyzer) WithTimeout(d time.Duration) *GeminiAnalyzer {
	if d > 0 {
		a.timeout = d
	}
	return a
}

// WithMetrics sets the metrics sink.
func (a *GeminiAnalyzer) WithMetrics(sink *metrics.Sink) *GeminiAnalyzer {
	a.metrics = sink
	return a
}

// Analyze sends the image and caption hint to Gemini and validates the
// structured response. Shape violations are MalformedResult failures.
func (a *GeminiAnalyzer) Analyze(ctx context.Context, image imageenc.Payload, caption string) (*AnalysisResult, error) {
	data, err := base64.StdEncoding.DecodeString(image.Data)
	if err != nil || len(data) == 0 {
		return nil, outcome.Wrap(outcome.KindFetchBlocked, imageenc.BlockedMessage, fmt.Errorf("decode payload: %w", err))
	}
	mimeType := image.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	log.Info().
		Str("model", a.model).
		Str("mimeType", mimeType).
		Int("imageBytes", len(data)).
		Bool("hasCaption", strings.TrimSpace(caption) != "").
		Msg("Starting post analysis")

	parts := []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
		{Text: BuildAnalysisPrompt(caption)},
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   analysisSchema,
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	resp, err := a.gen.GenerateContent(ctx, a.model, contents, config)
	elapsed := time.Since(start)

	m := a.metrics.New().
		Dimension("Operation", "postAnalysis").
		Metric("InferenceMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("GeminiApiCalls")
	if err != nil {
		m.Count("GeminiApiErrors")
	}
	if resp != nil && resp.UsageMetadata != nil {
		m.Metric("GeminiInputTokens", float64(resp.UsageMetadata.PromptTokenCount), metrics.UnitCount)
		m.Metric("GeminiOutputTokens", float64(resp.UsageMetadata.CandidatesTokenCount), metrics.UnitCount)
	}
	m.Flush()

	if err != nil {
		return nil, classifyError(err)
	}
	if resp == nil || strings.TrimSpace(resp.Text()) == "" {
		log.Warn().Dur("duration", elapsed).Msg("Received empty response from Gemini")
		return nil, outcome.New(outcome.KindMalformedResult, EmptyResponseMessage)
	}

	result, err := ParseAnalysis(resp.Text())
	if err != nil {
		log.Warn().Err(err).Msg("Gemini response failed validation")
		return nil, err
	}

	log.Info().
		Int("hashtagCount", len(result.Hashtags)).
		Dur("duration", elapsed).
		Msg("Post analysis complete")
	return result, nil
}

// rawAnalysis keeps absent fields distinguishable from empty ones.
type rawAnalysis struct {
	Caption  *string   `json:"caption"`
	Hashtags *[]string `json:"hashtags"`
	Vibe     *string   `json:"vibe"`
}

// ParseAnalysis decodes and validates a model response. The caption and vibe
// must be present and non-blank and hashtags must be an array. Hashtags are
// normalized with NormalizeHashtags.
func ParseAnalysis(raw string) (*AnalysisResult, error) {
	parsed, err := parseJSON[rawAnalysis](raw)
	if err != nil {
		return nil, outcome.Wrap(outcome.KindMalformedResult, MalformedMessage, err)
	}

	var missing []string
	if parsed.Caption == nil || strings.TrimSpace(*parsed.Caption) == "" {
		missing = append(missing, "caption")
	}
	if parsed.Hashtags == nil {
		missing = append(missing, "hashtags")
	}
	if parsed.Vibe == nil || strings.TrimSpace(*parsed.Vibe) == "" {
		missing = append(missing, "vibe")
	}
	if len(missing) > 0 {
		return nil, outcome.Wrap(outcome.KindMalformedResult, MalformedMessage,
			fmt.Errorf("response missing %s", strings.Join(missing, ", ")))
	}

	return &AnalysisResult{
		Caption:  strings.TrimSpace(*parsed.Caption),
		Hashtags: NormalizeHashtags(*parsed.Hashtags),
		Vibe:     strings.TrimSpace(*parsed.Vibe),
	}, nil
}

// NormalizeHashtags prefixes each tag with exactly one '#', preserving order.
// Blank tags are dropped.
func NormalizeHashtags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimLeft(strings.TrimSpace(tag), "#")
		if tag == "" {
			continue
		}
		out = append(out, "#"+tag)
	}
	return out
}
