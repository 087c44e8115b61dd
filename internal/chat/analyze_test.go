package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/fpang/ig-caption-studio/internal/imageenc"
	"github.com/fpang/ig-caption-studio/internal/metrics"
	"github.com/fpang/ig-caption-studio/internal/outcome"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	text  string
	err   error
	block bool

	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.contents, f.config = model, contents, config
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: f.text}}},
		}},
	}, nil
}

func testPayload() imageenc.Payload {
	return imageenc.Payload{
		Data:     base64.StdEncoding.EncodeToString([]byte("fake-image-bytes")),
		MIMEType: "image/webp",
	}
}

func newTestAnalyzer(gen Generator) *GeminiAnalyzer {
	return NewGeminiAnalyzer(gen).WithModel("test-model").WithMetrics(metrics.NewSink(metrics.Namespace, nil))
}

func TestNormalizeHashtags(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{[]string{"sunset", "#vibes"}, []string{"#sunset", "#vibes"}},
		{[]string{"##double", " spaced "}, []string{"#double", "#spaced"}},
		{[]string{"", "#", "ok"}, []string{"#ok"}},
		{nil, []string{}},
	}
	for _, tt := range tests {
		if got := NormalizeHashtags(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("NormalizeHashtags(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAnalyzeSendsImageAndPrompt(t *testing.T) {
	gen := &fakeGenerator{text: `{"caption":"Golden hour","hashtags":["sunset","#vibes"],"vibe":"Warm and calm."}`}

	result, err := newTestAnalyzer(gen).Analyze(context.Background(), testPayload(), "")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.Caption != "Golden hour" || result.Vibe != "Warm and calm." {
		t.Errorf("unexpected result: %+v", result)
	}
	if !reflect.DeepEqual(result.Hashtags, []string{"#sunset", "#vibes"}) {
		t.Errorf("unexpected hashtags: %q", result.Hashtags)
	}

	if gen.model != "test-model" {
		t.Errorf("expected test-model, got %q", gen.model)
	}
	if len(gen.contents) != 1 || len(gen.contents[0].Parts) != 2 {
		t.Fatalf("expected one content with image and text parts, got %+v", gen.contents)
	}
	blob := gen.contents[0].Parts[0].InlineData
	if blob == nil || blob.MIMEType != "image/webp" || string(blob.Data) != "fake-image-bytes" {
		t.Errorf("unexpected inline image: %+v", blob)
	}
	if !strings.Contains(gen.contents[0].Parts[1].Text, `"No caption"`) {
		t.Errorf("prompt should fall back to No caption: %q", gen.contents[0].Parts[1].Text)
	}
	if gen.config.ResponseMIMEType != "application/json" || gen.config.ResponseSchema == nil {
		t.Errorf("expected JSON schema constrained output, got %+v", gen.config)
	}
	if got := gen.config.ResponseSchema.Required; !reflect.DeepEqual(got, []string{"caption", "hashtags", "vibe"}) {
		t.Errorf("unexpected required fields: %v", got)
	}
}

func TestBuildAnalysisPromptIncludesCaption(t *testing.T) {
	p := BuildAnalysisPrompt("Beach day")
	if !strings.Contains(p, `"Beach day"`) {
		t.Errorf("expected caption in prompt: %q", p)
	}
}

func TestAnalyzeMalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"not json", "I love this photo!"},
		{"missing vibe", `{"caption":"x","hashtags":[]}`},
		{"missing hashtags", `{"caption":"x","vibe":"y"}`},
		{"blank caption", `{"caption":"  ","hashtags":["a"],"vibe":"y"}`},
		{"wrong type", `{"caption":"x","hashtags":"a b","vibe":"y"}`},
		{"empty", "   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestAnalyzer(&fakeGenerator{text: tt.text}).Analyze(context.Background(), testPayload(), "cap")
			if outcome.KindOf(err) != outcome.KindMalformedResult {
				t.Errorf("expected MalformedResult, got %v", err)
			}
		})
	}
}

func TestParseAnalysisToleratesFences(t *testing.T) {
	raw := "```json\n{\"caption\":\"x\",\"hashtags\":[],\"vibe\":\"y\"}\n```"
	result, err := ParseAnalysis(raw)
	if err != nil {
		t.Fatalf("ParseAnalysis: %v", err)
	}
	if len(result.Hashtags) != 0 || result.Caption != "x" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestAnalyzeErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want outcome.ErrorKind
	}{
		{"bad key", genai.APIError{Code: 403, Message: "API key not valid"}, outcome.KindUnknown},
		{"rate limited", genai.APIError{Code: 429, Message: "Resource exhausted"}, outcome.KindNetworkUnavailable},
		{"server error", genai.APIError{Code: 503, Message: "unavailable"}, outcome.KindNetworkUnavailable},
		{"quota message", errors.New("quota exceeded for project"), outcome.KindNetworkUnavailable},
		{"deadline", context.DeadlineExceeded, outcome.KindTimeout},
		{"other", errors.New("boom"), outcome.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestAnalyzer(&fakeGenerator{err: tt.err}).Analyze(context.Background(), testPayload(), "")
			if got := outcome.KindOf(err); got != tt.want {
				t.Errorf("expected %s, got %s (%v)", tt.want, got, err)
			}
			var oe *outcome.Error
			if !errors.As(err, &oe) || oe.Message == "" {
				t.Errorf("expected a human-readable message, got %v", err)
			}
		})
	}
}

func TestAnalyzeTimeout(t *testing.T) {
	a := newTestAnalyzer(&fakeGenerator{block: true}).WithTimeout(20 * time.Millisecond)
	_, err := a.Analyze(context.Background(), testPayload(), "")
	if outcome.KindOf(err) != outcome.KindTimeout {
		t.Errorf("expected Timeout, got %v", err)
	}
}

func TestAnalyzeRejectsEmptyPayload(t *testing.T) {
	gen := &fakeGenerator{text: "{}"}
	_, err := newTestAnalyzer(gen).Analyze(context.Background(), imageenc.Payload{}, "")
	if outcome.KindOf(err) != outcome.KindFetchBlocked {
		t.Errorf("expected FetchBlocked, got %v", err)
	}
	if gen.contents != nil {
		t.Error("empty payload must not reach the model")
	}
}

func TestValidateAPIKey(t *testing.T) {
	sink := metrics.NewSink(metrics.Namespace, nil)
	if err := ValidateAPIKey(context.Background(), &fakeGenerator{text: "hello"}, sink); err != nil {
		t.Errorf("expected valid key, got %v", err)
	}
	err := ValidateAPIKey(context.Background(), &fakeGenerator{err: genai.APIError{Code: 401}}, sink)
	if err == nil || !strings.Contains(err.Error(), "Gemini API key") {
		t.Errorf("expected key error, got %v", err)
	}
}

func TestGetModelName(t *testing.T) {
	t.Setenv(ModelEnv, "")
	if GetModelName() != DefaultModelName {
		t.Errorf("expected default model, got %q", GetModelName())
	}
	t.Setenv(ModelEnv, ModelGemini25Pro)
	if GetModelName() != ModelGemini25Pro {
		t.Errorf("expected override, got %q", GetModelName())
	}
}
