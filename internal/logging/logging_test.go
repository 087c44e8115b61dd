package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		"warn":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestStartupLoggerJSON(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	defer func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	}()

	var buf bytes.Buffer
	InitTo(&buf, "info", "json")

	NewStartupLogger("caption-studio serve").
		Version("test").
		SSMParam("token", "/ig-caption-studio/prod/instagram-access-token").
		Endpoint("graph", "https://graph.instagram.com").
		Feature("longLivedTokens", true).
		Config("model", "gemini-2.5-flash").
		Log()

	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("expected one JSON event, got %q: %v", buf.String(), err)
	}
	if doc["message"] != "Startup complete" {
		t.Errorf("unexpected message: %v", doc["message"])
	}
	res, ok := doc["resources"].(map[string]any)
	if !ok {
		t.Fatalf("missing resources: %v", doc)
	}
	if _, ok := res["ssmParams"]; !ok {
		t.Error("missing ssmParams")
	}
	if _, ok := res["dynamoTables"]; ok {
		t.Error("empty resource maps should be omitted")
	}
	if !strings.Contains(buf.String(), `"longLivedTokens":true`) {
		t.Errorf("missing feature flag: %s", buf.String())
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("IGCS_TEST_VALUE", "")
	if got := EnvOrDefault("IGCS_TEST_VALUE", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
	os.Setenv("IGCS_TEST_VALUE", "set")
	if got := EnvOrDefault("IGCS_TEST_VALUE", "fallback"); got != "set" {
		t.Errorf("expected set, got %q", got)
	}
}
