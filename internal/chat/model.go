package chat

import "os"

// Models that accept an inline image and return structured JSON.
const (
	ModelGemini3FlashPreview = "gemini-3-flash-preview"
	ModelGemini25Pro         = "gemini-2.5-pro"
	ModelGemini25Flash       = "gemini-2.5-flash"

	// ModelGemini25FlashLite backs API key validation; it is the cheapest call.
	ModelGemini25FlashLite = "gemini-2.5-flash-lite"
)

// ModelEnv overrides the model used for post analysis.
const ModelEnv = "GEMINI_MODEL"

// DefaultModelName is the model used for post analysis unless overridden.
const DefaultModelName = ModelGemini25Flash

// GetModelName returns $GEMINI_MODEL, or DefaultModelName when unset.
func GetModelName() string {
	if env := os.Getenv(ModelEnv); env != "" {
		return env
	}
	return DefaultModelName
}
