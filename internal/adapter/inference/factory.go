package inference

import (
	"log"
	"os"
	"time"
)

const (
	// EnvMasMode is the environment variable name for mode selection.
	EnvMasMode = "MAS_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// NewClient creates an inference client based on the MAS_MODE environment
// variable. If MAS_MODE=MOCK, returns a MockClient; otherwise a real
// HTTP client against the model gateway.
func NewClient(baseURL, apiKey string, timeout time.Duration) Client {
	if os.Getenv(EnvMasMode) == ModeMock {
		log.Println("MAS_MODE=MOCK detected, using mock inference client")
		return NewMockClient()
	}
	return NewHTTPClient(baseURL, apiKey, timeout)
}
