package media

import (
	"log"
	"os"
	"time"
)

// NewExtractor creates an Extractor based on the MAS_MODE environment
// variable, mirroring the inference factory.
func NewExtractor(baseURL string, timeout time.Duration) Extractor {
	if os.Getenv("MAS_MODE") == "MOCK" {
		log.Println("MAS_MODE=MOCK detected, using mock media extractor")
		return NewMockExtractor()
	}
	return NewClient(baseURL, timeout)
}
