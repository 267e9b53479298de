package circuitbreaker

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Dependency names; also the breaker name and the metrics label.
const (
	LLMService    = "llm-service"
	VectorIndex   = "qdrant"
	Embeddings    = "embeddings"
	MetadataStore = "metadata-store"
	ProfileStore  = "profile-store"
	RouterCache   = "router-cache"
	EmbedCache    = "embedding-cache"
)

var defaults = map[string]Settings{
	LLMService:    {MaxRequests: 3, Interval: 60 * time.Second, Timeout: 20 * time.Second, FailureThreshold: 5, SuccessThreshold: 2},
	VectorIndex:   {MaxRequests: 5, Interval: 30 * time.Second, Timeout: 15 * time.Second, FailureThreshold: 3, SuccessThreshold: 2},
	Embeddings:    {MaxRequests: 5, Interval: 30 * time.Second, Timeout: 15 * time.Second, FailureThreshold: 3, SuccessThreshold: 2},
	MetadataStore: {MaxRequests: 3, Interval: 60 * time.Second, Timeout: 30 * time.Second, FailureThreshold: 5, SuccessThreshold: 2},
	ProfileStore:  {MaxRequests: 3, Interval: 60 * time.Second, Timeout: 30 * time.Second, FailureThreshold: 5, SuccessThreshold: 2},
	RouterCache:   {MaxRequests: 5, Interval: 30 * time.Second, Timeout: 15 * time.Second, FailureThreshold: 3, SuccessThreshold: 2},
	EmbedCache:    {MaxRequests: 5, Interval: 30 * time.Second, Timeout: 15 * time.Second, FailureThreshold: 3, SuccessThreshold: 2},
}

// SettingsFor returns the settings for a dependency, overridable through
// ATLAS_CB_<NAME>_{MAX_REQUESTS,INTERVAL,TIMEOUT,FAILURE_THRESHOLD,SUCCESS_THRESHOLD}
// where NAME is the dependency name upper-cased with dashes as underscores.
func SettingsFor(name string) Settings {
	s, ok := defaults[name]
	if !ok {
		s = Settings{MaxRequests: 3, Interval: 60 * time.Second, Timeout: 10 * time.Second, FailureThreshold: 5, SuccessThreshold: 2}
	}
	prefix := "ATLAS_CB_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_"
	s.MaxRequests = getEnvUint32(prefix+"MAX_REQUESTS", s.MaxRequests)
	s.Interval = getEnvDuration(prefix+"INTERVAL", s.Interval)
	s.Timeout = getEnvDuration(prefix+"TIMEOUT", s.Timeout)
	s.FailureThreshold = getEnvUint32(prefix+"FAILURE_THRESHOLD", s.FailureThreshold)
	s.SuccessThreshold = getEnvUint32(prefix+"SUCCESS_THRESHOLD", s.SuccessThreshold)
	return s
}

func getEnvUint32(key string, def uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}
