package model

import "time"

// ================ Config ================
type SessionConfig struct {
	DefaultTTL    time.Duration `envconfig:"SESSION_DEFAULT_TTL" default:"30m"`
	MaxMessages   int           `envconfig:"SESSION_MAX_MESSAGES" default:"200"`
	SweepInterval time.Duration `envconfig:"SESSION_SWEEP_INTERVAL" default:"1m"`
	LockTimeout   time.Duration `envconfig:"SESSION_LOCK_TIMEOUT" default:"30s"`
	// LeaseTTL bounds how long a crashed replica can hold a shared session.
	LeaseTTL time.Duration `envconfig:"SESSION_LEASE_TTL" default:"5m"`
}

type GraphConfig struct {
	MaxSteps    int           `envconfig:"GRAPH_MAX_STEPS" default:"64"`
	NodeTimeout time.Duration `envconfig:"GRAPH_NODE_TIMEOUT" default:"60s"`
}

type APIRequestConfig struct {
	Timeout         time.Duration `envconfig:"API_REQUEST_TIMEOUT" default:"15s"`
	MaxResponseSize int64         `envconfig:"API_REQUEST_MAX_RESPONSE_BYTES" default:"1048576"`
}

type TalkModelConfig struct {
	Model       string  `envconfig:"TALK_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"TALK_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"TALK_TEMPERATURE" default:"0.4"`
}

type ExtractionModelConfig struct {
	Model       string  `envconfig:"EXTRACTION_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"EXTRACTION_MAX_TOKENS" default:"1000"`
	Temperature float32 `envconfig:"EXTRACTION_TEMPERATURE" default:"0.1"`
	// ContextMessages bounds how much history the extractor sees.
	ContextMessages int `envconfig:"EXTRACTION_CONTEXT_MESSAGES" default:"6"`
}

type HTTPConfig struct {
	Port            int           `envconfig:"HTTP_PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
}
