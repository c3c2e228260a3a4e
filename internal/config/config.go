// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Facilitator backend
	FacilitatorURL string // Base URL of the permission facilitator API
	NvmAPIKey      string // API key used for backend-authenticated calls

	// Agent card
	AgentID          string   // Agent identifier published in the payment extension
	AgentName        string   // Human-readable agent name
	AgentDescription string
	AgentURL         string   // Public URL of this agent's A2A endpoint
	PlanIDs          []string // Plans accepted by this agent

	// Execution
	AsyncExecution bool // When true, message/send defaults to non-blocking

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for tracing (optional)
}

// Defaults
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultFacilitatorURL = "https://api.sandbox.nevermined.app"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		FacilitatorURL:   getEnv("FACILITATOR_URL", DefaultFacilitatorURL),
		NvmAPIKey:        os.Getenv("NVM_API_KEY"),
		AgentID:          os.Getenv("AGENT_ID"),
		AgentName:        getEnv("AGENT_NAME", "taskgate-agent"),
		AgentDescription: getEnv("AGENT_DESCRIPTION", "Payment-gated task execution agent"),
		AgentURL:         getEnv("AGENT_URL", "http://localhost:"+getEnv("PORT", DefaultPort)),
		PlanIDs:          splitList(os.Getenv("PLAN_IDS")),
		AsyncExecution:   getEnvBool("ASYNC_EXECUTION", false),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings
func (c *Config) Validate() error {
	if c.AgentID == "" {
		return fmt.Errorf("AGENT_ID is required")
	}
	if c.FacilitatorURL == "" {
		return fmt.Errorf("FACILITATOR_URL is required")
	}
	return nil
}

// IsProduction returns true when running in production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
