package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/anthropics/negotiation-engine/internal/domain"
)

// FraudConfig tunes the fraud heuristics thresholds.
type FraudConfig struct {
	LowballRatio      float64 `json:"lowball_ratio"`
	AttemptsPerDay    int     `json:"attempts_per_day"`
	UsersPerIPPerHour int     `json:"users_per_ip_per_hour"`
}

// Config holds the engine's runtime configuration.
type Config struct {
	DBPath              string      `json:"db_path"`
	ListenAddr          string      `json:"listen_addr"`
	MaxRounds           int         `json:"max_rounds"`
	SessionTTLMin       int         `json:"session_ttl_min"`
	RateLimit           int         `json:"rate_limit"`
	RateWindowMin       int         `json:"rate_window_min"`
	DefaultSegment      string      `json:"default_segment"`
	DefaultLanguage     string      `json:"default_language"`
	GeminiAPIKey        string      `json:"gemini_api_key"`
	GeminiModel         string      `json:"gemini_model"`
	ReasoningTimeoutSec int         `json:"reasoning_timeout_sec"`
	RedisAddr           string      `json:"redis_addr"`
	RedisDB             int         `json:"redis_db"`
	RulesBackend        string      `json:"rules_backend"`
	MySQLDSN            string      `json:"mysql_dsn"`
	TrustProxy          bool        `json:"trust_proxy"`
	Fraud               FraudConfig `json:"fraud"`
}

// Load reads a JSON config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":9810"
	}
	if c.MaxRounds == 0 {
		c.MaxRounds = 3
	}
	if c.SessionTTLMin == 0 {
		c.SessionTTLMin = 30
	}
	if c.RateLimit == 0 {
		c.RateLimit = 10
	}
	if c.RateWindowMin == 0 {
		c.RateWindowMin = 60
	}
	if c.DefaultSegment == "" {
		c.DefaultSegment = string(domain.SegmentReturning)
	}
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = "en"
	}
	if c.GeminiAPIKey == "" {
		c.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.GeminiModel == "" {
		c.GeminiModel = "gemini-2.0-flash-001"
	}
	if c.ReasoningTimeoutSec == 0 {
		c.ReasoningTimeoutSec = 30
	}
	if c.RulesBackend == "" {
		c.RulesBackend = "sqlite"
	}
	if c.Fraud.LowballRatio == 0 {
		c.Fraud.LowballRatio = 0.5
	}
	if c.Fraud.AttemptsPerDay == 0 {
		c.Fraud.AttemptsPerDay = 20
	}
	if c.Fraud.UsersPerIPPerHour == 0 {
		c.Fraud.UsersPerIPPerHour = 5
	}
}

func (c *Config) validate() error {
	var problems []string

	if c.DBPath == "" {
		problems = append(problems, "db_path is required")
	}
	switch domain.Segment(c.DefaultSegment) {
	case domain.SegmentNew, domain.SegmentReturning, domain.SegmentVIP:
	default:
		problems = append(problems, fmt.Sprintf("default_segment %q is not one of new, returning, vip", c.DefaultSegment))
	}
	switch c.RulesBackend {
	case "sqlite":
	case "mysql":
		if c.MySQLDSN == "" {
			problems = append(problems, "mysql_dsn is required when rules_backend is mysql")
		}
	default:
		problems = append(problems, fmt.Sprintf("rules_backend %q is not one of sqlite, mysql", c.RulesBackend))
	}
	if c.MaxRounds < 1 {
		problems = append(problems, "max_rounds must be at least 1")
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}
