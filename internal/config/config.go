package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every setting of the service.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Presence PresenceConfig
	Events   EventsConfig
	AI       AIConfig
	Rating   RatingConfig
	Sync     SyncConfig
	Staff    StaffConfig
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	presence, err := loadPresenceConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	rating, err := loadRatingConfig()
	if err != nil {
		return nil, err
	}

	sync, err := loadSyncConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Store:    store,
		Presence: presence,
		Events:   loadEventsConfig(),
		AI:       ai,
		Rating:   rating,
		Sync:     sync,
		Staff:    StaffConfig{RosterPath: strings.TrimSpace(os.Getenv("STAFF_ROSTER"))},
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

// loadServerConfig parses the listen address.
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}
	addr, err := NormalizeAddr(port)
	if err != nil {
		return ServerConfig{}, err
	}
	return ServerConfig{Addr: addr}, nil
}

// NormalizeAddr accepts "8080", ":8080" or "127.0.0.1:8080".
func NormalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if strings.Contains(port, " ") || port == "" {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}
	if strings.Contains(port, ":") {
		return port, nil
	}
	return ":" + port, nil
}

// Backend names a storage implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

// StoreConfig selects where sessions and QC reports live.
type StoreConfig struct {
	Backend     Backend
	DatabaseURL string
	LogLevel    string
}

func loadStoreConfig() (StoreConfig, error) {
	backend := Backend(strings.ToLower(getEnvOrDefault("STORE_BACKEND", string(BackendMemory))))
	cfg := StoreConfig{
		Backend:     backend,
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		LogLevel:    getEnvOrDefault("DB_LOG_LEVEL", "warn"),
	}
	return cfg, cfg.Validate()
}

// Validate checks that the selected backend has what it needs.
func (c StoreConfig) Validate() error {
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=%s", c.Backend)
		}
		return nil
	}
	return fmt.Errorf("invalid STORE_BACKEND value %q", c.Backend)
}

// PresenceConfig selects where staff presence lives.
type PresenceConfig struct {
	Backend       Backend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
}

func loadPresenceConfig() (PresenceConfig, error) {
	db, err := parseOptionalIntEnv("REDIS_DB")
	if err != nil {
		return PresenceConfig{}, err
	}
	poolSize, err := parseOptionalIntEnv("REDIS_POOL_SIZE")
	if err != nil {
		return PresenceConfig{}, err
	}

	cfg := PresenceConfig{
		Backend:       Backend(strings.ToLower(getEnvOrDefault("PRESENCE_BACKEND", string(BackendMemory)))),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisPoolSize: 10,
	}
	if db != nil {
		cfg.RedisDB = *db
	}
	if poolSize != nil && *poolSize > 0 {
		cfg.RedisPoolSize = *poolSize
	}

	if err := cfg.Validate(); err != nil {
		return PresenceConfig{}, err
	}
	return cfg, nil
}

// Validate checks the selected backend.
func (c PresenceConfig) Validate() error {
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when PRESENCE_BACKEND=%s", c.Backend)
		}
		return nil
	}
	return fmt.Errorf("invalid PRESENCE_BACKEND value %q", c.Backend)
}

// EventsConfig describes the lifecycle event sink. No brokers means events
// are only logged.
type EventsConfig struct {
	Brokers  []string
	Topic    string
	Username string
	Password string
}

// Enabled reports whether a Kafka sink is configured.
func (c EventsConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

func loadEventsConfig() EventsConfig {
	return EventsConfig{
		Brokers:  splitList(os.Getenv("KAFKA_BROKERS")),
		Topic:    getEnvOrDefault("KAFKA_TOPIC", "supportdesk.session-events"),
		Username: strings.TrimSpace(os.Getenv("KAFKA_USERNAME")),
		Password: os.Getenv("KAFKA_PASSWORD"),
	}
}

// AIConfig describes the LLM used for topic suggestions.
type AIConfig struct {
	APIKey              string
	AccessKey           string
	SecretKey           string
	Model               string
	BaseURL             string
	Region              string
	Temperature         *float64
	TopP                *float64
	MaxTokens           *int
	TopicSummaryEnabled bool
}

// Enabled reports whether the credentials and model are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel creates the Ark chat model described by the config.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY and Model, or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	summaries, err := parseBoolEnv("TOPIC_SUMMARY_ENABLED", false)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:              strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:           strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:           strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:               strings.TrimSpace(os.Getenv("Model")),
		BaseURL:             getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:              getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:         temperature,
		TopP:                topP,
		MaxTokens:           maxTokens,
		TopicSummaryEnabled: summaries,
	}, nil
}

// RatingConfig holds the inclusive score ranges.
type RatingConfig struct {
	ClientMin int
	ClientMax int
	QCMin     int
	QCMax     int
}

func loadRatingConfig() (RatingConfig, error) {
	cfg := RatingConfig{ClientMin: 1, ClientMax: 5, QCMin: 0, QCMax: 130}
	for key, target := range map[string]*int{
		"RATING_MIN":   &cfg.ClientMin,
		"RATING_MAX":   &cfg.ClientMax,
		"QC_SCORE_MIN": &cfg.QCMin,
		"QC_SCORE_MAX": &cfg.QCMax,
	} {
		val, err := parseOptionalIntEnv(key)
		if err != nil {
			return RatingConfig{}, err
		}
		if val != nil {
			*target = *val
		}
	}

	if cfg.ClientMin >= cfg.ClientMax {
		return RatingConfig{}, fmt.Errorf("invalid rating range [%d, %d]", cfg.ClientMin, cfg.ClientMax)
	}
	if cfg.QCMin >= cfg.QCMax {
		return RatingConfig{}, fmt.Errorf("invalid qc score range [%d, %d]", cfg.QCMin, cfg.QCMax)
	}
	return cfg, nil
}

// SyncConfig controls the session poll feeds.
type SyncConfig struct {
	PollInterval time.Duration
}

func loadSyncConfig() (SyncConfig, error) {
	interval, err := parseDurationEnv("SYNC_POLL_INTERVAL", 2*time.Second)
	if err != nil {
		return SyncConfig{}, err
	}
	if interval <= 0 {
		return SyncConfig{}, fmt.Errorf("SYNC_POLL_INTERVAL must be positive, got %s", interval)
	}
	return SyncConfig{PollInterval: interval}, nil
}

// StaffConfig points at the YAML roster loaded on start.
type StaffConfig struct {
	RosterPath string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
