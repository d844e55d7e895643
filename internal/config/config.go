package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	AI       AIConfig
	Store    StoreConfig
	Lock     LockConfig
	Pipeline PipelineConfig
	Log      LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	lock, err := loadLockConfig()
	if err != nil {
		return nil, err
	}

	pipeline, err := loadPipelineConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		AI:       ai,
		Store:    store,
		Lock:     lock,
		Pipeline: pipeline,
		Log:      LogConfig{Level: getEnvOrDefault("LOG_LEVEL", "info")},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述各个模型提供方与调用参数。
type AIConfig struct {
	OpenRouter OpenRouterConfig
	Together   TogetherConfig
	Ark        ArkConfig

	DefaultProvider string
	DefaultModel    string
	Temperature     float32
	TopP            float32
	MaxTokens       int
	CallTimeout     time.Duration
	Retries         int
}

// OpenRouterConfig 描述 OpenRouter 接入。
type OpenRouterConfig struct {
	Token   string
	BaseURL string
	AppName string
	SiteURL string
}

// TogetherConfig 描述 Together 接入。
type TogetherConfig struct {
	APIKey  string
	BaseURL string
}

// ArkConfig 描述火山方舟接入，提供 API Key 或 AK/SK 之一即可。
type ArkConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloat32Env("LLM_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloat32Env("LLM_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("LLM_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseDurationEnv("LLM_CALL_TIMEOUT", 90*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	retries, err := parseOptionalIntEnv("LLM_RETRIES")
	if err != nil {
		return AIConfig{}, err
	}

	cfg := AIConfig{
		OpenRouter: OpenRouterConfig{
			Token:   strings.TrimSpace(os.Getenv("OPENROUTER_TOKEN")),
			BaseURL: getEnvOrDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
			AppName: getEnvOrDefault("APP_NAME", "roleplay"),
			SiteURL: strings.TrimSpace(os.Getenv("APP_PUBLIC_URL")),
		},
		Together: TogetherConfig{
			APIKey:  strings.TrimSpace(os.Getenv("TOGETHER_API_KEY")),
			BaseURL: getEnvOrDefault("TOGETHER_BASE_URL", "https://api.together.xyz/v1"),
		},
		Ark: ArkConfig{
			APIKey:    strings.TrimSpace(os.Getenv("ARK_API_KEY")),
			AccessKey: strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
			SecretKey: strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
			Model:     strings.TrimSpace(os.Getenv("ARK_MODEL")),
			BaseURL:   getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
			Region:    getEnvOrDefault("ARK_REGION", "cn-beijing"),
		},
		DefaultProvider: strings.ToLower(getEnvOrDefault("DEFAULT_PROVIDER", "openrouter")),
		DefaultModel:    getEnvOrDefault("DEFAULT_MODEL", "deepseek/deepseek-chat-v3-0324"),
		Temperature:     0.6,
		TopP:            0.9,
		MaxTokens:       2048,
		CallTimeout:     timeout,
		Retries:         3,
	}
	if temperature != nil {
		cfg.Temperature = *temperature
	}
	if topP != nil {
		cfg.TopP = *topP
	}
	if maxTokens != nil {
		if *maxTokens < 1 {
			return AIConfig{}, fmt.Errorf("invalid LLM_MAX_TOKENS value %d", *maxTokens)
		}
		cfg.MaxTokens = *maxTokens
	}
	if retries != nil {
		if *retries < 1 {
			cfg.Retries = 1
		} else {
			cfg.Retries = *retries
		}
	}
	return cfg, nil
}

// StoreConfig 描述持久化后端。
type StoreConfig struct {
	Driver string
	DSN    string
}

func loadStoreConfig() (StoreConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("DB_DRIVER", "sqlite"))
	switch driver {
	case "sqlite", "mysql":
	default:
		return StoreConfig{}, fmt.Errorf("invalid DB_DRIVER value: %q", driver)
	}
	dsn := strings.TrimSpace(os.Getenv("DB_DSN"))
	if driver == "mysql" && dsn == "" {
		return StoreConfig{}, fmt.Errorf("DB_DSN is required for mysql")
	}
	return StoreConfig{Driver: driver, DSN: dsn}, nil
}

// LockConfig 选择按身份串行化生成的实现。
type LockConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func loadLockConfig() (LockConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("LOCK_BACKEND", "memory"))
	if backend != "memory" && backend != "redis" {
		return LockConfig{}, fmt.Errorf("invalid LOCK_BACKEND value: %q", backend)
	}

	db, err := parseOptionalIntEnv("REDIS_DB")
	if err != nil {
		return LockConfig{}, err
	}

	cfg := LockConfig{
		Backend:       backend,
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
	}
	if db != nil {
		cfg.RedisDB = *db
	}
	return cfg, nil
}

// PipelineConfig 描述回复流水线的可调参数。
type PipelineConfig struct {
	HistoryBudget      int
	ParagraphSentences int
	ScenePolicy        string
	RulesFile          string
	ScenesFile         string
}

func loadPipelineConfig() (PipelineConfig, error) {
	budget, err := parseOptionalIntEnv("HISTORY_TOKEN_BUDGET")
	if err != nil {
		return PipelineConfig{}, err
	}

	sentences, err := parseOptionalIntEnv("PARAGRAPH_SENTENCES")
	if err != nil {
		return PipelineConfig{}, err
	}

	policy := strings.ToLower(getEnvOrDefault("SCENE_GUARD_POLICY", "rewrite"))
	if policy != "rewrite" && policy != "strip" {
		return PipelineConfig{}, fmt.Errorf("invalid SCENE_GUARD_POLICY value: %q", policy)
	}

	cfg := PipelineConfig{
		HistoryBudget:      2400,
		ParagraphSentences: 2,
		ScenePolicy:        policy,
		RulesFile:          strings.TrimSpace(os.Getenv("RULES_FILE")),
		ScenesFile:         strings.TrimSpace(os.Getenv("SCENES_FILE")),
	}
	if budget != nil && *budget > 0 {
		cfg.HistoryBudget = *budget
	}
	if sentences != nil && *sentences > 0 {
		cfg.ParagraphSentences = *sentences
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	// 纯数字按秒处理
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
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

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
