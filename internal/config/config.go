// Package config assembles the process configuration from defaults, an
// optional YAML file named by TRIAGE_CONFIG and the environment, in that
// order of precedence (environment wins).
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/OFFIS-RIT/triage/internal/util"
	"github.com/OFFIS-RIT/triage/pkg/ai"
	oai "github.com/OFFIS-RIT/triage/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/triage/pkg/ai/openai"
	"github.com/OFFIS-RIT/triage/pkg/common"
	"github.com/OFFIS-RIT/triage/pkg/loader/auto"
	"github.com/OFFIS-RIT/triage/pkg/loader/pdf"
	"github.com/OFFIS-RIT/triage/pkg/triage"

	"gopkg.in/yaml.v3"
)

const (
	IndexMemory   = "memory"
	IndexPostgres = "pgvector"
)

type AI struct {
	Adapter       string        `yaml:"adapter"`
	ChatURL       string        `yaml:"chat_url"`
	ChatKey       string        `yaml:"chat_key"`
	ChatModel     string        `yaml:"chat_model"`
	EmbedURL      string        `yaml:"embed_url"`
	EmbedKey      string        `yaml:"embed_key"`
	EmbedModel    string        `yaml:"embed_model"`
	AudioURL      string        `yaml:"audio_url"`
	AudioKey      string        `yaml:"audio_key"`
	AudioModel    string        `yaml:"audio_model"`
	AudioLanguage string        `yaml:"audio_language"`
	Timeout       time.Duration `yaml:"timeout"`
	Concurrency   int           `yaml:"concurrency"`
}

type Engine struct {
	EmbedDimensions  int           `yaml:"embed_dimensions"`
	EmbedBatchSize   int           `yaml:"embed_batch_size"`
	EmbedRPS         float64       `yaml:"embed_rps"`
	ChunkSize        int           `yaml:"chunk_size"`
	ChunkOverlap     int           `yaml:"chunk_overlap"`
	MaxContextLength int           `yaml:"max_context_length"`
	TopK             int           `yaml:"top_k"`
	MinScore         float64       `yaml:"min_score"`
	TokenEncoding    string        `yaml:"token_encoding"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
	Temperature      float64       `yaml:"temperature"`
}

type Index struct {
	Backend     string        `yaml:"backend"`
	DatabaseURL string        `yaml:"database_url"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
}

// Queue configures RabbitMQ. With Enabled unset the server does its work
// inline instead of publishing jobs.
type Queue struct {
	Enabled     bool   `yaml:"enabled"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Host        string `yaml:"host"`
	Port        string `yaml:"port"`
	Concurrency int    `yaml:"concurrency"`
}

type S3 struct {
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

type Gateway struct {
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	Instance   string `yaml:"instance"`
	WebhookURL string `yaml:"webhook_url"`
}

type Corpus struct {
	Dir   string `yaml:"dir"`
	Seed  bool   `yaml:"seed"`
	Watch bool   `yaml:"watch"`
	// Points cut from the top and bottom of every PDF page to drop
	// running headers and footers.
	PDFCropTop    float64 `yaml:"pdf_crop_top"`
	PDFCropBottom float64 `yaml:"pdf_crop_bottom"`
}

type Config struct {
	AI      AI      `yaml:"ai"`
	Engine  Engine  `yaml:"engine"`
	Index   Index   `yaml:"index"`
	Queue   Queue   `yaml:"queue"`
	S3      S3      `yaml:"s3"`
	Gateway Gateway `yaml:"gateway"`
	Corpus  Corpus  `yaml:"corpus"`
	Port    string  `yaml:"port"`
	// APIKey guards /api routes as a bearer token when set.
	APIKey string `yaml:"api_key"`
	Debug  bool   `yaml:"debug"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		AI: AI{
			Adapter:       "openai",
			AudioLanguage: "pt",
			Timeout:       2 * time.Minute,
			Concurrency:   4,
		},
		Engine: Engine{
			EmbedBatchSize:   64,
			ChunkSize:        1000,
			ChunkOverlap:     200,
			MaxContextLength: 2000,
			TopK:             10,
			TokenEncoding:    "cl100k_base",
			RetryAttempts:    3,
			CallTimeout:      30 * time.Second,
		},
		Index: Index{
			Backend: IndexMemory,
			LockTTL: 30 * time.Second,
		},
		Queue: Queue{
			Host:        "localhost",
			Port:        "5672",
			Concurrency: 4,
		},
		Port: "8080",
	}
}

// Load reads the YAML overlay, if any, and the environment, then validates
// the result.
func Load() (Config, error) {
	cfg := Default()
	if path := util.GetEnv("TRIAGE_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return common.ConfigError("read config file %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return common.ConfigError("parse config file %s: %v", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.AI.Adapter = util.GetEnvString("AI_ADAPTER", c.AI.Adapter)
	c.AI.ChatURL = util.GetEnvString("AI_CHAT_URL", c.AI.ChatURL)
	c.AI.ChatKey = util.GetEnvString("AI_CHAT_KEY", c.AI.ChatKey)
	c.AI.ChatModel = util.GetEnvString("AI_CHAT_MODEL", c.AI.ChatModel)
	c.AI.EmbedURL = util.GetEnvString("AI_EMBED_URL", c.AI.EmbedURL)
	c.AI.EmbedKey = util.GetEnvString("AI_EMBED_KEY", c.AI.EmbedKey)
	c.AI.EmbedModel = util.GetEnvString("AI_EMBED_MODEL", c.AI.EmbedModel)
	c.AI.AudioURL = util.GetEnvString("AI_AUDIO_URL", c.AI.AudioURL)
	c.AI.AudioKey = util.GetEnvString("AI_AUDIO_KEY", c.AI.AudioKey)
	c.AI.AudioModel = util.GetEnvString("AI_AUDIO_MODEL", c.AI.AudioModel)
	c.AI.AudioLanguage = util.GetEnvString("AI_AUDIO_LANGUAGE", c.AI.AudioLanguage)
	c.AI.Timeout = util.GetEnvDuration("AI_TIMEOUT", c.AI.Timeout)
	c.AI.Concurrency = util.GetEnvInt("AI_CONCURRENCY", c.AI.Concurrency)

	c.Engine.EmbedDimensions = util.GetEnvInt("EMBED_DIMENSIONS", c.Engine.EmbedDimensions)
	c.Engine.EmbedBatchSize = util.GetEnvInt("EMBED_BATCH_SIZE", c.Engine.EmbedBatchSize)
	c.Engine.EmbedRPS = util.GetEnvNumeric("EMBED_RPS", c.Engine.EmbedRPS)
	c.Engine.ChunkSize = util.GetEnvInt("CHUNK_SIZE", c.Engine.ChunkSize)
	c.Engine.ChunkOverlap = util.GetEnvInt("CHUNK_OVERLAP", c.Engine.ChunkOverlap)
	c.Engine.MaxContextLength = util.GetEnvInt("MAX_CONTEXT_LENGTH", c.Engine.MaxContextLength)
	c.Engine.TopK = util.GetEnvInt("TOP_K", c.Engine.TopK)
	c.Engine.MinScore = util.GetEnvNumeric("MIN_SCORE", c.Engine.MinScore)
	c.Engine.TokenEncoding = util.GetEnvString("TOKEN_ENCODING", c.Engine.TokenEncoding)
	c.Engine.RetryAttempts = util.GetEnvInt("RETRY_ATTEMPTS", c.Engine.RetryAttempts)
	c.Engine.CallTimeout = util.GetEnvDuration("CALL_TIMEOUT", c.Engine.CallTimeout)
	c.Engine.Temperature = util.GetEnvNumeric("TEMPERATURE", c.Engine.Temperature)

	c.Index.Backend = util.GetEnvString("INDEX_BACKEND", c.Index.Backend)
	c.Index.DatabaseURL = util.GetEnvString("DATABASE_URL", c.Index.DatabaseURL)
	c.Index.LockTTL = util.GetEnvDuration("INGEST_LOCK_TTL", c.Index.LockTTL)

	c.Queue.Enabled = util.GetEnvBool("QUEUE_ENABLED", c.Queue.Enabled)
	c.Queue.User = util.GetEnvString("RABBITMQ_USER", c.Queue.User)
	c.Queue.Password = util.GetEnvString("RABBITMQ_PASSWORD", c.Queue.Password)
	c.Queue.Host = util.GetEnvString("RABBITMQ_HOST", c.Queue.Host)
	c.Queue.Port = util.GetEnvString("RABBITMQ_PORT", c.Queue.Port)
	c.Queue.Concurrency = util.GetEnvInt("WORKER_CONCURRENCY", c.Queue.Concurrency)

	c.S3.Bucket = util.GetEnvString("S3_BUCKET", c.S3.Bucket)
	c.S3.Endpoint = util.GetEnvString("S3_ENDPOINT", c.S3.Endpoint)
	c.S3.Region = util.GetEnvString("S3_REGION", c.S3.Region)
	c.S3.AccessKey = util.GetEnvString("S3_ACCESS_KEY", c.S3.AccessKey)
	c.S3.SecretKey = util.GetEnvString("S3_SECRET_KEY", c.S3.SecretKey)

	c.Gateway.URL = util.GetEnvString("GATEWAY_URL", c.Gateway.URL)
	c.Gateway.APIKey = util.GetEnvString("GATEWAY_API_KEY", c.Gateway.APIKey)
	c.Gateway.Instance = util.GetEnvString("GATEWAY_INSTANCE", c.Gateway.Instance)
	c.Gateway.WebhookURL = util.GetEnvString("GATEWAY_WEBHOOK_URL", c.Gateway.WebhookURL)

	c.Corpus.Dir = util.GetEnvString("CORPUS_DIR", c.Corpus.Dir)
	c.Corpus.Seed = util.GetEnvBool("CORPUS_SEED", c.Corpus.Seed)
	c.Corpus.Watch = util.GetEnvBool("CORPUS_WATCH", c.Corpus.Watch)
	c.Corpus.PDFCropTop = util.GetEnvNumeric("PDF_CROP_TOP", c.Corpus.PDFCropTop)
	c.Corpus.PDFCropBottom = util.GetEnvNumeric("PDF_CROP_BOTTOM", c.Corpus.PDFCropBottom)

	c.Port = util.GetEnvString("PORT", c.Port)
	c.APIKey = util.GetEnvString("API_KEY", c.APIKey)
	c.Debug = util.GetEnvBool("DEBUG", c.Debug)
}

// Validate fails fast on settings the engine cannot start with.
func (c Config) Validate() error {
	switch c.AI.Adapter {
	case "openai", "ollama":
	default:
		return common.ConfigError("unknown AI_ADAPTER %q", c.AI.Adapter)
	}
	if c.AI.ChatModel == "" || c.AI.EmbedModel == "" {
		return common.ConfigError("AI_CHAT_MODEL and AI_EMBED_MODEL are required")
	}
	if c.AI.Adapter == "openai" && c.AI.ChatKey == "" {
		return common.ConfigError("AI_CHAT_KEY is required for the openai adapter")
	}

	switch c.Index.Backend {
	case IndexMemory:
	case IndexPostgres:
		if c.Index.DatabaseURL == "" {
			return common.ConfigError("DATABASE_URL is required for the %s index", IndexPostgres)
		}
	default:
		return common.ConfigError("unknown INDEX_BACKEND %q", c.Index.Backend)
	}

	if c.Gateway.URL != "" {
		if _, err := url.ParseRequestURI(c.Gateway.URL); err != nil {
			return common.ConfigError("invalid GATEWAY_URL: %v", err)
		}
		if c.Gateway.Instance == "" {
			return common.ConfigError("GATEWAY_INSTANCE is required when GATEWAY_URL is set")
		}
	}
	if c.Corpus.PDFCropTop < 0 || c.Corpus.PDFCropBottom < 0 {
		return common.ConfigError("PDF_CROP_TOP and PDF_CROP_BOTTOM must not be negative")
	}
	if c.Queue.Concurrency <= 0 {
		return common.ConfigError("WORKER_CONCURRENCY must be positive, got %d", c.Queue.Concurrency)
	}

	return c.EngineConfig().Validate()
}

// EngineConfig maps the engine settings onto triage.Config.
func (c Config) EngineConfig() triage.Config {
	return triage.Config{
		EmbedDimensions:  c.Engine.EmbedDimensions,
		EmbedBatchSize:   c.Engine.EmbedBatchSize,
		EmbedRPS:         c.Engine.EmbedRPS,
		ChunkSize:        c.Engine.ChunkSize,
		ChunkOverlap:     c.Engine.ChunkOverlap,
		MaxContextLength: c.Engine.MaxContextLength,
		TopK:             c.Engine.TopK,
		MinScore:         c.Engine.MinScore,
		TokenEncoding:    c.Engine.TokenEncoding,
		RetryAttempts:    c.Engine.RetryAttempts,
		CallTimeout:      c.Engine.CallTimeout,
		ChatModel:        c.AI.ChatModel,
		Temperature:      c.Engine.Temperature,
	}
}

// LoaderParams configures the format loaders.
func (c Config) LoaderParams() auto.Params {
	return auto.Params{
		PDF: pdf.Params{CropTop: c.Corpus.PDFCropTop, CropBottom: c.Corpus.PDFCropBottom},
	}
}

// AMQPURL builds the RabbitMQ connection string.
func (c Config) AMQPURL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.Queue.User, c.Queue.Password),
		Host:   c.Queue.Host + ":" + c.Queue.Port,
		Path:   "/",
	}
	return u.String()
}

// NewAIClient builds the model client selected by AI.Adapter.
func (c Config) NewAIClient() (ai.Client, error) {
	switch strings.ToLower(c.AI.Adapter) {
	case "ollama":
		client, err := oai.NewOllamaClient(oai.NewOllamaClientParams{
			ChatModel:             c.AI.ChatModel,
			EmbeddingModel:        c.AI.EmbedModel,
			BaseURL:               c.AI.ChatURL,
			ApiKey:                c.AI.ChatKey,
			Timeout:               c.AI.Timeout,
			MaxConcurrentRequests: int64(c.AI.Concurrency),
		})
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		return client, nil
	default:
		return gai.NewOpenAIClient(gai.NewOpenAIClientParams{
			ChatModel:               c.AI.ChatModel,
			EmbeddingModel:          c.AI.EmbedModel,
			AudioModel:              c.AI.AudioModel,
			Dimensions:              c.Engine.EmbedDimensions,
			ChatURL:                 c.AI.ChatURL,
			ChatKey:                 c.AI.ChatKey,
			EmbeddingURL:            c.AI.EmbedURL,
			EmbeddingKey:            c.AI.EmbedKey,
			AudioURL:                c.AI.AudioURL,
			AudioKey:                c.AI.AudioKey,
			Timeout:                 c.AI.Timeout,
			MaxConcurrentEmbeddings: int64(c.AI.Concurrency),
		}), nil
	}
}
