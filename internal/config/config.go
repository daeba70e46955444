// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, the store, the Discord connection, the
// generative model, identity-resolution retries, and observability.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// CronParser accepts 5- or 6-field specs and descriptors such as "@every 5m".
var CronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the store.
type DBConfig struct {
	Driver string // DB_DRIVER: sqlite|postgres
	Path   string // DB_PATH (sqlite)
	URL    string // DATABASE_URL (postgres)
}

// DiscordConfig configures the Discord transport.
type DiscordConfig struct {
	Enabled bool   // DISCORD_ENABLED; defaults to true when a token is set
	Token   string // DISCORD_TOKEN
	BotName string // BOT_NAME, matched as a word to address the bot
}

// ModelConfig configures the generative model.
type ModelConfig struct {
	APIKey          string        // GEMINI_API_KEY; empty means every call falls back
	Model           string        // GEMINI_MODEL
	BaseURL         string        // GEMINI_BASE_URL
	Timeout         time.Duration // GENERATE_TIMEOUT
	Temperature     float64       // GEMINI_TEMPERATURE
	MaxOutputTokens int           // GEMINI_MAX_OUTPUT_TOKENS
}

// ResolveConfig bounds identity-resolution retries and the link cache.
type ResolveConfig struct {
	MaxAttempts  int           // RESOLVE_MAX_ATTEMPTS
	BaseBackoff  time.Duration // RESOLVE_BASE_BACKOFF
	MaxBackoff   time.Duration // RESOLVE_MAX_BACKOFF
	Budget       time.Duration // RESOLVE_BUDGET
	LinkCacheTTL time.Duration // LINK_CACHE_TTL; 0 disables the cache
	LinkCacheMax int           // LINK_CACHE_SIZE
}

// ConversationConfig tunes message handling.
type ConversationConfig struct {
	HistoryTurns int           // HISTORY_TURNS
	UserRPS      float64       // USER_RPS
	UserBurst    int           // USER_BURST
	EventTTL     time.Duration // EVENT_DEDUP_TTL
}

// KnowledgeConfig locates and refreshes the knowledge file.
type KnowledgeConfig struct {
	Path        string        // KNOWLEDGE_PATH; empty disables knowledge
	TTL         time.Duration // KNOWLEDGE_TTL
	Watch       bool          // KNOWLEDGE_WATCH
	RefreshCron string        // KNOWLEDGE_REFRESH_CRON
}

// BackfillConfig tunes the ledger migration.
type BackfillConfig struct {
	PageSize int    // BACKFILL_PAGE_SIZE
	Cron     string // BACKFILL_CRON; empty disables the periodic run
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test
	ShutdownTimeout   time.Duration // grace period for in-flight work

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	DB           DBConfig
	Discord      DiscordConfig
	Model        ModelConfig
	Resolve      ResolveConfig
	Conversation ConversationConfig
	Knowledge    KnowledgeConfig
	Backfill     BackfillConfig

	// Rate limiting (admin API)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// LoadDotenv loads KEY=VALUE pairs from the given files (default ".env")
// without overriding variables already set. Missing files are ignored.
func LoadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 20*time.Second),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "athena.db"),
			URL:    getenv("DATABASE_URL", ""),
		},
		Discord: DiscordConfig{
			Enabled: getbool("DISCORD_ENABLED", getenv("DISCORD_TOKEN", "") != ""),
			Token:   getenv("DISCORD_TOKEN", ""),
			BotName: getenv("BOT_NAME", "athena"),
		},
		Model: ModelConfig{
			APIKey:          getenv("GEMINI_API_KEY", ""),
			Model:           getenv("GEMINI_MODEL", "gemini-1.5-flash"),
			BaseURL:         getenv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/"),
			Timeout:         getdur("GENERATE_TIMEOUT", 30*time.Second),
			Temperature:     getfloat("GEMINI_TEMPERATURE", 0.7),
			MaxOutputTokens: getint("GEMINI_MAX_OUTPUT_TOKENS", 500),
		},
		Resolve: ResolveConfig{
			MaxAttempts:  getint("RESOLVE_MAX_ATTEMPTS", 8),
			BaseBackoff:  getdur("RESOLVE_BASE_BACKOFF", 20*time.Millisecond),
			MaxBackoff:   getdur("RESOLVE_MAX_BACKOFF", 500*time.Millisecond),
			Budget:       getdur("RESOLVE_BUDGET", 5*time.Second),
			LinkCacheTTL: getdur("LINK_CACHE_TTL", 10*time.Minute),
			LinkCacheMax: getint("LINK_CACHE_SIZE", 10000),
		},
		Conversation: ConversationConfig{
			HistoryTurns: getint("HISTORY_TURNS", 10),
			UserRPS:      getfloat("USER_RPS", 0.5),
			UserBurst:    getint("USER_BURST", 3),
			EventTTL:     getdur("EVENT_DEDUP_TTL", 24*time.Hour),
		},
		Knowledge: KnowledgeConfig{
			Path:        getenv("KNOWLEDGE_PATH", "data/knowledge.md"),
			TTL:         getdur("KNOWLEDGE_TTL", 5*time.Minute),
			Watch:       getbool("KNOWLEDGE_WATCH", true),
			RefreshCron: getenv("KNOWLEDGE_REFRESH_CRON", "@every 5m"),
		},
		Backfill: BackfillConfig{
			PageSize: getint("BACKFILL_PAGE_SIZE", 500),
			Cron:     getenv("BACKFILL_CRON", ""),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "athena"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" {
		cfg.DB.Driver = "postgres"
	}

	return cfg, cfg.validate()
}

func (cfg Config) validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}

	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return errors.New("DB_DRIVER must be sqlite or postgres")
	}

	if cfg.Discord.Enabled && strings.TrimSpace(cfg.Discord.Token) == "" {
		return errors.New("DISCORD_TOKEN is required when DISCORD_ENABLED is true")
	}
	if strings.TrimSpace(cfg.Discord.BotName) == "" {
		return errors.New("BOT_NAME must not be empty")
	}
	if cfg.Model.Timeout <= 0 {
		return errors.New("GENERATE_TIMEOUT must be > 0")
	}
	if cfg.Model.Temperature < 0 || cfg.Model.Temperature > 2 {
		return errors.New("GEMINI_TEMPERATURE must be in [0,2]")
	}
	if cfg.Model.MaxOutputTokens <= 0 {
		return errors.New("GEMINI_MAX_OUTPUT_TOKENS must be > 0")
	}

	if cfg.Resolve.MaxAttempts < 1 {
		return errors.New("RESOLVE_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Resolve.BaseBackoff <= 0 || cfg.Resolve.MaxBackoff < cfg.Resolve.BaseBackoff {
		return errors.New("RESOLVE_BASE_BACKOFF must be > 0 and <= RESOLVE_MAX_BACKOFF")
	}
	if cfg.Resolve.Budget <= 0 {
		return errors.New("RESOLVE_BUDGET must be > 0")
	}
	if cfg.Resolve.LinkCacheTTL < 0 || cfg.Resolve.LinkCacheMax < 0 {
		return errors.New("LINK_CACHE_TTL and LINK_CACHE_SIZE must be >= 0")
	}

	if cfg.Conversation.HistoryTurns < 0 {
		return errors.New("HISTORY_TURNS must be >= 0")
	}
	if cfg.Conversation.UserRPS <= 0 || cfg.Conversation.UserBurst < 1 {
		return errors.New("USER_RPS must be > 0 and USER_BURST >= 1")
	}
	if cfg.Conversation.EventTTL <= 0 {
		return errors.New("EVENT_DEDUP_TTL must be > 0")
	}

	if cfg.Knowledge.TTL < 0 {
		return errors.New("KNOWLEDGE_TTL must be >= 0")
	}
	if err := validCron("KNOWLEDGE_REFRESH_CRON", cfg.Knowledge.RefreshCron); err != nil {
		return err
	}
	if cfg.Backfill.PageSize < 1 {
		return errors.New("BACKFILL_PAGE_SIZE must be >= 1")
	}
	if err := validCron("BACKFILL_CRON", cfg.Backfill.Cron); err != nil {
		return err
	}

	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

func validCron(key, spec string) error {
	if strings.TrimSpace(spec) == "" {
		return nil
	}
	if _, err := CronParser.Parse(spec); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
