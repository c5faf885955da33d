package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process and the ops CLI.
// All values come from env (optionally seeded from a .env file by the process entrypoint).
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	LiveKit  LiveKitConfig
	Reaper   ReaperConfig
	Tasks    TasksConfig
	Analysis AnalysisConfig
	RTC      RTCConfig
}

type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type LiveKitConfig struct {
	URL       string
	APIKey    string
	APISecret string

	// AgentName is the dispatch name the voice agent worker registers with.
	AgentName string

	TokenTTL      time.Duration
	VerifyWebhook bool
}

type ReaperConfig struct {
	// Interval of the background sweep. Zero disables the loop; webhook-triggered passes still run.
	Interval   time.Duration
	MinRoomAge time.Duration
}

type TasksConfig struct {
	Backend   string
	Workers   int
	QueueSize int
}

type AnalysisConfig struct {
	BaseURL       string
	InternalToken string
	Timeout       time.Duration
}

type RTCConfig struct {
	SystemCaller          string
	TakeoverMuteAgentTrks bool
}

const (
	TasksBackendMemory = "memory"
	TasksBackendAsynq  = "asynq"
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	c.App.Port, parseErrs = appendParseErr(parseErrs, mustInt("APP_PORT"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = appendParseErr(parseErrs, mustInt("DB_PORT"))
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = appendParseErr(parseErrs, mustInt("REDIS_PORT"))

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = optDuration("JWT_REFRESH_TTL")

	c.LiveKit.URL = strings.TrimSpace(os.Getenv("LIVEKIT_URL"))
	c.LiveKit.APIKey = strings.TrimSpace(os.Getenv("LIVEKIT_API_KEY"))
	c.LiveKit.APISecret = os.Getenv("LIVEKIT_API_SECRET")
	c.LiveKit.AgentName = strings.TrimSpace(os.Getenv("LIVEKIT_AGENT_NAME"))
	c.LiveKit.TokenTTL = optDuration("LIVEKIT_TOKEN_TTL")
	c.LiveKit.VerifyWebhook = optBool("LIVEKIT_WEBHOOK_VERIFY", true)

	c.Reaper.Interval = optDurationDefault("REAPER_INTERVAL", time.Minute)
	c.Reaper.MinRoomAge = optDuration("REAPER_MIN_ROOM_AGE")

	c.Tasks.Backend = strings.TrimSpace(os.Getenv("TASKS_BACKEND"))
	c.Tasks.Workers = optInt("TASKS_WORKERS")
	c.Tasks.QueueSize = optInt("TASKS_QUEUE_SIZE")

	c.Analysis.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("ANALYSIS_API_URL")), "/")
	c.Analysis.InternalToken = os.Getenv("API_INTERNAL_TOKEN")
	c.Analysis.Timeout = optDuration("ANALYSIS_TIMEOUT")

	c.RTC.SystemCaller = strings.TrimSpace(os.Getenv("RTC_SYSTEM_CALLER"))
	c.RTC.TakeoverMuteAgentTrks = optBool("TAKEOVER_MUTE_AGENT_TRACKS", false)

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.LiveKit.URL == "" {
		errs = append(errs, errors.New("LIVEKIT_URL is required"))
	} else if !strings.HasPrefix(c.LiveKit.URL, "ws://") && !strings.HasPrefix(c.LiveKit.URL, "wss://") {
		errs = append(errs, fmt.Errorf("LIVEKIT_URL must start with ws:// or wss://, got %q", c.LiveKit.URL))
	}
	if c.LiveKit.APIKey == "" {
		errs = append(errs, errors.New("LIVEKIT_API_KEY is required"))
	}
	if c.LiveKit.APISecret == "" {
		errs = append(errs, errors.New("LIVEKIT_API_SECRET is required"))
	}
	if c.LiveKit.AgentName == "" {
		c.LiveKit.AgentName = "sodam"
	}
	if c.LiveKit.TokenTTL <= 0 {
		c.LiveKit.TokenTTL = time.Hour
	}
	if c.IsProduction() && !c.LiveKit.VerifyWebhook {
		errs = append(errs, errors.New("LIVEKIT_WEBHOOK_VERIFY cannot be disabled in production"))
	}

	if c.Reaper.Interval < 0 {
		errs = append(errs, fmt.Errorf("REAPER_INTERVAL must not be negative, got %s", c.Reaper.Interval))
	}
	if c.Reaper.MinRoomAge < 0 {
		errs = append(errs, fmt.Errorf("REAPER_MIN_ROOM_AGE must not be negative, got %s", c.Reaper.MinRoomAge))
	}

	if c.Tasks.Backend == "" {
		c.Tasks.Backend = TasksBackendMemory
	}
	if c.Tasks.Backend != TasksBackendMemory && c.Tasks.Backend != TasksBackendAsynq {
		errs = append(errs, fmt.Errorf("TASKS_BACKEND must be one of memory, asynq, got %q", c.Tasks.Backend))
	}
	if c.Tasks.Workers <= 0 {
		c.Tasks.Workers = 4
	}
	if c.Tasks.QueueSize <= 0 {
		c.Tasks.QueueSize = 256
	}

	if c.Analysis.Timeout <= 0 {
		c.Analysis.Timeout = 5 * time.Second
	}
	if c.IsProduction() && c.Analysis.BaseURL == "" {
		errs = append(errs, errors.New("ANALYSIS_API_URL is required in production"))
	}

	if c.RTC.SystemCaller == "" {
		c.RTC.SystemCaller = "system"
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return 0
	}
	return n
}

func optDuration(key string) time.Duration {
	return optDurationDefault(key, 0)
}

func optDurationDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func optBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
