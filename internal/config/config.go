package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values come from env (or a .env file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Twilio       TwilioConfig
	OpenAI       OpenAIConfig
	Conversation ConversationConfig
	Media        MediaConfig
	Notify       NotifyConfig
	Pricing      PricingConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally reachable origin the telephony provider
	// calls (and signs requests against), e.g. https://voice.example.com.
	PublicBaseURL string
	LogLevel      string
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
	Host     string
	Port     int
	Password string
	DB       int
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	APIBaseURL string

	// ValidateSignatures may only be disabled outside production.
	ValidateSignatures bool
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string

	ChatModel       string
	MaxTokens       int
	Temperature     float32
	PresencePenalty float32

	TTSModel string
	TTSVoice string
	TTSSpeed float64
}

// MaxTurnBudget leaves headroom under Twilio's 15s webhook timeout for the
// store round-trips that follow the upstream calls.
const MaxTurnBudget = 13 * time.Second

type ConversationConfig struct {
	// SilenceBudget is the number of consecutive empty speech results that
	// end the call with a closing line.
	SilenceBudget   int
	GatherTimeout   int
	SpeechTimeout   string
	UpstreamTimeout time.Duration
	SayVoice        string

	// TurnBudget caps the upstream work behind one webhook answer. Twilio
	// abandons a webhook after 15s, so it must not exceed MaxTurnBudget.
	TurnBudget time.Duration

	// Optional overrides for the scripted lines; empty keeps the built-in text.
	FallbackLine string
	ClosingLine  string
}

type MediaConfig struct {
	SigningSecret string
	TokenTTL      time.Duration
	CacheTTL      time.Duration
}

type NotifyConfig struct {
	SendGridAPIKey  string
	SendGridBaseURL string
	FromEmail       string
	DashboardURL    string
	Workers         int
	SendTimeout     time.Duration
}

type PricingConfig struct {
	RatePerMinuteMicros     int64
	BillingIncrementSeconds int
	Currency                string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("APP_PUBLIC_BASE_URL")), "/")
	c.App.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optionalInt("REDIS_DB")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.DB = n
	}

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.FromNumber = strings.TrimSpace(os.Getenv("TWILIO_FROM_NUMBER"))
	c.Twilio.APIBaseURL = strings.TrimSpace(os.Getenv("TWILIO_API_BASE_URL"))
	{
		b, err := optionalBool("TWILIO_VALIDATE_SIGNATURES", true)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Twilio.ValidateSignatures = b
	}

	c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	c.OpenAI.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	c.OpenAI.ChatModel = strings.TrimSpace(os.Getenv("OPENAI_CHAT_MODEL"))
	{
		n, err := optionalInt("OPENAI_MAX_TOKENS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.OpenAI.MaxTokens = n
	}
	{
		f, err := optionalFloat("OPENAI_TEMPERATURE")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.OpenAI.Temperature = float32(f)
	}
	{
		f, err := optionalFloat("OPENAI_PRESENCE_PENALTY")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.OpenAI.PresencePenalty = float32(f)
	}
	c.OpenAI.TTSModel = strings.TrimSpace(os.Getenv("OPENAI_TTS_MODEL"))
	c.OpenAI.TTSVoice = strings.TrimSpace(os.Getenv("OPENAI_TTS_VOICE"))
	{
		f, err := optionalFloat("OPENAI_TTS_SPEED")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.OpenAI.TTSSpeed = f
	}

	{
		n, err := optionalInt("CONVERSATION_SILENCE_BUDGET")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Conversation.SilenceBudget = n
	}
	{
		n, err := optionalInt("CONVERSATION_GATHER_TIMEOUT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Conversation.GatherTimeout = n
	}
	c.Conversation.SpeechTimeout = strings.TrimSpace(os.Getenv("CONVERSATION_SPEECH_TIMEOUT"))
	c.Conversation.UpstreamTimeout = mustDuration("CONVERSATION_UPSTREAM_TIMEOUT")
	c.Conversation.TurnBudget = mustDuration("CONVERSATION_TURN_BUDGET")
	c.Conversation.SayVoice = strings.TrimSpace(os.Getenv("CONVERSATION_SAY_VOICE"))
	c.Conversation.FallbackLine = strings.TrimSpace(os.Getenv("CONVERSATION_FALLBACK_LINE"))
	c.Conversation.ClosingLine = strings.TrimSpace(os.Getenv("CONVERSATION_CLOSING_LINE"))

	c.Media.SigningSecret = os.Getenv("MEDIA_SIGNING_SECRET")
	c.Media.TokenTTL = mustDuration("MEDIA_TOKEN_TTL")
	c.Media.CacheTTL = mustDuration("MEDIA_CACHE_TTL")

	c.Notify.SendGridAPIKey = os.Getenv("SENDGRID_API_KEY")
	c.Notify.SendGridBaseURL = strings.TrimSpace(os.Getenv("SENDGRID_BASE_URL"))
	c.Notify.FromEmail = strings.TrimSpace(os.Getenv("NOTIFY_FROM_EMAIL"))
	c.Notify.DashboardURL = strings.TrimSpace(os.Getenv("NOTIFY_DASHBOARD_URL"))
	{
		n, err := optionalInt("NOTIFY_WORKERS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Notify.Workers = n
	}
	c.Notify.SendTimeout = mustDuration("NOTIFY_SEND_TIMEOUT")

	{
		n, err := optionalInt("PRICING_RATE_PER_MINUTE_MICROS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Pricing.RatePerMinuteMicros = int64(n)
	}
	{
		n, err := optionalInt("PRICING_BILLING_INCREMENT_SECONDS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Pricing.BillingIncrementSeconds = n
	}
	c.Pricing.Currency = strings.TrimSpace(os.Getenv("PRICING_CURRENCY"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills in defaults for optional ones.
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
	if c.App.PublicBaseURL == "" {
		errs = append(errs, errors.New("APP_PUBLIC_BASE_URL is required"))
	} else if u, err := url.Parse(c.App.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("APP_PUBLIC_BASE_URL must be an absolute URL, got %q", c.App.PublicBaseURL))
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
	if strings.TrimSpace(c.DB.SSLMode) == "" {
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

	if c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required"))
	}
	if c.IsProduction() && !c.Twilio.ValidateSignatures {
		errs = append(errs, errors.New("TWILIO_VALIDATE_SIGNATURES cannot be disabled in production"))
	}
	if c.Twilio.APIBaseURL == "" {
		c.Twilio.APIBaseURL = "https://api.twilio.com"
	}

	if c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.OpenAI.ChatModel == "" {
		c.OpenAI.ChatModel = "gpt-4o-mini"
	}
	if c.OpenAI.MaxTokens <= 0 {
		c.OpenAI.MaxTokens = 85
	}
	if c.OpenAI.Temperature <= 0 {
		c.OpenAI.Temperature = 0.5
	}
	if c.OpenAI.PresencePenalty == 0 {
		c.OpenAI.PresencePenalty = 0.3
	}
	if c.OpenAI.TTSModel == "" {
		c.OpenAI.TTSModel = "tts-1"
	}
	if c.OpenAI.TTSVoice == "" {
		c.OpenAI.TTSVoice = "nova"
	}
	if c.OpenAI.TTSSpeed <= 0 {
		c.OpenAI.TTSSpeed = 0.95
	}
	if c.OpenAI.TTSSpeed < 0.25 || c.OpenAI.TTSSpeed > 4.0 {
		errs = append(errs, fmt.Errorf("OPENAI_TTS_SPEED must be within [0.25, 4.0], got %v", c.OpenAI.TTSSpeed))
	}

	if c.Conversation.SilenceBudget <= 0 {
		c.Conversation.SilenceBudget = 3
	}
	if c.Conversation.GatherTimeout <= 0 {
		c.Conversation.GatherTimeout = 5
	}
	if c.Conversation.SpeechTimeout == "" {
		c.Conversation.SpeechTimeout = "auto"
	}
	if c.Conversation.UpstreamTimeout <= 0 {
		c.Conversation.UpstreamTimeout = 10 * time.Second
	}
	if c.Conversation.TurnBudget <= 0 {
		c.Conversation.TurnBudget = 12 * time.Second
	}
	if c.Conversation.TurnBudget > MaxTurnBudget {
		errs = append(errs, fmt.Errorf("CONVERSATION_TURN_BUDGET must be at most %s, got %s", MaxTurnBudget, c.Conversation.TurnBudget))
	}
	if c.Conversation.UpstreamTimeout > c.Conversation.TurnBudget {
		errs = append(errs, errors.New("CONVERSATION_UPSTREAM_TIMEOUT must not exceed CONVERSATION_TURN_BUDGET"))
	}
	if c.Conversation.SayVoice == "" {
		c.Conversation.SayVoice = "Polly.Joanna"
	}

	if c.Media.SigningSecret == "" {
		errs = append(errs, errors.New("MEDIA_SIGNING_SECRET is required"))
	}
	if c.Media.TokenTTL <= 0 {
		c.Media.TokenTTL = 15 * time.Minute
	}
	if c.Media.CacheTTL <= 0 {
		c.Media.CacheTTL = time.Hour
	}
	if c.Media.CacheTTL < c.Media.TokenTTL {
		errs = append(errs, errors.New("MEDIA_CACHE_TTL must be at least MEDIA_TOKEN_TTL"))
	}

	if c.Notify.SendGridBaseURL == "" {
		c.Notify.SendGridBaseURL = "https://api.sendgrid.com"
	}
	if c.Notify.SendGridAPIKey != "" && c.Notify.FromEmail == "" {
		errs = append(errs, errors.New("NOTIFY_FROM_EMAIL is required when SENDGRID_API_KEY is set"))
	}
	if c.Notify.Workers <= 0 {
		c.Notify.Workers = 8
	}
	if c.Notify.SendTimeout <= 0 {
		c.Notify.SendTimeout = 30 * time.Second
	}

	if c.Pricing.RatePerMinuteMicros <= 0 {
		// $0.0085 per minute.
		c.Pricing.RatePerMinuteMicros = 8500
	}
	if c.Pricing.BillingIncrementSeconds <= 0 {
		c.Pricing.BillingIncrementSeconds = 1
	}
	if c.Pricing.Currency == "" {
		c.Pricing.Currency = "USD"
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

func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalFloat(key string) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}

func optionalBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
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
