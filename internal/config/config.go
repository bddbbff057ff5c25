package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/AdamBeresnev/parlor/internal/battle"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	FailureContinue = "continue"
	FailureVoid     = "void"
)

type Config struct {
	Addr            string        `env:"PARLOR_ADDR" envDefault:":8080"`
	DBPath          string        `env:"PARLOR_DB_PATH" envDefault:"parlor.db"`
	MigrationsDir   string        `env:"PARLOR_MIGRATIONS_DIR" envDefault:"migrations"`
	SessionLifetime time.Duration `env:"PARLOR_SESSION_LIFETIME" envDefault:"24h"`
	// Debug skips every presentation delay.
	Debug    bool   `env:"PARLOR_DEBUG"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Tournament TournamentConfig `envPrefix:"TOURNAMENT_"`
	Betting    BettingConfig    `envPrefix:"BETTING_"`
	Generation GenerationConfig `envPrefix:"GENERATION_"`
	NATS       NATSConfig       `envPrefix:"NATS_"`
	OTEL       OTELConfig       `envPrefix:"OTEL_"`
	Discord    OAuthConfig      `envPrefix:"DISCORD_"`
	Google     OAuthConfig      `envPrefix:"GOOGLE_"`
	Admin      AdminConfig      `envPrefix:"ADMIN_"`
}

type TournamentConfig struct {
	Size          int           `env:"SIZE" envDefault:"8"`
	Theme         string        `env:"THEME" envDefault:"Cyberpunk Alleyway"`
	FailurePolicy string        `env:"FAILURE_POLICY" envDefault:"continue"`
	AnnounceDelay time.Duration `env:"ANNOUNCE_DELAY" envDefault:"5s"`
	MatchCooldown time.Duration `env:"MATCH_COOLDOWN" envDefault:"5s"`
	RoundCooldown time.Duration `env:"ROUND_COOLDOWN" envDefault:"10s"`
}

type BettingConfig struct {
	Enabled         bool            `env:"ENABLED" envDefault:"true"`
	Window          time.Duration   `env:"WINDOW" envDefault:"10s"`
	Min             decimal.Decimal `env:"MIN" envDefault:"1"`
	Max             decimal.Decimal `env:"MAX" envDefault:"0"`
	StartingBalance decimal.Decimal `env:"STARTING_BALANCE" envDefault:"1000"`
}

type GenerationConfig struct {
	WebhookBaseURL          string        `env:"WEBHOOK_BASE_URL"`
	SupermachineAPIKey      string        `env:"SUPERMACHINE_API_KEY"`
	SupermachineAuthURL     string        `env:"SUPERMACHINE_AUTH_URL" envDefault:"https://api.supermachine.art/v1/auth/token"`
	SupermachineGenerateURL string        `env:"SUPERMACHINE_GENERATE_URL" envDefault:"https://api.supermachine.art/v1/generate"`
	Racers                  int           `env:"RACERS" envDefault:"3"`
	PrimaryTimeout          time.Duration `env:"PRIMARY_TIMEOUT" envDefault:"180s"`

	PollinationsURL      string        `env:"POLLINATIONS_URL" envDefault:"https://image.pollinations.ai"`
	PollinationsInterval time.Duration `env:"POLLINATIONS_INTERVAL" envDefault:"3s"`

	NvidiaAPIKey       string   `env:"NVIDIA_API_KEY"`
	FluxURL            string   `env:"FLUX_URL" envDefault:"https://ai.api.nvidia.com/v1/genai/black-forest-labs/flux.1-schnell"`
	BlockedTerms       []string `env:"BLOCKED_TERMS" envSeparator:","`
	PreferHighFidelity bool     `env:"PREFER_HIGH_FIDELITY"`

	TextBaseURL     string        `env:"TEXT_BASE_URL" envDefault:"https://integrate.api.nvidia.com/v1"`
	TextModel       string        `env:"TEXT_MODEL" envDefault:"meta/llama-3.1-405b-instruct"`
	TextTimeout     time.Duration `env:"TEXT_TIMEOUT" envDefault:"30s"`
	VisionBaseURL   string        `env:"VISION_BASE_URL" envDefault:"https://ai.api.nvidia.com/v1/gr/meta/llama-3.2-11b-vision-instruct"`
	VisionModel     string        `env:"VISION_MODEL" envDefault:"meta/llama-3.2-11b-vision-instruct"`
	NarratorStyle   string        `env:"NARRATOR_STYLE"`
	CollectionStyle string        `env:"COLLECTION_STYLE"`
}

type NATSConfig struct {
	URL     string `env:"URL"`
	Subject string `env:"SUBJECT" envDefault:"parlor.events"`
}

type OTELConfig struct {
	Endpoint    string `env:"ENDPOINT"`
	Enabled     bool   `env:"ENABLED" envDefault:"true"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"parlor"`
}

// OAuthConfig holds one login provider's credentials. A provider without a
// key is not offered.
type OAuthConfig struct {
	Key         string `env:"KEY"`
	Secret      string `env:"SECRET"`
	CallbackURL string `env:"CALLBACK_URL"`
}

// AdminConfig lists the players allowed to reset a guild's session.
type AdminConfig struct {
	PlayerIDs []string `env:"PLAYER_IDS" envSeparator:","`
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not read .env file", "error", err)
	}
	return Parse()
}

// Parse reads configuration from the environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if !battle.ValidCapacity(c.Tournament.Size) {
		return fmt.Errorf("tournament size %d is not one of %v", c.Tournament.Size, battle.Capacities)
	}
	switch c.Tournament.FailurePolicy {
	case FailureContinue, FailureVoid:
	default:
		return fmt.Errorf("unknown failure policy %q", c.Tournament.FailurePolicy)
	}
	if c.Betting.Min.IsNegative() || c.Betting.Max.IsNegative() {
		return errors.New("bet limits must not be negative")
	}
	if c.Betting.Max.IsPositive() && c.Betting.Max.LessThan(c.Betting.Min) {
		return errors.New("maximum bet is below the minimum")
	}
	if c.Generation.Racers < 1 {
		return errors.New("at least one racer is needed")
	}
	return nil
}
