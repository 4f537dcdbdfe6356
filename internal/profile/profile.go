// Package profile holds the engine configuration.
package profile

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Profile is the configuration for the consulting engine.
type Profile struct {
	// Mode can be "prod" or "dev".
	Mode string `mapstructure:"mode"`

	// Provider configuration.
	OpenAIAPIKey  string `mapstructure:"openai_api_key"`
	OpenAIBaseURL string `mapstructure:"openai_base_url"`

	// Embedding configuration.
	EmbeddingModel      string        `mapstructure:"embedding_model"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions"`
	EmbeddingMaxChars   int           `mapstructure:"embedding_max_chars"`
	EmbeddingTimeout    time.Duration `mapstructure:"embedding_timeout"`
	CacheCapacity       int           `mapstructure:"cache_capacity"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`

	// Retry policy for transient provider errors.
	RetryMaxAttempts int           `mapstructure:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	RetryMultiplier  float64       `mapstructure:"retry_multiplier"`

	// Vector source configuration. Driver is "postgres" or "sqlite".
	VectorDriver string `mapstructure:"vector_driver"`
	GlobalDSN    string `mapstructure:"global_dsn"`
	TenantDSN    string `mapstructure:"tenant_dsn"`

	// Retrieval configuration.
	SearchTimeout  time.Duration `mapstructure:"search_timeout"`
	FusionConstant int           `mapstructure:"fusion_constant"`
	FusionK        int           `mapstructure:"fusion_k"`
	DedupEnabled   bool          `mapstructure:"dedup_enabled"`
	DedupThreshold float64       `mapstructure:"dedup_threshold"`

	// Generation model tiers.
	ModelFast     string        `mapstructure:"model_fast"`
	ModelBalanced string        `mapstructure:"model_balanced"`
	ModelDeep     string        `mapstructure:"model_deep"`
	FastMaxTokens int           `mapstructure:"fast_max_tokens"`
	DeepMaxTokens int           `mapstructure:"deep_max_tokens"`
	GenTimeout    time.Duration `mapstructure:"generation_timeout"`

	// Client-side generation rate limit.
	GenRatePerSecond float64 `mapstructure:"generation_rate_per_second"`
	GenRateBurst     int     `mapstructure:"generation_rate_burst"`

	// Engine-wide cap on concurrent queries.
	MaxInFlight int64 `mapstructure:"max_in_flight"`
}

// IsDev reports whether the profile runs in development mode.
func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// Validate checks the profile for unusable values.
func (p *Profile) Validate() error {
	if p.OpenAIAPIKey == "" {
		return errors.New("openai_api_key is required")
	}
	if p.EmbeddingDimensions <= 0 {
		return errors.New("embedding_dimensions must be positive")
	}
	if p.RetryMaxAttempts < 1 {
		return errors.New("retry_max_attempts must be at least 1")
	}
	if p.FusionConstant < 1 {
		return errors.New("fusion_constant must be at least 1")
	}
	if p.DedupEnabled && (p.DedupThreshold <= 0 || p.DedupThreshold > 1) {
		return errors.New("dedup_threshold must be in (0, 1]")
	}
	switch p.VectorDriver {
	case "postgres", "sqlite":
	default:
		return errors.Errorf("unsupported vector driver: %s", p.VectorDriver)
	}
	if p.GlobalDSN == "" || p.TenantDSN == "" {
		return errors.New("global_dsn and tenant_dsn are required")
	}
	if p.ModelFast == "" || p.ModelBalanced == "" || p.ModelDeep == "" {
		return errors.New("all three model tiers must be configured")
	}
	if p.MaxInFlight < 1 {
		return errors.New("max_in_flight must be at least 1")
	}
	return nil
}

// Load reads configuration from the environment (VALTRIC_ prefix) and an
// optional config file, applying defaults for anything unset.
func Load(configFile string) (*Profile, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("valtric")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	var p Profile
	if err := v.Unmarshal(&p); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &p, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "dev")
	v.SetDefault("openai_base_url", "https://api.openai.com/v1")

	v.SetDefault("embedding_model", "text-embedding-3-small")
	v.SetDefault("embedding_dimensions", 1536)
	v.SetDefault("embedding_max_chars", 8000)
	v.SetDefault("embedding_timeout", 30*time.Second)
	v.SetDefault("cache_capacity", 2048)
	v.SetDefault("cache_ttl", time.Hour)

	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_base_delay", 500*time.Millisecond)
	v.SetDefault("retry_multiplier", 2.0)

	v.SetDefault("vector_driver", "postgres")
	v.SetDefault("search_timeout", 10*time.Second)
	v.SetDefault("fusion_constant", 60)
	v.SetDefault("fusion_k", 10)
	v.SetDefault("dedup_enabled", false)
	v.SetDefault("dedup_threshold", 0.9)

	v.SetDefault("model_fast", "gpt-5-mini")
	v.SetDefault("model_balanced", "gpt-5-mini")
	v.SetDefault("model_deep", "o4-mini")
	v.SetDefault("fast_max_tokens", 800)
	v.SetDefault("deep_max_tokens", 4000)
	v.SetDefault("generation_timeout", 2*time.Minute)

	v.SetDefault("generation_rate_per_second", 5.0)
	v.SetDefault("generation_rate_burst", 10)

	v.SetDefault("max_in_flight", 64)
}
