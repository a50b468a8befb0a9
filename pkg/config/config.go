// Package config loads speechjob settings from a YAML file and the environment.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/harunnryd/speechjob/pkg/configutil"
	"github.com/harunnryd/speechjob/pkg/errorsx"
	"github.com/harunnryd/speechjob/pkg/logging"
	"github.com/harunnryd/speechjob/pkg/resilience"
	"github.com/harunnryd/speechjob/pkg/speechkit"
	"github.com/harunnryd/speechjob/pkg/store"
)

// EnvPrefix is prepended to every environment override, e.g. SPEECHJOB_API_KEY.
const EnvPrefix = "SPEECHJOB"

type Config struct {
	APIKey        string              `mapstructure:"api_key"`
	Endpoints     EndpointsConfig     `mapstructure:"endpoints"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Recognition   map[string]any      `mapstructure:"recognition"`
	Poll          PollConfig          `mapstructure:"poll"`
	Output        OutputConfig        `mapstructure:"output"`
	Store         StoreConfig         `mapstructure:"store"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
}

type EndpointsConfig struct {
	SubmitURL    string `mapstructure:"submit_url"`
	OperationURL string `mapstructure:"operation_url"`
}

type HTTPConfig struct {
	TimeoutMS int    `mapstructure:"timeout_ms"`
	UserAgent string `mapstructure:"user_agent"`
}

type PollConfig struct {
	InitialDelayMS int     `mapstructure:"initial_delay_ms"`
	BaseDelayMS    int     `mapstructure:"base_delay_ms"`
	MaxDelayMS     int     `mapstructure:"max_delay_ms"`
	MaxElapsedMS   int     `mapstructure:"max_elapsed_ms"`
	Multiplier     float64 `mapstructure:"multiplier"`
	Jitter         float64 `mapstructure:"jitter"`
}

type OutputConfig struct {
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	RedisURL  string `mapstructure:"redis_url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type ObservabilityConfig struct {
	ArtifactsDir    string `mapstructure:"artifacts_dir"`
	MetricsTextfile string `mapstructure:"metrics_textfile"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_key", "")
	v.SetDefault("endpoints.submit_url", speechkit.DefaultSubmitURL)
	v.SetDefault("endpoints.operation_url", speechkit.DefaultOperationURL)
	v.SetDefault("http.timeout_ms", int(speechkit.DefaultTimeout/time.Millisecond))
	v.SetDefault("http.user_agent", speechkit.DefaultUserAgent)
	v.SetDefault("recognition", map[string]any{})
	v.SetDefault("poll.initial_delay_ms", 10000)
	v.SetDefault("poll.base_delay_ms", 5000)
	v.SetDefault("poll.max_delay_ms", 60000)
	v.SetDefault("poll.max_elapsed_ms", 3600000)
	v.SetDefault("poll.multiplier", 2.0)
	v.SetDefault("poll.jitter", 0.1)
	v.SetDefault("output.path", "transcript.txt")
	v.SetDefault("output.retention_days", 0)
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.path", store.DefaultFilePath)
	v.SetDefault("store.redis_url", "")
	v.SetDefault("store.key_prefix", store.DefaultKeyPrefix)
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.metrics_textfile", "")
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// LoadConfig reads path (optional) and overlays SPEECHJOB_* environment variables.
// ${VAR} references inside string values are expanded.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errorsx.New(errorsx.ReasonConfig, "read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errorsx.New(errorsx.ReasonConfig, "unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, errorsx.New(errorsx.ReasonConfig, "validate config: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem found in c. The API key is checked separately
// by RequireCredentials since local commands run without it.
func (c *Config) Validate() error {
	var result *multierror.Error
	if err := configutil.RequireString(c.Endpoints.SubmitURL, "endpoints.submit_url"); err != nil {
		result = multierror.Append(result, err)
	}
	if err := configutil.RequireString(c.Endpoints.OperationURL, "endpoints.operation_url"); err != nil {
		result = multierror.Append(result, err)
	}
	if c.HTTP.TimeoutMS <= 0 {
		result = multierror.Append(result, fmt.Errorf("http.timeout_ms must be positive"))
	}
	if _, err := speechkit.DecodeRecognitionSettings(c.Recognition); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Poll.InitialDelayMS < 0 {
		result = multierror.Append(result, fmt.Errorf("poll.initial_delay_ms must not be negative"))
	}
	if c.Poll.BaseDelayMS <= 0 {
		result = multierror.Append(result, fmt.Errorf("poll.base_delay_ms must be positive"))
	}
	if c.Poll.MaxDelayMS < c.Poll.BaseDelayMS {
		result = multierror.Append(result, fmt.Errorf("poll.max_delay_ms must be >= poll.base_delay_ms"))
	}
	if c.Poll.MaxElapsedMS < 0 {
		result = multierror.Append(result, fmt.Errorf("poll.max_elapsed_ms must not be negative"))
	}
	if c.Poll.Multiplier < 1 {
		result = multierror.Append(result, fmt.Errorf("poll.multiplier must be >= 1"))
	}
	if c.Poll.Jitter < 0 || c.Poll.Jitter > 1 {
		result = multierror.Append(result, fmt.Errorf("poll.jitter must be within [0, 1]"))
	}
	if c.Output.RetentionDays < 0 {
		result = multierror.Append(result, fmt.Errorf("output.retention_days must not be negative"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case "", "file", "none", "memory":
	case "redis":
		if strings.TrimSpace(c.Store.RedisURL) == "" {
			result = multierror.Append(result, fmt.Errorf("store.redis_url is required for the redis driver"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("store.driver %q is not supported", c.Store.Driver))
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		result = multierror.Append(result, fmt.Errorf("log_level %q is not supported", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		result = multierror.Append(result, fmt.Errorf("log_format %q is not supported", c.LogFormat))
	}
	return result.ErrorOrNil()
}

// RequireCredentials reports a missing API key. Call it before talking to the vendor.
func (c Config) RequireCredentials() error {
	if err := configutil.RequireString(c.APIKey, "api_key"); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	return nil
}

// SpeechKit returns the client settings. Observer and logger are set by the caller.
func (c Config) SpeechKit() speechkit.Config {
	return speechkit.Config{
		APIKey:       c.APIKey,
		SubmitURL:    c.Endpoints.SubmitURL,
		OperationURL: c.Endpoints.OperationURL,
		Timeout:      ms(c.HTTP.TimeoutMS),
		UserAgent:    c.HTTP.UserAgent,
	}
}

// RecognitionRequest builds the request for uri with configured overrides applied.
func (c Config) RecognitionRequest(uri string) (speechkit.RecognitionRequest, error) {
	s, err := speechkit.DecodeRecognitionSettings(c.Recognition)
	if err != nil {
		return speechkit.RecognitionRequest{}, err
	}
	return s.Apply(speechkit.DefaultRecognitionRequest(uri)), nil
}

func (c Config) Backoff() resilience.Backoff {
	return resilience.Backoff{
		Initial:    ms(c.Poll.InitialDelayMS),
		Base:       ms(c.Poll.BaseDelayMS),
		Max:        ms(c.Poll.MaxDelayMS),
		MaxElapsed: ms(c.Poll.MaxElapsedMS),
		Multiplier: c.Poll.Multiplier,
		Jitter:     c.Poll.Jitter,
	}
}

func (c Config) StoreConfig() store.Config {
	return store.Config{
		Driver:    c.Store.Driver,
		Path:      c.Store.Path,
		RedisURL:  c.Store.RedisURL,
		KeyPrefix: c.Store.KeyPrefix,
	}
}

func (c Config) Logging() logging.Config {
	return logging.Config{Level: c.LogLevel, Format: c.LogFormat}
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Recognition = expandSettings(cfg.Recognition)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	}
}
