package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"go-identity-verifier/biometric"
	"go-identity-verifier/capture"
	"go-identity-verifier/document"
	"go-identity-verifier/images"
	"go-identity-verifier/redis"
	"go-identity-verifier/verification"
)

const envPrefix = "IDV_"

type Config struct {
	ServerConfig ServerConfig `json:"server_config" envPrefix:"SERVER_"`
	LogLevel     string       `json:"log_level" env:"LOG_LEVEL"`
	LogFormat    string       `json:"log_format" env:"LOG_FORMAT"`

	StorageType         string                    `json:"storage_type" env:"STORAGE_TYPE"`
	RedisConfig         redis.RedisConfig         `json:"redis_config,omitempty" envPrefix:"REDIS_"`
	RedisSentinelConfig redis.RedisSentinelConfig `json:"redis_sentinel_config,omitempty" envPrefix:"REDIS_"`

	FaceEngine   FaceEngineConfig   `json:"face_engine" envPrefix:"FACE_ENGINE_"`
	TextEngine   TextEngineConfig   `json:"text_engine" envPrefix:"TEXT_ENGINE_"`
	Capture      CaptureConfig      `json:"capture" envPrefix:"CAPTURE_"`
	Verification VerificationConfig `json:"verification" envPrefix:"VERIFICATION_"`
	Attestation  AttestationConfig  `json:"attestation" envPrefix:"ATTESTATION_"`
}

// FaceEngineConfig selects the facial recognition provider: "http" or "dlib".
type FaceEngineConfig struct {
	Type     string   `json:"type" env:"TYPE"`
	URL      string   `json:"url" env:"URL"`
	ModelDir string   `json:"model_dir" env:"MODEL_DIR"`
	Timeout  Duration `json:"timeout" env:"TIMEOUT"`
}

// TextEngineConfig selects the text recognition provider: "http" or "tesseract".
type TextEngineConfig struct {
	Type     string   `json:"type" env:"TYPE"`
	URL      string   `json:"url" env:"URL"`
	Language string   `json:"language" env:"LANGUAGE"`
	Timeout  Duration `json:"timeout" env:"TIMEOUT"`
}

// CaptureConfig selects the live capture device: "remote" or "webcam".
type CaptureConfig struct {
	Type     string `json:"type" env:"TYPE"`
	DeviceID int    `json:"device_id" env:"DEVICE_ID"`
	Width    int    `json:"width" env:"WIDTH"`
	Height   int    `json:"height" env:"HEIGHT"`
}

type VerificationConfig struct {
	MaxAttempts       int      `json:"max_attempts" env:"MAX_ATTEMPTS"`
	MatchThreshold    float64  `json:"match_threshold" env:"MATCH_THRESHOLD"`
	TickInterval      Duration `json:"tick_interval" env:"TICK_INTERVAL"`
	ProcessEvery      int      `json:"process_every" env:"PROCESS_EVERY"`
	TimeoutGrace      Duration `json:"timeout_grace" env:"TIMEOUT_GRACE"`
	SessionTTL        Duration `json:"session_ttl" env:"SESSION_TTL"`
	MaxImageDimension int      `json:"max_image_dimension" env:"MAX_IMAGE_DIMENSION"`
	JpegQuality       int      `json:"jpeg_quality" env:"JPEG_QUALITY"`
}

type AttestationConfig struct {
	PrivateKeyPath string   `json:"private_key_path" env:"PRIVATE_KEY_PATH"`
	Issuer         string   `json:"issuer" env:"ISSUER"`
	Validity       Duration `json:"validity" env:"VALIDITY"`
}

// Duration reads "100ms"-style strings from both JSON and the environment.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"100ms\": %w", err)
	}
	return d.UnmarshalText([]byte(s))
}

func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(parsed)
	return nil
}

func defaultConfig() Config {
	v := verification.DefaultConfig()
	return Config{
		ServerConfig: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			MaxDocumentBytes: DefaultMaxDocumentBytes,
			MaxFrameBytes:    DefaultMaxFrameBytes,
		},
		LogLevel:     "info",
		LogFormat:    "text",
		StorageType:  "memory",
		FaceEngine: FaceEngineConfig{
			Type:    "http",
			Timeout: Duration(biometric.DefaultTimeout),
		},
		TextEngine: TextEngineConfig{
			Type:     "http",
			Language: document.DefaultLanguage,
			Timeout:  Duration(document.DefaultTimeout),
		},
		Capture: CaptureConfig{
			Type:   "remote",
			Width:  capture.DefaultWidth,
			Height: capture.DefaultHeight,
		},
		Verification: VerificationConfig{
			MaxAttempts:       v.MaxAttempts,
			MatchThreshold:    v.MatchThreshold,
			TickInterval:      Duration(v.TickInterval),
			ProcessEvery:      v.ProcessEvery,
			TimeoutGrace:      Duration(v.TimeoutGrace),
			SessionTTL:        Duration(v.SessionTTL),
			MaxImageDimension: images.DefaultMaxDimension,
			JpegQuality:       images.DefaultJPEGQuality,
		},
		Attestation: AttestationConfig{
			Issuer: "identity_verifier",
		},
	}
}

// readConfigFile reads the JSON config over the defaults, then applies IDV_* environment overrides.
func readConfigFile(path string) (Config, error) {
	config := defaultConfig()

	if path != "" {
		configBytes, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}

		err = json.Unmarshal(configBytes, &config)
		if err != nil {
			return Config{}, err
		}
	}

	if err := env.ParseWithOptions(&config, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	return config, nil
}

func (c VerificationConfig) toSessionConfig() verification.Config {
	return verification.Config{
		MaxAttempts:    c.MaxAttempts,
		MatchThreshold: c.MatchThreshold,
		TickInterval:   c.TickInterval.Std(),
		ProcessEvery:   c.ProcessEvery,
		TimeoutGrace:   c.TimeoutGrace.Std(),
		SessionTTL:     c.SessionTTL.Std(),
	}
}

func (c CaptureConfig) constraints() capture.Constraints {
	return capture.Constraints{
		Width:      c.Width,
		Height:     c.Height,
		FacingMode: capture.FacingUser,
	}
}
