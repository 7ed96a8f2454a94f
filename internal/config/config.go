package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	ListenAddr      string        `yaml:"listen_addr" toml:"listen_addr" default:":5000"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout" default:"15s"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" toml:"max_upload_bytes" default:"10485760"`
	// MaxImagePixels caps width*height of an upload; checked from the image
	// header before any pixels are decoded.
	MaxImagePixels int64         `yaml:"max_image_pixels" toml:"max_image_pixels" default:"67108864"`
	ReferenceImage string        `yaml:"reference_image" toml:"reference_image" default:"reference.jpg"`
	CORSOrigins    []string      `yaml:"cors_origins" toml:"cors_origins"`
	Audit          AuditConfig   `yaml:"audit" toml:"audit"`
	Matcher        MatcherConfig `yaml:"matcher" toml:"matcher"`
	Log            LogConfig     `yaml:"log" toml:"log"`
}

// AuditConfig controls where and how intruder snapshots are written.
type AuditConfig struct {
	Dir         string `yaml:"dir" toml:"dir" default:"."`
	Prefix      string `yaml:"prefix" toml:"prefix" default:"intrus_"`
	TimeLayout  string `yaml:"time_layout" toml:"time_layout" default:"2006-01-02_15-04-05"`
	JPEGQuality int    `yaml:"jpeg_quality" toml:"jpeg_quality" default:"95"`
	// Collision is "overwrite" (same-second records replace each other) or
	// "unique" (a numeric suffix is appended).
	Collision string `yaml:"collision" toml:"collision" default:"overwrite"`
}

// MatcherConfig selects and tunes the face matching backend.
type MatcherConfig struct {
	Backend         string        `yaml:"backend" toml:"backend" default:"deepface"`
	Addr            string        `yaml:"addr" toml:"addr" default:"http://localhost:5005"`
	ModelName       string        `yaml:"model_name" toml:"model_name" default:"VGG-Face"`
	DetectorBackend string        `yaml:"detector_backend" toml:"detector_backend" default:"mtcnn"`
	Timeout         time.Duration `yaml:"timeout" toml:"timeout" default:"0s"`
	DialTimeout     time.Duration `yaml:"dial_timeout" toml:"dial_timeout" default:"5s"`
}

// LogConfig configures the zap logger and its optional rotating file.
type LogConfig struct {
	Level        string        `yaml:"level" toml:"level" default:"info"`
	File         string        `yaml:"file" toml:"file"`
	MaxAge       time.Duration `yaml:"max_age" toml:"max_age" default:"168h"`
	RotationTime time.Duration `yaml:"rotation_time" toml:"rotation_time" default:"24h"`
}

// Default returns a Config populated from struct tag defaults.
func Default() Config {
	var cfg Config
	defaults.SetDefaults(&cfg)
	return cfg
}

// Load builds the configuration: defaults, then the optional file at path
// (YAML, or TOML when the extension is .toml), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func decodeFile(path string, cfg *Config) error {
	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.ListenAddr = getEnv("LISTEN_ADDR", cfg.ListenAddr)
	cfg.ReferenceImage = getEnv("REFERENCE_IMAGE_PATH", cfg.ReferenceImage)
	cfg.Audit.Dir = getEnv("AUDIT_DIR", cfg.Audit.Dir)
	cfg.Audit.Collision = getEnv("AUDIT_COLLISION", cfg.Audit.Collision)
	cfg.Matcher.Backend = getEnv("MATCHER_BACKEND", cfg.Matcher.Backend)
	cfg.Matcher.Addr = getEnv("MATCHER_ADDR", cfg.Matcher.Addr)
	cfg.Matcher.ModelName = getEnv("MATCHER_MODEL", cfg.Matcher.ModelName)
	cfg.Matcher.DetectorBackend = getEnv("MATCHER_DETECTOR", cfg.Matcher.DetectorBackend)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
}

// Validate reports the first invalid setting, or nil.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.ReferenceImage == "" {
		return fmt.Errorf("reference_image is required")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	if c.MaxImagePixels <= 0 {
		return fmt.Errorf("max_image_pixels must be positive")
	}
	switch c.Matcher.Backend {
	case "deepface", "grpc":
	default:
		return fmt.Errorf("matcher.backend must be deepface or grpc, got %q", c.Matcher.Backend)
	}
	if c.Matcher.Addr == "" {
		return fmt.Errorf("matcher.addr is required")
	}
	if c.Matcher.ModelName == "" || c.Matcher.DetectorBackend == "" {
		return fmt.Errorf("matcher.model_name and matcher.detector_backend are required")
	}
	if c.Matcher.Timeout < 0 {
		return fmt.Errorf("matcher.timeout must not be negative")
	}
	switch c.Audit.Collision {
	case "overwrite", "unique":
	default:
		return fmt.Errorf("audit.collision must be overwrite or unique, got %q", c.Audit.Collision)
	}
	if c.Audit.JPEGQuality < 1 || c.Audit.JPEGQuality > 100 {
		return fmt.Errorf("audit.jpeg_quality must be within 1..100")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
