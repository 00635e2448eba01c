// Package uploadconf reads the client and server configuration from the environment.
package uploadconf

import (
	"fmt"
	"strings"
	"time"

	goenv "github.com/Netflix/go-env"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/docker/go-units"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Secret is a string that is masked when printed.
type Secret string

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "*****"
}

// ClientConfig configures the upload orchestrator.
type ClientConfig struct {
	APIURL   string `env:"UPLOAD_API_URL,required=true" validate:"required,url"`
	APIToken Secret `env:"UPLOAD_API_TOKEN"`

	MaxFiles            int      `env:"UPLOAD_MAX_FILES,default=20" validate:"gte=1"`
	MaxFileSizeValue    string   `env:"UPLOAD_MAX_FILE_SIZE,default=500MiB" validate:"required"`
	ChunkThresholdValue string   `env:"UPLOAD_CHUNK_THRESHOLD,default=50MiB" validate:"required"`
	PartSizeValue       string   `env:"UPLOAD_PART_SIZE,default=10MiB" validate:"required"`
	AllowedTypes        []string `env:"UPLOAD_ALLOWED_TYPES,default=image/*|video/*|application/pdf"`

	MaxRetryPerPart uint          `env:"UPLOAD_MAX_RETRY_PER_PART,default=3"`
	RetryWait       time.Duration `env:"UPLOAD_RETRY_WAIT,default=2s"`
	Verbose         bool          `env:"UPLOAD_VERBOSE,default=false"`

	// Parsed from the *Value fields.
	MaxFileSize    int64
	ChunkThreshold int64
	PartSize       int64
}

// ServerConfig configures the upload URL service.
type ServerConfig struct {
	Addr        string `env:"PRESIGN_ADDR,default=:8080" validate:"required"`
	AccessToken Secret `env:"PRESIGN_ACCESS_TOKEN"`

	Bucket          string `env:"PRESIGN_S3_BUCKET,required=true" validate:"required"`
	Region          string `env:"PRESIGN_S3_REGION,default=us-east-1" validate:"required"`
	Endpoint        string `env:"PRESIGN_S3_ENDPOINT" validate:"omitempty,url"`
	UsePathStyle    bool   `env:"PRESIGN_S3_PATH_STYLE,default=false"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey Secret `env:"AWS_SECRET_ACCESS_KEY"`

	KeyPrefix        string        `env:"PRESIGN_KEY_PREFIX,default=submissions" validate:"required"`
	URLExpiry        time.Duration `env:"PRESIGN_URL_EXPIRY,default=15m" validate:"gte=1s"`
	MaxFileSizeValue string        `env:"PRESIGN_MAX_FILE_SIZE,default=500MiB" validate:"required"`
	AllowedTypes     []string      `env:"PRESIGN_ALLOWED_TYPES,default=image/*|video/*|application/pdf"`
	Verbose          bool          `env:"PRESIGN_VERBOSE,default=false"`

	MaxFileSize int64
}

// LoadClient reads a ClientConfig from the repository.
func LoadClient(repo env.Repository) (ClientConfig, error) {
	var cfg ClientConfig
	if err := unmarshal(repo, &cfg); err != nil {
		return ClientConfig{}, err
	}
	if err := cfg.parseSizes(); err != nil {
		return ClientConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

// LoadServer reads a ServerConfig from the repository.
func LoadServer(repo env.Repository) (ServerConfig, error) {
	var cfg ServerConfig
	if err := unmarshal(repo, &cfg); err != nil {
		return ServerConfig{}, err
	}

	size, err := parseSize("PRESIGN_MAX_FILE_SIZE", cfg.MaxFileSizeValue)
	if err != nil {
		return ServerConfig{}, err
	}
	cfg.MaxFileSize = size
	cfg.AllowedTypes = cleanList(cfg.AllowedTypes)

	if err := validate.Struct(cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("invalid server config: %w", err)
	}
	return cfg, nil
}

// Validate checks the relations between the limits.
func (c ClientConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid client config: %w", err)
	}
	if c.MaxFileSize <= 0 || c.ChunkThreshold <= 0 || c.PartSize <= 0 {
		return fmt.Errorf("invalid client config: sizes must be positive")
	}
	if c.PartSize < 5*units.MiB {
		return fmt.Errorf("invalid client config: part size %s is below the 5MiB storage minimum",
			units.BytesSize(float64(c.PartSize)))
	}
	if c.ChunkThreshold < c.PartSize {
		return fmt.Errorf("invalid client config: chunk threshold %s is smaller than the part size %s",
			units.BytesSize(float64(c.ChunkThreshold)), units.BytesSize(float64(c.PartSize)))
	}
	return nil
}

// Print writes the configuration to the logger, secrets masked.
func (c ClientConfig) Print(printf func(format string, v ...interface{})) {
	printf("Upload API: %s", c.APIURL)
	printf("API token: %s", c.APIToken)
	printf("Max files: %d", c.MaxFiles)
	printf("Max file size: %s", units.BytesSize(float64(c.MaxFileSize)))
	printf("Chunk threshold: %s", units.BytesSize(float64(c.ChunkThreshold)))
	printf("Part size: %s", units.BytesSize(float64(c.PartSize)))
	printf("Allowed types: %s", strings.Join(c.AllowedTypes, ", "))
	printf("Max retry per part: %d", c.MaxRetryPerPart)
}

func (c *ClientConfig) parseSizes() error {
	var err error
	if c.MaxFileSize, err = parseSize("UPLOAD_MAX_FILE_SIZE", c.MaxFileSizeValue); err != nil {
		return err
	}
	if c.ChunkThreshold, err = parseSize("UPLOAD_CHUNK_THRESHOLD", c.ChunkThresholdValue); err != nil {
		return err
	}
	if c.PartSize, err = parseSize("UPLOAD_PART_SIZE", c.PartSizeValue); err != nil {
		return err
	}
	c.AllowedTypes = cleanList(c.AllowedTypes)
	return nil
}

func unmarshal(repo env.Repository, v interface{}) error {
	es, err := goenv.EnvironToEnvSet(repo.List())
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	if err := goenv.Unmarshal(es, v); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// parseSize accepts both plain byte counts and human sizes like "10MiB" or "500MB".
// Units are binary either way.
func parseSize(name, value string) (int64, error) {
	size, err := units.RAMInBytes(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s: invalid size %q: %w", name, value, err)
	}
	return size, nil
}

func cleanList(items []string) []string {
	var cleaned []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			cleaned = append(cleaned, item)
		}
	}
	return cleaned
}
