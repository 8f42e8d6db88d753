package server

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/sakif/recipebox/internal/ratelimit"
)

// Backends selectable through Config.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"

	ImagesLocal = "local"
	ImagesS3    = "s3"
)

// Config holds everything the server needs to start. cmd/server fills it
// from flags and environment variables.
type Config struct {
	Port int
	// BaseURL is the public scheme and host ("https://api.example.com").
	// It is used for pagination links and local image URLs; empty means
	// "derive from the request".
	BaseURL string

	DBDriver    string
	DatabaseURL string

	JWTSecret string
	TokenTTL  time.Duration
	// PasswordCost is the bcrypt cost; 0 picks the default.
	PasswordCost int

	CacheBackend string
	CacheTTL     time.Duration
	// RedisURL is required by the redis cache backend. When set, rate limit
	// counters are kept in Redis too.
	RedisURL string

	// RateLimit is a rule list such as "3/minute;30/hour;300/day". Empty
	// disables rate limiting.
	RateLimit string

	ImageBackend   string
	ImageDir       string
	S3Bucket       string
	S3PublicURL    string
	MaxUploadBytes int64
}

// Validate reports every problem with c at once.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.BaseURL != "" {
		if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("base URL %q must be absolute", c.BaseURL))
		}
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.DBDriver))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("database URL is required"))
	}
	if len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT secret must be at least 16 characters"))
	}
	switch c.CacheBackend {
	case CacheMemory:
	case CacheRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("redis cache backend needs a redis URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.CacheBackend))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("cache TTL must be positive"))
	}
	if c.RateLimit != "" {
		if _, err := ratelimit.ParseRules(c.RateLimit); err != nil {
			errs = append(errs, err)
		}
	}
	switch c.ImageBackend {
	case ImagesLocal:
		if c.ImageDir == "" {
			errs = append(errs, errors.New("local image backend needs an image directory"))
		}
	case ImagesS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("s3 image backend needs a bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown image backend %q", c.ImageBackend))
	}
	if c.MaxUploadBytes < 0 {
		errs = append(errs, errors.New("max upload size must not be negative"))
	}
	return errors.Join(errs...)
}
