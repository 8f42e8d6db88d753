// Command server runs the recipebox HTTP API.
//
// Every flag can also be set through the environment variable named in its
// help text, so the same binary runs unchanged under a process manager or
// in a container.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/sakif/recipebox/internal/imagestore"
	"github.com/sakif/recipebox/internal/server"
)

func main() {
	if err := command().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func command() *cli.Command {
	return &cli.Command{
		Name:  "recipebox",
		Usage: "serve the recipe sharing API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Usage:   "TCP port to listen on",
				Sources: cli.EnvVars("PORT"),
				Value:   8080,
			},
			&cli.StringFlag{
				Name:    "base-url",
				Usage:   "public scheme and host used in pagination and image links, derived from each request when empty",
				Sources: cli.EnvVars("BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "db-driver",
				Usage:   "database driver: sqlite or postgres",
				Sources: cli.EnvVars("DB_DRIVER"),
				Value:   "sqlite",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "sqlite file path or postgres connection string",
				Sources: cli.EnvVars("DATABASE_URL"),
				Value:   "data/recipebox.db",
			},
			&cli.StringFlag{
				Name:     "jwt-secret",
				Usage:    "HMAC secret for access tokens, at least 16 characters",
				Sources:  cli.EnvVars("JWT_SECRET"),
				Required: true,
			},
			&cli.DurationFlag{
				Name:    "token-ttl",
				Usage:   "access token lifetime",
				Sources: cli.EnvVars("TOKEN_TTL"),
				Value:   15 * time.Minute,
			},
			&cli.StringFlag{
				Name:    "cache-backend",
				Usage:   "listing cache backend: memory or redis",
				Sources: cli.EnvVars("CACHE_BACKEND"),
				Value:   server.CacheMemory,
			},
			&cli.DurationFlag{
				Name:    "cache-ttl",
				Usage:   "how long a cached listing page is served",
				Sources: cli.EnvVars("CACHE_TTL"),
				Value:   time.Minute,
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "redis URL for the cache backend and shared rate limit counters",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "rate-limit",
				Usage:   "per-client limits on listing endpoints, empty to disable",
				Sources: cli.EnvVars("RATE_LIMIT"),
				Value:   "3/minute;30/hour;300/day",
			},
			&cli.StringFlag{
				Name:    "image-backend",
				Usage:   "where uploaded images are kept: local or s3",
				Sources: cli.EnvVars("IMAGE_BACKEND"),
				Value:   server.ImagesLocal,
			},
			&cli.StringFlag{
				Name:    "image-dir",
				Usage:   "directory for the local image backend",
				Sources: cli.EnvVars("IMAGE_DIR"),
				Value:   "static/images",
			},
			&cli.StringFlag{
				Name:    "s3-bucket",
				Usage:   "bucket for the s3 image backend",
				Sources: cli.EnvVars("S3_BUCKET"),
			},
			&cli.StringFlag{
				Name:    "s3-public-url",
				Usage:   "public base URL of the bucket, defaults to the virtual-hosted S3 URL",
				Sources: cli.EnvVars("S3_PUBLIC_URL"),
			},
			&cli.Int64Flag{
				Name:    "max-upload-bytes",
				Usage:   "largest accepted image upload",
				Sources: cli.EnvVars("MAX_UPLOAD_BYTES"),
				Value:   imagestore.DefaultMaxBytes,
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error",
				Sources: cli.EnvVars("LOG_LEVEL"),
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "text or json",
				Sources: cli.EnvVars("LOG_FORMAT"),
				Value:   "text",
			},
		},
		Action: run,
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	logger, err := newLogger(cmd.String("log-level"), cmd.String("log-format"))
	if err != nil {
		return err
	}

	cfg := server.Config{
		Port:           cmd.Int("port"),
		BaseURL:        cmd.String("base-url"),
		DBDriver:       cmd.String("db-driver"),
		DatabaseURL:    cmd.String("database-url"),
		JWTSecret:      cmd.String("jwt-secret"),
		TokenTTL:       cmd.Duration("token-ttl"),
		CacheBackend:   cmd.String("cache-backend"),
		CacheTTL:       cmd.Duration("cache-ttl"),
		RedisURL:       cmd.String("redis-url"),
		RateLimit:      cmd.String("rate-limit"),
		ImageBackend:   cmd.String("image-backend"),
		ImageDir:       cmd.String("image-dir"),
		S3Bucket:       cmd.String("s3-bucket"),
		S3PublicURL:    cmd.String("s3-public-url"),
		MaxUploadBytes: cmd.Int64("max-upload-bytes"),
	}

	if cfg.DBDriver == "sqlite" && cfg.DatabaseURL != ":memory:" {
		dir := filepath.Dir(cfg.DatabaseURL)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return srv.Start()
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
