// Package server is the composition root: it opens the store, builds the
// cache, rate limiter, image store and services, and mounts the handlers on
// a chi router.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/recipebox/internal/auth"
	"github.com/sakif/recipebox/internal/cache"
	"github.com/sakif/recipebox/internal/handler"
	"github.com/sakif/recipebox/internal/imagestore"
	"github.com/sakif/recipebox/internal/middleware"
	"github.com/sakif/recipebox/internal/ratelimit"
	"github.com/sakif/recipebox/internal/repository/sqlstore"
	"github.com/sakif/recipebox/internal/service"
)

const (
	staticImagesPath = "/static/images"
	cacheNamespace   = "recipebox:cache:"
	rateLimitPrefix  = "recipebox:ratelimit:"
)

// Server owns the router and every long-lived resource behind it.
type Server struct {
	router  *chi.Mux
	config  Config
	logger  *slog.Logger
	db      *sqlstore.DB
	redis   *redis.Client
	images  imagestore.Store
	cache   *cache.ResponseCache
	limiter ratelimit.Limiter
}

// New validates cfg, connects to the store (and Redis, if configured) and
// wires the routes. Close releases what New opened.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := sqlstore.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setup(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) setup(ctx context.Context) error {
	if s.config.RedisURL != "" {
		client, err := newRedisClient(ctx, s.config.RedisURL)
		if err != nil {
			return err
		}
		s.redis = client
	}

	var err error
	if s.images, err = s.newImageStore(ctx); err != nil {
		return err
	}
	if s.cache, err = s.newResponseCache(); err != nil {
		return err
	}
	if s.limiter, err = s.newLimiter(); err != nil {
		return err
	}
	return s.setupRoutes()
}

// newRedisClient parses url and checks the server answers.
func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}
	return client, nil
}

func (s *Server) newImageStore(ctx context.Context) (imagestore.Store, error) {
	switch s.config.ImageBackend {
	case ImagesS3:
		store, err := imagestore.NewS3Store(ctx, s.config.S3Bucket, s.config.S3PublicURL)
		if err != nil {
			return nil, fmt.Errorf("creating s3 image store: %w", err)
		}
		return store, nil
	default:
		base := strings.TrimRight(s.config.BaseURL, "/") + staticImagesPath
		store, err := imagestore.NewLocalStore(s.config.ImageDir, base)
		if err != nil {
			return nil, fmt.Errorf("creating local image store: %w", err)
		}
		return store, nil
	}
}

func (s *Server) newResponseCache() (*cache.ResponseCache, error) {
	var (
		store cache.Store
		err   error
	)
	switch s.config.CacheBackend {
	case CacheRedis:
		store, err = cache.NewRedisStore(s.redis, cacheNamespace, s.config.CacheTTL)
	default:
		store, err = cache.NewMemoryStore(cache.MemoryConfig{TTL: s.config.CacheTTL})
	}
	if err != nil {
		return nil, fmt.Errorf("creating response cache: %w", err)
	}
	return cache.New(store, s.logger), nil
}

// newLimiter returns nil when rate limiting is disabled.
func (s *Server) newLimiter() (ratelimit.Limiter, error) {
	if s.config.RateLimit == "" {
		return nil, nil
	}
	rules, err := ratelimit.ParseRules(s.config.RateLimit)
	if err != nil {
		return nil, err
	}
	if s.redis != nil {
		return ratelimit.NewRedisLimiter(s.redis, rateLimitPrefix, rules), nil
	}
	return ratelimit.NewMemoryLimiter(rules), nil
}

// setupRoutes mounts middleware and handlers.
//
//	POST   /users                      register
//	GET    /users/{username}           profile
//	GET    /users/{username}/recipes   per-user listing       rate limited
//	PUT    /users/avatar               avatar upload          auth
//	GET    /me                         own profile            auth
//	POST   /token                      login
//	GET    /recipes                    published listing      rate limited, cached
//	POST   /recipes                    create                 auth
//	GET    /recipes/{id}               detail
//	PATCH  /recipes/{id}               partial update         auth
//	DELETE /recipes/{id}               delete                 auth
//	PUT    /recipes/{id}/publish       publish                auth
//	DELETE /recipes/{id}/publish       unpublish              auth
//	PUT    /recipes/{id}/cover         cover upload           auth
func (s *Server) setupRoutes() error {
	tokens, err := auth.NewTokenService(s.config.JWTSecret, s.config.TokenTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	passwords := auth.NewPasswordService()
	if s.config.PasswordCost > 0 {
		passwords = auth.NewPasswordServiceWithCost(s.config.PasswordCost)
	}

	recipeService := service.NewRecipeService(s.db, s.db, s.images, s.cache, s.logger, s.config.MaxUploadBytes)
	userService := service.NewUserService(s.db, passwords, s.images, s.cache, s.logger, s.config.MaxUploadBytes)
	authService := service.NewAuthService(s.db, tokens, passwords, s.logger)

	recipes := handler.NewRecipeHandler(recipeService, s.images, s.config.BaseURL, s.config.MaxUploadBytes, s.logger)
	users := handler.NewUserHandler(userService, s.images, s.config.MaxUploadBytes, s.logger)
	sessions := handler.NewTokenHandler(authService, s.logger)

	// MIDDLEWARE ORDER MATTERS:
	// chi runs r.Use stages outside-in, in the order they are added.
	//   RequestID first, so every later stage (and the log line) has an id.
	//   RealIP before anything that looks at the client address; the rate
	//   limiter keys on RemoteAddr.
	//   Metrics and Logger wrap Recoverer, so a panic is still counted and
	//   logged as the 500 Recoverer turns it into.
	// Per-route stages come after these. On GET /recipes the rate limit runs
	// before the cache, so cached pages still count against the quota.
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Metrics)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)

	requireAuth := auth.RequireAuth(tokens)
	optionalAuth := auth.OptionalAuth(tokens)
	limited := s.rateLimited()

	if s.config.ImageBackend == ImagesLocal {
		files := http.FileServer(http.Dir(s.config.ImageDir))
		r.Handle(staticImagesPath+"/*", http.StripPrefix(staticImagesPath+"/", files))
	}
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.handleHealth)

	r.Post("/token", sessions.HandleCreate)

	r.Post("/users", users.HandleRegister)
	r.With(requireAuth).Get("/me", users.HandleMe)
	r.With(requireAuth).Put("/users/avatar", users.HandleSetAvatar)
	r.With(optionalAuth).Get("/users/{username}", users.HandleGet)
	r.With(limited, optionalAuth).Get("/users/{username}/recipes", recipes.HandleListForUser)

	r.With(limited, middleware.CacheResponses(s.cache, s.config.BaseURL)).Get("/recipes", recipes.HandleList)
	r.With(optionalAuth).Get("/recipes/{id}", recipes.HandleGet)
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/recipes", recipes.HandleCreate)
		r.Patch("/recipes/{id}", recipes.HandleUpdate)
		r.Delete("/recipes/{id}", recipes.HandleDelete)
		r.Put("/recipes/{id}/publish", recipes.HandlePublish)
		r.Delete("/recipes/{id}/publish", recipes.HandleUnpublish)
		r.Put("/recipes/{id}/cover", recipes.HandleSetCover)
	})
	return nil
}

// rateLimited is the listing rate limit stage, or a pass-through when rate
// limiting is off.
func (s *Server) rateLimited() func(http.Handler) http.Handler {
	if s.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return ratelimit.Middleware(s.limiter, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	res := healthResponse{Status: "ok", Checks: map[string]string{"database": "ok"}}
	code := http.StatusOK
	if err := s.db.Ping(ctx); err != nil {
		res.Checks["database"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	if s.redis != nil {
		res.Checks["redis"] = "ok"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			res.Checks["redis"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	if code != http.StatusOK {
		res.Status = "unavailable"
		s.logger.Warn("health check failed", slog.Any("checks", res.Checks))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(res)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database and Redis connections.
func (s *Server) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

// Start serves until SIGINT or SIGTERM, then drains in-flight requests for
// up to 30 seconds and closes the server's resources.
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("db_driver", s.config.DBDriver),
			slog.String("cache", s.config.CacheBackend),
			slog.String("images", s.config.ImageBackend),
			slog.String("rate_limit", s.config.RateLimit),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}
