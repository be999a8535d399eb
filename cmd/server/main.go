package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"connect/internal/auth"
	"connect/internal/chat"
	"connect/internal/config"
	"connect/internal/db"
	"connect/internal/middleware"
	"connect/internal/user"
	"connect/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config")
	}

	log := newLogger(cfg)

	// Platform layer: Postgres and Redis.
	database, err := db.New(cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to postgres")
	}
	defer database.Close()
	log.Info().Msg("connected to postgres")

	if err := database.Migrate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("migrate schema")
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("connect to redis")
	}
	log.Info().Msg("connected to redis")

	// Services.
	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTTTL)

	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, verifier)
	userHandler := user.NewHandler(userService, log)

	chatRepo := chat.NewRepository(database.Conn, redisClient)
	chatService := chat.NewService(chatRepo, chat.NewStrictSanitizer(), log)

	hub := ws.NewHub(chatService, userService, log)
	chatHandler := chat.NewHandler(chatService, hub, log)

	authGuard := middleware.NewAuth(verifier)

	// Routes.
	r := chi.NewRouter()
	r.Use(requestLogger(log))
	r.Use(chimiddleware.Recoverer)

	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)

	r.Group(func(r chi.Router) {
		r.Use(authGuard.Handle)

		r.Get("/api/me", userHandler.Me)
		r.Put("/api/users/profile", userHandler.UpdateProfile)
		r.Get("/api/users/search", userHandler.Search)

		r.Get("/api/conversations", chatHandler.ListConversations)
		r.Post("/api/conversations", chatHandler.StartConversation)
		r.Get("/api/messages", chatHandler.ListMessages)
		r.Post("/api/messages", chatHandler.SendMessage)
		r.Put("/api/messages/read", chatHandler.MarkRead)

		r.Get("/ws", hub.ServeWS)
	})

	server := &http.Server{Addr: cfg.Addr, Handler: r}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	hub.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out = zerolog.New(os.Stderr)
	if cfg.LogPretty {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return out.Level(level).With().Timestamp().Logger()
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(wrapped, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
