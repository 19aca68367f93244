package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signroom/internal/auth"
	"signroom/internal/classifier"
	"signroom/internal/config"
	"signroom/internal/coordinator"
	"signroom/internal/db"
	"signroom/internal/logger"
	"signroom/internal/metrics"
	"signroom/internal/wshub"

	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

const sweepInterval = time.Minute

func Run() error {
	appCfg := config.Load()
	logger.Setup(appCfg.LogLevel, appCfg.LogPretty)

	if appCfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if appCfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(ctx, appCfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := database.Migrate(); err != nil {
		return err
	}

	var model classifier.Classifier = classifier.Static{ModelLoaded: appCfg.ModelLoaded}
	if appCfg.ClassifierURL != "" {
		model = classifier.NewRemote(appCfg.ClassifierURL, appCfg.ModelLoaded)
	}

	m := metrics.New()
	hub := wshub.NewHub()
	coord := coordinator.New(database, hub, model,
		coordinator.WithMetrics(m),
		coordinator.WithStaleSweep(appCfg.RoomStaleTTL, sweepInterval),
	)
	go coord.Run(ctx)

	srv := &Server{
		Coordinator: coord,
		Hub:         hub,
		Auth:        auth.NewVerifier(appCfg.JWTSecret),
		DB:          database,
		Classifier:  model,
		Metrics:     m,
		Config:      appCfg,
	}

	httpSrv := &http.Server{
		Addr:    "0.0.0.0:" + appCfg.Port,
		Handler: srv.Routes(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Str("component", "server").Err(err).Msg("shutdown")
		}
	}()

	log.Info().Str("component", "server").Msgf("listening on http://localhost:%s", appCfg.Port)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/rooms", s.handleCreateRoom)
	mux.HandleFunc("GET /api/rooms", s.handleListRooms)
	mux.HandleFunc("GET /api/rooms/{code}", s.handleGetRoom)
	mux.HandleFunc("GET /api/rooms/{code}/results", s.handleResults)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.Metrics.Handler())

	h := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", duration).
			Msg("request")
	})(mux)
	return hlog.NewHandler(log.Logger.With().Str("component", "server").Logger())(h)
}
