// Пакет server — HTTP-сервер cobranzas с graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/cobranzas/internal/api/handlers"
	"github.com/bigkaa/cobranzas/internal/api/middleware"
	"github.com/bigkaa/cobranzas/internal/config"
	"github.com/bigkaa/cobranzas/internal/domain/rbac"
)

// uuidRe — шаблон chi для UUID; иной id получает 404 от роутера.
const uuidRe = "[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}"

const (
	uuidParam    = "{id:" + uuidRe + "}"
	paymentParam = "{paymentId:" + uuidRe + "}"
)

// Server — HTTP-сервер cobranzas.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с маршрутами и middleware.
// jwtAuth может быть nil (тесты без аутентификации).
func New(cfg *config.Config, logger *slog.Logger, h *handlers.APIHandler, jwtAuth *middleware.JWTAuth) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, h, jwtAuth),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает chi-роутер.
func NewRouter(logger *slog.Logger, h *handlers.APIHandler, jwtAuth *middleware.JWTAuth) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// Health и metrics опрашиваются оркестратором без токена.
	if jwtAuth != nil {
		router.Use(jwtAuthWithExclusions(jwtAuth, "/health/", "/metrics"))
	}

	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/promises", func(r chi.Router) {
			r.Use(middleware.RequireRole(rbac.RoleOperador))
			r.Post("/", h.CreatePromise)
			r.Get("/", h.ListPromises)
			r.Route("/"+uuidParam, func(r chi.Router) {
				r.Get("/", h.GetPromise)
				r.Put("/", h.UpdatePromise)
				r.Delete("/observation", h.ClearPromiseObservation)
				r.Post("/payments", h.RecordPayment)
				r.Delete("/payments", h.ClearPayments)
				r.Patch("/payments/"+paymentParam, h.MarkPayment)
				r.Post("/recompute", h.RecomputePromise)
				r.Post("/close", h.ClosePromise)
			})
		})

		r.Route("/audits", func(r chi.Router) {
			r.Use(middleware.RequireRole(rbac.RoleOperadorVIP))
			r.Get("/criteria", h.GetAuditCriteria)
			r.Post("/", h.CreateAudit)
			r.Get("/", h.ListAudits)
			r.Get("/"+uuidParam, h.GetAudit)
			r.Put("/"+uuidParam, h.UpdateAudit)
			r.Delete("/"+uuidParam, h.DeleteAudit)
		})

		r.Route("/gestiones", func(r chi.Router) {
			r.With(middleware.RequireRoleOrIngest(rbac.RoleOperadorVIP)).Post("/", h.IngestGestiones)
			r.With(middleware.RequireRole(rbac.RoleOperadorVIP)).Get("/summary", h.GestionesSummary)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(rbac.RoleOperador))

			r.Get("/entities", h.ListEntities)
			r.Get("/entities/"+uuidParam+"/subcessions", h.ListSubCessions)
			r.Get("/employees", h.ListEmployees)
			r.Get("/employees/{username}", h.GetEmployee)

			r.Get("/notes", h.ListNotes)
			r.Post("/notes", h.CreateNote)
			r.Put("/notes/"+uuidParam, h.UpdateNote)
			r.Delete("/notes/"+uuidParam, h.DeleteNote)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(rbac.RoleAdmin))
			r.Post("/entities", h.CreateEntity)
			r.Post("/entities/"+uuidParam+"/subcessions", h.CreateSubCession)
			r.Post("/employees", h.UpsertEmployee)
		})
	})

	return router
}

// jwtAuthWithExclusions пропускает без JWT пути с указанными префиксами.
func jwtAuthWithExclusions(jwtAuth *middleware.JWTAuth, excludePrefixes ...string) func(http.Handler) http.Handler {
	jwtMiddleware := jwtAuth.Middleware()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range excludePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}
			jwtMiddleware(next).ServeHTTP(w, r)
		})
	}
}

// Run запускает сервер и ждёт SIGINT/SIGTERM, затем выполняет graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
