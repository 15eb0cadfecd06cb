package console

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/slicepilot/internal/console/handler"
	"github.com/xela07ax/slicepilot/internal/infra"
	"github.com/xela07ax/slicepilot/internal/infra/auth"
	"go.uber.org/zap"
)

// Server — операторский API агента: статус контура, аудит, останов.
type Server struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Проверка токенов (RS256); nil = открытый API (режим лабы)
	authValidator auth.TokenValidator

	statusHandler *handler.StatusHandler
	auditHandler  *handler.AuditHandler
}

// NewServer инициализирует операторский API со всеми зависимостями
func NewServer(
	cfg *infra.Config,
	logger *zap.Logger,
	authValidator auth.TokenValidator,
	statusH *handler.StatusHandler,
	auditH *handler.AuditHandler,
) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		logger:        logger.Named("console-api"),
		cfg:           cfg,
		authValidator: authValidator,
		statusHandler: statusH,
		auditHandler:  auditH,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ОПЕРАТОРСКИЙ ПЕРИМЕТР ---
	r.Group(func(r chi.Router) {
		// Токены проверяются, только если настроен публичный ключ
		if s.authValidator != nil {
			r.Use(auth.NewMiddleware(s.authValidator, s.logger))
		}

		r.Get("/v1/status", s.statusHandler.GetStatus) // Состояние контура
		r.Post("/v1/halt", s.statusHandler.Halt)       // Останов на границе итерации
		r.Get("/v1/audit", s.auditHandler.GetEvents)   // События контура
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
