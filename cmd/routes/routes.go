package routes

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/zidewell/zidwell-team-sub000/internal/auth"
	"github.com/zidewell/zidwell-team-sub000/internal/dashboard"
	"github.com/zidewell/zidwell-team-sub000/internal/middleware"
	"github.com/zidewell/zidwell-team-sub000/pkg/config"
	"github.com/zidewell/zidwell-team-sub000/pkg/logger"
	"github.com/zidewell/zidwell-team-sub000/pkg/utils"
)

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

func RegisterRoutes(r *mux.Router, cfg config.Config, sessions dashboard.Sessions, limiter *middleware.RateLimiter, checks map[string]Pinger) http.Handler {
	h := dashboard.NewHandler(cfg, sessions)

	r.Use(middleware.LoggingMiddleware)

	r.HandleFunc("/healthz", healthHandler(checks)).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(auth.JWTMiddleware(cfg), middleware.TagIdentity, limiter.Limit)

	sessionR := api.PathPrefix("/session").Subrouter()
	sessionR.HandleFunc("", h.OpenSession).Methods("POST")
	sessionR.HandleFunc("", h.CloseSession).Methods("DELETE")
	sessionR.HandleFunc("/visibility", h.SetVisibility).Methods("POST")

	dashR := api.PathPrefix("/dashboard").Subrouter()
	dashR.HandleFunc("/balance", h.GetBalance).Methods("GET")
	dashR.HandleFunc("/transactions", h.ListTransactions).Methods("GET")
	dashR.HandleFunc("/transactions/more", h.LoadMoreTransactions).Methods("POST")
	dashR.HandleFunc("/transactions/export", h.ExportTransactions).Methods("GET")
	dashR.HandleFunc("/statement", h.Statement).Methods("POST")
	dashR.HandleFunc("/notifications", h.ListNotifications).Methods("GET")
	dashR.HandleFunc("/notifications/read-all", h.MarkAllNotificationsRead).Methods("POST")
	dashR.HandleFunc("/notifications/{id}/read", h.MarkNotificationRead).Methods("POST")

	wdR := api.PathPrefix("/withdrawal").Subrouter()
	wdR.HandleFunc("", h.GetWithdrawal).Methods("GET")
	wdR.HandleFunc("", h.UpdateWithdrawal).Methods("PATCH")
	wdR.HandleFunc("/banks", h.ListBanks).Methods("GET")
	wdR.HandleFunc("/mode", h.SelectWithdrawalMode).Methods("PUT")
	wdR.HandleFunc("/submit", h.SubmitWithdrawal).Methods("POST")

	if cfg.Env != "production" {

		r.HandleFunc("/swagger.yaml", func(w http.ResponseWriter, r *http.Request) {
			content, err := os.ReadFile("docs/swagger.yaml")
			if err != nil {
				logger.Error("Failed to read swagger.yaml", logger.Fields{"error": err.Error()})
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			modifiedContent := strings.Replace(string(content), "{{BASE_URL}}", "/", -1)

			w.Header().Set("Content-Type", "application/yaml")
			w.Write([]byte(modifiedContent))
		})

		r.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
			httpSwagger.URL("/swagger.yaml"),
		))
		logger.Info("Swagger documentation enabled at /swagger/index.html")
	}

	corsObj := handlers.CORS(
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", middleware.RequestIDHeader}),
		handlers.ExposedHeaders([]string{"Content-Disposition", middleware.RequestIDHeader}),
	)

	return corsObj(r)
}

func healthHandler(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, c := range checks {
			if err := c.Ping(ctx); err != nil {
				logger.Warn("Health check failed", logger.Merge(logger.Fields{"dependency": name}, logger.WithError(err)))
				results[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "up"
		}

		if status != http.StatusOK {
			utils.BuildErrorResponse(w, status, "Unhealthy", results)
			return
		}
		utils.BuildSuccessResponse(w, status, "OK", results)
	}
}
