// Package httpapi is the HTTP boundary. It translates wire requests into
// service calls, maps typed domain errors onto the uniform error
// envelope, and localizes error details from Accept-Language. No business
// rules live here.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/kudos-app/kudos/pkg/kudos/config"
	"github.com/kudos-app/kudos/pkg/kudos/gamification"
	"github.com/kudos-app/kudos/pkg/kudos/group"
	"github.com/kudos-app/kudos/pkg/kudos/identity"
	"github.com/kudos-app/kudos/pkg/kudos/ledger"
	"github.com/kudos-app/kudos/pkg/kudos/notification"
	"github.com/kudos-app/kudos/pkg/kudos/report"
	"github.com/kudos-app/kudos/pkg/kudos/store"
	"github.com/kudos-app/kudos/pkg/kudos/task"
	"github.com/kudos-app/kudos/pkg/kudos/token"
)

// Server bundles the services behind the HTTP routes.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	validate *validator.Validate

	store         *store.Store
	tokens        *token.Service
	identity      *identity.Service
	groups        *group.Service
	tasks         *task.Service
	ledger        *ledger.Service
	gamification  *gamification.Service
	notifications *notification.Queue
	reports       *report.Manager
}

// Deps carries everything NewServer needs.
type Deps struct {
	Config        *config.Config
	Logger        *slog.Logger
	Store         *store.Store
	Tokens        *token.Service
	Identity      *identity.Service
	Groups        *group.Service
	Tasks         *task.Service
	Ledger        *ledger.Service
	Gamification  *gamification.Service
	Notifications *notification.Queue
	Reports       *report.Manager
}

// NewServer wires the HTTP server.
func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:           d.Config,
		logger:        logger.With("component", "http"),
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		store:         d.Store,
		tokens:        d.Tokens,
		identity:      d.Identity,
		groups:        d.Groups,
		tasks:         d.Tasks,
		ledger:        d.Ledger,
		gamification:  d.Gamification,
		notifications: d.Notifications,
		reports:       d.Reports,
	}
}

// Router builds the route tree with the standard middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout()))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Accept-Language", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(s.negotiateLanguage)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/verify-email", s.handleVerifyEmail)
			r.Post("/password-reset/request", s.handlePasswordResetRequest)
			r.Post("/password-reset/confirm", s.handlePasswordResetConfirm)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Post("/logout", s.handleLogout)
				r.Post("/logout-all", s.handleLogoutAll)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Get("/me", s.handleMe)
			r.Delete("/me", s.handleDeactivate)

			r.Route("/groups", func(r chi.Router) {
				r.Post("/", s.handleGroupCreate)
				r.Route("/{groupID}", func(r chi.Router) {
					r.Get("/", s.handleGroupGet)
					r.Patch("/parent", s.handleGroupSetParent)
					r.Delete("/", s.handleGroupDelete)

					r.Get("/members", s.handleMembersList)
					r.Post("/members", s.handleMemberAdd)
					r.Delete("/members/{userID}", s.handleMemberRemove)

					r.Post("/invitations", s.handleInviteCreate)
					r.Post("/teams", s.handleTeamCreate)

					r.Get("/tasks", s.handleTasksList)
					r.Post("/tasks", s.handleTaskCreate)

					r.Get("/accounts/{userID}", s.handleBalance)
					r.Get("/accounts/{userID}/transactions", s.handleTransactionsList)
					r.Post("/adjustments", s.handleAdjust)

					r.Post("/levels", s.handleLevelCreate)
					r.Get("/levels/{userID}", s.handleCurrentLevel)
					r.Get("/leaderboard", s.handleLeaderboard)
				})
			})

			r.Route("/invitations", func(r chi.Router) {
				r.Post("/{code}/accept", s.handleInviteAccept)
				r.Post("/{code}/decline", s.handleInviteDecline)
				r.Delete("/{invitationID}", s.handleInviteRevoke)
			})

			r.Route("/teams/{teamID}", func(r chi.Router) {
				r.Post("/members", s.handleTeamMemberAdd)
				r.Delete("/members/{userID}", s.handleTeamMemberRemove)
				r.Put("/leader", s.handleTeamSetLeader)
				r.Delete("/", s.handleTeamDissolve)
			})

			r.Route("/tasks/{taskID}", func(r chi.Router) {
				r.Get("/", s.handleTaskGet)
				r.Post("/assignments", s.handleTaskAssign)
				r.Post("/dependencies", s.handleTaskAddDependency)
				r.Post("/start", s.handleTaskStart)
				r.Post("/reviews", s.handleTaskReview)
			})

			r.Route("/completions/{completionID}", func(r chi.Router) {
				r.Post("/submit", s.handleCompletionSubmit)
				r.Post("/approve", s.handleCompletionApprove)
				r.Post("/reject", s.handleCompletionReject)
				r.Post("/cancel", s.handleCompletionCancel)
			})

			r.Post("/rewards/{rewardID}/purchase", s.handleRewardPurchase)

			r.Get("/achievements", s.handleAchievements)

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", s.handleNotificationsList)
				r.Post("/{notificationID}/read", s.handleNotificationRead)
			})

			r.Route("/reports", func(r chi.Router) {
				r.Post("/", s.handleReportRequest)
				r.Get("/{requestID}", s.handleReportGet)
			})
		})
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		var one int
		if err := s.store.Pool().QueryRow(r.Context(), `SELECT 1`).Scan(&one); err != nil {
			s.logger.Error("health check failed", "error", err)
			s.respond(w, r, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	s.respond(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// logRequests emits one structured line per request after it completes.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
