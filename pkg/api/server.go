package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/taskboard/pkg/accounts"
	"github.com/platinummonkey/taskboard/pkg/audit"
	"github.com/platinummonkey/taskboard/pkg/boards"
	"github.com/platinummonkey/taskboard/pkg/httputil"
	"github.com/platinummonkey/taskboard/pkg/middleware"
	"github.com/platinummonkey/taskboard/pkg/notes"
	"github.com/platinummonkey/taskboard/pkg/notifications"
	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/projects"
	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage"
	"github.com/platinummonkey/taskboard/pkg/tasks"
)

// PathPrefix is the mount point of every API route
const PathPrefix = "/api/v1"

// MaxBodyBytes bounds request bodies, leaving room for a multipart avatar upload
const MaxBodyBytes = accounts.MaxAvatarBytes + 1<<20

// Services are the domain services behind the handlers
type Services struct {
	Accounts      *accounts.Service
	Projects      *projects.Service
	Tasks         *tasks.Service
	Boards        *boards.Service
	Notes         *notes.Service
	Notifications *notifications.Service
}

// NewServices builds the resource services over one store. memberships answers
// role lookups for authorization and may be a caching wrapper around store.
func NewServices(store storage.Store, memberships rbac.MembershipLookup, acc *accounts.Service, logger *observability.Logger) Services {
	if memberships == nil {
		memberships = store
	}
	authz := rbac.NewAuthorizer(memberships)
	notify := notifications.NewService(store, logger)
	return Services{
		Accounts:      acc,
		Projects:      projects.NewService(store, authz, notify, logger),
		Tasks:         tasks.NewService(store, authz, notify, logger),
		Boards:        boards.NewService(store, authz),
		Notes:         notes.NewService(store, authz, notify),
		Notifications: notify,
	}
}

// Limiters holds the per-route rate limiters. Nil entries fall back to
// in-memory limiters with the default budgets.
type Limiters struct {
	API   middleware.Limiter
	Auth  middleware.Limiter
	Email middleware.Limiter
}

func (l *Limiters) defaults() {
	if l.API == nil {
		l.API = middleware.NewMemoryLimiter(middleware.APIRateLimit(), middleware.DefaultLimiterKeys)
	}
	if l.Auth == nil {
		l.Auth = middleware.NewMemoryLimiter(middleware.AuthRateLimit(), middleware.DefaultLimiterKeys)
	}
	if l.Email == nil {
		l.Email = middleware.NewMemoryLimiter(middleware.EmailRateLimit(), middleware.DefaultLimiterKeys)
	}
}

// Config wires the server
type Config struct {
	Services    Services
	Session     *middleware.SessionMiddleware
	Cookies     middleware.Cookies
	Limiters    Limiters
	Health      *observability.HealthChecker
	Metrics     *observability.Metrics
	Logger      *observability.Logger
	Audit       audit.Logger
	CORSOrigins []string

	// TrustedProxies may set the client address through X-Forwarded-For;
	// without any, rate limits key on the socket peer
	TrustedProxies httputil.TrustedProxies
}

// Server routes the REST API
type Server struct {
	router  *mux.Router
	handler http.Handler
	cfg     Config
}

// NewServer registers every route under PathPrefix
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	cfg.Limiters.defaults()

	s := &Server{router: mux.NewRouter(), cfg: cfg}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "Route not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	s.router.Use(
		httputil.LoggingMiddleware(cfg.Logger),
		observability.HTTPMetricsMiddleware(cfg.Metrics, httputil.RouteTemplate),
		httputil.MaxBytesMiddleware(MaxBodyBytes),
	)
	s.setupRoutes()

	s.handler = httputil.Chain(
		httputil.RecoveryMiddleware,
		httputil.RequestIDMiddleware,
		httputil.RealIPMiddleware(cfg.TrustedProxies),
		httputil.CORSMiddleware(cfg.CORSOrigins),
	)(s.router)
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix(PathPrefix).Subrouter()
	api.Use(middleware.RateLimit(s.cfg.Limiters.API, s.cfg.Metrics))

	NewHealthHandlers(s.cfg.Health).RegisterRoutes(api)

	NewAuthHandlers(s.cfg.Services.Accounts, s.cfg.Cookies, s.cfg.Session, s.cfg.Limiters, s.cfg.Metrics, s.cfg.Audit, s.cfg.Logger).
		RegisterRoutes(api.PathPrefix("/auth").Subrouter())

	protected := func(prefix string) *mux.Router {
		r := api.PathPrefix(prefix).Subrouter()
		r.Use(s.cfg.Session.Handler)
		return r
	}
	NewProjectHandlers(s.cfg.Services.Projects).RegisterRoutes(protected("/projects"))
	NewTaskHandlers(s.cfg.Services.Tasks).RegisterRoutes(protected("/tasks/{projectId}"))
	NewSubtaskHandlers(s.cfg.Services.Tasks).RegisterRoutes(protected("/subtasks/{projectId}"))
	NewBoardHandlers(s.cfg.Services.Boards).RegisterRoutes(protected("/boards/{projectId}"))
	NewNoteHandlers(s.cfg.Services.Notes).RegisterRoutes(protected("/notes/{projectId}"))
	NewNotificationHandlers(s.cfg.Services.Notifications).RegisterRoutes(protected("/notifications"))
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the route table, for tests and route listings
func (s *Server) Router() *mux.Router {
	return s.router
}
