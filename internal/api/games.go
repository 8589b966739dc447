package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"cardtable/internal/game"
	"cardtable/internal/metrics"
	"cardtable/internal/resilience"
)

// ClassGames is the breaker class of every game route.
const ClassGames = "games"

// GamesDeps are the collaborators of the games HTTP surface.
type GamesDeps struct {
	Games    *game.Service
	Guard    *Guard
	Invokers *resilience.Set
	Metrics  *metrics.Metrics
	Store    HealthChecker
	Cache    HealthChecker
	Log      *logrus.Entry
}

// GamesServer is the HTTP surface of the games service.
type GamesServer struct {
	deps   GamesDeps
	router *mux.Router
}

func NewGamesServer(deps GamesDeps) *GamesServer {
	s := &GamesServer{deps: deps, router: mux.NewRouter()}
	s.setupRoutes()
	return s
}

func (s *GamesServer) setupRoutes() {
	g := s.deps.Guard
	api := s.router.PathPrefix("/api/game").Subrouter()
	api.Use(corsMiddleware, jsonMiddleware)

	api.Handle("/start", g.handle(routeOpts{name: "start_game", class: ClassGames, bearer: true}, s.startGame)).
		Methods(http.MethodPost, http.MethodOptions)
	api.Handle("/move", g.handle(routeOpts{name: "make_move", class: ClassGames, bearer: true}, s.makeMove)).
		Methods(http.MethodPost, http.MethodOptions)

	s.router.Handle("/status", jsonMiddleware(http.HandlerFunc(s.status))).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}
}

func (s *GamesServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *GamesServer) startGame(ctx context.Context, c *call) (int, interface{}, error) {
	var req game.StartRequest
	if err := c.decode(&req, "invalid request data"); err != nil {
		return 0, nil, err
	}
	started, err := s.deps.Games.StartGame(ctx, req)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, map[string]interface{}{
		"message": "Game created successfully",
		"game_id": started.ID,
	}, nil
}

func (s *GamesServer) makeMove(ctx context.Context, c *call) (int, interface{}, error) {
	var req game.MoveRequest
	if err := c.decode(&req, "invalid move data"); err != nil {
		return 0, nil, err
	}
	state, err := s.deps.Games.MakeMove(ctx, req)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]interface{}{
		"message":    "Move processed successfully",
		"game_state": state,
	}, nil
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status              string    `json:"status"`
	Timestamp           time.Time `json:"timestamp"`
	ActiveGames         int64     `json:"active_games"`
	TotalRequests       int64     `json:"total_requests"`
	TotalErrors         int64     `json:"total_errors"`
	CircuitBreakerState string    `json:"circuit_breaker_state"`
	DBConnected         bool      `json:"db_connected"`
	CacheConnected      bool      `json:"cache_connected"`
}

// status bypasses the gateway check and admission; 503 when either backing
// store is unreachable.
func (s *GamesServer) status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := StatusResponse{
		Status:              statusHealthy,
		Timestamp:           time.Now().UTC(),
		TotalRequests:       s.deps.Guard.Requests(),
		TotalErrors:         s.deps.Guard.Errors(),
		CircuitBreakerState: s.deps.Invokers.Invoker(ClassGames).Breaker().State().String(),
		DBConnected:         probe(ctx, s.deps.Store) == statusHealthy,
		CacheConnected:      probe(ctx, s.deps.Cache) == statusHealthy,
	}

	if resp.DBConnected {
		active, err := s.deps.Games.ActiveGames(ctx)
		if err != nil {
			s.deps.Log.WithError(err).Debug("could not count active games")
		}
		resp.ActiveGames = active
	}

	code := http.StatusOK
	if !resp.DBConnected || !resp.CacheConnected {
		resp.Status = statusUnhealthy
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
