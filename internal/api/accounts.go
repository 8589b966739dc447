package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"cardtable/internal/account"
	"cardtable/internal/apperror"
	"cardtable/internal/metrics"
	"cardtable/internal/resilience"
	"cardtable/pkg/types"
)

// Breaker classes used by the accounts service.
const (
	ClassUsers = "users"
	ClassScore = "score"
)

// AccountsDeps are the collaborators of the accounts HTTP surface.
type AccountsDeps struct {
	Accounts *account.Service
	Guard    *Guard
	Invokers *resilience.Set
	Gate     *resilience.RequestGate
	Metrics  *metrics.Metrics
	Database HealthChecker
	Redis    HealthChecker
	// Realtime serves GET /ws. Optional.
	Realtime http.Handler
	Log      *logrus.Entry
}

// AccountsServer is the HTTP surface of the accounts service.
type AccountsServer struct {
	deps   AccountsDeps
	router *mux.Router
}

func NewAccountsServer(deps AccountsDeps) *AccountsServer {
	s := &AccountsServer{deps: deps, router: mux.NewRouter()}
	s.setupRoutes()
	return s
}

func (s *AccountsServer) setupRoutes() {
	g := s.deps.Guard
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware, jsonMiddleware)

	api.Handle("/users/auth/signup", g.handle(routeOpts{name: "signup", class: ClassUsers}, s.signup)).
		Methods(http.MethodPost, http.MethodOptions)
	api.Handle("/users/auth/signin", g.handle(routeOpts{name: "signin", class: ClassUsers}, s.signin)).
		Methods(http.MethodPost, http.MethodOptions)
	api.Handle("/score/user/{id}", g.handle(routeOpts{name: "get_score", class: ClassScore, bearer: true}, s.getScore)).
		Methods(http.MethodGet, http.MethodOptions)
	api.Handle("/score/update", g.handle(routeOpts{name: "update_score", class: ClassScore, bearer: true}, s.updateScore)).
		Methods(http.MethodPost, http.MethodOptions)

	s.router.Handle("/ping", jsonMiddleware(http.HandlerFunc(s.ping))).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}
	if s.deps.Realtime != nil {
		s.router.Handle("/ws", s.deps.Realtime).Methods(http.MethodGet)
	}
}

func (s *AccountsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *AccountsServer) signup(ctx context.Context, c *call) (int, interface{}, error) {
	var req account.SignupRequest
	if err := c.decode(&req, "missing required fields"); err != nil {
		return 0, nil, err
	}
	user, err := s.deps.Accounts.Signup(ctx, req)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, map[string]interface{}{
		"message": "User created successfully",
		"user_id": user.ID,
	}, nil
}

func (s *AccountsServer) signin(ctx context.Context, c *call) (int, interface{}, error) {
	var req account.SigninRequest
	if err := c.decode(&req, "missing email or password"); err != nil {
		return 0, nil, err
	}
	session, err := s.deps.Accounts.Signin(ctx, req)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, session, nil
}

type scoreView struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	Score       int    `json:"score"`
	GamesPlayed int    `json:"games_played"`
	GamesWon    int    `json:"games_won"`
}

func (s *AccountsServer) getScore(ctx context.Context, c *call) (int, interface{}, error) {
	id, err := strconv.ParseInt(c.vars["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, nil, apperror.BadRequest("invalid user id")
	}
	user, err := s.deps.Accounts.GetScore(ctx, id)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, scoreView{
		UserID:      user.ID,
		Username:    user.Username,
		Score:       user.Score,
		GamesPlayed: user.GamesPlayed,
		GamesWon:    user.GamesWon,
	}, nil
}

// scoreUpdateRequest uses pointers so absent fields are told apart from zero.
type scoreUpdateRequest struct {
	UserID      *int64 `json:"user_id"`
	ScoreChange *int   `json:"score_change"`
	GameWon     bool   `json:"game_won"`
}

func (s *AccountsServer) updateScore(ctx context.Context, c *call) (int, interface{}, error) {
	var req scoreUpdateRequest
	if err := c.decode(&req, "missing required fields"); err != nil {
		return 0, nil, err
	}
	if req.UserID == nil || req.ScoreChange == nil {
		return 0, nil, apperror.BadRequest("missing required fields")
	}

	user, err := s.deps.Accounts.UpdateScore(ctx, types.ScoreUpdate{
		UserID:      *req.UserID,
		ScoreChange: *req.ScoreChange,
		GameWon:     req.GameWon,
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]interface{}{
		"message":      "Score updated successfully",
		"new_score":    user.Score,
		"games_played": user.GamesPlayed,
		"games_won":    user.GamesWon,
	}, nil
}

// PingResponse is the body of GET /ping.
type PingResponse struct {
	Service         string                       `json:"service"`
	Status          string                       `json:"status"`
	Database        string                       `json:"database"`
	Redis           string                       `json:"redis"`
	CircuitBreakers []resilience.BreakerSnapshot `json:"circuit_breakers"`
	CurrentRequests int                          `json:"current_requests"`
	MaxRequests     int                          `json:"max_requests"`
}

// ping bypasses the gateway check and admission. It always answers 200 so a
// degraded instance stays visible to operators.
func (s *AccountsServer) ping(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := PingResponse{
		Service:         "accounts",
		Status:          statusHealthy,
		Database:        probe(ctx, s.deps.Database),
		Redis:           probe(ctx, s.deps.Redis),
		CircuitBreakers: s.deps.Invokers.Snapshots(),
		CurrentRequests: s.deps.Gate.InFlight(),
		MaxRequests:     s.deps.Gate.Capacity(),
	}
	if resp.Database == statusUnhealthy || resp.Redis == statusUnhealthy || s.deps.Invokers.AnyOpen() {
		resp.Status = statusDegraded
	}
	writeJSON(w, http.StatusOK, resp)
}
