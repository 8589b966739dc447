package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"cardtable/internal/apperror"
	"cardtable/internal/auth"
	"cardtable/internal/metrics"
	"cardtable/internal/resilience"
	"cardtable/pkg/interfaces"
)

const maxBodyBytes = 1 << 20

// call is everything an endpoint may read. The body is consumed before the
// endpoint runs, so an endpoint abandoned at its deadline never touches the
// live request.
type call struct {
	vars   map[string]string
	body   []byte
	userID string
}

// decode unmarshals the body into v. An empty or malformed body is a bad
// request carrying message.
func (c *call) decode(v interface{}, message string) error {
	if len(c.body) == 0 {
		return apperror.BadRequest(message)
	}
	if err := json.Unmarshal(c.body, v); err != nil {
		return apperror.Wrap(err, apperror.KindBadRequest, message)
	}
	return nil
}

// endpoint returns a status and body on success. It never writes to the
// response itself.
type endpoint func(ctx context.Context, c *call) (int, interface{}, error)

// Guard runs endpoints through gateway authentication, admission, the
// breaker of their class and the timeout envelope, then writes the reply.
type Guard struct {
	gate     *resilience.RequestGate
	invokers *resilience.Set
	verifier interfaces.TokenVerifier
	metrics  *metrics.Metrics
	log      *logrus.Entry

	requests atomic.Int64
	errors   atomic.Int64
}

func NewGuard(gate *resilience.RequestGate, invokers *resilience.Set, verifier interfaces.TokenVerifier, m *metrics.Metrics, log *logrus.Entry) *Guard {
	return &Guard{gate: gate, invokers: invokers, verifier: verifier, metrics: m, log: log}
}

// Requests is the number of guarded requests seen so far.
func (g *Guard) Requests() int64 { return g.requests.Load() }

// Errors is the number of guarded requests that ended in an error.
func (g *Guard) Errors() int64 { return g.errors.Load() }

// options for a single route.
type routeOpts struct {
	name   string
	class  string
	bearer bool
}

func (g *Guard) handle(opts routeOpts, ep endpoint) http.Handler {
	inv := g.invokers.Invoker(opts.class)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		g.requests.Add(1)

		status, body, err := g.serve(w, r, inv, opts, ep)
		if err != nil {
			status = g.fail(w, opts.name, err)
		} else {
			writeJSON(w, status, body)
		}

		if g.metrics != nil {
			g.metrics.ObserveRequest(opts.name, status, time.Since(start))
		}
	})
}

func (g *Guard) serve(w http.ResponseWriter, r *http.Request, inv *resilience.Invoker, opts routeOpts, ep endpoint) (int, interface{}, error) {
	release, err := g.gate.Admit(r.Header.Get(resilience.GatewayTokenHeader))
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		release()
		g.reportInFlight()
	}()
	g.reportInFlight()

	c := &call{vars: mux.Vars(r)}
	if opts.bearer {
		if c.userID, err = g.identify(r); err != nil {
			return 0, nil, err
		}
	}
	if r.Body != nil {
		c.body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			return 0, nil, apperror.Wrap(err, apperror.KindBadRequest, "could not read request body")
		}
	}

	var (
		status int
		reply  interface{}
	)
	err = inv.Do(r.Context(), func(ctx context.Context) error {
		var opErr error
		status, reply, opErr = ep(ctx, c)
		return opErr
	})
	if err != nil {
		return 0, nil, err
	}
	return status, reply, nil
}

func (g *Guard) identify(r *http.Request) (string, error) {
	token, err := auth.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return "", err
	}
	userID, err := g.verifier.Verify(token)
	if err != nil {
		if apperror.Is(err, apperror.KindUnauthenticated) {
			return "", err
		}
		return "", apperror.Wrap(err, apperror.KindUnauthenticated, "invalid token")
	}
	return userID, nil
}

func (g *Guard) fail(w http.ResponseWriter, route string, err error) int {
	g.errors.Add(1)
	kind := apperror.KindOf(err)
	if g.metrics != nil {
		g.metrics.ObserveError(route, string(kind))
	}

	entry := g.log.WithFields(logrus.Fields{"route": route, "kind": kind})
	switch {
	case apperror.IsClient(err), errors.Is(err, context.Canceled):
		entry.WithError(err).Debug("request rejected")
	default:
		entry.WithError(err).Warn("request failed")
	}
	return apperror.WriteHTTP(w, err)
}

func (g *Guard) reportInFlight() {
	if g.metrics != nil {
		g.metrics.SetInFlight(g.gate.InFlight())
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}
