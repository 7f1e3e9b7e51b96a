// cmd/scholarnav/serve.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	apperrors "github.com/valpere/ScholarNav/internal/errors"
	"github.com/valpere/ScholarNav/internal/monitoring"
	"github.com/valpere/ScholarNav/internal/navigator"
	"github.com/valpere/ScholarNav/internal/utils"
)

const fetchBreaker = "fetch"

func newServeCmd(a *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve fetches over HTTP, one at a time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			nav, err := a.navigator(ctx)
			if err != nil {
				return err
			}

			srv := newServer(nav, a.errors, a.logger)
			health := monitoring.NewHealthManager(5 * time.Second)
			for _, pool := range []navigator.Pool{navigator.PoolPrimary, navigator.PoolSecondary} {
				health.RegisterCheck(backendCheck(nav, pool))
			}
			health.RegisterCheck(monitoring.HealthCheck{
				Name: "fetch_breaker",
				Check: func(context.Context) error {
					if state := a.errors.CircuitBreaker(fetchBreaker).GetState(); state == apperrors.CircuitOpen {
						return errors.New("fetches suspended after repeated hard blocks")
					}
					return nil
				},
			})

			httpServer := &http.Server{
				Addr:              listen,
				Handler:           newRouter(srv, health, a.metrics),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				httpServer.Shutdown(shutdownCtx)
			}()

			a.logger.Infof("listening on %s", listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", ":8080", "address to listen on")
	return cmd
}

func backendCheck(nav *navigator.Navigator, pool navigator.Pool) monitoring.HealthCheck {
	return monitoring.HealthCheck{
		Name:     string(pool),
		Critical: true,
		Check: func(context.Context) error {
			if nav.Backend(pool).Session() == nil {
				return fmt.Errorf("%s pool has no live session", pool)
			}
			return nil
		},
	}
}

// fetcher is the part of the navigator the server needs.
type fetcher interface {
	Fetch(ctx context.Context, url string, preferPrimary bool) (string, error)
}

// server serialises fetches: the navigator holds one session per pool and
// is not safe for concurrent use.
type server struct {
	mu     sync.Mutex
	nav    fetcher
	errors *apperrors.Service
	logger utils.Logger
}

func newServer(nav fetcher, errs *apperrors.Service, logger utils.Logger) *server {
	return &server{nav: nav, errors: errs, logger: logger.WithField("component", "server")}
}

func newRouter(s *server, health *monitoring.HealthManager, metrics *monitoring.MetricsManager) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/fetch", s.handleFetch).Methods(http.MethodGet)
	r.HandleFunc("/healthz", health.HealthHandler()).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.MetricsHandler()).Methods(http.MethodGet)
	return r
}

func (s *server) handleFetch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := q.Get("url")
	if u, err := url.Parse(target); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		writeJSONError(w, http.StatusBadRequest, "Bad Request", "the url parameter must be an absolute http(s) URL")
		return
	}
	primary, _ := strconv.ParseBool(q.Get("primary"))

	s.mu.Lock()
	defer s.mu.Unlock()

	var body string
	err := s.errors.Execute(r.Context(), fetchBreaker, isHardBlock, func(ctx context.Context) error {
		var err error
		body, err = s.nav.Fetch(ctx, target, primary)
		return err
	})
	if err != nil {
		s.writeError(w, target, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, body)
}

func (s *server) writeError(w http.ResponseWriter, target string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrCircuitOpen):
		w.Header().Set("Retry-After", "600")
		writeJSONError(w, http.StatusServiceUnavailable, "Suspended", "fetches are paused after repeated hard blocks")
		return
	case errors.Is(err, navigator.ErrHardBlock):
		status = http.StatusServiceUnavailable
	case errors.Is(err, navigator.ErrMaxTriesExceeded):
		status = http.StatusBadGateway
		if utils.IsRetryableError(err) {
			w.Header().Set("Retry-After", "120")
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	s.logger.WithField("url", target).Warnf("fetch failed: %v", err)
	title, message, _ := s.errors.GetUserFriendlyError(err)
	writeJSONError(w, status, title, message)
}

func writeJSONError(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": title, "message": message})
}

func isHardBlock(err error) bool {
	return errors.Is(err, navigator.ErrHardBlock)
}
