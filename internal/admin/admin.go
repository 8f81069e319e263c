// Package admin serves the gcached operator endpoints over HTTP.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unkn0wn-root/gcache"
	"github.com/unkn0wn-root/gcache/store"
)

// Store is the slice of *store.Store the admin surface needs.
type Store interface {
	Stats() store.Stats
	Clear(container string)
}

type Options struct {
	Store    Store
	Gatherer prometheus.Gatherer // nil serves the default registry
	Logger   gcache.Logger
}

type Server struct {
	st      Store
	log     gcache.Logger
	started time.Time
	now     func() time.Time

	router *mux.Router
	srv    *http.Server
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	store.Stats
	EntriesHuman string `json:"entries_human"`
	Uptime       string `json:"uptime"`
	Started      string `json:"started"`
}

func New(opts Options) *Server {
	s := &Server{
		st:      opts.Store,
		log:     opts.Logger,
		started: time.Now(),
		now:     time.Now,
		router:  mux.NewRouter(),
	}
	if s.log == nil {
		s.log = gcache.NopLogger{}
	}
	g := opts.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}

	s.router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.stats).Methods(http.MethodGet)
	s.router.HandleFunc("/containers/{container}", s.clearContainer).Methods(http.MethodDelete)
	s.router.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Start listens on addr and serves in the background. It returns the bound address.
func (s *Server) Start(addr string) (net.Addr, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin server stopped", gcache.Fields{"err": err})
		}
	}()
	return lis.Addr(), nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	st := s.st.Stats()
	resp := StatsResponse{
		Stats:        st,
		EntriesHuman: humanize.Comma(int64(st.Entries)),
		Uptime:       s.now().Sub(s.started).Truncate(time.Second).String(),
		Started:      humanize.RelTime(s.started, s.now(), "ago", "from now"),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) clearContainer(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["container"]
	s.st.Clear(name)
	s.log.Info("container cleared", gcache.Fields{"container": name})
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
