// Package server exposes the tracker over HTTP: announce and scrape
// for clients, update and report for the site.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
	"golang.org/x/net/netutil"

	"github.com/serval/serval/config"
	"github.com/serval/serval/models"
	"github.com/serval/serval/pkg/log"
	"github.com/serval/serval/stats"
	"github.com/serval/serval/tracker"
)

const rootResponse = "Nothing to see here."

// Server is the HTTP front of the tracker.
type Server struct {
	cfg   *config.Config
	tr    *tracker.Tracker
	stats *stats.Stats

	srv *http.Server
}

// New builds a Server; call ListenAndServe to run it.
func New(cfg *config.Config, tr *tracker.Tracker, st *stats.Stats) *Server {
	s := &Server{cfg: cfg, tr: tr, stats: st}

	router := httprouter.New()
	router.GET("/", s.serveRoot)
	router.GET("/:passkey/:action", s.serve)

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Internal.ListenPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		ConnState:    s.connState,
	}
	return s
}

// ListenAndServe accepts connections until Shutdown. The listener is
// capped so a connection flood degrades into queueing, not OOM.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return errors.Wrap(err, "server: listen")
	}
	listener = netutil.LimitListener(listener, s.cfg.Internal.MaxConnections)

	log.Info("server: listening", log.Fields{"addr": s.srv.Addr})
	err = s.srv.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return errors.Wrap(err, "server: serve")
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) connState(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		atomic.AddInt64(&s.stats.OpenConnections, 1)
		atomic.AddInt64(&s.stats.OpenedConnections, 1)
	case http.StateClosed, http.StateHijacked:
		atomic.AddInt64(&s.stats.OpenConnections, -1)
	}
}

func (s *Server) serveRoot(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	atomic.AddInt64(&s.stats.Requests, 1)
	n := writeText(w, rootResponse)
	atomic.AddInt64(&s.stats.BytesWritten, int64(n))
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	atomic.AddInt64(&s.stats.Requests, 1)
	atomic.AddInt64(&s.stats.BytesRead, int64(len(r.RequestURI)))

	written := s.dispatch(w, r, ps)
	atomic.AddInt64(&s.stats.BytesWritten, int64(written))
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, ps httprouter.Params) int {
	passkey := ps.ByName("passkey")
	action := ps.ByName("action")

	switch action {
	case "announce", "scrape", "update", "report":
	default:
		return writeText(w, "Invalid action.")
	}

	q, err := parseQuery(r.URL.RawQuery)
	if err != nil {
		log.Debug("server: malformed query", log.Err(err))
		return writeError(w, "Malformed request")
	}
	if q.Empty() {
		return writeText(w, rootResponse)
	}

	if s.tr.Status() != tracker.StatusOpen {
		return writeError(w, "The tracker is temporarily unavailable.")
	}

	if action == "update" || action == "report" {
		if passkey != s.cfg.Gazelle.SitePassword {
			return writeError(w, "Authentication failure.")
		}
		if action == "update" {
			return writeText(w, s.tr.Update(q))
		}
		return writeText(w, s.tr.Report(q))
	}

	user, ok := s.tr.FindUser(passkey)
	if !ok {
		return writeError(w, "Passkey not found")
	}

	if action == "scrape" {
		atomic.AddInt64(&s.stats.Scrapes, 1)
		hashes := q.Infohashes
		if hashes == nil {
			if ih, ok := q.Get("info_hash"); ok {
				hashes = []string{ih}
			}
		}
		return writeScrape(w, s.tr.Scrape(hashes))
	}

	atomic.AddInt64(&s.stats.Announces, 1)
	out, err := s.tr.Announce(newAnnounce(q, r), user)
	if err != nil {
		if clientErr, ok := err.(models.ClientError); ok {
			return writeError(w, string(clientErr))
		}
		log.Error("server: announce failed", log.Err(err))
		return writeError(w, "Internal error")
	}
	atomic.AddInt64(&s.stats.SuccessfulAnnounces, 1)
	return writeAnnounce(w, out)
}
