// Package httpapi implements the HTTP surface (SPEC_FULL.md §6,
// unchanged from spec.md §6): the `GET /mon` health probe and the tile
// pipeline route, wiring internal/dispatch's path parser to
// internal/statemachine's controller. Grounded on original_source/src/
// httphandlerfactory.cpp for the route surface and on
// atlasdatatech-tiler's main.go for the plain net/http, no-framework
// style — no router library appears in any pack go.mod, so this package
// sticks with net/http.ServeMux.
package httpapi

import (
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/atlasdatatech/tileserver/internal/asynctask"
	"github.com/atlasdatatech/tileserver/internal/dispatch"
	"github.com/atlasdatatech/tileserver/internal/statemachine"
)

// Status is the `/mon` health state (spec.md §6).
type Status int32

const (
	StatusOK Status = iota
	StatusMaintenance
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusMaintenance:
		return "MAINTENANCE"
	case StatusFail:
		return "FAIL"
	default:
		return "OK"
	}
}

// Server serves the tile pipeline's HTTP surface on one listener.
// Internal marks the server bound to the internal port: requests it
// handles are stamped TileRequest.Internal = true so the state machine
// skips PeerDecide (spec.md §4.10, §6 "Ports").
type Server struct {
	Router   *dispatch.Router
	Deps     statemachine.Deps
	Internal bool

	status atomic.Int32
}

// NewServer constructs a Server starting in StatusOK.
func NewServer(router *dispatch.Router, deps statemachine.Deps, internal bool) *Server {
	s := &Server{Router: router, Deps: deps, Internal: internal}
	s.status.Store(int32(StatusOK))
	return s
}

// SetStatus transitions the health probe's reported status. SIGHUP
// handling (cmd/tileserver) calls this with StatusMaintenance before
// unregistering from peers and draining (spec.md §6).
func (s *Server) SetStatus(st Status) { s.status.Store(int32(st)) }

// CurrentStatus returns the health probe's current status.
func (s *Server) CurrentStatus() Status { return Status(s.status.Load()) }

// Mount registers the server's routes on mux.
func (s *Server) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/mon", s.handleMon)
	mux.HandleFunc("/", s.handleTile)
}

func (s *Server) handleMon(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(s.CurrentStatus().String()))
}

func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()
	logger := log.WithField("request_id", requestID)

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var layers []string
	if q := r.URL.Query().Get("layers"); q != "" {
		layers = strings.Split(q, ",")
	}

	req, err := s.Router.Parse(r.URL.Path, layers, s.Internal)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	req.DataVersion = req.Version

	done := make(chan struct{})
	var resp statemachine.Response
	var handleErr error
	task := asynctask.New[statemachine.Response](
		func(r statemachine.Response) { resp = r; close(done) },
		func(e error) { handleErr = e; close(done) },
		nil,
	)

	statemachine.Handle(r.Context(), s.Deps, req, task)
	<-done

	if handleErr != nil {
		writeError(w, logger, handleErr)
		return
	}
	writeResponse(w, req, resp)
	logger.WithFields(log.Fields{
		"tile":     req.TileID.String(),
		"endpoint": req.EndpointName,
		"bytes":    humanizeBytes(len(resp.Data)),
		"duration": time.Since(start),
	}).Info("httpapi: served tile")
}
