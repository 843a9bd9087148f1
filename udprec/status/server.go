// Package status serves a read-only view of a running receiver over HTTP.
//
// A Log records recent deliveries; a Server exposes that log, the receiver's state, and prometheus metrics.
// Client queries a Server.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"os"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rflandau/udprec/udprec"
	"github.com/rflandau/udprec/udprec/receiver"
	"github.com/rs/zerolog"
)

const (
	_API_NAME    string = "udprec"
	_API_VERSION string = "1.0.0"
)

// Endpoints served by a Server.
const (
	EP_STATUS  string = "/status"
	EP_RECORDS string = "/records"
	EP_METRICS string = "/metrics"
)

const CONTENT_TYPE string = "application/json"

var ErrNotStarted = errors.New("status server has not been started")

// Source is the receiver being reported on.
type Source interface {
	State() receiver.State
	Addr() netip.AddrPort
}

// Server is the HTTP status surface of a single receiver.
type Server struct {
	log      *zerolog.Logger
	addr     netip.AddrPort
	src      Source
	rl       *Log
	gatherer prometheus.Gatherer

	endpoint struct {
		api  huma.API
		mux  *http.ServeMux
		http *http.Server
	}

	mu       sync.Mutex
	ln       net.Listener
	done     chan struct{} // closed once Serve has returned
	serveErr error         // why Serve returned; nil after Shutdown
}

//#region options

type Option func(*Server)

// WithLogger overrides the default logger.
// To disable logging, pass a disabled zerolog logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithGatherer serves the given prometheus gatherer on /metrics.
// Without it, /metrics serves the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

//#endregion options

// NewServer builds (but does not start) a status server for src and rl, to be bound at addr.
// Port 0 picks an ephemeral port; see Addr once started.
func NewServer(addr netip.AddrPort, src Source, rl *Log, opts ...Option) (*Server, error) {
	if !addr.IsValid() {
		return nil, udprec.ErrBadAddr(addr)
	} else if src == nil || rl == nil {
		return nil, errors.New("a source and a log are required")
	}

	s := &Server{
		addr:     addr,
		src:      src,
		rl:       rl,
		gatherer: prometheus.DefaultGatherer,
	}
	s.endpoint.mux = http.NewServeMux()
	s.done = make(chan struct{})

	for _, opt := range opts {
		opt(s)
	}

	if s.log == nil {
		l := zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}).With().
			Str("status", addr.String()).
			Timestamp().
			Caller().
			Logger().Level(zerolog.WarnLevel)
		s.log = &l
	}

	s.endpoint.api = humago.New(s.endpoint.mux, huma.DefaultConfig(_API_NAME, _API_VERSION))
	s.buildEndpoints()

	return s, nil
}

func (s *Server) buildEndpoints() {
	huma.Register(s.endpoint.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        EP_STATUS,
		Summary:     "Receiver state and counters",
	}, s.handleStatus)
	huma.Register(s.endpoint.api, huma.Operation{
		OperationID: "get-records",
		Method:      http.MethodGet,
		Path:        EP_RECORDS,
		Summary:     "Most recent deliveries, newest last",
	}, s.handleRecords)
	s.endpoint.mux.Handle(EP_METRICS, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// Start binds the HTTP listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return errors.New("status server already started")
	}
	ln, err := net.Listen("tcp", s.addr.String())
	if err != nil {
		return &udprec.BindError{Addr: s.addr, Err: err}
	}
	s.ln = ln
	s.endpoint.http = &http.Server{Handler: s.endpoint.mux}
	go func(srv *http.Server) {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		} else {
			s.log.Error().Err(err).Msg("status server failed")
		}
		s.serveErr = err
		close(s.done)
	}(s.endpoint.http)
	s.log.Info().Str("address", ln.Addr().String()).Msg("status server listening")
	return nil
}

// Addr returns the bound address once started, the requested address before then.
func (s *Server) Addr() netip.AddrPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return s.addr
	}
	return udprec.AddrPortFromNet(s.ln.Addr())
}

// Done returns a channel that is closed once the server has stopped serving, whether by Shutdown or by failure.
// It never closes for a server that was not started.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that stopped the server.
// Nil while serving and after a Shutdown.
func (s *Server) Err() error {
	select {
	case <-s.done:
		return s.serveErr
	default:
		return nil
	}
}

// Shutdown gracefully stops the server, waiting for in-flight requests until ctx expires.
// Returns the serve error if the server had already failed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.endpoint.http
	s.mu.Unlock()
	if srv == nil {
		return ErrNotStarted
	}
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	<-s.done
	s.log.Info().Str("address", s.addr.String()).AnErr("serve error", s.serveErr).Msg("status server stopped")
	return s.serveErr
}

//#region handlers

type StatusResp struct {
	Body struct {
		State       string   `json:"state" example:"LISTENING" doc:"lifecycle state of the receiver"`
		Bind        string   `json:"bind" example:"0.0.0.0:8142" doc:"address the receiver is bound to"`
		Counters    Counters `json:"counters"`
		ActivePeers []Peer   `json:"active_peers" doc:"senders heard from recently"`
	}
}

type RecordsReq struct {
	Limit int `query:"limit" default:"50" minimum:"0" maximum:"4096" doc:"maximum number of entries to return; 0 for all held"`
}

type RecordsResp struct {
	Body struct {
		Records []Entry `json:"records" doc:"most recent deliveries, newest last"`
	}
}

func (s *Server) handleStatus(_ context.Context, _ *struct{}) (*StatusResp, error) {
	resp := &StatusResp{}
	resp.Body.State = s.src.State().String()
	resp.Body.Bind = s.src.Addr().String()
	resp.Body.Counters = s.rl.Counters()
	resp.Body.ActivePeers = s.rl.Peers()
	return resp, nil
}

func (s *Server) handleRecords(_ context.Context, req *RecordsReq) (*RecordsResp, error) {
	resp := &RecordsResp{}
	resp.Body.Records = s.rl.Recent(req.Limit)
	return resp, nil
}

//#endregion handlers
