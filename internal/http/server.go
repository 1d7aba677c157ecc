// Package http exposes the map server operations over HTTP. Producers are
// authenticated upstream; the authenticating proxy passes the producer
// identity in a request header.
package http

import (
	"context"
	"errors"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/nikkolasg/hexjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"

	"github.com/fzmap/mapserver/common/log"
	"github.com/fzmap/mapserver/internal/mapserver"
	"github.com/fzmap/mapserver/internal/mapstore"
	"github.com/fzmap/mapserver/internal/metrics"
)

// DefaultProducerHeader carries the authenticated producer identity.
const DefaultProducerHeader = "X-Producer-Id"

// maxBodySize bounds request bodies. Ciphertexts under a 2048 bit key are
// about 1200 decimal digits each.
const maxBodySize = 32 << 20

// Backend is the set of operations served.
type Backend interface {
	GetComparisonsClient(ctx context.Context, mapID uint64, coords []mapstore.Coordinate, producer string) ([]mapserver.Comparison, error)
	GetComparisonsProvider(ctx context.Context, mapID uint64, name mapstore.Name, n *big.Int, coords []mapstore.Coordinate, producer string) ([]mapserver.Comparison, error)
	GetPoints(ctx context.Context, results []mapserver.ComparisonResult, producer string) ([]mapserver.RetrievedPoint, error)
	GetPointsPlaintext(ctx context.Context, mapID uint64, coords []mapstore.Coordinate, producer string) ([]mapserver.PlainPoint, error)
	GetPreviews(ctx context.Context, mapIDs []uint64, producer string) ([]mapserver.Preview, error)
	GetPreviewsPlaintext(ctx context.Context, mapIDs []uint64, producer string) ([]mapserver.PlainPreview, error)
	GetPreviewInfo(ctx context.Context, mapID uint64, producer string) (mapserver.PreviewInfo, error)
	StoreRecords(ctx context.Context, records []mapserver.Record, producer string) error
	StoreRecordsPlaintext(ctx context.Context, mapID uint64, name mapstore.Name, n *big.Int, records []mapserver.PlainRecord, producer string) error
}

// Server routes HTTP requests to a Backend.
type Server struct {
	backend Backend
	log     log.Logger
	header  string
	ready   atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithProducerHeader sets the header the producer identity is read from.
func WithProducerHeader(h string) Option {
	return func(s *Server) {
		s.header = h
	}
}

// New returns a Server for backend. It reports not ready until SetReady.
func New(backend Backend, l log.Logger, opts ...Option) *Server {
	s := &Server{
		backend: backend,
		log:     l.Named("http"),
		header:  DefaultProducerHeader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetReady toggles the readiness probe.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Handler returns the router of the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(instrument)

	r.Get("/livez", s.livez)
	r.Get("/readyz", s.readyz)

	r.Route("/producer", func(r chi.Router) {
		r.Use(s.identify)
		r.Post("/request_comparisons_client", s.requestComparisonsClient)
		r.Post("/request_comparisons_provider", s.requestComparisonsProvider)
		r.Post("/retrieve_points", s.retrievePoints)
		r.Post("/retrieve_points_plaintext", s.retrievePointsPlaintext)
		r.Post("/retrieve_previews", s.retrievePreviews)
		r.Post("/retrieve_previews_plaintext", s.retrievePreviewsPlaintext)
		r.Post("/retrieve_preview_info", s.retrievePreviewInfo)
		r.Post("/provide_records", s.provideRecords)
		r.Post("/provide_records_plaintext", s.provideRecordsPlaintext)
	})
	return r
}

func instrument(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerInFlight(metrics.HTTPInFlight,
		promhttp.InstrumentHandlerCounter(metrics.HTTPCallCounter,
			promhttp.InstrumentHandlerDuration(metrics.HTTPLatency, next)))
}

func (s *Server) livez(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type producerKey struct{}

// identify rejects requests without a producer identity.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		producer := r.Header.Get(s.header)
		if producer == "" {
			s.writeJSON(w, http.StatusUnauthorized, failure(mapserver.ErrInvalidProducer.Error()))
			return
		}
		ctx := context.WithValue(r.Context(), producerKey{}, producer)
		ctx = log.ToContext(ctx, s.log.With("producer", producer, "reqID", middleware.GetReqID(ctx)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func producerOf(r *http.Request) string {
	p, _ := r.Context().Value(producerKey{}).(string)
	return p
}

type mapRequest struct {
	MapID       uint64                `json:"map_id"`
	Coordinates []mapstore.Coordinate `json:"ap_ae"`
}

type providerRequest struct {
	MapID       uint64                `json:"map_id"`
	MapName     mapstore.Name         `json:"map_name"`
	N           *big.Int              `json:"n"`
	Coordinates []mapstore.Coordinate `json:"ap_ae"`
}

type resultsRequest struct {
	Results []mapserver.ComparisonResult `json:"comparison_results"`
}

type recordsRequest struct {
	Records []mapserver.Record `json:"comparison_results_with_values"`
}

type plainRecordsRequest struct {
	MapID   uint64                  `json:"map_id"`
	MapName mapstore.Name           `json:"map_name"`
	N       *big.Int                `json:"n"`
	Points  []mapserver.PlainRecord `json:"points"`
}

type previewsRequest struct {
	MapIDs []uint64 `json:"map_ids"`
}

type previewInfoRequest struct {
	MapID uint64 `json:"map_id"`
}

func (s *Server) requestComparisonsClient(w http.ResponseWriter, r *http.Request) {
	var req mapRequest
	if !s.decode(w, r, &req) {
		return
	}
	out, err := s.backend.GetComparisonsClient(r.Context(), req.MapID, req.Coordinates, producerOf(r))
	s.reply(w, r, err, "comparisons", out)
}

func (s *Server) requestComparisonsProvider(w http.ResponseWriter, r *http.Request) {
	var req providerRequest
	if !s.decode(w, r, &req) {
		return
	}
	out, err := s.backend.GetComparisonsProvider(r.Context(), req.MapID, req.MapName, req.N, req.Coordinates, producerOf(r))
	s.reply(w, r, err, "comparisons", out)
}

func (s *Server) retrievePoints(w http.ResponseWriter, r *http.Request) {
	var req resultsRequest
	if !s.decode(w, r, &req) {
		return
	}
	out, err := s.backend.GetPoints(r.Context(), req.Results, producerOf(r))
	s.reply(w, r, err, "points", out)
}

func (s *Server) retrievePointsPlaintext(w http.ResponseWriter, r *http.Request) {
	var req mapRequest
	if !s.decode(w, r, &req) {
		return
	}
	out, err := s.backend.GetPointsPlaintext(r.Context(), req.MapID, req.Coordinates, producerOf(r))
	s.reply(w, r, err, "points", out)
}

func (s *Server) retrievePreviews(w http.ResponseWriter, r *http.Request) {
	var req previewsRequest
	if !s.decode(w, r, &req) {
		return
	}
	out, err := s.backend.GetPreviews(r.Context(), req.MapIDs, producerOf(r))
	s.reply(w, r, err, "previews", out)
}

func (s *Server) retrievePreviewsPlaintext(w http.ResponseWriter, r *http.Request) {
	var req previewsRequest
	if !s.decode(w, r, &req) {
		return
	}
	out, err := s.backend.GetPreviewsPlaintext(r.Context(), req.MapIDs, producerOf(r))
	s.reply(w, r, err, "previews", out)
}

func (s *Server) retrievePreviewInfo(w http.ResponseWriter, r *http.Request) {
	var req previewInfoRequest
	if !s.decode(w, r, &req) {
		return
	}
	out, err := s.backend.GetPreviewInfo(r.Context(), req.MapID, producerOf(r))
	s.reply(w, r, err, "info", out)
}

func (s *Server) provideRecords(w http.ResponseWriter, r *http.Request) {
	var req recordsRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.backend.StoreRecords(r.Context(), req.Records, producerOf(r))
	s.reply(w, r, err, "msg", nil)
}

func (s *Server) provideRecordsPlaintext(w http.ResponseWriter, r *http.Request) {
	var req plainRecordsRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.backend.StoreRecordsPlaintext(r.Context(), req.MapID, req.MapName, req.N, req.Points, producerOf(r))
	s.reply(w, r, err, "msg", nil)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		log.FromContextOrDefault(r.Context()).Debugw("malformed request", "path", r.URL.Path, "err", err)
		s.writeJSON(w, http.StatusBadRequest, failure("malformed request: "+err.Error()))
		return false
	}
	return true
}

// reply writes the outcome of an operation: payload under key on success,
// the error message and the status of its kind otherwise. Internal errors are
// not disclosed.
func (s *Server) reply(w http.ResponseWriter, r *http.Request, err error, key string, payload interface{}) {
	if err != nil {
		status := StatusOf(err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			log.FromContextOrDefault(r.Context()).Errorw("request failed", "path", r.URL.Path, "err", err)
			msg = "internal server error"
		}
		s.writeJSON(w, status, failure(msg))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, key: payload})
}

// StatusOf maps an operation error to its HTTP status.
func StatusOf(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	switch mapserver.KindOf(err) {
	case mapserver.KindInvalidArgument:
		return http.StatusBadRequest
	case mapserver.KindNotFound:
		return http.StatusNotFound
	case mapserver.KindConflict:
		return http.StatusConflict
	case mapserver.KindPrecondition:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

func failure(msg string) map[string]interface{} {
	return map[string]interface{}{"success": false, "msg": msg}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warnw("writing response", "err", err)
	}
}
