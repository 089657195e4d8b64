package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lox/aqicast/internal/forecast"
	"github.com/lox/aqicast/internal/ingest"
	"github.com/lox/aqicast/internal/store"
)

// DefaultStaleAfter is how old the newest live reading may be before health
// reports degraded. The feed updates hourly.
const DefaultStaleAfter = 3 * time.Hour

type Server struct {
	store      *store.Store
	service    *forecast.Service
	stationID  string
	addr       string
	staleAfter time.Duration
	now        func() time.Time
	log        *zap.SugaredLogger
}

func NewServer(s *store.Store, service *forecast.Service, stationID, addr string, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{
		store:      s,
		service:    service,
		stationID:  stationID,
		addr:       addr,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
		log:        log,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/forecast", s.handleForecast)
	mux.HandleFunc("GET /api/forecast/issued", s.handleIssuedForecast)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("GET /api/models/{version}", s.handleModel)
	mux.HandleFunc("GET /api/accuracy", s.handleAccuracy)
	mux.HandleFunc("GET /api/readings/latest", s.handleLatestReading)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warnw("api: shutdown", "error", err)
		}
	}()

	s.log.Infow("api: listening", "addr", s.addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warnw("api: write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HealthStatus is the /health response.
type HealthStatus struct {
	Status        string            `json:"status"`
	StationID     string            `json:"station_id"`
	LastReading   *time.Time        `json:"last_reading,omitempty"`
	AgeMinutes    int               `json:"age_minutes"`
	Stale         bool              `json:"stale"`
	DeployedModel int               `json:"deployed_model,omitempty"`
	LastIngest    map[string]string `json:"last_ingest,omitempty"`
	// Ingest summarizes the last day of ingest runs.
	Ingest []store.IngestHealth `json:"ingest,omitempty"`
	Errors []string             `json:"errors,omitempty"`
}

var healthSources = []string{ingest.SourceWAQI, ingest.SourceOpenMeteo}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok", StationID: s.stationID, AgeMinutes: -1}
	now := s.now()

	latest, err := s.store.GetLatestReading(s.stationID)
	switch {
	case err != nil:
		health.Errors = append(health.Errors, "latest reading: "+err.Error())
	case latest == nil:
		health.Stale = true
	default:
		observed := latest.ObservedAt
		health.LastReading = &observed
		health.AgeMinutes = int(now.Sub(observed).Minutes())
		health.Stale = now.Sub(observed) > s.staleAfter
	}

	mv, err := s.store.DeployedModelVersion()
	switch {
	case err != nil:
		health.Errors = append(health.Errors, "deployed model: "+err.Error())
	case mv == nil:
		health.Status = "degraded"
	default:
		health.DeployedModel = mv.Version
	}

	for _, source := range healthSources {
		t, err := s.store.LastSuccessfulRun(source)
		if err != nil {
			health.Errors = append(health.Errors, source+": "+err.Error())
			continue
		}
		if t.IsZero() {
			continue
		}
		if health.LastIngest == nil {
			health.LastIngest = make(map[string]string)
		}
		health.LastIngest[source] = t.UTC().Format(time.RFC3339)
	}

	if health.Ingest, err = s.store.GetIngestHealth(1); err != nil {
		health.Errors = append(health.Errors, "ingest health: "+err.Error())
	}

	if health.Stale {
		health.Status = "degraded"
	}
	if len(health.Errors) > 0 {
		health.Status = "error"
	}

	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}
