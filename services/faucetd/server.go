package faucetd

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"viafaucet/gateway/middleware"
)

const defaultMaxBodyBytes = 1 << 20

// ServerConfig configures the public HTTP surface.
type ServerConfig struct {
	RecaptchaSiteKey string
	ContractID       uint64
	DripAmount       string
	Decimals         int32
	CORS             middleware.CORSConfig
	SubmitLimit      middleware.RateLimit
	MaxBodyBytes     int64
	LogRequests      bool
}

// Server exposes the public faucet endpoints.
type Server struct {
	processor *Processor
	cfg       ServerConfig
	logger    *slog.Logger
	limiter   *middleware.RateLimiter
	router    chi.Router
}

type messageResponse struct {
	Message string `json:"message"`
	TxID    string `json:"txID,omitempty"`
}

type configResponse struct {
	RecaptchaSiteKey string `json:"recaptchaSiteKey"`
	ContractID       uint64 `json:"contractId"`
	DripAmount       string `json:"dripAmount"`
	Decimals         int32  `json:"decimals"`
}

// NewServer wires the router around processor.
func NewServer(processor *Processor, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   "faucetd",
		MetricsPrefix: "faucet_http",
		LogRequests:   cfg.LogRequests,
	}, logger)
	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		"submit": cfg.SubmitLimit,
	}, logger)

	s := &Server{processor: processor, cfg: cfg, logger: logger, limiter: limiter}
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))
	r.With(obs.Middleware("submit"), limiter.Middleware("submit")).Post("/submit-form", s.handleSubmit)
	r.With(obs.Middleware("config")).Get("/config", s.handleConfig)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(prometheus.Gatherers{prometheus.DefaultGatherer, obs.Registry()}, promhttp.HandlerOpts{}))
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Limiter exposes the per-IP throttle so the caller can run its janitor.
func (s *Server) Limiter() *middleware.RateLimiter {
	return s.limiter
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "invalid request body"})
		return
	}
	req := DisbursementRequest{
		Token:    r.PostForm.Get("recaptcha"),
		Target:   r.PostForm.Get("target"),
		RemoteIP: middleware.ClientIP(r),
	}
	result, err := s.processor.Disburse(r.Context(), req)
	if err != nil {
		status, message := HTTPStatus(err)
		attrs := []any{slog.String("kind", string(KindOf(err))), slog.String("target", req.Target), slog.Any("error", err)}
		if status >= http.StatusInternalServerError {
			s.logger.Error("disbursement failed", attrs...)
		} else {
			s.logger.Info("disbursement rejected", attrs...)
		}
		writeJSON(w, status, messageResponse{Message: message})
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: MsgSuccess, TxID: result.TxID})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, configResponse{
		RecaptchaSiteKey: s.cfg.RecaptchaSiteKey,
		ContractID:       s.cfg.ContractID,
		DripAmount:       s.cfg.DripAmount,
		Decimals:         s.cfg.Decimals,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
