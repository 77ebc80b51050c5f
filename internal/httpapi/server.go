// Package httpapi is the REST transport adapter over the Core API (spec
// §6), grounded on the teacher's internal/api/server.go — the same chi
// router, middleware stack, and writeJSON/writeError helpers, generalized
// from the teacher's OpenAI/Ollama-compatible routes to this spec's
// register_model/unregister_model/get_model_info/list_models/predict/
// batch_predict/health routes.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/turtacn/inferserve/internal/apierr"
	"github.com/turtacn/inferserve/internal/domain"
	"github.com/turtacn/inferserve/internal/gateway"
)

// Server is the gateway's HTTP API server.
type Server struct {
	gw             *gateway.Gateway
	metricsEnabled bool
}

// NewServer creates a Server over gw.
func NewServer(gw *gateway.Gateway) *Server {
	return &Server{gw: gw}
}

// EnableMetrics turns on the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(corsMiddleware)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1/models", func(r chi.Router) {
		r.Post("/", s.handleRegisterModel)
		r.Get("/", s.handleListModels)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetModelInfo)
			r.Delete("/", s.handleUnregisterModel)
			r.Post("/predict", s.handlePredict)
			r.Post("/batch_predict", s.handleBatchPredict)
		})
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Handlers ────────────────────────────────────────────────────────────

type registerModelRequest struct {
	Name         string          `json:"name"`
	Kind         string          `json:"kind"`
	CustomKind   string          `json:"custom_kind,omitempty"`
	Backend      string          `json:"backend"`
	Device       deviceDTO       `json:"device"`
	Optimize     optimizationDTO `json:"optimize"`
	BatchPolicy  *batchPolicyDTO `json:"batch_policy,omitempty"`
	CustomParams map[string]any  `json:"custom_params,omitempty"`
}

func (s *Server) handleRegisterModel(w http.ResponseWriter, r *http.Request) {
	var req registerModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.NewValidation("malformed request body: "+err.Error()))
		return
	}
	if req.Name == "" {
		writeError(w, apierr.NewValidation("name is required"))
		return
	}

	spec := gateway.RegisterSpec{
		Backend:      req.Backend,
		Device:       req.Device.toDomain(),
		Optimize:     req.Optimize.toDomain(),
		CustomParams: req.CustomParams,
	}
	if req.BatchPolicy != nil {
		spec.BatchPolicy = req.BatchPolicy.toDomain()
	}

	id, err := s.gw.RegisterModel(req.Name, domain.ModelKind{Kind: req.Kind, Custom: req.CustomKind}, spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": string(id)})
}

func (s *Server) handleUnregisterModel(w http.ResponseWriter, r *http.Request) {
	id := domain.ModelId(chi.URLParam(r, "id"))
	if err := s.gw.UnregisterModel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetModelInfo(w http.ResponseWriter, r *http.Request) {
	id := domain.ModelId(chi.URLParam(r, "id"))
	info, err := s.gw.GetModelInfo(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, modelInfoToDTO(info))
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	infos := s.gw.ListModels()
	out := make([]modelInfoDTO, len(infos))
	for i, info := range infos {
		out[i] = modelInfoToDTO(info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": out})
}

type predictRequest struct {
	Input      inputDTO      `json:"input"`
	Parameters parametersDTO `json:"parameters"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	id := domain.ModelId(chi.URLParam(r, "id"))

	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.NewValidation("malformed request body: "+err.Error()))
		return
	}

	resp, err := s.gw.Predict(r.Context(), id, req.Input.toDomain(), req.Parameters.toDomain())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, responseToDTO(resp))
}

type batchPredictRequest struct {
	Inputs     []inputDTO    `json:"inputs"`
	Parameters parametersDTO `json:"parameters"`
}

type batchPredictResult struct {
	Response *responseDTO `json:"response,omitempty"`
	Error    string       `json:"error,omitempty"`
}

func (s *Server) handleBatchPredict(w http.ResponseWriter, r *http.Request) {
	id := domain.ModelId(chi.URLParam(r, "id"))

	var req batchPredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.NewValidation("malformed request body: "+err.Error()))
		return
	}

	inputs := make([]domain.Input, len(req.Inputs))
	for i, in := range req.Inputs {
		inputs[i] = in.toDomain()
	}

	responses, errs := s.gw.BatchPredict(r.Context(), id, inputs, req.Parameters.toDomain())
	out := make([]batchPredictResult, len(responses))
	for i := range responses {
		if errs[i] != nil {
			out[i] = batchPredictResult{Error: errs[i].Error()}
			continue
		}
		dto := responseToDTO(responses[i])
		out[i] = batchPredictResult{Response: &dto}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": string(s.gw.Health())})
}

// ─── Shared helpers ─────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := apierr.CodeInternal
	msg := err.Error()
	if apiErr, ok := apierr.As(err); ok {
		status = apierr.StatusCode(apiErr)
		code = apiErr.Code
		msg = apiErr.Message
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": msg,
		},
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
