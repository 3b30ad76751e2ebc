// Package api serves the Action API over HTTP for the role screens.
package api

import (
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"clinicflow/internal/core"
	"clinicflow/internal/observability/metrics"
	"clinicflow/pkg/domain"
	"clinicflow/pkg/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 1 << 20

// Handler provides HTTP handlers over a core.Service.
type Handler struct {
	svc      *core.Service
	log      *logging.Logger
	metrics  *metrics.ActionMetrics
	gatherer prometheus.Gatherer
}

// Options configures optional collaborators. Zero values disable them.
type Options struct {
	Logger   *logging.Logger
	Metrics  *metrics.ActionMetrics
	Gatherer prometheus.Gatherer
}

// NewHandler creates a handler for svc.
func NewHandler(svc *core.Service, opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Handler{svc: svc, log: log, metrics: opts.Metrics, gatherer: opts.Gatherer}
}

// Routes builds the router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.observe)

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/debug/vars", expvar.Handler())
	if h.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/reset", h.Reset)

		r.Route("/focus", func(r chi.Router) {
			r.Get("/", h.GetFocus)
			r.Put("/role", h.SelectRole)
			r.Put("/patient", h.SelectPatient)
		})

		r.Route("/patients", func(r chi.Router) {
			r.Get("/", h.ListPatients)
			r.Post("/", h.CreatePatient)

			r.Route("/{patientID}", func(r chi.Router) {
				r.Get("/", h.GetPatient)
				r.Get("/summary", h.GetSummary)
				r.Get("/can-proceed", h.CanProceed)

				r.Post("/consent/toggle", h.ToggleConsent)
				r.Post("/payment/toggle", h.TogglePayment)
				r.Post("/payment/pay-later", h.SetPayLater)
				r.Post("/payment/mark-paid", h.MarkPaid)

				r.Post("/assessments/prs/perform", h.PerformPRS)
				r.Put("/assessments/{kind}", h.UpdateAssessment)

				r.Put("/treatment-plan", h.CreateTreatmentPlan)
				r.Post("/treatment-plan/assign", h.AssignToClinical)
				r.Post("/treatment-plan/complete", h.CompleteTreatmentPlan)

				r.Post("/sessions", h.AddSession)
				r.Post("/notes", h.AddNote)
				r.Put("/notes/{index}", h.UpdateNote)
			})
		})
	})
	return r
}

func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(started)
		h.metrics.ObserveHTTP(route, r.Method, ww.Status(), elapsed)
		if r.Method != http.MethodGet {
			h.metrics.SetPatients(len(h.svc.GetAllPatients()))
		}
		h.log.Debug("http request", "method", r.Method, "route", route, "status", ww.Status(),
			"duration_ms", elapsed.Milliseconds(), "request_id", middleware.GetReqID(r.Context()))
	})
}

// --- Request/Response types ---

// ActionResponse is returned by every successful mutation.
type ActionResponse struct {
	Patient  *domain.PatientRecord `json:"patient,omitempty"`
	Focus    *domain.AppFocus      `json:"focus,omitempty"`
	Warnings []domain.Violation    `json:"warnings,omitempty"`
}

// FocusResponse describes the shared screen state.
type FocusResponse struct {
	Focus domain.AppFocus `json:"focus"`
	UI    domain.UIState  `json:"ui"`
}

// SelectRoleRequest selects a role.
type SelectRoleRequest struct {
	Role domain.Role `json:"role"`
}

// SelectPatientRequest selects a patient.
type SelectPatientRequest struct {
	PatientID string `json:"patientId"`
}

// PerformPRSRequest names the assistant performing PRS.
type PerformPRSRequest struct {
	Assistant string `json:"assistant"`
}

// AddNoteRequest appends a note.
type AddNoteRequest struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

// UpdateNoteRequest edits a note.
type UpdateNoteRequest struct {
	Text string `json:"text"`
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && err != io.EOF {
		return badRequest(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

func (h *Handler) patientResult(w http.ResponseWriter, r *http.Request, status int, p domain.PatientRecord, res domain.Result, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, status, ActionResponse{Patient: &p, Warnings: res.Warnings()})
}

func (h *Handler) focusResult(w http.ResponseWriter, r *http.Request, f domain.AppFocus, res domain.Result, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{Focus: &f, Warnings: res.Warnings()})
}

// --- Handlers ---

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Reset(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.GetAllPatients())
}

func (h *Handler) GetFocus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, FocusResponse{Focus: h.svc.Focus(), UI: h.svc.UI()})
}

func (h *Handler) SelectRole(w http.ResponseWriter, r *http.Request) {
	var req SelectRoleRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	f, res, err := h.svc.SelectRole(r.Context(), req.Role)
	h.focusResult(w, r, f, res, err)
}

func (h *Handler) SelectPatient(w http.ResponseWriter, r *http.Request) {
	var req SelectPatientRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	f, res, err := h.svc.SelectPatient(r.Context(), req.PatientID)
	h.focusResult(w, r, f, res, err)
}

func (h *Handler) ListPatients(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GetAllPatients())
}

func (h *Handler) CreatePatient(w http.ResponseWriter, r *http.Request) {
	var req core.ProfileInput
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, res, err := h.svc.CreatePatient(r.Context(), req)
	h.patientResult(w, r, http.StatusCreated, p, res, err)
}

func (h *Handler) GetPatient(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetPatient(chi.URLParam(r, "patientID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.GetAssessmentSummary(chi.URLParam(r, "patientID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) CanProceed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "patientID")
	if _, err := h.svc.GetPatient(id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"canProceed": h.svc.CanProceed(id)})
}

func (h *Handler) ToggleConsent(w http.ResponseWriter, r *http.Request) {
	p, res, err := h.svc.ToggleConsent(r.Context(), chi.URLParam(r, "patientID"))
	h.patientResult(w, r, http.StatusOK, p, res, err)
}

func (h *Handler) TogglePayment(w http.ResponseWriter, r *http.Request) {
	p, res, err := h.svc.TogglePayment(r.Context(), chi.URLParam(r, "patientID"))
	h.patientResult(w, r, http.StatusOK, p, res, err)
}

func (h *Handler) SetPayLater(w http.ResponseWriter, r *http.Request) {
	p, res, err := h.svc.SetPayLater(r.Context(), chi.URLParam(r, "patientID"))
	h.patientResult(w, r, http.StatusOK, p, res, err)
}

func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	p, res, err := h.svc.PatientMarkPaid(r.Context(), chi.URLParam(r, "patientID"))
	h.patientResult(w, r, http.StatusOK, p, res, err)
}

func (h *Handler) UpdateAssessment(w http.ResponseWriter, r *http.Request) {
	var req core.AssessmentInput
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	kind := domain.AssessmentKind(chi.URLParam(r, "kind"))
	p, res, err := h.svc.UpdateAssessment(r.Context(), chi.URLParam(r, "patientID"), kind, req)
	h.patientResult(w, r, http.StatusOK, p, res, err)
}

func (h *Handler) PerformPRS(w http.ResponseWriter, r *http.Request) {
	var req PerformPRSRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, res, err := h.svc.PerformPRS(r.Context(), chi.URLParam(r, "patientID"), req.Assistant)
	h.patientResult(w, r, http.StatusOK, p, res, err)
}

func (h *Handler) CreateTreatmentPlan(w http.ResponseWriter, r *http.Request) {
	var req core.PlanInput
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, res, err := h.svc.CreateTreatmentPlan(r.Context(), chi.URLParam(r, "patientID"), req)
	h.patientResult(w, r, http.StatusOK, p, res, err)
}

func (h *Handler) AssignToClinical(w http.ResponseWriter, r *http.Request) {
	p, res, err := h.svc.AssignPatientToClinical(r.Context(), chi.URLParam(r, "patientID"))
	h.patientResult(w, r, http.StatusOK, p, res, err)
}

func (h *Handler) CompleteTreatmentPlan(w http.ResponseWriter, r *http.Request) {
	p, res, err := h.svc.CompleteTreatmentPlan(r.Context(), chi.URLParam(r, "patientID"))
	h.patientResult(w, r, http.StatusOK, p, res, err)
}

func (h *Handler) AddSession(w http.ResponseWriter, r *http.Request) {
	var req core.SessionInput
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, res, err := h.svc.AddSession(r.Context(), chi.URLParam(r, "patientID"), req)
	h.patientResult(w, r, http.StatusCreated, p, res, err)
}

func (h *Handler) AddNote(w http.ResponseWriter, r *http.Request) {
	var req AddNoteRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, res, err := h.svc.AddNote(r.Context(), chi.URLParam(r, "patientID"), req.Author, req.Text)
	h.patientResult(w, r, http.StatusCreated, p, res, err)
}

func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		h.writeError(w, r, badRequest("note index must be an integer"))
		return
	}
	var req UpdateNoteRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, res, err := h.svc.UpdateNote(r.Context(), chi.URLParam(r, "patientID"), index, req.Text)
	h.patientResult(w, r, http.StatusOK, p, res, err)
}
