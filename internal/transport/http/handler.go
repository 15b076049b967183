package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"visa-automation-service/internal/entity"
	"visa-automation-service/internal/repository/postgresql"
	"visa-automation-service/internal/service"
)

type Handler struct {
	jobSvc *service.JobService
}

func NewHandler(jobSvc *service.JobService) *Handler {
	return &Handler{jobSvc: jobSvc}
}

type startJobDTO struct {
	ApplicationID int64    `json:"application_id"`
	Stages        []string `json:"stages"`
	Options       struct {
		VisibleMode bool `json:"visible_mode"`
	} `json:"options"`
	TriggeredBy string `json:"triggered_by,omitempty"`
	Country     string `json:"country,omitempty"`
}

type cancelJobDTO struct {
	Action string `json:"action"`
}

// StartJob godoc
// @Summary Start an automation job
// @Description Creates the job (pending), enforces the one-active-job-per-application rule and dispatches it for background execution.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body startJobDTO true "job request"
// @Success 201 {object} entity.Job
// @Failure 400 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs [post]
func (h *Handler) StartJob(w http.ResponseWriter, r *http.Request) {
	var dto startJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	stages := make([]entity.Stage, len(dto.Stages))
	for i, s := range dto.Stages {
		stages[i] = entity.Stage(s)
	}

	job, err := h.jobSvc.Start(r.Context(), service.StartJobRequest{
		ApplicationID: dto.ApplicationID,
		Stages:        stages,
		VisibleMode:   dto.Options.VisibleMode,
		TriggeredBy:   dto.TriggeredBy,
		Country:       dto.Country,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidStages):
			writeErr(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, postgresql.ErrActiveJobExists):
			writeErr(w, http.StatusConflict, err.Error())
		default:
			writeErr(w, http.StatusInternalServerError, "failed to start job")
		}
		return
	}

	writeJSON(w, http.StatusCreated, job)
}

// UpdateJob godoc
// @Summary Apply an action to a job
// @Description Only action "cancel" is supported. Cancelling is idempotent; a terminal job is returned unchanged.
// @Tags jobs
// @Accept json
// @Produce json
// @Param id path string true "job id (uuid)"
// @Param request body cancelJobDTO true "action"
// @Success 200 {object} entity.Job
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id} [patch]
func (h *Handler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	var dto cancelJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if dto.Action != "cancel" {
		writeErr(w, http.StatusBadRequest, "unsupported action")
		return
	}

	job, err := h.jobSvc.Cancel(r.Context(), id)
	if err != nil {
		if errors.Is(err, postgresql.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "job not found")
			return
		}
		writeErr(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// GetJob godoc
// @Summary Get job by id
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} entity.Job
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	job, err := h.jobSvc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, postgresql.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "job not found")
			return
		}
		writeErr(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// ListJobs godoc
// @Summary List jobs for an application
// @Description Full history, newest first. Pollers should stop once a terminal status is observed.
// @Tags jobs
// @Produce json
// @Param application_id query int true "application id"
// @Success 200 {array} entity.Job
// @Failure 400 {object} apiError
// @Router /jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	appID, err := strconv.ParseInt(r.URL.Query().Get("application_id"), 10, 64)
	if err != nil || appID <= 0 {
		writeErr(w, http.StatusBadRequest, "application_id is required")
		return
	}

	jobs, err := h.jobSvc.List(r.Context(), appID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	writeJSON(w, http.StatusOK, jobs)
}
