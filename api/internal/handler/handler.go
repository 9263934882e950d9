package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/turbo-run/turbo/api/internal/metadata"
	"github.com/turbo-run/turbo/api/internal/pkgrepo"
	"github.com/turbo-run/turbo/api/internal/types"
)

// Queue is the subset of the broker contract the HTTP handler needs to
// push a job, synchronously await its terminal result, and check broker
// liveness for the health endpoint.
type Queue interface {
	PushJob(ctx context.Context, job types.Job) error
	WaitForResult(ctx context.Context, jobID string) (*types.JobResult, error)
	Ping(ctx context.Context) error
}

// Repository resolves installed runtimes for the /runtimes endpoint and
// for request-time validation.
type Repository interface {
	Resolve(name, version string) (*types.PackageDefinition, error)
	ListAll() ([]pkgrepo.NameVersion, error)
}

// Handler contains the dependencies for HTTP handlers.
type Handler struct {
	queue     Queue
	repo      Repository
	meta      *metadata.Store
	logger    *logrus.Logger
	waitExtra time.Duration
}

// NewHandler creates a new handler instance. waitExtra bounds how long the
// handler will wait for a worker to publish a result when the request's
// context carries no deadline; a request with its own deadline is bounded
// by that deadline alone, and waitExtra <= 0 adds no bound. meta may be nil, in
// which case GetRuntimes always falls back to a live repository scan.
func NewHandler(queue Queue, repo Repository, meta *metadata.Store, logger *logrus.Logger, waitExtra time.Duration) *Handler {
	return &Handler{queue: queue, repo: repo, meta: meta, logger: logger, waitExtra: waitExtra}
}

// GetVersion returns the API identity.
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, map[string]string{"message": "turbo v1.0.0-go"}, http.StatusOK)
}

// ExecuteCode pushes a job onto the queue and synchronously awaits its
// terminal JobResult via the subscribe-before-check protocol. Any
// terminal status, including compile/runtime failures, is a 200; 5xx is
// reserved for infrastructure failures (queue unreachable, etc).
func (h *Handler) ExecuteCode(w http.ResponseWriter, r *http.Request) {
	var request types.JobRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&request); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			h.sendError(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.sendError(w, "Invalid JSON request", http.StatusBadRequest)
		return
	}

	if err := validateJobRequest(&request); err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := h.repo.Resolve(request.Language, request.Version); err != nil {
		h.sendError(w, fmt.Sprintf("%s-%s runtime is unknown", request.Language, request.Version), http.StatusBadRequest)
		return
	}

	job := types.Job{ID: uuid.NewString(), Request: request}

	ctx := r.Context()
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && h.waitExtra > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.waitExtra)
		defer cancel()
	}

	if err := h.queue.PushJob(ctx, job); err != nil {
		h.logger.WithError(err).Error("failed to push job")
		h.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	result, err := h.queue.WaitForResult(ctx, job.ID)
	if err != nil {
		h.logger.WithError(err).WithField("job_id", job.ID).Error("failed to await job result")
		h.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.sendJSON(w, result, http.StatusOK)
}

// GetRuntimes returns every installed runtime, read from the metadata
// store's cache when available and falling back to a live filesystem
// scan through the package repository when the store is absent, empty,
// or fails to read (degrade, don't 500).
func (h *Handler) GetRuntimes(w http.ResponseWriter, r *http.Request) {
	if h.meta != nil {
		records, err := h.meta.GetRuntimes()
		if err != nil {
			h.logger.WithError(err).Warn("metadata store read failed, falling back to repository scan")
		} else if len(records) > 0 {
			response := make([]types.RuntimeInfo, 0, len(records))
			for _, rec := range records {
				response = append(response, types.RuntimeInfo{
					Language: rec.Language,
					Version:  rec.Version,
					Aliases:  rec.Aliases,
				})
			}
			h.sendJSON(w, response, http.StatusOK)
			return
		}
	}

	all, err := h.repo.ListAll()
	if err != nil {
		h.logger.WithError(err).Error("failed to list runtimes")
		h.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := make([]types.RuntimeInfo, 0, len(all))
	for _, nv := range all {
		pd, err := h.repo.Resolve(nv.Name, nv.Version)
		if err != nil {
			continue
		}
		response = append(response, types.RuntimeInfo{
			Language: nv.Name,
			Version:  nv.Version,
			Aliases:  pd.Yaml.Aliases,
		})
	}

	h.sendJSON(w, response, http.StatusOK)
}

// Health reports 200 once the broker connection and metadata store (when
// configured) are both live, 503 otherwise.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.queue.Ping(ctx); err != nil {
		h.sendError(w, "broker unreachable", http.StatusServiceUnavailable)
		return
	}

	if h.meta != nil {
		if err := h.meta.Ping(); err != nil {
			h.sendError(w, "metadata store unreachable", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func validateJobRequest(request *types.JobRequest) error {
	if request.Language == "" {
		return fmt.Errorf("language is required as a string")
	}

	if len(request.Files) == 0 {
		return fmt.Errorf("files is required as an array")
	}

	for i, file := range request.Files {
		if file.Content == "" {
			return fmt.Errorf("files[%d].content is required as a string", i)
		}
		switch file.Encoding {
		case "", "utf8", "base64", "hex":
		default:
			return fmt.Errorf("files[%d].encoding must be one of utf8, base64, hex", i)
		}
	}

	for i, tc := range request.Testcases {
		if tc.ID == "" {
			return fmt.Errorf("testcases[%d].id is required", i)
		}
	}

	return nil
}

func (h *Handler) sendError(w http.ResponseWriter, message string, statusCode int) {
	h.sendJSON(w, types.ErrorResponse{Message: message, Code: statusCode}, statusCode)
}

func (h *Handler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("failed to encode JSON response")
	}
}
