package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/turbo-run/turbo/api/internal/handler"
	"github.com/turbo-run/turbo/api/internal/middleware"
	"github.com/turbo-run/turbo/api/internal/pkgrepo"
	"github.com/turbo-run/turbo/api/internal/types"
)

type fakeQueue struct {
	results map[string]types.JobResult
}

func (q *fakeQueue) PushJob(ctx context.Context, job types.Job) error { return nil }

func (q *fakeQueue) WaitForResult(ctx context.Context, jobID string) (*types.JobResult, error) {
	result := types.JobResult{Language: "python", Version: "3.10.0", Run: &types.StageResult{Status: types.StatusSuccess, Stdout: "hi"}}
	return &result, nil
}

func (q *fakeQueue) Ping(ctx context.Context) error { return nil }

type fakeRepository struct{}

func (r *fakeRepository) Resolve(name, version string) (*types.PackageDefinition, error) {
	if name == "python" {
		return &types.PackageDefinition{Yaml: types.PackageYaml{Name: "python", Version: "3.10.0"}}, nil
	}
	return nil, pkgrepo.ErrPackageNotFound
}

func (r *fakeRepository) ListAll() ([]pkgrepo.NameVersion, error) {
	return []pkgrepo.NameVersion{{Name: "python", Version: "3.10.0"}}, nil
}

func buildTestRouter() *chi.Mux {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	h := handler.NewHandler(&fakeQueue{}, &fakeRepository{}, nil, logger, 0)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.JSON)
			r.Post("/execute", h.ExecuteCode)
		})
		r.Get("/runtimes", h.GetRuntimes)
	})
	r.Get("/", h.GetVersion)
	r.Get("/health", h.Health)

	return r
}

func TestAPIEndpoints(t *testing.T) {
	r := buildTestRouter()

	tests := []struct {
		name           string
		method         string
		path           string
		body           interface{}
		expectedStatus int
		checkResponse  func(t *testing.T, body []byte)
	}{
		{
			name:           "Health Check",
			method:         "GET",
			path:           "/health",
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				if string(body) != "OK" {
					t.Errorf("Expected 'OK', got %s", string(body))
				}
			},
		},
		{
			name:           "Get Version",
			method:         "GET",
			path:           "/",
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var response map[string]interface{}
				if err := json.Unmarshal(body, &response); err != nil {
					t.Fatalf("Failed to unmarshal response: %v", err)
				}
				if message, ok := response["message"].(string); !ok || message == "" {
					t.Error("Expected message in response")
				}
			},
		},
		{
			name:           "Get Runtimes",
			method:         "GET",
			path:           "/api/v1/runtimes",
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var runtimes []types.RuntimeInfo
				if err := json.Unmarshal(body, &runtimes); err != nil {
					t.Fatalf("Failed to unmarshal runtimes: %v", err)
				}
				if len(runtimes) != 1 {
					t.Errorf("Expected 1 runtime, got %d", len(runtimes))
				}
			},
		},
		{
			name:   "Execute Code - Invalid Request",
			method: "POST",
			path:   "/api/v1/execute",
			body: map[string]interface{}{
				"language": "",
				"files":    []map[string]string{},
			},
			expectedStatus: http.StatusBadRequest,
			checkResponse: func(t *testing.T, body []byte) {
				var response map[string]interface{}
				if err := json.Unmarshal(body, &response); err != nil {
					t.Fatalf("Failed to unmarshal error response: %v", err)
				}
				if _, ok := response["message"]; !ok {
					t.Error("Expected message in response")
				}
			},
		},
		{
			name:   "Execute Code - No Runtime",
			method: "POST",
			path:   "/api/v1/execute",
			body: map[string]interface{}{
				"language": "nonexistent",
				"version":  "1.0.0",
				"files": []map[string]interface{}{
					{
						"content": "print('hello')",
					},
				},
			},
			expectedStatus: http.StatusBadRequest,
			checkResponse: func(t *testing.T, body []byte) {
				var response map[string]interface{}
				if err := json.Unmarshal(body, &response); err != nil {
					t.Fatalf("Failed to unmarshal error response: %v", err)
				}
				if _, ok := response["message"]; !ok {
					t.Error("Expected message in response for nonexistent runtime")
				}
			},
		},
		{
			name:   "Execute Code - Success",
			method: "POST",
			path:   "/api/v1/execute",
			body: map[string]interface{}{
				"language": "python",
				"version":  "3.10.0",
				"files": []map[string]interface{}{
					{"content": "print('hello')"},
				},
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var result types.JobResult
				if err := json.Unmarshal(body, &result); err != nil {
					t.Fatalf("Failed to unmarshal job result: %v", err)
				}
				if result.Run == nil || result.Run.Status != types.StatusSuccess {
					t.Error("Expected a successful run result")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			var err error

			if tt.body != nil {
				bodyBytes, _ := json.Marshal(tt.body)
				req, err = http.NewRequest(tt.method, tt.path, bytes.NewBuffer(bodyBytes))
				if err != nil {
					t.Fatalf("Failed to create request: %v", err)
				}
				req.Header.Set("Content-Type", "application/json")
			} else {
				req, err = http.NewRequest(tt.method, tt.path, nil)
				if err != nil {
					t.Fatalf("Failed to create request: %v", err)
				}
			}

			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, rr.Code)
			}

			if tt.checkResponse != nil {
				tt.checkResponse(t, rr.Body.Bytes())
			}
		})
	}
}
