// Package server exposes the objective pipeline, the decision log and learning capture over HTTP.
//
// Operations are registered with huma on a chi router under /v1; /healthz is a plain
// chi route so load balancers get a bare 200/503. Pipeline sentinel errors are mapped
// to status codes in handleError and nowhere else.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dyluth/drey/internal/pipeline"
	"github.com/dyluth/drey/internal/vectorindex"
	"github.com/dyluth/drey/pkg/objective"
)

const (
	// BasePath prefixes every API operation
	BasePath = "/v1"

	// APIVersion is reported in the OpenAPI document
	APIVersion = "0.1.0"

	defaultListLimit = 20
)

// Service is the pipeline surface used by the HTTP handlers. *pipeline.Pipeline implements it.
type Service interface {
	Submit(ctx context.Context, rawText string) (string, error)
	Confirm(ctx context.Context, id string, approved bool, modifications []objective.PlanStep) (*objective.Objective, error)
	CompleteStep(ctx context.Context, id string, step int) (*objective.Objective, error)
	Get(ctx context.Context, id string) (*objective.Objective, error)
	ListRecent(ctx context.Context, limit int) ([]*objective.Objective, error)
	StagingStatus(ctx context.Context, id string) (*pipeline.StagingStatus, error)
	Search(ctx context.Context, query string, limit int) ([]vectorindex.Result, error)
	LogDecision(ctx context.Context, in pipeline.DecisionInput) (*objective.Decision, error)
	ListDecisions(ctx context.Context, limit int) ([]*objective.Decision, error)
	CaptureLearning(ctx context.Context, in pipeline.LearningInput) (*objective.Learning, error)
	ListLearnings(ctx context.Context, limit int) ([]*objective.Learning, error)
}

// Config for the HTTP server.
type Config struct {
	Addr    string
	Service Service

	// Checks are pinged by /healthz, keyed by the name reported in the response
	Checks map[string]Pinger
}

type apiErrorBody struct {
	Code    string `json:"code" example:"not_found"`
	Message string `json:"message" example:"objective not found"`
}

// apiError is the error envelope returned by every API operation.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// Server serves the drey API.
type Server struct {
	addr    string
	handler http.Handler
	checks  map[string]Pinger
	server  *http.Server
}

// New builds the router and registers every operation.
func New(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("service is required")
	}

	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// request validation failures are client errors like any other bad input
			status = http.StatusBadRequest
		}
		for _, e := range errs {
			if e != nil {
				msg = msg + ": " + e.Error()
			}
		}
		return newAPIError(status, "", msg)
	}

	s := &Server{
		addr:   cfg.Addr,
		checks: cfg.Checks,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger)
	router.Get("/healthz", s.healthCheckHandler)

	hcfg := huma.DefaultConfig("drey API", APIVersion)
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, BasePath)

	registerObjectives(group, cfg.Service)
	registerSearch(group, cfg.Service)
	registerKnowledge(group, cfg.Service)

	s.handler = otelhttp.NewHandler(router, "drey.http")
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	log.Printf("[Server] Listening on %s", ln.Addr())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[Server] Serve error: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Printf("[Server] %s %s %d %s", r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Millisecond))
	})
}

func newAPIError(status int, code, message string) huma.StatusError {
	if code == "" {
		code = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
	return &apiError{
		status: status,
		Body:   apiErrorBody{Code: code, Message: message},
	}
}

// handleError maps pipeline errors to HTTP statuses.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case errors.Is(err, pipeline.ErrNoStagedObjective),
		errors.Is(err, pipeline.ErrNoPlanDraft),
		errors.Is(err, pipeline.ErrObjectiveNotFound),
		errors.Is(err, pipeline.ErrStepNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg)
	case errors.Is(err, pipeline.ErrEmptyInput):
		return newAPIError(http.StatusBadRequest, "empty_input", msg)
	case errors.Is(err, pipeline.ErrInvalidPlan):
		return newAPIError(http.StatusBadRequest, "invalid_plan", msg)
	case errors.Is(err, pipeline.ErrInvalidRecord):
		return newAPIError(http.StatusBadRequest, "invalid_input", msg)
	case errors.Is(err, pipeline.ErrAlreadyCommitted):
		return newAPIError(http.StatusConflict, "already_committed", msg)
	case errors.Is(err, pipeline.ErrBothStoresFailed),
		errors.Is(err, pipeline.ErrRelationalWriteFailed):
		return newAPIError(http.StatusBadGateway, "commit_failed", msg)
	default:
		log.Printf("[Server] Internal error: %v", err)
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error")
	}
}

type objectivePath struct {
	ID string `path:"id"`
}

type objectiveBody struct {
	Body *objective.Objective `json:"body"`
}

func registerObjectives(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-objective",
		Method:        http.MethodPost,
		Path:          "/objectives",
		Summary:       "Submit free-form input",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body SubmitRequest `json:"body"`
	}) (*struct {
		Body SubmitResponse `json:"body"`
	}, error) {
		id, err := svc.Submit(ctx, input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmitResponse `json:"body"`
		}{Body: SubmitResponse{ObjectiveID: id}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-objectives",
		Method:      http.MethodGet,
		Path:        "/objectives",
		Summary:     "List recent committed objectives",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"20" minimum:"1" maximum:"1000"`
	}) (*struct {
		Body []*objective.Objective `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = defaultListLimit
		}
		objs, err := svc.ListRecent(ctx, limit)
		if err != nil {
			return nil, handleError(err)
		}
		if objs == nil {
			objs = []*objective.Objective{}
		}
		return &struct {
			Body []*objective.Objective `json:"body"`
		}{Body: objs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-objective",
		Method:      http.MethodGet,
		Path:        "/objectives/{id}",
		Summary:     "Get a committed objective",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *objectivePath) (*objectiveBody, error) {
		obj, err := svc.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &objectiveBody{Body: obj}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "staging-status",
		Method:      http.MethodGet,
		Path:        "/objectives/{id}/staging",
		Summary:     "Where the objective currently lives",
	}, func(ctx context.Context, input *objectivePath) (*struct {
		Body *pipeline.StagingStatus `json:"body"`
	}, error) {
		status, err := svc.StagingStatus(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *pipeline.StagingStatus `json:"body"`
		}{Body: status}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-objective",
		Method:      http.MethodPost,
		Path:        "/objectives/{id}/confirm",
		Summary:     "Approve or reject the drafted plan",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body ConfirmRequest `json:"body"`
	}) (*objectiveBody, error) {
		obj, err := svc.Confirm(ctx, input.ID, input.Body.Approved, planSteps(input.Body.Modifications))
		if err != nil {
			return nil, handleError(err)
		}
		return &objectiveBody{Body: obj}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-step",
		Method:      http.MethodPost,
		Path:        "/objectives/{id}/steps/{step}/complete",
		Summary:     "Mark a plan step completed",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Step int    `path:"step"`
	}) (*objectiveBody, error) {
		obj, err := svc.CompleteStep(ctx, input.ID, input.Step)
		if err != nil {
			return nil, handleError(err)
		}
		return &objectiveBody{Body: obj}, nil
	})
}

func registerSearch(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{
		OperationID: "search-objectives",
		Method:      http.MethodGet,
		Path:        "/search",
		Summary:     "Semantic search over committed objectives",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Query string `query:"q"`
		Limit int    `query:"limit" default:"10" minimum:"1" maximum:"100"`
	}) (*struct {
		Body []SearchResult `json:"body"`
	}, error) {
		results, err := svc.Search(ctx, input.Query, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SearchResult `json:"body"`
		}{Body: searchResults(results)}, nil
	})
}

func registerKnowledge(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "log-decision",
		Method:        http.MethodPost,
		Path:          "/decisions",
		Summary:       "Record a decision and its reasoning",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body DecisionRequest `json:"body"`
	}) (*struct {
		Body *objective.Decision `json:"body"`
	}, error) {
		d, err := svc.LogDecision(ctx, input.Body.input())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *objective.Decision `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-decisions",
		Method:      http.MethodGet,
		Path:        "/decisions",
		Summary:     "List recent decisions",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"20" minimum:"1" maximum:"1000"`
	}) (*struct {
		Body []*objective.Decision `json:"body"`
	}, error) {
		ds, err := svc.ListDecisions(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if ds == nil {
			ds = []*objective.Decision{}
		}
		return &struct {
			Body []*objective.Decision `json:"body"`
		}{Body: ds}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "capture-learning",
		Method:        http.MethodPost,
		Path:          "/learnings",
		Summary:       "Capture a learning",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body LearningRequest `json:"body"`
	}) (*struct {
		Body *objective.Learning `json:"body"`
	}, error) {
		l, err := svc.CaptureLearning(ctx, input.Body.input())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *objective.Learning `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-learnings",
		Method:      http.MethodGet,
		Path:        "/learnings",
		Summary:     "List recent learnings",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"20" minimum:"1" maximum:"1000"`
	}) (*struct {
		Body []*objective.Learning `json:"body"`
	}, error) {
		ls, err := svc.ListLearnings(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if ls == nil {
			ls = []*objective.Learning{}
		}
		return &struct {
			Body []*objective.Learning `json:"body"`
		}{Body: ls}, nil
	})
}
