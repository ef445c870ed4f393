package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/jbriggs-source/PestGenie-sub001/internal/descriptor"
	"github.com/jbriggs-source/PestGenie-sub001/internal/domain"
	"github.com/jbriggs-source/PestGenie-sub001/internal/engine"
	"github.com/jbriggs-source/PestGenie-sub001/internal/engine/auth"
	"github.com/jbriggs-source/PestGenie-sub001/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_reason"`
	Message string         `json:"message" example:"reason code \"lunch\" is not valid for skip"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"reason\":\"lunch\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the PestGenie API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("PestGenie API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	authSvc := auth.Service{DB: cfg.Engine.DB}

	registerDocs(router, basePath)
	registerHealth(group)
	registerScreens(group, cfg.Engine)
	registerScreenPayload(router, basePath, cfg.Engine)
	registerRoutes(group, cfg.Engine)
	registerJobs(group, cfg.Engine)
	registerSync(group, cfg.Engine, authSvc)
	registerReasonCodes(group, cfg.Engine)
	registerJournal(group, cfg.Engine)
	registerDeviceKeys(group, cfg.Engine)
	registerTechnicians(group, cfg.Engine)
	registerMe(group)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"route_id": fe.RouteID})
	}
	var rce engine.ReasonCodeError
	if errors.As(err, &rce) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_reason", err.Error(), map[string]any{"reason": rce.Code, "action": string(rce.Kind)})
	}
	var sve engine.ScreenValidationError
	if errors.As(err, &sve) {
		components := make([]map[string]any, 0, len(sve.Errors))
		for _, ve := range sve.Errors {
			components = append(components, map[string]any{
				"component_id": ve.NodeID,
				"type":         string(ve.Kind),
				"message":      ve.Msg,
			})
		}
		return newAPIError(http.StatusUnprocessableEntity, "screen_invalid", err.Error(), map[string]any{"components": components})
	}
	var verr descriptor.VersionError
	if errors.As(err, &verr) {
		return newAPIError(http.StatusUnprocessableEntity, "unsupported_version", err.Error(), map[string]any{"version": verr.Version})
	}
	var derr descriptor.DecodeError
	if errors.As(err, &derr) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "out of range"):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_move", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>PestGenie API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerScreens(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "push-screen",
		Method:      http.MethodPut,
		Path:        "/screens/{name}",
		Summary:     "Create or replace a screen definition",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Name    string `path:"name"`
		RawBody []byte
	}) (*struct {
		Body ScreenResponse `json:"body"`
	}, error) {
		if len(input.RawBody) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := technicianIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.UpsertScreen(ctx, input.Name, input.RawBody, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScreenResponse `json:"body"`
		}{Body: screenResponse(s, true)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-screens",
		Method:      http.MethodGet,
		Path:        "/screens",
		Summary:     "List screens",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ScreenResponse `json:"body"`
	}, error) {
		items, err := e.ListScreens(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ScreenResponse `json:"body"`
		}{Body: mapScreens(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-screen",
		Method:      http.MethodGet,
		Path:        "/screens/{name}",
		Summary:     "Get a screen with its definition",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Name string `path:"name"`
	}) (*struct {
		Body ScreenResponse `json:"body"`
	}, error) {
		s, err := e.GetScreen(ctx, input.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScreenResponse `json:"body"`
		}{Body: screenResponse(s, true)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-screen",
		Method:      http.MethodDelete,
		Path:        "/screens/{name}",
		Summary:     "Delete a screen",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Name string `path:"name"`
	}) (*struct{}, error) {
		actorID, authErr := technicianIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteScreen(ctx, input.Name, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

// registerScreenPayload serves the stored wire JSON verbatim; devices decode
// it with the descriptor package.
func registerScreenPayload(r chi.Router, basePath string, e engine.Engine) {
	r.Get(path.Join(basePath, "screens/{name}/payload"), func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		payload, err := e.ScreenPayload(req.Context(), name)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(payload)
	})
}

func registerRoutes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-route",
		Method:        http.MethodPost,
		Path:          "/routes",
		Summary:       "Create route",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateRouteRequest `json:"body"`
	}) (*struct {
		Body RouteResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Date == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "date is required", nil)
		}
		actorID, authErr := technicianIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.RouteCreateOptions{
			TechnicianID: input.Body.TechnicianID,
			Date:         input.Body.Date,
			Name:         stringOrEmpty(input.Body.Name),
			ActorID:      actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		rt, err := e.CreateRoute(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RouteResponse `json:"body"`
		}{Body: routeResponse(rt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-routes",
		Method:      http.MethodGet,
		Path:        "/routes",
		Summary:     "List routes",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		TechnicianID string `query:"technician_id"`
	}) (*struct {
		Body []RouteResponse `json:"body"`
	}, error) {
		items, err := e.ListRoutes(ctx, input.TechnicianID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RouteResponse `json:"body"`
		}{Body: mapRoutes(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-route",
		Method:      http.MethodGet,
		Path:        "/routes/{id}",
		Summary:     "Get route",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body RouteResponse `json:"body"`
	}, error) {
		rt, err := e.GetRoute(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RouteResponse `json:"body"`
		}{Body: routeResponse(rt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "route-status",
		Method:      http.MethodGet,
		Path:        "/routes/{id}/status",
		Summary:     "Route status counts",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body RouteStatusResponse `json:"body"`
	}, error) {
		rt, err := e.GetRoute(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.RouteStatusCounts(ctx, rt.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RouteStatusResponse `json:"body"`
		}{Body: RouteStatusResponse{
			RouteID:   rt.ID,
			Date:      rt.Date,
			JobCounts: counts,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-route",
		Method:      http.MethodPost,
		Path:        "/routes/{id}/reorder",
		Summary:     "Move a job within a route",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body ReorderRouteRequest `json:"body"`
	}) (*struct {
		Body []JobResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Reason == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "reason is required", nil)
		}
		actorID, authErr := technicianIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		jobs, err := e.ReorderJob(ctx, input.ID, input.Body.From, input.Body.To, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []JobResponse `json:"body"`
		}{Body: mapJobs(jobs)}, nil
	})
}

func registerJobs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-job",
		Method:        http.MethodPost,
		Path:          "/routes/{id}/jobs",
		Summary:       "Add job to route",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body CreateJobRequest `json:"body"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.CustomerName == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "customer_name is required", nil)
		}
		scheduled, err := parseTimeField(input.Body.ScheduledAt)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "scheduled_at must be RFC 3339", map[string]any{"scheduled_at": input.Body.ScheduledAt})
		}
		actorID, authErr := technicianIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.JobCreateOptions{
			RouteID:      input.ID,
			CustomerName: input.Body.CustomerName,
			Address:      stringOrEmpty(input.Body.Address),
			ScheduledAt:  scheduled,
			Notes:        stringOrEmpty(input.Body.Notes),
			PinnedNotes:  stringOrEmpty(input.Body.PinnedNotes),
			ActorID:      actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		job, err := e.AddJob(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(job)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/routes/{id}/jobs",
		Summary:     "List route jobs in route order",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Status string `query:"status" enum:",pending,inProgress,completed,skipped"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedJobs `json:"body"`
	}, error) {
		if _, err := e.GetRoute(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		cursorPosition, cursorID, err := parseJobCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		filter := repo.JobFilters{
			RouteID:        input.ID,
			Status:         input.Status,
			Limit:          limit + 1,
			CursorPosition: cursorPosition,
			CursorID:       cursorID,
		}
		jobs, err := e.ListJobs(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedJobs{Items: []JobResponse{}}
		if len(jobs) > limit {
			resp.NextCursor = composeJobCursor(jobs[limit-1])
			jobs = jobs[:limit]
		}
		resp.Items = mapJobs(jobs)
		return &struct {
			Body paginatedJobs `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}",
		Summary:     "Get job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		job, err := e.GetJob(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(job)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-job",
		Method:      http.MethodPatch,
		Path:        "/jobs/{id}",
		Summary:     "Update job details",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body UpdateJobRequest `json:"body"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := technicianIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.JobUpdateOptions{
			JobID:        input.ID,
			CustomerName: input.Body.CustomerName,
			Address:      input.Body.Address,
			Notes:        input.Body.Notes,
			PinnedNotes:  input.Body.PinnedNotes,
			ActorID:      actorID,
		}
		if input.Body.ScheduledAt != nil {
			scheduled, err := parseTimeField(*input.Body.ScheduledAt)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "scheduled_at must be RFC 3339", map[string]any{"scheduled_at": *input.Body.ScheduledAt})
			}
			opts.ScheduledAt = &scheduled
		}
		job, err := e.UpdateJob(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(job)}, nil
	})
}

func registerSync(api huma.API, e engine.Engine, authSvc auth.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "sync-route",
		Method:      http.MethodPost,
		Path:        "/routes/{id}/sync",
		Summary:     "Apply a device's queued actions in order",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body SyncRequest `json:"body"`
	}) (*struct {
		Body SyncResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.GetRoute(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		if err := authSvc.RequireRouteAccess(ctx, input.ID, principal.TechnicianID); err != nil {
			return nil, handleError(err)
		}
		actions := make([]domain.PendingAction, 0, len(input.Body.Actions))
		for i, a := range input.Body.Actions {
			action := domain.PendingAction{
				Kind:     domain.ActionKind(a.Kind),
				EntityID: a.EntityID,
				Key:      a.Key,
				Value:    a.Value,
			}
			if a.Timestamp != nil {
				ts, err := parseTimeField(*a.Timestamp)
				if err != nil {
					return nil, newAPIError(http.StatusBadRequest, "bad_request", "action timestamp must be RFC 3339", map[string]any{"index": i, "timestamp": *a.Timestamp})
				}
				action.Timestamp = ts
			}
			actions = append(actions, action)
		}
		res, err := e.ApplySyncBatch(ctx, engine.SyncBatchOptions{
			RouteID:      input.ID,
			TechnicianID: principal.TechnicianID,
			Actions:      actions,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SyncResponse `json:"body"`
		}{Body: syncResponse(res)}, nil
	})
}

func registerReasonCodes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-reason-codes",
		Method:      http.MethodGet,
		Path:        "/reason-codes",
		Summary:     "List reason codes",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		All bool `query:"all" doc:"Include inactive codes"`
	}) (*struct {
		Body []ReasonCodeResponse `json:"body"`
	}, error) {
		items, err := e.ListReasonCodes(ctx, !input.All)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ReasonCodeResponse `json:"body"`
		}{Body: mapReasonCodes(items)}, nil
	})
}

func registerJournal(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "route-journal",
		Method:      http.MethodGet,
		Path:        "/routes/{id}/journal",
		Summary:     "List route journal entries, newest first",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Kind   string `query:"kind"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedJournal `json:"body"`
	}, error) {
		if _, err := e.GetRoute(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.LatestJournal(ctx, limit+1, cursorID, input.ID, input.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedJournal{Items: []JournalEntryResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, entry := range items {
			resp.Items = append(resp.Items, journalEntryResponse(entry))
		}
		return &struct {
			Body paginatedJournal `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDeviceKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-device-key",
		Method:        http.MethodPost,
		Path:          "/device-keys",
		Summary:       "Mint a device key; the plaintext is returned exactly once",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateDeviceKeyRequest `json:"body"`
	}) (*struct {
		Body MintedDeviceKeyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.TechnicianID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "technician_id is required", nil)
		}
		if _, authErr := technicianIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		plain, key, err := e.MintDeviceKey(ctx, input.Body.TechnicianID, stringOrEmpty(input.Body.Name))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MintedDeviceKeyResponse `json:"body"`
		}{Body: MintedDeviceKeyResponse{
			Key:       plain,
			DeviceKey: deviceKeyResponse(key),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-device-keys",
		Method:      http.MethodGet,
		Path:        "/device-keys",
		Summary:     "List device keys",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		TechnicianID string `query:"technician_id"`
	}) (*struct {
		Body []DeviceKeyResponse `json:"body"`
	}, error) {
		items, err := e.ListDeviceKeys(ctx, input.TechnicianID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DeviceKeyResponse `json:"body"`
		}{Body: mapDeviceKeys(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-device-key",
		Method:      http.MethodDelete,
		Path:        "/device-keys/{id}",
		Summary:     "Revoke a device key",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := technicianIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeDeviceKey(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTechnicians(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-technician",
		Method:      http.MethodPost,
		Path:        "/technicians",
		Summary:     "Create or update a technician",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body UpsertTechnicianRequest `json:"body"`
	}) (*struct {
		Body TechnicianResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		if _, authErr := technicianIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := e.UpsertTechnician(ctx, domain.Technician{
			ID:     input.Body.ID,
			Name:   stringOrEmpty(input.Body.Name),
			Region: stringOrEmpty(input.Body.Region),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TechnicianResponse `json:"body"`
		}{Body: technicianResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-technicians",
		Method:      http.MethodGet,
		Path:        "/technicians",
		Summary:     "List technicians",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TechnicianResponse `json:"body"`
	}, error) {
		items, err := e.ListTechnicians(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TechnicianResponse `json:"body"`
		}{Body: mapTechnicians(items)}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			TechnicianID: principal.TechnicianID,
			Name:         principal.Name,
			Source:       principal.Source,
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		technician := strings.TrimSpace(input.Body.TechnicianID)
		if technician == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "technician_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, technician, input.Body.Name)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseJobCursor(cursor string) (*int, string, error) {
	if cursor == "" {
		return nil, "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, "", fmt.Errorf("invalid cursor")
	}
	position, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, "", fmt.Errorf("invalid cursor")
	}
	return &position, parts[1], nil
}

func composeJobCursor(j domain.Job) string {
	return fmt.Sprintf("%d|%s", j.Position, j.ID)
}

func parseTimeField(value string) (time.Time, error) {
	return time.Parse(time.RFC3339, value)
}
