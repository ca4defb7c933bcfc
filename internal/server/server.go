package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/engine/auth"
	"caseflow/internal/events"
	"caseflow/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"case block not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Caseflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Caseflow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerForms(group, cfg.Engine)
	registerGraphs(group, cfg.Engine)
	registerRoutes(group, cfg.Engine)
	registerCases(group, cfg.Engine)
	registerBlocks(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerNotifications(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerRBAC(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerMe(group)

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
	var ce auth.CapabilityError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"capability": ce.Capability})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	var ise engine.InvalidStateError
	if errors.As(err, &ise) {
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
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

func registerForms(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-form-version",
		Method:        http.MethodPost,
		Path:          "/forms",
		Summary:       "Create form version",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateFormVersionRequest `json:"body"`
	}) (*struct {
		Body FormVersionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pins := make([]engine.PinInput, 0, len(input.Body.Pins))
		for _, p := range input.Body.Pins {
			pins = append(pins, engine.PinInput{BlockKey: p.BlockKey, BlockVersion: p.BlockVersion, Title: p.Title})
		}
		fv, err := e.CreateFormVersion(ctx, input.Body.FormKey, input.Body.Version, input.Body.Title, pins, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		stored, err := e.ListBlockPins(ctx, fv.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FormVersionResponse `json:"body"`
		}{Body: FormVersionResponse{FormVersion: fv, Pins: stored}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-form-versions",
		Method:      http.MethodGet,
		Path:        "/forms",
		Summary:     "List form versions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.FormVersion `json:"body"`
	}, error) {
		items, err := e.ListFormVersions(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.FormVersion `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-form-version",
		Method:      http.MethodGet,
		Path:        "/forms/{form_version_id}",
		Summary:     "Get form version",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FormVersionID string `path:"form_version_id"`
	}) (*struct {
		Body FormVersionResponse `json:"body"`
	}, error) {
		fv, err := e.GetFormVersion(ctx, input.FormVersionID)
		if err != nil {
			return nil, handleError(err)
		}
		pins, err := e.ListBlockPins(ctx, fv.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FormVersionResponse `json:"body"`
		}{Body: FormVersionResponse{FormVersion: fv, Pins: pins}}, nil
	})
}

func registerGraphs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "import-graph",
		Method:      http.MethodPut,
		Path:        "/forms/{form_version_id}/graph",
		Summary:     "Import process graph",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FormVersionID string              `path:"form_version_id"`
		Body          domain.ProcessGraph `json:"body"`
	}) (*struct {
		Body domain.ProcessGraph `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		raw, err := json.Marshal(input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		g, err := e.ImportGraph(ctx, input.FormVersionID, raw, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProcessGraph `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-graph",
		Method:      http.MethodGet,
		Path:        "/forms/{form_version_id}/graph",
		Summary:     "Get process graph",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FormVersionID string `path:"form_version_id"`
	}) (*struct {
		Body domain.ProcessGraph `json:"body"`
	}, error) {
		g, err := e.GetGraph(ctx, input.FormVersionID)
		if err != nil {
			return nil, handleError(err)
		}
		if g == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "graph definition missing", nil)
		}
		return &struct {
			Body domain.ProcessGraph `json:"body"`
		}{Body: *g}, nil
	})
}

func registerRoutes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-route",
		Method:        http.MethodPost,
		Path:          "/forms/{form_version_id}/routes",
		Summary:       "Add block route",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FormVersionID string          `path:"form_version_id"`
		Body          AddRouteRequest `json:"body"`
	}) (*struct {
		Body domain.Route `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rt, err := e.AddRoute(ctx, input.FormVersionID, input.Body.FromBlockKey, input.Body.ToBlockKey, input.Body.Condition, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Route `json:"body"`
		}{Body: rt}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-routes",
		Method:      http.MethodGet,
		Path:        "/forms/{form_version_id}/routes",
		Summary:     "List block routes",
	}, func(ctx context.Context, input *struct {
		FormVersionID string `path:"form_version_id"`
	}) (*struct {
		Body []domain.Route `json:"body"`
	}, error) {
		routes, err := e.ListRoutes(ctx, input.FormVersionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Route `json:"body"`
		}{Body: routes}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-routes",
		Method:      http.MethodGet,
		Path:        "/forms/{form_version_id}/routes/validate",
		Summary:     "Validate block routes",
	}, func(ctx context.Context, input *struct {
		FormVersionID string `path:"form_version_id"`
	}) (*struct {
		Body RouteValidationResponse `json:"body"`
	}, error) {
		problems, err := e.ValidateRoutes(ctx, input.FormVersionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RouteValidationResponse `json:"body"`
		}{Body: RouteValidationResponse{Valid: len(problems) == 0, Problems: problems}}, nil
	})
}

func registerCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "Start case",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body StartCaseRequest `json:"body"`
	}) (*struct {
		Body domain.Case `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.StartCase(ctx, engine.StartCaseOptions{
			FormVersionID:  input.Body.FormVersionID,
			ActorID:        actorID,
			StartBlockKeys: input.Body.StartBlockKeys,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Case `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List recent cases",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Case `json:"body"`
	}, error) {
		items, err := e.ListCases(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Case `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}",
		Summary:     "Get case",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body domain.Case `json:"body"`
	}, error) {
		c, err := e.GetCase(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Case `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "initialize-case",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/initialize",
		Summary:     "Instantiate the start stage",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body engine.InitializeResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.InitializeCase(ctx, input.CaseID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.InitializeResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "case-stages",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/stages",
		Summary:     "Runtime stage view",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body []domain.CaseStageRuntime `json:"body"`
	}, error) {
		stages, err := e.GetRuntimeStages(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.CaseStageRuntime `json:"body"`
		}{Body: stages}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-stage",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/stages/{stage_id}/complete",
		Summary:     "Complete stage and advance",
		Errors:      []int{http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID  string `path:"case_id"`
		StageID string `path:"stage_id"`
	}) (*struct {
		Body engine.AdvanceResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.CompleteStageAndAdvance(ctx, input.CaseID, input.StageID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.AdvanceResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-case-blocks",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/blocks",
		Summary:     "List case blocks",
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body []domain.CaseBlock `json:"body"`
	}, error) {
		blocks, err := e.ListCaseBlocks(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.CaseBlock `json:"body"`
		}{Body: blocks}, nil
	})
}

func registerBlocks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-block",
		Method:      http.MethodGet,
		Path:        "/blocks/{block_id}",
		Summary:     "Get case block",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BlockID string `path:"block_id"`
	}) (*struct {
		Body domain.CaseBlock `json:"body"`
	}, error) {
		b, err := e.GetCaseBlock(ctx, input.BlockID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CaseBlock `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-block-data",
		Method:      http.MethodPut,
		Path:        "/blocks/{block_id}/data",
		Summary:     "Set block data",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		BlockID string              `path:"block_id"`
		Body    SetBlockDataRequest `json:"body"`
	}) (*struct {
		Body domain.CaseBlock `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		raw, err := json.Marshal(input.Body.Data)
		if err != nil {
			return nil, handleError(err)
		}
		b, err := e.SetBlockData(ctx, input.BlockID, string(raw), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CaseBlock `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-block",
		Method:      http.MethodPost,
		Path:        "/blocks/{block_id}/complete",
		Summary:     "Complete case block",
		Errors:      []int{http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BlockID string `path:"block_id"`
	}) (*struct {
		Body engine.CompleteBlockResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.CompleteBlock(ctx, input.BlockID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.CompleteBlockResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reopen-block",
		Method:      http.MethodPost,
		Path:        "/blocks/{block_id}/reopen",
		Summary:     "Reopen locked block",
		Errors:      []int{http.StatusForbidden, http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BlockID string             `path:"block_id"`
		Body    ReopenBlockRequest `json:"body"`
	}) (*struct {
		Body domain.CaseBlock `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.ReopenBlock(ctx, input.BlockID, actorID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CaseBlock `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-block",
		Method:      http.MethodPost,
		Path:        "/blocks/{block_id}/assign",
		Summary:     "Assign block task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BlockID string        `path:"block_id"`
		Body    AssignRequest `json:"body"`
	}) (*struct {
		Body domain.CaseBlock `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.Assign(ctx, input.BlockID, input.Body.AssigneeUserID, input.Body.AssigneeGroupID, input.Body.DueAt, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CaseBlock `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-block-status",
		Method:      http.MethodPost,
		Path:        "/blocks/{block_id}/status",
		Summary:     "Set block task status",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BlockID string           `path:"block_id"`
		Body    SetStatusRequest `json:"body"`
	}) (*struct {
		Body domain.CaseBlock `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.SetTaskStatus(ctx, input.BlockID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CaseBlock `json:"body"`
		}{Body: b}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-case-tasks",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/tasks",
		Summary:     "List tasks for case",
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body []domain.TaskItem `json:"body"`
	}, error) {
		tasks, err := e.ListTasks(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TaskItem `json:"body"`
		}{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sweep-due-tasks",
		Method:      http.MethodPost,
		Path:        "/tasks/sweep",
		Summary:     "Sweep due and overdue tasks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.SweepResult `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		res, err := e.SweepDueTasks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SweepResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List recent notifications",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		items, err := e.ListNotifications(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: items}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events",
	}, func(ctx context.Context, input *struct {
		CaseID  string `query:"case_id"`
		Type    string `query:"type"`
		AfterID int64  `query:"after_id"`
		Limit   int    `query:"limit" default:"100"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := e.ListEvents(ctx, events.ListOptions{
			CaseID:  input.CaseID,
			Type:    input.Type,
			AfterID: input.AfterID,
			Limit:   input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerRBAC(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "grant-role",
		Method:        http.MethodPost,
		Path:          "/forms/{form_version_id}/roles",
		Summary:       "Grant role to actor",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FormVersionID string           `path:"form_version_id"`
		Body          GrantRoleRequest `json:"body"`
	}) (*struct{}, error) {
		grantedBy, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.GrantRole(ctx, input.FormVersionID, input.Body.ActorID, input.Body.RoleID, grantedBy); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-role",
		Method:      http.MethodDelete,
		Path:        "/forms/{form_version_id}/roles",
		Summary:     "Revoke role from actor",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FormVersionID string `path:"form_version_id"`
		ActorID       string `query:"actor_id"`
		RoleID        string `query:"role_id"`
	}) (*struct{}, error) {
		revokedBy, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeRole(ctx, input.FormVersionID, input.ActorID, input.RoleID, revokedBy); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "actor-roles",
		Method:      http.MethodGet,
		Path:        "/forms/{form_version_id}/roles/{actor_id}",
		Summary:     "List actor roles",
	}, func(ctx context.Context, input *struct {
		FormVersionID string `path:"form_version_id"`
		ActorID       string `path:"actor_id"`
	}) (*struct {
		Body []string `json:"body"`
	}, error) {
		roles, err := e.ActorRoles(ctx, input.FormVersionID, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []string `json:"body"`
		}{Body: roles}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyCreatedResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		key, secret, err := e.CreateAPIKey(ctx, input.Body.ActorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		key.KeyHash = ""
		return &struct {
			Body APIKeyCreatedResponse `json:"body"`
		}{Body: APIKeyCreatedResponse{APIKey: key, Key: secret}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		keys, err := e.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		for i := range keys {
			keys[i].KeyHash = ""
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: keys}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{id}",
		Summary:     "Delete API key",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"actor_id": p.ActorID,
			"roles":    p.Roles,
			"source":   p.Source,
		}}, nil
	})
}
