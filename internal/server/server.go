package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"studyline/internal/domain"
	"studyline/internal/engine"
	"studyline/internal/logger"
	"studyline/internal/repo"
	"studyline/internal/scheduler"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Repo     repo.Repo
	BasePath string
	Auth     AuthConfig
	Log      *logger.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"days_ahead: must be between 0 and 4"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"field\":\"days_ahead\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int            { return e.status }
func (e *apiError) Error() string             { return e.Body.Message }
func (e *apiError) ContentType(string) string { return "application/json" }

type handlers struct {
	engine engine.Engine
	repo   repo.Repo
	log    *logger.Logger
}

// New returns an HTTP handler exposing the studyline API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine.Config == nil {
		return nil, errors.New("engine config not loaded")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = logger.Nop()
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Studyline API", "0.1.0")
	hcfg.OpenAPIPath = path.Join(basePath, "openapi")
	hcfg.DocsPath = "/docs"
	hcfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearerAuth": {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
	}
	api := humachi.New(router, hcfg)
	registerHealth(huma.NewGroup(api, basePath))

	// Everything but health needs a participant token.
	group := huma.NewGroup(api, basePath)
	group.UseSimpleModifier(func(op *huma.Operation) {
		op.Security = []map[string][]string{{"bearerAuth": {}}}
	})
	h := handlers{engine: cfg.Engine, repo: cfg.Repo, log: log}
	h.registerActivities(group)
	h.registerEvents(group)
	h.registerParticipant(group)
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

func (h handlers) handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var br scheduler.BadRequestError
	if errors.As(err, &br) {
		var details map[string]any
		if br.Field != "" {
			details = map[string]any{"field": br.Field}
		}
		return newAPIError(http.StatusBadRequest, "bad_request", br.Error(), details)
	}
	if errors.Is(err, repo.ErrNotFound) || errors.Is(err, scheduler.ErrUnknownActivity) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var ie scheduler.InvariantError
	if errors.As(err, &ie) {
		h.log.Error("invariant violated", "error", err)
		return newAPIError(http.StatusInternalServerError, "invariant_violation", "internal error", nil)
	}
	h.log.Error("request failed", "error", err)
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// participant resolves the caller and checks the token is for this study.
func (h handlers) participant(ctx context.Context) (Principal, error) {
	p, authErr := principalFromContext(ctx)
	if authErr != nil {
		return Principal{}, authErr
	}
	study := h.engine.Config.Study.ID
	if p.StudyID != "" && p.StudyID != study {
		return Principal{}, newAPIError(http.StatusForbidden, "forbidden", fmt.Sprintf("token is not valid for study %s", study), nil)
	}
	return p, nil
}

func (h handlers) now() time.Time {
	if h.engine.Now != nil {
		return h.engine.Now()
	}
	return time.Now()
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

type listActivitiesInput struct {
	DaysAhead          string `query:"days_ahead" doc:"days of look-ahead; mutually exclusive with ends_on"`
	EndsOn             string `query:"ends_on" doc:"RFC 3339 end of the window"`
	MinimumPerSchedule int    `query:"minimum_per_schedule"`
	TimeZone           string `query:"time_zone" doc:"IANA zone or offset such as -07:00"`
	AppInfo            string `header:"X-App-Info" doc:"name/version (os)"`
	UserAgent          string `header:"User-Agent"`
}

// windowRequest parses the optional window parameters.
func (in listActivitiesInput) windowRequest() (scheduler.WindowRequest, error) {
	req := scheduler.WindowRequest{MinimumPerSchedule: in.MinimumPerSchedule}
	if v := strings.TrimSpace(in.DaysAhead); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return req, scheduler.BadRequestError{Field: "days_ahead", Message: "must be an integer"}
		}
		req.DaysAhead = &days
	}
	if v := strings.TrimSpace(in.EndsOn); v != "" {
		endsOn, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return req, scheduler.BadRequestError{Field: "ends_on", Message: "must be an RFC 3339 timestamp"}
		}
		req.EndsOn = &endsOn
	}
	return req, nil
}

func (in listActivitiesInput) clientInfo() domain.ClientInfo {
	if in.AppInfo != "" {
		return domain.ParseClientInfo(in.AppInfo)
	}
	return domain.ParseClientInfo(in.UserAgent)
}

func (h handlers) registerActivities(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-activities",
		Method:      http.MethodGet,
		Path:        "/activities",
		Summary:     "Scheduled activities for the calling participant",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *listActivitiesInput) (*struct {
		Body ActivityListResponse `json:"body"`
	}, error) {
		p, err := h.participant(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		window, err := input.windowRequest()
		if err != nil {
			return nil, h.handleError(err)
		}
		list, err := h.engine.ComputeVisibleActivities(ctx, engine.Request{
			HealthCode: p.HealthCode,
			StudyID:    p.StudyID,
			UserID:     p.UserID,
			DataGroups: p.DataGroups,
			ClientInfo: input.clientInfo(),
			TimeZone:   input.TimeZone,
			Window:     window,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body ActivityListResponse `json:"body"`
		}{Body: ActivityListResponse{Items: activityResponses(list, h.now())}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-activities",
		Method:      http.MethodPost,
		Path:        "/activities",
		Summary:     "Record started and finished times",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body UpdateActivitiesRequest `json:"body"`
	}) (*struct {
		Body UpdateActivitiesResponse `json:"body"`
	}, error) {
		p, err := h.participant(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		res, err := h.engine.ApplyClientUpdates(ctx, p.HealthCode, input.Body.Activities)
		if err != nil {
			return nil, h.handleError(err)
		}
		keys := make([]string, 0, len(res.Events))
		for _, ev := range res.Events {
			keys = append(keys, ev.Key)
		}
		return &struct {
			Body UpdateActivitiesResponse `json:"body"`
		}{Body: UpdateActivitiesResponse{Updated: activityResponses(res.Updated, h.now()), Events: keys}}, nil
	})
}

func (h handlers) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Event map used for scheduling",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body EventMapResponse `json:"body"`
	}, error) {
		p, err := h.participant(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		evs, err := h.engine.EventMap(ctx, p.HealthCode, p.StudyID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body EventMapResponse `json:"body"`
		}{Body: EventMapResponse{Events: evs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "publish-event",
		Method:      http.MethodPost,
		Path:        "/events",
		Summary:     "Publish an enrollment, custom or question event",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body PublishEventRequest `json:"body"`
	}) (*struct {
		Body PublishEventResponse `json:"body"`
	}, error) {
		p, err := h.participant(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		changed, err := h.engine.PublishEvent(ctx, p.HealthCode, input.Body.Key, input.Body.Timestamp)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body PublishEventResponse `json:"body"`
		}{Body: PublishEventResponse{Key: strings.TrimSpace(input.Body.Key), Changed: changed}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-event",
		Method:      http.MethodDelete,
		Path:        "/events/{key}",
		Summary:     "Delete a published event",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Key string `path:"key"`
	}) (*struct{}, error) {
		p, err := h.participant(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		if err := h.engine.DeleteEvent(ctx, p.HealthCode, input.Key); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "event-history",
		Method:      http.MethodGet,
		Path:        "/events/history",
		Summary:     "Published and deleted events, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Key    string `query:"key"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body EventHistoryResponse `json:"body"`
	}, error) {
		p, err := h.participant(ctx)
		if err != nil {
			return nil, h.handleError(err)
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
		items, err := h.repo.ListEventHistory(ctx, repo.HistoryFilter{HealthCode: p.HealthCode, Key: input.Key, Cursor: cursorID, Limit: limit + 1})
		if err != nil {
			return nil, h.handleError(err)
		}
		resp := EventHistoryResponse{}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		resp.Items = nonNilSlice(items)
		return &struct {
			Body EventHistoryResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func (h handlers) registerParticipant(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "set-time-zone",
		Method:      http.MethodPut,
		Path:        "/participant/time_zone",
		Summary:     "Replace the participant's initial time zone",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body TimeZoneRequest `json:"body"`
	}) (*struct{}, error) {
		p, err := h.participant(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		if err := h.engine.SetTimeZone(ctx, p.HealthCode, input.Body.TimeZone); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}
