package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"compliancehub/internal/domain"
	"compliancehub/internal/jobs"
	"compliancehub/internal/repo"
)

func registerHistory(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-history",
		Method:      http.MethodGet,
		Path:        "/history",
		Summary:     "List archived tasks",
		Tags:        []string{"history"},
	}, func(ctx context.Context, input *struct {
		TaskID   int64  `query:"task_id"`
		ValleyID int64  `query:"valley_id"`
		Name     string `query:"name"`
		Limit    int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*out[[]domain.History], error) {
		items, err := h.engine.ListHistories(ctx, repo.HistoryFilters{
			TaskID:   input.TaskID,
			ValleyID: input.ValleyID,
			Name:     input.Name,
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-history",
		Method:      http.MethodGet,
		Path:        "/history/{id}",
		Summary:     "Get archived task with its documents",
		Tags:        []string{"history"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*out[domain.History], error) {
		item, err := h.engine.GetHistory(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(item), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit log",
		Tags:        []string{"history"},
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   int64  `query:"entity_id"`
		Limit      int    `query:"limit" minimum:"0" maximum:"1000"`
	}) (*out[[]domain.Event], error) {
		if _, authErr := h.requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := h.engine.ListEvents(ctx, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(nonNil(items)), nil
	})
}

func registerNotifications(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "Notifications for the current user, broadcasts included",
		Tags:        []string{"notifications"},
	}, func(ctx context.Context, input *struct {
		Unread bool `query:"unread"`
		Limit  int  `query:"limit" minimum:"0" maximum:"500"`
	}) (*out[[]domain.Notification], error) {
		p, authErr := currentPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.engine.ListNotifications(ctx, p.UserID, input.Unread, input.Limit)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "read-notification",
		Method:        http.MethodPost,
		Path:          "/notifications/{id}/read",
		Summary:       "Mark a notification read",
		Tags:          []string{"notifications"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		p, authErr := currentPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.engine.MarkNotificationRead(ctx, input.ID, p.UserID); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerJobs(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "run-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{name}/run",
		Summary:     "Run a scheduled sweep now",
		Tags:        []string{"jobs"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Name string `path:"name" enum:"task-expiry,compliance-expiry,notification-cleanup"`
	}) (*out[jobs.Result], error) {
		if _, authErr := h.requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		res, err := h.jobs.Run(ctx, input.Name)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(res), nil
	})
}
