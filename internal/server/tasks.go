package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"compliancehub/internal/domain"
	"compliancehub/internal/engine"
	"compliancehub/internal/report"
	"compliancehub/internal/repo"
)

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
}

type idPath struct {
	ID int64 `path:"id"`
}

func registerTasks(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		Tags:          []string{"tasks"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest
	}) (*out[domain.Task], error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		t, err := h.engine.CreateTask(ctx, engine.TaskCreateOptions{
			Name:          b.Name,
			Description:   b.Description,
			ValleyID:      b.ValleyID,
			FaenaID:       b.FaenaID,
			ProcessID:     b.ProcessID,
			StatusID:      b.StatusID,
			Applies:       b.Applies,
			BeneficiaryID: b.BeneficiaryID,
			ActorID:       p.ActorID(),
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Tags:        []string{"tasks"},
	}, func(ctx context.Context, input *struct {
		ValleyID      int64  `query:"valley_id"`
		ProcessID     int64  `query:"process_id"`
		StatusID      int64  `query:"status_id"`
		BeneficiaryID int64  `query:"beneficiary_id"`
		Name          string `query:"name" doc:"substring match"`
		Limit         int    `query:"limit" minimum:"0" maximum:"500"`
		Offset        int    `query:"offset" minimum:"0"`
	}) (*out[[]domain.Task], error) {
		tasks, err := h.engine.ListTasks(ctx, repo.TaskFilters{
			ValleyID:      input.ValleyID,
			ProcessID:     input.ProcessID,
			StatusID:      input.StatusID,
			BeneficiaryID: input.BeneficiaryID,
			Name:          input.Name,
			Limit:         input.Limit,
			Offset:        input.Offset,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(nonNil(tasks)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task with subtasks, compliance and documents",
		Tags:        []string{"tasks"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*out[domain.TaskDetail], error) {
		t, err := h.engine.GetTaskDetail(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update task",
		Description: "Moving the task into the completed status archives it into history.",
		Tags:        []string{"tasks"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body UpdateTaskRequest
	}) (*out[domain.Task], error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		t, err := h.engine.UpdateTask(ctx, engine.TaskUpdateOptions{
			ID:            input.ID,
			Name:          b.Name,
			Description:   b.Description,
			ValleyID:      b.ValleyID,
			FaenaID:       b.FaenaID,
			ProcessID:     b.ProcessID,
			StatusID:      b.StatusID,
			Applies:       b.Applies,
			BeneficiaryID: b.BeneficiaryID,
			ActorID:       p.ActorID(),
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete task and everything it owns",
		Description: "Returns the task as it was before deletion.",
		Tags:        []string{"tasks"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *idPath) (*out[domain.TaskDetail], error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := h.engine.RemoveTask(ctx, input.ID, p.ActorID())
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-summary",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/summary",
		Summary:     "Progress, budget and expense of a task",
		Tags:        []string{"tasks", "reports"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*out[report.TaskSummary], error) {
		s, err := h.reports.TaskSummary(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(s), nil
	})
}

func registerSubtasks(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-subtask",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/subtasks",
		Summary:       "Create subtask",
		Tags:          []string{"subtasks"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body CreateSubtaskRequest
	}) (*out[domain.Subtask], error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		st, err := h.engine.CreateSubtask(ctx, engine.SubtaskCreateOptions{
			TaskID:        input.ID,
			Name:          b.Name,
			Description:   b.Description,
			Budget:        b.Budget,
			Expense:       b.Expense,
			StartDate:     b.StartDate,
			EndDate:       b.EndDate,
			FinalDate:     b.FinalDate,
			StatusID:      b.StatusID,
			PriorityID:    b.PriorityID,
			BeneficiaryID: b.BeneficiaryID,
			ActorID:       p.ActorID(),
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(st), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-subtasks",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/subtasks",
		Summary:     "List subtasks of a task",
		Tags:        []string{"subtasks"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*out[[]domain.Subtask], error) {
		items, err := h.engine.ListSubtasks(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-subtask",
		Method:      http.MethodGet,
		Path:        "/subtasks/{id}",
		Summary:     "Get subtask",
		Tags:        []string{"subtasks"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*out[domain.Subtask], error) {
		st, err := h.engine.GetSubtask(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(st), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-subtask",
		Method:      http.MethodPatch,
		Path:        "/subtasks/{id}",
		Summary:     "Update subtask",
		Tags:        []string{"subtasks"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body UpdateSubtaskRequest
	}) (*out[domain.Subtask], error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		st, err := h.engine.UpdateSubtask(ctx, engine.SubtaskUpdateOptions{
			ID:            input.ID,
			Name:          b.Name,
			Description:   b.Description,
			Budget:        b.Budget,
			Expense:       b.Expense,
			StartDate:     b.StartDate,
			EndDate:       b.EndDate,
			FinalDate:     b.FinalDate,
			StatusID:      b.StatusID,
			PriorityID:    b.PriorityID,
			BeneficiaryID: b.BeneficiaryID,
			ActorID:       p.ActorID(),
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(st), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-subtask",
		Method:        http.MethodDelete,
		Path:          "/subtasks/{id}",
		Summary:       "Delete subtask",
		Tags:          []string{"subtasks"},
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.engine.RemoveSubtask(ctx, input.ID, p.ActorID()); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})
}
