package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"coordline/internal/domain"
	"coordline/internal/engine"
)

type taskPath struct {
	TaskID string `path:"task_id"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create a sub-task",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest
	}) (*output[domain.Task], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ParentID:         input.Body.ParentID,
			Title:            input.Body.Title,
			Description:      input.Body.Description,
			CoordinationType: domain.CoordinationType(input.Body.CoordinationType),
			Points:           input.Body.Points,
			TeamName:         input.Body.TeamName,
			Coordinators:     input.Body.Coordinators,
			ActorAlias:       actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List readable tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ParentID    string `query:"parent_id"`
		Status      string `query:"status"`
		TeamName    string `query:"team_name"`
		Coordinator string `query:"coordinator"`
		Limit       int    `query:"limit"`
	}) (*output[[]engine.TaskView], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		status := domain.TaskStatus(input.Status)
		if status != "" && !status.Valid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid status", map[string]any{"status": input.Status})
		}
		items, err := e.ListVisibleTasks(ctx, actor, engine.TaskListOptions{
			ParentID:    input.ParentID,
			Status:      status,
			TeamName:    input.TeamName,
			Coordinator: input.Coordinator,
			Limit:       input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-tree",
		Method:      http.MethodGet,
		Path:        "/tree",
		Summary:     "Depth-first listing of a subtree",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RootID string `query:"root_id"`
	}) (*output[[]engine.TreeEntry], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entries, err := e.Tree(ctx, input.RootID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(entries)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*output[engine.TaskView], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		view, err := e.GetTaskView(ctx, input.TaskID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(view), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   UpdateTaskRequest
	}) (*output[domain.Task], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TaskUpdateOptions{
			ID:          input.TaskID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Points:      input.Body.Points,
			TeamName:    input.Body.TeamName,
			ActorAlias:  actor,
		}
		if input.Body.CoordinationType != nil {
			ct := domain.CoordinationType(*input.Body.CoordinationType)
			opts.CoordinationType = &ct
		}
		if input.Body.Status != nil {
			st := domain.TaskStatus(*input.Body.Status)
			opts.Status = &st
		}
		t, err := e.UpdateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/move",
		Summary:     "Move a task and carry its points to the new parent",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   MoveTaskRequest
	}) (*output[engine.MoveResult], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.MoveTask(ctx, input.TaskID, input.Body.NewParentID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}",
		Summary:     "Delete a task and its subtree",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *taskPath) (*output[DeleteTaskResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.DeleteTask(ctx, input.TaskID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(DeleteTaskResponse{Deleted: n}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reclaim-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/reclaim",
		Summary:     "Clear a task's own coordinators",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *taskPath) (*output[domain.Task], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ReclaimTask(ctx, input.TaskID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/release",
		Summary:     "Step down as coordinator",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *taskPath) (*output[domain.Task], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ReleaseTask(ctx, input.TaskID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(t), nil
	})
}
