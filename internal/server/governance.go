package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"coordline/internal/domain"
	"coordline/internal/engine"
	"coordline/internal/repo"
)

type proposalPath struct {
	ProposalID string `path:"proposal_id"`
}

type aliasChangePath struct {
	AliasChangeID string `path:"alias_change_id"`
}

func registerProposals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-for-task",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/proposals/register",
		Summary:       "Propose yourself as coordinator",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *taskPath) (*output[domain.OpenTask], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.RegisterForTask(ctx, input.TaskID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "nominate-for-task",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/proposals/nominate",
		Summary:       "Nominate someone as coordinator",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   NomineeRequest
	}) (*output[domain.OpenTask], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.NominateForTask(ctx, input.TaskID, input.Body.Nominee, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "request-delegate",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/proposals/request",
		Summary:       "Open a proposal without a nominee",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *taskPath) (*output[domain.OpenTask], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.RequestDelegate(ctx, input.TaskID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-proposals",
		Method:      http.MethodGet,
		Path:        "/proposals",
		Summary:     "Proposals relevant to the caller",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		TaskID string `query:"task_id"`
		Status string `query:"status"`
	}) (*output[[]engine.ProposalView], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		status := domain.ProposalStatus(input.Status)
		if status != "" && status != domain.ProposalOpen && status != domain.ProposalAfgewezen {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid status", map[string]any{"status": input.Status})
		}
		items, err := e.ListTaskProposals(ctx, actor, engine.ProposalListOptions{TaskID: input.TaskID, Status: status})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-proposal-nominee",
		Method:      http.MethodPut,
		Path:        "/proposals/{proposal_id}/nominee",
		Summary:     "Fill in the nominee of an open request",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProposalID string `path:"proposal_id"`
		Body       NomineeRequest
	}) (*output[domain.OpenTask], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SetProposedAlias(ctx, input.ProposalID, input.Body.Nominee, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-proposal",
		Method:      http.MethodPost,
		Path:        "/proposals/{proposal_id}/decision",
		Summary:     "Accept or reject a proposal",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProposalID string `path:"proposal_id"`
		Body       DecisionRequest
	}) (*output[engine.Decision], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.DecideTaskProposal(ctx, input.ProposalID, actor, input.Body.Accept)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "acknowledge-proposal",
		Method:        http.MethodPost,
		Path:          "/proposals/{proposal_id}/acknowledge",
		Summary:       "Clear a rejected proposal",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *proposalPath) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.AcknowledgeTaskProposal(ctx, input.ProposalID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "withdraw-proposal",
		Method:        http.MethodDelete,
		Path:          "/proposals/{proposal_id}",
		Summary:       "Withdraw your own open proposal",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *proposalPath) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.WithdrawProposal(ctx, input.ProposalID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAliasChanges(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-alias-change",
		Method:        http.MethodPost,
		Path:          "/alias-changes",
		Summary:       "Ask the bestuur for a new alias",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body AliasChangeRequest
	}) (*output[domain.AliasChangeProposal], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.RequestAliasChange(ctx, actor, input.Body.RequestedAlias)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-alias-changes",
		Method:      http.MethodGet,
		Path:        "/alias-changes",
		Summary:     "Alias changes relevant to the caller",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*output[[]engine.AliasChangeView], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListAliasChanges(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-alias-change",
		Method:      http.MethodPost,
		Path:        "/alias-changes/{alias_change_id}/decision",
		Summary:     "Accept or reject an alias change",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		AliasChangeID string `path:"alias_change_id"`
		Body          DecisionRequest
	}) (*output[domain.AliasChangeProposal], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.DecideAliasChange(ctx, input.AliasChangeID, actor, input.Body.Accept)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "acknowledge-alias-change",
		Method:        http.MethodPost,
		Path:          "/alias-changes/{alias_change_id}/acknowledge",
		Summary:       "Clear a rejected alias change",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *aliasChangePath) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.AcknowledgeAliasChange(ctx, input.AliasChangeID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit log, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ActionType string `query:"action_type"`
		EntityType string `query:"entity_type"`
		EntityID   string `query:"entity_id"`
		Actor      string `query:"actor"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*output[paginatedEvents], error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := e.AuditLog(ctx, repo.EventFilters{
			ActionType: input.ActionType,
			EntityType: input.EntityType,
			EntityID:   input.EntityID,
			ActorAlias: input.Actor,
			Before:     before,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return respond(resp), nil
	})
}

func registerActors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*output[MeResponse], error) {
		principal, ok := principalFromContext(ctx)
		if !ok || principal.Alias == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		roles, err := e.Auth.ActorRoles(ctx, nil, principal.Alias)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(MeResponse{
			Alias:  principal.Alias,
			Roles:  nonNilSlice(roles),
			Source: principal.Source,
		}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-actors",
		Method:      http.MethodGet,
		Path:        "/actors",
		Summary:     "Registered actors",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*output[[]domain.Actor], error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListActors(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "grant-role",
		Method:        http.MethodPost,
		Path:          "/roles/grant",
		Summary:       "Grant role",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body RoleChangeRequest
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.GrantRole(ctx, input.Body.Alias, input.Body.Role, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-role",
		Method:        http.MethodPost,
		Path:          "/roles/revoke",
		Summary:       "Revoke role",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body RoleChangeRequest
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeRole(ctx, input.Body.Alias, input.Body.Role, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Issue an API key for the caller",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest
	}) (*output[APIKeyCreatedResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, secret, err := e.CreateAPIKey(ctx, actor, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(APIKeyCreatedResponse{Key: key, Secret: secret}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "The caller's API keys",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*output[[]domain.APIKey], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListAPIKeys(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{key_id}",
		Summary:       "Revoke one of the caller's API keys",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteAPIKey(ctx, input.KeyID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
