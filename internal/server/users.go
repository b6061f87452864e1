package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"compliancehub/internal/domain"
	"compliancehub/internal/engine/auth"
	"compliancehub/internal/repo"
)

func registerAuth(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange email and password for a bearer token",
		Tags:        []string{"auth"},
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest
	}) (*out[LoginResponse], error) {
		token, exp, u, err := h.auth.Login(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(LoginResponse{Token: token, ExpiresAt: exp.UTC().Format(time.RFC3339), User: u}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register",
		Method:        http.MethodPost,
		Path:          "/auth/register",
		Summary:       "Create an account and send an email verification link",
		Tags:          []string{"auth"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body RegisterRequest
	}) (*out[domain.User], error) {
		u, err := h.auth.Register(ctx, auth.UserInput{
			Name:     input.Body.Name,
			Email:    input.Body.Email,
			Password: input.Body.Password,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-email",
		Method:      http.MethodPost,
		Path:        "/auth/verify-email",
		Summary:     "Confirm an email address",
		Tags:        []string{"auth"},
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body TokenRequest
	}) (*out[domain.User], error) {
		u, err := h.auth.VerifyEmail(ctx, input.Body.Token)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "request-password-reset",
		Method:        http.MethodPost,
		Path:          "/auth/password-reset",
		Summary:       "Email a password reset link",
		Description:   "Always accepted, whether or not the address is registered.",
		Tags:          []string{"auth"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *struct {
		Body PasswordResetRequest
	}) (*out[StatusResponse], error) {
		if err := h.auth.RequestPasswordReset(ctx, input.Body.Email); err != nil {
			return nil, h.handleError(err)
		}
		return reply(StatusResponse{Status: "accepted"}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "confirm-password-reset",
		Method:        http.MethodPost,
		Path:          "/auth/password-reset/confirm",
		Summary:       "Set a new password with a reset token",
		Tags:          []string{"auth"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body PasswordResetConfirmRequest
	}) (*struct{}, error) {
		if err := h.auth.ResetPassword(ctx, input.Body.Token, input.Body.Password); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Tags:        []string{"auth"},
	}, func(ctx context.Context, _ *struct{}) (*out[domain.User], error) {
		p, authErr := currentPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := h.auth.Repo.GetUser(ctx, h.auth.DB, p.UserID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(u), nil
	})
}

func registerUsers(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
		Tags:        []string{"users"},
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.User], error) {
		if _, authErr := h.requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		users, err := h.auth.Repo.ListUsers(ctx, h.auth.DB)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(nonNil(users)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create a verified user",
		Tags:          []string{"users"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest
	}) (*out[domain.User], error) {
		if _, authErr := h.requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		u, err := h.auth.CreateUser(ctx, auth.UserInput{
			Name:     input.Body.Name,
			Email:    input.Body.Email,
			Password: input.Body.Password,
			Role:     input.Body.Role,
		}, true)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-user-role",
		Method:      http.MethodPatch,
		Path:        "/users/{id}/role",
		Summary:     "Change a user's role",
		Tags:        []string{"users"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body ChangeRoleRequest
	}) (*out[domain.User], error) {
		p, authErr := h.requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := h.auth.ChangeRole(ctx, input.ID, input.Body.Role, p.ActorID())
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-roles",
		Method:      http.MethodGet,
		Path:        "/roles",
		Summary:     "List roles",
		Tags:        []string{"users"},
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.Role], error) {
		roles, err := h.auth.Repo.ListRoles(ctx, h.auth.DB)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(nonNil(roles)), nil
	})
}

func registerLookups(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "lookups",
		Method:      http.MethodGet,
		Path:        "/lookups",
		Summary:     "Catalog values for forms",
		Tags:        []string{"lookups"},
	}, func(ctx context.Context, _ *struct{}) (*out[Lookups], error) {
		r, q := h.engine.Repo, h.engine.DB
		var (
			res Lookups
			err error
		)
		for table, dst := range map[string]*[]domain.Lookup{
			repo.LookupValleys:       &res.Valleys,
			repo.LookupProcesses:     &res.Processes,
			repo.LookupTaskStatuses:  &res.TaskStatuses,
			repo.LookupPriorities:    &res.Priorities,
			repo.LookupDocumentTypes: &res.DocumentTypes,
		} {
			if *dst, err = r.ListLookup(ctx, q, table); err != nil {
				return nil, h.handleError(err)
			}
			*dst = nonNil(*dst)
		}
		if res.Faenas, err = r.ListFaenas(ctx, q, 0); err != nil {
			return nil, h.handleError(err)
		}
		if res.SubtaskStatuses, err = r.ListSubtaskStatuses(ctx, q); err != nil {
			return nil, h.handleError(err)
		}
		if res.ComplianceStatuses, err = r.ListComplianceStatuses(ctx, q); err != nil {
			return nil, h.handleError(err)
		}
		res.Faenas = nonNil(res.Faenas)
		res.SubtaskStatuses = nonNil(res.SubtaskStatuses)
		res.ComplianceStatuses = nonNil(res.ComplianceStatuses)
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-faenas",
		Method:      http.MethodGet,
		Path:        "/valleys/{id}/faenas",
		Summary:     "Faenas of a valley",
		Tags:        []string{"lookups"},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*out[[]domain.Faena], error) {
		faenas, err := h.engine.Repo.ListFaenas(ctx, h.engine.DB, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(nonNil(faenas)), nil
	})
}
