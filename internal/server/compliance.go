package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"compliancehub/internal/domain"
	"compliancehub/internal/engine"
)

func registerCompliances(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-compliance",
		Method:        http.MethodPost,
		Path:          "/compliances",
		Summary:       "Open the compliance workflow for a task",
		Description:   "A task carries at most one compliance; a second one is rejected with 400.",
		Tags:          []string{"compliances"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateComplianceRequest
	}) (*out[domain.Compliance], error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		c, err := h.engine.CreateCompliance(ctx, engine.ComplianceCreateOptions{
			TaskID:        b.TaskID,
			StatusID:      b.StatusID,
			Valor:         b.Valor,
			Ceco:          b.Ceco,
			Cuenta:        b.Cuenta,
			SolpedMemoSap: b.SolpedMemoSap,
			HesHemSap:     b.HesHemSap,
			ActorID:       p.ActorID(),
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-compliances",
		Method:      http.MethodGet,
		Path:        "/compliances",
		Summary:     "List compliances",
		Tags:        []string{"compliances"},
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.Compliance], error) {
		items, err := h.engine.ListCompliances(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-expired-compliances",
		Method:      http.MethodGet,
		Path:        "/compliances/expired",
		Summary:     "Compliances whose status SLA has elapsed",
		Tags:        []string{"compliances"},
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.Compliance], error) {
		items, err := h.engine.ExpiredCompliances(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-compliance",
		Method:      http.MethodGet,
		Path:        "/compliances/{id}",
		Summary:     "Get compliance with registries",
		Tags:        []string{"compliances"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*out[domain.Compliance], error) {
		c, err := h.engine.GetCompliance(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-compliance",
		Method:      http.MethodPatch,
		Path:        "/compliances/{id}",
		Summary:     "Update compliance",
		Tags:        []string{"compliances"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body UpdateComplianceRequest
	}) (*out[domain.Compliance], error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		c, err := h.engine.UpdateCompliance(ctx, engine.ComplianceUpdateOptions{
			ID:            input.ID,
			StatusID:      b.StatusID,
			Valor:         b.Valor,
			Ceco:          b.Ceco,
			Cuenta:        b.Cuenta,
			SolpedMemoSap: b.SolpedMemoSap,
			HesHemSap:     b.HesHemSap,
			Listo:         b.Listo,
			ActorID:       p.ActorID(),
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-compliance",
		Method:      http.MethodPost,
		Path:        "/compliances/{id}/advance",
		Summary:     "Move a compliance to its next status",
		Tags:        []string{"compliances"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *idPath) (*out[domain.Compliance], error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := h.engine.AdvanceStatus(ctx, input.ID, p.ActorID())
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-compliance",
		Method:        http.MethodDelete,
		Path:          "/compliances/{id}",
		Summary:       "Delete compliance with its registries",
		Tags:          []string{"compliances"},
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.engine.RemoveCompliance(ctx, input.ID, p.ActorID()); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerRegistries(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-registry",
		Method:        http.MethodPost,
		Path:          "/compliances/{id}/registries",
		Summary:       "Add a registry to a compliance",
		Tags:          []string{"registries"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body CreateRegistryRequest
	}) (*out[domain.Registry], error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		reg, err := h.engine.CreateRegistry(ctx, engine.RegistryOptions{
			ComplianceID: input.ID,
			Hes:          b.Hes,
			Hem:          b.Hem,
			Provider:     b.Provider,
			StartDate:    b.StartDate,
			EndDate:      b.EndDate,
			ActorID:      p.ActorID(),
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(reg), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-registries",
		Method:      http.MethodGet,
		Path:        "/compliances/{id}/registries",
		Summary:     "List registries of a compliance",
		Tags:        []string{"registries"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*out[[]domain.Registry], error) {
		items, err := h.engine.ListRegistries(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-registry",
		Method:      http.MethodGet,
		Path:        "/registries/{id}",
		Summary:     "Get registry with its solped or memo",
		Tags:        []string{"registries"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*out[domain.Registry], error) {
		reg, err := h.engine.GetRegistry(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(reg), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-registry",
		Method:      http.MethodPatch,
		Path:        "/registries/{id}",
		Summary:     "Update registry",
		Tags:        []string{"registries"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body UpdateRegistryRequest
	}) (*out[domain.Registry], error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		reg, err := h.engine.UpdateRegistry(ctx, engine.RegistryUpdateOptions{
			ID:        input.ID,
			Hes:       b.Hes,
			Hem:       b.Hem,
			Provider:  b.Provider,
			StartDate: b.StartDate,
			EndDate:   b.EndDate,
			ActorID:   p.ActorID(),
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(reg), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-registry",
		Method:        http.MethodDelete,
		Path:          "/registries/{id}",
		Summary:       "Delete registry",
		Tags:          []string{"registries"},
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.engine.RemoveRegistry(ctx, input.ID, p.ActorID()); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "attach-solped",
		Method:        http.MethodPost,
		Path:          "/registries/{id}/solped",
		Summary:       "Attach a solped",
		Description:   "Rejected with 400 when the registry already has a solped or a memo.",
		Tags:          []string{"registries"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body FinancialRequest
	}) (*out[domain.Solped], error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := h.engine.AttachSolped(ctx, input.ID, financialInput(input.Body, p.ActorID()))
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "attach-memo",
		Method:        http.MethodPost,
		Path:          "/registries/{id}/memo",
		Summary:       "Attach a memo",
		Description:   "Rejected with 400 when the registry already has a solped or a memo.",
		Tags:          []string{"registries"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body FinancialRequest
	}) (*out[domain.Memo], error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := h.engine.AttachMemo(ctx, input.ID, financialInput(input.Body, p.ActorID()))
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-financials",
		Method:      http.MethodPatch,
		Path:        "/registries/{id}/financials",
		Summary:     "Patch the solped or memo attached to a registry",
		Tags:        []string{"registries"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body FinancialRequest
	}) (*out[domain.Registry], error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reg, err := h.engine.UpdateFinancials(ctx, input.ID, financialInput(input.Body, p.ActorID()))
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(reg), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "detach-financials",
		Method:        http.MethodDelete,
		Path:          "/registries/{id}/financials",
		Summary:       "Remove the solped or memo attached to a registry",
		Tags:          []string{"registries"},
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.engine.DetachFinancials(ctx, input.ID, p.ActorID()); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})
}

func financialInput(b FinancialRequest, actorID string) engine.FinancialInput {
	return engine.FinancialInput{
		Ceco:    b.Ceco,
		Cuenta:  b.Cuenta,
		Valor:   b.Valor,
		Number:  b.Number,
		ActorID: actorID,
	}
}
