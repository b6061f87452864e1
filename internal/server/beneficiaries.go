package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"compliancehub/internal/domain"
	"compliancehub/internal/engine"
)

func registerBeneficiaries(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-beneficiary",
		Method:        http.MethodPost,
		Path:          "/beneficiaries",
		Summary:       "Create beneficiary with contacts",
		Tags:          []string{"beneficiaries"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body BeneficiaryRequest
	}) (*out[domain.Beneficiary], error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		res, err := h.engine.CreateBeneficiary(ctx, engine.BeneficiaryOptions{
			LegalName: b.LegalName,
			Rut:       b.Rut,
			Address:   b.Address,
			Phone:     b.Phone,
			Email:     b.Email,
			Structure: b.Structure,
			Contacts:  contactsFromRequest(b.Contacts),
			ActorID:   p.ActorID(),
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-beneficiaries",
		Method:      http.MethodGet,
		Path:        "/beneficiaries",
		Summary:     "List beneficiaries",
		Tags:        []string{"beneficiaries"},
	}, func(ctx context.Context, input *struct {
		Search string `query:"search" doc:"matches legal name or rut"`
	}) (*out[[]domain.Beneficiary], error) {
		items, err := h.engine.ListBeneficiaries(ctx, input.Search)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-beneficiary",
		Method:      http.MethodGet,
		Path:        "/beneficiaries/{id}",
		Summary:     "Get beneficiary",
		Tags:        []string{"beneficiaries"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*out[domain.Beneficiary], error) {
		b, err := h.engine.GetBeneficiary(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(b), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-beneficiary",
		Method:      http.MethodPatch,
		Path:        "/beneficiaries/{id}",
		Summary:     "Update beneficiary",
		Tags:        []string{"beneficiaries"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body UpdateBeneficiaryRequest
	}) (*out[domain.Beneficiary], error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		res, err := h.engine.UpdateBeneficiary(ctx, engine.BeneficiaryUpdateOptions{
			ID:        input.ID,
			LegalName: b.LegalName,
			Rut:       b.Rut,
			Address:   b.Address,
			Phone:     b.Phone,
			Email:     b.Email,
			Structure: b.Structure,
			ActorID:   p.ActorID(),
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-beneficiary",
		Method:        http.MethodDelete,
		Path:          "/beneficiaries/{id}",
		Summary:       "Delete beneficiary",
		Description:   "Rejected with 400 while tasks or subtasks still reference the beneficiary.",
		Tags:          []string{"beneficiaries"},
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.engine.RemoveBeneficiary(ctx, input.ID, p.ActorID()); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-contact",
		Method:        http.MethodPost,
		Path:          "/beneficiaries/{id}/contacts",
		Summary:       "Add contact",
		Tags:          []string{"beneficiaries"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body ContactRequest
	}) (*out[domain.Contact], error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := h.engine.AddContact(ctx, engine.ContactOptions{
			BeneficiaryID: input.ID,
			Name:          input.Body.Name,
			Phone:         input.Body.Phone,
			Email:         input.Body.Email,
			ActorID:       p.ActorID(),
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-contact",
		Method:      http.MethodPatch,
		Path:        "/contacts/{id}",
		Summary:     "Update contact",
		Tags:        []string{"beneficiaries"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body UpdateContactRequest
	}) (*out[domain.Contact], error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := h.engine.UpdateContact(ctx, engine.ContactUpdateOptions{
			ID:      input.ID,
			Name:    input.Body.Name,
			Phone:   input.Body.Phone,
			Email:   input.Body.Email,
			ActorID: p.ActorID(),
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-contact",
		Method:        http.MethodDelete,
		Path:          "/contacts/{id}",
		Summary:       "Delete contact",
		Tags:          []string{"beneficiaries"},
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.engine.RemoveContact(ctx, input.ID, p.ActorID()); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})
}
