package engine

import (
	"context"
	"database/sql"
	"errors"

	"compliancehub/internal/domain"
	"compliancehub/internal/events"
	"compliancehub/internal/repo"
)

type RegistryOptions struct {
	ComplianceID int64
	Hes          bool
	Hem          bool
	Provider     string
	StartDate    *string
	EndDate      *string
	ActorID      string
}

func (o RegistryOptions) validate() error {
	if err := validateDate("start_date", o.StartDate); err != nil {
		return err
	}
	if err := validateDate("end_date", o.EndDate); err != nil {
		return err
	}
	if o.StartDate != nil && o.EndDate != nil && *o.StartDate != "" && *o.EndDate != "" && *o.EndDate < *o.StartDate {
		return badRequest("end_date is before start_date")
	}
	return nil
}

func (e Engine) CreateRegistry(ctx context.Context, opts RegistryOptions) (domain.Registry, error) {
	if err := opts.validate(); err != nil {
		return domain.Registry{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Registry{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetCompliance(ctx, tx, opts.ComplianceID); err != nil {
		return domain.Registry{}, wrapNotFound(err, "compliance", opts.ComplianceID)
	}
	reg := domain.Registry{
		ComplianceID: opts.ComplianceID,
		Hes:          opts.Hes,
		Hem:          opts.Hem,
		Provider:     opts.Provider,
		StartDate:    opts.StartDate,
		EndDate:      opts.EndDate,
		CreatedAt:    e.timestamp(),
	}
	if err := e.Repo.InsertRegistry(ctx, tx, &reg); err != nil {
		return domain.Registry{}, err
	}
	if err := e.Events.Append(ctx, tx, "registry.create", "registry", reg.ID, opts.ActorID, events.EventPayload{
		"compliance_id": reg.ComplianceID,
	}); err != nil {
		return domain.Registry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Registry{}, err
	}
	return reg, nil
}

// GetRegistry loads a registry with its solped or memo, whichever it has.
func (e Engine) GetRegistry(ctx context.Context, id int64) (domain.Registry, error) {
	reg, err := e.Repo.GetRegistry(ctx, e.DB, id)
	if err != nil {
		return domain.Registry{}, wrapNotFound(err, "registry", id)
	}
	if err := e.loadFinancials(ctx, e.DB, &reg); err != nil {
		return domain.Registry{}, err
	}
	return reg, nil
}

func (e Engine) ListRegistries(ctx context.Context, complianceID int64) ([]domain.Registry, error) {
	if _, err := e.Repo.GetCompliance(ctx, e.DB, complianceID); err != nil {
		return nil, wrapNotFound(err, "compliance", complianceID)
	}
	return e.registries(ctx, e.DB, complianceID)
}

func (e Engine) registries(ctx context.Context, q repo.Querier, complianceID int64) ([]domain.Registry, error) {
	regs, err := e.Repo.ListRegistries(ctx, q, complianceID)
	if err != nil {
		return nil, err
	}
	for i := range regs {
		if err := e.loadFinancials(ctx, q, &regs[i]); err != nil {
			return nil, err
		}
	}
	return regs, nil
}

func (e Engine) loadFinancials(ctx context.Context, q repo.Querier, reg *domain.Registry) error {
	s, err := e.Repo.GetSolpedByRegistry(ctx, q, reg.ID)
	switch {
	case err == nil:
		reg.Solped = &s
	case !errors.Is(err, repo.ErrNotFound):
		return err
	}
	m, err := e.Repo.GetMemoByRegistry(ctx, q, reg.ID)
	switch {
	case err == nil:
		reg.Memo = &m
	case !errors.Is(err, repo.ErrNotFound):
		return err
	}
	return nil
}

// RegistryUpdateOptions patches a registry; nil fields are left unchanged.
type RegistryUpdateOptions struct {
	ID        int64
	Hes       *bool
	Hem       *bool
	Provider  *string
	StartDate *string
	EndDate   *string
	ActorID   string
}

func (e Engine) UpdateRegistry(ctx context.Context, opts RegistryUpdateOptions) (domain.Registry, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Registry{}, err
	}
	defer tx.Rollback()

	reg, err := e.Repo.GetRegistry(ctx, tx, opts.ID)
	if err != nil {
		return domain.Registry{}, wrapNotFound(err, "registry", opts.ID)
	}
	if opts.Hes != nil {
		reg.Hes = *opts.Hes
	}
	if opts.Hem != nil {
		reg.Hem = *opts.Hem
	}
	if opts.Provider != nil {
		reg.Provider = *opts.Provider
	}
	if opts.StartDate != nil {
		reg.StartDate = opts.StartDate
	}
	if opts.EndDate != nil {
		reg.EndDate = opts.EndDate
	}
	check := RegistryOptions{StartDate: reg.StartDate, EndDate: reg.EndDate}
	if err := check.validate(); err != nil {
		return domain.Registry{}, err
	}
	if err := e.Repo.UpdateRegistry(ctx, tx, reg); err != nil {
		return domain.Registry{}, wrapNotFound(err, "registry", reg.ID)
	}
	if err := e.Events.Append(ctx, tx, "registry.update", "registry", reg.ID, opts.ActorID, nil); err != nil {
		return domain.Registry{}, err
	}
	if err := e.loadFinancials(ctx, tx, &reg); err != nil {
		return domain.Registry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Registry{}, err
	}
	return reg, nil
}

func (e Engine) RemoveRegistry(ctx context.Context, id int64, actorID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteSolpedByRegistry(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Repo.DeleteMemoByRegistry(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Repo.DeleteRegistry(ctx, tx, id); err != nil {
		return wrapNotFound(err, "registry", id)
	}
	if err := e.Events.Append(ctx, tx, "registry.delete", "registry", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// FinancialInput carries the fields shared by solpeds and memos. Number is the
// SAP number of a solped or the memo number of a memo.
type FinancialInput struct {
	Ceco    *int64
	Cuenta  *int64
	Valor   *int64
	Number  *int64
	ActorID string
}

// AttachSolped links a solped to a registry that has neither a solped nor a memo.
func (e Engine) AttachSolped(ctx context.Context, registryID int64, in FinancialInput) (domain.Solped, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Solped{}, err
	}
	defer tx.Rollback()

	if err := e.ensureRegistryFree(ctx, tx, registryID); err != nil {
		return domain.Solped{}, err
	}
	s := domain.Solped{RegistryID: registryID, Ceco: in.Ceco, Cuenta: in.Cuenta, Valor: in.Valor, SapNumber: in.Number}
	if err := e.Repo.InsertSolped(ctx, tx, &s); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Solped{}, badRequest("registry %d already has a solped", registryID)
		}
		return domain.Solped{}, err
	}
	if err := e.Events.Append(ctx, tx, "registry.solped", "registry", registryID, in.ActorID, events.EventPayload{
		"solped_id": s.ID,
	}); err != nil {
		return domain.Solped{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Solped{}, err
	}
	return s, nil
}

// AttachMemo links a memo to a registry that has neither a solped nor a memo.
func (e Engine) AttachMemo(ctx context.Context, registryID int64, in FinancialInput) (domain.Memo, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Memo{}, err
	}
	defer tx.Rollback()

	if err := e.ensureRegistryFree(ctx, tx, registryID); err != nil {
		return domain.Memo{}, err
	}
	m := domain.Memo{RegistryID: registryID, Ceco: in.Ceco, Cuenta: in.Cuenta, Valor: in.Valor, MemoNumber: in.Number}
	if err := e.Repo.InsertMemo(ctx, tx, &m); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Memo{}, badRequest("registry %d already has a memo", registryID)
		}
		return domain.Memo{}, err
	}
	if err := e.Events.Append(ctx, tx, "registry.memo", "registry", registryID, in.ActorID, events.EventPayload{
		"memo_id": m.ID,
	}); err != nil {
		return domain.Memo{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Memo{}, err
	}
	return m, nil
}

func (e Engine) ensureRegistryFree(ctx context.Context, tx *sql.Tx, registryID int64) error {
	reg, err := e.Repo.GetRegistry(ctx, tx, registryID)
	if err != nil {
		return wrapNotFound(err, "registry", registryID)
	}
	if err := e.loadFinancials(ctx, tx, &reg); err != nil {
		return err
	}
	if reg.Solped != nil {
		return badRequest("registry %d already has a solped", registryID)
	}
	if reg.Memo != nil {
		return badRequest("registry %d already has a memo", registryID)
	}
	return nil
}

// DetachFinancials removes the solped or memo from a registry so another can be attached.
func (e Engine) DetachFinancials(ctx context.Context, registryID int64, actorID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetRegistry(ctx, tx, registryID); err != nil {
		return wrapNotFound(err, "registry", registryID)
	}
	if err := e.Repo.DeleteSolpedByRegistry(ctx, tx, registryID); err != nil {
		return err
	}
	if err := e.Repo.DeleteMemoByRegistry(ctx, tx, registryID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "registry.detach", "registry", registryID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateFinancials patches the solped or memo attached to a registry; nil fields are left unchanged.
func (e Engine) UpdateFinancials(ctx context.Context, registryID int64, in FinancialInput) (domain.Registry, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Registry{}, err
	}
	defer tx.Rollback()

	reg, err := e.Repo.GetRegistry(ctx, tx, registryID)
	if err != nil {
		return domain.Registry{}, wrapNotFound(err, "registry", registryID)
	}
	if err := e.loadFinancials(ctx, tx, &reg); err != nil {
		return domain.Registry{}, err
	}
	switch {
	case reg.Solped != nil:
		patchFinancial(&reg.Solped.Ceco, &reg.Solped.Cuenta, &reg.Solped.Valor, &reg.Solped.SapNumber, in)
		if err := e.Repo.UpdateSolped(ctx, tx, *reg.Solped); err != nil {
			return domain.Registry{}, err
		}
	case reg.Memo != nil:
		patchFinancial(&reg.Memo.Ceco, &reg.Memo.Cuenta, &reg.Memo.Valor, &reg.Memo.MemoNumber, in)
		if err := e.Repo.UpdateMemo(ctx, tx, *reg.Memo); err != nil {
			return domain.Registry{}, err
		}
	default:
		return domain.Registry{}, badRequest("registry %d has no solped or memo", registryID)
	}
	if err := e.Events.Append(ctx, tx, "registry.financials", "registry", registryID, in.ActorID, nil); err != nil {
		return domain.Registry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Registry{}, err
	}
	return reg, nil
}

func patchFinancial(ceco, cuenta, valor, number **int64, in FinancialInput) {
	if in.Ceco != nil {
		*ceco = in.Ceco
	}
	if in.Cuenta != nil {
		*cuenta = in.Cuenta
	}
	if in.Valor != nil {
		*valor = in.Valor
	}
	if in.Number != nil {
		*number = in.Number
	}
}
