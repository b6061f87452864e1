package engine

import (
	"context"
	"strings"

	"compliancehub/internal/domain"
	"compliancehub/internal/events"
	"compliancehub/internal/repo"
)

type BeneficiaryOptions struct {
	LegalName string
	Rut       string
	Address   string
	Phone     string
	Email     string
	Structure string
	Contacts  []domain.Contact
	ActorID   string
}

func (e Engine) CreateBeneficiary(ctx context.Context, opts BeneficiaryOptions) (domain.Beneficiary, error) {
	b := domain.Beneficiary{
		LegalName: strings.TrimSpace(opts.LegalName),
		Rut:       normalizeRut(opts.Rut),
		Address:   opts.Address,
		Phone:     opts.Phone,
		Email:     strings.TrimSpace(opts.Email),
		Structure: opts.Structure,
		CreatedAt: e.timestamp(),
	}
	if b.LegalName == "" {
		return domain.Beneficiary{}, badRequest("legal_name is required")
	}
	if b.Rut == "" {
		return domain.Beneficiary{}, badRequest("rut is required")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Beneficiary{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertBeneficiary(ctx, tx, &b); err != nil {
		return domain.Beneficiary{}, err
	}
	b.Contacts = []domain.Contact{}
	for _, c := range opts.Contacts {
		c.BeneficiaryID = b.ID
		if strings.TrimSpace(c.Name) == "" {
			return domain.Beneficiary{}, badRequest("contact name is required")
		}
		if err := e.Repo.InsertContact(ctx, tx, &c); err != nil {
			return domain.Beneficiary{}, err
		}
		b.Contacts = append(b.Contacts, c)
	}
	if err := e.Events.Append(ctx, tx, "beneficiary.create", "beneficiary", b.ID, opts.ActorID, events.EventPayload{
		"rut": b.Rut, "contacts": len(b.Contacts),
	}); err != nil {
		return domain.Beneficiary{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Beneficiary{}, err
	}
	return b, nil
}

// normalizeRut strips dots and spaces and upper-cases the check digit, so
// "12.345.678-k" and "12345678-K" are the same beneficiary.
func normalizeRut(rut string) string {
	rut = strings.ToUpper(strings.TrimSpace(rut))
	return strings.NewReplacer(".", "", " ", "").Replace(rut)
}

func (e Engine) GetBeneficiary(ctx context.Context, id int64) (domain.Beneficiary, error) {
	b, err := e.Repo.GetBeneficiary(ctx, e.DB, id)
	if err != nil {
		return domain.Beneficiary{}, wrapNotFound(err, "beneficiary", id)
	}
	return b, nil
}

func (e Engine) ListBeneficiaries(ctx context.Context, search string) ([]domain.Beneficiary, error) {
	return e.Repo.ListBeneficiaries(ctx, e.DB, search)
}

type BeneficiaryUpdateOptions struct {
	ID        int64
	LegalName *string
	Rut       *string
	Address   *string
	Phone     *string
	Email     *string
	Structure *string
	ActorID   string
}

func (e Engine) UpdateBeneficiary(ctx context.Context, opts BeneficiaryUpdateOptions) (domain.Beneficiary, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Beneficiary{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBeneficiary(ctx, tx, opts.ID)
	if err != nil {
		return domain.Beneficiary{}, wrapNotFound(err, "beneficiary", opts.ID)
	}
	if opts.LegalName != nil {
		if b.LegalName = strings.TrimSpace(*opts.LegalName); b.LegalName == "" {
			return domain.Beneficiary{}, badRequest("legal_name cannot be empty")
		}
	}
	if opts.Rut != nil {
		if b.Rut = normalizeRut(*opts.Rut); b.Rut == "" {
			return domain.Beneficiary{}, badRequest("rut cannot be empty")
		}
	}
	if opts.Address != nil {
		b.Address = *opts.Address
	}
	if opts.Phone != nil {
		b.Phone = *opts.Phone
	}
	if opts.Email != nil {
		b.Email = strings.TrimSpace(*opts.Email)
	}
	if opts.Structure != nil {
		b.Structure = *opts.Structure
	}
	if err := e.Repo.UpdateBeneficiary(ctx, tx, b); err != nil {
		return domain.Beneficiary{}, wrapNotFound(err, "beneficiary", b.ID)
	}
	if err := e.Events.Append(ctx, tx, "beneficiary.update", "beneficiary", b.ID, opts.ActorID, nil); err != nil {
		return domain.Beneficiary{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Beneficiary{}, err
	}
	return b, nil
}

// RemoveBeneficiary deletes a beneficiary and its contacts. Beneficiaries still
// referenced by tasks or subtasks cannot be removed.
func (e Engine) RemoveBeneficiary(ctx context.Context, id int64, actorID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteBeneficiary(ctx, tx, id); err != nil {
		if repo.IsForeignKeyViolation(err) {
			return badRequest("beneficiary %d is still referenced by tasks or subtasks", id)
		}
		return wrapNotFound(err, "beneficiary", id)
	}
	if err := e.Events.Append(ctx, tx, "beneficiary.delete", "beneficiary", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

type ContactOptions struct {
	BeneficiaryID int64
	Name          string
	Phone         string
	Email         string
	ActorID       string
}

func (e Engine) AddContact(ctx context.Context, opts ContactOptions) (domain.Contact, error) {
	c := domain.Contact{
		BeneficiaryID: opts.BeneficiaryID,
		Name:          strings.TrimSpace(opts.Name),
		Phone:         opts.Phone,
		Email:         strings.TrimSpace(opts.Email),
	}
	if c.Name == "" {
		return domain.Contact{}, badRequest("name is required")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Contact{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetBeneficiary(ctx, tx, opts.BeneficiaryID); err != nil {
		return domain.Contact{}, wrapNotFound(err, "beneficiary", opts.BeneficiaryID)
	}
	if err := e.Repo.InsertContact(ctx, tx, &c); err != nil {
		return domain.Contact{}, err
	}
	if err := e.Events.Append(ctx, tx, "contact.create", "contact", c.ID, opts.ActorID, events.EventPayload{
		"beneficiary_id": c.BeneficiaryID,
	}); err != nil {
		return domain.Contact{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contact{}, err
	}
	return c, nil
}

type ContactUpdateOptions struct {
	ID      int64
	Name    *string
	Phone   *string
	Email   *string
	ActorID string
}

func (e Engine) UpdateContact(ctx context.Context, opts ContactUpdateOptions) (domain.Contact, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Contact{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetContact(ctx, tx, opts.ID)
	if err != nil {
		return domain.Contact{}, wrapNotFound(err, "contact", opts.ID)
	}
	if opts.Name != nil {
		if c.Name = strings.TrimSpace(*opts.Name); c.Name == "" {
			return domain.Contact{}, badRequest("name cannot be empty")
		}
	}
	if opts.Phone != nil {
		c.Phone = *opts.Phone
	}
	if opts.Email != nil {
		c.Email = strings.TrimSpace(*opts.Email)
	}
	if err := e.Repo.UpdateContact(ctx, tx, c); err != nil {
		return domain.Contact{}, wrapNotFound(err, "contact", c.ID)
	}
	if err := e.Events.Append(ctx, tx, "contact.update", "contact", c.ID, opts.ActorID, nil); err != nil {
		return domain.Contact{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contact{}, err
	}
	return c, nil
}

func (e Engine) RemoveContact(ctx context.Context, id int64, actorID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteContact(ctx, tx, id); err != nil {
		return wrapNotFound(err, "contact", id)
	}
	if err := e.Events.Append(ctx, tx, "contact.delete", "contact", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}
