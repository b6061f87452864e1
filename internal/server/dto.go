package server

import (
	"compliancehub/internal/domain"
	"compliancehub/internal/report"
)

// Request payloads

type LoginRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password" minLength:"1"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
}

type CreateUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type TokenRequest struct {
	Token string `json:"token"`
}

type PasswordResetRequest struct {
	Email string `json:"email"`
}

type PasswordResetConfirmRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type ChangeRoleRequest struct {
	Role string `json:"role"`
}

type CreateTaskRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	ValleyID      int64  `json:"valley_id"`
	FaenaID       *int64 `json:"faena_id,omitempty"`
	ProcessID     int64  `json:"process_id"`
	StatusID      int64  `json:"status_id,omitempty"`
	Applies       bool   `json:"applies,omitempty"`
	BeneficiaryID *int64 `json:"beneficiary_id,omitempty"`
}

type UpdateTaskRequest struct {
	Name          *string `json:"name,omitempty"`
	Description   *string `json:"description,omitempty"`
	ValleyID      *int64  `json:"valley_id,omitempty"`
	FaenaID       *int64  `json:"faena_id,omitempty" doc:"0 clears the faena"`
	ProcessID     *int64  `json:"process_id,omitempty"`
	StatusID      *int64  `json:"status_id,omitempty"`
	Applies       *bool   `json:"applies,omitempty"`
	BeneficiaryID *int64  `json:"beneficiary_id,omitempty" doc:"0 clears the beneficiary"`
}

type CreateSubtaskRequest struct {
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	Budget        int64   `json:"budget,omitempty" minimum:"0"`
	Expense       int64   `json:"expense,omitempty" minimum:"0"`
	StartDate     *string `json:"start_date,omitempty" format:"date"`
	EndDate       *string `json:"end_date,omitempty" format:"date"`
	FinalDate     *string `json:"final_date,omitempty" format:"date"`
	StatusID      int64   `json:"status_id,omitempty"`
	PriorityID    *int64  `json:"priority_id,omitempty"`
	BeneficiaryID *int64  `json:"beneficiary_id,omitempty"`
}

type UpdateSubtaskRequest struct {
	Name          *string `json:"name,omitempty"`
	Description   *string `json:"description,omitempty"`
	Budget        *int64  `json:"budget,omitempty"`
	Expense       *int64  `json:"expense,omitempty"`
	StartDate     *string `json:"start_date,omitempty" doc:"empty string clears the date"`
	EndDate       *string `json:"end_date,omitempty"`
	FinalDate     *string `json:"final_date,omitempty"`
	StatusID      *int64  `json:"status_id,omitempty"`
	PriorityID    *int64  `json:"priority_id,omitempty"`
	BeneficiaryID *int64  `json:"beneficiary_id,omitempty"`
}

type CreateComplianceRequest struct {
	TaskID        int64  `json:"task_id"`
	StatusID      int64  `json:"status_id,omitempty"`
	Valor         *int64 `json:"valor,omitempty"`
	Ceco          *int64 `json:"ceco,omitempty"`
	Cuenta        *int64 `json:"cuenta,omitempty"`
	SolpedMemoSap *int64 `json:"solped_memo_sap,omitempty"`
	HesHemSap     *int64 `json:"hes_hem_sap,omitempty"`
}

type UpdateComplianceRequest struct {
	StatusID      *int64 `json:"status_id,omitempty"`
	Valor         *int64 `json:"valor,omitempty"`
	Ceco          *int64 `json:"ceco,omitempty"`
	Cuenta        *int64 `json:"cuenta,omitempty"`
	SolpedMemoSap *int64 `json:"solped_memo_sap,omitempty"`
	HesHemSap     *int64 `json:"hes_hem_sap,omitempty"`
	Listo         *bool  `json:"listo,omitempty"`
}

type CreateRegistryRequest struct {
	Hes       bool    `json:"hes,omitempty"`
	Hem       bool    `json:"hem,omitempty"`
	Provider  string  `json:"provider,omitempty"`
	StartDate *string `json:"start_date,omitempty" format:"date"`
	EndDate   *string `json:"end_date,omitempty" format:"date"`
}

type UpdateRegistryRequest struct {
	Hes       *bool   `json:"hes,omitempty"`
	Hem       *bool   `json:"hem,omitempty"`
	Provider  *string `json:"provider,omitempty"`
	StartDate *string `json:"start_date,omitempty"`
	EndDate   *string `json:"end_date,omitempty"`
}

// FinancialRequest is the body for a solped or memo. Number is the SAP number
// of a solped or the memo number of a memo.
type FinancialRequest struct {
	Ceco   *int64 `json:"ceco,omitempty"`
	Cuenta *int64 `json:"cuenta,omitempty"`
	Valor  *int64 `json:"valor,omitempty"`
	Number *int64 `json:"number,omitempty"`
}

type BeneficiaryRequest struct {
	LegalName string           `json:"legal_name"`
	Rut       string           `json:"rut"`
	Address   string           `json:"address,omitempty"`
	Phone     string           `json:"phone,omitempty"`
	Email     string           `json:"email,omitempty"`
	Structure string           `json:"structure,omitempty"`
	Contacts  []ContactRequest `json:"contacts,omitempty"`
}

type UpdateBeneficiaryRequest struct {
	LegalName *string `json:"legal_name,omitempty"`
	Rut       *string `json:"rut,omitempty"`
	Address   *string `json:"address,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Email     *string `json:"email,omitempty"`
	Structure *string `json:"structure,omitempty"`
}

type ContactRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type UpdateContactRequest struct {
	Name  *string `json:"name,omitempty"`
	Phone *string `json:"phone,omitempty"`
	Email *string `json:"email,omitempty"`
}

// Responses

type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt string      `json:"expires_at" format:"date-time"`
	User      domain.User `json:"user"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type ValleyReport struct {
	ValleyID int64                  `json:"valley_id"`
	Year     int                    `json:"year"`
	Budget   int64                  `json:"budget"`
	Expense  int64                  `json:"expense"`
	Progress float64                `json:"progress"`
	Monthly  []report.MonthlyAmount `json:"monthly"`
}

type MonthlyReport struct {
	Month   string `json:"month"`
	Year    int    `json:"year"`
	Budget  int64  `json:"budget"`
	Expense int64  `json:"expense"`
}

type Lookups struct {
	Valleys            []domain.Lookup           `json:"valleys"`
	Faenas             []domain.Faena            `json:"faenas"`
	Processes          []domain.Lookup           `json:"processes"`
	TaskStatuses       []domain.Lookup           `json:"task_statuses"`
	SubtaskStatuses    []domain.SubtaskStatus    `json:"subtask_statuses"`
	Priorities         []domain.Lookup           `json:"priorities"`
	ComplianceStatuses []domain.ComplianceStatus `json:"compliance_statuses"`
	DocumentTypes      []domain.Lookup           `json:"document_types"`
}

func contactsFromRequest(in []ContactRequest) []domain.Contact {
	res := make([]domain.Contact, 0, len(in))
	for _, c := range in {
		res = append(res, domain.Contact{Name: c.Name, Phone: c.Phone, Email: c.Email})
	}
	return res
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
