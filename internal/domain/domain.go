package domain

type Task struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	ValleyID      int64   `json:"valley_id"`
	FaenaID       *int64  `json:"faena_id,omitempty"`
	ProcessID     int64   `json:"process_id"`
	StatusID      int64   `json:"status_id"`
	Applies       bool    `json:"applies"`
	BeneficiaryID *int64  `json:"beneficiary_id,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
	StatusName    string  `json:"status_name,omitempty"`
	ValleyName    string  `json:"valley_name,omitempty"`
	FaenaName     *string `json:"faena_name,omitempty"`
	ProcessName   string  `json:"process_name,omitempty"`
}

// TaskDetail is a task loaded with the relations it owns.
type TaskDetail struct {
	Task
	Subtasks    []Subtask    `json:"subtasks"`
	Compliances []Compliance `json:"compliances"`
	Documents   []Document   `json:"documents"`
}

type Subtask struct {
	ID            int64   `json:"id"`
	TaskID        int64   `json:"task_id"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	Budget        int64   `json:"budget"`
	Expense       int64   `json:"expense"`
	StartDate     *string `json:"start_date,omitempty" format:"date"`
	EndDate       *string `json:"end_date,omitempty" format:"date"`
	FinalDate     *string `json:"final_date,omitempty" format:"date"`
	StatusID      int64   `json:"status_id"`
	PriorityID    *int64  `json:"priority_id,omitempty"`
	BeneficiaryID *int64  `json:"beneficiary_id,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

type Compliance struct {
	ID            int64   `json:"id"`
	TaskID        int64   `json:"task_id"`
	StatusID      int64   `json:"status_id"`
	Valor         *int64  `json:"valor,omitempty"`
	Ceco          *int64  `json:"ceco,omitempty"`
	Cuenta        *int64  `json:"cuenta,omitempty"`
	SolpedMemoSap *int64  `json:"solped_memo_sap,omitempty"`
	HesHemSap     *int64  `json:"hes_hem_sap,omitempty"`
	Listo         bool    `json:"listo"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
	// StatusChangedAt starts the SLA clock of the current status.
	StatusChangedAt string     `json:"status_changed_at" format:"date-time"`
	Registries      []Registry `json:"registries,omitempty"`
}

type Registry struct {
	ID           int64   `json:"id"`
	ComplianceID int64   `json:"compliance_id"`
	Hes          bool    `json:"hes"`
	Hem          bool    `json:"hem"`
	Provider     string  `json:"provider,omitempty"`
	StartDate    *string `json:"start_date,omitempty" format:"date"`
	EndDate      *string `json:"end_date,omitempty" format:"date"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	Solped       *Solped `json:"solped,omitempty"`
	Memo         *Memo   `json:"memo,omitempty"`
}

type Solped struct {
	ID         int64  `json:"id"`
	RegistryID int64  `json:"registry_id"`
	Ceco       *int64 `json:"ceco,omitempty"`
	Cuenta     *int64 `json:"cuenta,omitempty"`
	Valor      *int64 `json:"valor,omitempty"`
	SapNumber  *int64 `json:"sap_number,omitempty"`
}

type Memo struct {
	ID         int64  `json:"id"`
	RegistryID int64  `json:"registry_id"`
	Ceco       *int64 `json:"ceco,omitempty"`
	Cuenta     *int64 `json:"cuenta,omitempty"`
	Valor      *int64 `json:"valor,omitempty"`
	MemoNumber *int64 `json:"memo_number,omitempty"`
}

type History struct {
	ID            int64        `json:"id"`
	TaskID        *int64       `json:"task_id,omitempty"`
	Name          string       `json:"name"`
	Description   string       `json:"description,omitempty"`
	ProcessID     *int64       `json:"process_id,omitempty"`
	FinalDate     string       `json:"final_date" format:"date"`
	TotalExpense  int64        `json:"total_expense"`
	ValleyID      *int64       `json:"valley_id,omitempty"`
	FaenaID       *int64       `json:"faena_id,omitempty"`
	BeneficiaryID *int64       `json:"beneficiary_id,omitempty"`
	SolpedMemoSap int64        `json:"solped_memo_sap"`
	HesHemSap     int64        `json:"hes_hem_sap"`
	CreatedAt     string       `json:"created_at" format:"date-time"`
	Documents     []HistoryDoc `json:"documents,omitempty"`
}

type HistoryDoc struct {
	ID         int64  `json:"id"`
	HistoryID  int64  `json:"history_id"`
	Filename   string `json:"filename"`
	TypeID     *int64 `json:"type_id,omitempty"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	UploadDate string `json:"upload_date" format:"date-time"`
}

type Document struct {
	ID         int64  `json:"id"`
	TaskID     *int64 `json:"task_id,omitempty"`
	TypeID     *int64 `json:"type_id,omitempty"`
	Path       string `json:"path"`
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	UploadDate string `json:"upload_date" format:"date-time"`
}

type Beneficiary struct {
	ID        int64     `json:"id"`
	LegalName string    `json:"legal_name"`
	Rut       string    `json:"rut"`
	Address   string    `json:"address,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Structure string    `json:"structure,omitempty"`
	CreatedAt string    `json:"created_at" format:"date-time"`
	Contacts  []Contact `json:"contacts"`
}

type Contact struct {
	ID            int64  `json:"id"`
	BeneficiaryID int64  `json:"beneficiary_id"`
	Name          string `json:"name"`
	Phone         string `json:"phone,omitempty"`
	Email         string `json:"email,omitempty"`
}

type User struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	PasswordHash  string `json:"-"`
	RoleID        int64  `json:"role_id"`
	RoleName      string `json:"role"`
	EmailVerified bool   `json:"email_verified"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// UserToken is a one-time token stored by hash only.
type UserToken struct {
	TokenHash string  `json:"-"`
	UserID    int64   `json:"user_id"`
	Purpose   string  `json:"purpose" enum:"reset,verify"`
	ExpiresAt string  `json:"expires_at" format:"date-time"`
	UsedAt    *string `json:"used_at,omitempty" format:"date-time"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type Notification struct {
	ID         int64  `json:"id"`
	UserID     *int64 `json:"user_id,omitempty"`
	Kind       string `json:"kind" enum:"task.expired,compliance.expired"`
	Message    string `json:"message"`
	EntityKind string `json:"entity_kind"`
	EntityID   int64  `json:"entity_id"`
	Read       bool   `json:"read"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// Lookup is a row of any id/name catalog table.
type Lookup struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Faena struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ValleyID *int64 `json:"valley_id,omitempty"`
}

type SubtaskStatus struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Percentage int64  `json:"percentage"`
}

type ComplianceStatus struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Days    int64  `json:"days"`
	Ordinal int64  `json:"ordinal"`
}

type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	EntityKind  string `json:"entity_kind"`
	EntityID    *int64 `json:"entity_id,omitempty"`
	ActorID     string `json:"actor_id"`
	PayloadJSON string `json:"payload_json"`
}
