package domain

// EntityKind names a record type the command pipeline can address.
type EntityKind string

const (
	EntityCustomer EntityKind = "customer"
	EntityDeal     EntityKind = "deal"
	EntityQuote    EntityKind = "quote"
	EntityInvoice  EntityKind = "invoice"
	EntityContract EntityKind = "contract"
	EntityMeeting  EntityKind = "meeting"
)

// ActionKind names an operation on an entity.
type ActionKind string

const (
	ActionCreate       ActionKind = "create"
	ActionUpdate       ActionKind = "update"
	ActionDelete       ActionKind = "delete"
	ActionAdvanceStage ActionKind = "advance_stage"
	ActionAccept       ActionKind = "accept"
	ActionMarkPaid     ActionKind = "mark_paid"
	ActionTerminate    ActionKind = "terminate"
	ActionSchedule     ActionKind = "schedule"
	ActionCancel       ActionKind = "cancel"
)

// Automation preference values. An absent row reads as PrefAsk.
const (
	PrefAlways = "always"
	PrefAsk    = "ask"
	PrefNever  = "never"
)

// Command is a validated, typed representation of a user instruction.
// Produced by the intent parser and treated as immutable afterwards.
type Command struct {
	Entity     EntityKind     `json:"entity" enum:"customer,deal,quote,invoice,contract,meeting"`
	Action     ActionKind     `json:"action" enum:"create,update,delete,advance_stage,accept,mark_paid,terminate,schedule,cancel"`
	Params     map[string]any `json:"parameters" jsonschema:"type=object,additionalProperties=true"`
	Locale     string         `json:"locale" enum:"en,tr"`
	RawText    string         `json:"raw_text,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
}

// CommandResult statuses.
const (
	StatusExecuted          = "executed"
	StatusNeedsConfirmation = "needs_confirmation"
	StatusRejected          = "rejected"
)

// FieldChange is one line of a preview diff.
type FieldChange struct {
	Field  string `json:"field"`
	Before any    `json:"before,omitempty"`
	After  any    `json:"after,omitempty"`
}

// PreviewPayload is a read-only projection of a command's effect.
type PreviewPayload struct {
	Summary string        `json:"summary"`
	Changes []FieldChange `json:"changes,omitempty"`
}

// CommandResult is the single outcome of one executor invocation.
type CommandResult struct {
	Success           bool            `json:"success"`
	Status            string          `json:"status" enum:"executed,needs_confirmation,rejected"`
	Code              string          `json:"code,omitempty" example:"immutable_state"`
	Message           string          `json:"message"`
	Preview           *PreviewPayload `json:"preview,omitempty"`
	ConfirmationToken string          `json:"confirmation_token,omitempty"`
	AffectedEntityID  string          `json:"affected_entity_id,omitempty"`
}

type Customer struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Deal struct {
	ID         string  `json:"id"`
	TenantID   string  `json:"tenant_id"`
	CustomerID *string `json:"customer_id,omitempty"`
	Title      string  `json:"title"`
	Value      float64 `json:"value"`
	Currency   string  `json:"currency,omitempty"`
	Stage      string  `json:"stage" enum:"lead,qualified,proposal,negotiation,won,lost"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

type Quote struct {
	ID        string  `json:"id"`
	TenantID  string  `json:"tenant_id"`
	DealID    *string `json:"deal_id,omitempty"`
	Title     string  `json:"title,omitempty"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency,omitempty"`
	Status    string  `json:"status" enum:"draft,sent,accepted,declined"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
}

type Invoice struct {
	ID         string  `json:"id"`
	TenantID   string  `json:"tenant_id"`
	CustomerID *string `json:"customer_id,omitempty"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency,omitempty"`
	Status     string  `json:"status" enum:"draft,sent,partial,paid,overdue,cancelled"`
	DueDate    *string `json:"due_date,omitempty" format:"date"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

type Contract struct {
	ID         string  `json:"id"`
	TenantID   string  `json:"tenant_id"`
	CustomerID *string `json:"customer_id,omitempty"`
	Title      string  `json:"title"`
	Status     string  `json:"status" enum:"draft,active,expired,terminated"`
	StartDate  *string `json:"start_date,omitempty" format:"date"`
	EndDate    *string `json:"end_date,omitempty" format:"date"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

type Meeting struct {
	ID         string  `json:"id"`
	TenantID   string  `json:"tenant_id"`
	CustomerID *string `json:"customer_id,omitempty"`
	Title      string  `json:"title"`
	StartsAt   *string `json:"starts_at,omitempty" format:"date"`
	Status     string  `json:"status" enum:"scheduled,cancelled"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

// AutomationPreference controls whether one automation type executes
// immediately, asks for confirmation, or is disabled for a user.
type AutomationPreference struct {
	UserID         string `json:"user_id"`
	TenantID       string `json:"tenant_id"`
	AutomationType string `json:"automation_type" example:"deal.create"`
	Preference     string `json:"preference" enum:"always,ask,never"`
	UpdatedAt      string `json:"updated_at" format:"date-time"`
}

// ActivityEntry is one append-only audit record of a successful mutation.
type ActivityEntry struct {
	ID          int64  `json:"id"`
	TenantID    string `json:"tenant_id"`
	UserID      string `json:"user_id"`
	Entity      string `json:"entity"`
	EntityID    string `json:"entity_id,omitempty"`
	Action      string `json:"action"`
	Description string `json:"description"`
	MetaJSON    string `json:"meta_json,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	TenantID  string `json:"tenant_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
