package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ItemKind string

const (
	ItemKindBook ItemKind = "book"
	ItemKindGift ItemKind = "gift"
)

func (k ItemKind) Valid() bool {
	return k == ItemKindBook || k == ItemKindGift
}

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentTransfer:
		return true
	default:
		return false
	}
}

// PaymentMethods lists the supported methods in report order.
var PaymentMethods = []PaymentMethod{PaymentCash, PaymentCard, PaymentTransfer}

type ExtraType string

const (
	ExtraIncome  ExtraType = "income"
	ExtraExpense ExtraType = "expense"
)

func (t ExtraType) Valid() bool {
	return t == ExtraIncome || t == ExtraExpense
}

const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"
)

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// Item is a book or gift with its quantity on hand.
type Item struct {
	ID        string          `json:"id"`
	Kind      ItemKind        `json:"kind"`
	Name      string          `json:"name"`
	Author    string          `json:"author,omitempty"`
	ISBN      string          `json:"isbn,omitempty"`
	Publisher string          `json:"publisher,omitempty"`
	Category  string          `json:"category,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type ItemCreateRequest struct {
	Name      string          `json:"name"`
	Author    string          `json:"author"`
	ISBN      string          `json:"isbn"`
	Publisher string          `json:"publisher"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

type ItemUpdateRequest struct {
	Name      *string          `json:"name,omitempty"`
	Author    *string          `json:"author,omitempty"`
	ISBN      *string          `json:"isbn,omitempty"`
	Publisher *string          `json:"publisher,omitempty"`
	Category  *string          `json:"category,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Quantity  *int             `json:"quantity,omitempty"`
}

// Shift is one till session. Closing fields are only set once Status is closed.
type Shift struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	Date           string          `json:"date"`
	OpenedAt       time.Time       `json:"opened_at"`
	OpenedBy       string          `json:"opened_by"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	StaffOnDuty    []string        `json:"staff_on_duty"`

	ClosedAt        *time.Time       `json:"closed_at,omitempty"`
	ClosedBy        string           `json:"closed_by,omitempty"`
	SalesTotal      *decimal.Decimal `json:"sales_total,omitempty"`
	SalesCount      int              `json:"sales_count,omitempty"`
	ExtraIncome     *decimal.Decimal `json:"extra_income,omitempty"`
	ExtraExpense    *decimal.Decimal `json:"extra_expense,omitempty"`
	ExpectedBalance *decimal.Decimal `json:"expected_balance,omitempty"`
	ActualBalance   *decimal.Decimal `json:"actual_balance,omitempty"`
	Discrepancy     *decimal.Decimal `json:"discrepancy,omitempty"`
}

func (s Shift) IsOpen() bool {
	return s.Status == ShiftStatusOpen
}

type ShiftOpenRequest struct {
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	StaffOnDuty    []string        `json:"staff_on_duty"`
}

type ShiftCloseRequest struct {
	ActualBalance decimal.Decimal `json:"actual_balance"`
}

type ShiftResponse struct {
	Shift Shift `json:"shift"`
}

type ShiftCloseResponse struct {
	Shift  Shift  `json:"shift"`
	Report string `json:"report"`
}

type Sale struct {
	ID            string          `json:"id"`
	ItemType      ItemKind        `json:"item_type"`
	ItemID        string          `json:"item_id"`
	ItemName      string          `json:"item_name"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Timestamp     time.Time       `json:"timestamp"`
	Seller        string          `json:"seller"`
	ShiftID       string          `json:"shift_id,omitempty"`
	UpdatedAt     *time.Time      `json:"updated_at,omitempty"`
}

type SaleRequest struct {
	ItemType      ItemKind         `json:"item_type"`
	ItemID        string           `json:"item_id"`
	Quantity      int              `json:"quantity"`
	UnitPrice     *decimal.Decimal `json:"unit_price,omitempty"`
	PaymentMethod PaymentMethod    `json:"payment_method"`
}

type SaleEditRequest struct {
	Quantity      int              `json:"quantity"`
	UnitPrice     *decimal.Decimal `json:"unit_price,omitempty"`
	PaymentMethod PaymentMethod    `json:"payment_method,omitempty"`
}

type ExtraTransaction struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Type        ExtraType       `json:"type"`
	Timestamp   time.Time       `json:"timestamp"`
	ShiftID     string          `json:"shift_id"`
	RecordedBy  string          `json:"recorded_by"`
}

type ExtraTransactionRequest struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Type        ExtraType       `json:"type"`
}

type Loan struct {
	ID         string     `json:"id"`
	BookID     string     `json:"book_id"`
	BookTitle  string     `json:"book_title"`
	Borrower   string     `json:"borrower"`
	Contact    string     `json:"contact,omitempty"`
	LentAt     time.Time  `json:"lent_at"`
	DueAt      time.Time  `json:"due_at"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
	LentBy     string     `json:"lent_by"`
}

type LoanRequest struct {
	BookID   string `json:"book_id"`
	Borrower string `json:"borrower"`
	Contact  string `json:"contact"`
	Days     int    `json:"days"`
}

// LoanView is a loan with its overdue state evaluated at read time.
type LoanView struct {
	Loan
	Overdue     bool `json:"overdue"`
	DaysOverdue int  `json:"days_overdue"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

type UserUpdateRequest struct {
	Role   *string `json:"role,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

type User struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	Role        string    `json:"role"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserAccount is the persisted form of a user, including the bcrypt hash.
type UserAccount struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	DisplayName  string    `json:"display_name,omitempty"`
	Role         string    `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

func (u UserAccount) View() User {
	return User{
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		Active:      u.Active,
		CreatedAt:   u.CreatedAt,
	}
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// ClosingReport is the archived form of a shift's reconciliation.
type ClosingReport struct {
	ShiftID         string          `json:"shift_id"`
	Date            string          `json:"date"`
	ClosedAt        time.Time       `json:"closed_at"`
	ClosedBy        string          `json:"closed_by"`
	ExpectedBalance decimal.Decimal `json:"expected_balance"`
	ActualBalance   decimal.Decimal `json:"actual_balance"`
	Discrepancy     decimal.Decimal `json:"discrepancy"`
	Text            string          `json:"text"`
}
