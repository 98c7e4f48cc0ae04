package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type OperatorCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type OperatorUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	Name         string          `json:"name" validate:"required,max=120"`
	Kind         string          `json:"kind" validate:"required,oneof=fuel goods"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	OpeningStock decimal.Decimal `json:"opening_stock"`
}

type TankCreateRequest struct {
	Name           string             `json:"name" validate:"required,max=120"`
	ProductID      string             `json:"product_id" validate:"required"`
	Capacity       decimal.Decimal    `json:"capacity"`
	AlertThreshold decimal.Decimal    `json:"alert_threshold"`
	OpeningStock   decimal.Decimal    `json:"opening_stock"`
	Calibration    []CalibrationPoint `json:"calibration" validate:"omitempty,min=2"`
}

type NozzleCreateRequest struct {
	Name           string          `json:"name" validate:"required,max=120"`
	TankID         string          `json:"tank_id" validate:"required"`
	ProductID      string          `json:"product_id"`
	OpeningReading decimal.Decimal `json:"opening_reading"`
}

type AccountCreateRequest struct {
	Name           string          `json:"name" validate:"required,max=120"`
	Phone          string          `json:"phone" validate:"omitempty,max=32"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	CreditLimit    decimal.Decimal `json:"credit_limit"`
}

type AccountStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active inactive"`
}

// ReadingRequest records a new meter reading. The previous reading always
// comes from the nozzle; edits use ReadingEditRequest.
type ReadingRequest struct {
	NozzleID       string           `json:"nozzle_id" validate:"required"`
	TankID         string           `json:"tank_id"`
	CurrentReading decimal.Decimal  `json:"current_reading"`
	PriceOverride  *decimal.Decimal `json:"price_override,omitempty"`
	RecordedAt     *time.Time       `json:"recorded_at,omitempty"`
}

type ReadingEditRequest struct {
	TankID         string           `json:"tank_id"`
	CurrentReading decimal.Decimal  `json:"current_reading"`
	PriceOverride  *decimal.Decimal `json:"price_override,omitempty"`
}

type DipRequest struct {
	DipMm      decimal.Decimal `json:"dip_mm"`
	RecordedAt *time.Time      `json:"recorded_at,omitempty"`
}

type InvoiceRequest struct {
	ProductID string          `json:"product_id" validate:"required"`
	TankID    string          `json:"tank_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type ReceiptRequest struct {
	Type   string          `json:"type" validate:"required,oneof=wasooli odhar"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note" validate:"max=240"`
}

type BillRequest struct {
	Type           string          `json:"type" validate:"required,oneof=cash odhar"`
	AccountID      string          `json:"account_id" validate:"required_if=Type odhar"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	Discount       decimal.Decimal `json:"discount"`
	Note           string          `json:"note" validate:"max=240"`
}

type StatementLine struct {
	ReceiptID      string          `json:"receipt_id"`
	Seq            int64           `json:"seq"`
	Type           string          `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	RunningBalance decimal.Decimal `json:"running_balance"`
	ShiftID        string          `json:"shift_id"`
	CreatedAt      time.Time       `json:"created_at"`
}

type Statement struct {
	AccountID      string          `json:"account_id"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Lines          []StatementLine `json:"lines"`
}
