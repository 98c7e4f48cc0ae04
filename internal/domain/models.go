package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ShiftStatusActive = "active"
	ShiftStatusEnded  = "ended"
)

const (
	ProductKindFuel  = "fuel"
	ProductKindGoods = "goods"
)

const (
	AccountStatusActive   = "active"
	AccountStatusInactive = "inactive"
)

const (
	ReceiptWasooli = "wasooli"
	ReceiptOdhar   = "odhar"
)

const (
	BillCash  = "cash"
	BillOdhar = "odhar"
)

const (
	CashIn  = "cashIn"
	CashOut = "cashOut"
)

// Cashflow categories. Wasooli and odhar feed their own summary counters,
// everything else lands in totalCash.
const (
	CategorySales          = "sales"
	CategorySale           = "sale"
	CategorySaleReturn     = "sale_return"
	CategoryPurchase       = "purchase"
	CategoryPurchaseReturn = "purchase_return"
	CategoryBill           = "bill"
	CategoryWasooli        = "wasooli"
	CategoryOdhar          = "odhar"
)

type InvoiceKind string

const (
	InvoiceSale           InvoiceKind = "sale"
	InvoiceSaleReturn     InvoiceKind = "sale_return"
	InvoicePurchase       InvoiceKind = "purchase"
	InvoicePurchaseReturn InvoiceKind = "purchase_return"
)

// Stock movement kinds recorded in the movement log.
const (
	MovementPurchase       = "purchase"
	MovementSale           = "sale"
	MovementSaleReturn     = "sale_return"
	MovementPurchaseReturn = "purchase_return"
	MovementMeterSale      = "meter_sale"
	MovementReversal       = "reversal"
)

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

const GlobalSummaryID = "global"

type Actor struct {
	UID   string
	Roles []string
}

func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type Shift struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	StartedBy string     `json:"started_by"`
	EndedBy   string     `json:"ended_by,omitempty"`
}

type CalibrationPoint struct {
	Mm     decimal.Decimal `json:"mm"`
	Liters decimal.Decimal `json:"liters"`
}

type Tank struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	ProductID      string             `json:"product_id"`
	Capacity       decimal.Decimal    `json:"capacity"`
	AlertThreshold decimal.Decimal    `json:"alert_threshold"`
	OpeningStock   decimal.Decimal    `json:"opening_stock"`
	RemainingStock decimal.Decimal    `json:"remaining_stock"`
	Calibration    []CalibrationPoint `json:"calibration"`
	MovementSeq    int64              `json:"movement_seq"`
	CreatedAt      time.Time          `json:"created_at"`
}

// Product stock fields are only maintained for goods; fuel stock lives on tanks.
type Product struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Kind           string          `json:"kind"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	OpeningStock   decimal.Decimal `json:"opening_stock"`
	RemainingStock decimal.Decimal `json:"remaining_stock"`
	MovementSeq    int64           `json:"movement_seq"`
	CreatedAt      time.Time       `json:"created_at"`
}

type Nozzle struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	TankID         string          `json:"tank_id"`
	ProductID      string          `json:"product_id"`
	OpeningReading decimal.Decimal `json:"opening_reading"`
	LastReading    decimal.Decimal `json:"last_reading"`
	TotalSales     decimal.Decimal `json:"total_sales"`
	TotalVolume    decimal.Decimal `json:"total_volume"`
	ReadingSeq     int64           `json:"reading_seq"`
	CreatedAt      time.Time       `json:"created_at"`
}

type MeterReading struct {
	ID              string           `json:"id"`
	NozzleID        string           `json:"nozzle_id"`
	TankID          string           `json:"tank_id"`
	PreviousReading decimal.Decimal  `json:"previous_reading"`
	CurrentReading  decimal.Decimal  `json:"current_reading"`
	SalesVolume     decimal.Decimal  `json:"sales_volume"`
	PriceOverride   *decimal.Decimal `json:"price_override,omitempty"`
	EffectivePrice  decimal.Decimal  `json:"effective_price"`
	SalesAmount     decimal.Decimal  `json:"sales_amount"`
	Seq             int64            `json:"seq"`
	ShiftID         string           `json:"shift_id"`
	CashflowID      string           `json:"cashflow_id"`
	CreatedBy       string           `json:"created_by"`
	RecordedAt      time.Time        `json:"recorded_at"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type DipChartEntry struct {
	ID         string          `json:"id"`
	TankID     string          `json:"tank_id"`
	DipMm      decimal.Decimal `json:"dip_mm"`
	DipLiters  decimal.Decimal `json:"dip_liters"`
	BookStock  decimal.Decimal `json:"book_stock"`
	GainLoss   decimal.Decimal `json:"gain_loss"`
	Seq        int64           `json:"seq"`
	ShiftID    string          `json:"shift_id"`
	CreatedBy  string          `json:"created_by"`
	RecordedAt time.Time       `json:"recorded_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

// StockMovement is one append-only line of the tank/product movement log.
// Quantity is signed: positive adds stock.
type StockMovement struct {
	ID               string          `json:"id"`
	TargetCollection string          `json:"target_collection"`
	TargetID         string          `json:"target_id"`
	Seq              int64           `json:"seq"`
	Kind             string          `json:"kind"`
	Quantity         decimal.Decimal `json:"quantity"`
	StockAfter       decimal.Decimal `json:"stock_after"`
	SourceCollection string          `json:"source_collection"`
	SourceID         string          `json:"source_id"`
	ShiftID          string          `json:"shift_id"`
	CreatedAt        time.Time       `json:"created_at"`
}

type Invoice struct {
	ID                  string          `json:"id"`
	Kind                InvoiceKind     `json:"kind"`
	ProductID           string          `json:"product_id"`
	TankID              string          `json:"tank_id,omitempty"`
	Quantity            decimal.Decimal `json:"quantity"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	Amount              decimal.Decimal `json:"amount"`
	RemainingStockAfter decimal.Decimal `json:"remaining_stock_after"`
	ShiftID             string          `json:"shift_id"`
	CashflowID          string          `json:"cashflow_id"`
	CreatedBy           string          `json:"created_by"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

type Account struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Phone          string          `json:"phone,omitempty"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	CreditLimit    decimal.Decimal `json:"credit_limit"`
	Status         string          `json:"status"`
	ReceiptSeq     int64           `json:"receipt_seq"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Receipt amounts are positive magnitudes; the type carries the direction.
type Receipt struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	Type         string          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Seq          int64           `json:"seq"`
	BillID       string          `json:"bill_id,omitempty"`
	Note         string          `json:"note,omitempty"`
	ShiftID      string          `json:"shift_id"`
	CashflowID   string          `json:"cashflow_id"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (r Receipt) SignedAmount() decimal.Decimal {
	return SignedReceiptAmount(r.Type, r.Amount)
}

func SignedReceiptAmount(receiptType string, amount decimal.Decimal) decimal.Decimal {
	if receiptType == ReceiptOdhar {
		return amount.Neg()
	}
	return amount
}

type Bill struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	AccountID      string          `json:"account_id,omitempty"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	Discount       decimal.Decimal `json:"discount"`
	Amount         decimal.Decimal `json:"amount"`
	Note           string          `json:"note,omitempty"`
	ShiftID        string          `json:"shift_id"`
	DiscountID     string          `json:"discount_id,omitempty"`
	CashflowID     string          `json:"cashflow_id,omitempty"`
	ReceiptID      string          `json:"receipt_id,omitempty"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type Discount struct {
	ID        string          `json:"id"`
	BillID    string          `json:"bill_id"`
	Amount    decimal.Decimal `json:"amount"`
	ShiftID   string          `json:"shift_id"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type CashflowEntry struct {
	ID                  string          `json:"id"`
	Amount              decimal.Decimal `json:"amount"`
	Type                string          `json:"type"`
	Category            string          `json:"category"`
	ReferenceCollection string          `json:"reference_collection"`
	ReferenceID         string          `json:"reference_id"`
	ShiftID             string          `json:"shift_id"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

func (e CashflowEntry) Signed() decimal.Decimal {
	if e.Type == CashOut {
		return e.Amount.Neg()
	}
	return e.Amount
}

type GlobalSummary struct {
	ID           string          `json:"id"`
	TotalCash    decimal.Decimal `json:"total_cash"`
	TotalOdhar   decimal.Decimal `json:"total_odhar"`
	TotalWasooli decimal.Decimal `json:"total_wasooli"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// UserAccount is the persisted credential record behind the auth provider.
type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"password"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
