package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TankSales struct {
	TankID   string          `json:"tank_id"`
	TankName string          `json:"tank_name,omitempty"`
	Volume   decimal.Decimal `json:"volume"`
	Amount   decimal.Decimal `json:"amount"`
	Readings int             `json:"readings"`
}

type ShiftSummary struct {
	ShiftID       string          `json:"shift_id"`
	Status        string          `json:"status"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       *time.Time      `json:"end_time,omitempty"`
	Wasooli       decimal.Decimal `json:"wasooli"`
	Odhar         decimal.Decimal `json:"odhar"`
	Discounts     decimal.Decimal `json:"discounts"`
	BillCount     int             `json:"bill_count"`
	CashBills     decimal.Decimal `json:"cash_bills"`
	OdharBills    decimal.Decimal `json:"odhar_bills"`
	FuelVolume    decimal.Decimal `json:"fuel_volume"`
	FuelAmount    decimal.Decimal `json:"fuel_amount"`
	SalesByTank   []TankSales     `json:"sales_by_tank"`
	CashIn        decimal.Decimal `json:"cash_in"`
	CashOut       decimal.Decimal `json:"cash_out"`
	NetCash       decimal.Decimal `json:"net_cash"`
	ReceiptCount  int             `json:"receipt_count"`
	ReadingCount  int             `json:"reading_count"`
	CashflowCount int             `json:"cashflow_count"`
}

type StockPosition struct {
	TankID            string          `json:"tank_id"`
	TankName          string          `json:"tank_name"`
	OpeningStock      decimal.Decimal `json:"opening_stock"`
	TheoreticalStock  decimal.Decimal `json:"theoretical_stock"`
	PhysicalStock     decimal.Decimal `json:"physical_stock"`
	CumulativeGain    decimal.Decimal `json:"cumulative_gain_loss"`
	Variance          decimal.Decimal `json:"variance"`
	VarianceFlag      bool            `json:"variance_flag"`
	LowStock          bool            `json:"low_stock"`
	OverCapacity      bool            `json:"over_capacity"`
	MovementsReplayed int             `json:"movements_replayed"`
}

type GainLossPoint struct {
	DipID      string          `json:"dip_id"`
	RecordedAt time.Time       `json:"recorded_at"`
	DipLiters  decimal.Decimal `json:"dip_liters"`
	BookStock  decimal.Decimal `json:"book_stock"`
	GainLoss   decimal.Decimal `json:"gain_loss"`
	Cumulative decimal.Decimal `json:"cumulative"`
}

type CategoryTotal struct {
	Category string          `json:"category"`
	Entries  int             `json:"entries"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type Adjustment struct {
	TankID     string          `json:"tank_id"`
	DipID      string          `json:"dip_id"`
	Liters     decimal.Decimal `json:"liters"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// ReportData is the finalized structure handed to export consumers.
type ReportData struct {
	ShiftID     string          `json:"shift_id"`
	Categories  []CategoryTotal `json:"categories"`
	GrandTotal  decimal.Decimal `json:"grand_total"`
	Adjustments []Adjustment    `json:"adjustments"`
	Summary     ShiftSummary    `json:"summary"`
	GeneratedAt time.Time       `json:"generated_at"`
}

type AuditMismatch struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Field      string          `json:"field"`
	Cached     decimal.Decimal `json:"cached"`
	Replayed   decimal.Decimal `json:"replayed"`
}

type AuditReport struct {
	AccountsChecked int             `json:"accounts_checked"`
	TanksChecked    int             `json:"tanks_checked"`
	ProductsChecked int             `json:"products_checked"`
	Mismatches      []AuditMismatch `json:"mismatches"`
	CheckedAt       time.Time       `json:"checked_at"`
}

func (r AuditReport) OK() bool {
	return len(r.Mismatches) == 0
}
