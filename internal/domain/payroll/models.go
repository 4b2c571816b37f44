package payroll

import (
	"time"

	"github.com/shopspring/decimal"
)

type PayPeriod struct {
	ID          string    `json:"id"`
	CompanyID   string    `json:"companyId"`
	WarehouseID string    `json:"warehouseId,omitempty"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PeriodKey is the natural key of a pay period. An empty WarehouseID means
// the period spans the whole company.
type PeriodKey struct {
	CompanyID   string
	WarehouseID string
	StartDate   time.Time
	EndDate     time.Time
}

type DriverRate struct {
	ID                string              `json:"id"`
	DriverID          string              `json:"driverId"`
	BaseAmount        decimal.Decimal     `json:"baseAmount"`
	MinPayPerRoute    decimal.NullDecimal `json:"minPayPerRoute"`
	FailedStopPenalty decimal.Decimal     `json:"failedStopPenalty"`
	WeightBonus       decimal.Decimal     `json:"weightBonus"`
	NightBonus        decimal.Decimal     `json:"nightBonus"`
	EffectiveFrom     time.Time           `json:"effectiveFrom"`
	EffectiveTo       *time.Time          `json:"effectiveTo,omitempty"`
}

type PayRun struct {
	ID           string          `json:"id"`
	PeriodID     string          `json:"periodId"`
	DriverID     string          `json:"driverId"`
	GrossAmount  decimal.Decimal `json:"grossAmount"`
	Adjustments  decimal.Decimal `json:"adjustments"`
	NetAmount    decimal.Decimal `json:"netAmount"`
	Status       string          `json:"status"`
	CalculatedAt *time.Time      `json:"calculatedAt,omitempty"`
	CalculatedBy string          `json:"calculatedBy,omitempty"`
	WarningCount int             `json:"warningCount"`
	Period       *PayPeriod      `json:"period,omitempty"`
	Lines        []PayRunLine    `json:"lines"`
}

type PayRunLine struct {
	ID          string          `json:"id"`
	PayRunID    string          `json:"payRunId"`
	Position    int             `json:"position"`
	SourceType  SourceType      `json:"sourceType"`
	SourceID    *string         `json:"sourceId,omitempty"`
	Qty         decimal.Decimal `json:"qty"`
	Rate        decimal.Decimal `json:"rate"`
	Amount      decimal.Decimal `json:"amount"`
	Tags        string          `json:"tags"`
	Description string          `json:"description,omitempty"`
}

type PayrollAdjustment struct {
	ID        string          `json:"id"`
	PayRunID  string          `json:"payRunId"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	CreatedBy string          `json:"createdBy"`
	CreatedAt time.Time       `json:"createdAt"`
}

type PayrollConfig struct {
	ID                   string               `json:"id"`
	WarehouseID          string               `json:"warehouseId"`
	EnableWeightExtra    bool                 `json:"enableWeightExtra"`
	EnablePenalties      bool                 `json:"enablePenalties"`
	EnableBonuses        bool                 `json:"enableBonuses"`
	ZoneFilterEnabled    bool                 `json:"zoneFilterEnabled"`
	DefaultPenaltyAmount decimal.Decimal      `json:"defaultPenaltyAmount"`
	WeeklyPenaltyCap     decimal.NullDecimal  `json:"weeklyPenaltyCap"`
	WeightRules          []PayrollWeightRule  `json:"weightRules"`
	PenaltyRules         []PayrollPenaltyRule `json:"penaltyRules"`
	BonusRules           []PayrollBonusRule   `json:"bonusRules"`
}

type PayrollWeightRule struct {
	ID          string              `json:"id"`
	ConfigID    string              `json:"configId"`
	MinWeight   decimal.Decimal     `json:"minWeight"`
	MaxWeight   decimal.NullDecimal `json:"maxWeight"`
	ExtraAmount decimal.Decimal     `json:"extraAmount"`
	IsActive    bool                `json:"isActive"`
	Priority    int                 `json:"priority"`
}

// PayrollPenaltyRule and PayrollBonusRule are loaded with the config but
// not priced yet.
type PayrollPenaltyRule struct {
	ID       string          `json:"id"`
	ConfigID string          `json:"configId"`
	Code     string          `json:"code"`
	Amount   decimal.Decimal `json:"amount"`
	IsActive bool            `json:"isActive"`
}

type PayrollBonusRule struct {
	ID       string          `json:"id"`
	ConfigID string          `json:"configId"`
	Code     string          `json:"code"`
	Amount   decimal.Decimal `json:"amount"`
	IsActive bool            `json:"isActive"`
}

type PayrollFine struct {
	ID        string          `json:"id"`
	PackageID string          `json:"packageId"`
	RouteID   string          `json:"routeId"`
	Amount    decimal.Decimal `json:"amount"`
	Type      string          `json:"type"`
	Reason    string          `json:"reason"`
}

type Route struct {
	ID          string              `json:"id"`
	CompanyID   string              `json:"companyId"`
	DriverID    string              `json:"driverId"`
	WarehouseID string              `json:"warehouseId"`
	Date        time.Time           `json:"date"`
	Status      string              `json:"status"`
	Stops       int                 `json:"stops"`
	CNL         int                 `json:"cnl"`
	PriceRoute  decimal.NullDecimal `json:"priceRoute"`
	PaymentType PaymentType         `json:"paymentType"`
	Zone        *Zone               `json:"zone,omitempty"`
}

type Zone struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	PriceStop decimal.NullDecimal `json:"priceStop"`
}

type Package struct {
	ID      string              `json:"id"`
	RouteID string              `json:"routeId"`
	Weight  decimal.NullDecimal `json:"weight"`
}

// RouteQuery narrows the operational records read for one computation.
// CompanyID always applies. Empty DriverID matches every driver of the
// company; empty ZoneIDs disables zone filtering.
type RouteQuery struct {
	CompanyID   string
	DriverID    string
	WarehouseID string
	StartDate   time.Time
	EndDate     time.Time
	ZoneIDs     []string
}
