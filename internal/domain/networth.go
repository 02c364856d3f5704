package domain

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// NetWorthPoint is the user's total balance across all owned accounts as of
// the end of Date. Computed on read, never persisted.
type NetWorthPoint struct {
	Date   civil.Date      `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

// CalculationStatus tells the caller how far the figures behind a history can
// be trusted.
type CalculationStatus string

const (
	// CalculationStatusNotCalculated means no running balance exists yet.
	CalculationStatusNotCalculated CalculationStatus = "not_calculated"
	// CalculationStatusCalculated means every transaction has a running balance.
	CalculationStatusCalculated CalculationStatus = "calculated"
	// CalculationStatusPartial means some accounts have transactions that were
	// imported but not yet run through the calculator.
	CalculationStatusPartial CalculationStatus = "partial"
)

// NetWorthHistory is the staircase series returned for one user.
type NetWorthHistory struct {
	UserID              string            `json:"user_id"`
	Points              []NetWorthPoint   `json:"points"`
	Status              CalculationStatus `json:"status"`
	LastCalculated      *civil.Date       `json:"last_calculated,omitempty"`
	PendingAccounts     []string          `json:"pending_accounts,omitempty"`
	CalculatingAccounts []string          `json:"calculating_accounts,omitempty"`
}
