// Package payment implements the canteen point-of-sale flow: card accounts
// with a balance, an append-only transaction ledger, and the per-checkout
// state machine that consumes card events. All amounts are integer cents.
package payment

import (
	"errors"
	"time"
)

// AccountStatus gates whether a card may transact at all.
type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
	AccountBlocked  AccountStatus = "blocked"
)

// Account is the persisted card account. Balance mutates only through
// Debit and Recharge, each of which runs inside one DB transaction together
// with its ledger row.
type Account struct {
	CardUID      string        `json:"card_uid"`
	StudentID    string        `json:"student_id"`
	BalanceCents int64         `json:"balance_cents"`
	Status       AccountStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// EntryType distinguishes the two monetary operations.
type EntryType string

const (
	EntryRecharge EntryType = "recharge"
	EntryPurchase EntryType = "purchase"
)

// Method records how a purchase was settled.
type Method string

const (
	MethodCard Method = "card"
	MethodCash Method = "cash"
)

// LedgerEntry is immutable once written; it is the audit trail and the only
// source of truth for balance history.
type LedgerEntry struct {
	TransactionID      string    `json:"transaction_id"`
	StudentID          string    `json:"student_id,omitempty"`
	CardUID            string    `json:"card_uid,omitempty"`
	Type               EntryType `json:"type"`
	Status             string    `json:"status"`
	Method             Method    `json:"method"`
	AmountCents        int64     `json:"amount_cents"`
	BalanceBeforeCents int64     `json:"balance_before_cents"`
	BalanceAfterCents  int64     `json:"balance_after_cents"`
	Description        string    `json:"description,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

var (
	ErrCardNotFound      = errors.New("payment: card not registered")
	ErrCardInactive      = errors.New("payment: card is not active")
	ErrInsufficientFunds = errors.New("payment: insufficient funds")
	ErrCheckoutNotFound  = errors.New("payment: checkout not found")
	ErrInvalidAmount     = errors.New("payment: amount must be positive")
	ErrWrongState        = errors.New("payment: operation not valid in current state")
)

// ReplayBalance folds a card's ledger in timestamp order and returns the
// reconstructed balance. Cash entries do not move the balance. An entry
// whose before/after snapshot disagrees with the running balance is a
// corruption and reported as an error.
func ReplayBalance(entries []LedgerEntry) (int64, error) {
	var balance int64
	for _, e := range entries {
		if e.Method == MethodCash {
			continue
		}
		if e.BalanceBeforeCents != balance {
			return 0, errors.New("payment: ledger discontinuity at " + e.TransactionID)
		}
		switch e.Type {
		case EntryRecharge:
			balance += e.AmountCents
		case EntryPurchase:
			balance -= e.AmountCents
		}
		if e.BalanceAfterCents != balance {
			return 0, errors.New("payment: ledger snapshot mismatch at " + e.TransactionID)
		}
	}
	return balance, nil
}
