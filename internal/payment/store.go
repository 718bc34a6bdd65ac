package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"campuscard/internal/dbx"
)

// Store persists accounts and the ledger. Debit and Recharge are the only
// balance mutations in the system and both go through one transaction so a
// crash cannot leave a balance change without its ledger row or vice versa.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// AccountByUID loads a card account.
func (s *Store) AccountByUID(ctx context.Context, uid string) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `
		SELECT card_uid, student_id, balance_cents, status, created_at, updated_at
		FROM card_accounts WHERE card_uid = $1
	`, uid), uid)
}

// CreateAccount registers a freshly provisioned card with a zero balance.
// Runs on the given handle so provisioning can bundle it with the student
// binding in one transaction.
func (s *Store) CreateAccount(ctx context.Context, db dbx.DBTX, uid, studentID string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO card_accounts (card_uid, student_id, balance_cents, status)
		VALUES ($1, $2, 0, 'active')
		ON CONFLICT (card_uid) DO NOTHING
	`, uid, studentID)
	return err
}

// DB exposes the handle for callers composing wider transactions.
func (s *Store) DB() *sql.DB { return s.db }

// Debit atomically charges amount against the card and appends the
// Purchase ledger row. The balance is re-read under a row lock inside the
// transaction, so the engine's earlier check cannot go stale between taps.
// A balance below amount rolls everything back with ErrInsufficientFunds;
// the resulting balance is never negative.
func (s *Store) Debit(ctx context.Context, uid string, amountCents int64, description string) (*LedgerEntry, error) {
	return s.apply(ctx, uid, EntryPurchase, amountCents, description)
}

// Recharge atomically tops the card up and appends the Recharge ledger row.
func (s *Store) Recharge(ctx context.Context, uid string, amountCents int64, description string) (*LedgerEntry, error) {
	return s.apply(ctx, uid, EntryRecharge, amountCents, description)
}

func (s *Store) apply(ctx context.Context, uid string, typ EntryType, amountCents int64, description string) (*LedgerEntry, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}

	var entry *LedgerEntry
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		account, err := scanAccount(tx.QueryRowContext(ctx, `
			SELECT card_uid, student_id, balance_cents, status, created_at, updated_at
			FROM card_accounts WHERE card_uid = $1
			FOR UPDATE
		`, uid), uid)
		if err != nil {
			return err
		}
		if account.Status != AccountActive {
			return fmt.Errorf("%w: status %s", ErrCardInactive, account.Status)
		}

		before := account.BalanceCents
		after := before
		switch typ {
		case EntryPurchase:
			if before < amountCents {
				return fmt.Errorf("%w: balance %d, needed %d", ErrInsufficientFunds, before, amountCents)
			}
			after = before - amountCents
		case EntryRecharge:
			after = before + amountCents
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE card_accounts SET balance_cents = $2, updated_at = NOW()
			WHERE card_uid = $1
		`, uid, after); err != nil {
			return err
		}

		entry = &LedgerEntry{
			TransactionID:      uuid.NewString(),
			StudentID:          account.StudentID,
			CardUID:            uid,
			Type:               typ,
			Status:             "completed",
			Method:             MethodCard,
			AmountCents:        amountCents,
			BalanceBeforeCents: before,
			BalanceAfterCents:  after,
			Description:        description,
		}
		return insertEntry(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// RecordManual appends a cash Purchase row; the card balance is untouched.
// The before/after snapshot repeats the current balance (zero when the sale
// had no card at all) so replay stays consistent.
func (s *Store) RecordManual(ctx context.Context, uid, studentID string, amountCents int64, description string) (*LedgerEntry, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}

	var balance int64
	if uid != "" {
		account, err := s.AccountByUID(ctx, uid)
		if err == nil {
			balance = account.BalanceCents
			studentID = account.StudentID
		}
	}

	entry := &LedgerEntry{
		TransactionID:      uuid.NewString(),
		StudentID:          studentID,
		CardUID:            uid,
		Type:               EntryPurchase,
		Status:             "completed",
		Method:             MethodCash,
		AmountCents:        amountCents,
		BalanceBeforeCents: balance,
		BalanceAfterCents:  balance,
		Description:        description,
	}
	if err := insertEntry(ctx, s.db, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// LedgerByCard returns a card's ledger oldest first, ready for replay.
func (s *Store) LedgerByCard(ctx context.Context, uid string) ([]LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, student_id, card_uid, type, status, method,
		       amount_cents, balance_before_cents, balance_after_cents, description, created_at
		FROM transactions WHERE card_uid = $1
		ORDER BY created_at
	`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.TransactionID, &e.StudentID, &e.CardUID, &e.Type, &e.Status, &e.Method,
			&e.AmountCents, &e.BalanceBeforeCents, &e.BalanceAfterCents, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func insertEntry(ctx context.Context, db dbx.DBTX, e *LedgerEntry) error {
	row := db.QueryRowContext(ctx, `
		INSERT INTO transactions (transaction_id, student_id, card_uid, type, status, method,
			amount_cents, balance_before_cents, balance_after_cents, description)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at
	`, e.TransactionID, e.StudentID, e.CardUID, e.Type, e.Status, e.Method,
		e.AmountCents, e.BalanceBeforeCents, e.BalanceAfterCents, e.Description)
	return row.Scan(&e.CreatedAt)
}

func scanAccount(row *sql.Row, uid string) (*Account, error) {
	var a Account
	if err := row.Scan(&a.CardUID, &a.StudentID, &a.BalanceCents, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrCardNotFound, uid)
		}
		return nil, err
	}
	return &a, nil
}
