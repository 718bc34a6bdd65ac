package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"campuscard/internal/logging"
)

// CheckoutState is the per-attempt lifecycle. Card events only matter in
// StateAwaitingCard; a tap during StateAuthorizing is dropped so the same
// card cannot be debited twice for one checkout.
type CheckoutState string

const (
	StateAwaitingCard         CheckoutState = "awaiting-card"
	StateResolving            CheckoutState = "resolving"
	StateAuthorizing          CheckoutState = "authorizing"
	StateCompleted            CheckoutState = "completed"
	StateInsufficientFunds    CheckoutState = "insufficient-funds"
	StateManualPaymentPending CheckoutState = "manual-payment-pending"
	StateFailed               CheckoutState = "failed"
)

// CartItem is one line of the cart snapshot.
type CartItem struct {
	MenuItemID     string `json:"menu_item_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// Checkout is one payment attempt. The cart total is fixed when the
// checkout is begun; later cart edits never reach an in-flight attempt.
type Checkout struct {
	ID         string     `json:"id"`
	Items      []CartItem `json:"items"`
	TotalCents int64      `json:"total_cents"`

	mu            sync.Mutex
	seq           uint64
	state         CheckoutState
	cardUID       string
	deficitCents  int64
	transactionID string
	lastError     string
}

// Update is the UI-facing snapshot of a checkout, broadcast after every
// transition.
type Update struct {
	CheckoutID    string        `json:"checkout_id"`
	State         CheckoutState `json:"state"`
	TotalCents    int64         `json:"total_cents"`
	CardUID       string        `json:"card_uid,omitempty"`
	DeficitCents  int64         `json:"deficit_cents,omitempty"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Error         string        `json:"error,omitempty"`
	Warning       string        `json:"warning,omitempty"`
}

func (c *Checkout) snapshotLocked() Update {
	return Update{
		CheckoutID:    c.ID,
		State:         c.state,
		TotalCents:    c.TotalCents,
		CardUID:       c.cardUID,
		DeficitCents:  c.deficitCents,
		TransactionID: c.transactionID,
		Error:         c.lastError,
	}
}

// Snapshot returns the current checkout state for status polling.
func (c *Checkout) Snapshot() Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Engine drives checkouts against the Store. One engine serves every POS
// terminal; each Begin opens an independent attempt.
type Engine struct {
	log   logging.Logger
	store *Store

	mu        sync.Mutex
	seq       uint64
	checkouts map[string]*Checkout
}

func NewEngine(log logging.Logger, store *Store) *Engine {
	return &Engine{
		log:       log.With("module", "payment"),
		store:     store,
		checkouts: make(map[string]*Checkout),
	}
}

// Begin snapshots the cart and starts waiting for a card.
func (e *Engine) Begin(ctx context.Context, id string, items []CartItem) (*Checkout, error) {
	var total int64
	for _, item := range items {
		if item.Quantity <= 0 || item.UnitPriceCents < 0 {
			return nil, ErrInvalidAmount
		}
		total += int64(item.Quantity) * item.UnitPriceCents
	}
	if total <= 0 {
		return nil, ErrInvalidAmount
	}

	co := &Checkout{
		ID:         id,
		Items:      append([]CartItem(nil), items...),
		TotalCents: total,
		state:      StateAwaitingCard,
	}

	e.mu.Lock()
	e.seq++
	co.seq = e.seq
	e.checkouts[id] = co
	e.mu.Unlock()

	e.log.Info(ctx, "checkout begun", "checkout", id, "total_cents", total)
	return co, nil
}

// Get returns a known checkout.
func (e *Engine) Get(id string) (*Checkout, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	co, ok := e.checkouts[id]
	if !ok {
		return nil, ErrCheckoutNotFound
	}
	return co, nil
}

// HandleCard binds one card-present event to a single checkout: the most
// recently begun one still waiting for a card. One physical tap settles at
// most one cart; an abandoned earlier checkout never sees another card.
// A failed attempt counts as waiting, matching "staff must re-present the
// card".
func (e *Engine) HandleCard(ctx context.Context, uid string) []Update {
	co := e.armedCheckout()
	if co == nil {
		return nil
	}
	if update, ok := e.authorize(ctx, co, uid); ok {
		return []Update{update}
	}
	return nil
}

// armedCheckout picks the checkout the next tap belongs to. The per-checkout
// state peek takes co.mu under e.mu; authorize and ManualPayment take co.mu
// alone, never e.mu inside it, so the ordering is consistent.
func (e *Engine) armedCheckout() *Checkout {
	e.mu.Lock()
	defer e.mu.Unlock()

	var armed *Checkout
	for _, co := range e.checkouts {
		co.mu.Lock()
		waiting := co.state == StateAwaitingCard || co.state == StateFailed
		co.mu.Unlock()
		if waiting && (armed == nil || co.seq > armed.seq) {
			armed = co
		}
	}
	return armed
}

// authorize runs one card tap through a checkout. The checkout mutex is
// held for the whole resolve/debit sequence: a second tap for the same
// attempt blocks here and then sees a terminal or in-flight state.
func (e *Engine) authorize(ctx context.Context, co *Checkout, uid string) (Update, bool) {
	co.mu.Lock()
	defer co.mu.Unlock()

	switch co.state {
	case StateAwaitingCard, StateFailed:
		// proceed
	default:
		return Update{}, false
	}

	co.state = StateResolving
	co.cardUID = uid
	co.lastError = ""

	account, err := e.store.AccountByUID(ctx, uid)
	if err != nil {
		return e.failLocked(ctx, co, err), true
	}
	if account.Status != AccountActive {
		return e.failLocked(ctx, co, fmt.Errorf("%w: status %s", ErrCardInactive, account.Status)), true
	}

	if account.BalanceCents < co.TotalCents {
		co.state = StateInsufficientFunds
		co.deficitCents = co.TotalCents - account.BalanceCents
		e.log.Info(ctx, "insufficient funds", "checkout", co.ID, "uid", uid,
			"balance_cents", account.BalanceCents, "deficit_cents", co.deficitCents)
		return co.snapshotLocked(), true
	}

	co.state = StateAuthorizing
	entry, err := e.store.Debit(ctx, uid, co.TotalCents, "canteen purchase "+co.ID)
	if err != nil {
		// The row lock re-checks the balance, so a concurrent recharge
		// reversal can still surface insufficient funds here.
		if errors.Is(err, ErrInsufficientFunds) {
			co.state = StateInsufficientFunds
			co.deficitCents = co.TotalCents // exact deficit unknown after the race
			return co.snapshotLocked(), true
		}
		return e.failLocked(ctx, co, err), true
	}

	co.state = StateCompleted
	co.transactionID = entry.TransactionID
	e.log.Info(ctx, "payment completed", "checkout", co.ID, "transaction", entry.TransactionID,
		"amount_cents", entry.AmountCents, "balance_after_cents", entry.BalanceAfterCents)
	return co.snapshotLocked(), true
}

// ManualPayment settles an insufficient-funds checkout in cash. Amount
// defaults to the full total; an amount below the deficit is allowed with a
// warning, not blocked.
func (e *Engine) ManualPayment(ctx context.Context, checkoutID string, amountCents int64) (Update, error) {
	co, err := e.Get(checkoutID)
	if err != nil {
		return Update{}, err
	}

	co.mu.Lock()
	defer co.mu.Unlock()

	if co.state != StateInsufficientFunds && co.state != StateManualPaymentPending {
		return Update{}, fmt.Errorf("%w: %s", ErrWrongState, co.state)
	}
	co.state = StateManualPaymentPending

	if amountCents == 0 {
		amountCents = co.TotalCents
	}
	if amountCents < 0 {
		return Update{}, ErrInvalidAmount
	}

	var warning string
	if amountCents < co.deficitCents {
		warning = fmt.Sprintf("amount %d is below the outstanding deficit %d", amountCents, co.deficitCents)
	}

	entry, err := e.store.RecordManual(ctx, co.cardUID, "", amountCents, "manual payment "+co.ID)
	if err != nil {
		update := e.failLocked(ctx, co, err)
		return update, nil
	}

	co.state = StateCompleted
	co.transactionID = entry.TransactionID
	e.log.Info(ctx, "manual payment recorded", "checkout", co.ID, "transaction", entry.TransactionID,
		"amount_cents", amountCents)
	update := co.snapshotLocked()
	update.Warning = warning
	return update, nil
}

// Close removes a terminal-state checkout from the engine.
func (e *Engine) Close(checkoutID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.checkouts, checkoutID)
}

func (e *Engine) failLocked(ctx context.Context, co *Checkout, err error) Update {
	co.state = StateFailed
	co.lastError = err.Error()
	e.log.Error(ctx, "checkout failed", "checkout", co.ID, "error", err)
	return co.snapshotLocked()
}
