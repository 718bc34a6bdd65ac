// Package provision coordinates card personalisation between the admin UI
// and the bridge: it arms a write intent over the relay and, once the
// bridge reports a locked card, binds the card to the student and opens its
// zero-balance account.
package provision

import (
	"context"
	"fmt"

	"campuscard/internal/card"
	"campuscard/internal/dbx"
	"campuscard/internal/directory"
	"campuscard/internal/logging"
	"campuscard/internal/payment"
	"campuscard/internal/relay"
)

// Coordinator is the server side of the provisioning workflow.
type Coordinator struct {
	log      logging.Logger
	hub      *relay.Hub
	students *directory.Repository
	accounts *payment.Store
}

func NewCoordinator(log logging.Logger, hub *relay.Hub, students *directory.Repository, accounts *payment.Store) *Coordinator {
	return &Coordinator{
		log:      log.With("module", "provision"),
		hub:      hub,
		students: students,
		accounts: accounts,
	}
}

// Request arms the bridge with a write intent for the given student. The
// intent stays pending until the next physical card tap: there is no
// timeout, and an unrelated card presented meanwhile will consume it. That
// gap is inherited from the deployed workflow and surfaced to the admin UI.
func (c *Coordinator) Request(ctx context.Context, studentID string) (card.WriteIntent, error) {
	student, err := c.students.ByID(ctx, studentID)
	if err != nil {
		return card.WriteIntent{}, err
	}

	intent := card.WriteIntent{StudentIdentifier: student.RegisterNumber}
	env, err := relay.NewEnvelope(relay.EventRequestWrite, intent)
	if err != nil {
		return card.WriteIntent{}, err
	}
	if err := c.hub.ToBridge(ctx, env); err != nil {
		return card.WriteIntent{}, err
	}

	c.log.Info(ctx, "write intent requested", "student", student.RegisterNumber)
	return intent, nil
}

// HandleWriteResult reacts to the bridge's provisioning outcome. Locked
// creates the card binding; the other outcomes only reach the UIs through
// the relay broadcast.
func (c *Coordinator) HandleWriteResult(ctx context.Context, wr relay.WriteResult) error {
	switch wr.Result.Status {
	case card.StatusLocked:
		return c.bind(ctx, wr.UID, wr.Result.Student)
	case card.StatusAlreadyWritten:
		c.log.Warn(ctx, "card already written", "uid", wr.UID, "existing", wr.Result.Existing)
	case card.StatusError:
		c.log.Error(ctx, "provisioning error reported", "uid", wr.UID, "error", wr.Result.Error)
	}
	return nil
}

// bind records which student owns the card and opens its account. One
// transaction: an account must never exist without its binding.
func (c *Coordinator) bind(ctx context.Context, uid, registerNumber string) error {
	student, err := c.students.ByRegisterNumber(ctx, registerNumber)
	if err != nil {
		return fmt.Errorf("resolve provisioned student: %w", err)
	}

	err = dbx.WithTx(ctx, c.accounts.DB(), nil, func(ctx context.Context, tx dbx.DBTX) error {
		return c.accounts.CreateAccount(ctx, tx, uid, student.ID)
	})
	if err != nil {
		return fmt.Errorf("create card account: %w", err)
	}

	c.log.Info(ctx, "card bound", "uid", uid, "student", registerNumber)
	return nil
}
