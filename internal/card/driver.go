package card

import (
	"context"
	"fmt"

	"campuscard/internal/logging"
)

// PresentResult is everything one card presentation produced: the badge read
// (payload nil when the sector could not be authenticated or read) and, when
// a write intent was pending, the provisioning outcome.
type PresentResult struct {
	UID       string
	Reader    string
	Payload   *string
	Provision *ProvisionResult
}

// Driver reacts to card presentations. Two independent handlers run on every
// present event in a fixed order: the best-effort badge read, then the
// provisioning pass when an intent is pending. Each is isolated so a panic
// or protocol failure in one never stops the other or kills the event loop.
type Driver struct {
	log     logging.Logger
	intents *IntentSlot
	keyA    []byte
	keyB    []byte
}

func NewDriver(log logging.Logger, intents *IntentSlot, keyA, keyB []byte) *Driver {
	return &Driver{
		log:     log.With("module", "card_driver"),
		intents: intents,
		keyA:    keyA,
		keyB:    keyB,
	}
}

// Intents exposes the pending-write slot so the relay side can set intents.
func (d *Driver) Intents() *IntentSlot { return d.intents }

// OnCardPresent runs the handler chain for one presented card.
func (d *Driver) OnCardPresent(ctx context.Context, p *Protocol, uid string) PresentResult {
	res := PresentResult{UID: uid, Reader: p.ReaderName()}

	d.isolated(ctx, "badge_read", func() {
		res.Payload = d.readBadge(ctx, p, uid)
	})

	if d.intents.Pending() {
		d.isolated(ctx, "provision", func() {
			res.Provision = d.provision(ctx, p, uid)
		})
	}

	return res
}

// readBadge authenticates the data sector and decodes its payload. The
// issuing key is tried first (personalised cards), then the factory key
// (blanks). Any failure yields a nil payload, never an error upstream.
func (d *Driver) readBadge(ctx context.Context, p *Protocol, uid string) *string {
	var lastErr error
	for _, key := range [][]byte{d.keyA, FactoryKey} {
		if err := p.Authenticate(DataBlock, key); err != nil {
			lastErr = err
			continue
		}
		block, err := p.ReadBlock(DataBlock)
		if err != nil {
			lastErr = err
			break
		}
		payload := DecodePayload(block)
		return &payload
	}
	d.log.Warn(ctx, "badge read failed", "uid", uid, "error", fmt.Sprint(lastErr))
	return nil
}

// provision consumes the pending intent and runs write-then-lock. The slot
// is cleared before the protocol work starts, so the intent is spent even
// when the attempt errors out.
func (d *Driver) provision(ctx context.Context, p *Protocol, uid string) *ProvisionResult {
	intent, ok := d.intents.Consume()
	if !ok {
		return nil
	}
	result := p.Provision(intent.StudentIdentifier, d.keyA, d.keyB)
	switch result.Status {
	case StatusLocked:
		d.log.Info(ctx, "card provisioned", "uid", uid, "student", intent.StudentIdentifier)
	case StatusAlreadyWritten:
		d.log.Warn(ctx, "card already provisioned", "uid", uid, "existing", result.Existing)
	default:
		d.log.Error(ctx, "provisioning failed", "uid", uid, "error", result.Error)
	}
	return &result
}

// isolated runs fn and converts a panic into a logged error. The reader has
// to keep working for the next tap no matter what one handler did.
func (d *Driver) isolated(ctx context.Context, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error(ctx, "card handler panicked", "handler", name, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
