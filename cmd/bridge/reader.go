package main

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ebfe/scard"

	"campuscard/internal/card"
	"campuscard/internal/logging"
	"campuscard/internal/relay"
)

// pollTimeout bounds each GetStatusChange wait so ctx cancellation is
// noticed promptly.
const pollTimeout = time.Second

// bridge owns the PC/SC loop and implements relay.ClientHandler so the
// server can arm write intents and query status.
type bridge struct {
	log     logging.Logger
	driver  *card.Driver
	tracker *card.TagTracker
	client  *relay.Client

	// readerFilter selects a reader by substring when several are attached.
	readerFilter string

	mu     sync.Mutex
	status relay.ReaderStatus
}

func newBridge(log logging.Logger, driver *card.Driver, readerFilter string) *bridge {
	return &bridge{
		log:          log.With("module", "bridge"),
		driver:       driver,
		tracker:      card.NewTagTracker(),
		readerFilter: readerFilter,
		status:       relay.ReaderStatus{State: relay.ReaderDisconnected, Timestamp: time.Now().UTC()},
	}
}

// OnRequestWrite arms the single-slot intent for the next presented card.
func (b *bridge) OnRequestWrite(intent card.WriteIntent) {
	b.driver.Intents().Set(intent)
}

// OnGetStatus returns the current reader status.
func (b *bridge) OnGetStatus() relay.ReaderStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *bridge) setStatus(ctx context.Context, state relay.ReaderState, reader, errMsg string) {
	status := relay.ReaderStatus{State: state, Reader: reader, Timestamp: time.Now().UTC(), Error: errMsg}
	b.mu.Lock()
	b.status = status
	b.mu.Unlock()
	if b.client != nil {
		b.client.PublishStatus(ctx, status)
	}
}

// run keeps a PC/SC session alive until ctx is cancelled. Reader loss or a
// context-level failure publishes an error status and re-establishes.
func (b *bridge) run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := b.session(ctx); err != nil && ctx.Err() == nil {
			b.log.Error(ctx, "pcsc session failed", "error", err)
			b.setStatus(ctx, relay.ReaderError, "", err.Error())
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
			}
		}
	}
}

func (b *bridge) session(ctx context.Context) error {
	sctx, err := scard.EstablishContext()
	if err != nil {
		return err
	}
	defer sctx.Release()

	reader, err := b.waitForReader(ctx, sctx)
	if err != nil || reader == "" {
		return err
	}

	b.log.Info(ctx, "reader attached", "reader", reader)
	b.setStatus(ctx, relay.ReaderConnected, reader, "")

	states := []scard.ReaderState{{Reader: reader, CurrentState: scard.StateUnaware}}
	for ctx.Err() == nil {
		if err := sctx.GetStatusChange(states, pollTimeout); err != nil {
			if err == scard.ErrTimeout {
				continue
			}
			b.setStatus(ctx, relay.ReaderDisconnected, reader, err.Error())
			return err
		}

		event := states[0].EventState
		switch {
		case event&scard.StatePresent != 0:
			b.handlePresence(ctx, sctx, reader)
		case event&scard.StateEmpty != 0:
			if _, removed := b.tracker.Observe(""); removed != "" {
				b.publishCardEvent(ctx, relay.EventCardRemoved, relay.CardEvent{
					UID: removed, Reader: reader, Timestamp: time.Now().UTC(),
				})
			}
		}
		states[0].CurrentState = states[0].EventState
	}
	return nil
}

// waitForReader polls until a matching reader is attached.
func (b *bridge) waitForReader(ctx context.Context, sctx *scard.Context) (string, error) {
	for ctx.Err() == nil {
		readers, err := sctx.ListReaders()
		if err == nil {
			for _, r := range readers {
				if b.readerFilter == "" || strings.Contains(r, b.readerFilter) {
					return r, nil
				}
			}
		}
		b.setStatus(ctx, relay.ReaderDisconnected, "", "no card reader attached")
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
		}
	}
	return "", ctx.Err()
}

// handlePresence connects to the presented card and runs the driver's
// handler chain once per physical tap.
func (b *bridge) handlePresence(ctx context.Context, sctx *scard.Context, reader string) {
	conn, err := sctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		b.log.Warn(ctx, "card connect failed", "error", err)
		return
	}
	defer func() { _ = conn.Disconnect(scard.LeaveCard) }()

	proto := card.NewProtocol(&scardTransport{card: conn, reader: reader})
	uid, err := proto.UID()
	if err != nil {
		b.log.Warn(ctx, "uid read failed", "error", err)
		return
	}

	appeared, replaced := b.tracker.Observe(uid)
	if replaced != "" {
		b.publishCardEvent(ctx, relay.EventCardRemoved, relay.CardEvent{
			UID: replaced, Reader: reader, Timestamp: time.Now().UTC(),
		})
	}
	if !appeared {
		return
	}

	res := b.driver.OnCardPresent(ctx, proto, uid)
	b.publishCardEvent(ctx, relay.EventCardPresent, relay.CardEvent{
		UID: uid, Reader: reader, Timestamp: time.Now().UTC(), Payload: res.Payload,
	})

	if res.Provision != nil {
		if env, err := relay.NewEnvelope(relay.EventWriteResult, relay.WriteResult{UID: uid, Result: *res.Provision}); err == nil {
			b.client.Publish(ctx, env)
		}
	}
}

func (b *bridge) publishCardEvent(ctx context.Context, typ relay.EventType, evt relay.CardEvent) {
	env, err := relay.NewEnvelope(typ, evt)
	if err != nil {
		return
	}
	b.client.Publish(ctx, env)
}
