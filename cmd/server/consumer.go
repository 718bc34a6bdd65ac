package main

import (
	"context"

	"campuscard/internal/attendance"
	"campuscard/internal/logging"
	"campuscard/internal/metrics"
	"campuscard/internal/payment"
	"campuscard/internal/provision"
	"campuscard/internal/relay"
)

// runConsumers feeds bridge events to the attendance and payment engines
// through an in-process relay session. The outcomes are broadcast back to
// the web clients over the same hub.
func runConsumers(ctx context.Context, logger logging.Logger, hub *relay.Hub,
	attSvc *attendance.Service, engine *payment.Engine, provisioner *provision.Coordinator) {

	logger = logger.With("module", "consumer")

	dispatch := func(ctx context.Context, env relay.Envelope) {
		switch env.Type {
		case relay.EventCardPresent:
			var evt relay.CardEvent
			if err := env.Decode(&evt); err != nil {
				logger.Warn(ctx, "undecodable card event", "error", err)
				return
			}
			metrics.CardEvents.WithLabelValues("present").Inc()
			handlePresent(ctx, hub, attSvc, engine, evt)

		case relay.EventCardRemoved:
			metrics.CardEvents.WithLabelValues("removed").Inc()

		case relay.EventWriteResult:
			var wr relay.WriteResult
			if err := env.Decode(&wr); err != nil {
				logger.Warn(ctx, "undecodable write result", "error", err)
				return
			}
			metrics.ProvisionResults.WithLabelValues(string(wr.Result.Status)).Inc()
			if err := provisioner.HandleWriteResult(ctx, wr); err != nil {
				logger.Error(ctx, "write result handling failed", "uid", wr.UID, "error", err)
			}
		}
	}

	go consumerLoop(ctx, logger, hub, dispatch)
}

// consumerLoop keeps the in-process session attached for the lifetime of the
// server. The session is subject to the hub's slow-consumer detach like any
// websocket client; re-attaching turns an outbox overflow into dropped
// events instead of a dead pipeline.
func consumerLoop(ctx context.Context, logger logging.Logger, hub *relay.Hub,
	dispatch func(context.Context, relay.Envelope)) {

	for ctx.Err() == nil {
		session := hub.Attach(ctx, relay.RoleClient)
	drain:
		for {
			select {
			case env, ok := <-session.Outbox:
				if !ok {
					break drain
				}
				dispatch(ctx, env)
			case <-ctx.Done():
				hub.Detach(session)
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		logger.Warn(ctx, "consumer session detached, re-attaching")
	}
}

// handlePresent runs both consumers for one tap. Which one reacts depends
// on what is active: attendance needs a running session, payment a checkout
// awaiting a card; both can be live at once on different portals.
func handlePresent(ctx context.Context, hub *relay.Hub,
	attSvc *attendance.Service, engine *payment.Engine, evt relay.CardEvent) {

	for _, res := range attSvc.HandleCard(ctx, evt.Payload) {
		metrics.AttendanceSwipes.WithLabelValues(string(res.Outcome)).Inc()
		if env, err := relay.NewEnvelope(relay.EventAttendanceUpdate, res); err == nil {
			hub.Broadcast(ctx, env)
		}
	}

	for _, update := range engine.HandleCard(ctx, evt.UID) {
		metrics.PaymentUpdates.WithLabelValues(string(update.State)).Inc()
		if env, err := relay.NewEnvelope(relay.EventPaymentUpdate, update); err == nil {
			hub.Broadcast(ctx, env)
		}
	}
}
