package relay

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuscard/internal/logging"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func mustEnvelope(t *testing.T, typ EventType, payload any) Envelope {
	t.Helper()
	env, err := NewEnvelope(typ, payload)
	require.NoError(t, err)
	return env
}

func drain(t *testing.T, s *Session) Envelope {
	t.Helper()
	select {
	case env := <-s.Outbox:
		return env
	case <-time.After(time.Second):
		t.Fatal("no envelope delivered")
		return Envelope{}
	}
}

func TestHubFanOutPreservesOrder(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(testLogger(), nil)
	bridge := hub.Attach(ctx, RoleBridge)
	c1 := hub.Attach(ctx, RoleClient)
	c2 := hub.Attach(ctx, RoleClient)

	present := func(uid string) Envelope {
		return mustEnvelope(t, EventCardPresent, CardEvent{UID: uid, Timestamp: time.Now()})
	}
	removed := func(uid string) Envelope {
		return mustEnvelope(t, EventCardRemoved, CardEvent{UID: uid, Timestamp: time.Now()})
	}

	hub.Inbound(ctx, bridge, present("A"))
	hub.Inbound(ctx, bridge, removed("A"))
	hub.Inbound(ctx, bridge, present("B"))

	for _, client := range []*Session{c1, c2} {
		var seen []EventType
		var uids []string
		for i := 0; i < 3; i++ {
			env := drain(t, client)
			var evt CardEvent
			require.NoError(t, env.Decode(&evt))
			seen = append(seen, env.Type)
			uids = append(uids, evt.UID)
		}
		assert.Equal(t, []EventType{EventCardPresent, EventCardRemoved, EventCardPresent}, seen)
		assert.Equal(t, []string{"A", "A", "B"}, uids)
	}
}

func TestHubGetStatusAnsweredFromCache(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(testLogger(), nil)
	bridge := hub.Attach(ctx, RoleBridge)

	status := ReaderStatus{State: ReaderConnected, Reader: "ACR122U", Timestamp: time.Now().UTC()}
	hub.Inbound(ctx, bridge, mustEnvelope(t, EventReaderStatus, status))

	client := hub.Attach(ctx, RoleClient)

	// Late joiner gets the cached status on attach.
	env := drain(t, client)
	require.Equal(t, EventReaderStatus, env.Type)
	var got ReaderStatus
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, ReaderConnected, got.State)
	assert.Equal(t, "ACR122U", got.Reader)

	// get-status is answered from the cache without a round trip.
	hub.Inbound(ctx, client, Envelope{Type: EventGetStatus})
	env = drain(t, client)
	assert.Equal(t, EventReaderStatus, env.Type)

	// The bridge never saw the query.
	select {
	case env := <-bridge.Outbox:
		t.Fatalf("unexpected envelope forwarded to bridge: %s", env.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubGetStatusForwardedWhenNothingCached(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(testLogger(), nil)
	bridge := hub.Attach(ctx, RoleBridge)
	client := hub.Attach(ctx, RoleClient)

	hub.Inbound(ctx, client, Envelope{Type: EventGetStatus})
	env := drain(t, bridge)
	assert.Equal(t, EventGetStatus, env.Type)
}

func TestHubRequestWriteRoutedToBridge(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(testLogger(), nil)
	bridge := hub.Attach(ctx, RoleBridge)
	client := hub.Attach(ctx, RoleClient)
	bystander := hub.Attach(ctx, RoleClient)

	hub.Inbound(ctx, client, mustEnvelope(t, EventRequestWrite, map[string]string{"student_identifier": "REG-7"}))

	env := drain(t, bridge)
	assert.Equal(t, EventRequestWrite, env.Type)

	// request-write is a command, not a broadcast.
	select {
	case env := <-bystander.Outbox:
		t.Fatalf("bystander received %s", env.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubNoReplayForLateJoiners(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(testLogger(), nil)
	bridge := hub.Attach(ctx, RoleBridge)

	hub.Inbound(ctx, bridge, mustEnvelope(t, EventCardPresent, CardEvent{UID: "A"}))

	late := hub.Attach(ctx, RoleClient)
	select {
	case env := <-late.Outbox:
		t.Fatalf("late joiner replayed %s", env.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDetachesSlowClient(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(testLogger(), nil)
	bridge := hub.Attach(ctx, RoleBridge)
	slow := hub.Attach(ctx, RoleClient)

	env := mustEnvelope(t, EventCardPresent, CardEvent{UID: "A"})
	for i := 0; i < sessionBuffer+1; i++ {
		hub.Inbound(ctx, bridge, env)
	}

	// The outbox was closed after overflowing; draining ends with a closed channel.
	count := 0
	for range slow.Outbox {
		count++
	}
	assert.Equal(t, sessionBuffer, count)
}
