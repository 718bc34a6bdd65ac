package card

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuscard/internal/logging"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestDriver() *Driver {
	return NewDriver(testLogger(), NewIntentSlot(), testKeyA, testKeyB)
}

func TestOnCardPresentReadsProvisionedCard(t *testing.T) {
	fc := newFakeCard()
	p := NewProtocol(fc)
	require.Equal(t, StatusLocked, p.Provision("REG-2024-0042", testKeyA, testKeyB).Status)

	d := newTestDriver()
	res := d.OnCardPresent(context.Background(), p, "04A1B2C3")

	require.NotNil(t, res.Payload)
	assert.Equal(t, "REG-2024-0042", *res.Payload)
	assert.Nil(t, res.Provision)
	assert.Equal(t, fc.Name(), res.Reader)
}

func TestOnCardPresentUnreadableCard(t *testing.T) {
	fc := newFakeCard()
	fc.failRead = true
	d := newTestDriver()

	res := d.OnCardPresent(context.Background(), NewProtocol(fc), "04A1B2C3")
	assert.Nil(t, res.Payload)
}

func TestOnCardPresentConsumesIntent(t *testing.T) {
	fc := newFakeCard()
	d := newTestDriver()
	d.Intents().Set(WriteIntent{StudentIdentifier: "REG-7"})

	res := d.OnCardPresent(context.Background(), NewProtocol(fc), "04A1B2C3")

	require.NotNil(t, res.Provision)
	assert.Equal(t, StatusLocked, res.Provision.Status)
	assert.False(t, d.Intents().Pending(), "intent must be spent after one presentation")

	// Next tap has nothing pending and only performs the read.
	res = d.OnCardPresent(context.Background(), NewProtocol(fc), "04A1B2C3")
	assert.Nil(t, res.Provision)
	require.NotNil(t, res.Payload)
	assert.Equal(t, "REG-7", *res.Payload)
}

func TestOnCardPresentIntentSpentOnFailureToo(t *testing.T) {
	fc := newFakeCard()
	fc.failWrite = true
	d := newTestDriver()
	d.Intents().Set(WriteIntent{StudentIdentifier: "REG-7"})

	res := d.OnCardPresent(context.Background(), NewProtocol(fc), "04A1B2C3")
	require.NotNil(t, res.Provision)
	assert.Equal(t, StatusError, res.Provision.Status)
	assert.False(t, d.Intents().Pending())
}
