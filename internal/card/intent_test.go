package card

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntentSlotDepthOne(t *testing.T) {
	slot := NewIntentSlot()
	assert.False(t, slot.Pending())

	slot.Set(WriteIntent{StudentIdentifier: "REG-1"})
	slot.Set(WriteIntent{StudentIdentifier: "REG-2"})
	assert.True(t, slot.Pending())

	// The newer intent replaced the older one.
	intent, ok := slot.Consume()
	require.True(t, ok)
	assert.Equal(t, "REG-2", intent.StudentIdentifier)
	assert.False(t, intent.IssuedAt.IsZero())

	// Consume cleared the slot.
	_, ok = slot.Consume()
	assert.False(t, ok)
	assert.False(t, slot.Pending())
}
