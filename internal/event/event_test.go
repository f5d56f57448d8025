package event

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeString(t *testing.T) {
	tests := []struct {
		want string
		typ  Type
	}{
		{want: "TransferStarted", typ: TransferStarted},
		{want: "TransferSucceeded", typ: TransferSucceeded},
		{want: "TransferFailed", typ: TransferFailed},
		{want: "InventoryRefreshed", typ: InventoryRefreshed},
		{want: "RefreshFailed", typ: RefreshFailed},
		{want: "NoDestination", typ: NoDestination},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.typ.String())
		})
	}
}

func TestTypeStringUnknown(t *testing.T) {
	assert.Equal(t, "Unknown", Type(999).String())
	assert.Equal(t, "Unknown", Type(0).String())
	assert.Equal(t, "Unknown", Type(-1).String())
}

func TestEventZeroValue(t *testing.T) {
	var e Event
	assert.Equal(t, Type(0), e.Type)
	assert.True(t, e.Timestamp.IsZero())
	assert.Empty(t, e.Source)
	assert.Zero(t, e.TaskID)
	require.NoError(t, e.Error)
}

func TestEventFields(t *testing.T) {
	now := time.Now()
	e := Event{
		Type:      TransferFailed,
		Timestamp: now,
		TaskID:    4,
		Source:    "/staging/a.plot",
		Dest:      "/farm/d1",
		BusID:     "usb2",
		Error:     errors.New("exit status 23"),
	}
	assert.Equal(t, TransferFailed, e.Type)
	assert.Equal(t, now, e.Timestamp)
	assert.Equal(t, "usb2", e.BusID)
	assert.EqualError(t, e.Error, "exit status 23")
}
