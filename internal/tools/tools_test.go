package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistry_InvokeUnknownTool(t *testing.T) {
	r := NewRegistry(time.Second)
	res := r.Invoke(context.Background(), "nope", nil)
	require.True(t, res.IsError)
}

func TestRegistry_ArithmeticTool(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register(&ArithmeticTool{})
	res := r.Invoke(context.Background(), "arithmetic", map[string]any{"a": 2.0, "b": 3.0, "op": "+"})
	require.False(t, res.IsError)
	require.Equal(t, "5", res.Text)
}

func TestRegistry_ArithmeticValidationFailure(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register(&ArithmeticTool{})
	res := r.Invoke(context.Background(), "arithmetic", map[string]any{"a": 2.0})
	require.True(t, res.IsError)
}

func TestRegistry_Timeout(t *testing.T) {
	r := NewRegistry(30 * time.Millisecond)
	r.Register(&DatetimeTool{Now: func() time.Time {
		time.Sleep(300 * time.Millisecond)
		return time.Now()
	}})
	res := r.Invoke(context.Background(), "get_datetime", nil)
	require.True(t, res.IsError)
	require.Contains(t, res.Text, "timeout")
}

func TestDatetimeTool_FixedClock(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tool := &DatetimeTool{Now: func() time.Time { return fixed }}
	out, err := tool.Invoke(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "2026-01-02T03:04:05Z", out)
}
