package invoiceflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func noopStep(ctx context.Context, payload map[string]any) Outcome {
	return Advance(nil)
}

func TestNewRegistry(t *testing.T) {
	registry, err := NewRegistry([]StepDefinition{
		{Name: "first", Func: noopStep},
		{Name: "second", Func: noopStep, Retryable: true, MaxAttempts: 3},
	})
	require.NoError(t, err)
	require.Equal(t, 2, registry.Len())
	require.Equal(t, []string{"first", "second"}, registry.StepNames())

	step, ok := registry.Step(1)
	require.True(t, ok)
	require.Equal(t, "second", step.Name)
	require.True(t, step.Retryable)

	_, ok = registry.Step(2)
	require.False(t, ok)
	_, ok = registry.Step(-1)
	require.False(t, ok)

	index, ok := registry.Index("second")
	require.True(t, ok)
	require.Equal(t, 1, index)
	_, ok = registry.Index("missing")
	require.False(t, ok)
}

func TestInvalidRegistries(t *testing.T) {
	t.Run("no steps", func(t *testing.T) {
		_, err := NewRegistry(nil)
		require.Error(t, err)
		require.Contains(t, err.Error(), "steps required")
	})

	t.Run("empty step name", func(t *testing.T) {
		_, err := NewRegistry([]StepDefinition{{Func: noopStep}})
		require.Error(t, err)
		require.Contains(t, err.Error(), "step name required")
	})

	t.Run("missing function", func(t *testing.T) {
		_, err := NewRegistry([]StepDefinition{{Name: "first"}})
		require.Error(t, err)
		require.Contains(t, err.Error(), "function required")
	})

	t.Run("duplicate names", func(t *testing.T) {
		_, err := NewRegistry([]StepDefinition{
			{Name: "first", Func: noopStep},
			{Name: "first", Func: noopStep},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "duplicate step name")
	})

	t.Run("retryable without attempts", func(t *testing.T) {
		_, err := NewRegistry([]StepDefinition{
			{Name: "first", Func: noopStep, Retryable: true},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "max attempts")
	})
}
