package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func echoBinding(name string) Binding {
	return Binding{
		Definition: Definition{Name: name, Parameters: map[string]any{"type": "object"}},
		Handler: func(ctx context.Context, input map[string]any) (string, error) {
			v, _ := input["value"].(string)
			return v, nil
		},
	}
}

func TestDispatch_Success(t *testing.T) {
	d := NewDispatcher(time.Second, nil, echoBinding("echo"))

	res := d.Dispatch(context.Background(), "echo", map[string]any{"value": "42"})
	require.False(t, res.IsError)
	require.Equal(t, "42", res.Content)
}

func TestDispatch_UnknownToolIsErrorResult(t *testing.T) {
	d := NewDispatcher(time.Second, nil, echoBinding("echo"))

	res := d.Dispatch(context.Background(), "nope", nil)
	require.True(t, res.IsError)
	require.Contains(t, res.Content, "nope")
}

func TestDispatch_HandlerErrorIsErrorResult(t *testing.T) {
	d := NewDispatcher(time.Second, nil, Binding{
		Definition: Definition{Name: "boom"},
		Handler: func(ctx context.Context, input map[string]any) (string, error) {
			return "", errors.New("kaput")
		},
	})

	res := d.Dispatch(context.Background(), "boom", nil)
	require.True(t, res.IsError)
	require.Contains(t, res.Content, "kaput")
}

func TestDispatch_TimeoutIsErrorResult(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	d := NewDispatcher(20*time.Millisecond, nil, Binding{
		Definition: Definition{Name: "slow"},
		Handler: func(ctx context.Context, input map[string]any) (string, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return "too late", nil
		},
	})

	start := time.Now()
	res := d.Dispatch(context.Background(), "slow", nil)
	require.True(t, res.IsError)
	require.Contains(t, res.Content, "slow")
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDefinitions_SortedAndComplete(t *testing.T) {
	d := NewDispatcher(time.Second, nil, echoBinding("zeta"), echoBinding("alpha"))

	defs := d.Definitions()
	require.Len(t, defs, 2)
	require.Equal(t, "alpha", defs[0].Name)
	require.Equal(t, "zeta", defs[1].Name)
}

func TestNumerologyBindings_SkipsNilHandlers(t *testing.T) {
	h := func(ctx context.Context, input map[string]any) (string, error) { return "", nil }
	bindings := NumerologyBindings(map[string]Handler{
		ToolLifePath:   h,
		ToolExpression: nil,
		"made_up":      h,
	})
	require.Len(t, bindings, 1)
	require.Equal(t, ToolLifePath, bindings[0].Definition.Name)

	defs := NumerologyDefinitions()
	for _, name := range []string{ToolLifePath, ToolExpression, ToolSoulUrge, ToolInterpretation} {
		def, ok := defs[name]
		require.True(t, ok, name)
		require.NotEmpty(t, def.Description)
		require.NotNil(t, def.Parameters["required"])
	}
}
