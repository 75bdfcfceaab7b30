package actor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestState_JSON(t *testing.T) {
	type Data struct {
		Value int `json:"value"`
	}
	var changes int
	s := NewState(
		t.Context(),
		&Data{Value: 42},
		func(d *Data) { changes++ },
	)
	inc := func(d *Data) { d.Value++ }

	go func() {
		for i := 0; i < 10; i++ {
			_, _ = json.Marshal(s)
		}
	}()

	require.True(t, s.Process(inc, inc, inc))

	data, err := json.Marshal(s)
	require.NoError(t, err)
	require.Equal(t, `{"value":45}`, string(data))

	v, ok := Read(s, func(d *Data) int { return d.Value })
	require.True(t, ok)
	require.Equal(t, 45, v)

	n, _ := Read(s, func(*Data) int { return changes })
	require.Equal(t, 1, n)
}

func TestState_Stopped(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	s := NewState(ctx, new(int), nil)
	cancel()

	require.False(t, s.Process(func(v *int) { *v++ }))
	_, ok := Read(s, func(v *int) int { return *v })
	require.False(t, ok)
}
