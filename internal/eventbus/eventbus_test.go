package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ping struct{ N int }
type pong struct{}

func TestBus_DispatchesByType(t *testing.T) {
	b := New()
	var pings []int
	var pongs int
	On(b, func(_ context.Context, p ping) { pings = append(pings, p.N) })
	On(b, func(context.Context, pong) { pongs++ })

	Emit(context.Background(), b, ping{N: 1})
	Emit(context.Background(), b, pong{})
	Emit(context.Background(), b, ping{N: 2})

	assert.Equal(t, []int{1, 2}, pings)
	assert.Equal(t, 1, pongs)
}

func TestBus_UnsubscribeRemovesOnlyThatHandler(t *testing.T) {
	b := New()
	var got []string
	offA := On(b, func(context.Context, ping) { got = append(got, "a") })
	On(b, func(context.Context, ping) { got = append(got, "b") })

	offA()
	offA()
	Emit(context.Background(), b, ping{})
	assert.Equal(t, []string{"b"}, got)
}

func TestBus_UnsubscribeLastHandler(t *testing.T) {
	b := New()
	calls := 0
	off := On(b, func(context.Context, ping) { calls++ })
	off()
	Emit(context.Background(), b, ping{})
	assert.Zero(t, calls)
	assert.Empty(t, b.handlers)
}

func TestGlobal(t *testing.T) {
	t.Cleanup(func() { Use(nil) })

	Use(nil)
	noop := Subscribe(func(context.Context, ping) { t.Fatal("no bus is installed") })
	Publish(context.Background(), ping{})
	noop()

	Use(New())
	var n int
	off := Subscribe(func(_ context.Context, p ping) { n += p.N })
	Publish(context.Background(), ping{N: 3})
	off()
	Publish(context.Background(), ping{N: 4})
	require.Equal(t, 3, n)
}
