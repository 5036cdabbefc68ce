package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type ping struct{ n int }
type pong struct{}

func TestPublishSubscribe(t *testing.T) {
	Use(New())
	t.Cleanup(func() { Use(nil) })

	var a, b []int
	unsubA := Subscribe(func(_ context.Context, e ping) { a = append(a, e.n) })
	Subscribe(func(_ context.Context, e ping) { b = append(b, e.n) })
	Subscribe(func(_ context.Context, e pong) { t.Fatalf("pong handler called for ping") })

	Publish(context.Background(), ping{n: 1})
	unsubA()
	Publish(context.Background(), ping{n: 2})

	require.Equal(t, []int{1}, a)
	require.Equal(t, []int{1, 2}, b)
}

func TestPublishWithoutBus(t *testing.T) {
	Use(nil)
	require.False(t, Enabled())
	called := false
	unsub := Subscribe(func(context.Context, ping) { called = true })
	Publish(context.Background(), ping{})
	unsub()
	require.False(t, called)
}
