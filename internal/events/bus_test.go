package events

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBus_FanOut(t *testing.T) {
	b := NewBus(zap.NewNop())
	a := b.Subscribe("a", 4)
	c := b.Subscribe("c", 4)

	pid := uuid.New()
	b.PublishBalance(BalanceChanged{ProductID: pid, Balance: 3})

	for _, s := range []*Subscription{a, c} {
		ev := <-s.C()
		require.Equal(t, KindBalanceChanged, ev.Kind)
		assert.Equal(t, pid, ev.Balance.ProductID)
		assert.Equal(t, int64(3), ev.Balance.Balance)
	}
}

func TestBus_FullQueueDropsWithoutBlocking(t *testing.T) {
	b := NewBus(zap.NewNop())
	slow := b.Subscribe("slow", 1)
	fast := b.Subscribe("fast", 8)

	for i := 0; i < 5; i++ {
		b.PublishBalance(BalanceChanged{Balance: int64(i)})
	}

	assert.Len(t, slow.C(), 1)
	assert.Len(t, fast.C(), 5)
	assert.Equal(t, int64(0), (<-slow.C()).Balance.Balance)
}

func TestBus_CloseEndsSubscriptions(t *testing.T) {
	b := NewBus(zap.NewNop())
	s := b.Subscribe("s", 2)
	b.Close()

	_, ok := <-s.C()
	assert.False(t, ok)

	b.PublishStatus(StatusChanged{})
	late := b.Subscribe("late", 1)
	_, ok = <-late.C()
	assert.False(t, ok)
}
