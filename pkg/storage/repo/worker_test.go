package repo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolSerializesPerKey(t *testing.T) {
	p := NewPool(4)
	defer p.Close()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		p.Submit("repo-a", func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	wg.Wait()

	require.Len(t, order, 20)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestPoolKeysIndependent(t *testing.T) {
	p := NewPool(4)
	defer p.Close()

	slow := make(chan struct{})
	p.Submit("repo-a", func() { <-slow })

	done := make(chan struct{})
	p.Submit("repo-b", func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task on repo-b blocked behind repo-a")
	}
	close(slow)
}

func TestPoolDo(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	err := p.Do(context.Background(), "k", func() error { return nil })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	blocked := make(chan struct{})
	p.Submit("k", func() { <-blocked })
	err = p.Do(ctx, "k", func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	close(blocked)
}
