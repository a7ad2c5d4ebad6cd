package node

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActionQueue_ConcurrentProducers(t *testing.T) {
	t.Parallel()

	var q actionQueue
	const producers, perProducer = 8, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.enqueue(func() {})
			}
		}()
	}

	ran := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		ran += q.drain(func(fn func()) { fn() })
		select {
		case <-done:
			ran += q.drain(func(fn func()) { fn() })
			assert.Equal(t, producers*perProducer, ran)
			return
		default:
		}
	}
}

func TestActionQueue_DrainRunsNestedActions(t *testing.T) {
	t.Parallel()

	var q actionQueue
	var order []int
	q.enqueue(func() {
		order = append(order, 1)
		q.enqueue(func() { order = append(order, 3) })
	})
	q.enqueue(func() { order = append(order, 2) })

	assert.Equal(t, 3, q.drain(func(fn func()) { fn() }))
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Zero(t, q.len())
}

func TestActionQueue_Close(t *testing.T) {
	t.Parallel()

	var q actionQueue
	assert.True(t, q.enqueue(func() {}))
	q.close()
	assert.False(t, q.enqueue(func() {}))
	assert.Zero(t, q.drain(func(fn func()) { fn() }))
}
