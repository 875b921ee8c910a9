package util

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// pending reports whether ae holds an unconsumed notification, consuming it.
func pending[T any](ae *AtomicEvent[T]) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, ok := ae.Wait(ctx)
	return ok
}

func TestNewAtomicEvent(t *testing.T) {
	ae := NewAtomicEvent[any]()
	assert.NotNil(t, ae, "NewAtomicEvent should not return nil")
	assert.NotNil(t, ae.notify, "notify channel should be initialized")
	assert.False(t, pending(ae))
}

func TestSendAndValue(t *testing.T) {
	aeInt := NewAtomicEvent[int]()
	aeInt.Send(123)
	assert.Equal(t, 123, aeInt.Value(), "Value should be 123")

	type sample struct {
		Word uint16
		V    float64
	}
	s := sample{Word: 0x1CE4, V: 3.3}
	aeStruct := NewAtomicEvent[sample]()
	aeStruct.Send(s)
	assert.Equal(t, s, aeStruct.Value(), "Value should be the sample")
}

func TestNotification(t *testing.T) {
	ae := NewAtomicEvent[string]()

	ae.Send("event1")
	assert.True(t, pending(ae), "should have received a notification")
	assert.False(t, pending(ae), "notification must be consumed")

	// Several sends, a single notification
	ae.Send("event2")
	ae.Send("event3")
	assert.True(t, pending(ae), "should have received a notification")
	assert.False(t, pending(ae), "sends must coalesce")

	assert.Equal(t, "event3", ae.Value(), "Value should be the last event sent")
}

func TestWait(t *testing.T) {
	ae := NewAtomicEvent[int]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		ae.Send(7)
	}()
	v, ok := ae.Wait(context.Background())
	assert.True(t, ok)
	assert.Equal(t, 7, v)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v, ok = ae.Wait(ctx)
	assert.False(t, ok)
	assert.Zero(t, v)
}

func TestConcurrency(t *testing.T) {
	ae := NewAtomicEvent[int]()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		for i := range 1000 {
			ae.Send(i)
		}
		cancel()
	}()

	lastRead := -1
	var readerWg sync.WaitGroup
	readerWg.Add(1)
	go func() {
		defer readerWg.Done()
		for {
			val, ok := ae.Wait(ctx)
			if !ok {
				return
			}
			if val < lastRead {
				t.Errorf("read a stale value: got %d, last was %d", val, lastRead)
			}
			lastRead = val
		}
	}()

	readerWg.Wait()

	assert.Equal(t, 999, ae.Value(), "Final value should be 999")
}
