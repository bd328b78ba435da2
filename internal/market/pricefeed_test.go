package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeRegistersBooks(t *testing.T) {
	f := NewPriceFeed()
	defer f.Stop()

	f.Subscribe([]string{"tok-1", "tok-2", "tok-1"})

	assert.NotNil(t, f.GetBook("tok-1"))
	assert.NotNil(t, f.GetBook("tok-2"))
	assert.Len(t, f.subs, 2)
}

// Subscribe must return even when the feed believes it is connected and
// the subscribe frame cannot be written. A blocked Subscribe would hang
// every Price lookup behind it.
func TestSubscribeWhileConnectedReturns(t *testing.T) {
	f := NewPriceFeed()
	defer f.Stop()

	f.mu.Lock()
	f.isConnected = true
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.Subscribe([]string{"tok-live"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return")
	}

	// The book registers even though no connection exists to send on.
	require.NotNil(t, f.GetBook("tok-live"))

	// And the lock is free again for readers.
	_, err := f.Price(context.Background(), "tok-live")
	assert.Error(t, err)
}

func TestPriceUnknownTokenSubscribesAndErrors(t *testing.T) {
	f := NewPriceFeed()
	defer f.Stop()

	_, err := f.Price(context.Background(), "tok-new")
	assert.Error(t, err)
	assert.NotNil(t, f.GetBook("tok-new"))
}

func TestStopConcurrentWithSubscribe(t *testing.T) {
	f := NewPriceFeed()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Subscribe([]string{"tok-a", "tok-b"})
		}()
	}
	f.Stop()
	wg.Wait()

	assert.NotNil(t, f.GetBook("tok-a"))
}
