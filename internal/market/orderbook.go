package market

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Level represents a single price level in the orderbook
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Orderbook represents the in-memory state of one outcome token
type Orderbook struct {
	TokenID     string
	Bids        []Level // Sorted High to Low
	Asks        []Level // Sorted Low to High
	LastUpdated time.Time
	mu          sync.RWMutex
}

func NewOrderbook(tokenID string) *Orderbook {
	return &Orderbook{
		TokenID: tokenID,
		Bids:    make([]Level, 0),
		Asks:    make([]Level, 0),
	}
}

// Snapshot replaces the entire book state
func (ob *Orderbook) Snapshot(bids, asks []Level) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.Bids = bids
	ob.Asks = asks
	ob.LastUpdated = time.Now()
}

// Update processes a price/size update; size 0 removes the level
func (ob *Orderbook) Update(side string, priceStr, sizeStr string) error {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return err
	}
	size, err := decimal.NewFromString(sizeStr)
	if err != nil {
		return err
	}

	if side == "BUY" {
		ob.updateLevel(&ob.Bids, price, size, true)
	} else {
		ob.updateLevel(&ob.Asks, price, size, false)
	}
	ob.LastUpdated = time.Now()
	return nil
}

func (ob *Orderbook) updateLevel(levels *[]Level, price, size decimal.Decimal, descending bool) {
	// Linear scan. Polymarket books are sparse; slices are cache-friendly
	// and fast enough at this depth.
	idx := -1
	for i, l := range *levels {
		if l.Price.Equal(price) {
			idx = i
			break
		}
	}

	if size.IsZero() {
		if idx != -1 {
			*levels = append((*levels)[:idx], (*levels)[idx+1:]...)
		}
		return
	}

	if idx != -1 {
		(*levels)[idx].Size = size
	} else {
		*levels = append(*levels, Level{Price: price, Size: size})
		if descending {
			sort.Slice(*levels, func(i, j int) bool {
				return (*levels)[i].Price.GreaterThan((*levels)[j].Price)
			})
		} else {
			sort.Slice(*levels, func(i, j int) bool {
				return (*levels)[i].Price.LessThan((*levels)[j].Price)
			})
		}
	}
}

// GetCopy returns a safe copy of the current state (thread-safe read)
func (ob *Orderbook) GetCopy() (bids, asks []Level) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	bids = make([]Level, len(ob.Bids))
	copy(bids, ob.Bids)
	asks = make([]Level, len(ob.Asks))
	copy(asks, ob.Asks)
	return
}

// Mid returns the midpoint price, falling back to the single-sided best
// quote when one side of the book is empty. ok is false for an empty book
// or a book older than maxAge.
func (ob *Orderbook) Mid(maxAge time.Duration) (price decimal.Decimal, ok bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	if maxAge > 0 && time.Since(ob.LastUpdated) > maxAge {
		return decimal.Zero, false
	}

	switch {
	case len(ob.Bids) > 0 && len(ob.Asks) > 0:
		two := decimal.NewFromInt(2)
		return ob.Bids[0].Price.Add(ob.Asks[0].Price).Div(two), true
	case len(ob.Asks) > 0:
		return ob.Asks[0].Price, true
	case len(ob.Bids) > 0:
		return ob.Bids[0].Price, true
	}
	return decimal.Zero, false
}
