package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/GoPolymarket/polypilot/internal/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	WSURL           = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	ReconnBaseDelay = 1 * time.Second
	ReconnMaxDelay  = 30 * time.Second
	PingPeriod      = 15 * time.Second // Keep-alive interval

	// Books older than this are not trusted as a pricing reference.
	BookMaxAge = 30 * time.Second
)

// PriceFeed maintains live orderbooks over the CLOB websocket and serves
// as the reference-price collaborator for the metrics engine and the mock
// exchange client.
type PriceFeed struct {
	conn        *websocket.Conn
	mu          sync.RWMutex
	books       map[string]*Orderbook
	subs        []string // TokenIDs we want to subscribe to
	ctx         context.Context
	cancel      context.CancelFunc
	isConnected bool
}

func NewPriceFeed() *PriceFeed {
	ctx, cancel := context.WithCancel(context.Background())
	return &PriceFeed{
		books:  make(map[string]*Orderbook),
		subs:   make([]string, 0),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the connection loop in a background goroutine
func (f *PriceFeed) Start() {
	go f.runLoop()
}

// Stop closes the feed
func (f *PriceFeed) Stop() {
	f.cancel()
	f.mu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.mu.Unlock()
}

// Subscribe adds tokenIDs to the subscription list and updates the
// connection if active. The subscribe frame is sent after the lock is
// released; sendSubscribe takes it again for the write.
func (f *PriceFeed) Subscribe(tokenIDs []string) {
	f.mu.Lock()
	added := make([]string, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		found := false
		for _, existing := range f.subs {
			if existing == id {
				found = true
				break
			}
		}
		if !found {
			f.subs = append(f.subs, id)
			f.books[id] = NewOrderbook(id)
			added = append(added, id)
		}
	}
	connected := f.isConnected
	f.mu.Unlock()

	if len(added) > 0 && connected {
		f.sendSubscribe(added)
	}
}

func (f *PriceFeed) GetBook(tokenID string) *Orderbook {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.books[tokenID]
}

// Price returns the current reference (mid) price for a token. The error
// is transient: callers retry via the job runner rather than guessing.
func (f *PriceFeed) Price(ctx context.Context, tokenID string) (float64, error) {
	book := f.GetBook(tokenID)
	if book == nil {
		f.Subscribe([]string{tokenID})
		return 0, fmt.Errorf("no book for token %s yet", tokenID)
	}
	mid, ok := book.Mid(BookMaxAge)
	if !ok {
		return 0, fmt.Errorf("book for token %s empty or stale", tokenID)
	}
	return mid.InexactFloat64(), nil
}

func (f *PriceFeed) runLoop() {
	log := logger.Component("pricefeed")
	delay := ReconnBaseDelay

	for {
		select {
		case <-f.ctx.Done():
			return
		default:
		}

		if err := f.connect(); err != nil {
			log.Error("connection failed", "error", err, "retry_in", delay)
			time.Sleep(delay)
			delay *= 2
			if delay > ReconnMaxDelay {
				delay = ReconnMaxDelay
			}
			continue
		}

		delay = ReconnBaseDelay
		f.mu.Lock()
		f.isConnected = true
		f.mu.Unlock()

		// Resubscribe to all
		f.mu.RLock()
		allSubs := f.subs
		f.mu.RUnlock()
		if len(allSubs) > 0 {
			if err := f.sendSubscribe(allSubs); err != nil {
				log.Error("failed to resubscribe", "error", err)
				f.closeConn()
				continue
			}
		}

		f.readLoop()

		f.mu.Lock()
		f.isConnected = false
		f.mu.Unlock()
	}
}

func (f *PriceFeed) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(WSURL, nil)
	if err != nil {
		return err
	}

	// Zombie check: if we receive nothing within PingPeriod + buffer,
	// assume the connection is dead.
	readTimeout := PingPeriod + 10*time.Second
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	go func() {
		ticker := time.NewTicker(PingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-f.ctx.Done():
				return
			case <-ticker.C:
				f.mu.Lock()
				if !f.isConnected || f.conn == nil {
					f.mu.Unlock()
					return
				}
				err := f.conn.WriteMessage(websocket.PingMessage, []byte{})
				f.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	return nil
}

type wsMessage struct {
	EventType string          `json:"event_type"` // "book" or "price_change"
	Market    string          `json:"market"`     // TokenID (asset_id)
	Bids      []priceLevelRaw `json:"bids"`
	Asks      []priceLevelRaw `json:"asks"`
	Hash      string          `json:"hash"` // present on snapshots
}

type priceLevelRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func (f *PriceFeed) readLoop() {
	log := logger.Component("pricefeed")

	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()
	if conn == nil {
		return
	}
	defer conn.Close()

	readTimeout := PingPeriod + 10*time.Second

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Error("read error", "error", err)
			return
		}

		// Polymarket sends an array of messages
		var msgs []wsMessage
		if err := json.Unmarshal(message, &msgs); err != nil {
			var single wsMessage
			if err2 := json.Unmarshal(message, &single); err2 == nil {
				msgs = []wsMessage{single}
			} else {
				// control / keep-alive frame
				continue
			}
		}

		for _, m := range msgs {
			if m.EventType == "book" && m.Market != "" {
				f.processBookMessage(m)
			}
		}
	}
}

func (f *PriceFeed) processBookMessage(msg wsMessage) {
	f.mu.RLock()
	book, exists := f.books[msg.Market]
	f.mu.RUnlock()

	if !exists {
		return
	}

	for _, b := range msg.Bids {
		book.Update("BUY", b.Price, b.Size)
	}
	for _, a := range msg.Asks {
		book.Update("SELL", a.Price, a.Size)
	}
}

func (f *PriceFeed) closeConn() {
	f.mu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.mu.Unlock()
}

func (f *PriceFeed) sendSubscribe(tokenIDs []string) error {
	msg := map[string]interface{}{
		"type":         "subscribe",
		"assets_ids":   tokenIDs,
		"channel_name": "book",
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("no connection")
	}
	return f.conn.WriteJSON(msg)
}
