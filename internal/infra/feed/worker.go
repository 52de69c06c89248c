package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"liquibot/internal/domain"
	"liquibot/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	maxRetries  = 10
	readTimeout = 60 * time.Second
)

// streamMessage is one frame from the node/indexer stream. Two message types
// matter: the reference price changed, or the trove set changed.
type streamMessage struct {
	Type  string `json:"type"` // "price_update" | "trove_set_changed"
	Price string `json:"price,omitempty"`
	Ts    int64  `json:"ts"`
}

// Worker maintains the websocket subscription to the node/indexer stream and
// dispatches push notifications to the registered callbacks. It reconnects
// with exponential backoff and survives read timeouts.
type Worker struct {
	wsURL     string
	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	cbMu       sync.RWMutex
	onPrice    func(domain.Price)
	onTroveSet func()
}

// NewWorker creates a feed worker for the given stream URL.
func NewWorker(wsURL string) *Worker {
	return &Worker{wsURL: wsURL}
}

// OnPriceUpdated registers the price-update callback. Must be called before
// Connect.
func (w *Worker) OnPriceUpdated(cb func(domain.Price)) {
	w.cbMu.Lock()
	defer w.cbMu.Unlock()
	w.onPrice = cb
}

// OnTroveSetChanged registers the trove-set-change callback. Must be called
// before Connect.
func (w *Worker) OnTroveSetChanged(cb func()) {
	w.cbMu.Lock()
	defer w.cbMu.Unlock()
	w.onTroveSet = cb
}

// Connect starts the connection loop in the background.
func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

// IsConnected reports whether the stream is currently up.
func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			slog.Warn("Feed connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		} else {
			retryCount = 0
			w.readLoop(ctx)
		}
	}
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := make(http.Header)

	conn, _, err := dialer.DialContext(ctx, w.wsURL, header)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()
	infra.GlobalMetrics.IncrementFeedConnections()

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return err
	}

	slog.Info("Feed connected", slog.String("url", w.wsURL))
	return nil
}

func (w *Worker) subscribe() error {
	msg := map[string]interface{}{
		"op":       "subscribe",
		"channels": []string{"price", "troves"},
	}
	b, _ := json.Marshal(msg)
	return w.threadSafeWrite(websocket.TextMessage, b)
}

func (w *Worker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *Worker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		if w.conn == nil {
			w.mu.RUnlock()
			return
		}
		w.conn.SetReadDeadline(time.Now().Add(readTimeout))
		w.mu.RUnlock()

		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

func (w *Worker) handleMessage(msg []byte) {
	var m streamMessage
	if json.Unmarshal(msg, &m) != nil {
		return
	}

	switch m.Type {
	case "price_update":
		price, err := decimal.NewFromString(m.Price)
		if err != nil {
			slog.Warn("Malformed price on feed", slog.String("raw", m.Price))
			return
		}
		w.cbMu.RLock()
		cb := w.onPrice
		w.cbMu.RUnlock()
		if cb != nil {
			cb(price)
		}
	case "trove_set_changed":
		w.cbMu.RLock()
		cb := w.onTroveSet
		w.cbMu.RUnlock()
		if cb != nil {
			cb()
		}
	}
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
		infra.GlobalMetrics.DecrementFeedConnections()
	}
	w.connected = false
}

// Disconnect stops the connection loop and closes the socket.
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}
