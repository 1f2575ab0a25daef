package deribit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	tradeChanBuffer = 256
	reconnectWait   = 5 * time.Second
)

// subscribeMsg es el request JSON-RPC de suscripción.
type subscribeMsg struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  subscribeArgs `json:"params"`
}

type subscribeArgs struct {
	Channels []string `json:"channels"`
}

// wsNotification es el sobre de las notificaciones de suscripción.
type wsNotification struct {
	Method string `json:"method"`
	Params struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	} `json:"params"`
}

// wsTrade es un trade del canal trades.{instrument}.raw.
type wsTrade struct {
	TradeID   string  `json:"trade_id"`
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
	Amount    float64 `json:"amount"`
	Direction string  `json:"direction"`
}

// StreamTrades se suscribe al canal de trades del instrumento y devuelve un
// canal de ticks. La goroutine interna reconecta sola hasta que el contexto
// se cancele; el canal se cierra al terminar.
func (c *Client) StreamTrades(ctx context.Context, symbol string) (<-chan domain.TradeTick, error) {
	out := make(chan domain.TradeTick, tradeChanBuffer)
	channel := fmt.Sprintf("trades.%s.raw", symbol)

	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			if err := c.streamOnce(ctx, symbol, channel, out); err != nil && ctx.Err() == nil {
				slog.Warn("trade stream dropped, reconnecting", "symbol", symbol, "err", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectWait):
			}
		}
	}()
	return out, nil
}

// streamOnce mantiene UNA conexión: dial, subscribe, loop de lectura.
// Devuelve cuando la conexión muere; el caller decide reconectar.
func (c *Client) streamOnce(ctx context.Context, symbol, channel string, out chan<- domain.TradeTick) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Cierre cooperativo: si el contexto cae, cerrar el socket desbloquea
	// el ReadMessage.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	sub := subscribeMsg{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "public/subscribe",
		Params:  subscribeArgs{Channels: []string{channel}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	slog.Info("trade stream connected", "symbol", symbol, "channel", channel)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var note wsNotification
		if err := json.Unmarshal(message, &note); err != nil {
			slog.Debug("unparseable ws message", "err", err)
			continue
		}
		if note.Method != "subscription" || note.Params.Channel != channel {
			continue
		}

		var trades []wsTrade
		if err := json.Unmarshal(note.Params.Data, &trades); err != nil {
			slog.Debug("unparseable trade payload", "err", err)
			continue
		}
		for _, t := range trades {
			tick := domain.TradeTick{
				Symbol: symbol,
				Ts:     t.Timestamp,
				Price:  t.Price,
				Amount: t.Amount,
				Side:   t.Direction,
			}
			select {
			case out <- tick:
			default:
				// Consumidor lento: soltar el tick, las velas son la
				// fuente de verdad.
			}
		}
	}
}
