package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamClient manages websocket subscriptions to Binance.US streams.
type StreamClient struct {
	host string
}

func NewStreamClient(testnet bool) *StreamClient {
	host := "stream.binance.us:9443"
	if testnet {
		host = "stream.testnet.binance.vision:9443"
	}
	return &StreamClient{host: host}
}

// SubscribeBookTicker streams best bid/ask updates for a symbol. The
// returned stop function closes the connection and the channel; it is
// safe to call more than once.
func (s *StreamClient) SubscribeBookTicker(ctx context.Context, symbol string) (<-chan BookTicker, func(), error) {
	stream := fmt.Sprintf("%s@bookTicker", lowerSymbol(symbol))
	raw, stop, err := s.subscribe(ctx, stream)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan BookTicker, 100)
	go func() {
		defer close(out)
		for msg := range raw {
			bt, ok := parseBookTickerMessage(symbol, msg)
			if !ok {
				continue
			}
			select {
			case out <- bt:
			default:
				// Drop on backpressure; book tickers supersede each other.
			}
		}
	}()
	return out, stop, nil
}

// SubscribeUserData streams the account's execution reports using a
// listen key obtained from the signed REST API.
func (s *StreamClient) SubscribeUserData(ctx context.Context, listenKey string) (<-chan ExecutionReport, func(), error) {
	raw, stop, err := s.subscribe(ctx, listenKey)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan ExecutionReport, 100)
	go func() {
		defer close(out)
		for msg := range raw {
			rep, ok := parseExecutionReport(msg)
			if !ok {
				continue
			}
			select {
			case out <- rep:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, stop, nil
}

// subscribe dials a single-stream endpoint and pumps raw messages until
// the context is canceled or the connection drops.
func (s *StreamClient) subscribe(ctx context.Context, stream string) (<-chan []byte, func(), error) {
	u := url.URL{Scheme: "wss", Host: s.host, Path: "/ws/" + stream}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}

	out := make(chan []byte, 100)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			conn.Close()
		})
	}

	go func() {
		<-ctx.Done()
		stop()
	}()

	go func() {
		defer close(out)
		defer stop()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("websocket %s read error: %v", stream, err)
				}
				return
			}
			select {
			case out <- msg:
			default:
				// Drop on backpressure rather than stall the read loop.
			}
		}
	}()

	return out, stop, nil
}

func parseBookTickerMessage(symbol string, msg []byte) (BookTicker, bool) {
	var raw struct {
		Symbol string `json:"s"`
		Bid    string `json:"b"`
		BidQty string `json:"B"`
		Ask    string `json:"a"`
		AskQty string `json:"A"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil || raw.Symbol == "" {
		return BookTicker{}, false
	}
	return BookTicker{
		Symbol:   raw.Symbol,
		BidPrice: parseFloat(raw.Bid),
		BidQty:   parseFloat(raw.BidQty),
		AskPrice: parseFloat(raw.Ask),
		AskQty:   parseFloat(raw.AskQty),
		Time:     time.Now().UnixMilli(),
	}, true
}

func parseExecutionReport(msg []byte) (ExecutionReport, bool) {
	var raw struct {
		EventType     string `json:"e"`
		EventTime     int64  `json:"E"`
		Symbol        string `json:"s"`
		ClientOrderID string `json:"c"`
		Side          string `json:"S"`
		OrderType     string `json:"o"`
		ExecType      string `json:"x"`
		OrderStatus   string `json:"X"`
		OrderID       int64  `json:"i"`
		LastQty       string `json:"l"`
		CumQty        string `json:"z"`
		LastPrice     string `json:"L"`
		Commission    string `json:"n"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil || raw.EventType != "executionReport" {
		return ExecutionReport{}, false
	}
	return ExecutionReport{
		Symbol:        raw.Symbol,
		ClientOrderID: raw.ClientOrderID,
		Side:          raw.Side,
		OrderType:     raw.OrderType,
		ExecType:      raw.ExecType,
		OrderStatus:   raw.OrderStatus,
		OrderID:       raw.OrderID,
		LastQty:       parseFloat(raw.LastQty),
		CumQty:        parseFloat(raw.CumQty),
		LastPrice:     parseFloat(raw.LastPrice),
		Commission:    parseFloat(raw.Commission),
		EventTime:     raw.EventTime,
	}, true
}

func lowerSymbol(symbol string) string {
	b := []byte(symbol)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}
