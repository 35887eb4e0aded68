package order

import (
	"context"
	"fmt"
	"log"
	"time"

	market "github.com/bschneid7/BinanceUSBot-sub004/pkg/market/binance"
)

// listenKeyKeepAlive is how often the listen key is refreshed; Binance
// expires idle keys after 60 minutes.
const listenKeyKeepAlive = 30 * time.Minute

// ListenKeyer manages user data stream listen keys (the spot client
// implements it).
type ListenKeyer interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
	CloseListenKey(ctx context.Context, listenKey string) error
}

// UserStream connects the exchange's user data stream to the executor
// so resting maker orders settle on real fills.
type UserStream struct {
	keys   ListenKeyer
	stream *market.StreamClient
	exec   *Executor
}

func NewUserStream(keys ListenKeyer, stream *market.StreamClient, exec *Executor) *UserStream {
	return &UserStream{keys: keys, stream: stream, exec: exec}
}

// Start opens the stream and spawns the keepalive and consumer
// goroutines. Both exit when ctx is canceled.
func (s *UserStream) Start(ctx context.Context) error {
	listenKey, err := s.keys.CreateListenKey(ctx)
	if err != nil {
		return fmt.Errorf("create listen key: %w", err)
	}

	reports, stop, err := s.stream.SubscribeUserData(ctx, listenKey)
	if err != nil {
		return fmt.Errorf("subscribe user data: %w", err)
	}
	log.Println("User data stream started")

	go func() {
		ticker := time.NewTicker(listenKeyKeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				stop()
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := s.keys.CloseListenKey(closeCtx, listenKey); err != nil {
					log.Printf("user stream: close listen key: %v", err)
				}
				cancel()
				return
			case <-ticker.C:
				if err := s.keys.KeepAliveListenKey(ctx, listenKey); err != nil {
					log.Printf("⚠️ user stream keepalive: %v", err)
				}
			}
		}
	}()

	go func() {
		for rep := range reports {
			s.exec.ApplyReport(ctx, rep)
		}
		log.Println("⚠️ user data stream closed; fills now depend on reconciliation")
	}()

	return nil
}
