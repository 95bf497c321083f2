package updates

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"

	"github.com/pders01/storyfeed/internal/debuglog"
)

const defaultRetryDelay = 5 * time.Second

// WebsocketSource reads update batches from a websocket endpoint, one batch
// per text message, and reconnects until its context ends.
type WebsocketSource struct {
	URL        string
	Header     http.Header
	Dialer     *websocket.Dialer
	RetryDelay time.Duration
	Hub        *Hub
}

func (s *WebsocketSource) Run(ctx context.Context) error {
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	log := debuglog.WithFields(map[string]interface{}{"source": "websocket", "url": s.URL})

	for {
		conn, _, err := dialer.DialContext(ctx, s.URL, s.Header)
		if err != nil {
			log.Warnf("dial failed: %v", err)
		} else {
			err = s.read(ctx, conn)
			if ctx.Err() == nil {
				log.Warnf("connection lost: %v", err)
			}
		}

		if !sleep(ctx, retryDelay(s.RetryDelay)) {
			return ctx.Err()
		}
	}
}

func (s *WebsocketSource) read(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		publish(s.Hub, data)
	}
}

// RedisSource subscribes to a redis pub/sub channel carrying update batches.
type RedisSource struct {
	Client     *redis.Client
	Channel    string
	RetryDelay time.Duration
	Hub        *Hub
}

func (s *RedisSource) Run(ctx context.Context) error {
	log := debuglog.WithFields(map[string]interface{}{"source": "redis", "channel": s.Channel})

	for {
		err := s.receive(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warnf("subscription lost: %v", err)
		if !sleep(ctx, retryDelay(s.RetryDelay)) {
			return ctx.Err()
		}
	}
}

func (s *RedisSource) receive(ctx context.Context) error {
	pubsub := s.Client.Subscribe(ctx, s.Channel)
	defer pubsub.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			pubsub.Close()
		case <-stop:
		}
	}()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		publish(s.Hub, []byte(msg.Payload))
	}
}

func publish(hub *Hub, data []byte) {
	batch, err := DecodeBatch(data)
	if err != nil {
		debuglog.Warnf("dropping malformed update message: %v", err)
		return
	}
	hub.Publish(batch)
}

func retryDelay(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultRetryDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ErrNoSource is returned when neither a websocket URL nor a redis address is
// configured.
var ErrNoSource = errors.New("no update source configured")
