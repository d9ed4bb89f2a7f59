package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"CandleSync/internal/domain/models"
	domrepo "CandleSync/internal/domain/repository"
	applogger "CandleSync/pkg/logger"
)

// Stream implements a TickStream over the Binance trade WebSocket.
type Stream struct {
	websocketURL   string
	instruments    []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	l              *applogger.Logger

	conn      *websocket.Conn
	connected bool
}

func NewStream(websocketURL string, instruments []string, reconnectDelay, pingInterval time.Duration, l *applogger.Logger) domrepo.TickStream {
	return &Stream{
		websocketURL:   strings.TrimRight(websocketURL, "/"),
		instruments:    instruments,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		l:              l,
	}
}

func streamName(instrument string) string {
	return strings.ToLower(strings.ReplaceAll(instrument, "/", "")) + "@trade"
}

func (s *Stream) Connect(ctx context.Context) error {
	streams := make([]string, 0, len(s.instruments))
	for _, ins := range s.instruments {
		streams = append(streams, streamName(ins))
	}
	u := fmt.Sprintf("%s/stream?streams=%s", s.websocketURL, strings.Join(streams, "/"))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("binance stream connect: %w: %w", models.ErrSourceUnavailable, err)
	}
	s.conn = conn
	s.connected = true
	s.l.Info("binance stream connected", applogger.Int("streams", len(streams)))
	return nil
}

// Subscribe is a no-op: streams are named in the connection URL.
func (s *Stream) Subscribe(ctx context.Context) error {
	if s.conn == nil || !s.connected {
		return fmt.Errorf("binance stream not connected")
	}
	return nil
}

type wsTrade struct {
	Symbol   string `json:"s"`
	Price    string `json:"p"`
	Quantity string `json:"q"`
	TradeMs  int64  `json:"T"`
}

type wsFrame struct {
	Stream string  `json:"stream"`
	Data   wsTrade `json:"data"`
}

// Read streams ticks and errors. A read error ends both channels; the
// caller decides whether to Reconnect.
func (s *Stream) Read(ctx context.Context) (<-chan *models.Tick, <-chan error) {
	ticks := make(chan *models.Tick, 1024)
	errs := make(chan error, 1)

	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.conn != nil {
					_ = s.conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	go func() {
		defer close(ticks)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if s.conn == nil {
					errs <- fmt.Errorf("binance stream conn nil")
					return
				}
				_, b, err := s.conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("binance stream read: %w", err)
					return
				}
				var frame wsFrame
				if err := json.Unmarshal(b, &frame); err != nil {
					// ignore non-trade frames
					continue
				}
				if frame.Data.Symbol == "" {
					continue
				}
				tick, err := frame.Data.toTick()
				if err != nil {
					s.l.Warn("dropping malformed tick",
						applogger.String("stream", frame.Stream),
						applogger.Error(err),
					)
					continue
				}
				select {
				case ticks <- tick:
				default:
					// drop on backpressure
				}
			}
		}
	}()

	return ticks, errs
}

func (t wsTrade) toTick() (*models.Tick, error) {
	price, err := strconv.ParseFloat(t.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("price %q: %w", t.Price, models.ErrMalformedData)
	}
	qty, err := strconv.ParseFloat(t.Quantity, 64)
	if err != nil {
		return nil, fmt.Errorf("quantity %q: %w", t.Quantity, models.ErrMalformedData)
	}
	return &models.Tick{
		Instrument: t.Symbol,
		Timestamp:  t.TradeMs,
		Price:      price,
		Quantity:   qty,
	}, nil
}

func (s *Stream) Reconnect(ctx context.Context) error {
	_ = s.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.reconnectDelay):
	}
	if err := s.Connect(ctx); err != nil {
		return err
	}
	return s.Subscribe(ctx)
}

func (s *Stream) Close() error {
	s.connected = false
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

func (s *Stream) IsConnected() bool { return s.connected }
