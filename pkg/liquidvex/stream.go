package liquidvex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// StreamState is the connection state of one push channel.
type StreamState int32

const (
	StateDisconnected StreamState = iota
	StateConnecting
	StateConnected
)

func (s StreamState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MessageHandler receives every JSON frame of a stream, in receipt order.
type MessageHandler func(message json.RawMessage) error

// StateHandler observes state transitions of a stream.
type StateHandler func(name string, state StreamState)

var ErrStreamStarted = errors.New("stream already started")

type StreamConfig struct {
	Name             string
	URL              string
	AutoReconnect    bool
	Backoff          BackoffPolicy
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
}

// Stream is a reconnecting client for one logical push channel (all-mids,
// the book of one coin, the trades of one coin, ...). It is started once
// and stopped once; switching to another subscription target means
// stopping this stream and starting a new one.
type Stream struct {
	cfg     StreamConfig
	handler MessageHandler
	onState StateHandler
	logger  *logrus.Entry
	dialer  *websocket.Dialer

	state atomic.Int32

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

func NewStream(cfg StreamConfig, handler MessageHandler, logger *logrus.Logger) *Stream {
	if cfg.Backoff == nil {
		cfg.Backoff = FixedBackoff(DefaultReconnectDelay)
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = cfg.URL
	}
	return &Stream{
		cfg:     cfg,
		handler: handler,
		logger:  logger.WithField("stream", cfg.Name),
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}
}

// OnStateChange registers the transition observer. Call before Start.
func (s *Stream) OnStateChange(fn StateHandler) {
	s.onState = fn
}

func (s *Stream) Name() string { return s.cfg.Name }

func (s *Stream) URL() string { return s.cfg.URL }

func (s *Stream) State() StreamState {
	return StreamState(s.state.Load())
}

func (s *Stream) Connected() bool {
	return s.State() == StateConnected
}

// Start launches the connection loop.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrStreamStarted
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.runLoop(ctx)
	return nil
}

// Stop tears the connection down and waits until the loop has exited. No
// message is delivered to the handler after Stop returns.
func (s *Stream) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.closeConn()
	s.wg.Wait()
	s.setState(StateDisconnected)
}

func (s *Stream) runLoop(ctx context.Context) {
	defer s.wg.Done()
	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}

		s.setState(StateConnecting)
		conn, err := s.connect(ctx)
		if err != nil {
			s.setState(StateDisconnected)
			if ctx.Err() != nil {
				return
			}
			s.logger.WithError(err).WithField("attempt", attempt).Warn("Stream connection failed")
			if !s.cfg.AutoReconnect || !s.sleep(ctx, attempt) {
				return
			}
			attempt++
			continue
		}

		attempt = 0
		s.setState(StateConnected)
		s.logger.Info("Stream connected")

		err = s.readLoop(ctx, conn)
		s.closeConn()
		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}
		s.logger.WithError(err).Warn("Stream disconnected")
		if !s.cfg.AutoReconnect || !s.sleep(ctx, attempt) {
			return
		}
		attempt++
	}
}

func (s *Stream) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to websocket: %w", err)
	}

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		return nil, ctx.Err()
	}
	s.conn = conn
	s.mu.Unlock()
	return conn, nil
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.cfg.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}
	if s.cfg.PingInterval > 0 {
		go s.keepAlive(connCtx, conn)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if s.cfg.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !json.Valid(msg) {
			s.logger.WithField("bytes", len(msg)).Warn("Dropping non-JSON frame")
			continue
		}
		if err := s.handler(json.RawMessage(msg)); err != nil {
			s.logger.WithError(err).Warn("Handler error")
		}
	}
}

func (s *Stream) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.WithError(err).Debug("Failed to send ping")
				conn.Close()
				return
			}
		}
	}
}

func (s *Stream) sleep(ctx context.Context, attempt int) bool {
	delay := s.cfg.Backoff.Next(attempt)
	s.logger.WithField("delay", delay.String()).Debug("Scheduling reconnect")
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Stream) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Stream) setState(state StreamState) {
	prev := StreamState(s.state.Swap(int32(state)))
	if prev != state && s.onState != nil {
		s.onState(s.cfg.Name, state)
	}
}
