// Package realtime consumes the remote store's change channel and merges
// remote match updates into local state.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/thefortaiagency/aether-insight/internal/bus"
	"github.com/thefortaiagency/aether-insight/internal/logger"
	"github.com/thefortaiagency/aether-insight/internal/metrics"
	"github.com/thefortaiagency/aether-insight/pkg/remote"
)

// ChangeType is the kind of row change on the remote
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Change is one decoded notification from the change channel
type Change struct {
	Type  ChangeType          `json:"type"`
	Match remote.RemoteMatch  `json:"record"`
	Old   *remote.RemoteMatch `json:"old_record,omitempty"`
}

// MatchID returns the id of the row the change is about
func (c Change) MatchID() string {
	if c.Match.ID != "" {
		return c.Match.ID
	}
	if c.Old != nil {
		return c.Old.ID
	}
	return ""
}

type subscribeFrame struct {
	Type   string          `json:"type"`
	Table  string          `json:"table"`
	Filter subscribeFilter `json:"filter"`
}

type subscribeFilter struct {
	Status   string   `json:"status,omitempty"`
	MatchIDs []string `json:"match_ids,omitempty"`
}

// writeWait bounds a subscribe write on a stalled connection
const writeWait = 10 * time.Second

// Config configures the consumer
type Config struct {
	URL        string
	Token      string
	Status     string // status filter, "in_progress" unless set
	MinBackoff time.Duration
	MaxBackoff time.Duration
	PingWait   time.Duration
}

// Consumer holds one websocket connection to the change channel and
// republishes notifications on the bus as remote_match_changed events.
//
// gorilla/websocket allows one concurrent writer, so writes go through mu.
type Consumer struct {
	cfg     Config
	dialer  *websocket.Dialer
	bus     *bus.Bus
	log     logger.Logger
	metrics *metrics.Recorder

	mu       sync.Mutex
	conn     *websocket.Conn
	matchIDs map[string]bool

	connected atomic.Bool
	done      chan struct{}
}

// NewConsumer creates a consumer. m may be nil.
func NewConsumer(cfg Config, b *bus.Bus, log logger.Logger, m *metrics.Recorder) *Consumer {
	if cfg.Status == "" {
		cfg.Status = "in_progress"
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.PingWait <= 0 {
		cfg.PingWait = 60 * time.Second
	}
	return &Consumer{
		cfg:      cfg,
		dialer:   websocket.DefaultDialer,
		bus:      b,
		log:      log,
		metrics:  m,
		matchIDs: make(map[string]bool),
		done:     make(chan struct{}),
	}
}

// Connected reports whether the change channel is currently up
func (c *Consumer) Connected() bool { return c.connected.Load() }

// Done is closed when Run returns
func (c *Consumer) Done() <-chan struct{} { return c.done }

// Watch adds match ids to the subscription. Safe to call at any time; ids
// added while disconnected are sent on the next connect.
func (c *Consumer) Watch(ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := false
	for _, id := range ids {
		if id != "" && !c.matchIDs[id] {
			c.matchIDs[id] = true
			added = true
		}
	}
	if !added || c.conn == nil {
		return nil
	}
	return c.sendSubscribe()
}

// Unwatch drops match ids from future subscriptions
func (c *Consumer) Unwatch(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.matchIDs, id)
	}
}

// Run connects and reads until ctx is cancelled, reconnecting with
// exponential backoff. It returns immediately when no URL is configured.
func (c *Consumer) Run(ctx context.Context) {
	defer close(c.done)
	if c.cfg.URL == "" {
		c.log.Info("Realtime change channel not configured")
		return
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.MinBackoff
	b.MaxInterval = c.cfg.MaxBackoff

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if err := c.dial(ctx); err != nil {
			wait := b.NextBackOff()
			c.log.Warn("Realtime dial failed", "attempt", attempt, "retry_in", wait, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		b.Reset()
		attempt = 0
		c.setStatus(true)
		c.readLoop(ctx)
		c.setStatus(false)
	}
}

func (c *Consumer) dial(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	if err := c.sendSubscribe(); err != nil {
		conn.Close()
		c.conn = nil
		return err
	}
	c.log.Info("Realtime connected", "url", c.cfg.URL, "matches", len(c.matchIDs))
	return nil
}

// sendSubscribe writes the subscribe frame. Caller must hold mu.
func (c *Consumer) sendSubscribe() error {
	ids := make([]string, 0, len(c.matchIDs))
	for id := range c.matchIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(subscribeFrame{
		Type:   "subscribe",
		Table:  "matches",
		Filter: subscribeFilter{Status: c.cfg.Status, MatchIDs: ids},
	})
}

func (c *Consumer) readLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	wait := c.cfg.PingWait
	conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(wait))
		c.mu.Lock()
		defer c.mu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn("Realtime read error", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wait))
		c.handle(msg)
	}
}

func (c *Consumer) handle(msg []byte) {
	var ch Change
	if err := json.Unmarshal(msg, &ch); err != nil {
		c.log.Debug("Ignoring undecodable realtime message", "error", err)
		return
	}
	switch ch.Type {
	case ChangeInsert, ChangeUpdate, ChangeDelete:
	default:
		// acks and heartbeats
		return
	}
	c.metrics.ObserveRealtimeMessage(string(ch.Type))
	c.bus.Publish(bus.Event{
		Type:    bus.EventRemoteMatchChanged,
		MatchID: ch.MatchID(),
		Payload: ch,
	})
}

func (c *Consumer) setStatus(up bool) {
	c.connected.Store(up)
	c.metrics.SetRealtimeConnected(up)
	c.bus.Publish(bus.Event{
		Type:    bus.EventRealtimeStatus,
		Payload: map[string]any{"connected": up},
	})
}

// Close drops the current connection; Run reconnects unless its context is
// done.
func (c *Consumer) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
