// Package realtime adapts the backend's change feed into refetch triggers.
// Subscribers get a "collection changed" hint, never row contents: the only
// correct reaction is to re-run their own query. The bridge guarantees
// at-least-once delivery after a successful write, and nothing about order.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"parishly.org/internal/obs"
)

const (
	heartbeatInterval = 30 * time.Second
	writeTimeout      = 10 * time.Second
)

// frame is the wire format in both directions. Outbound carries an action
// ("subscribe", "unsubscribe", "heartbeat"); inbound carries an event
// ("change") with the topic that moved.
type frame struct {
	Action string `json:"action,omitempty"`
	Event  string `json:"event,omitempty"`
	Topic  string `json:"topic,omitempty"`
	Filter string `json:"filter,omitempty"`
}

type subscription struct {
	id         int
	collection string
	filter     string
	onChange   func()
}

// Bridge maintains one websocket connection to the change feed and
// multiplexes any number of per-collection subscriptions over it.
type Bridge struct {
	endpoint string
	apiKey   string
	dialer   *websocket.Dialer
	// limiter paces reconnect attempts so a flapping backend is not
	// hammered.
	limiter *rate.Limiter

	mu      sync.Mutex
	subs    map[int]*subscription
	nextID  int
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// New creates a bridge for the backend at baseURL (http/https; the scheme
// is swapped for ws/wss). Run must be called before events flow.
func New(baseURL, apiKey string) *Bridge {
	endpoint := strings.TrimRight(baseURL, "/") + "/realtime/v1/changes"
	endpoint = strings.Replace(endpoint, "http", "ws", 1)
	return &Bridge{
		endpoint: endpoint,
		apiKey:   apiKey,
		dialer:   websocket.DefaultDialer,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 3),
		subs:     make(map[int]*subscription),
	}
}

// Subscribe registers interest in a collection, optionally narrowed by a
// server-side filter expression ("church_id=eq.c1"). onChange fires on every
// change event and once after each reconnect, as a hint to refetch. The
// returned function cancels the subscription. Multiple subscriptions to the
// same collection stay independent.
func (b *Bridge) Subscribe(collection, filter string, onChange func()) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := &subscription{id: id, collection: collection, filter: filter, onChange: onChange}
	b.subs[id] = sub
	conn := b.conn
	b.mu.Unlock()

	if conn != nil {
		_ = b.send(conn, frame{Action: "subscribe", Topic: collection, Filter: filter})
	}

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		still := false
		for _, s := range b.subs {
			if s.collection == collection {
				still = true
				break
			}
		}
		conn := b.conn
		b.mu.Unlock()
		if conn != nil && !still {
			_ = b.send(conn, frame{Action: "unsubscribe", Topic: collection})
		}
	}
}

// Run connects and serves the feed until ctx ends, reconnecting with paced
// backoff. Blocks; run it in its own goroutine.
func (b *Bridge) Run(ctx context.Context) {
	for {
		if err := b.limiter.Wait(ctx); err != nil {
			return
		}
		if err := b.serveOnce(ctx); err != nil && ctx.Err() == nil {
			obs.LogEvent("realtime.disconnected", map[string]any{"error": err.Error()})
		}
		if ctx.Err() != nil {
			return
		}
		obs.ObserveRealtimeReconnect()
	}
}

func (b *Bridge) serveOnce(ctx context.Context) error {
	header := http.Header{}
	header.Set("apikey", b.apiKey)
	u, err := url.Parse(b.endpoint)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("apikey", b.apiKey)
	u.RawQuery = q.Encode()

	conn, resp, err := b.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return err
	}
	defer conn.Close()

	b.mu.Lock()
	b.conn = conn
	active := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		active = append(active, sub)
	}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
		}
		b.mu.Unlock()
	}()

	// Re-join everything and hint a refetch: events during the outage are
	// gone, the refetch makes that harmless.
	seen := map[string]bool{}
	for _, sub := range active {
		if !seen[sub.collection+"\x00"+sub.filter] {
			seen[sub.collection+"\x00"+sub.filter] = true
			if err := b.send(conn, frame{Action: "subscribe", Topic: sub.collection, Filter: sub.filter}); err != nil {
				return err
			}
		}
		go sub.onChange()
	}

	// Heartbeats keep intermediaries from dropping the connection and give
	// the read deadline something to renew on.
	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go b.heartbeat(hbCtx, conn)

	go func() {
		<-hbCtx.Done()
		conn.Close()
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * heartbeatInterval))
	})
	_ = conn.SetReadDeadline(time.Now().Add(2 * heartbeatInterval))

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * heartbeatInterval))
		if f.Event != "change" || f.Topic == "" {
			continue
		}
		obs.ObserveRealtimeEvent(f.Topic)
		b.dispatch(f.Topic)
	}
}

func (b *Bridge) dispatch(collection string) {
	b.mu.Lock()
	targets := make([]*subscription, 0, 2)
	for _, sub := range b.subs {
		if sub.collection == collection {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()
	for _, sub := range targets {
		// Callbacks run off the read loop so a slow refetch cannot stall
		// delivery to other subscribers.
		go sub.onChange()
	}
}

func (b *Bridge) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			b.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (b *Bridge) send(conn *websocket.Conn, f frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}
