// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/trustgraph/services/trustgraph/identity"
)

// Connection defaults.
const (
	DefaultDialTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultRequestsPerSecond = 10
)

// Batch is the outcome of one subscription.
type Batch struct {
	// Attestations holds the newest attestation per requested author.
	Attestations []Attestation

	// Complete is true when the relay signalled end of stored results.
	Complete bool
}

// ConnectionOption configures a Connection.
type ConnectionOption func(*Connection)

// WithLogger sets the connection logger.
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(c *Connection) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) ConnectionOption {
	return func(c *Connection) { c.metrics = m }
}

// WithDialTimeout bounds the websocket handshake.
func WithDialTimeout(d time.Duration) ConnectionOption {
	return func(c *Connection) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithRateLimit caps outgoing REQs per second. Zero or negative disables
// the limit.
func WithRateLimit(perSecond float64) ConnectionOption {
	return func(c *Connection) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) ConnectionOption {
	return func(c *Connection) {
		if d != nil {
			c.dialer = d
		}
	}
}

// Connection is one duplex link to a relay.
//
// Thread Safety: safe for concurrent use. Concurrent FetchFollowLists calls
// share the socket, each under its own subscription id.
type Connection struct {
	url          string
	dialer       *websocket.Dialer
	dialTimeout  time.Duration
	writeTimeout time.Duration
	limiter      *rate.Limiter
	logger       *slog.Logger
	metrics      *Metrics

	connect singleflight.Group

	mu   sync.Mutex
	ws   *websocket.Conn
	done chan struct{}
	subs map[string]*subscription

	writeMu sync.Mutex
}

// NewConnection creates an unconnected Connection to url.
func NewConnection(url string, opts ...ConnectionOption) *Connection {
	c := &Connection{
		url:          url,
		dialer:       websocket.DefaultDialer,
		dialTimeout:  DefaultDialTimeout,
		writeTimeout: DefaultWriteTimeout,
		limiter:      rate.NewLimiter(rate.Limit(DefaultRequestsPerSecond), DefaultRequestsPerSecond),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("source", url))
	return c
}

// URL returns the relay address.
func (c *Connection) URL() string {
	return c.url
}

// IsConnected reports whether the socket is open.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// Connect opens the socket if it is not already open.
//
// Description:
//
//	Idempotent. Concurrent callers share one in-flight dial; the dial runs
//	under its own timeout so one caller's cancellation does not abort it
//	for the others. A caller whose ctx ends first returns ctx.Err().
//
// Outputs:
//
//	error - Wraps ErrSourceUnavailable if the dial or handshake fails.
func (c *Connection) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}
	ch := c.connect.DoChan("connect", func() (interface{}, error) {
		return nil, c.dial()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) dial() error {
	if c.IsConnected() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
	defer cancel()

	ws, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.metrics.connect(c.url, false)
		c.logger.Warn("relay dial failed", slog.String("error", err.Error()))
		return fmt.Errorf("%w: dial %s: %v", ErrSourceUnavailable, c.url, err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.ws = ws
	c.done = done
	c.subs = make(map[string]*subscription)
	c.mu.Unlock()

	c.metrics.connect(c.url, true)
	c.logger.Debug("relay connected")
	go c.readLoop(ws, done)
	return nil
}

// FetchFollowLists requests the follow lists of ids.
//
// Description:
//
//	Connects if needed, waits for the rate limiter, opens a subscription
//	for kind-3 events authored by ids and collects them until the relay
//	sends EOSE, the relay closes the subscription, the connection drops,
//	timeout elapses or ctx ends. The subscription is then closed.
//
// Inputs:
//
//	ctx - Cancels the wait. The partial batch is returned with ctx.Err().
//	ids - Authors to request. Must not be empty.
//	timeout - Upper bound on the wait. Elapsing is not an error.
//
// Outputs:
//
//	Batch - Newest attestation per author. Complete only after EOSE.
//	error - identity.ErrValidation for empty ids, ErrSourceUnavailable on
//	        connectivity failure, or ctx.Err().
func (c *Connection) FetchFollowLists(ctx context.Context, ids []identity.Identity, timeout time.Duration) (Batch, error) {
	if len(ids) == 0 {
		return Batch{}, fmt.Errorf("%w: no identities requested", identity.ErrValidation)
	}
	if err := c.Connect(ctx); err != nil {
		return Batch{}, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Batch{}, err
	}

	start := time.Now()
	sub := newSubscription(uuid.NewString(), ids)
	ws := c.register(sub)
	if ws == nil {
		c.metrics.request(c.url, outcomeError, time.Since(start).Seconds())
		return Batch{}, fmt.Errorf("%w: %s: connection dropped before request", ErrSourceUnavailable, c.url)
	}

	req := nostr.ReqEnvelope{
		SubscriptionID: sub.id,
		Filters: nostr.Filters{{
			Authors: identity.Strings(ids),
			Kinds:   []int{KindFollowList},
		}},
	}
	if err := c.send(ws, &req); err != nil {
		c.unregister(sub.id)
		c.metrics.request(c.url, outcomeError, time.Since(start).Seconds())
		return Batch{}, fmt.Errorf("%w: send REQ to %s: %v", ErrSourceUnavailable, c.url, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var (
		outcome string
		ctxErr  error
	)
	select {
	case <-sub.end:
	case <-timer.C:
		outcome = outcomeTimeout
	case <-ctx.Done():
		outcome = outcomeCancel
		ctxErr = ctx.Err()
	}

	c.unregister(sub.id)
	sub.finish(endTimeout)
	batch, reason := sub.batch()
	if outcome == "" {
		outcome = reason.outcome()
	}

	if reason != endDropped && c.current() == ws {
		closeReq := nostr.CloseEnvelope(sub.id)
		if err := c.send(ws, &closeReq); err != nil {
			c.logger.Debug("send CLOSE failed", slog.String("subscription", sub.id), slog.String("error", err.Error()))
		}
	}

	c.metrics.request(c.url, outcome, time.Since(start).Seconds())
	c.logger.Debug("follow lists fetched",
		slog.String("subscription", sub.id),
		slog.Int("requested", len(ids)),
		slog.Int("received", len(batch.Attestations)),
		slog.String("outcome", outcome),
	)
	return batch, ctxErr
}

// Close tears down the socket and resolves every open subscription with
// what it has collected. The Connection may be connected again later.
func (c *Connection) Close() error {
	c.mu.Lock()
	ws, done, subs := c.ws, c.done, c.subs
	c.ws, c.done, c.subs = nil, nil, nil
	c.mu.Unlock()

	if ws == nil {
		return nil
	}
	for _, sub := range subs {
		sub.finish(endDropped)
	}

	c.writeMu.Lock()
	_ = ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	err := ws.Close()
	<-done
	c.metrics.disconnect(c.url, disconnectClosing)
	if err != nil {
		return fmt.Errorf("close %s: %w", c.url, err)
	}
	return nil
}

func (c *Connection) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws
}

// register adds sub to the open socket and returns it, or nil if closed.
func (c *Connection) register(sub *subscription) *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return nil
	}
	c.subs[sub.id] = sub
	return c.ws
}

func (c *Connection) unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
}

func (c *Connection) lookup(id string) *subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[id]
}

// send writes one frame. gorilla allows a single concurrent writer.
func (c *Connection) send(ws *websocket.Conn, env interface{ MarshalJSON() ([]byte, error) }) error {
	raw, err := env.MarshalJSON()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, raw)
}

func (c *Connection) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			c.drop(ws, err)
			return
		}
		c.handle(msg)
	}
}

// drop forgets ws if it is still current and ends its subscriptions.
func (c *Connection) drop(ws *websocket.Conn, cause error) {
	c.mu.Lock()
	var subs map[string]*subscription
	if c.ws == ws {
		subs = c.subs
		c.ws, c.done, c.subs = nil, nil, nil
	}
	c.mu.Unlock()

	if subs == nil {
		return
	}
	_ = ws.Close()
	for _, sub := range subs {
		sub.finish(endDropped)
	}
	c.metrics.disconnect(c.url, disconnectReason)
	c.logger.Warn("relay connection lost", slog.String("error", cause.Error()))
}

func (c *Connection) handle(msg []byte) {
	switch env := nostr.ParseMessage(msg).(type) {
	case *nostr.EventEnvelope:
		if env.SubscriptionID == nil {
			c.metrics.frame(c.url, frameUnexpected)
			return
		}
		sub := c.lookup(*env.SubscriptionID)
		if sub == nil {
			c.metrics.frame(c.url, frameUnknownSub)
			return
		}
		att, ok := FromEvent(&env.Event)
		if !ok || !sub.authors.Has(att.Author) {
			c.metrics.frame(c.url, frameRejected)
			c.logger.Debug("event rejected",
				slog.String("subscription", sub.id),
				slog.Int("kind", env.Kind),
				slog.String("pubkey", env.PubKey),
			)
			return
		}
		c.metrics.frame(c.url, frameEvent)
		sub.add(att)

	case *nostr.EOSEEnvelope:
		c.metrics.frame(c.url, frameEOSE)
		if sub := c.lookup(string(*env)); sub != nil {
			sub.finish(endEOSE)
		}

	case *nostr.ClosedEnvelope:
		c.metrics.frame(c.url, frameClosed)
		c.logger.Debug("subscription closed by relay",
			slog.String("subscription", env.SubscriptionID),
			slog.String("reason", env.Reason),
		)
		if sub := c.lookup(env.SubscriptionID); sub != nil {
			sub.finish(endClosed)
		}

	case *nostr.NoticeEnvelope:
		c.metrics.frame(c.url, frameNotice)
		c.logger.Debug("relay notice", slog.String("notice", string(*env)))

	case nil:
		c.metrics.frame(c.url, frameMalformed)
		c.logger.Debug("malformed frame dropped", slog.Int("bytes", len(msg)))

	default:
		c.metrics.frame(c.url, frameUnexpected)
	}
}
