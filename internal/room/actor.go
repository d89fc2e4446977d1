// Package room implements the per-room session actor. One actor owns all
// mutable state for its room and processes events strictly one at a time;
// different rooms run independently and in parallel.
package room

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"parley/internal/auth"
	"parley/internal/validate"
	"parley/pkg/types"
)

// Sender is the actor's view of an attached connection. Send must not
// block the caller.
type Sender interface {
	ID() string
	Send(v interface{}) error
	Close() error
}

// Store is the persistence contract the actor consumes. Calls are the
// actor's only suspension points; results apply to in-memory state after
// the call completes, which preserves acceptance order.
type Store interface {
	EnsureUser(ctx context.Context, username string) (*types.User, error)
	EnsureRoom(ctx context.Context, id, name string) (*types.Room, error)
	InsertMessage(ctx context.Context, roomID, userID, content string) (*types.Message, error)
	ListRecentMessages(ctx context.Context, roomID string, limit int) ([]*types.Message, error)
	TouchRoomActivity(ctx context.Context, roomID string) error
}

// TokenVerifier validates identity tokens.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// Config carries the per-room limits and timers.
type Config struct {
	HistoryLimit   int
	MaxConnsPerIP  int
	RateWindow     time.Duration
	RateLimit      int
	FlushInterval  time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MaxPingRetries int
	StoreTimeout   time.Duration
	IdleTTL        time.Duration
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		HistoryLimit:   100,
		MaxConnsPerIP:  20,
		RateWindow:     60 * time.Second,
		RateLimit:      10,
		FlushInterval:  100 * time.Millisecond,
		PingInterval:   30 * time.Second,
		PongTimeout:    10 * time.Second,
		MaxPingRetries: 3,
		StoreTimeout:   10 * time.Second,
		IdleTTL:        5 * time.Minute,
	}
}

// connState is per-connection state owned by the event loop.
// Once authenticated is true it never reverts without a close.
type connState struct {
	sender        Sender
	ip            string
	authenticated bool
	userID        string
	username      string
	lastPong      time.Time
	pingRetries   int
}

// Actor serializes all state transitions for one room. Timers feed the
// same loop as connection events, so no state is touched concurrently.
type Actor struct {
	roomID   string
	roomName string
	store    Store
	verifier TokenVerifier
	cfg      Config

	events   chan event
	done     chan struct{}
	stopOnce sync.Once

	// Owned exclusively by the run goroutine.
	conns      map[string]*connState
	ipCounts   map[string]int
	limiter    *rateLimiter
	batch      []types.Message
	flushTimer *time.Timer
	flushC     <-chan time.Time

	// Read by the manager's sweeper without entering the loop.
	connCount atomic.Int64
	idleSince atomic.Int64
}

type event interface{}

type reserveEvent struct {
	ip    string
	reply chan error
}

type releaseEvent struct {
	ip string
}

type attachEvent struct {
	sender Sender
	ip     string
	reply  chan error
}

type detachEvent struct {
	connID string
}

type frameEvent struct {
	connID string
	frame  types.Frame
}

// New creates an actor for one room id and starts its event loop.
func New(roomID, roomName string, store Store, verifier TokenVerifier, cfg Config) *Actor {
	a := &Actor{
		roomID:   roomID,
		roomName: roomName,
		store:    store,
		verifier: verifier,
		cfg:      cfg,
		events:   make(chan event, 256),
		done:     make(chan struct{}),
		conns:    make(map[string]*connState),
		ipCounts: make(map[string]int),
		limiter:  newRateLimiter(cfg.RateWindow, cfg.RateLimit),
	}
	a.idleSince.Store(time.Now().UnixNano())

	go a.run()
	return a
}

// RoomID returns the room this actor serves.
func (a *Actor) RoomID() string { return a.roomID }

// Reserve claims a connection slot for an IP before any socket exists.
// Returns ErrConnectionLimit when the per-IP cap is reached.
func (a *Actor) Reserve(ip string) error {
	reply := make(chan error, 1)
	if err := a.post(&reserveEvent{ip: ip, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-a.done:
		return ErrRoomClosed
	}
}

// Release returns a slot claimed by Reserve when the upgrade never
// produced a connection.
func (a *Actor) Release(ip string) {
	_ = a.post(&releaseEvent{ip: ip})
}

// Attach registers a connection whose slot was reserved. The actor sends
// the connection-status frame and history snapshot, then broadcasts the
// updated live count.
func (a *Actor) Attach(sender Sender, ip string) error {
	reply := make(chan error, 1)
	if err := a.post(&attachEvent{sender: sender, ip: ip, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-a.done:
		return ErrRoomClosed
	}
}

// Detach removes a connection and broadcasts the updated live count.
// Idempotent.
func (a *Actor) Detach(connID string) {
	_ = a.post(&detachEvent{connID: connID})
}

// HandleFrame queues one decoded client frame for the room's event loop.
func (a *Actor) HandleFrame(connID string, frame types.Frame) error {
	return a.post(&frameEvent{connID: connID, frame: frame})
}

// ConnCount reports the number of live connections.
func (a *Actor) ConnCount() int {
	return int(a.connCount.Load())
}

// IdleFor reports how long the room has had zero connections.
func (a *Actor) IdleFor(now time.Time) time.Duration {
	if a.connCount.Load() > 0 {
		return 0
	}
	return now.Sub(time.Unix(0, a.idleSince.Load()))
}

// Stop shuts the actor down and closes every attached connection. The
// room's durable trace stays in the store; a fresh actor resumes from it.
func (a *Actor) Stop() {
	a.stopOnce.Do(func() { close(a.done) })
}

func (a *Actor) post(ev event) error {
	select {
	case a.events <- ev:
		return nil
	case <-a.done:
		return ErrRoomClosed
	}
}

func (a *Actor) run() {
	health := time.NewTicker(a.cfg.PingInterval)
	defer health.Stop()

	for {
		select {
		case ev := <-a.events:
			a.handleEvent(ev)
		case <-a.flushC:
			a.flushBatch()
		case <-health.C:
			a.healthTick(time.Now())
		case <-a.done:
			a.closeAll()
			return
		}
	}
}

func (a *Actor) handleEvent(ev event) {
	switch e := ev.(type) {
	case *reserveEvent:
		if a.ipCounts[e.ip] >= a.cfg.MaxConnsPerIP {
			e.reply <- ErrConnectionLimit
			return
		}
		a.ipCounts[e.ip]++
		e.reply <- nil

	case *releaseEvent:
		a.decIP(e.ip)

	case *attachEvent:
		a.handleAttach(e)

	case *detachEvent:
		a.removeConn(e.connID)

	case *frameEvent:
		a.handleFrame(e.connID, e.frame)
	}
}

func (a *Actor) handleAttach(e *attachEvent) {
	cs := &connState{
		sender:   e.sender,
		ip:       e.ip,
		lastPong: time.Now(),
	}
	a.conns[e.sender.ID()] = cs
	a.connCount.Store(int64(len(a.conns)))
	e.reply <- nil

	a.send(cs, types.NewConnectionStatus(statusConnected, statusConnectedMsg, len(a.conns)))
	a.sendHistory(cs)
	a.broadcast(types.NewConnectionCount(len(a.conns)))
}

func (a *Actor) handleFrame(connID string, frame types.Frame) {
	cs, ok := a.conns[connID]
	if !ok {
		// Frame raced with a close; drop it.
		return
	}

	switch f := frame.(type) {
	case *types.AuthFrame:
		a.handleAuth(cs, f)
	case *types.MessageFrame:
		a.handleMessage(cs, f)
	case *types.TypingFrame:
		a.handleTyping(cs, f)
	case *types.GetHistoryFrame:
		a.sendHistory(cs)
	case *types.PingFrame:
		cs.lastPong = time.Now()
		cs.pingRetries = 0
		a.send(cs, types.NewPong())
	case *types.PongFrame:
		cs.lastPong = time.Now()
		cs.pingRetries = 0
	}
}

// handleAuth verifies the token and requires the verified identity to
// exactly match the claimed one. Failure reports an error frame and
// leaves the connection open so the client may retry without
// reconnecting.
func (a *Actor) handleAuth(cs *connState, f *types.AuthFrame) {
	identity, err := a.verifier.Verify(f.AuthToken)
	if err != nil {
		a.send(cs, types.NewError(msgAuthFailed))
		return
	}

	if identity.UserID != f.UserID || identity.Username != f.Username {
		a.send(cs, types.NewError(msgAuthMismatch))
		return
	}

	cs.authenticated = true
	cs.userID = identity.UserID
	cs.username = identity.Username
	a.send(cs, types.NewAuthSuccess(identity.Username))
}

// handleMessage validates, rate-limits, persists, and queues one inbound
// message. The message is only queued for broadcast after the store
// accepted it.
func (a *Actor) handleMessage(cs *connState, f *types.MessageFrame) {
	if f.User == "" {
		a.send(cs, types.NewError(msgMissingUser))
		return
	}
	if f.Content == "" {
		a.send(cs, types.NewError(msgMissingContent))
		return
	}

	if err := validate.Message(f.Content, f.User); err != nil {
		a.send(cs, types.NewError(msgInvalidMessage+err.Error()))
		return
	}

	if !a.limiter.allow(f.User, time.Now()) {
		a.send(cs, types.NewError(msgRateLimited))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.StoreTimeout)
	defer cancel()

	user, err := a.store.EnsureUser(ctx, f.User)
	if err != nil {
		log.Printf("room %s: ensure user %q failed: %v", a.roomID, f.User, err)
		a.send(cs, types.NewError(msgStorageFailed))
		return
	}
	if _, err := a.store.EnsureRoom(ctx, a.roomID, a.roomName); err != nil {
		log.Printf("room %s: ensure room failed: %v", a.roomID, err)
		a.send(cs, types.NewError(msgStorageFailed))
		return
	}

	msg, err := a.store.InsertMessage(ctx, a.roomID, user.ID, f.Content)
	if err != nil {
		log.Printf("room %s: insert message failed: %v", a.roomID, err)
		a.send(cs, types.NewError(msgStorageFailed))
		return
	}
	if err := a.store.TouchRoomActivity(ctx, a.roomID); err != nil {
		log.Printf("room %s: touch activity failed: %v", a.roomID, err)
	}

	msg.User = f.User
	wasEmpty := len(a.batch) == 0
	a.batch = append(a.batch, *msg)
	if wasEmpty {
		a.armFlush()
	}
}

// handleTyping broadcasts immediately, never batched, never persisted.
func (a *Actor) handleTyping(cs *connState, f *types.TypingFrame) {
	if f.User == "" {
		return
	}
	notice := types.NewTyping(f.User)
	for id, other := range a.conns {
		if id == cs.sender.ID() {
			continue
		}
		a.send(other, notice)
	}
}

func (a *Actor) armFlush() {
	a.flushTimer = time.NewTimer(a.cfg.FlushInterval)
	a.flushC = a.flushTimer.C
}

// flushBatch broadcasts the pending messages as one ordered batch and
// clears it. Connections attaching later see these only via history.
func (a *Actor) flushBatch() {
	a.flushC = nil
	a.flushTimer = nil
	if len(a.batch) == 0 {
		return
	}

	msgs := a.batch
	a.batch = nil
	for i := range msgs {
		msgs[i].RoomID = ""
	}
	a.broadcast(types.NewMessageBatch(msgs))
}

func (a *Actor) sendHistory(cs *connState) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.StoreTimeout)
	defer cancel()

	recent, err := a.store.ListRecentMessages(ctx, a.roomID, a.cfg.HistoryLimit)
	if err != nil {
		log.Printf("room %s: history load failed: %v", a.roomID, err)
		a.send(cs, types.NewError(msgStorageFailed))
		return
	}

	// Store returns most recent first; clients want chronological order.
	msgs := make([]types.Message, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		m := *recent[i]
		m.RoomID = ""
		msgs = append(msgs, m)
	}
	a.send(cs, types.NewMessageHistory(msgs))
}

// healthTick pings idle connections and evicts the unresponsive.
// A connection is force-closed once it has ignored MaxPingRetries pings.
func (a *Actor) healthTick(now time.Time) {
	var evict []string
	for id, cs := range a.conns {
		if now.Sub(cs.lastPong) <= a.cfg.PongTimeout {
			continue
		}
		if cs.pingRetries >= a.cfg.MaxPingRetries {
			evict = append(evict, id)
			continue
		}
		a.send(cs, types.NewPing())
		cs.pingRetries++
	}

	for _, id := range evict {
		log.Printf("room %s: evicting unresponsive connection %s", a.roomID, id)
		a.removeConn(id)
	}

	a.limiter.cleanup(now)
}

// removeConn drops a connection, releases its IP slot, and broadcasts the
// updated live count. Its ping timers and retry counters die with it.
func (a *Actor) removeConn(connID string) {
	cs, ok := a.conns[connID]
	if !ok {
		return
	}
	delete(a.conns, connID)
	a.decIP(cs.ip)
	_ = cs.sender.Close()

	a.connCount.Store(int64(len(a.conns)))
	if len(a.conns) == 0 {
		a.idleSince.Store(time.Now().UnixNano())
	}
	a.broadcast(types.NewConnectionCount(len(a.conns)))
}

func (a *Actor) decIP(ip string) {
	if count, ok := a.ipCounts[ip]; ok {
		if count <= 1 {
			delete(a.ipCounts, ip)
		} else {
			a.ipCounts[ip] = count - 1
		}
	}
}

func (a *Actor) broadcast(v interface{}) {
	for _, cs := range a.conns {
		a.send(cs, v)
	}
}

func (a *Actor) send(cs *connState, v interface{}) {
	if err := cs.sender.Send(v); err != nil {
		log.Printf("room %s: send to %s failed: %v", a.roomID, cs.sender.ID(), err)
	}
}

func (a *Actor) closeAll() {
	if a.flushTimer != nil {
		a.flushTimer.Stop()
	}
	for id, cs := range a.conns {
		_ = cs.sender.Close()
		delete(a.conns, id)
	}
	a.connCount.Store(0)
	a.ipCounts = make(map[string]int)
}
