package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/livekit/protocol/logger"

	"github.com/avierra/avatarbridge/internal/avatar"
	"github.com/avierra/avatarbridge/internal/config"
	"github.com/avierra/avatarbridge/internal/observability"
	"github.com/avierra/avatarbridge/internal/room"
)

// CredentialIssuer mints room-join tokens for synthetic participants.
type CredentialIssuer interface {
	RoomToken(roomName, identity string) (string, error)
}

// AvatarClient is the vendor API surface the coordinator depends on.
type AvatarClient interface {
	CreateSession(ctx context.Context, req avatar.CreateSessionRequest) (avatar.Session, error)
	GetSession(ctx context.Context, sessionID string) (avatar.Session, error)
}

// Coordinator owns the room-to-session mapping and drives each session from
// starting through connected to avatar_active, or out of the store on stop,
// failure and room events. All record mutation happens under its mutex; the
// store is never written by anything else.
type Coordinator struct {
	cfg     config.Config
	store   Store
	issuer  CredentialIssuer
	gateway room.Gateway
	avatars AvatarClient
	metrics *observability.Metrics

	startedAt  time.Time
	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu sync.Mutex
}

func New(cfg config.Config, store Store, issuer CredentialIssuer, gateway room.Gateway, avatars AvatarClient, metrics *observability.Metrics) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:        cfg,
		store:      store,
		issuer:     issuer,
		gateway:    gateway,
		avatars:    avatars,
		metrics:    metrics,
		startedAt:  time.Now().UTC(),
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

// Start registers a session for the room and launches the detached startup
// sequence. The record is inserted before Start returns, so a concurrent
// start for the same room deterministically observes already_active.
func (c *Coordinator) Start(req StartRequest) (StartResult, error) {
	if err := req.validate(); err != nil {
		return StartResult{}, err
	}
	if req.ExternalSessionID == "" {
		req.ExternalSessionID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(c.rootCtx)
	rec := &Record{
		RoomName:          req.RoomName,
		AvatarID:          req.AvatarID,
		ExternalSessionID: req.ExternalSessionID,
		CoachIdentity:     req.CoachIdentity,
		Status:            StatusStarting,
		StartedAt:         time.Now().UTC(),
		ctx:               ctx,
		cancel:            cancel,
	}

	if !c.store.PutIfAbsent(rec) {
		cancel()
		c.metrics.SessionEvents.WithLabelValues(ResultAlreadyActive).Inc()
		result := StartResult{Status: ResultAlreadyActive, RoomName: req.RoomName}
		c.mu.Lock()
		if existing, ok := c.store.Get(req.RoomName); ok {
			result.ExternalSessionID = existing.ExternalSessionID
		}
		c.mu.Unlock()
		return result, nil
	}

	c.metrics.SessionEvents.WithLabelValues(ResultStarted).Inc()
	c.metrics.ActiveSessions.Set(float64(c.store.Len()))
	logger.Infow("session starting", "room", req.RoomName, "avatar", req.AvatarID, "sessionId", req.ExternalSessionID)

	go c.runStartup(ctx, rec)

	return StartResult{
		Status:            ResultStarted,
		RoomName:          req.RoomName,
		ExternalSessionID: req.ExternalSessionID,
	}, nil
}

// Stop releases the room connection and removes the record. Stopping an
// unknown room is not an error.
func (c *Coordinator) Stop(roomName string) StopResult {
	c.mu.Lock()
	rec, ok := c.store.Get(roomName)
	if !ok {
		c.mu.Unlock()
		c.metrics.SessionEvents.WithLabelValues(ResultNotFound).Inc()
		return StopResult{Status: ResultNotFound, RoomName: roomName}
	}
	rec.cancel()
	conn := rec.conn
	c.store.Delete(roomName)
	c.mu.Unlock()

	if conn != nil {
		conn.Disconnect()
	}
	c.metrics.SessionEvents.WithLabelValues(ResultStopped).Inc()
	c.metrics.ActiveSessions.Set(float64(c.store.Len()))
	logger.Infow("session stopped", "room", roomName)
	return StopResult{Status: ResultStopped, RoomName: roomName}
}

// Health reports the active record count and process uptime. Read-only.
func (c *Coordinator) Health() HealthInfo {
	return HealthInfo{
		ActiveSessions: c.store.Len(),
		Uptime:         time.Since(c.startedAt),
	}
}

// Lookup returns a copy of the record for the room, if present.
func (c *Coordinator) Lookup(roomName string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.store.Get(roomName)
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Close tears down every live session. Used on shutdown so no room
// connection outlives the process.
func (c *Coordinator) Close() {
	c.mu.Lock()
	records := c.store.All()
	for _, rec := range records {
		c.store.Delete(rec.RoomName)
	}
	c.mu.Unlock()

	for _, rec := range records {
		rec.cancel()
		if rec.conn != nil {
			rec.conn.Disconnect()
		}
	}
	c.rootCancel()
	c.metrics.ActiveSessions.Set(0)
	if len(records) > 0 {
		logger.Infow("released room connections on shutdown", "count", len(records))
	}
}

func (c *Coordinator) runStartup(ctx context.Context, rec *Record) {
	roomName := rec.RoomName

	token, err := c.issuer.RoomToken(roomName, c.cfg.BridgeIdentityPrefix+roomName)
	if err != nil {
		c.failSession(rec, "credential", err)
		return
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancelConnect()
	conn, err := c.gateway.Connect(connectCtx, room.ConnectRequest{
		URL:   c.cfg.LiveKitURL,
		Token: token,
	}, func(ev room.Event) {
		c.handleRoomEvent(rec, ev)
	})
	if err != nil {
		c.failSession(rec, "connect", err)
		return
	}

	c.mu.Lock()
	cur, ok := c.store.Get(roomName)
	if !ok || cur != rec {
		// Stopped while connecting; the connection was never owned by a
		// live record.
		c.mu.Unlock()
		conn.Disconnect()
		return
	}
	rec.conn = conn
	rec.Status = StatusConnected
	c.mu.Unlock()
	logger.Infow("bridge connected to room", "room", roomName)

	if c.cfg.StartPolicy == config.PolicyImmediate {
		c.mu.Lock()
		claimed := c.claimAvatarStartLocked(rec)
		c.mu.Unlock()
		if claimed {
			c.invokeAvatar(ctx, rec)
		}
	}
}

// claimAvatarStartLocked marks the record as having an avatar invocation in
// flight. Exactly one caller wins. Callers must hold c.mu.
func (c *Coordinator) claimAvatarStartLocked(rec *Record) bool {
	cur, ok := c.store.Get(rec.RoomName)
	if !ok || cur != rec || rec.avatarRequested || rec.Status != StatusConnected {
		return false
	}
	rec.avatarRequested = true
	return true
}

// handleRoomEvent dispatches an event from the connection owned by rec. The
// room may have been stopped and restarted since the connection was opened,
// so events are dropped unless rec is still the stored record; a trailing
// disconnect from a released connection must not touch its successor.
func (c *Coordinator) handleRoomEvent(rec *Record, ev room.Event) {
	roomName := rec.RoomName

	c.mu.Lock()
	cur, ok := c.store.Get(roomName)
	if !ok || cur != rec {
		c.mu.Unlock()
		return
	}

	rules := MatchRules{
		CoachTrackName:      c.cfg.CoachTrackName,
		CoachIdentityPrefix: c.cfg.CoachIdentityPrefix,
		CoachIdentity:       rec.CoachIdentity,
	}

	switch Transition(rec.Status, ev, rules) {
	case ActionStartAvatar:
		ctx := rec.ctx
		claimed := c.claimAvatarStartLocked(rec)
		c.mu.Unlock()
		if claimed {
			logger.Infow("coach audio detected, requesting avatar",
				"room", roomName, "participant", ev.ParticipantIdentity, "track", ev.TrackName)
			// Vendor call must not block the room event goroutine.
			go c.invokeAvatar(ctx, rec)
		}

	case ActionRemove:
		rec.cancel()
		conn := rec.conn
		c.store.Delete(roomName)
		c.mu.Unlock()
		if conn != nil {
			conn.Disconnect()
		}
		c.metrics.SessionEvents.WithLabelValues("room_disconnected").Inc()
		c.metrics.ActiveSessions.Set(float64(c.store.Len()))
		logger.Infow("room disconnected, session removed", "room", roomName)

	case ActionDisconnectAndRemove:
		rec.cancel()
		conn := rec.conn
		c.store.Delete(roomName)
		c.mu.Unlock()
		if conn != nil {
			conn.Disconnect()
		}
		c.metrics.SessionEvents.WithLabelValues("coach_disconnected").Inc()
		c.metrics.ActiveSessions.Set(float64(c.store.Len()))
		logger.Infow("coach participant left, session removed",
			"room", roomName, "participant", ev.ParticipantIdentity)

	default:
		c.mu.Unlock()
	}
}

// invokeAvatar runs after the start has been claimed for rec. It mints the
// avatar credential, calls the vendor API and promotes the record to
// avatar_active. Completion only applies while rec is still the stored
// record; the room may have been stopped and restarted during the call.
func (c *Coordinator) invokeAvatar(ctx context.Context, rec *Record) {
	roomName := rec.RoomName

	c.mu.Lock()
	cur, ok := c.store.Get(roomName)
	if !ok || cur != rec {
		c.mu.Unlock()
		return
	}
	avatarID := rec.AvatarID
	startedAt := rec.StartedAt
	c.mu.Unlock()

	token, err := c.issuer.RoomToken(roomName, "avatar-"+avatarID)
	if err != nil {
		c.failSession(rec, "credential", err)
		return
	}

	callCtx, cancelCall := context.WithTimeout(ctx, c.cfg.AvatarCallTimeout)
	defer cancelCall()
	session, err := c.avatars.CreateSession(callCtx, avatar.CreateSessionRequest{
		AvatarID: avatarID,
		RoomName: roomName,
		URL:      c.cfg.LiveKitURL,
		Token:    token,
	})
	if err != nil {
		c.failSession(rec, "avatar", err)
		return
	}

	c.mu.Lock()
	cur, ok = c.store.Get(roomName)
	if !ok || cur != rec {
		c.mu.Unlock()
		logger.Warnw("avatar session created for a stopped session", nil,
			"room", roomName, "avatarSession", session.ID)
		return
	}
	rec.Status = StatusAvatarActive
	rec.AvatarSessionID = session.ID
	c.mu.Unlock()

	c.metrics.SessionEvents.WithLabelValues(string(StatusAvatarActive)).Inc()
	c.metrics.ObserveAvatarStartLatency(time.Since(startedAt))
	logger.Infow("avatar session active",
		"room", roomName, "avatarSession", session.ID, "vendorStatus", session.Status)

	if c.cfg.AvatarStatusCheckDelay > 0 {
		c.scheduleStatusCheck(ctx, roomName, session.ID)
	}
}

// scheduleStatusCheck runs one delayed vendor status probe. It only logs;
// the vendor owns the render session once it is active.
func (c *Coordinator) scheduleStatusCheck(ctx context.Context, roomName, sessionID string) {
	timer := time.AfterFunc(c.cfg.AvatarStatusCheckDelay, func() {
		if ctx.Err() != nil {
			return
		}
		checkCtx, cancel := context.WithTimeout(ctx, c.cfg.AvatarCallTimeout)
		defer cancel()
		session, err := c.avatars.GetSession(checkCtx, sessionID)
		if err != nil {
			logger.Warnw("avatar status check failed", err, "room", roomName, "avatarSession", sessionID)
			return
		}
		logger.Infow("avatar status check", "room", roomName, "avatarSession", sessionID, "vendorStatus", session.Status)
	})
	go func() {
		<-ctx.Done()
		timer.Stop()
	}()
}

// failSession handles a startup-stage failure of the task that owns rec:
// log, release the connection if one exists, drop the record. No retry. A
// record that was already stopped, or replaced by a restart, is left alone.
func (c *Coordinator) failSession(rec *Record, stage string, err error) {
	roomName := rec.RoomName
	logger.Errorw("session startup failed", err, "room", roomName, "stage", stage)
	c.metrics.UpstreamErrors.WithLabelValues(stage).Inc()

	c.mu.Lock()
	cur, ok := c.store.Get(roomName)
	if !ok || cur != rec {
		c.mu.Unlock()
		return
	}
	rec.Status = StatusFailed
	rec.cancel()
	conn := rec.conn
	c.store.Delete(roomName)
	c.mu.Unlock()

	if conn != nil {
		conn.Disconnect()
	}
	c.metrics.SessionEvents.WithLabelValues(string(StatusFailed)).Inc()
	c.metrics.ActiveSessions.Set(float64(c.store.Len()))
}
