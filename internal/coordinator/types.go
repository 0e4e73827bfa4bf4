package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avierra/avatarbridge/internal/room"
)

// Status is the forward-only lifecycle state of a session record.
type Status string

const (
	StatusStarting     Status = "starting"
	StatusConnected    Status = "connected"
	StatusAvatarActive Status = "avatar_active"
	StatusFailed       Status = "failed"
)

// Result statuses reported to callers of Start and Stop.
const (
	ResultStarted       = "started"
	ResultAlreadyActive = "already_active"
	ResultStopped       = "stopped"
	ResultNotFound      = "not_found"
)

// ErrInvalidRequest marks client errors (missing room name or avatar id).
var ErrInvalidRequest = errors.New("invalid request")

// Record tracks one active or starting room session. The room connection is
// exclusively owned by the record and released before the record leaves the
// store.
type Record struct {
	RoomName          string
	AvatarID          string
	ExternalSessionID string
	// CoachIdentity, when set, pins the qualifying audio publisher to an
	// exact identity instead of the configured prefix.
	CoachIdentity   string
	Status          Status
	AvatarSessionID string
	StartedAt       time.Time

	conn            room.Conn
	ctx             context.Context
	cancel          context.CancelFunc
	avatarRequested bool
}

// StartRequest is the coordinator-level start operation input.
type StartRequest struct {
	RoomName          string
	AvatarID          string
	ExternalSessionID string
	CoachIdentity     string
}

func (r StartRequest) validate() error {
	if r.RoomName == "" {
		return fmt.Errorf("%w: roomName is required", ErrInvalidRequest)
	}
	if r.AvatarID == "" {
		return fmt.Errorf("%w: avatarId is required", ErrInvalidRequest)
	}
	return nil
}

// StartResult reports the synchronous outcome of a start request.
type StartResult struct {
	Status            string
	RoomName          string
	ExternalSessionID string
}

// StopResult reports the outcome of a stop request.
type StopResult struct {
	Status   string
	RoomName string
}

// HealthInfo is the read-only liveness view.
type HealthInfo struct {
	ActiveSessions int
	Uptime         time.Duration
}
