package room

import "context"

// EventKind identifies the room events the bridge reacts to.
type EventKind string

const (
	EventTrackPublished        EventKind = "track_published"
	EventTrackSubscribed       EventKind = "track_subscribed"
	EventParticipantDisconnect EventKind = "participant_disconnected"
	EventRoomDisconnect        EventKind = "room_disconnected"
)

// TrackKind mirrors the media kind of a published track.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Event is the emitter-independent form of a room notification. Only the
// fields meaningful for the event kind are populated.
type Event struct {
	Kind                EventKind
	TrackKind           TrackKind
	TrackName           string
	ParticipantIdentity string
}

// Handler receives room events in delivery order.
type Handler func(Event)

// Conn is an exclusively-owned handle to a live room connection.
type Conn interface {
	Disconnect()
}

// ConnectRequest carries everything needed to join a room as a synthetic
// participant. The token already encodes room name and identity.
type ConnectRequest struct {
	URL   string
	Token string
}

// Gateway joins rooms and surfaces their events through a Handler.
type Gateway interface {
	Connect(ctx context.Context, req ConnectRequest, handler Handler) (Conn, error)
}
