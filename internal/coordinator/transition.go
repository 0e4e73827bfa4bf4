package coordinator

import (
	"strings"

	"github.com/avierra/avatarbridge/internal/room"
)

// Action is the side effect a room event demands. Transitions are computed
// purely from (status, event, matching rules) so they can be tested without
// any SDK machinery.
type Action int

const (
	ActionNone Action = iota
	// ActionStartAvatar triggers the avatar-session invocation.
	ActionStartAvatar
	// ActionRemove drops the record; the connection is already gone.
	ActionRemove
	// ActionDisconnectAndRemove releases the room connection, then drops the
	// record.
	ActionDisconnectAndRemove
)

// MatchRules decides which participants and tracks qualify as the coach
// audio source. The literals come from configuration, not code.
type MatchRules struct {
	CoachTrackName      string
	CoachIdentityPrefix string
	// CoachIdentity pins matching to one exact identity when set.
	CoachIdentity string
}

func (r MatchRules) matchesCoach(identity string) bool {
	if r.CoachIdentity != "" {
		return identity == r.CoachIdentity
	}
	return strings.HasPrefix(identity, r.CoachIdentityPrefix)
}

// Transition maps a room event observed in a given status to the action the
// coordinator must perform. Status changes themselves happen at the call
// sites, after the action's side effect succeeds.
func Transition(status Status, ev room.Event, rules MatchRules) Action {
	switch ev.Kind {
	case room.EventRoomDisconnect:
		return ActionRemove
	case room.EventParticipantDisconnect:
		if rules.matchesCoach(ev.ParticipantIdentity) {
			return ActionDisconnectAndRemove
		}
		return ActionNone
	case room.EventTrackPublished, room.EventTrackSubscribed:
		if status != StatusConnected {
			return ActionNone
		}
		if ev.TrackKind != room.TrackAudio {
			return ActionNone
		}
		if ev.TrackName != rules.CoachTrackName {
			return ActionNone
		}
		if !rules.matchesCoach(ev.ParticipantIdentity) {
			return ActionNone
		}
		return ActionStartAvatar
	default:
		return ActionNone
	}
}
