package room

import (
	"context"
	"fmt"

	"github.com/livekit/protocol/logger"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
)

// LiveKitGateway implements Gateway on top of the LiveKit server SDK.
type LiveKitGateway struct{}

func NewLiveKitGateway() *LiveKitGateway {
	return &LiveKitGateway{}
}

type liveKitConn struct {
	room *lksdk.Room
}

func (c *liveKitConn) Disconnect() {
	c.room.Disconnect()
}

type connectResult struct {
	room *lksdk.Room
	err  error
}

// Connect joins the room identified by the token and forwards room events to
// handler. The SDK connect call has no deadline of its own, so it runs under
// the caller's context; a connection that lands after cancellation is
// disconnected immediately.
func (g *LiveKitGateway) Connect(ctx context.Context, req ConnectRequest, handler Handler) (Conn, error) {
	if req.URL == "" || req.Token == "" {
		return nil, fmt.Errorf("room: url and token are required")
	}

	cb := &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackPublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				handler(Event{
					Kind:                EventTrackPublished,
					TrackKind:           trackKindOf(pub.Kind()),
					TrackName:           pub.Name(),
					ParticipantIdentity: rp.Identity(),
				})
			},
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				handler(Event{
					Kind:                EventTrackSubscribed,
					TrackKind:           remoteTrackKindOf(track),
					TrackName:           pub.Name(),
					ParticipantIdentity: rp.Identity(),
				})
			},
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			handler(Event{
				Kind:                EventParticipantDisconnect,
				ParticipantIdentity: rp.Identity(),
			})
		},
		OnDisconnected: func() {
			handler(Event{Kind: EventRoomDisconnect})
		},
	}

	resultCh := make(chan connectResult, 1)
	go func() {
		rm, err := lksdk.ConnectToRoomWithToken(req.URL, req.Token, cb, lksdk.WithAutoSubscribe(true))
		resultCh <- connectResult{room: rm, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("room: connect: %w", res.err)
		}
		return &liveKitConn{room: res.room}, nil
	case <-ctx.Done():
		go func() {
			if res := <-resultCh; res.err == nil {
				logger.Infow("discarding room connection established after cancellation")
				res.room.Disconnect()
			}
		}()
		return nil, fmt.Errorf("room: connect: %w", ctx.Err())
	}
}

func trackKindOf(kind lksdk.TrackKind) TrackKind {
	if kind == lksdk.TrackKindAudio {
		return TrackAudio
	}
	return TrackVideo
}

func remoteTrackKindOf(track *webrtc.TrackRemote) TrackKind {
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		return TrackAudio
	}
	return TrackVideo
}
