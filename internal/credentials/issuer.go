package credentials

import (
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
)

// Issuer mints signed, time-bounded room-access tokens for the synthetic
// participants the bridge manages (the bridge agent and the avatar).
type Issuer struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
}

func NewIssuer(apiKey, apiSecret string, ttl time.Duration) (*Issuer, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("credentials: api key and secret are required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{apiKey: apiKey, apiSecret: apiSecret, ttl: ttl}, nil
}

// RoomToken issues a join token for identity in roomName with publish,
// subscribe and publish-data grants.
func (i *Issuer) RoomToken(roomName, identity string) (string, error) {
	if roomName == "" {
		return "", fmt.Errorf("credentials: room name is required")
	}
	if identity == "" {
		return "", fmt.Errorf("credentials: identity is required")
	}

	canPublish := true
	canSubscribe := true
	canPublishData := true
	at := auth.NewAccessToken(i.apiKey, i.apiSecret).
		SetIdentity(identity).
		SetValidFor(i.ttl).
		SetVideoGrant(&auth.VideoGrant{
			RoomJoin:       true,
			Room:           roomName,
			CanPublish:     &canPublish,
			CanSubscribe:   &canSubscribe,
			CanPublishData: &canPublishData,
		})

	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("credentials: sign token: %w", err)
	}
	return token, nil
}
