package mediarouter

import (
	"errors"
	"time"

	"github.com/livekit/protocol/auth"
)

// Permissions is the grant set carried by a room-access token.
type Permissions struct {
	CanPublish     bool
	CanSubscribe   bool
	CanPublishData bool
	RoomAdmin      bool
	Hidden         bool
}

type TokenRequest struct {
	Room        string
	Identity    string
	Name        string
	Metadata    string
	Permissions Permissions
}

type SignedToken struct {
	Token     string
	ExpiresAt time.Time
}

// Minter signs short-lived room-access tokens with the router's API key pair.
type Minter struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
	now       func() time.Time
}

func NewMinter(apiKey, apiSecret string, ttl time.Duration) (*Minter, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, errors.New("mediarouter: api key and secret are required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Minter{apiKey: apiKey, apiSecret: apiSecret, ttl: ttl, now: time.Now}, nil
}

func (m *Minter) TTL() time.Duration { return m.ttl }

func (m *Minter) Mint(req TokenRequest) (SignedToken, error) {
	if req.Room == "" || req.Identity == "" {
		return SignedToken{}, errors.New("mediarouter: room and identity are required")
	}

	grant := &auth.VideoGrant{
		RoomJoin:  true,
		Room:      req.Room,
		RoomAdmin: req.Permissions.RoomAdmin,
		Hidden:    req.Permissions.Hidden,
	}
	grant.SetCanPublish(req.Permissions.CanPublish)
	grant.SetCanSubscribe(req.Permissions.CanSubscribe)
	grant.SetCanPublishData(req.Permissions.CanPublishData)

	at := auth.NewAccessToken(m.apiKey, m.apiSecret)
	at.SetVideoGrant(grant).
		SetIdentity(req.Identity).
		SetName(req.Name).
		SetValidFor(m.ttl)
	if req.Metadata != "" {
		at.SetMetadata(req.Metadata)
	}

	expiresAt := m.now().Add(m.ttl).UTC()
	tok, err := at.ToJWT()
	if err != nil {
		return SignedToken{}, err
	}
	return SignedToken{Token: tok, ExpiresAt: expiresAt}, nil
}
