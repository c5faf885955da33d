// Package rtc resolves who is joining, mints their room token, and opens the
// room-side records for device-initiated sessions.
package rtc

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"carecall-rtc/internal/identity"
	"carecall-rtc/internal/mediarouter"
	"carecall-rtc/internal/rbac"
	"carecall-rtc/internal/rtcerr"
	"carecall-rtc/internal/store"
	"carecall-rtc/pkg/logger"

	"github.com/google/uuid"
)

// Participant roles understood by the token grant policy.
const (
	RoleObserver = "observer"
	RoleHost     = "host"
)

var (
	validRole     = regexp.MustCompile(`^[a-zA-Z_-]{1,32}$`)
	validRoomName = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
)

// ValidRole reports whether role is well-formed. Unknown roles get the
// default grants.
func ValidRole(role string) bool { return validRole.MatchString(role) }

// Directory is the user and device lookup the resolver needs.
type Directory interface {
	FindUserByDeviceToken(ctx context.Context, kind store.TokenKind, token string) (store.User, bool, error)
	FindUserByIdentity(ctx context.Context, identity string) (store.User, bool, error)
	UpsertUser(ctx context.Context, identity, name string) (store.User, error)
	UpsertDevice(ctx context.Context, d store.Device) error
}

type TokenMinter interface {
	Mint(req mediarouter.TokenRequest) (mediarouter.SignedToken, error)
}

// DeviceInfo carries the push credentials a device presents when asking for a token.
type DeviceInfo struct {
	VoIPToken       string
	APNsToken       string
	Platform        string
	Env             string
	SupportsCallKit bool
}

// Initiated reports whether the request counts as a device-initiated session.
func (d *DeviceInfo) Initiated() bool {
	return d != nil && (d.VoIPToken != "" || d.APNsToken != "")
}

// Caller is the verified API bearer, if any.
type Caller struct {
	Identity string
	Name     string
	Role     string
}

type TokenRequest struct {
	RoomName string
	Identity string
	Name     string
	Role     string
	Device   *DeviceInfo

	// Caller is nil for unauthenticated requests.
	Caller *Caller
}

// Session is what a client needs to join the room.
type Session struct {
	LiveKitURL string    `json:"livekitUrl"`
	RoomName   string    `json:"roomName"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Identity   string    `json:"identity"`
	Name       string    `json:"name"`
	Role       string    `json:"role"`
	CallID     string    `json:"callId,omitempty"`
}

type Issuer struct {
	dir       Directory
	reg       *Registrar
	minter    TokenMinter
	routerURL string
	log       *slog.Logger

	newRoomName func() string
}

func NewIssuer(dir Directory, reg *Registrar, minter TokenMinter, routerURL string, log *slog.Logger) *Issuer {
	return &Issuer{
		dir:         dir,
		reg:         reg,
		minter:      minter,
		routerURL:   routerURL,
		log:         log,
		newRoomName: func() string { return "room-" + uuid.NewString() },
	}
}

// PermissionsFor maps a participant role to its token grants.
// observer only listens; host administers the room invisibly.
func PermissionsFor(role string) mediarouter.Permissions {
	switch role {
	case RoleObserver:
		return mediarouter.Permissions{CanSubscribe: true}
	case RoleHost:
		return mediarouter.Permissions{
			CanPublish:     true,
			CanSubscribe:   true,
			CanPublishData: true,
			RoomAdmin:      true,
			Hidden:         true,
		}
	default:
		return mediarouter.Permissions{CanPublish: true, CanSubscribe: true, CanPublishData: true}
	}
}

type resolved struct {
	identity string
	name     string
	user     store.User
	known    bool

	// viaDevice is set when a presented push token matched the user.
	viaDevice bool
}

// resolve walks the candidates in fixed order: VoIP token, APNs token, supplied
// identity, bearer identity. A device hit overrides whatever the client asserted.
func (i *Issuer) resolve(ctx context.Context, req TokenRequest) (resolved, error) {
	if d := req.Device; d != nil {
		for _, c := range []struct {
			kind  store.TokenKind
			token string
		}{
			{store.TokenKindVoIP, d.VoIPToken},
			{store.TokenKindAPNs, d.APNsToken},
		} {
			if c.token == "" {
				continue
			}
			u, ok, err := i.dir.FindUserByDeviceToken(ctx, c.kind, c.token)
			if err != nil {
				return resolved{}, err
			}
			if ok {
				name := u.Name
				if name == "" {
					name = req.Name
				}
				return resolved{identity: u.Identity, name: name, user: u, known: true, viaDevice: true}, nil
			}
		}
	}

	id := strings.TrimSpace(req.Identity)
	if id == "" && req.Caller != nil {
		id = req.Caller.Identity
	}
	if id == "" {
		return resolved{}, nil
	}
	out := resolved{identity: id, name: req.Name}
	if out.name == "" && req.Caller != nil && req.Caller.Identity == id {
		out.name = req.Caller.Name
	}

	u, ok, err := i.dir.FindUserByIdentity(ctx, id)
	if err != nil {
		return resolved{}, err
	}
	if ok {
		out.user, out.known = u, true
		if out.name == "" {
			out.name = u.Name
		}
	}
	return out, nil
}

// Issue resolves the caller's identity and mints a room token. Only bad input,
// missing auth, or a failed lookup reach the caller as errors.
func (i *Issuer) Issue(ctx context.Context, req TokenRequest) (Session, error) {
	role := strings.TrimSpace(req.Role)
	if !validRole.MatchString(role) {
		return Session{}, rtcerr.BadRequest("role is missing or invalid")
	}
	if role == RoleHost {
		if req.Caller == nil {
			return Session{}, rtcerr.Unauthorized("host requires an authenticated operator")
		}
		if !rbac.IsStaff(req.Caller.Role) {
			return Session{}, rtcerr.Forbidden("host requires an operator role")
		}
	}

	res, err := i.resolve(ctx, req)
	if err != nil {
		return Session{}, rtcerr.Upstream("resolve identity", err)
	}
	if res.identity == "" {
		return Session{}, rtcerr.BadRequest("identity is required")
	}
	if role == RoleHost {
		res.identity = identity.AsOperator(res.identity)
	}
	if !identity.Valid(res.identity) {
		return Session{}, rtcerr.BadRequest("identity is invalid")
	}

	if req.Caller == nil && !res.known {
		return Session{}, rtcerr.Unauthorized("identity is not registered")
	}

	l := logger.FromOr(ctx, i.log).With("identity", res.identity)
	device := req.Device.Initiated()

	room := strings.TrimSpace(req.RoomName)
	if device {
		room = i.newRoomName()
	} else if !validRoomName.MatchString(room) {
		return Session{}, rtcerr.BadRequest("roomName is missing or invalid")
	}

	// only staff may act for someone else
	if c := req.Caller; c != nil && !rbac.IsStaff(c.Role) {
		if id := strings.TrimSpace(req.Identity); id != "" && id != c.Identity {
			return Session{}, rtcerr.Forbidden("identity does not match the signed-in user")
		}
	}

	if device {
		if res.viaDevice || (req.Caller != nil && req.Caller.Identity == res.identity) {
			i.recordDevice(ctx, l, &res, req.Device)
		} else {
			l.Warn("push tokens not bound: requester does not own the identity")
		}
	}

	name := res.name
	if name == "" {
		name = res.identity
	}
	tok, err := i.minter.Mint(mediarouter.TokenRequest{
		Room:        room,
		Identity:    res.identity,
		Name:        name,
		Permissions: PermissionsFor(role),
	})
	if err != nil {
		return Session{}, err
	}

	s := Session{
		LiveKitURL: i.routerURL,
		RoomName:   room,
		Token:      tok.Token,
		ExpiresAt:  tok.ExpiresAt,
		Identity:   res.identity,
		Name:       name,
		Role:       role,
	}
	if device {
		s.CallID = i.reg.OpenSession(ctx, room, res.identity, role)
	}
	l.Info("room token issued", "room", room, "role", role, "device", device, "call_id", s.CallID)
	return s, nil
}

// recordDevice makes sure an authenticated device user exists and binds its push tokens.
// Failures are logged; the session proceeds.
func (i *Issuer) recordDevice(ctx context.Context, l *slog.Logger, res *resolved, d *DeviceInfo) {
	if !res.known {
		u, err := i.dir.UpsertUser(ctx, res.identity, res.name)
		if err != nil {
			l.Warn("user upsert failed", "err", rtcerr.Transient("upsert user", err))
			return
		}
		res.user, res.known = u, true
	}
	for _, c := range []struct {
		kind  store.TokenKind
		token string
	}{
		{store.TokenKindVoIP, d.VoIPToken},
		{store.TokenKindAPNs, d.APNsToken},
	} {
		if c.token == "" {
			continue
		}
		err := i.dir.UpsertDevice(ctx, store.Device{
			UserID:          res.user.ID,
			TokenKind:       c.kind,
			Token:           c.token,
			Platform:        d.Platform,
			Env:             d.Env,
			SupportsCallKit: d.SupportsCallKit,
		})
		if err != nil {
			l.Warn("device upsert failed", "token_kind", c.kind, "err", rtcerr.Transient("upsert device", err))
		}
	}
}
