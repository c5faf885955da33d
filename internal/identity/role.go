// Package identity classifies participant identities by their namespace prefix.
//
// Classification is a pure function of the identity string. The reaper and the
// takeover controller act on live media-router state and must never consult the
// database to decide who a participant is.
package identity

import (
	"regexp"
	"strings"
)

// Kind is the participant class encoded in an identity's namespace.
type Kind int

const (
	// EndUser identities look like "<provider>_<id>", e.g. "kakao_1".
	EndUser Kind = iota
	Operator
	Agent
	Bot
)

const (
	OperatorPrefix = "admin_"
	AgentPrefix    = "agent-"
	BotPrefix      = "bot-"
)

func (k Kind) String() string {
	switch k {
	case Operator:
		return "operator"
	case Agent:
		return "agent"
	case Bot:
		return "bot"
	default:
		return "end_user"
	}
}

// Role is an identity tagged with its Kind. Produce it once with Classify at the
// boundary and pass it around instead of re-inspecting prefixes.
type Role struct {
	Kind Kind
	Raw  string
}

// Classify tags an identity. Unknown namespaces are end users.
func Classify(identity string) Role {
	switch {
	case strings.HasPrefix(identity, OperatorPrefix):
		return Role{Kind: Operator, Raw: identity}
	case strings.HasPrefix(identity, AgentPrefix):
		return Role{Kind: Agent, Raw: identity}
	case strings.HasPrefix(identity, BotPrefix):
		return Role{Kind: Bot, Raw: identity}
	default:
		return Role{Kind: EndUser, Raw: identity}
	}
}

func (r Role) IsOperator() bool { return r.Kind == Operator }
func (r Role) IsAgent() bool    { return r.Kind == Agent }

// IsRealUser reports whether the participant keeps a room alive.
// Bots stand in for a device during test sessions, so they count.
func (r Role) IsRealUser() bool {
	return r.Kind == EndUser || r.Kind == Bot
}

func (r Role) String() string { return r.Raw }

// AsOperator returns identity namespaced as an operator. Already-prefixed input is returned as-is.
func AsOperator(identity string) string {
	if strings.HasPrefix(identity, OperatorPrefix) {
		return identity
	}
	return OperatorPrefix + identity
}

var validIdentity = regexp.MustCompile(`^[A-Za-z0-9_.:@-]{1,128}$`)

// Valid reports whether identity is acceptable as a media-router participant identity.
func Valid(identity string) bool {
	return validIdentity.MatchString(identity)
}
