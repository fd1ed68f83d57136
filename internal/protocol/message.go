package protocol

import (
	"net"
	"strconv"
	"strings"
)

type RedirectKind uint8

const (
	// RedirectHere means the endpoint that answered is the final one.
	RedirectHere RedirectKind = iota
	// RedirectLocal points at another port on the same host.
	RedirectLocal
	// RedirectRemote points at a different host, usually a mirror broker.
	RedirectRemote
	// RedirectUnknown is the broker's terminal "no slot, no mirror" reply.
	RedirectUnknown
)

func (k RedirectKind) String() string {
	switch k {
	case RedirectHere:
		return "HERE"
	case RedirectLocal:
		return "LOCAL"
	case RedirectRemote:
		return "REMOTE"
	case RedirectUnknown:
		return "UNKNOWN"
	default:
		return "INVALID"
	}
}

// Redirect is a parsed broker or dispatcher reply to "where".
type Redirect struct {
	Kind RedirectKind
	Host string
	Port int
}

func Here() Redirect { return Redirect{Kind: RedirectHere} }

func HereAt(port int) Redirect { return Redirect{Kind: RedirectLocal, Port: port} }

func Unknown() Redirect { return Redirect{Kind: RedirectUnknown} }

func (r Redirect) String() string {
	switch r.Kind {
	case RedirectHere:
		return MsgHere
	case RedirectLocal:
		return MsgHere + ":" + strconv.Itoa(r.Port)
	case RedirectRemote:
		return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
	default:
		return MsgUnknown
	}
}

// Target returns the address to dial next given the address that produced
// the reply. It is empty for RedirectHere and RedirectUnknown.
func (r Redirect) Target(from string) (string, error) {
	switch r.Kind {
	case RedirectLocal:
		host, _, err := net.SplitHostPort(from)
		if err != nil {
			return "", Errorf(KindHandshake, "redirect", "bad source address %q: %v", from, err)
		}
		return net.JoinHostPort(host, strconv.Itoa(r.Port)), nil
	case RedirectRemote:
		return net.JoinHostPort(r.Host, strconv.Itoa(r.Port)), nil
	default:
		return "", nil
	}
}

// ParseRedirect parses one of "here", "here:<port>", "<host>:<port>" or
// "unknown".
func ParseRedirect(s string) (Redirect, error) {
	switch s {
	case MsgHere:
		return Here(), nil
	case MsgUnknown:
		return Unknown(), nil
	}

	if rest, ok := strings.CutPrefix(s, MsgHere+":"); ok {
		port, err := ParsePort(rest)
		if err != nil {
			return Redirect{}, Errorf(KindHandshake, "parse redirect", "%q: %v", s, err)
		}
		return HereAt(port), nil
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil || host == "" {
		return Redirect{}, Errorf(KindHandshake, "parse redirect", "unrecognised reply %q", s)
	}
	port, err := ParsePort(portStr)
	if err != nil {
		return Redirect{}, Errorf(KindHandshake, "parse redirect", "%q: %v", s, err)
	}
	return Redirect{Kind: RedirectRemote, Host: host, Port: port}, nil
}

// ParseMirror validates a mirror address in host:port form.
func ParseMirror(s string) (Redirect, error) {
	r, err := ParseRedirect(s)
	if err != nil {
		return Redirect{}, err
	}
	if r.Kind != RedirectRemote {
		return Redirect{}, Errorf(KindProtocol, "parse mirror", "%q is not a host:port address", s)
	}
	return r, nil
}

func ParsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if port < 1 || port > 65535 {
		return 0, Errorf(KindProtocol, "parse port", "port %d out of range", port)
	}
	return port, nil
}
