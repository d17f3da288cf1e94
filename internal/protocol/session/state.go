package session

import "fmt"

type State uint8

const (
	StateInit State = iota
	StateConnected
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Snapshot is a read-only view of the connection context. Secrets are reported
// only as present or absent.
type Snapshot struct {
	State         State
	ConnectionID  uint32
	HostID        string
	ServiceID     string
	HasServerKey  bool
	HasAESKey     bool
	HasSessionKey bool
}
