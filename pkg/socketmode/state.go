package socketmode

// State is the lifecycle state of a [Client].
type State int32

const (
	// StateIdle means the client was never started.
	StateIdle State = iota
	// StateConnecting means the client is generating a WebSocket
	// URL and performing the handshake, for the first time.
	StateConnecting
	// StateRunning means the receive loop is active, with an open connection.
	StateRunning
	// StateReconnecting means the connection was lost, or the server asked
	// to disconnect, and a replacement connection is pending.
	StateReconnecting
	// StateStopped means [Client.Start] returned, either because of
	// [Client.Disconnect] or because reconnection attempts were exhausted.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
