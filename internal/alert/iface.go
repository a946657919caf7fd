package alert

import "context"

// State of one outbound interface.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateDegraded     State = "degraded"
)

// Interface is the narrow capability every outbound transport implements.
// Adding a transport means adding a variant, nothing more.
type Interface interface {
	Name() string
	Connect(ctx context.Context) error
	Send(ctx context.Context, msg *Outbound) error
	Probe(ctx context.Context) error
	Close() error
}
