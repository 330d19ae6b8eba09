package session

import (
	"context"

	"github.com/qmuntal/stateless"
)

// State of a connection.
type State string

const (
	StateConnected     State = "Connected"
	StateAuthenticated State = "Authenticated"
	StateDisconnected  State = "Disconnected"
)

// Trigger moves a connection between states.
type Trigger string

const (
	TriggerLoginSucceeded Trigger = "LoginSucceeded"
	TriggerDisconnect     Trigger = "Disconnect"
)

// Lifecycle is the per-connection state machine:
//
//	Connected --LoginSucceeded--> Authenticated --LoginSucceeded--> Authenticated
//	Connected|Authenticated --Disconnect--> Disconnected
//
// A failed login fires nothing. Disconnected is terminal.
type Lifecycle struct {
	fsm *stateless.StateMachine
}

func NewLifecycle() *Lifecycle {
	fsm := stateless.NewStateMachine(StateConnected)

	fsm.Configure(StateConnected).
		Permit(TriggerLoginSucceeded, StateAuthenticated).
		Permit(TriggerDisconnect, StateDisconnected)

	fsm.Configure(StateAuthenticated).
		PermitReentry(TriggerLoginSucceeded).
		Permit(TriggerDisconnect, StateDisconnected)

	fsm.Configure(StateDisconnected)

	return &Lifecycle{fsm: fsm}
}

// State is the current state.
func (l *Lifecycle) State() State {
	return l.fsm.MustState().(State)
}

// Authenticated reports whether the connection may send chat messages.
func (l *Lifecycle) Authenticated() bool {
	return l.State() == StateAuthenticated
}

// Live reports whether the connection has not disconnected yet.
func (l *Lifecycle) Live() bool {
	return l.State() != StateDisconnected
}

// LoginSucceeded moves the connection to Authenticated. It fails once the
// connection is Disconnected.
func (l *Lifecycle) LoginSucceeded(ctx context.Context) error {
	return l.fsm.FireCtx(ctx, TriggerLoginSucceeded)
}

// Disconnect moves the connection to Disconnected and reports whether it was
// Authenticated before. Disconnecting twice is a no-op.
func (l *Lifecycle) Disconnect(ctx context.Context) (wasAuthenticated bool, err error) {
	previous := l.State()
	if previous == StateDisconnected {
		return false, nil
	}
	if err := l.fsm.FireCtx(ctx, TriggerDisconnect); err != nil {
		return false, err
	}
	return previous == StateAuthenticated, nil
}
