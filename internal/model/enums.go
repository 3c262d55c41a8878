package model

type SessionStatus string

const (
	SessionStatusIdle                SessionStatus = "IDLE"
	SessionStatusPendingVerification SessionStatus = "PENDING_VERIFICATION"
	SessionStatusAuthenticated       SessionStatus = "AUTHENTICATED"
	SessionStatusBlocked             SessionStatus = "BLOCKED"
	SessionStatusExpired             SessionStatus = "EXPIRED"
)

type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

func (d Direction) IsValid() bool {
	return d == DirectionSent || d == DirectionReceived
}

type TransferStatus string

const (
	TransferStatusSuccess TransferStatus = "success"
	TransferStatusFailed  TransferStatus = "failed"
)

type HostCommand string

const (
	HostCommandLock     HostCommand = "lock"
	HostCommandSleep    HostCommand = "sleep"
	HostCommandShutdown HostCommand = "shutdown"
	HostCommandRestart  HostCommand = "restart"
)

var hostCommands = []HostCommand{
	HostCommandLock,
	HostCommandSleep,
	HostCommandShutdown,
	HostCommandRestart,
}

func (c HostCommand) IsValid() bool {
	for _, known := range hostCommands {
		if c == known {
			return true
		}
	}
	return false
}
