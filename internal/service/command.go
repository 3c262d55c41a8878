package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/turbotransfer/host/internal/audit"
	apperrors "github.com/turbotransfer/host/internal/errors"
	"github.com/turbotransfer/host/internal/model"
)

// Executor performs a host command on the operating system.
type Executor interface {
	Execute(ctx context.Context, command model.HostCommand) error
}

type SessionAuthorizer interface {
	Authorize(sessionID string) (*model.Session, error)
}

type CommandService struct {
	sessions SessionAuthorizer
	executor Executor
}

func NewCommandService(sessions SessionAuthorizer, executor Executor) *CommandService {
	return &CommandService{
		sessions: sessions,
		executor: executor,
	}
}

// Send relays command on behalf of an authenticated session.
func (s *CommandService) Send(ctx context.Context, sessionID, command string) error {
	session, err := s.sessions.Authorize(sessionID)
	if err != nil {
		return err
	}
	return s.relay(ctx, session.ID, session.DeviceName, command)
}

// SendAsHost relays command issued from the host itself.
func (s *CommandService) SendAsHost(ctx context.Context, command string) error {
	return s.relay(ctx, "", "host", command)
}

func (s *CommandService) relay(ctx context.Context, sessionID, source, command string) error {
	cmd := model.HostCommand(command)
	if !cmd.IsValid() {
		return apperrors.UnknownCommand(command)
	}

	audit.Log(ctx, audit.Event{
		Type:       audit.EventHostCommand,
		SessionID:  sessionID,
		DeviceName: source,
		Details:    map[string]interface{}{"command": command},
	})

	if err := s.executor.Execute(ctx, cmd); err != nil {
		log.Error().Err(err).Str("command", command).Str("source", source).Msg("host command failed")
		return apperrors.CommandFailed(command, err)
	}
	return nil
}
