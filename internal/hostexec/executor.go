package hostexec

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"

	apperrors "github.com/turbotransfer/host/internal/errors"
	"github.com/turbotransfer/host/internal/model"
)

// Runner executes a single process invocation.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

type Options struct {
	DryRun bool
	GOOS   string
	Runner Runner
}

// Executor runs power commands on the machine the host is serving from.
type Executor struct {
	dryRun bool
	goos   string
	run    Runner
}

func NewExecutor(opts Options) *Executor {
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.Runner == nil {
		opts.Runner = execRunner
	}
	return &Executor{
		dryRun: opts.DryRun,
		goos:   opts.GOOS,
		run:    opts.Runner,
	}
}

func (e *Executor) Execute(ctx context.Context, command model.HostCommand) error {
	argv, err := commandLine(e.goos, command)
	if err != nil {
		return err
	}

	if e.dryRun {
		log.Info().
			Str("command", string(command)).
			Str("exec", strings.Join(argv, " ")).
			Msg("dry run: host command not executed")
		return nil
	}

	out, err := e.run(ctx, argv[0], argv[1:]...)
	if err != nil {
		log.Error().
			Err(err).
			Str("command", string(command)).
			Str("output", strings.TrimSpace(string(out))).
			Msg("host command failed")
		return fmt.Errorf("%s: %w", argv[0], err)
	}

	log.Info().Str("command", string(command)).Msg("host command executed")
	return nil
}

func commandLine(goos string, command model.HostCommand) ([]string, error) {
	var table map[model.HostCommand][]string
	switch goos {
	case "windows":
		table = windowsCommands
	case "darwin":
		table = darwinCommands
	case "linux":
		table = linuxCommands
	default:
		return nil, apperrors.New(apperrors.ErrCodeCommandFailed, "Host commands are not supported on "+goos)
	}

	argv, ok := table[command]
	if !ok {
		return nil, apperrors.UnknownCommand(string(command))
	}
	return argv, nil
}

var windowsCommands = map[model.HostCommand][]string{
	model.HostCommandLock:     {"rundll32.exe", "user32.dll,LockWorkStation"},
	model.HostCommandSleep:    {"rundll32.exe", "powrprof.dll,SetSuspendState", "0,1,0"},
	model.HostCommandShutdown: {"shutdown", "/s", "/t", "0"},
	model.HostCommandRestart:  {"shutdown", "/r", "/t", "0"},
}

var darwinCommands = map[model.HostCommand][]string{
	model.HostCommandLock:     {"pmset", "displaysleepnow"},
	model.HostCommandSleep:    {"pmset", "sleepnow"},
	model.HostCommandShutdown: {"osascript", "-e", `tell app "System Events" to shut down`},
	model.HostCommandRestart:  {"osascript", "-e", `tell app "System Events" to restart`},
}

var linuxCommands = map[model.HostCommand][]string{
	model.HostCommandLock:     {"loginctl", "lock-session"},
	model.HostCommandSleep:    {"systemctl", "suspend"},
	model.HostCommandShutdown: {"systemctl", "poweroff"},
	model.HostCommandRestart:  {"systemctl", "reboot"},
}
