// Package daemon runs the agent under the host's service manager and
// installs it as a system service.
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"thermoboard-agent/internal/agent"
	"thermoboard-agent/internal/config"

	"github.com/kardianos/service"
	"github.com/rs/zerolog"
)

const (
	ServiceName = "thermoboardd"
	ServiceDesc = "Thermoboard serial temperature sensor agent"
)

// program adapts the agent to the service manager's start/stop calls.
type program struct {
	cfg    *config.Config
	log    zerolog.Logger
	agent  *agent.Agent
	cancel context.CancelFunc
}

func (p *program) Start(s service.Service) error {
	a, err := agent.New(p.cfg, p.log)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		cancel()
		return err
	}
	p.agent = a
	p.cancel = cancel
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.agent == nil {
		return nil
	}
	err := p.agent.Stop()
	p.cancel()
	p.log.Info().Msg("agent stopped")
	return err
}

func serviceConfig(args []string) (*service.Config, error) {
	exePath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}
	exePath, err = filepath.EvalSymlinks(exePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve symlink for executable: %w", err)
	}
	return &service.Config{
		Name:        ServiceName,
		DisplayName: ServiceName,
		Description: ServiceDesc,
		Executable:  exePath,
		Arguments:   args,
	}, nil
}

// Run starts the agent and blocks until the service manager, or an
// interrupt when run interactively, stops it.
func Run(cfg *config.Config, log zerolog.Logger) error {
	svcConfig, err := serviceConfig(nil)
	if err != nil {
		return err
	}
	s, err := service.New(&program{cfg: cfg, log: log}, svcConfig)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	if service.Interactive() {
		log.Info().Msg("running in foreground, press Ctrl+C to stop")
	}
	return s.Run()
}

// Install registers the binary as a system service running with the given
// configuration file, replacing any previous installation, and starts it.
func Install(configPath string, log zerolog.Logger) error {
	args := []string{"run"}
	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return fmt.Errorf("failed to get absolute path for config: %w", err)
		}
		args = append(args, "-config", abs)
	}

	svcConfig, err := serviceConfig(args)
	if err != nil {
		return err
	}
	s, err := service.New(&program{log: log}, svcConfig)
	if err != nil {
		return fmt.Errorf("failed to create service definition: %w", err)
	}

	status, err := s.Status()
	if err == nil && status == service.StatusRunning {
		log.Info().Msg("service is running, stopping it first")
		if err := s.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to stop existing service")
		}
	}

	// reinstall so a changed binary path or config path takes effect
	_ = s.Uninstall()

	log.Info().Msg("installing system service")
	if err := s.Install(); err != nil {
		return fmt.Errorf("failed to install service (do you have root privileges?): %w", err)
	}

	log.Info().Msg("starting system service")
	if err := s.Start(); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	return nil
}

// Uninstall stops and removes the system service.
func Uninstall(log zerolog.Logger) error {
	svcConfig, err := serviceConfig(nil)
	if err != nil {
		return err
	}
	s, err := service.New(&program{log: log}, svcConfig)
	if err != nil {
		return fmt.Errorf("failed to create service definition: %w", err)
	}
	if err := s.Stop(); err != nil {
		log.Warn().Err(err).Msg("failed to stop service")
	}
	if err := s.Uninstall(); err != nil {
		return fmt.Errorf("failed to uninstall service: %w", err)
	}
	return nil
}
