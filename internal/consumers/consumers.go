// Package consumers stops and starts the services that depend on a protected
// store while it is being restored.
package consumers

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/rowjay/drkit/internal/util"
)

// Controller stops and starts named services.
type Controller interface {
	Stop(ctx context.Context, services []string) error
	Start(ctx context.Context, services []string) error
}

// Compose controls services of a docker compose project.
type Compose struct {
	File    string
	Project string
	Runner  util.Runner
	Log     zerolog.Logger
}

func (c Compose) Stop(ctx context.Context, services []string) error {
	return c.run(ctx, "stop", services)
}

func (c Compose) Start(ctx context.Context, services []string) error {
	return c.run(ctx, "start", services)
}

func (c Compose) run(ctx context.Context, action string, services []string) error {
	if len(services) == 0 {
		return errors.New("no services given")
	}
	cmd := util.NewCmd("docker", "compose").
		Flag("-f", c.File).
		Flag("-p", c.Project).
		Arg(action).
		Arg(services...)
	c.Log.Info().Str("cmd", cmd.String()).Msg("controlling services")
	return c.Runner.Run(ctx, cmd)
}
