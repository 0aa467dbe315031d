// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lifecycle

import (
	"context"

	"github.com/AleutianAI/devenv/cmd/dev/internal/configstore"
	"github.com/AleutianAI/devenv/cmd/dev/internal/infra/compose"
	"github.com/AleutianAI/devenv/cmd/dev/internal/infra/process"
	"github.com/AleutianAI/devenv/cmd/dev/internal/util"
)

// =============================================================================
// Stack Operations
// =============================================================================

// UpOptions configures Up.
type UpOptions struct {
	// Build rebuilds images (using the cache) before starting.
	Build bool
}

// Up starts the enabled services tier by tier: database, application,
// then the edge services.
func (c *Controller) Up(ctx context.Context, cfg configstore.Config, opts UpOptions) (*Report, error) {
	op := c.begin("up")
	exec, err := c.executor(ctx, op, cfg.Values())
	if err != nil {
		return op.report, err
	}
	if opts.Build {
		if err := op.step(ctx, "build", "Building images", func() error {
			return exec.Build(ctx, compose.BuildOptions{})
		}); err != nil {
			return op.report, err
		}
	}
	return op.report, c.upTiers(ctx, op, exec)
}

// Start starts existing containers.
func (c *Controller) Start(ctx context.Context, cfg configstore.Config) error {
	return c.single(ctx, cfg, "start", func(exec compose.Executor) error {
		return exec.Start(ctx)
	})
}

// Stop stops containers without removing them.
func (c *Controller) Stop(ctx context.Context, cfg configstore.Config) error {
	return c.single(ctx, cfg, "stop", func(exec compose.Executor) error {
		return exec.Stop(ctx)
	})
}

// Restart restarts containers.
func (c *Controller) Restart(ctx context.Context, cfg configstore.Config) error {
	return c.single(ctx, cfg, "restart", func(exec compose.Executor) error {
		return exec.Restart(ctx)
	})
}

// Down removes containers and networks. Volumes, and with them the
// database, survive.
func (c *Controller) Down(ctx context.Context, cfg configstore.Config) error {
	return c.single(ctx, cfg, "down", func(exec compose.Executor) error {
		return exec.Down(ctx, compose.DownOptions{RemoveOrphans: true})
	})
}

// Rebuild rebuilds every image without cache and recreates the containers.
func (c *Controller) Rebuild(ctx context.Context, cfg configstore.Config) (*Report, error) {
	op := c.begin("rebuild")
	exec, err := c.executor(ctx, op, cfg.Values())
	if err != nil {
		return op.report, err
	}
	if err := op.step(ctx, "build", "Building images without cache", func() error {
		return exec.Build(ctx, compose.BuildOptions{NoCache: true})
	}); err != nil {
		return op.report, err
	}
	err = op.step(ctx, "up", "Recreating containers", func() error {
		return exec.Up(ctx, compose.UpOptions{Services: c.enabledServices(), ForceRecreate: true})
	})
	return op.report, err
}

// single runs one compose call as a one-step operation.
func (c *Controller) single(ctx context.Context, cfg configstore.Config, name string, fn func(compose.Executor) error) error {
	op := c.begin(name)
	exec, err := c.executor(ctx, nil, cfg.Values())
	if err != nil {
		return err
	}
	return op.step(ctx, name, "", func() error { return fn(exec) })
}

// =============================================================================
// Passthrough
// =============================================================================

// Composer runs composer in the app container. A non-zero exit of the
// child is returned as *util.ExitStatus carrying its code.
func (c *Controller) Composer(ctx context.Context, cfg configstore.Config, args []string) error {
	return c.passthrough(ctx, cfg, "composer", ServiceApp, append([]string{"composer"}, args...))
}

// Framework runs the Symfony console in the app container.
func (c *Controller) Framework(ctx context.Context, cfg configstore.Config, args []string) error {
	return c.passthrough(ctx, cfg, "symfony", ServiceApp, append([]string{"php", "bin/console"}, args...))
}

// NPM runs npm in the frontend container. The frontend service must be
// enabled.
func (c *Controller) NPM(ctx context.Context, cfg configstore.Config, args []string) error {
	return c.passthrough(ctx, cfg, "npm", ServiceFrontend, append([]string{"npm"}, args...))
}

// Shell opens an interactive shell in the named service, the app
// container when name is empty. An unknown or disabled name fails with
// *util.TargetError before any command runs.
func (c *Controller) Shell(ctx context.Context, cfg configstore.Config, name string) error {
	if name == "" {
		name = ServiceApp.String()
	}
	svc, err := c.enabled(name)
	if err != nil {
		return err
	}
	return c.passthrough(ctx, cfg, "shell", svc, []string{svc.Shell()})
}

// DatabaseCLI opens the mysql client as the configured user. The password
// reaches the client through MYSQL_PWD and never appears in argv.
func (c *Controller) DatabaseCLI(ctx context.Context, cfg configstore.Config) error {
	user, err := cfg.Get(configstore.KeyMySQLUser)
	if err != nil {
		return err
	}
	password, err := cfg.Get(configstore.KeyMySQLPassword)
	if err != nil {
		return err
	}
	database, err := cfg.Get(configstore.KeyMySQLDatabase)
	if err != nil {
		return err
	}

	env := util.EmptyEnvVars()
	if err := env.Add("MYSQL_PWD", password, true); err != nil {
		return err
	}
	return c.passthroughEnv(ctx, cfg, "mysql", ServiceDatabase, []string{"mysql", "-u" + user, database}, env)
}

func (c *Controller) passthrough(ctx context.Context, cfg configstore.Config, step string, svc Service, command []string) error {
	return c.passthroughEnv(ctx, cfg, step, svc, command, nil)
}

func (c *Controller) passthroughEnv(ctx context.Context, cfg configstore.Config, step string, svc Service, command []string, env *util.EnvVars) error {
	if !c.settings.ServiceEnabled(svc.String()) {
		return &util.TargetError{Name: svc.String(), Known: c.enabledServices()}
	}
	exec, err := c.executor(ctx, nil, cfg.Values())
	if err != nil {
		return err
	}

	op := c.begin(step)
	res := exec.Exec(ctx, compose.ExecOptions{
		Service:     svc.String(),
		Command:     command,
		Interactive: true,
		Env:         env,
		Step:        step,
	})
	op.logger.Info("passthrough finished", "service", svc.String(), "exit_code", res.ExitCode, "duration", res.Duration)
	return passthroughError(res)
}

// passthroughError keeps a child's own exit code. Spawn failures and
// signals stay command errors.
func passthroughError(res process.Result) error {
	if res.Err != nil || res.Signaled {
		return res.AsError()
	}
	if res.ExitCode != 0 {
		return &util.ExitStatus{Code: res.ExitCode}
	}
	return nil
}

// =============================================================================
// Setup
// =============================================================================

// Setup prepares the Symfony application inside a running stack: composer
// install, database creation and migrations, then fixtures. A fixtures
// failure is only a warning; most projects have none.
func (c *Controller) Setup(ctx context.Context, cfg configstore.Config) (*Report, error) {
	op := c.begin("setup")
	exec, err := c.executor(ctx, op, cfg.Values())
	if err != nil {
		return op.report, err
	}

	console := func(step string, args ...string) func() error {
		return func() error {
			res := exec.Exec(ctx, compose.ExecOptions{
				Service: ServiceApp.String(),
				Command: append([]string{"php", "bin/console"}, args...),
				Step:    step,
			})
			return res.AsError()
		}
	}

	steps := []struct {
		name, description string
		fn                func() error
	}{
		{"composer-install", "Installing PHP dependencies", func() error {
			return c.composerInstall(ctx, exec)
		}},
		{"database-create", "Creating the database", console("database-create", "doctrine:database:create", "--if-not-exists")},
		{"migrations", "Running migrations", console("migrations", "doctrine:migrations:migrate", "--no-interaction")},
	}
	for _, s := range steps {
		if err := op.step(ctx, s.name, s.description, s.fn); err != nil {
			return op.report, err
		}
	}

	err = op.optional(ctx, "fixtures", "Loading fixtures", console("fixtures", "doctrine:fixtures:load", "--no-interaction"))
	return op.report, err
}
