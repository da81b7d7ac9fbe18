package commands

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/ulid/v2"

	appprovision "github.com/slok/firstboot/internal/app/provision"
	"github.com/slok/firstboot/internal/config"
	journalsqlite "github.com/slok/firstboot/internal/journal/sqlite"
	"github.com/slok/firstboot/internal/log"
	"github.com/slok/firstboot/internal/oscmd"
	"github.com/slok/firstboot/internal/procwait"
	"github.com/slok/firstboot/internal/progress"
	"github.com/slok/firstboot/internal/provision/appconfig"
	"github.com/slok/firstboot/internal/provision/network"
	"github.com/slok/firstboot/internal/provision/packages"
	"github.com/slok/firstboot/internal/provision/secrets"
	"github.com/slok/firstboot/internal/provision/storage"
	"github.com/slok/firstboot/internal/step"
	"github.com/slok/firstboot/internal/systemd"
)

type RunCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewRunCommand returns the run command.
func NewRunCommand(rootCmd *RootCommand, app *kingpin.Application) *RunCommand {
	c := &RunCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("run", "Execute the one-shot provisioning sequence.")

	return c
}

func (c RunCommand) Name() string { return c.Cmd.FullCommand() }

func (c RunCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	// Everything in the sequence (partitioning, mounting, package installs,
	// key rotation) needs root. Re-exec the identical invocation under sudo
	// instead of failing halfway through.
	if os.Geteuid() != 0 {
		logger.Infof("Not running as root, re-executing under sudo")
		return c.reexecWithSudo(ctx)
	}

	cfg, err := config.Load(c.rootCmd.ConfigPath)
	if err != nil {
		return fmt.Errorf("could not load configuration: %w", err)
	}

	// Progress stream goes to stdout, logs to stderr.
	reporter, err := progress.NewConsole(progress.ConsoleConfig{Out: c.rootCmd.Stdout})
	if err != nil {
		return fmt.Errorf("could not create progress reporter: %w", err)
	}

	steps, err := step.NewRunner(step.RunnerConfig{Reporter: reporter, Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create step runner: %w", err)
	}

	cmdRunner, err := oscmd.NewExecRunner(oscmd.ExecRunnerConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create command runner: %w", err)
	}

	waiter, err := procwait.NewWaiter(procwait.WaiterConfig{
		Reporter: reporter,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("could not create process waiter: %w", err)
	}

	// Initialize journal (SQLite).
	journalRepo, err := journalsqlite.NewRepository(ctx, journalsqlite.RepositoryConfig{
		DBPath: c.rootCmd.JournalPath,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create journal repository: %w", err)
	}

	systemdManager, err := systemd.NewDBusManager(ctx, systemd.DBusManagerConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create systemd manager: %w", err)
	}
	defer systemdManager.Close()

	runID := ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String()
	logger = logger.WithValues(log.Kv{"run-id": runID})

	networkConfigurator, err := network.NewConfigurator(network.ConfiguratorConfig{
		Steps:  steps,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create network configurator: %w", err)
	}

	storageProvisioner, err := storage.NewProvisioner(storage.ProvisionerConfig{
		Steps:   steps,
		Cmd:     cmdRunner,
		Journal: journalRepo,
		Logger:  logger,
		RunID:   runID,
		Layout:  cfg.Storage,
	})
	if err != nil {
		return fmt.Errorf("could not create storage provisioner: %w", err)
	}

	packageUpdater, err := packages.NewUpdater(packages.UpdaterConfig{
		Steps:   steps,
		Cmd:     cmdRunner,
		Waiter:  waiter,
		Systemd: systemdManager,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("could not create package updater: %w", err)
	}

	secretsRotator, err := secrets.NewRotator(secrets.RotatorConfig{
		Steps:          steps,
		Systemd:        systemdManager,
		Logger:         logger,
		HostKeyPath:    cfg.Secrets.HostKeyPath,
		SSHUnit:        cfg.Secrets.SSHUnit,
		CertPath:       cfg.Secrets.CertPath,
		CertKeyPath:    cfg.Secrets.CertKeyPath,
		CertCommonName: cfg.Secrets.CertCommonName,
		CertValidity:   time.Duration(cfg.Secrets.CertValidityDays) * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("could not create secrets rotator: %w", err)
	}

	appConfigPatcher, err := appconfig.NewPatcher(appconfig.PatcherConfig{
		Steps:          steps,
		Logger:         logger,
		SettingsDBPath: cfg.App.SettingsDBPath,
		Settings:       cfg.App.Settings,
		Patch:          cfg.App.Patch,
		EnvCachePath:   cfg.App.EnvCachePath,
	})
	if err != nil {
		return fmt.Errorf("could not create app config patcher: %w", err)
	}

	// Create provision service.
	svc, err := appprovision.NewService(appprovision.ServiceConfig{
		Config:    cfg,
		Network:   networkConfigurator,
		Storage:   storageProvisioner,
		Packages:  packageUpdater,
		Secrets:   secretsRotator,
		AppConfig: appConfigPatcher,
		Logger:    logger,
		Out:       c.rootCmd.Stdout,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	// Execute provisioning.
	err = svc.Run(ctx)
	if err != nil {
		var fatalErr *step.FatalError
		if errors.As(err, &fatalErr) {
			fmt.Fprintf(c.rootCmd.Stderr, "\nERROR: %s\n", fatalErr)
		}
		return fmt.Errorf("provisioning failed: %w", err)
	}

	return nil
}

// reexecWithSudo replays the exact invocation under sudo with the terminal
// attached, then mirrors the child's outcome.
func (c RunCommand) reexecWithSudo(ctx context.Context) error {
	args := append([]string{}, os.Args...)
	cmd := exec.CommandContext(ctx, "sudo", args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("provisioning under sudo failed: %w", err)
	}

	return nil
}
