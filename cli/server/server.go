// Package server wires the coordinator's process-lifetime commands: node
// starts the full service set, configcheck loads and validates a
// configuration file without starting anything.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/commerceblock/guardnode-coordinator/cli/cmdargs"
	"github.com/commerceblock/guardnode-coordinator/cli/options"
	"github.com/commerceblock/guardnode-coordinator/pkg/api"
	"github.com/commerceblock/guardnode-coordinator/pkg/challenger"
	"github.com/commerceblock/guardnode-coordinator/pkg/clientchain"
	"github.com/commerceblock/guardnode-coordinator/pkg/config"
	"github.com/commerceblock/guardnode-coordinator/pkg/coordinator"
	"github.com/commerceblock/guardnode-coordinator/pkg/guardtype"
	"github.com/commerceblock/guardnode-coordinator/pkg/listener"
	"github.com/commerceblock/guardnode-coordinator/pkg/payments"
	"github.com/commerceblock/guardnode-coordinator/pkg/servicechain"
	"github.com/commerceblock/guardnode-coordinator/pkg/store/mongostore"
)

// NewCommands returns the coordinator's top-level commands.
func NewCommands() []*cli.Command {
	cfgFlags := []cli.Flag{options.ConfigFile, options.Debug, options.ForceTimestampLogs}
	return []*cli.Command{
		{
			Name:      "node",
			Usage:     "Start the guardnode challenge coordinator",
			UsageText: "coordinatord node --config-file file [-d] [--force-timestamp-logs]",
			Action:    startServer,
			Flags:     cfgFlags,
		},
		{
			Name:      "configcheck",
			Usage:     "Load and validate a configuration file without starting any service",
			UsageText: "coordinatord configcheck --config-file file",
			Action:    configCheck,
			Flags:     []cli.Flag{options.ConfigFile},
		},
	}
}

func configCheck(ctx *cli.Context) error {
	if err := cmdargs.EnsureNone(ctx); err != nil {
		return err
	}
	if _, err := options.GetConfigFromContext(ctx); err != nil {
		return cli.Exit(err, 1)
	}
	fmt.Fprintln(ctx.App.Writer, "configuration is valid")
	return nil
}

func newGraceContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	signal.Notify(stop, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()
	return ctx
}

// ingressBuffer bounds the channel between the Listener and the Challenge
// Engine; a guardnode racing a window close should never block the HTTP
// handler serving it.
const ingressBuffer = 256

// doneBuffer bounds the channel between the Orchestrator and the payments
// feeder; one slot per request in flight is more than this coordinator
// ever services concurrently, so a small buffer is purely a convenience
// against goroutine startup ordering.
const doneBuffer = 16

func startServer(ctx *cli.Context) error {
	if err := cmdargs.EnsureNone(ctx); err != nil {
		return err
	}

	cfg, err := options.GetConfigFromContext(ctx)
	if err != nil {
		return cli.Exit(err, 1)
	}
	logDebug := ctx.Bool(options.Debug.Name)
	log, logLevel, logCloser, err := options.HandleLoggingParams(ctx, cfg.Logging)
	if err != nil {
		return cli.Exit(err, 1)
	}
	if logCloser != nil {
		defer func() { _ = logCloser() }()
	}

	grace, cancel := context.WithCancel(newGraceContext())
	defer cancel()

	genesisHash, err := guardtype.ParseHash(cfg.Clientchain.GenesisHash)
	if err != nil {
		return cli.Exit(fmt.Errorf("invalid clientchain.genesisHash: %w", err), 1)
	}

	dbCtx, dbCancel := context.WithTimeout(grace, 10*time.Second)
	st, err := mongostore.Connect(dbCtx, mongoURI(cfg.Storage), cfg.Storage.Name)
	dbCancel()
	if err != nil {
		return cli.Exit(fmt.Errorf("failed to connect to storage: %w", err), 1)
	}

	service := servicechain.New(cfg.Service.Host, cfg.Service.User, cfg.Service.Pass)
	client := clientchain.New(cfg.Clientchain.Host, cfg.Clientchain.User, cfg.Clientchain.Pass)

	state := guardtype.NewSharedState(guardtype.Request{}, nil)
	ingress := make(chan guardtype.ChallengeResponse, ingressBuffer)
	done := make(chan guardtype.Hash, doneBuffer)

	coordCfg := coordinator.Config{
		GenesisHash:         genesisHash,
		BlockTime:           cfg.Service.BlockTime,
		ServiceBlockTimeSec: cfg.Service.BlockTime.Seconds(),
		ClientBlockTimeSec:  cfg.Clientchain.BlockTime.Seconds(),
		Engine: challenger.Config{
			ChallengeFrequency: cfg.Challenge.Frequency,
			ChallengeDuration:  cfg.Challenge.Duration,
			VerifyDuration:     cfg.Challenge.VerifyDuration,
			RefreshDelay:       cfg.Challenge.RefreshDelay,
			AssetKey:           cfg.Clientchain.AssetKey,
		},
	}
	coord := coordinator.New(coordCfg, service, client, st, state, ingress, done, log)

	lst := listener.New(listener.Config{Address: cfg.Listener.Host, User: cfg.Listener.User, Pass: cfg.Listener.Pass}, log, state, ingress)
	apiSrv := api.New(api.Config{Address: cfg.API.Host, User: cfg.API.User, Pass: cfg.API.Pass, MetricsEnabled: cfg.Metrics.Enabled}, log, st)
	feeder := payments.NewLoggingFeeder(st, log)

	errCh := make(chan error, 8)
	go func() { errCh <- wrapNamed("listener", lst.Run()) }()
	go func() { errCh <- wrapNamed("api", apiSrv.Run()) }()
	go func() { errCh <- wrapNamed("coordinator", coord.Run(grace)) }()
	go func() { errCh <- wrapNamed("payments", feeder.Run(grace, done)) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, sighup)

	var shutdownErr error
Main:
	for {
		select {
		case err := <-errCh:
			if err != nil {
				shutdownErr = err
				cancel()
			}
		case sig := <-sigCh:
			log.Info("signal received", zap.Stringer("name", sig))
			cfgnew, err := options.GetConfigFromContext(ctx)
			if err != nil {
				log.Warn("can't reread the config file, signal ignored", zap.Error(err))
				break // Continue working.
			}
			if !logDebug && cfgnew.Logging.LogLevel != cfg.Logging.LogLevel {
				newLevel, err := zapcore.ParseLevel(cfgnew.Logging.LogLevel)
				if err != nil {
					log.Warn("wrong LogLevel in configuration, signal ignored", zap.Error(err))
					break
				}
				logLevel.SetLevel(newLevel)
				log.Warn("using new logging level", zap.Stringer("level", newLevel))
			}
			cfg = cfgnew
		case <-grace.Done():
			signal.Stop(sigCh)
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = lst.Shutdown(shutCtx)
			_ = apiSrv.Shutdown(shutCtx)
			shutCancel()
			break Main
		}
	}

	if shutdownErr != nil {
		return cli.Exit(shutdownErr, 1)
	}
	return nil
}

func wrapNamed(name string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func mongoURI(s config.Storage) string {
	if s.User == "" {
		return fmt.Sprintf("mongodb://%s", s.Host)
	}
	return fmt.Sprintf("mongodb://%s:%s@%s", s.User, s.Pass, s.Host)
}
