package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chordring/internal/bootstrap"
	"chordring/internal/chordnode"
	"chordring/internal/config"
	"chordring/internal/logger"
	zapfactory "chordring/internal/logger/zap"
	"chordring/internal/node"
	"chordring/internal/telemetry"
	"chordring/internal/transport/grpc"
)

var defaultConfigPath = "config/chordnode.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %q: %v", *configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	var lgr logger.Logger = logger.NopLogger{}
	if cfg.Logger.Active {
		zapLog, err := zapfactory.New(cfg.Logger)
		if err != nil {
			log.Fatalf("failed to initialize logger: %v", err)
		}
		defer func() { _ = zapLog.Sync() }()
		lgr = zapfactory.NewAdapter(zapLog)
	}

	space, err := chordnode.NewSpace(cfg.Ring.IDBits, cfg.Ring.SuccessorListSize, cfg.Ring.MaximumHops)
	if err != nil {
		lgr.Error("failed to initialize identifier space", logger.F("error", err.Error()))
		os.Exit(1)
	}

	advertised := cfg.Node.Advertise
	if advertised == "" {
		advertised = fmt.Sprintf("%s:%d", cfg.Node.Host, cfg.Node.Port)
	}
	bindAddr := fmt.Sprintf("%s:%d", cfg.Node.Bind, cfg.Node.Port)

	self := chordnode.NodeInfo{Address: advertised, ID: space.NodeID(advertised)}
	lgr = lgr.Named("node")
	lgr.Info("initializing node", logger.FNode("self", self))

	shutdownTracer, err := telemetry.InitTracer(cfg.Telemetry, "chordring-node", self.ID)
	if err != nil {
		lgr.Error("failed to initialize telemetry", logger.F("error", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	transport, err := grpc.New(self, bindAddr, cfg.Telemetry.Tracing.Enabled, lgr.Named("transport"))
	if err != nil {
		lgr.Error("failed to initialize transport", logger.F("error", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = transport.Close() }()
	lgr.Debug("listening", logger.F("bind_addr", bindAddr), logger.F("advertised_addr", advertised))

	n := node.New(self, space, transport, node.Options{
		FailureTimeout:        cfg.Ring.FailureTimeout,
		StabilizationInterval: cfg.Ring.StabilizationInterval,
		WorkerPoolSize:        cfg.Dispatch.WorkerPoolSize,
		SchedulerPoolSize:     cfg.Dispatch.SchedulerPoolSize,
	}, lgr.Named("ring"))

	var register bootstrap.Bootstrap
	switch cfg.Bootstrap.Mode {
	case "route53":
		register, err = bootstrap.NewRoute53Bootstrap(context.Background(), cfg.Bootstrap.Route53, space)
		if err != nil {
			lgr.Error("failed to initialize route53 bootstrap", logger.F("error", err.Error()))
			os.Exit(1)
		}
	default:
		register = bootstrap.NewStaticBootstrap(cfg.Bootstrap.Peers, space)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	peers, err := register.Discover(ctx)
	cancel()
	if err != nil {
		lgr.Error("failed to resolve bootstrap peers", logger.F("error", err.Error()))
		os.Exit(1)
	}
	lgr.Info("resolved bootstrap peers", logger.F("count", len(peers)))

	// Start serving before joining: a join's lookup has to reach this node's
	// own handler if the seed routes back through it, and the seed must be
	// able to reach us to answer at all.
	runCtx, runCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	n.Start(runCtx, cfg.Ring.StabilizationInterval)

	if len(peers) != 0 {
		joinCtx, joinCancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := n.Join(joinCtx, peers)
		joinCancel()
		if err != nil {
			lgr.Error("failed to join ring", logger.F("error", err.Error()))
			runCancel()
			n.Stop()
			os.Exit(1)
		}
		lgr.Info("joined ring")
	} else {
		n.CreateRing()
	}

	regCtx, regCancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = register.Register(regCtx, self)
	regCancel()
	if err != nil {
		lgr.Warn("failed to register with bootstrap discovery", logger.F("error", err.Error()))
	} else {
		defer func() {
			deregCtx, deregCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer deregCancel()
			if err := register.Deregister(deregCtx, self); err != nil {
				lgr.Warn("failed to deregister node", logger.F("error", err.Error()))
			}
		}()
	}

	<-runCtx.Done()
	lgr.Info("shutdown signal received, leaving ring")

	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := n.Leave(leaveCtx); err != nil {
		lgr.Warn("leave did not complete cleanly", logger.F("error", err.Error()))
	}
	leaveCancel()

	runCancel()
	n.Stop()
	lgr.Info("shut down")
}
