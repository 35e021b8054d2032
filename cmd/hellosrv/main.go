package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/fabrpc/internal/config"
	"github.com/danmuck/fabrpc/internal/logging"
	"github.com/danmuck/fabrpc/internal/nexus"
	"github.com/danmuck/fabrpc/internal/rpc"
	"github.com/danmuck/fabrpc/internal/sm"
	"github.com/danmuck/fabrpc/internal/timing"
	"github.com/danmuck/fabrpc/internal/transport"
	"github.com/danmuck/fabrpc/internal/udp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "hellosrv: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logging.ConfigureRuntime()

	cfgPath := flag.String("config", "", "path to fabrpc TOML config (defaults apply if empty)")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	nx, err := nexus.New(cfg.Hostname, cfg.MgmtUDPPort)
	if err != nil {
		return err
	}
	defer nx.Close()

	sender := udp.NewClient(cfg.MgmtUDPPort, cfg.DropProb)
	nx.SetSender(sender)

	if cfg.AdminAddr != "" {
		go func() {
			if err := nx.ServeAdmin(cfg.AdminAddr); err != nil {
				log.Error().Err(err).Msg("admin server failed")
			}
		}()
	}

	ep := cfg.Endpoints[0]
	tr := transport.NewDatagram(cfg.Hostname, cfg.DataUDPPort)
	handler := func(s *rpc.Session, event sm.EventType, errType sm.ErrType) {
		log.Info().
			Uint32("session", s.LocalNum()).
			Str("event", event.String()).
			Str("err", errType.String()).
			Msg("sm event")
	}

	end, err := rpc.NewEndpoint(nx, ep.AppTID, handler, tr, sender, timing.NewCycleClock(), ep.PhyPorts)
	if err != nil {
		return err
	}
	defer end.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("endpoint", end.Name()).Msg("serving sessions")
	end.RunEventLoop(ctx)
	return nil
}
