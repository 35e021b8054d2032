package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

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
		fmt.Fprintf(os.Stderr, "hellocli: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logging.ConfigureRuntime()

	cfgPath := flag.String("config", "", "path to fabrpc TOML config (defaults apply if empty)")
	server := flag.String("server", "localhost", "server hostname")
	serverTID := flag.Uint("tid", 0, "server app tid")
	serverPort := flag.Uint("port", 0, "server fabric port")
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

	var (
		connected    bool
		disconnected bool
		failed       sm.ErrType
		hasFailed    bool
	)
	handler := func(s *rpc.Session, event sm.EventType, errType sm.ErrType) {
		switch event {
		case sm.EventConnected:
			connected = true
		case sm.EventConnectFailed:
			failed = errType
			hasFailed = true
		case sm.EventDisconnected:
			disconnected = true
		}
	}

	ep := cfg.Endpoints[0]
	tr := transport.NewDatagram(cfg.Hostname, cfg.DataUDPPort)
	end, err := rpc.NewEndpoint(nx, ep.AppTID, handler, tr, sender, timing.NewCycleClock(), ep.PhyPorts)
	if err != nil {
		return err
	}
	defer end.Shutdown()

	num, err := end.CreateSession(ep.PhyPorts[0], *server, uint8(*serverTID), uint8(*serverPort))
	if err != nil {
		return err
	}

	for !connected && !hasFailed {
		end.RunEventLoopOnce()
	}
	if hasFailed {
		return errors.New("connect failed: " + failed.String())
	}
	log.Info().Uint32("session", num).Msg("connected")

	if !end.DestroySession(num) {
		return errors.New("destroy rejected")
	}
	for !disconnected {
		end.RunEventLoopOnce()
	}
	log.Info().Uint32("session", num).Msg("disconnected")
	return nil
}
