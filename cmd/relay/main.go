// Relay: signaling relay entry point.
//
// Serves the WebSocket endpoint the call clients join rooms on. Envelopes are
// forwarded verbatim to the other member of the room; the relay never looks
// inside them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"

	"github.com/1ureka/roomcall/internal/config"
	"github.com/1ureka/roomcall/internal/relay"
	"github.com/1ureka/roomcall/internal/util"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configFile := flag.String("config", "roomcall.yaml", "Path to the YAML config file")
	listen := flag.String("listen", "", "HTTP listen address (default :9000)")
	redisAddr := flag.String("redis", "", "Redis address for room presence (default in-memory)")
	maxPeers := flag.Int("max-peers", relay.DefaultMaxPeers, "Maximum participants per room")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	level := cfg.LogLevel
	if *debugMode {
		level = "debug"
	}
	if err := util.SetLevel(level); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if *redisAddr != "" {
		cfg.RedisAddr = *redisAddr
	}

	pterm.Info.Println(fmt.Sprintf("Roomcall relay v%s", version))
	pterm.Println()

	presence := relay.NewMemoryPresence()
	if cfg.RedisAddr != "" {
		presence, err = relay.NewRedisPresence(ctx, cfg.RedisAddr)
		if err != nil {
			util.LogError("redis presence: %v", err)
			os.Exit(1)
		}
		util.LogInfo("room presence stored in redis at %s", cfg.RedisAddr)
	}
	defer presence.Close()

	server := relay.NewServer(relay.Options{
		Presence: presence,
		MaxPeers: *maxPeers,
	})

	if err := server.ListenAndServe(ctx, cfg.ListenAddr); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("relay stopped")
}
