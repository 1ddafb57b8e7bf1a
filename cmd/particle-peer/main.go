package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fluencelabs/go-client/internal/config"
	"github.com/fluencelabs/go-client/internal/peerapi"
	"github.com/fluencelabs/go-client/internal/utils"
)

func main() {
	relay := flag.String("relay", "", "relay multiaddr, e.g. /dns4/relay.example/tcp/7001/p2p/12D3KooW...")
	avmWasmPath := flag.String("avm-wasm", "", "path to the compiled AIR interpreter wasm module (required)")
	ttl := flag.Uint("ttl", 7000, "default particle ttl in milliseconds")
	script := flag.String("script", `(call %init_peer_id% ("sig" "get_peer_id") [] peer_id)`, "AIR script to run")
	fireAndForget := flag.Bool("fire-and-forget", false, "run the script without awaiting a response")
	flag.Parse()

	logger := utils.DefaultLogger("particle-peer")

	cfg := config.DefaultPeerConfig()
	cfg.DefaultTTLMs = uint32(*ttl)
	cfg.RelayMultiaddr = *relay
	cfg.SkipCheckConnection = *relay == ""
	cfg.AVMWasmPath = *avmWasmPath

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	peer, err := peerapi.Start(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start peer", utils.Err(err))
	}

	shutdown := utils.NewGracefulShutdown(10*time.Second, logger)
	shutdown.Register(peer.Stop)

	logger.Info("peer started", utils.String("peerId", peer.PeerID()))

	callCtx, cancelCall := context.WithTimeout(ctx, time.Duration(cfg.DefaultTTLMs)*time.Millisecond)
	defer cancelCall()

	result, err := peer.CallAquaFunction(callCtx, *script, nil, peerapi.CallOptions{FireAndForget: *fireAndForget})
	if err != nil {
		logger.Error("call failed", utils.Err(err))
	} else {
		fmt.Println(string(result))
	}

	<-ctx.Done()
	if err := shutdown.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown reported errors", utils.Err(err))
		os.Exit(1)
	}
}
