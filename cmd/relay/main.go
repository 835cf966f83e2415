// Relay: message relay hub for videoboard endpoints.
//
// Endpoints connect over WebSocket with ?id=<endpoint>&pin=<pin> and exchange
// inbox records through it. Records are kept in memory, or in Redis Streams
// with --redis so they survive a hub restart.
package main

import (
	"context"
	"os"
	"os/signal"

	gonanoid "github.com/matoous/go-nanoid"
	"github.com/pterm/pterm"
	flag "github.com/spf13/pflag"

	"github.com/1ureka/videoboard/internal/metrics"
	"github.com/1ureka/videoboard/internal/relay"
	"github.com/1ureka/videoboard/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	listen := flag.StringP("listen", "l", ":8080", "Address to listen on")
	pin := flag.String("pin", "", "PIN required from endpoints (random if empty)")
	noPIN := flag.Bool("no-pin", false, "Accept endpoints without a PIN")
	redisAddr := flag.String("redis", "", "Redis address for durable inboxes (memory if empty)")
	prefix := flag.String("prefix", "videoboard", "Redis key prefix")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Printfln("Videoboard relay — v%s", version)
	pterm.Println()

	if *pin == "" && !*noPIN {
		generated, err := gonanoid.Generate("0123456789", 6)
		if err != nil {
			util.LogError("failed to generate PIN: %v", err)
			os.Exit(1)
		}
		*pin = generated
	}

	var backend relay.Relay
	if *redisAddr != "" {
		rr, err := relay.DialRedis(ctx, *redisAddr, *prefix)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		defer rr.Close()
		backend = rr
		util.LogInfo("Inboxes stored in Redis at %s", *redisAddr)
	} else {
		backend = relay.NewMemoryRelay()
		util.LogInfo("Inboxes stored in memory")
	}

	hub := relay.NewHub(backend, *pin)
	port, err := hub.Start(*listen)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	defer hub.Close()

	if *metricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, *metricsAddr); err != nil {
				util.LogWarning("metrics server: %v", err)
			}
		}()
	}

	pterm.DefaultBox.WithTitle("Relay hub").Println(
		pterm.Sprintf("Port : %d\nPIN  : %s", port, displayPIN(*pin)))
	pterm.Println()

	<-ctx.Done()
	util.LogInfo("relay hub stopped")
}

func displayPIN(pin string) string {
	if pin == "" {
		return "(none)"
	}
	return pin
}
