// Videoboard CLI entry point.
//
// Runs one call endpoint of a video board: it answers calls addressed to its
// id through the message relay and places calls from an interactive prompt.
//
// Configuration is read from a YAML file (--config), .env and VIDEOBOARD_*
// variables, then overridden by flags.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/pterm/pterm"
	flag "github.com/spf13/pflag"

	"github.com/1ureka/videoboard/internal/app"
	"github.com/1ureka/videoboard/internal/config"
	"github.com/1ureka/videoboard/internal/media"
	"github.com/1ureka/videoboard/internal/metrics"
	"github.com/1ureka/videoboard/internal/negotiation"
	"github.com/1ureka/videoboard/internal/relay"
	"github.com/1ureka/videoboard/internal/util"
)

var version = "dev"

// reloadExitCode is returned when a remote endpoint asked for a reload, so a
// service manager restarts the process.
const reloadExitCode = 3

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	configPath := flag.StringP("config", "c", "", "YAML configuration file")
	id := flag.String("id", "", "Endpoint id")
	relayURL := flag.String("relay", "", "Relay hub URL (e.g. wss://relay.example.org/ws)")
	pin := flag.String("pin", "", "Relay hub PIN")
	redisAddr := flag.String("redis", "", "Use Redis Streams at this address instead of a hub")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address")
	mediaMode := flag.String("media", "synthetic", "Local media: synthetic or none")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(".env"); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	override := func(name string, dst *string, v string) {
		if flag.CommandLine.Changed(name) {
			*dst = v
		}
	}
	override("id", &cfg.ID, *id)
	override("relay", &cfg.Relay.URL, *relayURL)
	override("pin", &cfg.Relay.PIN, *pin)
	override("redis", &cfg.Relay.RedisAddr, *redisAddr)
	override("metrics", &cfg.MetricsAddr, *metricsAddr)
	if *debugMode {
		cfg.Debug = true
	}

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Printfln("Videoboard — v%s", version)
	pterm.Println()

	if cfg.ID == "" {
		cfg.ID = askText("Endpoint id for this board")
	}
	if cfg.Relay.URL == "" && cfg.Relay.RedisAddr == "" {
		cfg.Relay.URL = askText("Relay hub URL (e.g. wss://relay.example.org/ws)")
		if cfg.Relay.PIN == "" {
			cfg.Relay.PIN = askText("Relay hub PIN")
		}
	}
	if cfg.Relay.URL != "" {
		normalized, err := normalizeWSURL(cfg.Relay.URL)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg.Relay.URL = normalized
	}
	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	r, closeRelay, err := dialRelay(ctx, cfg)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	defer closeRelay()

	var provider media.Provider = media.Unavailable{}
	if *mediaMode == "synthetic" {
		provider = media.SyntheticProvider{}
	}

	reload := make(chan string, 1)
	endpoint, err := app.New(app.Options{
		ID:          cfg.ID,
		Relay:       r,
		Media:       provider,
		Constraints: cfg.Constraints(),
		ICEServers:  cfg.ICEServers,
		Timeout:     cfg.Timeout,
		StaleWindow: cfg.StaleWindow,
		Hooks:       hooks(cfg, reload),
	})
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	defer endpoint.Close()

	util.StartStatsReporter(ctx)
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				util.LogWarning("metrics server: %v", err)
			}
		}()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- endpoint.Run(ctx) }()

	util.LogSuccess("Board %q is online", cfg.ID)
	printHelp()
	printPeers(cfg)

	commands := make(chan string)
	go readCommands(commands)

	for {
		select {
		case line, ok := <-commands:
			if !ok {
				// No terminal attached; keep answering calls.
				commands = nil
				continue
			}
			if quit := execute(ctx, endpoint, cfg, line); quit {
				return
			}

		case err := <-runErr:
			if err != nil {
				util.LogError("inbox stopped: %v", err)
				endpoint.Close()
				os.Exit(1)
			}
			return

		case src := <-reload:
			util.LogWarning("Reload requested by %s", src)
			endpoint.Close()
			closeRelay()
			os.Exit(reloadExitCode)

		case <-ctx.Done():
			util.LogInfo("shutting down")
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Endpoint wiring
// ---------------------------------------------------------------------------

// dialRelay connects to the configured relay and returns a function that
// releases it.
func dialRelay(ctx context.Context, cfg *config.Config) (relay.Relay, func(), error) {
	if cfg.Relay.URL != "" {
		c, err := relay.DialWS(ctx, cfg.Relay.URL, cfg.ID, cfg.Relay.PIN)
		if err != nil {
			return nil, nil, err
		}
		util.LogInfo("Connected to relay hub %s", cfg.Relay.URL)
		return c, func() { c.Close() }, nil
	}

	rr, err := relay.DialRedis(ctx, cfg.Relay.RedisAddr, cfg.Relay.Prefix)
	if err != nil {
		return nil, nil, err
	}
	util.LogInfo("Using Redis inboxes at %s", cfg.Relay.RedisAddr)
	return rr, func() { rr.Close() }, nil
}

func hooks(cfg *config.Config, reload chan<- string) app.Hooks {
	return app.Hooks{
		OnSessionOpened: func(remote, _ string) {
			pterm.Info.Printfln("Calling %s…", label(cfg, remote))
		},
		OnSessionClosed: func(remote, _, reason string) {
			pterm.Info.Printfln("Call with %s ended (%s)", label(cfg, remote), reason)
		},
		OnState: func(remote string, state negotiation.State) {
			if state == negotiation.Connected {
				pterm.Success.Printfln("Connected to %s", label(cfg, remote))
			}
		},
		OnRemoteStream: func(remote, streamID string) {
			util.LogInfo("Receiving %s's stream %s", label(cfg, remote), streamID)
		},
		OnMediaError: func(err error) {
			util.LogWarning("Local media unavailable: %v (use /retry)", err)
		},
		OnCaption: func(src, text string) {
			pterm.DefaultBasicText.Println(pterm.Bold.Sprintf("%s:", label(cfg, src)) + " " + text)
		},
		OnReload: func(src string) {
			select {
			case reload <- src:
			default:
			}
		},
	}
}

// ---------------------------------------------------------------------------
// Prompt
// ---------------------------------------------------------------------------

func printHelp() {
	pterm.DefaultSection.Println("Commands")
	pterm.Println("  /call [id]            call a board (id optional with a single peer)")
	pterm.Println("  /stop                 hang up")
	pterm.Println("  /retry                acquire local media again")
	pterm.Println("  /peek <board> <id>    make <board> call <id>")
	pterm.Println("  /reload <board>       restart <board>")
	pterm.Println("  /quit                 exit")
	pterm.Println("  anything else         show as a caption on the remote board")
	pterm.Println()
}

// readCommands forwards stdin lines until EOF.
func readCommands(out chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
	close(out)
}

// execute runs one prompt line and reports whether the program should exit.
func execute(ctx context.Context, e *app.Endpoint, cfg *config.Config, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/call":
		target := ""
		if len(fields) > 1 {
			target = fields[1]
		} else {
			target = pickPeer(cfg)
		}
		if target == "" {
			util.LogWarning("usage: /call <id>")
			return false
		}
		if err := e.Call(target); err != nil {
			util.LogWarning("call %s: %v", target, err)
		}

	case "/stop":
		if !e.Stop() {
			util.LogWarning("no active call")
		}

	case "/retry":
		if err := e.RetryMedia(ctx); err != nil {
			util.LogWarning("media: %v", err)
		}

	case "/peek":
		if len(fields) != 3 {
			util.LogWarning("usage: /peek <board> <id>")
			return false
		}
		report(e.SendPeek(ctx, fields[1], fields[2]))

	case "/reload":
		if len(fields) != 2 {
			util.LogWarning("usage: /reload <board>")
			return false
		}
		report(e.SendReload(ctx, fields[1]))

	case "/help":
		printHelp()

	default:
		if strings.HasPrefix(fields[0], "/") {
			util.LogWarning("unknown command %s", fields[0])
			return false
		}
		remote, _, ok := e.Active()
		if !ok {
			util.LogWarning("captions need an active call")
			return false
		}
		report(e.SendCaption(ctx, remote, line))
	}
	return false
}

func report(err error) {
	if err != nil {
		util.LogWarning("%v", err)
	}
}

// pickPeer returns the only configured peer, or lists them all for the user
// to choose from and returns "".
func pickPeer(cfg *config.Config) string {
	if len(cfg.Peers) == 1 {
		for id := range cfg.Peers {
			return id
		}
	}
	printPeers(cfg)
	return ""
}

func printPeers(cfg *config.Config) {
	if len(cfg.Peers) == 0 {
		return
	}

	ids := make([]string, 0, len(cfg.Peers))
	for id := range cfg.Peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	data := pterm.TableData{{"Board", "Label"}}
	for _, id := range ids {
		data = append(data, []string{id, cfg.Peers[id]})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	pterm.Println()
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

func label(cfg *config.Config, id string) string {
	if name, ok := cfg.Peers[id]; ok && name != "" {
		return fmt.Sprintf("%s (%s)", name, id)
	}
	return id
}

// normalizeWSURL validates and normalizes a raw relay hub URL.
func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}

// askText prompts until a non-empty answer is entered.
func askText(prompt string) string {
	for {
		raw, err := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}

		raw = strings.TrimSpace(raw)
		pterm.Println()
		if raw != "" {
			return raw
		}
		util.LogWarning("a value is required")
	}
}
