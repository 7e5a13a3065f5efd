// Roomcall: CLI entry point.
//
// Joins a room on the relay and holds a one-to-one audio/video call with the
// other participant. Media flows peer to peer; the relay only carries the
// offer/answer/candidate exchange.
//
// It can be launched interactively (no -username/-room) or non-interactively
// via CLI flags.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/roomcall/internal/app"
	"github.com/1ureka/roomcall/internal/config"
	"github.com/1ureka/roomcall/internal/session"
	"github.com/1ureka/roomcall/internal/signaling"
	"github.com/1ureka/roomcall/internal/storage"
	"github.com/1ureka/roomcall/internal/util"
	webrtcpkg "github.com/1ureka/roomcall/internal/webrtc"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	configFile := flag.String("config", "roomcall.yaml", "Path to the YAML config file")
	username := flag.String("username", "", "Name shown to the other participant")
	room := flag.String("room", "", "Room to join")
	relay := flag.String("relay", "", "Relay WebSocket URL (e.g. wss://relay.example.com/ws)")
	audio := flag.String("audio", "", "Ogg/Opus file to send as audio (default: silence)")
	video := flag.String("video", "", "IVF/VP8 file to send as video (default: none)")
	record := flag.String("record", "", "Directory to record the remote tracks into")
	calls := flag.Int("calls", 0, "Print the last N calls from the history and exit")
	save := flag.Bool("save", false, "Write the effective settings back to -config")
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

	pterm.Info.Println(fmt.Sprintf("Roomcall v%s", version))
	pterm.Println()

	if *calls > 0 {
		printHistory(cfg.HistoryDB, *calls)
		return
	}

	// Flags override the file and environment.
	override(&cfg.Username, *username)
	override(&cfg.Room, *room)
	override(&cfg.RelayURL, *relay)
	override(&cfg.AudioFile, *audio)
	override(&cfg.VideoFile, *video)
	override(&cfg.RecordDir, *record)

	// Missing identity → interactive mode.
	if cfg.Username == "" {
		cfg.Username = askText("Your name")
	}
	if cfg.Room == "" {
		cfg.Room = askText("Room to join")
	}

	relayURL, err := normalizeWSURL(cfg.RelayURL)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	cfg.RelayURL = relayURL

	if *save {
		if err := cfg.Save(); err != nil {
			util.LogWarning("could not save config: %v", err)
		} else {
			util.LogInfo("settings saved to %s", cfg.File())
		}
	}

	if err := runCall(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("call closed")
}

// runCall wires the session controller to pion, the relay and the terminal.
func runCall(ctx context.Context, cfg *config.Config) error {
	engine, err := webrtcpkg.NewEngine(cfg.WebRTCICEServers())
	if err != nil {
		return err
	}

	presenter := app.NewPresenter(cfg.RecordDir)
	defer presenter.Wait()

	opts := session.Options{
		Identity: signaling.Identity{Username: cfg.Username, Room: cfg.Room},
		RelayURL: cfg.RelayURL,
		Dial:     session.DialRelay,
		Capture: func(ctx context.Context) (session.Stream, error) {
			s, err := webrtcpkg.Capture(ctx, webrtcpkg.Constraints{
				AudioFile: cfg.AudioFile,
				VideoFile: cfg.VideoFile,
				Width:     cfg.VideoWidth,
				Height:    cfg.VideoHeight,
			})
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		Engine:    engine,
		Presenter: presenter,
	}

	if cfg.HistoryDB != "" {
		store, err := storage.Open(cfg.HistoryDB)
		if err != nil {
			util.LogWarning("call history disabled: %v", err)
		} else {
			defer store.Close()
			opts.History = store
		}
	}

	controller, err := session.New(opts)
	if err != nil {
		return err
	}

	util.StartStatsReporter(ctx)
	return controller.Run(ctx)
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

func override(field *string, flagValue string) {
	if v := strings.TrimSpace(flagValue); v != "" {
		*field = v
	}
}

// normalizeWSURL validates a relay URL. A bare host gets wss:// and /ws.
func normalizeWSURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid relay URL scheme: %s", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

// askText prompts until a non-empty value is entered.
func askText(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		if v := strings.TrimSpace(raw); v != "" {
			pterm.Println()
			return v
		}

		util.LogWarning("a value is required")
		pterm.Println()
	}
}

// printHistory shows the most recent calls as a table.
func printHistory(path string, n int) {
	if path == "" {
		util.LogError("no history_db configured")
		os.Exit(1)
	}

	store, err := storage.Open(path)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	defer store.Close()

	recs, err := store.Recent("", n)
	if err != nil {
		util.LogError("%v", err)
		return
	}

	data := pterm.TableData{{"Started", "User", "Room", "Role", "State", "Duration", "Error"}}
	for _, r := range recs {
		data = append(data, []string{
			r.StartedAt.Format("02 Jan 15:04:05"),
			r.Username,
			r.Room,
			r.Role,
			r.FinalState,
			r.Duration().Round(time.Second).String(),
			r.Error,
		})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
