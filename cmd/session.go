package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BioHazard786/warpmeet/internal/config"
	"github.com/BioHazard786/warpmeet/internal/logging"
	"github.com/BioHazard786/warpmeet/internal/media"
	"github.com/BioHazard786/warpmeet/internal/peer"
	"github.com/BioHazard786/warpmeet/internal/room"
	"github.com/BioHazard786/warpmeet/internal/signaling"
	"github.com/BioHazard786/warpmeet/internal/ui"
	"github.com/spf13/cobra"
)

// roomFlags are shared by host and join.
type roomFlags struct {
	domain     string
	stun       string
	turn       string
	turnUser   string
	turnPass   string
	relay      bool
	redis      string
	transports string
	configFile string
	name       string
	audioOnly  bool
	logFile    string
}

func (f *roomFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.domain, "domain", "", "Custom domain")
	cmd.Flags().StringVarP(&f.stun, "stun", "s", "", "Custom STUN server(s), comma separated")
	cmd.Flags().StringVarP(&f.turn, "turn", "t", "", "Custom TURN server")
	cmd.Flags().StringVar(&f.turnUser, "turn-user", "", "TURN username")
	cmd.Flags().StringVar(&f.turnPass, "turn-pass", "", "TURN password")
	cmd.Flags().BoolVarP(&f.relay, "relay", "r", false, "Force relay mode")
	cmd.Flags().StringVar(&f.redis, "redis", "", "Redis address for pub/sub signaling")
	cmd.Flags().StringVar(&f.transports, "transports", "", "Signaling transports in preference order (relay,redis,bus,store)")
	cmd.Flags().StringVar(&f.configFile, "config", "", "Config file (default $XDG_CONFIG_HOME/warpmeet/config.yaml)")
	cmd.Flags().StringVarP(&f.name, "name", "n", "", "Display name (default: your user name)")
	cmd.Flags().BoolVarP(&f.audioOnly, "audio-only", "a", false, "Join without camera")
	cmd.Flags().StringVar(&f.logFile, "log-file", "", "Write logs here while the room is open (default: temp dir)")
}

func (f *roomFlags) displayName() string {
	if f.name != "" {
		return f.name
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "Guest"
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, room.NewError("load config", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

func (f *roomFlags) load() (*config.Config, error) {
	return LoadConfig(config.Options{
		Domain:     f.domain,
		STUNServer: f.stun,
		TURNServer: f.turn,
		TURNUser:   f.turnUser,
		TURNPass:   f.turnPass,
		ForceRelay: f.relay,
		RedisAddr:  f.redis,
		Transports: f.transports,
		ConfigFile: f.configFile,
	})
}

// redirectLogs sends slog output to a file so it does not draw over the
// console. The returned func closes the file.
func redirectLogs(path string) (string, func(), error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "warpmeet.log")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return "", nil, room.WrapError("open log file", err, path)
	}
	logging.InitWithWriter(file)
	return path, func() { file.Close() }, nil
}

// runRoom wires signaling, media and peer connections into an
// orchestrator, joins, and shows the console until the user leaves.
func runRoom(ctx context.Context, flags *roomFlags, opts room.JoinOptions) error {
	cfg, err := flags.load()
	if err != nil {
		return err
	}

	logPath, closeLogs, err := redirectLogs(flags.logFile)
	if err != nil {
		return err
	}
	defer closeLogs()

	transports, err := signaling.NewTransports(cfg, logging.Component("signaling"))
	if err != nil {
		return room.NewError("set up signaling", err)
	}
	for _, t := range transports {
		if c, ok := t.(interface{ Close() error }); ok {
			defer c.Close()
		}
	}

	factory, err := peer.NewPionFactory(cfg)
	if err != nil {
		return room.NewError("set up webrtc", err)
	}

	console := ui.NewConsole()
	orch := room.New(room.Config{
		Transports:        transports,
		Provider:          media.NewSampleProvider(media.SampleOptions{NoVideo: opts.AudioOnly}),
		Factory:           factory,
		Listener:          console,
		Logger:            logging.Component("room"),
		PeerRetryDelay:    cfg.PeerRetryDelay,
		PeerMaxRetries:    cfg.PeerMaxRetries,
		ReconnectBase:     cfg.ReconnectBase,
		ReconnectMax:      cfg.ReconnectMax,
		ReconnectAttempts: cfg.ReconnectAttempts,
	})
	defer orch.Close()

	fmt.Println()
	sp := ui.NewConnectionSpinner("Joining room...")
	sp.Start()
	if err := orch.Join(ctx, opts); err != nil {
		sp.Error("Could not join the room")
		if notice := ui.EndedNotice(orch.Status()); notice != "" {
			fmt.Println(notice)
		}
		return err
	}
	sp.Stop()

	if opts.Host {
		fmt.Println(ui.NewRoomInfo(opts.RoomID, cfg.GetRoomLink(opts.RoomID), opts.Title).View())
		fmt.Println()
	}
	ui.PrintInfof("Logs: %s", logPath)

	status, err := console.Run(ctx, orch)
	if err != nil {
		return room.NewError("room console", err)
	}

	outcome := "left"
	switch status {
	case room.StatusRejected:
		outcome = "rejected by host"
	case room.StatusDisconnected:
		if !opts.Host {
			outcome = "host ended the room"
		}
	}

	orch.Leave()
	summary := orch.Summary()
	fmt.Println()
	if notice := ui.EndedNotice(status); notice != "" {
		fmt.Println(notice)
	}
	ui.RenderRoomSummary(ui.IconComplete+" Room Summary", ui.RoomSummary{
		RoomID:       summary.RoomID,
		Title:        summary.Title,
		Host:         summary.Host,
		Duration:     summary.Duration,
		Participants: summary.Seen,
		Outcome:      outcome,
	})

	if status == room.StatusRejected {
		return room.NewError("join", fmt.Errorf("the host declined your request"))
	}
	return nil
}
