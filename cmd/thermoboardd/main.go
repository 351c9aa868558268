package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"thermoboard-agent/internal/api"
	"thermoboard-agent/internal/board"
	"thermoboard-agent/internal/config"
	"thermoboard-agent/internal/daemon"
	"thermoboard-agent/internal/logger"
	"thermoboard-agent/internal/registry"
	"thermoboard-agent/internal/sensor"
	"thermoboard-agent/internal/serialport"
	"thermoboard-agent/pkg/version"

	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		handleRun()
	case "install":
		handleInstall()
	case "uninstall":
		handleUninstall()
	case "discover":
		handleDiscover()
	case "boards":
		handleBoards()
	case "sensors":
		handleSensors()
	case "connect":
		handleChange("connect")
	case "disconnect":
		handleChange("disconnect")
	case "rename":
		handleRename()
	case "rescan":
		handleRescan()
	case "measure":
		handleMeasure()
	case "version":
		printVersion()
	default:
		printUsage()
		os.Exit(1)
	}
}

// loadConfig reads the configuration and installs the process logger.
func loadConfig(path string, verbose bool) *config.Config {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	logger.New(cfg.Log)
	return cfg
}

func handleRun() {
	runCmd := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := runCmd.String("config", "", "Path to configuration file")
	verbose := runCmd.Bool("v", false, "Enable debug logging")
	runCmd.Parse(os.Args[2:])

	cfg := loadConfig(*configPath, *verbose)
	log.Info().Str("version", version.Version).Str("host_id", cfg.HostID).Msg("thermoboard agent starting")

	if err := daemon.Run(cfg, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("agent failed")
	}
}

func handleInstall() {
	installCmd := flag.NewFlagSet("install", flag.ExitOnError)
	configPath := installCmd.String("config", "", "Path to configuration file")
	installCmd.Parse(os.Args[2:])

	if *configPath != "" {
		if err := writeDefaultConfig(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create configuration: %v\n", err)
			os.Exit(1)
		}
	}
	loadConfig(*configPath, false)
	if err := daemon.Install(*configPath, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("install failed")
	}
	fmt.Printf("Service %s installed and started\n", daemon.ServiceName)
}

// writeDefaultConfig creates path with the default configuration unless a
// file is already there.
func writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil || !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := config.Default().SaveToFile(path); err != nil {
		return err
	}
	fmt.Printf("Wrote default configuration to %s\n", path)
	return nil
}

func handleUninstall() {
	loadConfig("", false)
	if err := daemon.Uninstall(log.Logger); err != nil {
		log.Fatal().Err(err).Msg("uninstall failed")
	}
	fmt.Printf("Service %s removed\n", daemon.ServiceName)
}

// handleDiscover scans the serial ports directly, without a running daemon.
// It is meant for checking wiring and permissions before installing.
func handleDiscover() {
	discoverCmd := flag.NewFlagSet("discover", flag.ExitOnError)
	configPath := discoverCmd.String("config", "", "Path to configuration file")
	measure := discoverCmd.Bool("measure", false, "Connect every sensor and take one reading")
	verbose := discoverCmd.Bool("v", false, "Enable debug logging")
	discoverCmd.Parse(os.Args[2:])

	cfg := loadConfig(*configPath, *verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New(
		serialport.NewLister(cfg.Serial.Patterns),
		serialport.NewOpener(cfg.Serial.BaudRate, cfg.Serial.PollInterval.Std()),
		board.Options{
			HandshakeTimeout: cfg.Serial.HandshakeTimeout.Std(),
			ReadTimeout:      cfg.Serial.ReadTimeout.Std(),
			Logger:           log.Logger,
		},
		log.Logger)
	defer reg.Close()

	if err := runDiscover(ctx, reg, *measure, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("scan failed")
	}
}

// runDiscover scans, optionally connects and reads every sensor, and prints
// what it found.
func runDiscover(ctx context.Context, reg *registry.Registry, measure bool, w io.Writer) error {
	if err := reg.Scan(ctx); err != nil {
		return err
	}

	if measure {
		for _, s := range reg.AllSensors() {
			if _, err := reg.ConnectSensor(s.Name()); err != nil {
				log.Warn().Err(err).Str("sensor", s.Name()).Msg("connect failed")
			}
		}
		if err := reg.MeasureAll(ctx); err != nil {
			log.Warn().Err(err).Msg("measure failed")
		}
	}

	printBoards(w, reg.Boards())
	if measure {
		fmt.Fprintln(w)
		printSensors(w, reg.Sensors(true))
	}
	if rej := reg.Rejections(); len(rej) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%-24s %s\n", "REJECTED PORT", "REASON")
		fmt.Fprintln(w, strings.Repeat("-", 65))
		for _, r := range rej {
			fmt.Fprintf(w, "%-24s %s\n", r.Port, r.Reason)
		}
	}
	return nil
}

// apiClient builds a client for the daemon from the shared -config and
// -addr flags.
func apiClient(flags *flag.FlagSet) (*api.Client, context.Context, context.CancelFunc) {
	configPath := flags.String("config", "", "Path to configuration file")
	addr := flags.String("addr", "", "Daemon API address (defaults to the configured listen address)")
	flags.Parse(os.Args[2:])

	cfg := loadConfig(*configPath, false)
	target := cfg.API.Listen
	if *addr != "" {
		target = *addr
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	return api.NewClient(target), ctx, cancel
}

func handleBoards() {
	flags := flag.NewFlagSet("boards", flag.ExitOnError)
	asJSON := flags.Bool("json", false, "Print JSON")
	client, ctx, cancel := apiClient(flags)
	defer cancel()

	resp, err := client.Boards(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to reach daemon")
	}
	if *asJSON || !isTerminal() {
		printJSON(resp)
		return
	}
	printBoards(os.Stdout, resp.Boards)
}

func handleSensors() {
	flags := flag.NewFlagSet("sensors", flag.ExitOnError)
	connected := flags.Bool("connected", false, "Only list connected sensors")
	asJSON := flags.Bool("json", false, "Print JSON")
	client, ctx, cancel := apiClient(flags)
	defer cancel()

	resp, err := client.Sensors(ctx, *connected)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to reach daemon")
	}
	if *asJSON || !isTerminal() {
		printJSON(resp)
		return
	}
	printSensors(os.Stdout, resp.Sensors)
}

func handleChange(op string) {
	flags := flag.NewFlagSet(op, flag.ExitOnError)
	client, ctx, cancel := apiClient(flags)
	defer cancel()

	if flags.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s %s [-addr host:port] <sensor>\n", os.Args[0], op)
		os.Exit(1)
	}
	name := flags.Arg(0)

	var changed bool
	var err error
	if op == "connect" {
		changed, err = client.Connect(ctx, name)
	} else {
		changed, err = client.Disconnect(ctx, name)
	}
	if err != nil {
		log.Fatal().Err(err).Str("sensor", name).Msg(op + " failed")
	}
	if !changed {
		fmt.Printf("%s: nothing to do (unknown sensor or already %sed)\n", name, op)
		return
	}
	fmt.Printf("%s: %sed\n", name, op)
}

func handleRename() {
	flags := flag.NewFlagSet("rename", flag.ExitOnError)
	client, ctx, cancel := apiClient(flags)
	defer cancel()

	if flags.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s rename [-addr host:port] <old> <new>\n", os.Args[0])
		os.Exit(1)
	}
	changed, err := client.Rename(ctx, flags.Arg(0), flags.Arg(1))
	if err != nil {
		log.Fatal().Err(err).Msg("rename failed")
	}
	if !changed {
		fmt.Printf("%s: not renamed (unknown sensor or %q is taken)\n", flags.Arg(0), flags.Arg(1))
		os.Exit(1)
	}
	fmt.Printf("%s -> %s\n", flags.Arg(0), flags.Arg(1))
}

func handleRescan() {
	flags := flag.NewFlagSet("rescan", flag.ExitOnError)
	client, ctx, cancel := apiClient(flags)
	defer cancel()

	resp, err := client.Scan(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("rescan failed")
	}
	printBoards(os.Stdout, resp.Boards)
	for _, r := range resp.Rejections {
		fmt.Printf("skipped %s: %s\n", r.Port, r.Reason)
	}
}

func handleMeasure() {
	flags := flag.NewFlagSet("measure", flag.ExitOnError)
	asJSON := flags.Bool("json", false, "Print JSON")
	client, ctx, cancel := apiClient(flags)
	defer cancel()

	resp, err := client.Measure(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("measure failed")
	}
	if *asJSON || !isTerminal() {
		printJSON(resp)
		return
	}
	printSensors(os.Stdout, resp.Sensors)
	for _, e := range resp.Errors {
		fmt.Fprintf(os.Stderr, "error: %s\n", e)
	}
}

func printVersion() {
	fmt.Printf("%s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildDate)
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// lineWidth is the terminal width, capped so tables stay readable.
func lineWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 || w > 100 {
		return 80
	}
	return w
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatal().Err(err).Msg("encode output")
	}
}

func printBoards(w io.Writer, boards []registry.BoardInfo) {
	fmt.Fprintf(w, "%-10s %-24s %-8s %s\n", "BOARD", "PORT", "PINS", "STATE")
	fmt.Fprintln(w, strings.Repeat("-", lineWidth()))
	for _, b := range boards {
		fmt.Fprintf(w, "%-10s %-24s %-8d %s\n", b.Name, b.Port, len(b.Sensors), b.State)
	}
}

func printSensors(w io.Writer, sensors []sensor.Info) {
	width := lineWidth()
	nameWidth := 24
	if width < 70 {
		nameWidth = 16
	}
	fmt.Fprintf(w, "%-*s %-10s %-4s %-10s %s\n", nameWidth, "SENSOR", "BOARD", "PIN", "CONNECTED", "TEMPERATURE")
	fmt.Fprintln(w, strings.Repeat("-", width))
	for _, s := range sensors {
		temp := "-"
		switch {
		case s.Value != nil:
			temp = fmt.Sprintf("%.2f", *s.Value)
		case s.OutOfRange:
			temp = "out of range"
		}
		fmt.Fprintf(w, "%-*s %-10s %-4d %-10t %s\n", nameWidth, s.Name, s.Board, s.Pin, s.Connected, temp)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [arguments]\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "\nAvailable commands:")
	fmt.Fprintln(os.Stderr, "  run         Run the agent in the foreground or under the service manager")
	fmt.Fprintln(os.Stderr, "  install     Install and start the agent as a system service")
	fmt.Fprintln(os.Stderr, "  uninstall   Stop and remove the system service")
	fmt.Fprintln(os.Stderr, "  discover    Scan serial ports directly and list boards found")
	fmt.Fprintln(os.Stderr, "  boards      List boards known to the running agent")
	fmt.Fprintln(os.Stderr, "  sensors     List sensors known to the running agent")
	fmt.Fprintln(os.Stderr, "  connect     Start sampling a sensor")
	fmt.Fprintln(os.Stderr, "  disconnect  Stop sampling a sensor")
	fmt.Fprintln(os.Stderr, "  rename      Rename a sensor")
	fmt.Fprintln(os.Stderr, "  rescan      Close all boards and scan again")
	fmt.Fprintln(os.Stderr, "  measure     Take one reading of every connected sensor")
	fmt.Fprintln(os.Stderr, "  version     Show version information")
}
