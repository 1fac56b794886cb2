package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/NicolasHaas/gochat/pkg/config"
	"github.com/NicolasHaas/gochat/pkg/journal"
	"github.com/NicolasHaas/gochat/pkg/logging"
	"github.com/NicolasHaas/gochat/pkg/server"
	"github.com/NicolasHaas/gochat/pkg/version"
)

func main() {
	cfg := server.DefaultConfig()

	configPath := flag.String("config", config.DefaultFile, "Key-value config file")
	addr := flag.String("addr", "", "TCP bind address (default: default.server.ip:default.server.port from config)")
	flag.BoolVar(&cfg.TLS, "tls", false, "Serve TLS (self-signed certificate generated if none given)")
	flag.StringVar(&cfg.CertFile, "cert", "", "TLS certificate file (auto-generated if empty)")
	flag.StringVar(&cfg.KeyFile, "key", "", "TLS private key file (auto-generated if empty)")
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "Data directory for generated files")
	flag.StringVar(&cfg.MetricsAddr, "metrics", "", "HTTP bind address for Prometheus /metrics (empty to disable)")
	flag.DurationVar(&cfg.JoinTimeout, "join-timeout", cfg.JoinTimeout, "Max wait for the JOIN line of a new connection")
	flag.Float64Var(&cfg.LinesPerSecond, "rate", 0, "Inbound lines per second per connection (0 = unlimited)")
	flag.IntVar(&cfg.Burst, "burst", cfg.Burst, "Inbound burst size per connection")
	journalPath := flag.String("journal", "", "SQLite journal file for presence events (empty to disable)")
	exportJournal := flag.Bool("export-journal", false, "Print recent journal events as YAML and exit")
	exportUser := flag.String("export-user", "", "With -export-journal: only events for this user id")
	exportLimit := flag.Int("export-limit", 100, "With -export-journal: max events")
	logLevel := flag.String("log-level", "", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "", "Log format: text or json")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Banner("server"))
		return
	}

	file, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	explicit := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if err := applyFile(&cfg, file, explicit); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if !explicit["journal"] {
		*journalPath = file.Get(config.KeyJournalPath)
	}
	if !explicit["log-level"] {
		*logLevel = file.Get(config.KeyLogLevel)
	}
	if !explicit["log-format"] {
		*logFormat = file.Get(config.KeyLogFormat)
	}

	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	if *exportJournal {
		if err := export(*journalPath, *exportUser, *exportLimit); err != nil {
			slog.Error("export journal", "err", err)
			os.Exit(1)
		}
		return
	}

	var deps server.Dependencies
	if *journalPath != "" {
		j, err := journal.Open(*journalPath)
		if err != nil {
			slog.Error("open journal", "err", err)
			os.Exit(1)
		}
		defer func() { _ = j.Close() }()
		deps.Events = j
	}

	slog.Info("starting", "version", version.Banner("server"))
	srv := server.New(cfg, deps)
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

// applyFile copies config file values into cfg for every setting that was
// not given on the command line.
func applyFile(cfg *server.Config, file *config.Config, explicit map[string]bool) error {
	cfg.Addr = net.JoinHostPort(file.Get(config.KeyServerIP), file.Get(config.KeyServerPort))

	var err error
	if !explicit["tls"] {
		if cfg.TLS, err = file.Bool(config.KeyTLS, cfg.TLS); err != nil {
			return err
		}
	}
	if !explicit["metrics"] {
		cfg.MetricsAddr = file.Get(config.KeyMetricsAddr)
	}
	if !explicit["rate"] {
		if cfg.LinesPerSecond, err = file.Float(config.KeyLinesPerSecond, cfg.LinesPerSecond); err != nil {
			return err
		}
	}
	if !explicit["burst"] {
		if cfg.Burst, err = file.Int(config.KeyBurst, cfg.Burst); err != nil {
			return err
		}
	}
	return nil
}

func export(path, userID string, limit int) error {
	if path == "" {
		return fmt.Errorf("no journal configured (use -journal or %s)", config.KeyJournalPath)
	}
	j, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = j.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var events []journal.Event
	if userID != "" {
		events, err = j.ForUser(ctx, userID)
	} else {
		events, err = j.Recent(ctx, limit)
	}
	if err != nil {
		return err
	}

	data, err := journal.ExportYAML(events)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}
