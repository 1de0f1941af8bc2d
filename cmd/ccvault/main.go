package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/kardianos/service"

	"github.com/mseelig/ccvault/internal/backup"
	"github.com/mseelig/ccvault/internal/combine"
	"github.com/mseelig/ccvault/internal/config"
	"github.com/mseelig/ccvault/internal/model"
	"github.com/mseelig/ccvault/internal/registry"
	"github.com/mseelig/ccvault/internal/store"
	"github.com/mseelig/ccvault/internal/tracker"
)

const version = "0.3.0"

func main() {
	command := "stats"
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "stats", "daily", "combined", "devices", "limits", "backup", "ingest", "mode", "track":
			command = args[0]
			args = args[1:]
		case "-v", "--version":
			fmt.Printf("ccvault version %s\n", version)
			return
		case "-h", "--help":
			usage()
			return
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	switch command {
	case "stats":
		runStats(cfg)
	case "daily":
		runDaily(cfg, args)
	case "combined":
		runCombined(cfg, args)
	case "devices":
		runDevices(cfg, args)
	case "limits":
		runLimits(cfg)
	case "backup":
		runBackup(cfg, args)
	case "ingest":
		runIngest(cfg, args)
	case "mode":
		runMode(cfg, args)
	case "track":
		runTrack(cfg, args)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `ccvault - durable Claude Code usage history

Usage: ccvault [command] [options]

Commands:
  stats     Show database statistics (default)
  daily     Show daily rollups
  combined  Show statistics combined across devices
  devices   List registered devices
  limits    Show the latest usage-limits snapshot
  backup    Manage backups (list, run, cleanup)
  ingest    Ingest a batch of decoded events from a JSON file
  mode      Show or set the storage mode (full | aggregate)
  track     Run or manage the background tracking service

Examples:
  ccvault daily --since 2025-01-01
  ccvault combined
  ccvault ingest --file events.json
  ccvault track install --interval 30m
`)
}

func openStore(cfg *config.Config) *store.Store {
	s, err := store.Open(cfg.StorePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	return s
}

func runStats(cfg *config.Config) {
	s := openStore(cfg)
	defer s.Close()

	st, err := s.Stats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading stats: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Store:           %s\n", cfg.StorePath())
	fmt.Printf("Events:          %d\n", st.TotalEvents)
	fmt.Printf("Days tracked:    %d", st.TotalDays)
	if st.OldestDate != "" {
		fmt.Printf("  (%s .. %s)", st.OldestDate, st.NewestDate)
	}
	fmt.Println()
	fmt.Printf("Prompts:         %d\n", st.TotalPrompts)
	fmt.Printf("Responses:       %d\n", st.TotalResponses)
	fmt.Printf("Sessions:        %d\n", st.TotalSessions)
	fmt.Printf("Total tokens:    %d\n", st.TotalTokens)
	fmt.Printf("Total cost:      $%.2f\n", st.TotalCost)

	if len(st.TokensByModel) > 0 {
		fmt.Println("\nBy model:")
		models := make([]string, 0, len(st.TokensByModel))
		for m := range st.TokensByModel {
			models = append(models, m)
		}
		sort.Strings(models)
		for _, m := range models {
			if m == model.SyntheticModel {
				continue
			}
			fmt.Printf("  %-32s %14d tokens  $%.2f\n", m, st.TokensByModel[m], st.CostByModel[m])
		}
	}

	if st.TotalSessions > 0 {
		fmt.Printf("\nAvg tokens/session: %d   Avg cost/session: $%.2f\n",
			st.AvgTokensPerSession, st.AvgCostPerSession)
	}
}

func runDaily(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("daily", flag.ExitOnError)
	since := fs.String("since", "", "Start date (YYYY-MM-DD)")
	until := fs.String("until", "", "End date (YYYY-MM-DD)")
	fs.Parse(args)

	s := openStore(cfg)
	defer s.Close()

	rollups, err := s.DailyRollups(*since, *until)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading rollups: %v\n", err)
		os.Exit(1)
	}
	if len(rollups) == 0 {
		fmt.Println("No usage recorded for the specified range.")
		return
	}
	printRollups(rollups)
}

func printRollups(rollups []model.DailyRollup) {
	fmt.Printf("%-12s %8s %10s %9s %14s\n", "Date", "Prompts", "Responses", "Sessions", "Tokens")
	for _, r := range rollups {
		fmt.Printf("%-12s %8d %10d %9d %14d\n", r.Date, r.Prompts, r.Responses, r.Sessions, r.TotalTokens)
	}
}

func runCombined(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("combined", flag.ExitOnError)
	since := fs.String("since", "", "Start date (YYYY-MM-DD)")
	until := fs.String("until", "", "End date (YYYY-MM-DD)")
	fromRegistry := fs.Bool("registry", false, "Enumerate devices from the registry instead of scanning the data directory")
	fs.Parse(args)

	// Scanning the directory also picks up stores from machines that
	// never registered; the registry view is the curated one.
	var locator combine.StoreLocator = combine.DirLocator{Dir: cfg.DataDir}
	if *fromRegistry {
		reg, err := registry.Open(cfg.RegistryPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening registry: %v\n", err)
			os.Exit(1)
		}
		defer reg.Close()
		locator = combine.RegistryLocator{Registry: reg, Dir: cfg.DataDir}
	}

	stats, err := combine.Combined(context.Background(), locator, combine.Options{
		From: *since,
		To:   *until,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error combining stores: %v\n", err)
		os.Exit(1)
	}

	for _, dev := range stats.PerDevice {
		fmt.Printf("%-20s %14d tokens  $%.2f\n", dev.MachineName, dev.Totals.TotalTokens, dev.TotalCost)
	}
	fmt.Printf("%-20s %14d tokens  $%.2f\n", "Total", stats.Totals.TotalTokens, stats.TotalCost)

	// Partial results are intended behavior; say which devices are
	// missing instead of silently under-reporting.
	for _, sk := range stats.Skipped {
		fmt.Fprintf(os.Stderr, "Warning: skipped device %s: %s\n", sk.MachineName, sk.Reason)
	}
}

func runDevices(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("devices", flag.ExitOnError)
	all := fs.Bool("all", false, "Include inactive devices")
	deactivate := fs.String("deactivate", "", "Deactivate a device by name")
	activate := fs.String("activate", "", "Activate a device by name")
	fs.Parse(args)

	reg, err := registry.Open(cfg.RegistryPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening registry: %v\n", err)
		os.Exit(1)
	}
	defer reg.Close()

	if *deactivate != "" {
		if err := reg.Deactivate(*deactivate); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Device %s deactivated.\n", *deactivate)
		return
	}
	if *activate != "" {
		if err := reg.Activate(*activate); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Device %s activated.\n", *activate)
		return
	}

	devices, err := reg.List(*all)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing devices: %v\n", err)
		os.Exit(1)
	}
	if len(devices) == 0 {
		fmt.Println("No devices registered.")
		return
	}

	fmt.Printf("%-20s %-20s %-12s %-12s %s\n", "Device", "Hostname", "Registered", "Last seen", "Active")
	for _, d := range devices {
		fmt.Printf("%-20s %-20s %-12s %-12s %v\n",
			d.MachineName, d.Hostname,
			d.RegisteredDate.Local().Format("2006-01-02"),
			d.LastSeen.Local().Format("2006-01-02"),
			d.Active)
	}
}

func runLimits(cfg *config.Config) {
	s := openStore(cfg)
	defer s.Close()

	snap, err := s.LatestLimits()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading limits: %v\n", err)
		os.Exit(1)
	}
	if snap == nil {
		fmt.Println("No limits snapshots recorded.")
		return
	}

	fmt.Printf("Captured: %s\n", snap.CapturedAt.Local().Format(time.RFC1123))
	fmt.Printf("Session:  %d%%  (resets %s)\n", snap.SessionPct, snap.SessionReset)
	fmt.Printf("Week:     %d%%  (resets %s)\n", snap.WeekPct, snap.WeekReset)
	fmt.Printf("Opus:     %d%%  (resets %s)\n", snap.OpusPct, snap.OpusReset)
}

func runBackup(cfg *config.Config, args []string) {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
	}

	mgr := backup.New(cfg.StorePath(), cfg.Backup.RetentionDays, cfg.Backup.KeepMonthly)

	switch sub {
	case "list":
		backups := mgr.List()
		if len(backups) == 0 {
			fmt.Println("No backups found.")
			return
		}
		for _, b := range backups {
			tag := ""
			if b.Monthly {
				tag = "  (monthly)"
			}
			fmt.Printf("%s  %10d bytes  %s%s\n", b.Date.Format("2006-01-02"), b.Size, b.Path, tag)
		}
	case "run":
		if mgr.MaybeBackupToday() {
			fmt.Println("Backup created.")
		} else {
			fmt.Println("No backup needed today.")
		}
	case "cleanup":
		n := mgr.Cleanup()
		fmt.Printf("Deleted %d expired backups.\n", n)
	default:
		fmt.Fprintf(os.Stderr, "Unknown backup command: %s (want list, run, or cleanup)\n", sub)
		os.Exit(1)
	}
}

func runIngest(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	file := fs.String("file", "", "JSON file containing an array of decoded usage events")
	fs.Parse(args)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "Error: --file is required")
		os.Exit(1)
	}

	events, err := readEvents(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading events: %v\n", err)
		os.Exit(1)
	}
	if len(events) == 0 {
		fmt.Fprintf(os.Stderr, "Error: %v\n", store.ErrNoData)
		os.Exit(1)
	}

	s := openStore(cfg)
	defer s.Close()

	mode, err := s.StorageMode()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading storage mode: %v\n", err)
		os.Exit(1)
	}

	n, err := s.Ingest(events, mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error ingesting: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Ingested %d new records (%d in batch, %s mode).\n", n, len(events), mode)

	touchRegistry(cfg)
	backup.New(cfg.StorePath(), cfg.Backup.RetentionDays, cfg.Backup.KeepMonthly).MaybeBackupToday()
}

func touchRegistry(cfg *config.Config) {
	reg, err := registry.Open(cfg.RegistryPath())
	if err != nil {
		log.Printf("registry unavailable: %v", err)
		return
	}
	defer reg.Close()

	host, _ := os.Hostname()
	if err := reg.RegisterOrTouch(cfg.MachineName, host); err != nil {
		log.Printf("registry touch failed: %v", err)
	}
}

func runMode(cfg *config.Config, args []string) {
	s := openStore(cfg)
	defer s.Close()

	if len(args) == 0 {
		mode, err := s.StorageMode()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Storage mode: %s\n", mode)
		return
	}

	mode := model.StorageMode(args[0])
	if mode != model.ModeFull && mode != model.ModeAggregate {
		fmt.Fprintf(os.Stderr, "Unknown mode: %s (want full or aggregate)\n", args[0])
		os.Exit(1)
	}
	if err := s.SetStorageMode(mode); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Storage mode set to %s.\n", mode)
}

// trackService implements service.Interface for background tracking
type trackService struct {
	cfg      *config.Config
	interval time.Duration
	logger   service.Logger

	trk *tracker.Tracker
	s   *store.Store
	reg *registry.Registry
}

func (t *trackService) Start(svc service.Service) error {
	s, err := store.Open(t.cfg.StorePath())
	if err != nil {
		return err
	}
	t.s = s

	reg, err := registry.Open(t.cfg.RegistryPath())
	if err != nil {
		if t.logger != nil {
			t.logger.Warningf("registry unavailable: %v", err)
		}
	} else {
		t.reg = reg
	}

	var mgr *backup.Manager
	if t.cfg.Backup.Enabled {
		mgr = backup.New(t.cfg.StorePath(), t.cfg.Backup.RetentionDays, t.cfg.Backup.KeepMonthly)
	}

	host, _ := os.Hostname()
	t.trk = &tracker.Tracker{
		Source:      spoolSource{dir: t.cfg.SpoolDir()},
		Store:       s,
		Registry:    t.reg,
		Backups:     mgr,
		MachineName: t.cfg.MachineName,
		Hostname:    host,
		Interval:    t.interval,
	}
	return t.trk.Start()
}

func (t *trackService) Stop(svc service.Service) error {
	if t.trk != nil {
		t.trk.Stop()
	}
	if t.reg != nil {
		t.reg.Close()
	}
	if t.s != nil {
		t.s.Close()
	}
	return nil
}

func runTrack(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("track", flag.ExitOnError)
	interval := fs.Duration("interval", time.Hour, "Refresh interval for service mode (e.g. 1h, 30m)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ccvault track [command] [options]

Commands:
  (none)      Run the tracker in the foreground
  install     Install as a background service
  start       Start the background service
  stop        Stop the background service
  uninstall   Remove the background service
  status      Show service status

Options:
`)
		fs.PrintDefaults()
	}

	var svcCommand string
	if len(args) > 0 {
		switch args[0] {
		case "install", "start", "stop", "uninstall", "status", "run":
			svcCommand = args[0]
			args = args[1:]
		}
	}
	fs.Parse(args)

	svcConfig := &service.Config{
		Name:        "ccvault-track",
		DisplayName: "ccvault Tracker",
		Description: "Tracks Claude Code usage history and takes daily backups",
		Arguments:   []string{"track", "run", fmt.Sprintf("--interval=%s", *interval)},
	}

	ts := &trackService{cfg: cfg, interval: *interval}
	svc, err := service.New(ts, svcConfig)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	switch svcCommand {
	case "install":
		if err := svc.Install(); err != nil {
			log.Fatalf("Failed to install service: %v", err)
		}
		if err := svc.Start(); err != nil {
			log.Fatalf("Service installed but failed to start: %v", err)
		}
		fmt.Printf("Service installed and started (interval %s).\n", *interval)
	case "start":
		if err := svc.Start(); err != nil {
			log.Fatalf("Failed to start service: %v", err)
		}
		fmt.Println("Service started.")
	case "stop":
		if err := svc.Stop(); err != nil {
			log.Fatalf("Failed to stop service: %v", err)
		}
		fmt.Println("Service stopped.")
	case "uninstall":
		svc.Stop() // ignore error
		if err := svc.Uninstall(); err != nil {
			log.Fatalf("Failed to uninstall service: %v", err)
		}
		fmt.Println("Service uninstalled.")
	case "status":
		status, err := svc.Status()
		if err != nil {
			fmt.Printf("Service status: not installed or error (%v)\n", err)
			return
		}
		switch status {
		case service.StatusRunning:
			fmt.Println("Service status: running")
		case service.StatusStopped:
			fmt.Println("Service status: stopped")
		default:
			fmt.Println("Service status: unknown")
		}
	default:
		logger, err := svc.Logger(nil)
		if err == nil {
			ts.logger = logger
		}
		if err := svc.Run(); err != nil && logger != nil {
			logger.Error(err)
		}
	}
}
