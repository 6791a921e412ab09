package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"luksward/internal/config"
	"luksward/internal/events"
	"luksward/internal/header"
	"luksward/internal/history"
	"luksward/internal/notify"
	"luksward/internal/pipeline"
	"luksward/internal/probe"
	"luksward/internal/replicate"
)

const version = "1.0.0"

// multiFlag collects repeatable string flags.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func main() {
	var remotes, backupDirs, notifyURLs multiFlag
	flag.Var(&remotes, "remote", "Remote destination: scp spec (root@host:/backup/dir/) or ssh://user@host/dir (repeatable)")
	flag.Var(&backupDirs, "backup-dir", "Local directory to copy backups into (repeatable)")
	flag.Var(&notifyURLs, "notify-url", "Shoutrrr URL for failure notifications (repeatable)")
	hostnameOverride := flag.String("hostname", "", "Override hostname")
	dbPath := flag.String("db", "", "Run journal database path (default from LUKSWARD_DB_PATH)")
	interval := flag.Int("interval", 0, "Run every N seconds (0 for single run)")
	showVersion := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("luksward v%s\n", version)
		os.Exit(0)
	}

	log.SetFlags(log.Ltime | log.Ldate)
	log.Printf("🔐 luksward v%s starting...", version)

	cfg := config.Load()
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	cfg.NotifyURLs = append(cfg.NotifyURLs, notifyURLs...)

	if len(remotes)+len(backupDirs) == 0 {
		log.Fatal("❌ Error: at least one -remote or -backup-dir is required")
	}
	if os.Geteuid() != 0 {
		log.Fatal("❌ Error: luksward must run as root to read LUKS headers")
	}
	preflight(remotes)

	hostname := *hostnameOverride
	if hostname == "" {
		var err error
		hostname, err = os.Hostname()
		if err != nil {
			log.Fatalf("❌ Failed to get hostname: %v", err)
		}
	}
	log.Printf("✓ Hostname: %s", hostname)

	dests := buildDestinations(cfg, remotes, backupDirs)
	for _, d := range dests {
		log.Printf("✓ Destination: %s", d.Target)
	}

	replicator, err := replicate.NewReplicator(dests)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	db := openJournal(cfg.DBPath)
	defer db.Close()

	bus := events.NewBus()
	if len(cfg.NotifyURLs) > 0 {
		notifier := notify.NewNotifier(cfg.NotifyURLs,
			events.ParseSeverity(cfg.NotifyMinSeverity), cfg.NotifyCooldown, nil)
		notifier.Attach(bus)
		log.Printf("✓ Notifications: %d destination(s), severity >= %s",
			len(cfg.NotifyURLs), cfg.NotifyMinSeverity)
	}

	runner := &pipeline.Runner{
		Lister:     probe.NewLister(probe.NewBlkidProber()),
		Extractor:  header.NewExtractor(header.NewCryptsetupManager()),
		Replicator: replicator,
		Bus:        bus,
		Hostname:   hostname,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *interval <= 0 {
		os.Exit(runOnce(ctx, runner, db, hostname))
	}

	log.Printf("📊 Running every %d seconds", *interval)
	runOnce(ctx, runner, db, hostname)

	ticker := time.NewTicker(time.Duration(*interval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("👋 luksward stopped")
			return
		case <-ticker.C:
			runOnce(ctx, runner, db, hostname)
		}
	}
}

// preflight verifies the external tools exist before any work starts.
func preflight(remotes []string) {
	tools := []string{"blkid", "cryptsetup"}
	for _, r := range remotes {
		if !strings.HasPrefix(r, "ssh://") {
			tools = append(tools, "scp")
			break
		}
	}
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			log.Fatalf("❌ Error: '%s' not found in PATH", tool)
		}
		log.Printf("✓ %s found", tool)
	}
}

// buildDestinations maps target specs to their transports.
func buildDestinations(cfg config.Config, remotes, backupDirs []string) []replicate.Destination {
	var dests []replicate.Destination
	for _, r := range remotes {
		var tr replicate.Transport
		if strings.HasPrefix(r, "ssh://") {
			tr = replicate.NewSSHTransport(cfg.SSHKeyPath, cfg.SSHKnownHosts)
		} else {
			tr = replicate.NewSCPTransport()
		}
		dests = append(dests, replicate.Destination{Target: r, Transport: tr})
	}
	for _, dir := range backupDirs {
		dests = append(dests, replicate.Destination{Target: dir, Transport: replicate.DirTransport{}})
	}
	return dests
}

func openJournal(path string) *sql.DB {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			log.Fatalf("❌ Failed to create journal directory: %v", err)
		}
	}
	db, err := history.Open(path)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if err := history.Migrate(db); err != nil {
		log.Fatalf("❌ %v", err)
	}
	log.Printf("✓ Run journal: %s", path)
	return db
}

// runOnce executes a single backup pass and returns the process exit code.
func runOnce(ctx context.Context, runner *pipeline.Runner, db *sql.DB, hostname string) int {
	result, err := runner.Run(ctx)
	if err != nil {
		log.Printf("❌ Backup run aborted: %v", err)
		return 1
	}

	logHeaderChanges(db, hostname, result)

	if err := history.RecordRun(db, result); err != nil {
		log.Printf("⚠️  Failed to journal run: %v", err)
	}

	for _, d := range result.Devices {
		switch d.Outcome {
		case pipeline.OutcomeSuccess:
			log.Printf("✅ %s (%s): backed up as %s", d.Device.Path, d.Device.UUID, d.Names.Image)
		case pipeline.OutcomePartialFailure:
			log.Printf("❌ %s (%s): %d destination(s) failed", d.Device.Path, d.Device.UUID, len(d.FailedTargets))
		case pipeline.OutcomeExtractionFailed:
			log.Printf("❌ %s (%s): %v", d.Device.Path, d.Device.UUID, d.Err)
		}
	}

	if result.Failed() {
		log.Println("❌ Backup run finished with failures")
	} else {
		log.Println("✅ Backup run complete")
	}
	return result.ExitCode()
}

// logHeaderChanges compares each device's hash against the journal so a
// changed header (key added, key revoked) is visible in the logs.
func logHeaderChanges(db *sql.DB, hostname string, result *pipeline.RunResult) {
	for _, d := range result.Devices {
		if d.ShortHash == "" {
			continue
		}
		prev, err := history.LastShortHash(db, hostname, d.Device.UUID)
		if err != nil {
			log.Printf("⚠️  Journal lookup for %s failed: %v", d.Device.UUID, err)
			continue
		}
		if prev != "" && prev != d.ShortHash {
			log.Printf("ℹ️  Header of %s changed since last run (%s -> %s)", d.Device.UUID, prev, d.ShortHash)
		}
	}
}
