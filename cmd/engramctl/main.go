// Command engramctl is the operational CLI for an Engramind store: stats,
// a manual sleep cycle trigger, backup, and restore (SPEC_FULL.md package
// layout). It deliberately does not expose memory.store/search — those are
// the engine's programmatic surface, not an operator's.
//
// Grounded on the teacher's cmd/memento-backup/main.go: flag-parsed
// one-shot subcommands over a loaded config, no long-running server loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/scrypster/engramind/internal/backup"
	"github.com/scrypster/engramind/internal/config"
	"github.com/scrypster/engramind/internal/engine"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	verb := os.Args[1]
	args := os.Args[2:]

	switch verb {
	case "stats":
		runStats(args)
	case "sleep-cycle":
		runSleepCycle(args)
	case "backup":
		runBackup(args)
	case "restore":
		runRestore(args)
	case "backup-health":
		runBackupHealth(args)
	case "backup-list":
		runBackupList(args)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `engramctl: operate an Engramind store

Usage:
  engramctl stats [-config path]
  engramctl sleep-cycle [-config path] [-force]
  engramctl backup [-config path]
  engramctl restore -file path [-config path]
  engramctl backup-health [-config path]
  engramctl backup-list [-config path]`)
}

func newEngine(cfg *config.Config) *engine.Engine {
	e, err := engine.New(cfg, nil)
	if err != nil {
		log.Fatalf("engramctl: %v", err)
	}
	return e
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML tuning file (optional)")
	fs.Parse(args)

	cfg := config.Load()
	if *configPath != "" {
		if err := cfg.LoadTuningFile(*configPath); err != nil {
			log.Fatalf("engramctl: %v", err)
		}
	}

	e := newEngine(cfg)
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		log.Fatalf("engramctl: %v", err)
	}
	defer e.Shutdown(ctx)

	stats, err := e.Stats(ctx)
	if err != nil {
		log.Fatalf("engramctl: stats: %v", err)
	}

	fmt.Printf("total:          %d\n", stats.Total)
	fmt.Printf("avg_importance: %.3f\n", stats.AvgImportance)
	fmt.Printf("at_risk:        %d\n", stats.AtRiskCount)
	if stats.Oldest != nil {
		fmt.Printf("oldest:         %s\n", stats.Oldest.Format(time.RFC3339))
	}
	if stats.Newest != nil {
		fmt.Printf("newest:         %s\n", stats.Newest.Format(time.RFC3339))
	}
	fmt.Println("by_category:")
	for category, count := range stats.ByCategory {
		fmt.Printf("  %-20s %d\n", category, count)
	}
}

func runSleepCycle(args []string) {
	fs := flag.NewFlagSet("sleep-cycle", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML tuning file (optional)")
	force := fs.Bool("force", true, "bypass the quiet-period and minimum-gap gate")
	fs.Parse(args)

	cfg := config.Load()
	if *configPath != "" {
		if err := cfg.LoadTuningFile(*configPath); err != nil {
			log.Fatalf("engramctl: %v", err)
		}
	}

	e := newEngine(cfg)
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		log.Fatalf("engramctl: %v", err)
	}
	defer e.Shutdown(ctx)

	report, err := e.RunSleepCycle(ctx, *force)
	if err != nil {
		log.Fatalf("engramctl: sleep cycle: %v", err)
	}

	fmt.Printf("patterns_extracted:   %d\n", report.PatternsExtracted)
	fmt.Printf("procedures_created:   %d\n", report.ProceduresCreated)
	fmt.Printf("memories_pruned:      %d\n", report.MemoriesPruned)
	fmt.Printf("edges_predicted:      %d\n", report.EdgesPredicted)
	fmt.Printf("duplicates_merged:    %d\n", report.DuplicatesMerged)
	fmt.Printf("quality_issues_fixed: %d\n", report.QualityIssuesFixed)
	for _, stageErr := range report.StageErrors {
		fmt.Printf("stage error: %v\n", stageErr)
	}
}

func runBackup(args []string) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML tuning file (optional)")
	fs.Parse(args)

	cfg := config.Load()
	if *configPath != "" {
		if err := cfg.LoadTuningFile(*configPath); err != nil {
			log.Fatalf("engramctl: %v", err)
		}
	}
	cfg.Backup.Enabled = true

	e := newEngine(cfg)
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		log.Fatalf("engramctl: %v", err)
	}
	defer e.Shutdown(ctx)

	result, err := e.Backup(ctx)
	if err != nil {
		log.Fatalf("engramctl: backup: %v", err)
	}
	fmt.Printf("backup written: %s (%d bytes, verified=%v)\n", result.Path, result.Size, result.Verified)
}

// runRestore restores the sqlite store file directly from a backup,
// without going through Engine — the store must be offline (no engine
// process holding it open) for the restore to be safe.
func runRestore(args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML tuning file (optional)")
	file := fs.String("file", "", "backup file to restore from")
	fs.Parse(args)

	if *file == "" {
		log.Fatal("engramctl: restore requires -file")
	}

	cfg := config.Load()
	if *configPath != "" {
		if err := cfg.LoadTuningFile(*configPath); err != nil {
			log.Fatalf("engramctl: %v", err)
		}
	}

	svc, err := backup.NewBackupService(backup.BackupConfig{
		DBPath:    cfg.Store.DSN,
		BackupDir: cfg.Backup.Dir,
	})
	if err != nil {
		log.Fatalf("engramctl: %v", err)
	}

	if err := svc.RestoreBackup(context.Background(), *file); err != nil {
		log.Fatalf("engramctl: restore: %v", err)
	}
	fmt.Printf("restored %s from %s\n", cfg.Store.DSN, *file)
}

func newBackupService(args []string) *backup.BackupService {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML tuning file (optional)")
	fs.Parse(args)

	cfg := config.Load()
	if *configPath != "" {
		if err := cfg.LoadTuningFile(*configPath); err != nil {
			log.Fatalf("engramctl: %v", err)
		}
	}

	svc, err := backup.NewBackupService(backup.BackupConfig{
		DBPath:    cfg.Store.DSN,
		BackupDir: cfg.Backup.Dir,
	})
	if err != nil {
		log.Fatalf("engramctl: %v", err)
	}
	return svc
}

func runBackupHealth(args []string) {
	svc := newBackupService(args)
	health, err := svc.HealthCheck()
	if err != nil {
		log.Fatalf("engramctl: backup health: %v", err)
	}
	fmt.Printf("status:        %s\n", health.Status)
	fmt.Printf("message:       %s\n", health.Message)
	fmt.Printf("total_backups: %d\n", health.TotalBackups)
	fmt.Printf("backup_dir:    %s\n", health.BackupDir)
}

func runBackupList(args []string) {
	svc := newBackupService(args)
	backups, err := svc.ListBackups()
	if err != nil {
		log.Fatalf("engramctl: backup list: %v", err)
	}
	for _, b := range backups {
		fmt.Printf("%s\t%d bytes\tverified=%v\t%s\n", b.Path, b.Size, b.Verified, b.Timestamp.Format(time.RFC3339))
	}
}
