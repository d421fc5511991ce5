package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/btrdedup/btrdedup/pkg/btrfsioctl"
	"github.com/btrdedup/btrdedup/pkg/clone"
	"github.com/btrdedup/btrdedup/pkg/config"
	"github.com/btrdedup/btrdedup/pkg/index"
	"github.com/btrdedup/btrdedup/pkg/locker"
	"github.com/btrdedup/btrdedup/pkg/orchestrator"
	"github.com/btrdedup/btrdedup/pkg/scanner"
	"github.com/btrdedup/btrdedup/pkg/statusapi"
	"github.com/btrdedup/btrdedup/pkg/store"
	"github.com/btrdedup/btrdedup/pkg/store/queries"
	"github.com/btrdedup/btrdedup/pkg/volume"
	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

// CLI is the root command structure.
type CLI struct {
	LogLevel string `short:"l" default:"info" env:"BTRDEDUP_LOG_LEVEL" enum:"debug,info,warn,error" help:"Log level (debug, info, warn, error)"`

	Scan       ScanCmd       `cmd:"" help:"Scan volumes for changes since their last watermark"`
	Dedup      DedupCmd      `cmd:"" help:"Scan then deduplicate changed files across volumes"`
	DedupFiles DedupFilesCmd `cmd:"" name:"dedup-files" help:"Deduplicate a user-supplied set of files directly"`
	Show       ShowCmd       `cmd:"" help:"List known volumes and their tracking watermarks"`
	FindNew    FindNewCmd    `cmd:"" name:"find-new" help:"Emit paths changed since a generation"`
	Serve      ServeCmd      `cmd:"" help:"Run the status/observability HTTP server"`
}

// newApp assembles the common dependency graph every one-shot subcommand
// needs, plus whatever invoke/provide options the subcommand adds.
func newApp(cli *CLI, extra ...fx.Option) *fx.App {
	opts := []fx.Option{
		fx.Provide(
			func() *config.Config {
				cfg := config.New()
				cfg.LogLevel = cli.LogLevel
				return cfg
			},
			provideLogger,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),
		store.Module,
		volume.Module,
		scanner.Module,
		locker.Module,
		orchestrator.Module,
	}
	return fx.New(append(opts, extra...)...)
}

// runOnce starts and then stops app. The subcommand's fx.Invoke functions
// have already done its one-shot work while fx.New built the graph; stopping
// runs the OnStop hooks that close the store and the lock ledger.
func runOnce(app *fx.App) error {
	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		return err
	}
	return app.Stop(ctx)
}

// ScanCmd runs `scan [VOLUME…]`.
type ScanCmd struct {
	Volumes []string `arg:"" optional:"" help:"Volume references (path, /dev/..., or UUID)"`
}

func (c *ScanCmd) Run(cli *CLI) error {
	var runErr error
	app := newApp(cli, fx.Invoke(func(reg *volume.Registry, sc *scanner.Scanner, ledger *locker.Ledger) {
		vols, err := reg.Select(c.Volumes)
		if err != nil {
			runErr = err
			return
		}
		results, errs := sc.RunAll(vols)
		for _, r := range results {
			fmt.Printf("volume %d: %d changed, %d skipped, watermark=%d\n", r.VolumeID, r.Changed, r.Skipped, r.Watermark)
		}
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "scan error: %v\n", e)
		}

		stuck, err := ledger.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read lock ledger: %v\n", err)
		} else {
			reportStuckImmutable(stuck, vols)
		}
	}))
	if err := runOnce(app); err != nil {
		return err
	}
	return runErr
}

// DedupCmd runs `dedup [VOLUME…]`.
type DedupCmd struct {
	Volumes    []string `arg:"" optional:"" help:"Volume references (path, /dev/..., or UUID)"`
	NoCrossVol bool     `help:"Never clone across distinct volumes"`
	Defrag     bool     `help:"Defragment the destination extent before cloning"`
	SizeCutoff int64    `default:"4096" help:"Minimum file size (bytes) considered for dedup"`
}

func (c *DedupCmd) Run(cli *CLI) error {
	var runErr error
	app := newApp(cli, fx.Invoke(func(reg *volume.Registry, orch *orchestrator.Orchestrator) {
		summary, err := orch.Run(reg, orchestrator.Options{
			VolumeArgs: c.Volumes,
			NoCrossVol: c.NoCrossVol,
			Defrag:     c.Defrag,
			SizeCutoff: c.SizeCutoff,
		})
		if err != nil {
			runErr = err
			return
		}
		printSummary(summary)

		if allVols, err := reg.List(); err == nil {
			reportStuckImmutable(summary.StuckImmutable, allVols)
		}
	}))
	if err := runOnce(app); err != nil {
		return err
	}
	return runErr
}

// DedupFilesCmd runs `dedup-files FILE FILE…`, bypassing the index
// entirely (spec §6): the safe-locker, comparator, and cloner run directly
// on the user-supplied set.
type DedupFilesCmd struct {
	Files []string `arg:"" help:"Files to compare and deduplicate"`
}

func (c *DedupFilesCmd) Run(cli *CLI) error {
	if len(c.Files) < 2 {
		return fmt.Errorf("dedup-files needs at least 2 files")
	}

	logger := makeLogger(cli.LogLevel)
	cfg := config.New()
	cfg.LogLevel = cli.LogLevel

	ledger, err := locker.OpenLedger(cfg.LockLedgerDir)
	if err != nil {
		return fmt.Errorf("open lock ledger: %w", err)
	}
	defer ledger.Close()

	var size int64 = -1
	var targets []clone.Target
	var handles []*locker.Handle
	defer func() {
		for _, h := range handles {
			h.Release()
		}
	}()

	for i, path := range c.Files {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		if size == -1 {
			size = info.Size()
		} else if info.Size() != size {
			return fmt.Errorf("%s is %d bytes, expected %d (all files must be the same size)", path, info.Size(), size)
		}

		h, err := locker.Acquire(ledger, 0, uint64(i), path, info.Size(), info.ModTime().Unix())
		if err != nil {
			logger.Warn("skipping file", "path", path, "error", err)
			continue
		}
		handles = append(handles, h)
		targets = append(targets, clone.Target{
			Member: index.Member{RelPath: path},
			File:   h.File(),
		})
	}

	results := clone.DedupClass(targets, size, clone.Options{})
	for _, r := range results {
		fmt.Println(r.Kind)
	}
	return nil
}

// ShowCmd runs `show`.
type ShowCmd struct{}

func (c *ShowCmd) Run(cli *CLI) error {
	var runErr error
	app := newApp(cli, fx.Invoke(func(reg *volume.Registry, ledger *locker.Ledger) {
		vols, err := reg.List()
		if err != nil {
			runErr = err
			return
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"Path", "FS UUID", "Subvol", "Watermark", "RO", "Tracked", "Online"})
		for _, v := range vols {
			t.AppendRow(table.Row{v.MountPath, v.FSUUID, v.SubvolRootID, v.LastTrackedGeneration, v.ReadOnly, v.TrackingEnabled, v.Online})
		}
		t.Render()

		stuck, err := ledger.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read lock ledger: %v\n", err)
		} else {
			reportStuckImmutable(stuck, vols)
		}
	}))
	if err := runOnce(app); err != nil {
		return err
	}
	return runErr
}

// FindNewCmd runs `find-new VOLUME [GEN]`.
type FindNewCmd struct {
	Volume     string `arg:"" help:"Volume reference"`
	Generation uint64 `arg:"" optional:"" default:"0" help:"Report changes newer than this transaction id (default: 0)"`
}

func (c *FindNewCmd) Run(cli *CLI) error {
	ref, err := volume.Resolve(c.Volume)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(ref.MountPath, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	results, err := btrfsioctl.TreeSearch(f, ref.SubvolRootID,
		btrfsioctl.FirstFreeObjectID, ^uint64(0),
		btrfsioctl.InodeItemKey, btrfsioctl.InodeItemKey, c.Generation+1)
	if err != nil {
		return err
	}

	for _, r := range results {
		path, err := btrfsioctl.InoLookup(f, ref.SubvolRootID, r.ObjectID)
		if err != nil {
			continue
		}
		fmt.Println(path)
	}
	return nil
}

// ServeCmd runs `serve`.
type ServeCmd struct {
	Address string `short:"a" default:":8147" help:"Status server address"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	app := fx.New(
		fx.Provide(
			func() *config.Config {
				cfg := config.New()
				cfg.StatusAddress = c.Address
				cfg.LogLevel = cli.LogLevel
				return cfg
			},
			provideLogger,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),
		store.Module,
		volume.Module,
		statusapi.Module,
	)
	app.Run()
	return nil
}

// reportStuckImmutable prints a warning per ledger entry left over from a
// prior crashed pass (spec §8 scenario 6): each such file is still marked
// immutable and was excluded from this pass, so the operator needs to clear
// it by hand with `chattr -i`. Clearing the bit does not remove the ledger
// entry: dedup keeps excluding the inode for as long as the entry exists.
func reportStuckImmutable(entries []locker.Entry, vols []*queries.Volume) {
	if len(entries) == 0 {
		return
	}

	volByID := make(map[int64]*queries.Volume, len(vols))
	for _, v := range vols {
		volByID[v.ID] = v
	}

	for _, e := range entries {
		path := fmt.Sprintf("volume %d inode %d", e.VolumeID, e.InodeNumber)
		if v := volByID[e.VolumeID]; v != nil {
			if f, err := os.OpenFile(v.MountPath, os.O_RDONLY, 0); err == nil {
				if rel, err := btrfsioctl.InoLookup(f, v.SubvolRootID, e.InodeNumber); err == nil {
					path = filepath.Join(v.MountPath, rel)
				}
				f.Close()
			}
		}
		fmt.Fprintf(os.Stderr, "stuck immutable from a prior crash, run `chattr -i %s` to clear\n", path)
	}
}

func printSummary(s *orchestrator.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Pass Summary")
	t.AppendRow(table.Row{"Run ID", s.RunID})
	t.AppendRow(table.Row{"Volumes scanned", s.VolumesScanned})
	t.AppendRow(table.Row{"Classes seen", s.ClassesSeen})
	t.AppendSeparator()
	for kind, count := range s.Counts {
		t.AppendRow(table.Row{kind.String(), count})
	}
	t.Render()
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("btrdedup"),
		kong.Description("Incremental Btrfs deduplication agent"),
		kong.UsageOnError(),
	)
	err := ctx.Run(cli)
	ctx.FatalIfErrorf(err)
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return makeLogger(cfg.LogLevel)
}

func makeLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
