// Package orchestrator runs one dedup pass (spec §4.G component G): select
// volumes, scan, build classes, lock, compare, clone, and report a summary.
package orchestrator

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/btrdedup/btrdedup/pkg/clone"
	"github.com/btrdedup/btrdedup/pkg/index"
	"github.com/btrdedup/btrdedup/pkg/locker"
	"github.com/btrdedup/btrdedup/pkg/outcome"
	"github.com/btrdedup/btrdedup/pkg/scanner"
	"github.com/btrdedup/btrdedup/pkg/store"
	"github.com/btrdedup/btrdedup/pkg/store/queries"
	"github.com/btrdedup/btrdedup/pkg/volume"
	"github.com/google/uuid"
	"go.uber.org/fx"
)

var Module = fx.Module("orchestrator",
	fx.Provide(New),
)

type Orchestrator struct {
	store   *store.Store
	scanner *scanner.Scanner
	ledger  *locker.Ledger
	logger  *slog.Logger
}

func New(st *store.Store, sc *scanner.Scanner, ledger *locker.Ledger, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{store: st, scanner: sc, ledger: ledger, logger: logger.With("component", "orchestrator")}
}

// Options parameterizes one pass, mirroring the `dedup` subcommand's flags
// (spec §6).
type Options struct {
	VolumeArgs []string
	NoCrossVol bool
	Defrag     bool
	SizeCutoff int64
}

// Summary is the per-pass report emitted at the end (spec §4.G step 5).
// RunID identifies the pass in logs and the status summary, distinguishing
// concurrent or historical runs in a shared log stream. StuckImmutable
// lists ledger entries left over from an interrupted prior pass (spec §8
// scenario 6) — these inodes are excluded from this pass's classes rather
// than cloned through, since this process can't tell whether a clone was
// already mid-flight when it crashed.
type Summary struct {
	RunID          string
	Counts         map[outcome.Kind]int
	ClassesSeen    int
	VolumesScanned int
	StuckImmutable []locker.Entry
}

func newSummary() *Summary {
	return &Summary{RunID: uuid.NewString(), Counts: make(map[outcome.Kind]int)}
}

// Run executes one full pass.
func (o *Orchestrator) Run(reg *volume.Registry, opts Options) (*Summary, error) {
	summary := newSummary()
	o.logger = o.logger.With("run_id", summary.RunID)

	vols, err := reg.Select(opts.VolumeArgs)
	if err != nil {
		return nil, fmt.Errorf("select volumes: %w", err)
	}

	results, scanErrs := o.scanner.RunAll(vols)
	summary.VolumesScanned = len(results)
	for _, err := range scanErrs {
		if oe, ok := err.(*outcome.Error); ok {
			summary.Counts[oe.Kind]++
			if oe.Kind == outcome.Permission || oe.Kind.Fatal() {
				return summary, fmt.Errorf("aborting pass: %w", err)
			}
		}
	}

	openFDs := make(map[int64]*os.File, len(vols))
	defer func() {
		for _, f := range openFDs {
			f.Close()
		}
	}()
	for _, v := range vols {
		f, err := os.OpenFile(v.MountPath, os.O_RDONLY, 0)
		if err != nil {
			o.logger.Warn("volume unreachable for indexing", "path", v.MountPath, "error", err)
			continue
		}
		openFDs[v.ID] = f
	}

	classes, err := index.Build(o.store.Conn(), vols, openFDs, opts.SizeCutoff)
	if err != nil {
		return summary, fmt.Errorf("build index: %w", err)
	}

	stuck, err := o.ledger.List()
	if err != nil {
		o.logger.Warn("failed to read lock ledger", "error", err)
	}
	summary.StuckImmutable = stuck
	skip := make(map[int64]map[uint64]bool, len(stuck))
	for _, e := range stuck {
		if skip[e.VolumeID] == nil {
			skip[e.VolumeID] = make(map[uint64]bool)
		}
		skip[e.VolumeID][e.InodeNumber] = true
	}

	// Bigger payoff first (spec §4.G step 4).
	sort.Slice(classes, func(i, j int) bool { return classes[i].Size > classes[j].Size })

	for _, class := range classes {
		summary.ClassesSeen++
		o.runClass(class, skip, opts, summary)
	}

	o.logger.Info("pass complete", "classes", summary.ClassesSeen, "counts", summary.Counts)
	return summary, nil
}

func (o *Orchestrator) runClass(class index.Class, skip map[int64]map[uint64]bool, opts Options, summary *Summary) {
	var targets []clone.Target
	var handles []*locker.Handle
	defer func() {
		for _, h := range handles {
			if err := h.Release(); err != nil {
				o.logger.Warn("failed to release lock", "error", err)
			}
		}
	}()

	for _, m := range class.Members {
		if skip[m.VolumeID][m.InodeNumber] {
			o.logger.Warn("skipping inode stuck immutable from a prior crash", "volume_id", m.VolumeID, "inode", m.InodeNumber, "path", m.FullPath())
			summary.Counts[outcome.Busy]++
			continue
		}

		h, err := locker.Acquire(o.ledger, m.VolumeID, m.InodeNumber, m.FullPath(), m.Size, m.MtimeUnix)
		if err != nil {
			kind := outcome.IoError
			if oe, ok := err.(*outcome.Error); ok {
				kind = oe.Kind
			}
			summary.Counts[kind]++
			continue
		}
		handles = append(handles, h)
		targets = append(targets, clone.Target{Member: m, File: h.File()})
	}

	results := clone.DedupClass(targets, class.Size, clone.Options{NoCrossVol: opts.NoCrossVol, Defrag: opts.Defrag})
	for _, r := range results {
		summary.Counts[r.Kind]++
		if r.Verified {
			if err := queries.SetLastComparedGeneration(o.store.Conn(), r.Member.VolumeID, r.Member.InodeNumber, r.Member.Generation); err != nil {
				o.logger.Error("failed to record comparison watermark", "error", err)
			}
		}
	}
}
