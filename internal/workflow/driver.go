// Package workflow orchestrates the end-to-end wheel un-repair sequence:
// unpack, match, analyze, patch, delete, repackage.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/pablogsal/unrepair/internal/analyzer"
	"github.com/pablogsal/unrepair/internal/elf"
	"github.com/pablogsal/unrepair/internal/patcher"
	"github.com/pablogsal/unrepair/internal/wheel"
)

// Options configures one Run.
type Options struct {
	WheelPath       string
	OutputWheelPath string
	Workdir         string
	Candidates      wheel.CandidateOptions
	ReplacementFrom wheel.ReplacementSource
	NoStrict        bool
	Logger          *slog.Logger
}

// PairResult is one pair's findings plus whatever happened to it.
type PairResult struct {
	Pair     wheel.Pair
	Findings []analyzer.Finding
	Verdict  analyzer.Verdict
	Patched  bool
	Err      error
}

// Report is the workflow's final, aggregated output.
type Report struct {
	Pairs               []PairResult
	RemovedBundledPaths []string
}

// Run executes the sequence of spec.md §4.6: unpack, match, analyze every
// pair, patch+delete on success (subject to strictness), repackage. ctx is
// honored at the unpack/repack I/O boundaries.
func Run(ctx context.Context, opts Options) (*Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tree, err := unpackWithContext(ctx, opts.WheelPath, opts.Workdir)
	if err != nil {
		return nil, fmt.Errorf("unpack: %w", err)
	}
	defer tree.Close()

	pairs, err := wheel.MatchPairs(tree)
	if err != nil {
		return nil, fmt.Errorf("match pairs: %w", err)
	}
	logger.Info("discovered pairs", "count", len(pairs))

	results := analyzePairs(tree, pairs, opts)

	anyError := false
	for _, r := range results {
		if r.Err != nil || r.Verdict == analyzer.Incompatible {
			anyError = true
		}
	}
	if anyError && !opts.NoStrict {
		return &Report{Pairs: results}, fmt.Errorf("strict mode: one or more pairs failed compatibility")
	}

	report := &Report{}
	var changedPaths, removedPaths []string
	for i := range results {
		r := &results[i]
		if r.Err != nil || r.Verdict == analyzer.Incompatible {
			continue
		}
		if err := patchAndRemove(tree, r, opts); err != nil {
			r.Err = err
			logger.Warn("patch failed", "extension", r.Pair.ExtensionPath, "error", err)
			continue
		}
		changedPaths = append(changedPaths, r.Pair.ExtensionPath)
		removedPaths = append(removedPaths, r.Pair.BundledPath)
	}
	report.Pairs = results
	report.RemovedBundledPaths = dedupe(removedPaths)

	if err := wheel.UpdateRecord(tree, changedPaths, removedPaths); err != nil {
		return report, fmt.Errorf("update RECORD: %w", err)
	}

	if err := repackWithContext(ctx, tree, opts.OutputWheelPath); err != nil {
		return report, fmt.Errorf("repack: %w", err)
	}
	return report, nil
}

func unpackWithContext(ctx context.Context, wheelPath, workdir string) (*wheel.Tree, error) {
	type result struct {
		tree *wheel.Tree
		err  error
	}
	done := make(chan result, 1)
	go func() {
		tree, err := wheel.Unpack(wheelPath, workdir)
		done <- result{tree, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.tree, r.err
	}
}

func repackWithContext(ctx context.Context, tree *wheel.Tree, outputPath string) error {
	done := make(chan error, 1)
	go func() {
		done <- wheel.Repack(tree, outputPath)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// analyzePairs runs the analyzer on every pair concurrently: the analysis
// phase is read-only (spec.md §5 explicitly permits this), so a plain
// WaitGroup with a pre-sized results slice avoids any shared-state race
// without needing an error-group dependency this corpus doesn't carry.
func analyzePairs(tree *wheel.Tree, pairs []wheel.Pair, opts Options) []PairResult {
	results := make([]PairResult, len(pairs))
	var wg sync.WaitGroup
	for i, p := range pairs {
		wg.Add(1)
		go func(i int, p wheel.Pair) {
			defer wg.Done()
			results[i] = analyzeOnePair(tree, p, opts)
		}(i, p)
	}
	wg.Wait()
	return results
}

func analyzeOnePair(tree *wheel.Tree, p wheel.Pair, opts Options) PairResult {
	result := PairResult{Pair: p}

	extView, extErr := loadSymbolView(tree, p.ExtensionPath)
	bunView, bunErr := loadSymbolView(tree, p.BundledPath)
	if extErr != nil {
		result.Err = extErr
		return result
	}
	if bunErr != nil {
		result.Err = bunErr
		return result
	}

	candidate, err := wheel.ResolveSystemCandidate(p.NeededName, opts.Candidates)
	if err != nil {
		result.Err = fmt.Errorf("no system candidate for %s: %w", p.NeededName, err)
		return result
	}
	sysView, err := loadSymbolViewFromPath(candidate.Path)
	if err != nil {
		result.Err = err
		return result
	}

	report := analyzer.Analyze(extView, bunView, sysView, p.NeededName)
	result.Findings = report.Findings
	result.Verdict = report.Verdict
	return result
}

func patchAndRemove(tree *wheel.Tree, r *PairResult, opts Options) error {
	entry := tree.EntryByArchivePath(r.Pair.ExtensionPath)
	if entry == nil {
		return fmt.Errorf("extension %s missing from tree", r.Pair.ExtensionPath)
	}
	raw, err := os.ReadFile(entry.DiskPath)
	if err != nil {
		return fmt.Errorf("read extension: %w", err)
	}
	img, err := elf.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse extension: %w", err)
	}

	candidate, err := wheel.ResolveSystemCandidate(r.Pair.NeededName, opts.Candidates)
	if err != nil {
		return err
	}
	plan, err := patcher.Plan(img, r.Pair.NeededName, candidate.ReplacementName(opts.ReplacementFrom))
	if err != nil {
		return fmt.Errorf("plan patch: %w", err)
	}
	patched, err := patcher.Apply(img, plan, raw)
	if err != nil {
		return fmt.Errorf("apply patch: %w", err)
	}
	if err := os.WriteFile(entry.DiskPath, patched, 0o755); err != nil {
		return fmt.Errorf("write patched extension: %w", err)
	}
	r.Patched = true

	return tree.Remove(r.Pair.BundledPath)
}

func loadSymbolView(tree *wheel.Tree, archivePath string) (*elf.SymbolView, error) {
	entry := tree.EntryByArchivePath(archivePath)
	if entry == nil {
		return nil, fmt.Errorf("%s missing from tree", archivePath)
	}
	return loadSymbolViewFromPath(entry.DiskPath)
}

func loadSymbolViewFromPath(path string) (*elf.SymbolView, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	img, err := elf.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return elf.BuildSymbolView(img)
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
