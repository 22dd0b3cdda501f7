// Package analyzer cross-checks an extension's and a bundled library's
// dynamic symbol requirements against a candidate system library, producing
// an ordered list of findings and a verdict.
package analyzer

import (
	"path/filepath"
	"sort"

	"github.com/pablogsal/unrepair/internal/elf"
)

// Severity classifies a Finding.
type Severity int

const (
	Info Severity = iota
	Warn
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	}
	return "UNKNOWN"
}

// Category distinguishes ELF-table-derived findings from workflow-level
// ones (the latter are emitted by internal/workflow, not this package, but
// share the Finding type so reports can render both uniformly).
type Category int

const (
	CategoryElf Category = iota
	CategoryWorkflow
)

func (c Category) String() string {
	if c == CategoryWorkflow {
		return "Workflow"
	}
	return "Elf"
}

// Finding is a single diagnostic emitted by a check.
type Finding struct {
	Severity Severity
	Category Category
	Symbol   string // empty if not symbol-specific
	Version  string // empty if not version-specific
	Message  string
}

// Verdict is COMPATIBLE iff no Finding in a Report has Severity Error.
type Verdict int

const (
	Incompatible Verdict = iota
	Compatible
)

func (v Verdict) String() string {
	if v == Compatible {
		return "COMPATIBLE"
	}
	return "INCOMPATIBLE"
}

// Report is the ordered findings from one (extension, bundled, system)
// triple, plus the verdict they imply.
type Report struct {
	Findings []Finding
	Verdict  Verdict
}

func (r *Report) add(f Finding) {
	r.Findings = append(r.Findings, f)
	if f.Severity == Error {
		r.Verdict = Incompatible
	}
}

// Analyze runs the five checks of SPEC_FULL.md §3 against ext (the
// extension), bun (the bundled library being replaced) and sys (the
// candidate system library), all run to completion regardless of earlier
// failures. bundledName names the bundled library (a path or a DT_NEEDED
// name; only its basename is compared, alongside bun's own SONAME) and is
// used to identify which of ext's undefined symbols are actually satisfied
// by the library being replaced, as opposed to some other DT_NEEDED entry.
func Analyze(ext, bun, sys *elf.SymbolView, bundledName string) Report {
	report := Report{Verdict: Compatible}

	// 1. ELF identity.
	checkIdentity(bun, sys, &report)

	// 2. Relevant symbol set: undefined symbols in ext that are required
	// from the bundled library (matched by basename on the recorded
	// requiring library).
	relevant := relevantSymbols(ext, bun, bundledName)

	// 3 & 4: missing exports / missing required versions, iterated in
	// sorted symbol-name order for determinism (SPEC_FULL.md §10, spec.md
	// §5).
	names := make([]string, 0, len(relevant))
	for name := range relevant {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		req := relevant[name]
		definedVersions, isDefined := sys.Defined[name]
		if !isDefined {
			report.add(Finding{
				Severity: Error,
				Category: analyzerCategory,
				Symbol:   name,
				Message:  "needed by extension but not exported by system library",
			})
			continue
		}
		if req.Version == "" {
			continue
		}
		// An unversioned system definition satisfies any version request
		// (spec.md §9 open question, resolved this way).
		if len(definedVersions) == 0 {
			continue
		}
		if !definedVersions.Has(req.Version) {
			report.add(Finding{
				Severity: Error,
				Category: analyzerCategory,
				Symbol:   name,
				Version:  req.Version,
				Message:  "required version not provided",
			})
		}
	}

	// 5. SONAME mismatch.
	if bun.HasSONAME && sys.HasSONAME && bun.SONAME != sys.SONAME {
		report.add(Finding{
			Severity: Warn,
			Category: analyzerCategory,
			Message:  "bundled library SONAME " + bun.SONAME + " differs from system library SONAME " + sys.SONAME,
		})
	}

	return report
}

const analyzerCategory = CategoryElf

func checkIdentity(bun, sys *elf.SymbolView, report *Report) {
	if bun.Class != sys.Class {
		report.add(Finding{Severity: Error, Category: analyzerCategory,
			Message: "ELF class mismatch between bundled and system library"})
	}
	if bun.Endianness != sys.Endianness {
		report.add(Finding{Severity: Error, Category: analyzerCategory,
			Message: "byte encoding mismatch between bundled and system library"})
	}
	if bun.OSABI != sys.OSABI {
		report.add(Finding{Severity: Error, Category: analyzerCategory,
			Message: "OS/ABI mismatch between bundled and system library"})
	}
	if bun.Machine != sys.Machine {
		report.add(Finding{Severity: Error, Category: analyzerCategory,
			Message: "machine type mismatch between bundled and system library"})
	}
}

// relevantSymbols computes S = { name in ext.Undefined : requiring library
// basename == bundledName (or the bundled library's own SONAME) }.
func relevantSymbols(ext, bun *elf.SymbolView, bundledName string) map[string]elf.VersionRequirement {
	toReturn := make(map[string]elf.VersionRequirement)
	candidates := map[string]bool{filepath.Base(bundledName): true}
	if bun.HasSONAME {
		candidates[filepath.Base(bun.SONAME)] = true
	}
	for name, req := range ext.Undefined {
		if req.Library == "" {
			continue
		}
		if candidates[filepath.Base(req.Library)] {
			toReturn[name] = req
		}
	}
	return toReturn
}
