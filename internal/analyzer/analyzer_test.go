package analyzer

import (
	"testing"

	"github.com/pablogsal/unrepair/internal/elf"
)

func baseView() *elf.SymbolView {
	return &elf.SymbolView{
		Defined:   make(map[string]elf.VersionSet),
		Undefined: make(map[string]elf.VersionRequirement),
		Class:     elf.Class64,
		Machine:   elf.MachineAMD64,
	}
}

func TestAnalyzeCompatibleWhenAllSatisfied(t *testing.T) {
	ext := baseView()
	ext.Undefined["png_read_info"] = elf.VersionRequirement{Library: "libpng16.so.16"}

	bun := baseView()
	bun.HasSONAME = true
	bun.SONAME = "libpng16.so.16"

	sys := baseView()
	sys.HasSONAME = true
	sys.SONAME = "libpng16.so.16"
	sys.Defined["png_read_info"] = elf.VersionSet{}

	report := Analyze(ext, bun, sys, "libpng16.so.16")
	if report.Verdict != Compatible {
		t.Fatalf("expected Compatible, got %s: %+v", report.Verdict, report.Findings)
	}
}

func TestAnalyzeIncompatibleOnMissingSymbol(t *testing.T) {
	ext := baseView()
	ext.Undefined["png_new_api"] = elf.VersionRequirement{Library: "libpng16.so.16"}

	bun := baseView()
	bun.HasSONAME = true
	bun.SONAME = "libpng16.so.16"

	sys := baseView()
	sys.HasSONAME = true
	sys.SONAME = "libpng16.so.16"

	report := Analyze(ext, bun, sys, "libpng16.so.16")
	if report.Verdict != Incompatible {
		t.Fatalf("expected Incompatible, got %s", report.Verdict)
	}
	found := false
	for _, f := range report.Findings {
		if f.Symbol == "png_new_api" && f.Severity == Error {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an Error finding for png_new_api, got %+v", report.Findings)
	}
}

func TestAnalyzeIncompatibleOnVersionMismatch(t *testing.T) {
	ext := baseView()
	ext.Undefined["png_read_info"] = elf.VersionRequirement{Library: "libpng16.so.16", Version: "PNG16_1.6.40"}

	bun := baseView()
	bun.HasSONAME = true
	bun.SONAME = "libpng16.so.16"

	sys := baseView()
	sys.HasSONAME = true
	sys.SONAME = "libpng16.so.16"
	sys.Defined["png_read_info"] = elf.VersionSet{"PNG16_1.6.30": true}

	report := Analyze(ext, bun, sys, "libpng16.so.16")
	if report.Verdict != Incompatible {
		t.Fatalf("expected Incompatible, got %s", report.Verdict)
	}
}

func TestAnalyzeUnversionedSystemDefinitionSatisfiesAnyRequest(t *testing.T) {
	ext := baseView()
	ext.Undefined["foo"] = elf.VersionRequirement{Library: "libfoo.so.1", Version: "FOO_1.0"}

	bun := baseView()
	bun.HasSONAME = true
	bun.SONAME = "libfoo.so.1"

	sys := baseView()
	sys.HasSONAME = true
	sys.SONAME = "libfoo.so.1"
	sys.Defined["foo"] = elf.VersionSet{}

	report := Analyze(ext, bun, sys, "libfoo.so.1")
	if report.Verdict != Compatible {
		t.Fatalf("expected Compatible (unversioned definition satisfies any request), got %s: %+v",
			report.Verdict, report.Findings)
	}
}

func TestAnalyzeClassMismatchIsError(t *testing.T) {
	ext := baseView()
	bun := baseView()
	sys := baseView()
	sys.Class = elf.Class32

	report := Analyze(ext, bun, sys, "libfoo.so.1")
	if report.Verdict != Incompatible {
		t.Fatalf("expected Incompatible on class mismatch, got %s", report.Verdict)
	}
}

func TestAnalyzeSONAMEMismatchIsWarnOnly(t *testing.T) {
	ext := baseView()
	bun := baseView()
	bun.HasSONAME = true
	bun.SONAME = "libfoo.so.1"
	sys := baseView()
	sys.HasSONAME = true
	sys.SONAME = "libfoo.so.2"

	report := Analyze(ext, bun, sys, "libfoo.so.1")
	if report.Verdict != Compatible {
		t.Fatalf("SONAME mismatch alone should not fail the verdict, got %s", report.Verdict)
	}
	if len(report.Findings) != 1 || report.Findings[0].Severity != Warn {
		t.Fatalf("expected a single Warn finding, got %+v", report.Findings)
	}
}

func TestAnalyzeIgnoresUnrelatedUndefinedSymbols(t *testing.T) {
	ext := baseView()
	ext.Undefined["other_lib_func"] = elf.VersionRequirement{Library: "libother.so.1"}

	bun := baseView()
	bun.HasSONAME = true
	bun.SONAME = "libfoo.so.1"
	sys := baseView()
	sys.HasSONAME = true
	sys.SONAME = "libfoo.so.1"

	report := Analyze(ext, bun, sys, "libfoo.so.1")
	if report.Verdict != Compatible {
		t.Fatalf("expected Compatible: symbols from unrelated libraries must not be checked, got %+v",
			report.Findings)
	}
}
