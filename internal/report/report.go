// Package report renders a workflow result as JSON or as colored text, per
// spec.md §6/§7.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/pablogsal/unrepair/internal/analyzer"
	"github.com/pablogsal/unrepair/internal/workflow"
)

// jsonFinding is one finding's wire shape.
type jsonFinding struct {
	Severity string `json:"severity"`
	Category string `json:"category"`
	Symbol   string `json:"symbol,omitempty"`
	Version  string `json:"version,omitempty"`
	Message  string `json:"message"`
}

// jsonPair is one pair's wire shape.
type jsonPair struct {
	Extension string        `json:"extension"`
	Needed    string        `json:"needed_name"`
	Bundled   string        `json:"bundled_path"`
	Verdict   string        `json:"verdict"`
	Patched   bool          `json:"patched"`
	Error     string        `json:"error,omitempty"`
	Findings  []jsonFinding `json:"findings"`
}

// jsonReport is the top-level document spec.md §6 requires: a summary,
// the per-pair failures/warnings, and the bundled paths removed.
type jsonReport struct {
	Summary             jsonSummary `json:"summary"`
	Pairs               []jsonPair  `json:"pairs"`
	RemovedBundledPaths []string    `json:"removed_bundled_paths"`
}

type jsonSummary struct {
	Total        int    `json:"total_pairs"`
	Compatible   int    `json:"compatible"`
	Incompatible int    `json:"incompatible"`
	Patched      int    `json:"patched"`
	Verdict      string `json:"verdict"`
}

// WriteJSON renders r to w as indented JSON.
func WriteJSON(w io.Writer, r *workflow.Report) error {
	doc := toJSONReport(r)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func toJSONReport(r *workflow.Report) jsonReport {
	doc := jsonReport{RemovedBundledPaths: r.RemovedBundledPaths}
	if doc.RemovedBundledPaths == nil {
		doc.RemovedBundledPaths = []string{}
	}
	overallCompatible := true
	for _, p := range r.Pairs {
		jp := jsonPair{
			Extension: p.Pair.ExtensionPath,
			Needed:    p.Pair.NeededName,
			Bundled:   p.Pair.BundledPath,
			Verdict:   p.Verdict.String(),
			Patched:   p.Patched,
			Findings:  make([]jsonFinding, 0, len(p.Findings)),
		}
		if p.Err != nil {
			jp.Error = p.Err.Error()
			overallCompatible = false
		}
		if p.Verdict == analyzer.Incompatible {
			overallCompatible = false
		}
		for _, f := range p.Findings {
			jp.Findings = append(jp.Findings, jsonFinding{
				Severity: f.Severity.String(),
				Category: f.Category.String(),
				Symbol:   f.Symbol,
				Version:  f.Version,
				Message:  f.Message,
			})
		}
		doc.Pairs = append(doc.Pairs, jp)
		doc.Summary.Total++
		if p.Patched {
			doc.Summary.Patched++
		}
		if p.Verdict == analyzer.Compatible {
			doc.Summary.Compatible++
		} else {
			doc.Summary.Incompatible++
		}
	}
	if overallCompatible {
		doc.Summary.Verdict = analyzer.Compatible.String()
	} else {
		doc.Summary.Verdict = analyzer.Incompatible.String()
	}
	return doc
}

// WriteText renders r to w as human-readable, severity-colored lines.
// enabled=false turns color escapes off (the caller decides that from
// --color and isatty, per SPEC_FULL.md §8); with enabled=true, fatih/color's
// own package-level terminal check (color.NoColor) still applies.
func WriteText(w io.Writer, r *workflow.Report, enabled bool) error {
	warnColor := color.New(color.FgYellow)
	errColor := color.New(color.FgRed)
	okColor := color.New(color.FgGreen)
	if !enabled {
		warnColor.DisableColor()
		errColor.DisableColor()
		okColor.DisableColor()
	}

	overallCompatible := true
	for _, p := range r.Pairs {
		fmt.Fprintf(w, "%s needs %s\n", p.Pair.ExtensionPath, p.Pair.NeededName)
		for _, f := range p.Findings {
			line := fmt.Sprintf("  [%s] %s", f.Severity, findingText(f))
			switch f.Severity {
			case analyzer.Error:
				errColor.Fprintln(w, line)
			case analyzer.Warn:
				warnColor.Fprintln(w, line)
			default:
				fmt.Fprintln(w, line)
			}
		}
		if p.Err != nil {
			errColor.Fprintf(w, "  [ERROR] %s\n", p.Err)
			overallCompatible = false
		}
		if p.Verdict == analyzer.Incompatible {
			overallCompatible = false
			errColor.Fprintf(w, "  Verdict: %s\n", p.Verdict)
		} else {
			okColor.Fprintf(w, "  Verdict: %s\n", p.Verdict)
		}
	}

	fmt.Fprintln(w)
	if len(r.RemovedBundledPaths) > 0 {
		fmt.Fprintf(w, "Removed bundled libraries: %d\n", len(r.RemovedBundledPaths))
		for _, p := range r.RemovedBundledPaths {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
	if overallCompatible {
		okColor.Fprintln(w, "Verdict: COMPATIBLE")
	} else {
		errColor.Fprintln(w, "Verdict: INCOMPATIBLE")
	}
	return nil
}

func findingText(f analyzer.Finding) string {
	msg := f.Message
	if f.Symbol != "" {
		msg = f.Symbol + ": " + msg
	}
	if f.Version != "" {
		msg += " (" + f.Version + ")"
	}
	return msg
}
