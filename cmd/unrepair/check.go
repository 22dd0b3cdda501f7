package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pablogsal/unrepair/internal/analyzer"
	"github.com/pablogsal/unrepair/internal/elf"
	"github.com/pablogsal/unrepair/internal/patcher"
)

func newCheckCommand() *cobra.Command {
	var (
		extensionPath   string
		bundledPath     string
		systemPath      string
		patch           bool
		patchNeededFrom string
		outputPath      string
		verbose         bool
		format          string
		colorMode       string
	)

	cmd := &cobra.Command{
		Use:   "check <extension> <bundled> <system>",
		Short: "Check whether a system shared library can replace an extension's bundled one",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			extensionPath, bundledPath, systemPath = args[0], args[1], args[2]
			logger := setupLogger(verbose)

			extImg, _, err := loadImage(extensionPath)
			if err != nil {
				return err
			}
			bunImg, _, err := loadImage(bundledPath)
			if err != nil {
				return err
			}
			sysImg, _, err := loadImage(systemPath)
			if err != nil {
				return err
			}

			extView, err := elf.BuildSymbolView(extImg)
			if err != nil {
				return fmt.Errorf("project %s: %w", extensionPath, err)
			}
			bunView, err := elf.BuildSymbolView(bunImg)
			if err != nil {
				return fmt.Errorf("project %s: %w", bundledPath, err)
			}
			sysView, err := elf.BuildSymbolView(sysImg)
			if err != nil {
				return fmt.Errorf("project %s: %w", systemPath, err)
			}

			rep := analyzer.Analyze(extView, bunView, sysView, bundledPath)
			logger.Info("analysis complete", "findings", len(rep.Findings), "verdict", rep.Verdict.String())

			renderCheckReport(cmd, rep, colorEnabled(colorMode), format)

			if rep.Verdict == analyzer.Incompatible {
				if !patch {
					return fmt.Errorf("incompatible")
				}
				return fmt.Errorf("refusing to patch an incompatible pair")
			}

			if !patch {
				return nil
			}
			neededName := filepath.Base(bundledPath)
			if bunView.HasSONAME {
				neededName = bunView.SONAME
			}
			return runPatch(extensionPath, outputPath, systemPath, sysView, neededName, patchNeededFrom)
		},
	}

	cmd.Flags().BoolVar(&patch, "patch", false, "Rewrite the extension's DT_NEEDED entry if compatible")
	cmd.Flags().StringVar(&patchNeededFrom, "patch-needed-from", "soname", "Replacement string source: soname or system-path")
	cmd.Flags().StringVar(&outputPath, "output", "", "Where to write the patched extension (required with --patch)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable info-level logging")
	cmd.Flags().StringVar(&format, "format", "text", "Report format: text or json")
	cmd.Flags().StringVar(&colorMode, "color", "auto", "Colorize text output: auto, always, or never")
	return cmd
}

func loadImage(path string) (elf.Image, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	img, err := elf.Parse(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return img, raw, nil
}

func runPatch(extensionPath, outputPath, systemPath string, sysView *elf.SymbolView, neededName, source string) error {
	if outputPath == "" {
		return fmt.Errorf("--output is required with --patch")
	}
	img, raw, err := loadImage(extensionPath)
	if err != nil {
		return err
	}
	replacement, err := filepath.Abs(systemPath)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", systemPath, err)
	}
	if source != "system-path" && sysView.HasSONAME {
		replacement = sysView.SONAME
	}
	plan, err := patcher.Plan(img, neededName, replacement)
	if err != nil {
		return fmt.Errorf("plan patch: %w", err)
	}
	patched, err := patcher.Apply(img, plan, raw)
	if err != nil {
		return fmt.Errorf("apply patch: %w", err)
	}
	return os.WriteFile(outputPath, patched, 0o755)
}

func renderCheckReport(cmd *cobra.Command, rep analyzer.Report, colored bool, format string) {
	out := cmd.OutOrStdout()
	if format == "json" {
		writeCheckReportJSON(out, rep)
		return
	}

	errColor := color.New(color.FgRed)
	warnColor := color.New(color.FgYellow)
	okColor := color.New(color.FgGreen)
	if !colored {
		errColor.DisableColor()
		warnColor.DisableColor()
		okColor.DisableColor()
	}

	for _, f := range rep.Findings {
		msg := f.Message
		if f.Symbol != "" {
			msg = f.Symbol + ": " + msg
		}
		switch f.Severity {
		case analyzer.Error:
			errColor.Fprintf(out, "[ERROR] %s\n", msg)
		case analyzer.Warn:
			warnColor.Fprintf(out, "[WARN] %s\n", msg)
		default:
			fmt.Fprintf(out, "[INFO] %s\n", msg)
		}
	}
	if rep.Verdict == analyzer.Compatible {
		okColor.Fprintf(out, "Verdict: %s\n", rep.Verdict)
	} else {
		errColor.Fprintf(out, "Verdict: %s\n", rep.Verdict)
	}
}

type jsonCheckFinding struct {
	Severity string `json:"severity"`
	Symbol   string `json:"symbol,omitempty"`
	Version  string `json:"version,omitempty"`
	Message  string `json:"message"`
}

func writeCheckReportJSON(out io.Writer, rep analyzer.Report) {
	findings := make([]jsonCheckFinding, 0, len(rep.Findings))
	for _, f := range rep.Findings {
		findings = append(findings, jsonCheckFinding{
			Severity: f.Severity.String(),
			Symbol:   f.Symbol,
			Version:  f.Version,
			Message:  f.Message,
		})
	}
	doc := struct {
		Verdict  string             `json:"verdict"`
		Findings []jsonCheckFinding `json:"findings"`
	}{Verdict: rep.Verdict.String(), Findings: findings}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.Encode(doc)
}
