package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pablogsal/unrepair/internal/elf"
)

func newInspectCommand() *cobra.Command {
	var (
		showSections bool
		showSegments bool
		showSymbols  bool
		showDynamic  bool
	)

	cmd := &cobra.Command{
		Use:   "inspect <elf-file>",
		Short: "Print sections, segments, symbols, or the dynamic table of an ELF file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, _, err := loadImage(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s %s %s\n", img.Class(), img.Endianness(), img.FileType(), img.Machine())

			if showSections {
				if err := printSections(out, img); err != nil {
					return err
				}
			}
			if showSegments {
				printSegments(out, img)
			}
			if showSymbols {
				if err := printSymbols(out, img); err != nil {
					return err
				}
			}
			if showDynamic {
				if err := printDynamicTable(out, img); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showSections, "sections", false, "Print a list of sections")
	cmd.Flags().BoolVar(&showSegments, "segments", false, "Print a list of segments (program headers)")
	cmd.Flags().BoolVar(&showSymbols, "symbols", false, "Print the dynamic symbol table")
	cmd.Flags().BoolVar(&showDynamic, "dynamic", false, "Print the PT_DYNAMIC table")
	return cmd
}

func printSections(out io.Writer, img elf.Image) error {
	for i := 0; i < img.SectionCount(); i++ {
		name, err := img.SectionName(i)
		if err != nil {
			return fmt.Errorf("section %d name: %w", i, err)
		}
		sec, err := img.Section(i)
		if err != nil {
			return fmt.Errorf("section %d: %w", i, err)
		}
		fmt.Fprintf(out, "%d. %s: type=%s size=%d offset=0x%x\n", i, name, sec.Type, sec.Size, sec.FileOffset)
	}
	return nil
}

func printSegments(out io.Writer, img elf.Image) {
	for i := 0; i < img.SegmentCount(); i++ {
		seg, err := img.Segment(i)
		if err != nil {
			fmt.Fprintf(out, "%d. <error: %s>\n", i, err)
			continue
		}
		fmt.Fprintf(out, "%d. %s: offset=0x%x filesize=%d memsize=%d\n", i, seg.Type, seg.FileOffset, seg.FileSize, seg.MemorySize)
	}
}

func printSymbols(out io.Writer, img elf.Image) error {
	symbols, err := img.DynSymbols()
	if err != nil {
		return fmt.Errorf("dynamic symbols: %w", err)
	}
	fmt.Fprintf(out, "%d dynamic symbols:\n", len(symbols))
	for i, s := range symbols {
		state := "defined"
		if s.Undefined() {
			state = "undefined"
		}
		fmt.Fprintf(out, "  %d. %s: %s %s (%s)\n", i, s.Name, s.Bind, s.Type, state)
	}
	return nil
}

func printDynamicTable(out io.Writer, img elf.Image) error {
	entries, err := img.DynamicEntries()
	if err != nil {
		return fmt.Errorf("dynamic table: %w", err)
	}
	fmt.Fprintf(out, "%d dynamic table entries:\n", len(entries))
	for i, e := range entries {
		fmt.Fprintf(out, "  %d. %s: value=0x%x\n", i, e.Tag, e.Value)
		if e.Tag == elf.DT_NULL {
			break
		}
	}
	return nil
}
