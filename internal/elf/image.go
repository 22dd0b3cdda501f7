package elf

import (
	"encoding/binary"
	"fmt"
)

// Section is a width-agnostic view of a section header table entry.
type Section struct {
	Index          int
	Type           SectionType
	Flags          uint64
	VirtualAddress uint64
	FileOffset     uint64
	Size           uint64
	LinkedIndex    uint32
	Info           uint32
	EntrySize      uint64
	nameOffset     uint32
}

func (s Section) Executable() bool { return s.Flags&4 != 0 }
func (s Section) Allocated() bool  { return s.Flags&2 != 0 }
func (s Section) Writable() bool   { return s.Flags&1 != 0 }

// Segment is a width-agnostic view of a program header table entry.
type Segment struct {
	Index           int
	Type            SegmentType
	Flags           uint32
	FileOffset      uint64
	VirtualAddress  uint64
	PhysicalAddress uint64
	FileSize        uint64
	MemorySize      uint64
	Align           uint64
}

// DynamicEntry is a (tag, value) pair from PT_DYNAMIC, with the entry's own
// file offset retained so the patcher can target it directly.
type DynamicEntry struct {
	Tag        DynamicTag
	Value      uint64
	FileOffset uint64
}

// rawDynamicEntry is the class-agnostic intermediate produced by
// file32/file64's dynamicEntries, before FileOffset is exposed publicly.
type rawDynamicEntry struct {
	Tag        DynamicTag
	Value      uint64
	FileOffset uint64
}

// DynSymbol is a single dynamic symbol, name-resolved, with its defined/
// undefined classification already applied.
type DynSymbol struct {
	Name         string
	Bind         SymbolBind
	Type         SymbolType
	SectionIndex uint16
	VersionIndex uint16
}

func (s DynSymbol) Undefined() bool { return s.SectionIndex == SHN_UNDEF }

// rawSymbol is the class-agnostic intermediate produced by file32/file64's
// parseSymbols, before names and version indices are attached.
type rawSymbol struct {
	NameOffset   uint32
	Bind         SymbolBind
	Type         SymbolType
	SectionIndex uint16
}

// widthReader is implemented by file32 and file64: the operations that
// differ only in entry width, used to build the class-agnostic pieces of
// Image (dynamic table, symbol table) once instead of twice.
type widthReader interface {
	SectionContent(index int) ([]byte, error)
	SectionCount() int
	dynamicEntries() ([]rawDynamicEntry, int, error)
	parseSymbols(content []byte) ([]rawSymbol, error)
	endianOrder() binary.ByteOrder
}

// Image is a 32- or 64-bit agnostic way of reading an ELF file. Use a type
// switch on the concrete *file32/*file64 only if class-specific details are
// ever needed; the interface below is the intended surface.
type Image interface {
	Class() Class
	Endianness() Data
	OSABI() uint8
	Machine() MachineType
	FileType() FileType
	Raw() []byte

	SectionCount() int
	SegmentCount() int
	Section(index int) (Section, error)
	SectionName(index int) (string, error)
	SectionContent(index int) ([]byte, error)
	Segment(index int) (Segment, error)

	// SectionSizeFieldOffset returns the absolute file offset of section
	// index's sh_size field.
	SectionSizeFieldOffset(index int) (uint64, error)

	// SectionByName finds a section by name, returning its descriptor
	// and raw content together. Returns ok=false if no section has that
	// name.
	SectionByName(name string) (sec Section, content []byte, ok bool, err error)

	// DynamicEntries walks the PT_DYNAMIC segment and returns every entry
	// in file order, including the terminating DT_NULL. Returns an empty
	// slice (not an error) if the image has no PT_DYNAMIC segment.
	DynamicEntries() ([]DynamicEntry, error)

	// DynSymbols parses the .dynsym section (by name) into name-resolved
	// symbols, each carrying its raw .gnu.version index (hidden bit masked
	// off); version names are resolved later, by BuildSymbolView.
	DynSymbols() ([]DynSymbol, error)

	widthReader
}

// Parse dispatches on e_ident[EI_CLASS] (raw[4]) to produce an Image.
func Parse(raw []byte) (Image, error) {
	if len(raw) < 5 {
		return nil, parseErr(ErrTruncated, "magic", fmt.Errorf("%d bytes", len(raw)))
	}
	if raw[0] != 0x7f || raw[1] != 'E' || raw[2] != 'L' || raw[3] != 'F' {
		return nil, parseErr(ErrBadMagic, "magic", nil)
	}
	switch raw[4] {
	case uint8(Class64):
		return parseFile64(raw)
	case uint8(Class32):
		return parseFile32(raw)
	}
	return nil, parseErr(ErrUnsupportedClass, "class", fmt.Errorf("raw value %d", raw[4]))
}

func (f *file64) SectionByName(name string) (Section, []byte, bool, error) {
	return sectionByName(f, name)
}

func (f *file32) SectionByName(name string) (Section, []byte, bool, error) {
	return sectionByName(f, name)
}

type namedSectionReader interface {
	SectionCount() int
	Section(index int) (Section, error)
	SectionName(index int) (string, error)
	SectionContent(index int) ([]byte, error)
}

func sectionByName(f namedSectionReader, name string) (Section, []byte, bool, error) {
	for i := 0; i < f.SectionCount(); i++ {
		n, err := f.SectionName(i)
		if err != nil {
			return Section{}, nil, false, err
		}
		if n != name {
			continue
		}
		sec, err := f.Section(i)
		if err != nil {
			return Section{}, nil, false, err
		}
		content, err := f.SectionContent(i)
		if err != nil {
			return Section{}, nil, false, err
		}
		return sec, content, true, nil
	}
	return Section{}, nil, false, nil
}

func (f *file64) DynamicEntries() ([]DynamicEntry, error) {
	return dynamicEntries(f)
}

func (f *file32) DynamicEntries() ([]DynamicEntry, error) {
	return dynamicEntries(f)
}

func dynamicEntries(f widthReader) ([]DynamicEntry, error) {
	raw, _, err := f.dynamicEntries()
	if err != nil {
		return nil, err
	}
	toReturn := make([]DynamicEntry, len(raw))
	for i, e := range raw {
		toReturn[i] = DynamicEntry{Tag: e.Tag, Value: e.Value, FileOffset: e.FileOffset}
	}
	return toReturn, nil
}

func (f *file64) DynSymbols() ([]DynSymbol, error) {
	return dynSymbols(f)
}

func (f *file32) DynSymbols() ([]DynSymbol, error) {
	return dynSymbols(f)
}

// dynSymbols resolves .dynsym against .dynstr and .gnu.version (if present),
// shared between both widths since the only class-specific piece is the raw
// symbol struct layout, already normalized by widthReader.parseSymbols.
func dynSymbols(f widthReader) ([]DynSymbol, error) {
	nf, ok := f.(namedSectionReader)
	if !ok {
		return nil, parseErr(ErrMalformedTable, ".dynsym", fmt.Errorf("reader does not support named sections"))
	}
	_, symContent, found, err := sectionByName(nf, ".dynsym")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	_, strContent, found, err := sectionByName(nf, ".dynstr")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, parseErr(ErrMalformedTable, ".dynstr", fmt.Errorf("missing string table for .dynsym"))
	}
	raw, err := f.parseSymbols(symContent)
	if err != nil {
		return nil, err
	}
	var versyms []uint16
	if _, verContent, found, err := sectionByName(nf, ".gnu.version"); err != nil {
		return nil, err
	} else if found {
		versyms = make([]uint16, len(verContent)/2)
		order := f.endianOrder()
		for i := range versyms {
			versyms[i] = order.Uint16(verContent[i*2 : i*2+2])
		}
	}
	toReturn := make([]DynSymbol, len(raw))
	for i, s := range raw {
		name := ""
		if s.NameOffset != 0 {
			nameBytes, err := ReadStringAtOffset(s.NameOffset, strContent)
			if err != nil {
				return nil, parseErr(ErrMalformedTable, "symbol name", err)
			}
			name = string(nameBytes)
		}
		var versionIndex uint16
		if i < len(versyms) {
			versionIndex = versyms[i] &^ VersymHiddenBit
		}
		toReturn[i] = DynSymbol{
			Name:         name,
			Bind:         s.Bind,
			Type:         s.Type,
			SectionIndex: s.SectionIndex,
			VersionIndex: versionIndex,
		}
	}
	return toReturn, nil
}
