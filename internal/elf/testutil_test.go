package elf

import (
	"bytes"
	"encoding/binary"
)

// buildDynstr concatenates NUL-terminated strings and returns the blob
// plus each string's offset within it, in the order given. An empty
// string occupies offset 0 (the conventional "no name" slot).
func buildDynstr(names ...string) ([]byte, map[string]uint32) {
	offsets := make(map[string]uint32)
	buf := []byte{0} // offset 0 is always the empty string
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := offsets[n]; ok {
			continue
		}
		offsets[n] = uint32(len(buf))
		buf = append(buf, []byte(n)...)
		buf = append(buf, 0)
	}
	return buf, offsets
}

// symSpec describes one .dynsym entry to synthesize.
type symSpec struct {
	name      string
	bind      SymbolBind
	typ       SymbolType
	undefined bool
	versionIx uint16
}

// elfBuilder assembles a minimal, section-header-complete ELF64 shared
// object byte-for-byte, for tests that exercise internal/elf without a
// real compiled fixture on disk.
type elfBuilder struct {
	needed   []string
	soname   string
	hasSONAME bool
	symbols  []symSpec
	machine  MachineType
	osabi    uint8
}

func newELFBuilder() *elfBuilder {
	return &elfBuilder{machine: MachineAMD64}
}

func (b *elfBuilder) withNeeded(names ...string) *elfBuilder {
	b.needed = names
	return b
}

func (b *elfBuilder) withSONAME(name string) *elfBuilder {
	b.soname = name
	b.hasSONAME = true
	return b
}

func (b *elfBuilder) withSymbol(s symSpec) *elfBuilder {
	b.symbols = append(b.symbols, s)
	return b
}

// build lays out: header, program headers, dynstr, dynsym, shstrtab,
// dynamic table, section header table, in that order.
func (b *elfBuilder) build() []byte {
	order := binary.LittleEndian

	names := append([]string{}, b.needed...)
	if b.hasSONAME {
		names = append(names, b.soname)
	}
	for _, s := range b.symbols {
		if s.name != "" {
			names = append(names, s.name)
		}
	}
	dynstr, dynstrOff := buildDynstr(names...)

	dynsymEntries := make([]Symbol64, 0, len(b.symbols)+1)
	dynsymEntries = append(dynsymEntries, Symbol64{}) // index 0 is always null
	for _, s := range b.symbols {
		sectionIndex := uint16(1)
		if s.undefined {
			sectionIndex = SHN_UNDEF
		}
		dynsymEntries = append(dynsymEntries, Symbol64{
			Name:         dynstrOff[s.name],
			Info:         uint8(s.bind)<<4 | uint8(s.typ),
			SectionIndex: sectionIndex,
		})
	}
	var dynsymBuf bytes.Buffer
	binary.Write(&dynsymBuf, order, dynsymEntries)
	dynsym := dynsymBuf.Bytes()

	shstrtab, shOff := buildDynstr(".dynstr", ".dynsym", ".shstrtab")

	const headerSize = 64
	const phEntSize = 56
	const phCount = 1
	phTableEnd := uint64(headerSize + phEntSize*phCount)

	dynstrOffset := phTableEnd
	dynsymOffset := dynstrOffset + uint64(len(dynstr))
	shstrtabOffset := dynsymOffset + uint64(len(dynsym))
	dynTableOffset := shstrtabOffset + uint64(len(shstrtab))

	var entries []DynamicEntry64
	for _, n := range b.needed {
		entries = append(entries, DynamicEntry64{Tag: DT_NEEDED, Value: uint64(dynstrOff[n])})
	}
	if b.hasSONAME {
		entries = append(entries, DynamicEntry64{Tag: DT_SONAME, Value: uint64(dynstrOff[b.soname])})
	}
	entries = append(entries,
		DynamicEntry64{Tag: DT_STRTAB, Value: dynstrOffset},
		DynamicEntry64{Tag: DT_STRSZ, Value: uint64(len(dynstr))},
		DynamicEntry64{Tag: DT_SYMTAB, Value: dynsymOffset},
		DynamicEntry64{Tag: DT_NULL, Value: 0},
	)
	var dynBuf bytes.Buffer
	binary.Write(&dynBuf, order, entries)
	dynTable := dynBuf.Bytes()

	shTableOffset := dynTableOffset + uint64(len(dynTable))

	sections := []SectionHeader64{
		{}, // null section
		{Name: shOff[".dynstr"], Type: SectionStrtab, FileOffset: dynstrOffset, Size: uint64(len(dynstr))},
		{Name: shOff[".dynsym"], Type: SectionDynsym, FileOffset: dynsymOffset, Size: uint64(len(dynsym)), EntrySize: 24, LinkedIndex: 1},
		{Name: shOff[".shstrtab"], Type: SectionStrtab, FileOffset: shstrtabOffset, Size: uint64(len(shstrtab))},
	}

	header := Header64{
		Signature:              0x464c457f,
		Class:                  uint8(Class64),
		Endianness:             1,
		Version:                1,
		Type:                   TypeShared,
		Machine:                b.machine,
		OSABI:                  b.osabi,
		Version2:               1,
		ProgramHeaderOffset:    headerSize,
		SectionHeaderOffset:    shTableOffset,
		HeaderSize:             headerSize,
		ProgramHeaderEntrySize: phEntSize,
		ProgramHeaderEntries:   phCount,
		SectionHeaderEntrySize: 64,
		SectionHeaderEntries:   uint16(len(sections)),
		SectionNamesTable:      3,
	}

	phdr := ProgramHeader64{
		Type:       SegmentDynamic,
		FileOffset: dynTableOffset,
		FileSize:   uint64(len(dynTable)),
		MemorySize: uint64(len(dynTable)),
	}

	var out bytes.Buffer
	binary.Write(&out, order, header)
	binary.Write(&out, order, phdr)
	out.Write(dynstr)
	out.Write(dynsym)
	out.Write(shstrtab)
	out.Write(dynTable)
	binary.Write(&out, order, sections)

	return out.Bytes()
}
