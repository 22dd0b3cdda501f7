package elf

import (
	"encoding/binary"
	"fmt"
)

// SymbolView is the projection of an Image the analyzer actually
// reasons about: the libraries it needs, its own SONAME, and its dynamic
// symbol table split into defined and undefined, each carrying whatever
// version information applies.
type SymbolView struct {
	Needed  []string // DT_NEEDED basenames, in link order, duplicates kept
	SONAME  string
	HasSONAME bool
	Defined   map[string]VersionSet
	Undefined map[string]VersionRequirement
	Class     Class
	Endianness Data
	OSABI      uint8
	Machine    MachineType
}

// BuildSymbolView projects an Image into a SymbolView per the rules in
// SPEC_FULL.md §2 / spec.md §4.2.
func BuildSymbolView(img Image) (*SymbolView, error) {
	view := &SymbolView{
		Defined:    make(map[string]VersionSet),
		Undefined:  make(map[string]VersionRequirement),
		Class:      img.Class(),
		Endianness: img.Endianness(),
		OSABI:      img.OSABI(),
		Machine:    img.Machine(),
	}

	_, dynstr, found, err := img.SectionByName(".dynstr")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, parseErr(ErrMalformedTable, ".dynstr", fmt.Errorf("missing dynamic string table"))
	}

	entries, err := img.DynamicEntries()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		switch e.Tag {
		case DT_NEEDED:
			name, err := ReadStringAtOffset(uint32(e.Value), dynstr)
			if err != nil {
				return nil, parseErr(ErrMalformedTable, "DT_NEEDED name", err)
			}
			view.Needed = append(view.Needed, string(name))
		case DT_SONAME:
			if view.HasSONAME {
				continue
			}
			name, err := ReadStringAtOffset(uint32(e.Value), dynstr)
			if err != nil {
				return nil, parseErr(ErrMalformedTable, "DT_SONAME", err)
			}
			view.SONAME = string(name)
			view.HasSONAME = true
		}
	}

	symbols, err := img.DynSymbols()
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return view, nil
	}

	var verNeedMap map[uint16]VersionRequirement
	if _, content, found, err := img.SectionByName(".gnu.version_r"); err != nil {
		return nil, err
	} else if found {
		verNeedMap, err = parseVersionNeed(content, endianOrderOf(img), dynstr)
		if err != nil {
			return nil, err
		}
	}
	var verDefMap map[uint16]string
	if _, content, found, err := img.SectionByName(".gnu.version_d"); err != nil {
		return nil, err
	} else if found {
		verDefMap, err = parseVersionDef(content, endianOrderOf(img), dynstr)
		if err != nil {
			return nil, err
		}
	}

	for _, sym := range symbols {
		if sym.Name == "" {
			continue
		}
		if sym.Bind == BindLocal {
			continue
		}
		if sym.Undefined() {
			req := VersionRequirement{}
			if sym.VersionIndex != VER_NDX_LOCAL && sym.VersionIndex != VER_NDX_GLOBAL {
				if r, ok := verNeedMap[sym.VersionIndex]; ok {
					req = r
				}
			}
			view.Undefined[sym.Name] = req
			continue
		}
		set, ok := view.Defined[sym.Name]
		if !ok {
			set = make(VersionSet)
			view.Defined[sym.Name] = set
		}
		if sym.VersionIndex != VER_NDX_LOCAL && sym.VersionIndex != VER_NDX_GLOBAL {
			if name, ok := verDefMap[sym.VersionIndex]; ok {
				set[name] = true
			}
		}
	}
	return view, nil
}

func endianOrderOf(img Image) binary.ByteOrder {
	if img.Endianness() == DataBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
