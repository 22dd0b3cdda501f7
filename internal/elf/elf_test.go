package elf

import (
	"errors"
	"testing"
)

func TestParseRejectsBadMagic(t *testing.T) {
	_, err := Parse([]byte("not an elf"))
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %v (%T)", err, err)
	}
	if perr.Kind != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %s", perr.Kind)
	}
}

func TestParseMinimalSharedObject(t *testing.T) {
	raw := newELFBuilder().withNeeded("libfoo.so.1", "libbar.so.2").withSONAME("libtarget.so.1").build()

	img, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %s", err)
	}
	if img.Class() != Class64 {
		t.Fatalf("expected Class64, got %s", img.Class())
	}
	if img.FileType() != TypeShared {
		t.Fatalf("expected TypeShared, got %s", img.FileType())
	}

	entries, err := img.DynamicEntries()
	if err != nil {
		t.Fatalf("DynamicEntries: %s", err)
	}
	var needed []string
	for _, e := range entries {
		if e.Tag != DT_NEEDED {
			continue
		}
		_, dynstr, _, err := img.SectionByName(".dynstr")
		if err != nil {
			t.Fatalf("SectionByName: %s", err)
		}
		name, err := ReadStringAtOffset(uint32(e.Value), dynstr)
		if err != nil {
			t.Fatalf("ReadStringAtOffset: %s", err)
		}
		needed = append(needed, string(name))
	}
	if len(needed) != 2 || needed[0] != "libfoo.so.1" || needed[1] != "libbar.so.2" {
		t.Fatalf("unexpected DT_NEEDED order: %v", needed)
	}
}

func TestBuildSymbolViewClassifiesSymbols(t *testing.T) {
	raw := newELFBuilder().
		withNeeded("libtarget.so.1").
		withSONAME("libtarget.so.1").
		withSymbol(symSpec{name: "defined_func", bind: BindGlobal, typ: SymFunc}).
		withSymbol(symSpec{name: "needs_it", bind: BindGlobal, typ: SymFunc, undefined: true}).
		build()

	img, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %s", err)
	}
	view, err := BuildSymbolView(img)
	if err != nil {
		t.Fatalf("BuildSymbolView: %s", err)
	}
	if !view.HasSONAME || view.SONAME != "libtarget.so.1" {
		t.Fatalf("unexpected SONAME: %+v", view.HasSONAME)
	}
	if len(view.Needed) != 1 || view.Needed[0] != "libtarget.so.1" {
		t.Fatalf("unexpected Needed: %v", view.Needed)
	}
	if _, ok := view.Defined["defined_func"]; !ok {
		t.Fatalf("expected defined_func to be defined")
	}
	if _, ok := view.Undefined["needs_it"]; !ok {
		t.Fatalf("expected needs_it to be undefined")
	}
}
