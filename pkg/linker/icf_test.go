package linker

import (
	"debug/elf"
	"math"
	"testing"
)

// newTestFile builds a bare ObjectFile at the given load-order
// priority, sufficient for exercising the ICF passes without a real
// ELF byte stream behind it.
func newTestFile(priority uint64) *ObjectFile {
	obj := &ObjectFile{}
	obj.Priority = priority
	obj.IsAlive = true
	return obj
}

// newTestSection registers a section header and content buffer on
// file and returns the corresponding InputSection, ready for
// isEligible/isLeaf/digest inspection.
func newTestSection(file *ObjectFile, shndx uint32, name string, contents []byte) *InputSection {
	nameOff := uint32(len(file.ShStrtab))
	file.ShStrtab = append(file.ShStrtab, []byte(name)...)
	file.ShStrtab = append(file.ShStrtab, 0)

	for uint32(len(file.ElfSections)) <= shndx {
		file.ElfSections = append(file.ElfSections, Shdr{})
	}
	file.ElfSections[shndx] = Shdr{
		Name:  nameOff,
		Type:  uint32(elf.SHT_PROGBITS),
		Flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
	}

	isec := &InputSection{
		File:      file,
		Shndx:     shndx,
		Contents:  contents,
		IsAlive:   true,
		RelsecIdx: math.MaxUint32,
	}
	file.Sections = append(file.Sections, isec)
	return isec
}

// newTestSymbol appends a symbol resolving to target (or an undefined
// symbol if target is nil) and returns its index in file.Symbols.
func newTestSymbol(file *ObjectFile, target *InputSection) uint32 {
	sym := &Symbol{File: file, InputSection: target}
	file.Symbols = append(file.Symbols, sym)
	return uint32(len(file.Symbols) - 1)
}

func buildContext(files ...*ObjectFile) *Context {
	ctx := NewContext()
	ctx.Objs = files
	return ctx
}

func TestIsEligibleRequiresAllocExecutableReadOnly(t *testing.T) {
	f := newTestFile(0)
	code := newTestSection(f, 0, ".text.foo", []byte{0x13, 0x00, 0x00, 0x00})
	if !isEligible(code) {
		t.Fatalf("expected alloc+exec+read-only section to be eligible")
	}

	writable := newTestSection(f, 1, ".data.rel.ro.foo", []byte{1, 2, 3, 4})
	writable.Shdr().Flags |= uint64(elf.SHF_WRITE)
	if isEligible(writable) {
		t.Fatalf("writable section must not be eligible")
	}

	bss := newTestSection(f, 2, ".bss.foo", nil)
	bss.Shdr().Type = uint32(elf.SHT_NOBITS)
	if isEligible(bss) {
		t.Fatalf("SHT_NOBITS section must not be eligible")
	}
}

func TestIsEligibleExcludesCIdentifierNames(t *testing.T) {
	f := newTestFile(0)
	named := newTestSection(f, 0, "foo", []byte{1, 2, 3, 4})
	unnamed := newTestSection(f, 1, ".text.cold", []byte{1, 2, 3, 4})

	if isEligible(named) {
		t.Fatalf("a section addressable as a bare C identifier must not be eligible")
	}
	if !isEligible(unnamed) {
		t.Fatalf(".text.cold should be eligible")
	}
}

// TestByteIdenticalLeavesFold covers spec.md scenario S1: two
// byte-identical leaf sections in two files fold, with the
// lower-priority file's section as leader.
func TestByteIdenticalLeavesFold(t *testing.T) {
	f0 := newTestFile(0)
	f1 := newTestFile(1)

	s0 := newTestSection(f0, 0, ".text.dup", []byte{0xde, 0xad, 0xbe, 0xef})
	s1 := newTestSection(f1, 0, ".text.dup", []byte{0xde, 0xad, 0xbe, 0xef})

	ctx := buildContext(f0, f1)
	if err := classifyAndFoldLeaves(ctx); err != nil {
		t.Fatalf("classifyAndFoldLeaves: %v", err)
	}

	if !s0.IcfLeaf || !s1.IcfLeaf {
		t.Fatalf("both sections should classify as leaves")
	}
	if s0.Leader != s0 {
		t.Fatalf("s0 (lower priority) should be its own leader, got %v", s0.Leader)
	}
	if s1.Leader != s0 {
		t.Fatalf("s1 should fold into s0, got leader %v", s1.Leader)
	}
}

// TestRelocationOrderMattersForFolding covers spec.md scenario S2:
// same targets in a different relocation order must not fold with the
// sections that agree on order.
func TestRelocationOrderMattersForFolding(t *testing.T) {
	f := newTestFile(0)

	target1 := newTestSection(f, 0, ".text.leaf1", []byte{0x01})
	target2 := newTestSection(f, 1, ".text.leaf2", []byte{0x09})

	mkCaller := func(shndx uint32, order []uint32) *InputSection {
		s := newTestSection(f, shndx, ".text.caller", []byte{0x02, 0x03})
		var rels []Rela
		for _, symIdx := range order {
			rels = append(rels, Rela{Offset: uint64(len(rels) * 4), Type: 1, Sym: symIdx, Addend: 0})
		}
		s.Rels = rels
		s.RelsecIdx = 0
		return s
	}

	sym1 := newTestSymbol(f, target1)
	sym2 := newTestSymbol(f, target2)

	a := mkCaller(2, []uint32{sym1, sym2})
	b := mkCaller(3, []uint32{sym1, sym2})
	c := mkCaller(4, []uint32{sym2, sym1})

	ctx := buildContext(f)
	if err := classifyAndFoldLeaves(ctx); err != nil {
		t.Fatalf("classifyAndFoldLeaves: %v", err)
	}

	sections, err := enumerateSections(ctx)
	if err != nil {
		t.Fatalf("enumerateSections: %v", err)
	}

	initial := make([]Digest, len(sections))
	for i, s := range sections {
		initial[i] = computeInitialDigest(s)
	}
	edges, edgeIndices, err := buildEdges(sections)
	if err != nil {
		t.Fatalf("buildEdges: %v", err)
	}
	digest, err := propagate(sections, initial, edges, edgeIndices)
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if err := commitClasses(sections, digest); err != nil {
		t.Fatalf("commitClasses: %v", err)
	}

	if a.Leader != b.Leader {
		t.Fatalf("a and b have identical relocation order and must fold together")
	}
	if c.Leader == a.Leader {
		t.Fatalf("c has a different relocation order and must remain a singleton")
	}
}

// TestMutuallyRecursivePairFolds covers spec.md scenario S3: two
// pairs of mutually-referencing sections fold pairwise once
// propagation reaches a fixed point.
func TestMutuallyRecursivePairFolds(t *testing.T) {
	f0 := newTestFile(0)
	f1 := newTestFile(1)

	x1 := newTestSection(f0, 0, ".text.x", []byte{0x10})
	y1 := newTestSection(f0, 1, ".text.y", []byte{0x20})
	x2 := newTestSection(f1, 0, ".text.x", []byte{0x10})
	y2 := newTestSection(f1, 1, ".text.y", []byte{0x20})

	link := func(from, to *InputSection) {
		symIdx := newTestSymbol(from.File, to)
		from.Rels = []Rela{{Offset: 0, Type: 1, Sym: symIdx, Addend: 0}}
		from.RelsecIdx = 0
	}
	link(x1, y1)
	link(y1, x1)
	link(x2, y2)
	link(y2, x2)

	ctx := buildContext(f0, f1)
	if err := classifyAndFoldLeaves(ctx); err != nil {
		t.Fatalf("classifyAndFoldLeaves: %v", err)
	}
	sections, err := enumerateSections(ctx)
	if err != nil {
		t.Fatalf("enumerateSections: %v", err)
	}
	initial := make([]Digest, len(sections))
	for i, s := range sections {
		initial[i] = computeInitialDigest(s)
	}
	edges, edgeIndices, err := buildEdges(sections)
	if err != nil {
		t.Fatalf("buildEdges: %v", err)
	}
	digest, err := propagate(sections, initial, edges, edgeIndices)
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if err := commitClasses(sections, digest); err != nil {
		t.Fatalf("commitClasses: %v", err)
	}

	if x1.Leader != x2.Leader {
		t.Fatalf("{x1, x2} should fold into one class")
	}
	if y1.Leader != y2.Leader {
		t.Fatalf("{y1, y2} should fold into one class")
	}
	if x1.Leader == y1.Leader {
		t.Fatalf("x and y are not identical and must not share a class")
	}
}

// TestReportSavedBytesMatchesFoldedMemberSizes covers spec.md scenario
// S6: savings count every folded member's size, not the surviving
// copy's.
func TestReportSavedBytesMatchesFoldedMemberSizes(t *testing.T) {
	f := newTestFile(0)

	mkGroup := func(startShndx uint32, name string, size int, count int) []*InputSection {
		contents := make([]byte, size)
		var group []*InputSection
		for i := 0; i < count; i++ {
			group = append(group, newTestSection(f, startShndx+uint32(i), name, contents))
		}
		return group
	}

	groupA := mkGroup(0, ".text.a", 128, 3)
	groupB := mkGroup(10, ".text.b", 64, 2)

	for _, g := range [][]*InputSection{groupA, groupB} {
		leader := g[0]
		leader.Leader = leader
		for _, m := range g[1:] {
			m.Leader = leader
		}
	}

	ctx := buildContext(f)
	leaders, members := groupFoldedSections(ctx)

	if got, want := computeSavedBytes(leaders, members), uint64(128*2+64*1); got != want {
		t.Fatalf("ICF saved bytes = %d, want %d", got, want)
	}
}
