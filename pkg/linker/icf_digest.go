package linker

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"
)

// digestSize is the width of an ICF identity token: a truncation of a
// cryptographic hash, per spec.md §9 ("128 bits truncated from a
// cryptographic hash is sufficient"). crypto/sha256 is the stdlib
// primitive mold itself uses (original_source/icf.cc: SHA256); no
// third-party cryptographic hash package appears anywhere in this
// repo's dependency corpus, so unlike the rest of the ICF engine's
// concurrency stack this one primitive stays on the standard library
// (see DESIGN.md).
const digestSize = 16

// Digest is a section's identity token at a given propagation round.
// Collisions are treated as identity (spec.md §3).
type Digest [digestSize]byte

func (d Digest) less(o Digest) bool {
	for i := range d {
		if d[i] != o[i] {
			return d[i] < o[i]
		}
	}
	return false
}

// digestHasher accumulates the length-prefixed, order-sensitive byte
// stream that feeds a section's digest. Every value that could vary in
// width (byte strings, in particular) is length-prefixed so that two
// different encodings can never collide by concatenation alone.
type digestHasher struct {
	h hash.Hash
}

func newDigestHasher() *digestHasher {
	return &digestHasher{h: sha256.New()}
}

func (d *digestHasher) writeU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	d.h.Write(b[:])
}

func (d *digestHasher) writeI64(v int64) {
	d.writeU64(uint64(v))
}

func (d *digestHasher) writeBytes(b []byte) {
	d.writeU64(uint64(len(b)))
	d.h.Write(b)
}

func (d *digestHasher) writeString(s string) {
	d.writeU64(uint64(len(s)))
	d.h.Write([]byte(s))
}

// writeDigest absorbs a previously computed Digest verbatim, used by
// the propagator to fold a section's own label and its neighbors'
// labels into the next round's label.
func (d *digestHasher) writeDigest(v Digest) {
	d.h.Write(v[:])
}

func (d *digestHasher) sum() Digest {
	var out Digest
	copy(out[:], d.h.Sum(nil)[:digestSize])
	return out
}

// symbolFingerprintTag values distinguish otherwise-ambiguous payloads
// in the byte stream (spec.md §4.D): without them a fragment's raw
// bytes could collide with a priority integer of the same width.
const (
	tagRelocFragment  = 1 // direct fragment reference in a section relocation
	tagSymbolFragment = 2 // symbol that itself resolves to a fragment
	tagSymbolUnbound  = 3 // undefined or absolute symbol
	tagSymbolFolded   = 4 // referent already folded (a settled leaf)
	tagSymbolPending  = 5 // referent is an eligible participant; deferred to propagation
	tagSymbolOrdinary = 6 // referent is a real, ineligible section
)

// hashSymbolFingerprint writes sym's identity contribution. Tag 5
// deliberately carries no information about *which* eligible section
// sym refers to — that identity is supplied by propagation rounds
// (spec.md §4.F), not by the initial digest.
func hashSymbolFingerprint(d *digestHasher, sym *Symbol) {
	switch {
	case sym.SectionFragment != nil:
		d.writeU64(tagSymbolFragment)
		d.writeString(sym.SectionFragment.Data)
	case sym.InputSection == nil:
		d.writeU64(tagSymbolUnbound)
	case sym.InputSection.Leader != nil:
		d.writeU64(tagSymbolFolded)
		d.writeU64(sym.InputSection.Leader.GetPriority())
	case sym.InputSection.IcfEligible:
		d.writeU64(tagSymbolPending)
	default:
		d.writeU64(tagSymbolOrdinary)
		d.writeU64(sym.InputSection.GetPriority())
	}
	d.writeU64(sym.Value)
}

// computeInitialDigest is component D (spec.md §4.D): everything about
// a section that does not depend on the identities of its neighbors.
func computeInitialDigest(isec *InputSection) Digest {
	d := newDigestHasher()

	d.writeBytes(isec.Contents)
	d.writeU64(isec.Shdr().Flags)
	d.writeU64(uint64(len(isec.FdeRecords)))
	rels := isec.GetRels()
	d.writeU64(uint64(len(rels)))

	for _, fde := range isec.FdeRecords {
		tail := fde.Contents
		if len(tail) > 8 {
			tail = tail[8:]
		} else {
			tail = nil
		}
		d.writeBytes(tail)
		d.writeU64(uint64(len(fde.Rels)))

		for _, rel := range fde.Rels[minInt(1, len(fde.Rels)):] {
			hashSymbolFingerprint(d, rel.Sym)
			d.writeU64(uint64(rel.Type))
			d.writeU64(rel.Offset)
			d.writeI64(rel.Addend)
		}
	}

	for _, rel := range rels {
		d.writeU64(rel.Offset)
		d.writeU64(uint64(rel.Type))
		d.writeI64(rel.Addend)

		sym := isec.File.Symbols[rel.Sym]
		if sym.SectionFragment != nil {
			d.writeU64(tagRelocFragment)
			d.writeI64(rel.Addend)
			d.writeString(sym.SectionFragment.Data)
		} else {
			hashSymbolFingerprint(d, sym)
		}
	}

	return d.sum()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
