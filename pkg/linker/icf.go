package linker

import (
	"debug/elf"
)

// isCIdentifier reports whether name could be referenced from C source
// as a bare identifier (spec.md §3): such sections are addressable from
// outside the object and are never ICF-eligible, because folding them
// would change which symbol name resolves to which bytes.
func isCIdentifier(name string) bool {
	if len(name) == 0 {
		return false
	}
	for i, c := range name {
		switch {
		case c == '_':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// isEligible implements spec.md §3's eligibility invariant.
func isEligible(isec *InputSection) bool {
	shdr := isec.Shdr()
	isAlloc := shdr.Flags&uint64(elf.SHF_ALLOC) != 0
	isExecutable := shdr.Flags&uint64(elf.SHF_EXECINSTR) != 0
	isWritable := shdr.Flags&uint64(elf.SHF_WRITE) != 0
	isBss := shdr.Type == uint32(elf.SHT_NOBITS)
	name := isec.Name()
	isInit := shdr.Type == uint32(elf.SHT_INIT_ARRAY) || name == ".init"
	isFini := shdr.Type == uint32(elf.SHT_FINI_ARRAY) || name == ".fini"
	isEnumerable := isCIdentifier(name)

	return isAlloc && isExecutable && !isWritable && !isBss &&
		!isInit && !isFini && !isEnumerable
}

// isLeaf implements spec.md §3's leaf invariant: no section-level
// relocations, and every FDE carries at most its own self-reference.
func isLeaf(isec *InputSection) bool {
	if len(isec.GetRels()) != 0 {
		return false
	}
	for _, fde := range isec.FdeRecords {
		if len(fde.Rels) > 1 {
			return false
		}
	}
	return true
}

// leafKey is the structural-equality signature spec.md §4.B dedupes
// leaves on: contents plus every FDE's identity-bearing tail. Treating
// this as a cryptographic digest (rather than a raw byte-string map
// key) reuses the same negligible-collision assumption spec.md already
// makes for Digest, and keeps the leaf table's keys a fixed width.
func leafKey(isec *InputSection) Digest {
	d := newDigestHasher()
	d.writeBytes(isec.Contents)
	d.writeU64(uint64(len(isec.FdeRecords)))
	for _, fde := range isec.FdeRecords {
		tail := fde.Contents
		if len(tail) > 8 {
			tail = tail[8:]
		} else {
			tail = nil
		}
		d.writeBytes(tail)
	}
	return d.sum()
}

// classifyAndFoldLeaves is components A and B fused into one pass over
// every input file, exactly as spec.md's data-flow diagram has B run
// independent of and before D-G. Eligible sections are split into the
// propagation set (IcfEligible) and the leaf set (IcfLeaf), and every
// leaf's Leader is assigned by direct content equality before a single
// digest gets computed.
func classifyAndFoldLeaves(ctx *Context) error {
	type leafEntry struct {
		key  Digest
		isec *InputSection
	}

	shards := make([][]leafEntry, len(ctx.Objs))

	err := parallelRange(len(ctx.Objs), func(i int) error {
		file := ctx.Objs[i]
		var local []leafEntry
		for _, isec := range file.Sections {
			if isec == nil || !isec.IsAlive || !isEligible(isec) {
				continue
			}
			if isLeaf(isec) {
				isec.IcfLeaf = true
				local = append(local, leafEntry{key: leafKey(isec), isec: isec})
			} else {
				isec.IcfEligible = true
			}
		}
		shards[i] = local
		return nil
	})
	if err != nil {
		return err
	}

	reps := make(map[Digest]*InputSection)
	for _, shard := range shards {
		for _, e := range shard {
			cur, ok := reps[e.key]
			if !ok || e.isec.GetPriority() < cur.GetPriority() {
				reps[e.key] = e.isec
			}
		}
	}

	return parallelForFiles(ctx.Objs, func(file *ObjectFile) error {
		for _, isec := range file.Sections {
			if isec == nil || !isec.IcfLeaf {
				continue
			}
			isec.Leader = reps[leafKey(isec)]
		}
		return nil
	})
}
