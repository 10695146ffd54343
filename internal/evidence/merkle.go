package evidence

import "github.com/anungis437/nzila-automation-sub010/pkg/hashops"

// EmptyRoot is the Merkle root of a pack with no artifacts.
func EmptyRoot() string {
	return hashops.SumHexString(EmptyRootSentinel)
}

// ComputeMerkleRoot folds leaf digests into a single root.
//
// Leaves are hashed pairwise in the order given: each parent is the SHA-256 of
// the concatenated hex strings of its two children. When a level has an odd
// number of nodes the last node is paired with itself. The fold repeats until
// one digest remains. An empty input yields EmptyRoot and a single leaf is its
// own root.
//
// Callers that need order independence must sort the leaves first; GenerateSeal
// and VerifySeal always do.
func ComputeMerkleRoot(hashes []string) string {
	switch len(hashes) {
	case 0:
		return EmptyRoot()
	case 1:
		return hashes[0]
	}

	level := make([]string, len(hashes))
	copy(level, hashes)
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashops.Concat(left, right))
		}
		level = next
	}
	return level[0]
}
