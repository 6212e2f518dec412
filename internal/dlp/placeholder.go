package dlp

import (
	"encoding/binary"
	"hash/fnv"
)

// charClass classifies a rune into one of the four shape-preservation
// buckets used by placeholder minting and by the redaction-preservation
// invariant: lower, upper, digit, or other (kept verbatim).
type charClass int

const (
	classOther charClass = iota
	classLower
	classUpper
	classDigit
)

func classify(r rune) charClass {
	switch {
	case r >= 'a' && r <= 'z':
		return classLower
	case r >= 'A' && r <= 'Z':
		return classUpper
	case r >= '0' && r <= '9':
		return classDigit
	default:
		return classOther
	}
}

// createPlaceholder mints a same-length, same-class pseudo-random string
// for original, seeded deterministically from id so that a fixed sequence
// of matches always produces a fixed sequence of placeholders (the
// determinism invariant in §8 of the specification). Each ASCII
// lowercase/uppercase/digit character is replaced by a character of the
// same class; every other character (punctuation, unicode, `-`, `_`) is
// preserved verbatim.
func createPlaceholder(id uint32, original string) string {
	seed := seedFromID(id)
	next := func() uint64 {
		seed = seed*6364136223846793005 + 1
		return seed
	}

	runes := []rune(original)
	out := make([]rune, len(runes))
	for i, r := range runes {
		switch classify(r) {
		case classLower:
			out[i] = rune('a' + next()%26)
		case classUpper:
			out[i] = rune('A' + next()%26)
		case classDigit:
			out[i] = rune('0' + next()%10)
		default:
			out[i] = r
		}
	}
	return string(out)
}

// seedFromID derives the initial LCG seed from a match's sequential id.
// Any deterministic function of id is correct here; FNV-1a over the
// id's bytes gives a well-distributed starting point without pulling in
// a dedicated PRNG library for what is, by construction, a four-byte hash.
func seedFromID(id uint32) uint64 {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], id)
	h := fnv.New64a()
	_, _ = h.Write(buf[:])
	return h.Sum64()
}
