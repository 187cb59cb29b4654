// Package bloom implements the bit-array membership filter used by SST
// blocks, including its bits-per-key sizing and double-hashing probe
// scheme.
package bloom

import (
	"hash/fnv"
	"math"
)

// Filter is a bit-array bloom filter whose probe count k is stored as the
// last byte of its serialized form, so the filter is self-describing.
type Filter struct {
	bits []byte // bit vector then the trailing k byte; (len(bits)-1)*8 == m rounded up to a byte
	k    int
}

// Hash32 returns the 32-bit seed hash used to derive probe positions for
// key. Grounded in the teacher's choice of FNV-1a for key hashing.
func Hash32(key []byte) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(key)
	return h.Sum32()
}

// BitsPerKey returns ceil(-ln(p) / (ln 2)^2), the bits-per-key needed to hit
// false-positive rate p.
func BitsPerKey(p float64) int {
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	bpk := math.Ceil(-math.Log(p) / (math.Ln2 * math.Ln2))
	if bpk < 1 {
		bpk = 1
	}
	return int(bpk)
}

// New builds a filter sized for n keys at false-positive rate p. A p
// outside (0, 1), including p <= 0, is replaced by 0.01 (see BitsPerKey),
// so New always returns a normally sized, working filter; it has no
// disabled mode.
func New(n int, p float64) *Filter {
	bpk := BitsPerKey(p)
	return newWithBitsPerKey(n, bpk)
}

func newWithBitsPerKey(n, bpk int) *Filter {
	k := int(math.Round(float64(bpk) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}

	m := n * bpk
	if m < 64 {
		m = 64
	}
	nBytes := (m + 7) / 8

	bits := make([]byte, nBytes+1) // +1 for the trailing self-describing k byte
	bits[nBytes] = byte(k)

	return &Filter{bits: bits, k: k}
}

// NewFromKeys builds a filter directly from a set of already-hashed keys,
// matching the builder's "accumulate hashes, build once at flush" flow.
func NewFromKeys(hashes []uint32, p float64) *Filter {
	f := New(len(hashes), p)
	for _, h := range hashes {
		f.addHash(h)
	}
	return f
}

// Add inserts key into the filter.
func (f *Filter) Add(key []byte) {
	f.addHash(Hash32(key))
}

func (f *Filter) addHash(h uint32) {
	nBits := uint32((len(f.bits) - 1) * 8)
	if nBits == 0 {
		return
	}
	delta := (h >> 17) | (h << 15)
	for i := 0; i < f.k; i++ {
		bitPos := h % nBits
		f.bits[bitPos/8] |= 1 << (bitPos % 8)
		h += delta
	}
}

// MayContain reports whether key might be present. False means definitely
// absent; true means maybe present (subject to the false-positive rate).
func (f *Filter) MayContain(key []byte) bool {
	return f.mayContainHash(Hash32(key))
}

func (f *Filter) mayContainHash(h uint32) bool {
	if len(f.bits) < 2 {
		return false // definitely no
	}
	k := int(f.bits[len(f.bits)-1])
	if k > 30 {
		return true // reserved: treated as "always true"
	}
	nBits := uint32((len(f.bits) - 1) * 8)
	if nBits == 0 {
		return false
	}
	delta := (h >> 17) | (h << 15)
	for i := 0; i < k; i++ {
		bitPos := h % nBits
		if f.bits[bitPos/8]&(1<<(bitPos%8)) == 0 {
			return false
		}
		h += delta
	}
	return true
}

// Bytes returns the filter's serialized form (bit vector followed by the
// trailing k byte), suitable for embedding in a TableIndex.
func (f *Filter) Bytes() []byte {
	return f.bits
}

// FromBytes reconstructs a filter from its serialized form as produced by
// Bytes. A nil/empty buf yields a filter that always reports "definitely
// no" from MayContain.
func FromBytes(buf []byte) *Filter {
	if len(buf) < 2 {
		return &Filter{bits: buf}
	}
	return &Filter{bits: buf, k: int(buf[len(buf)-1])}
}
