package bloom

import (
	"fmt"
	"math/rand"
	"testing"
)

func TestMayContainAllInserted(t *testing.T) {
	keys := make([][]byte, 0, 1000)
	for i := 0; i < 1000; i++ {
		keys = append(keys, []byte(fmt.Sprintf("key-%d", i)))
	}

	f := New(len(keys), 0.01)
	for _, k := range keys {
		f.Add(k)
	}

	for _, k := range keys {
		if !f.MayContain(k) {
			t.Fatalf("expected MayContain(%s) to be true for an inserted key", k)
		}
	}
}

func TestFalsePositiveRateBound(t *testing.T) {
	const n = 10000
	const target = 0.01

	keys := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		keys = append(keys, []byte(fmt.Sprintf("present-%d", i)))
	}

	f := New(n, target)
	for _, k := range keys {
		f.Add(k)
	}

	rng := rand.New(rand.NewSource(1))
	falsePositives := 0
	const probes = 10000
	for i := 0; i < probes; i++ {
		probe := []byte(fmt.Sprintf("absent-%d", rng.Int63()))
		if f.MayContain(probe) {
			falsePositives++
		}
	}

	rate := float64(falsePositives) / float64(probes)
	if rate > target*2 {
		t.Fatalf("false positive rate %v exceeds 2x target %v", rate, target)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	f := New(100, 0.01)
	f.Add([]byte("alpha"))
	f.Add([]byte("bravo"))

	restored := FromBytes(f.Bytes())
	if !restored.MayContain([]byte("alpha")) || !restored.MayContain([]byte("bravo")) {
		t.Fatal("expected restored filter to still contain inserted keys")
	}
}

func TestShortFilterIsDefinitelyNo(t *testing.T) {
	f := FromBytes([]byte{0})
	if f.MayContain([]byte("anything")) {
		t.Fatal("filter_len < 2 must always report false")
	}
}

func TestHashCountClampedAndSelfDescribing(t *testing.T) {
	f := New(1, 1e-12) // drives bpk, and thus k, very high
	k := int(f.bits[len(f.bits)-1])
	if k < 1 || k > 30 {
		t.Fatalf("k must be clamped to [1,30], got %d", k)
	}
}
