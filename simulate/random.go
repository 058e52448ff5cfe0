package simulate

import (
	"encoding/binary"
	"math"

	"github.com/aead/chacha20/chacha"
	"github.com/hhcho/frand"
	"gonum.org/v1/gonum/stat/distuv"
)

const bufferSize int = 1024

// Random is a seeded ChaCha20 stream. It is a gonum random source, so the
// distuv distributions draw from it directly. It is not safe for concurrent
// use.
type Random struct {
	prg *frand.RNG
	buf [8]byte
}

// NewRandom returns a stream fully determined by seed.
func NewRandom(seed uint64) *Random {
	key := make([]byte, chacha.KeySize)
	binary.LittleEndian.PutUint64(key, seed)
	return &Random{prg: frand.NewCustom(key, bufferSize, 20)}
}

func (r *Random) Uint64() uint64 {
	r.prg.Read(r.buf[:])
	return binary.LittleEndian.Uint64(r.buf[:])
}

// Float64 is uniform on [0, 1).
func (r *Random) Float64() float64 {
	return float64(r.Uint64()>>11) / (1 << 53)
}

// Intn is uniform on [0, n), by rejection so that every value is equally likely.
func (r *Random) Intn(n int) int {
	if n <= 0 {
		panic("simulate: Intn with non-positive n")
	}
	max := uint64(n)
	limit := math.MaxUint64 - math.MaxUint64%max
	for {
		if v := r.Uint64(); v < limit {
			return int(v % max)
		}
	}
}

// NormFloat64 draws a standard normal.
func (r *Random) NormFloat64() float64 {
	return distuv.Normal{Mu: 0, Sigma: 1, Src: r}.Rand()
}

func (r *Random) Poisson(lambda float64) float64 {
	return distuv.Poisson{Lambda: lambda, Src: r}.Rand()
}

func (r *Random) Binomial(n int, p float64) float64 {
	switch {
	case n <= 0 || p <= 0:
		return 0
	case p >= 1:
		return float64(n)
	}
	return distuv.Binomial{N: float64(n), P: p, Src: r}.Rand()
}
