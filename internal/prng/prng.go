// Package prng provides the per-worker pseudo-random streams used by the
// workload generators. Streams are deterministic, allocation free and must
// never be shared between goroutines.
package prng

// zeroSeed replaces a zero seed, which is a fixed point of the xorshift transform.
const zeroSeed int32 = 1

// BenchSeed is mixed into every measurement worker seed so that the
// measurement phase never replays the key sequence of the load phase.
const BenchSeed int32 = 0b001001010000110101101101110001

// LoadSeed is the base seed of the bench loaders.
const LoadSeed int32 = 0b010110011100011010001011010011

// roundMix separates the seeds of slots that share a table entry.
const roundMix uint32 = 0x5bd1e995

// DefaultSeedTable holds one seed per worker slot for the bench driver.
var DefaultSeedTable = [...]int32{
	0b011011100001111001010111110001,
	0b010000000111110111011001100111,
	0b110111001101101111110110101001,
	0b111011011010000111000100011001,
	0b100111100000001011100001110010,
	0b001011100000001001110111110101,
	0b110111000000001001000100001010,
	0b100000011010110101100101110100,
	0b110011001000010110001110100000,
	0b001010001010100110110110101000,
	0b011100111000110000000100111001,
	0b001000011011010000110100000000,
	0b110110110101100001100100111110,
	0b001010011011110100011011110101,
	0b010110111000010111010111100001,
	0b110100101110001100100010100011,
}

// Stream is a Marsaglia xorshift generator over a single 32-bit state.
type Stream struct {
	seed int32
}

// New returns a stream starting from seed.
func New(seed int32) *Stream {
	return &Stream{seed: seed}
}

// Seed returns the current state of the stream.
func (s *Stream) Seed() int32 {
	return s.seed
}

// Uint31 advances the stream and returns a non-negative 31-bit value.
func (s *Stream) Uint31() int32 {
	x := uint32(s.seed)
	if x == 0 {
		x = uint32(zeroSeed)
	}
	x ^= x << 6
	x ^= x >> 21
	x ^= x << 7
	s.seed = int32(x)
	return int32(x & 0x7FFFFFFF)
}

// Next returns a value in [0, n). A non-positive n yields 0 without
// advancing the stream.
func (s *Stream) Next(n int) int {
	if n <= 0 {
		return 0
	}
	return int(s.Uint31()) % n
}

// Next64 is Next for int64 ranges. Ranges wider than 31 bits are clamped by
// the width of the generator.
func (s *Stream) Next64(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return int64(s.Uint31()) % n
}

// Chance reports true with probability 1/n.
func (s *Stream) Chance(n int) bool {
	return s.Next(n) == 0
}

// WorkerSeed derives the seed of worker slot i from a base seed and the
// default seed table. The first len(DefaultSeedTable) slots use their table
// entry as is; later slots wrap around the table and also mix in how many
// times they wrapped, so every slot of a base gets its own seed.
func WorkerSeed(base int32, i int) int32 {
	n := len(DefaultSeedTable)
	seed := base ^ DefaultSeedTable[i%n]
	if round := uint32(i / n); round > 0 {
		seed ^= int32(round * roundMix & 0x7FFFFFFF)
	}
	return seed
}

// Derive returns n seeds drawn from a stream seeded with runSeed. It is used
// to give every worker of a test an independent, reproducible stream.
func Derive(runSeed int32, n int) []int32 {
	root := New(runSeed)
	seeds := make([]int32, n)
	for i := range seeds {
		seeds[i] = root.Uint31() ^ DefaultSeedTable[i%len(DefaultSeedTable)]
	}
	return seeds
}
