// Package metrics aggregates per-worker operation counters and reports them
// as name:value lines.
package metrics

import "time"

// Output accumulates the counters of one measurement round. Each worker owns
// its own Output; the driver merges them after every worker has joined.
type Output struct {
	InitialCount int64
	FinalCount   int64
	InitialSize  int64
	FinalSize    int64
	Elapsed      time.Duration

	ReadAttempts   int64
	ReadHits       int64
	AddAttempts    int64
	AddSuccesses   int64
	RemoveAttempts int64
	RemoveHits     int64
}

// Merge adds the operation counters of other into o. Store level fields
// (counts, sizes, elapsed) belong to the driver and are left untouched.
func (o *Output) Merge(other *Output) {
	o.ReadAttempts += other.ReadAttempts
	o.ReadHits += other.ReadHits
	o.AddAttempts += other.AddAttempts
	o.AddSuccesses += other.AddSuccesses
	o.RemoveAttempts += other.RemoveAttempts
	o.RemoveHits += other.RemoveHits
}

// MergeAll returns a fresh Output holding the sum of every worker output.
func MergeAll(outputs []*Output) *Output {
	total := &Output{}
	for _, o := range outputs {
		if o != nil {
			total.Merge(o)
		}
	}
	return total
}

// Ops returns the number of operations attempted.
func (o *Output) Ops() int64 {
	return o.ReadAttempts + o.AddAttempts + o.RemoveAttempts
}

// ReadSuccessRate returns the share of reads that found their record.
func (o *Output) ReadSuccessRate() float64 {
	return ratio(o.ReadHits, o.ReadAttempts)
}

// AddSuccessRate returns the share of inserts that stored a record.
func (o *Output) AddSuccessRate() float64 {
	return ratio(o.AddSuccesses, o.AddAttempts)
}

// RemoveSuccessRate returns the share of removes that found their record.
func (o *Output) RemoveSuccessRate() float64 {
	return ratio(o.RemoveHits, o.RemoveAttempts)
}

// ReadPercent returns the percentage of operations that were reads.
func (o *Output) ReadPercent() float64 {
	return ratio(o.ReadAttempts, o.Ops()) * 100
}

// RemovePercent returns the percentage of operations that were removes.
func (o *Output) RemovePercent() float64 {
	return ratio(o.RemoveAttempts, o.Ops()) * 100
}

// Throughput returns operations per second over the elapsed time.
func (o *Output) Throughput() float64 {
	return Throughput(o.Ops(), o.Elapsed)
}

// Throughput returns ops per second, or 0 when no time has elapsed.
func Throughput(ops int64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(ops) / secs
}

// Occupancy returns the share of buckets holding at least one record.
func Occupancy(used, total int64) float64 {
	return ratio(used, total)
}

// LoadRatio returns records per bucket.
func LoadRatio(count, buckets int64) float64 {
	return ratio(count, buckets)
}

func ratio(num, den int64) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) / float64(den)
}
