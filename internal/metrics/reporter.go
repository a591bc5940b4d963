package metrics

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Reporter writes metrics as name:value lines. The first write error is kept
// and returned by Err; later writes are dropped.
type Reporter struct {
	mu  sync.Mutex
	w   io.Writer
	err error
}

// NewReporter creates a reporter writing to w.
func NewReporter(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

func (r *Reporter) printf(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return
	}
	_, r.err = fmt.Fprintf(r.w, format, args...)
}

// Int writes an integer metric.
func (r *Reporter) Int(name string, value int64) {
	r.printf("%s:%d\n", name, value)
}

// Float writes a floating point metric with three decimals.
func (r *Reporter) Float(name string, value float64) {
	r.printf("%s:%.3f\n", name, value)
}

// String writes a textual metric.
func (r *Reporter) String(name, value string) {
	r.printf("%s:%s\n", name, value)
}

// Bool writes a flag as 0 or 1.
func (r *Reporter) Bool(name string, value bool) {
	v := int64(0)
	if value {
		v = 1
	}
	r.Int(name, v)
}

// Seconds writes a duration in seconds with three decimals.
func (r *Reporter) Seconds(name string, d time.Duration) {
	r.Float(name, d.Seconds())
}

// Printf writes free text as is.
func (r *Reporter) Printf(format string, args ...interface{}) {
	r.printf(format, args...)
}

// Err returns the first write error, if any.
func (r *Reporter) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Results writes the derived result lines of a merged bench round.
func (r *Reporter) Results(o *Output) {
	const mb = 1024 * 1024

	r.Int("initial_count", o.InitialCount)
	r.Int("final_count", o.FinalCount)
	r.Int("initial_size", o.InitialSize)
	r.Float("initial_sizemb", float64(o.InitialSize)/mb)
	r.Int("final_size", o.FinalSize)
	r.Float("final_sizemb", float64(o.FinalSize)/mb)
	r.Float("read_successrate", o.ReadSuccessRate())
	r.Float("add_successrate", o.AddSuccessRate())
	r.Float("remove_successrate", o.RemoveSuccessRate())
	r.Seconds("time", o.Elapsed)
	r.Int("ops", o.Ops())
	r.Float("actual_pcntreads", o.ReadPercent())
	r.Float("actual_pcntremove", o.RemovePercent())
	r.Float("throughput", o.Throughput())
}
