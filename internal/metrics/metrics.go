package metrics

// Adapter traffic counters shared between the protocol loop and observers.

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Counter names recorded by the adapter.
const (
	EncapFramesIn        = "encap_frames_in"
	EncapFramesOut       = "encap_frames_out"
	EncapFramesDropped   = "encap_frames_dropped"
	EncapInvalidCommand  = "encap_invalid_command"
	SessionsRegistered   = "sessions_registered"
	SessionsRejected     = "sessions_rejected"
	SessionsClosed       = "sessions_closed"
	SessionsTimedOut     = "sessions_timed_out"
	ListIdentityDelayed  = "list_identity_delayed"
	DelayedQueueFull     = "delayed_queue_full"
	ExplicitRequests     = "explicit_requests"
	ExplicitRejected     = "explicit_rejected"
	IOPacketsIn          = "io_packets_in"
	IOPacketsRejected    = "io_packets_rejected"
	IOPacketsOut         = "io_packets_out"
	SinkSamplesDropped   = "sink_samples_dropped"
	SinkSamplesPublished = "sink_samples_published"
	SinkPublishErrors    = "sink_publish_errors"
	CaptureErrors        = "capture_errors"
)

// Gauge names.
const (
	GaugeSessions    = "sessions"
	GaugeConnections = "connections"
	GaugeStreams     = "streams"
)

// Registry holds named counters and gauges. All methods are safe for
// concurrent use; the protocol loop writes while the API reads.
type Registry struct {
	counters *xsync.MapOf[string, *xsync.Counter]
	gauges   *xsync.MapOf[string, *atomic.Int64]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: xsync.NewMapOf[string, *xsync.Counter](),
		gauges:   xsync.NewMapOf[string, *atomic.Int64](),
	}
}

func (r *Registry) counter(name string) *xsync.Counter {
	c, _ := r.counters.LoadOrCompute(name, xsync.NewCounter)
	return c
}

// Inc adds one to the named counter. A nil registry is a no-op.
func (r *Registry) Inc(name string) {
	if r == nil {
		return
	}
	r.counter(name).Inc()
}

// Add adds delta to the named counter.
func (r *Registry) Add(name string, delta int64) {
	if r == nil {
		return
	}
	r.counter(name).Add(delta)
}

// Set stores the current value of a gauge.
func (r *Registry) Set(name string, v int64) {
	if r == nil {
		return
	}
	g, _ := r.gauges.LoadOrCompute(name, func() *atomic.Int64 { return new(atomic.Int64) })
	g.Store(v)
}

// Value returns a counter or gauge value, zero when unknown.
func (r *Registry) Value(name string) int64 {
	if r == nil {
		return 0
	}
	if c, ok := r.counters.Load(name); ok {
		return c.Value()
	}
	if g, ok := r.gauges.Load(name); ok {
		return g.Load()
	}
	return 0
}

// Sample is one named value of a snapshot.
type Sample struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
	Gauge bool   `json:"gauge,omitempty"`
}

// Snapshot returns every counter and gauge sorted by name.
func (r *Registry) Snapshot() []Sample {
	if r == nil {
		return nil
	}
	out := make([]Sample, 0, r.counters.Size()+r.gauges.Size())
	r.counters.Range(func(name string, c *xsync.Counter) bool {
		out = append(out, Sample{Name: name, Value: c.Value()})
		return true
	})
	r.gauges.Range(func(name string, g *atomic.Int64) bool {
		out = append(out, Sample{Name: name, Value: g.Load(), Gauge: true})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset zeroes every counter. Gauges keep their last value.
func (r *Registry) Reset() {
	if r == nil {
		return
	}
	r.counters.Range(func(_ string, c *xsync.Counter) bool {
		c.Reset()
		return true
	})
}

// FormatSnapshot renders samples as aligned "name value" lines.
func FormatSnapshot(samples []Sample) string {
	width := 0
	for _, s := range samples {
		if len(s.Name) > width {
			width = len(s.Name)
		}
	}
	var b strings.Builder
	for _, s := range samples {
		b.WriteString(s.Name)
		b.WriteString(strings.Repeat(" ", width-len(s.Name)+2))
		b.WriteString(formatInt(s.Value))
		b.WriteByte('\n')
	}
	return b.String()
}
