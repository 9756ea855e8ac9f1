package iosink

// Forwarding of consumed assembly data to external brokers. The protocol loop
// only enqueues; publishing happens on the fan-out goroutine.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/tturner/cipadapter/internal/config"
	"github.com/tturner/cipadapter/internal/logging"
	"github.com/tturner/cipadapter/internal/metrics"
)

// PublishTimeout bounds a single publish to one sink.
const PublishTimeout = 2 * time.Second

// Sample is one consumed assembly image.
type Sample struct {
	Instance uint16
	Data     []byte
	Run      bool
	At       time.Time
}

// Message is the JSON form published by every sink.
type Message struct {
	Instance  uint16 `json:"instance"`
	Size      int    `json:"size"`
	Run       bool   `json:"run"`
	Data      string `json:"data"` // hex
	Timestamp string `json:"timestamp"`
}

// Encode returns the JSON message for s.
func (s Sample) Encode() ([]byte, error) {
	return json.Marshal(Message{
		Instance:  s.Instance,
		Size:      len(s.Data),
		Run:       s.Run,
		Data:      hex.EncodeToString(s.Data),
		Timestamp: s.At.UTC().Format(time.RFC3339Nano),
	})
}

// Sink publishes samples to one destination.
type Sink interface {
	Name() string
	Publish(ctx context.Context, s Sample) error
	Close() error
}

// Fanout queues samples and publishes each one to every sink.
type Fanout struct {
	queue   chan Sample
	sinks   []Sink
	logger  *logging.Logger
	metrics *metrics.Registry
	now     func() time.Time
}

// NewFanout returns a fan-out holding at most size pending samples.
func NewFanout(size int, sinks []Sink, logger *logging.Logger, reg *metrics.Registry) *Fanout {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Fanout{
		queue:   make(chan Sample, size),
		sinks:   sinks,
		logger:  logger.With("component", "iosink"),
		metrics: reg,
		now:     time.Now,
	}
}

// Enabled reports whether any sink is configured.
func (f *Fanout) Enabled() bool {
	return f != nil && len(f.sinks) > 0
}

// Enqueue copies data into a sample and queues it without blocking. A full
// queue drops the sample.
func (f *Fanout) Enqueue(instance uint16, data []byte, run bool) bool {
	if !f.Enabled() {
		return false
	}
	s := Sample{Instance: instance, Data: append([]byte(nil), data...), Run: run, At: f.now()}
	select {
	case f.queue <- s:
		return true
	default:
		f.metrics.Inc(metrics.SinkSamplesDropped)
		return false
	}
}

// Pending returns the number of queued samples.
func (f *Fanout) Pending() int {
	return len(f.queue)
}

// Run publishes queued samples until ctx is cancelled, then closes every
// sink.
func (f *Fanout) Run(ctx context.Context) error {
	defer f.close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-f.queue:
			f.publish(ctx, s)
		}
	}
}

func (f *Fanout) publish(ctx context.Context, s Sample) {
	for _, sink := range f.sinks {
		pctx, cancel := context.WithTimeout(ctx, PublishTimeout)
		err := sink.Publish(pctx, s)
		cancel()
		if err != nil {
			f.metrics.Inc(metrics.SinkPublishErrors)
			f.logger.Verbose("%s: publish assembly %d: %v", sink.Name(), s.Instance, err)
			continue
		}
		f.metrics.Inc(metrics.SinkSamplesPublished)
	}
}

func (f *Fanout) close() {
	for _, sink := range f.sinks {
		if err := sink.Close(); err != nil {
			f.logger.Debug("%s: close: %v", sink.Name(), err)
		}
	}
}

// Open dials every enabled sink in cfg. A sink that cannot be reached fails
// the whole call so a misconfigured broker is reported at startup.
func Open(ctx context.Context, cfg config.SinksConfig, logger *logging.Logger, reg *metrics.Registry) (*Fanout, error) {
	var sinks []Sink
	fail := func(err error) (*Fanout, error) {
		for _, s := range sinks {
			s.Close()
		}
		return nil, err
	}
	if cfg.MQTT.Enable {
		s, err := DialMQTT(cfg.MQTT)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if cfg.Redis.Enable {
		s, err := DialRedis(ctx, cfg.Redis)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if cfg.Kafka.Enable {
		sinks = append(sinks, NewKafkaSink(cfg.Kafka))
	}
	return NewFanout(cfg.QueueSize, sinks, logger, reg), nil
}
