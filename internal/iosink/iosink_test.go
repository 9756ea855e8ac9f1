package iosink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tturner/cipadapter/internal/metrics"
)

type recordingSink struct {
	mu      sync.Mutex
	name    string
	err     error
	got     []Sample
	closed  bool
	publish chan struct{}
}

func newRecordingSink(name string, err error) *recordingSink {
	return &recordingSink{name: name, err: err, publish: make(chan struct{}, 16)}
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Publish(_ context.Context, s Sample) error {
	r.mu.Lock()
	r.got = append(r.got, s)
	r.mu.Unlock()
	r.publish <- struct{}{}
	return r.err
}

func (r *recordingSink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingSink) samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sample(nil), r.got...)
}

func TestSampleEncode(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b, err := Sample{Instance: 150, Data: []byte{0xDE, 0xAD}, Run: true, At: at}.Encode()
	require.NoError(t, err)

	var m Message
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, Message{Instance: 150, Size: 2, Run: true, Data: "dead", Timestamp: "2024-05-01T12:00:00Z"}, m)
}

func TestFanoutDropsWhenFull(t *testing.T) {
	reg := metrics.NewRegistry()
	f := NewFanout(2, []Sink{newRecordingSink("a", nil)}, nil, reg)

	assert.True(t, f.Enqueue(150, []byte{1}, true))
	assert.True(t, f.Enqueue(150, []byte{2}, true))
	assert.False(t, f.Enqueue(150, []byte{3}, true))
	assert.Equal(t, 2, f.Pending())
	assert.Equal(t, int64(1), reg.Value(metrics.SinkSamplesDropped))
}

func TestFanoutWithoutSinks(t *testing.T) {
	f := NewFanout(4, nil, nil, nil)
	assert.False(t, f.Enabled())
	assert.False(t, f.Enqueue(1, []byte{1}, true))
	assert.Equal(t, 0, f.Pending())
}

func TestFanoutCopiesData(t *testing.T) {
	f := NewFanout(4, []Sink{newRecordingSink("a", nil)}, nil, nil)
	buf := []byte{1, 2, 3}
	require.True(t, f.Enqueue(7, buf, false))
	buf[0] = 9

	s := <-f.queue
	assert.Equal(t, []byte{1, 2, 3}, s.Data)
	assert.False(t, s.Run)
}

func TestFanoutPublishesToEverySink(t *testing.T) {
	reg := metrics.NewRegistry()
	good := newRecordingSink("good", nil)
	bad := newRecordingSink("bad", errors.New("broker down"))
	f := NewFanout(4, []Sink{good, bad}, nil, reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	require.True(t, f.Enqueue(150, []byte{1, 2}, true))
	<-good.publish
	<-bad.publish
	cancel()
	<-done

	require.Len(t, good.samples(), 1)
	assert.Equal(t, uint16(150), good.samples()[0].Instance)
	assert.Equal(t, int64(1), reg.Value(metrics.SinkSamplesPublished))
	assert.Equal(t, int64(1), reg.Value(metrics.SinkPublishErrors))
	assert.True(t, good.closed)
	assert.True(t, bad.closed)
}

type doneToken struct {
	done chan struct{}
	err  error
}

func newDoneToken(err error) *doneToken {
	t := &doneToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type pendingToken struct{ doneToken }

func (t *pendingToken) WaitTimeout(time.Duration) bool { return false }

type fakeMQTT struct {
	pahomqtt.Client
	topic       string
	qos         byte
	payload     []byte
	connect     pahomqtt.Token
	disconnects int
}

func (f *fakeMQTT) Connect() pahomqtt.Token { return f.connect }
func (f *fakeMQTT) Disconnect(uint)        { f.disconnects++ }

func (f *fakeMQTT) Publish(topic string, qos byte, _ bool, payload interface{}) pahomqtt.Token {
	f.topic, f.qos, f.payload = topic, qos, payload.([]byte)
	return newDoneToken(nil)
}

func TestMQTTSinkPublish(t *testing.T) {
	client := &fakeMQTT{}
	sink := newMQTTSink(client, "plant/adapter", 1)

	require.NoError(t, sink.Publish(context.Background(), Sample{Instance: 150, Data: []byte{1}, At: time.Now()}))
	assert.Equal(t, "plant/adapter/150", client.topic)
	assert.Equal(t, byte(1), client.qos)
	assert.Contains(t, string(client.payload), `"instance":150`)
}

func TestConnectMQTTStopsRetryingOnFailure(t *testing.T) {
	client := &fakeMQTT{connect: newDoneToken(nil)}
	require.NoError(t, connectMQTT(client, "tcp://broker:1883", time.Second))
	assert.Zero(t, client.disconnects)

	client = &fakeMQTT{connect: newDoneToken(errors.New("not authorized"))}
	err := connectMQTT(client, "tcp://broker:1883", time.Second)
	require.ErrorContains(t, err, "not authorized")
	assert.Equal(t, 1, client.disconnects)

	client = &fakeMQTT{connect: &pendingToken{}}
	err = connectMQTT(client, "tcp://broker:1883", time.Millisecond)
	require.ErrorContains(t, err, "timeout")
	assert.Equal(t, 1, client.disconnects)
}

type fakeRedis struct {
	keys     map[string]any
	channels map[string][]any
	closed   bool
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.keys[key] = value
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	f.channels[channel] = append(f.channels[channel], message)
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisSinkPublish(t *testing.T) {
	client := &fakeRedis{keys: map[string]any{}, channels: map[string][]any{}}
	sink := &RedisSink{client: client, channel: "cip:data", keyPrefix: "cip:asm:"}

	require.NoError(t, sink.Publish(context.Background(), Sample{Instance: 100, Data: []byte{5}, At: time.Now()}))
	assert.Contains(t, client.keys, "cip:asm:100")
	assert.Len(t, client.channels["cip:data"], 1)

	require.NoError(t, sink.Close())
	assert.True(t, client.closed)
}

type fakeKafka struct {
	msgs []kafka.Message
}

func (f *fakeKafka) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafka) Close() error { return nil }

func TestKafkaSinkPublish(t *testing.T) {
	w := &fakeKafka{}
	sink := &KafkaSink{writer: w}

	at := time.Now()
	require.NoError(t, sink.Publish(context.Background(), Sample{Instance: 101, Data: []byte{1, 2}, At: at}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("101"), w.msgs[0].Key)
	assert.Equal(t, at, w.msgs[0].Time)
}
