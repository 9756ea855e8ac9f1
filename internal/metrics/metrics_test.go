package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCountersAndGauges(t *testing.T) {
	r := NewRegistry()
	r.Inc(EncapFramesIn)
	r.Inc(EncapFramesIn)
	r.Add(IOPacketsOut, 5)
	r.Set(GaugeSessions, 3)
	r.Set(GaugeSessions, 2)

	assert.Equal(t, int64(2), r.Value(EncapFramesIn))
	assert.Equal(t, int64(5), r.Value(IOPacketsOut))
	assert.Equal(t, int64(2), r.Value(GaugeSessions))
	assert.Equal(t, int64(0), r.Value("missing"))

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, EncapFramesIn, snap[0].Name)
	assert.Equal(t, IOPacketsOut, snap[1].Name)
	assert.Equal(t, GaugeSessions, snap[2].Name)
	assert.True(t, snap[2].Gauge)

	r.Reset()
	assert.Equal(t, int64(0), r.Value(EncapFramesIn))
	assert.Equal(t, int64(2), r.Value(GaugeSessions))
}

func TestRegistryConcurrentIncrements(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				r.Inc(IOPacketsIn)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(8000), r.Value(IOPacketsIn))
}

func TestNilRegistry(t *testing.T) {
	var r *Registry
	r.Inc(EncapFramesIn)
	r.Set(GaugeStreams, 1)
	assert.Zero(t, r.Value(EncapFramesIn))
	assert.Nil(t, r.Snapshot())
}

func TestFormatSnapshot(t *testing.T) {
	out := FormatSnapshot([]Sample{{Name: "a", Value: 1}, {Name: "longer", Value: 20}})
	assert.Equal(t, "a       1\nlonger  20\n", out)
}

func TestWriterCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.csv")
	w, err := NewWriter(path)
	require.NoError(t, err)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, w.WriteSnapshot(at, []Sample{
		{Name: EncapFramesIn, Value: 7},
		{Name: GaugeSessions, Value: 1, Gauge: true},
	}))
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "timestamp,name,kind,value", lines[0])
	assert.Equal(t, "2024-01-02T03:04:05Z,encap_frames_in,counter,7", lines[1])
	assert.Equal(t, "2024-01-02T03:04:05Z,sessions,gauge,1", lines[2])
}
