package prom

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestObserverRecordsFrameResults(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewObserver(reg)
	require.NoError(t, err)

	o.ObserveSend(4096, true)
	o.ObserveRecv(4096, 2_000_000, false, false)
	o.ObserveRecv(0, -1, true, false)
	o.ObserveError()
	o.ObserveOutstanding(6)

	families, err := reg.Gather()
	require.NoError(t, err)

	counts := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "streamgen_frames_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" {
					counts[l.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}

	require.Equal(t, float64(1), counts["sent"])
	require.Equal(t, float64(1), counts["successful"])
	require.Equal(t, float64(1), counts["dropped"])
	require.Equal(t, float64(1), counts["error"])
}
