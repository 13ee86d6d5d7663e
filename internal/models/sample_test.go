package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricSample_UnmarshalFlatJSON(t *testing.T) {
	data := []byte(`{
		"timestamp": "2024-05-01T10:00:00Z",
		"cpu_percent": 42.5,
		"memory_percent": null,
		"temperature": "23.1",
		"hostname": "rack-1"
	}`)

	var s MetricSample
	require.NoError(t, json.Unmarshal(data, &s))

	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), s.Timestamp())

	cpu, ok := s.Value(MetricCPU)
	assert.True(t, ok)
	assert.Equal(t, 42.5, cpu)

	_, ok = s.Value(MetricMemory)
	assert.False(t, ok, "null values are dropped")

	temp, ok := s.Value(MetricTemperature)
	assert.True(t, ok)
	assert.InDelta(t, 23.1, temp, 1e-9)

	_, ok = s.Value("hostname")
	assert.False(t, ok)

	for _, raw := range []string{`"Infinity"`, `"-Inf"`, `"NaN"`} {
		var bad MetricSample
		err := json.Unmarshal([]byte(`{"cpu_percent": `+raw+`}`), &bad)
		assert.Error(t, err, raw)
	}
}

func TestMetricSample_TimestampFormats(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    time.Time
		wantErr bool
	}{
		{"unix seconds", `{"timestamp": 1700000000}`, time.Unix(1700000000, 0).UTC(), false},
		{"legacy layout", `{"timestamp": "2024-01-02 03:04:05"}`, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), false},
		{"missing", `{"cpu_percent": 1}`, time.Time{}, false},
		{"garbage", `{"timestamp": "yesterday"}`, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s MetricSample
			err := json.Unmarshal([]byte(tt.data), &s)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(s.Timestamp()))
		})
	}
}

func TestMetricSample_IsImmutable(t *testing.T) {
	values := map[string]float64{MetricCPU: 10}
	s := NewMetricSample(time.Now(), values)

	values[MetricCPU] = 99
	got, _ := s.Value(MetricCPU)
	assert.Equal(t, 10.0, got)

	copied := s.Values()
	copied[MetricCPU] = 77
	got, _ = s.Value(MetricCPU)
	assert.Equal(t, 10.0, got)
}

func TestPriorityAndSeverityRank(t *testing.T) {
	assert.Less(t, PriorityCritical.Rank(), PriorityHigh.Rank())
	assert.Less(t, PriorityHigh.Rank(), PriorityMedium.Rank())
	assert.Less(t, PriorityMedium.Rank(), PriorityLow.Rank())

	assert.Less(t, SeverityInfo.Rank(), SeverityWarning.Rank())
	assert.Less(t, SeverityWarning.Rank(), SeverityCritical.Rank())
}
