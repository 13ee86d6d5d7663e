package models

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Имена метрик, которые присылает коллектор ЦОД.
const (
	MetricCPU            = "cpu_percent"
	MetricMemory         = "memory_percent"
	MetricDisk           = "disk_percent"
	MetricTemperature    = "temperature"
	MetricHumidity       = "humidity"
	MetricNetworkSent    = "network_sent_mb"
	MetricNetworkRecv    = "network_recv_mb"
	MetricProcessesCount = "processes_count"
)

// MetricSample - неизменяемый снимок телеметрии: время + значения по именам метрик.
type MetricSample struct {
	timestamp time.Time
	values    map[string]float64
}

func NewMetricSample(ts time.Time, values map[string]float64) MetricSample {
	copied := make(map[string]float64, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return MetricSample{timestamp: ts, values: copied}
}

func (s MetricSample) Timestamp() time.Time {
	return s.timestamp
}

// Value возвращает значение метрики; false, если метрика отсутствует в снимке.
func (s MetricSample) Value(name string) (float64, bool) {
	v, ok := s.values[name]
	return v, ok
}

// ValueOrZero используется там, где отсутствие метрики трактуется как 0.
func (s MetricSample) ValueOrZero(name string) float64 {
	return s.values[name]
}

func (s MetricSample) Names() []string {
	names := make([]string, 0, len(s.values))
	for k := range s.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (s MetricSample) Values() map[string]float64 {
	copied := make(map[string]float64, len(s.values))
	for k, v := range s.values {
		copied[k] = v
	}
	return copied
}

func (s MetricSample) IsZero() bool {
	return s.timestamp.IsZero() && len(s.values) == 0
}

// MarshalJSON пишет плоский объект: {"timestamp": ..., "cpu_percent": ..., ...}
func (s MetricSample) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(s.values)+1)
	for k, v := range s.values {
		out[k] = v
	}
	out["timestamp"] = s.timestamp.UTC().Format(time.RFC3339Nano)
	return json.Marshal(out)
}

func (s *MetricSample) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	values := make(map[string]float64, len(raw))
	var ts time.Time
	for k, v := range raw {
		if k == "timestamp" {
			parsed, err := parseTimestamp(v)
			if err != nil {
				return err
			}
			ts = parsed
			continue
		}

		switch val := v.(type) {
		case float64:
			values[k] = val
		case nil:
			// null допустим - метрика просто отсутствует
		case string:
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				continue
			}
			// NaN/Inf не кодируются обратно в JSON
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return fmt.Errorf("metric %s: non-finite value %q", k, val)
			}
			values[k] = f
		}
	}

	*s = MetricSample{timestamp: ts, values: values}
	return nil
}

func parseTimestamp(v interface{}) (time.Time, error) {
	switch val := v.(type) {
	case nil:
		return time.Time{}, nil
	case float64:
		sec := int64(val)
		nsec := int64((val - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, val); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("invalid timestamp %q", val)
	default:
		return time.Time{}, fmt.Errorf("invalid timestamp type %T", v)
	}
}

// Order - направление выборки из хранилища метрик.
type Order int

const (
	Ascending Order = iota
	Descending
)
