package tasks

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnknownDataType marks a request for a data type the backend cannot
// serve. It is permanent: retries will never succeed.
var ErrUnknownDataType = errors.New("unknown data type")

const (
	defaultItemCounts = 120
	maxItemCount      = 1000
)

// buildDataset generates the simulated records for a data type. The "items"
// param overrides the default size, clamped to [1, maxItemCount].
func buildDataset(dataType string, params map[string]any) ([]map[string]any, error) {
	count := defaultItemCounts
	if raw, ok := params["items"]; ok {
		if n, ok := asInt(raw); ok {
			count = clamp(n, 1, maxItemCount)
		}
	}

	switch dataType {
	case "analysis":
		return analysisDataset(count), nil
	case "report":
		return reportDataset(count), nil
	case "timeseries":
		return timeseriesDataset(count), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDataType, dataType)
	}
}

func analysisDataset(count int) []map[string]any {
	items := make([]map[string]any, count)
	for i := range items {
		items[i] = map[string]any{
			"segment": fmt.Sprintf("segment-%03d", i),
			"score":   math.Round(math.Abs(math.Sin(float64(i)))*1000) / 10,
			"trend":   []string{"up", "flat", "down"}[i%3],
		}
	}
	return items
}

func reportDataset(count int) []map[string]any {
	items := make([]map[string]any, count)
	for i := range items {
		items[i] = map[string]any{
			"row":      i + 1,
			"label":    fmt.Sprintf("line item %d", i+1),
			"amount":   float64((i*37)%997) + 0.5,
			"currency": "USD",
		}
	}
	return items
}

func timeseriesDataset(count int) []map[string]any {
	items := make([]map[string]any, count)
	for i := range items {
		items[i] = map[string]any{
			"offset": i,
			"value":  math.Round(math.Sin(float64(i)/8)*10000) / 100,
		}
	}
	return items
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
