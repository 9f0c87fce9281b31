package recurrence

import (
	"testing"
	"time"
)

func BenchmarkEngineExpand(b *testing.B) {
	engine := NewEngine(time.FixedZone("JST", 9*60*60))
	windows := []Window{
		{Day: Monday, Start: Clock(9, 0, 0), End: Clock(12, 0, 0)},
		{Day: Wednesday, Start: Clock(13, 0, 0), End: Clock(17, 0, 0)},
		{Day: Friday, Start: Clock(8, 30, 0), End: Clock(18, 0, 0)},
	}
	from := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 3, 0)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Expand(windows, from, to); err != nil {
			b.Fatalf("expand: %v", err)
		}
	}
}
