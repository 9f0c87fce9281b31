package recurrence

// Overlap identifies two windows, by index, that share part of the same day.
type Overlap struct {
	First  int `json:"first"`
	Second int `json:"second"`
}

// DetectOverlaps reports every pair of windows that intersect. Overlaps are
// legal for access grants; callers surface them for auditing.
func DetectOverlaps(windows []Window) []Overlap {
	var overlaps []Overlap
	for i := 0; i < len(windows); i++ {
		for j := i + 1; j < len(windows); j++ {
			a, b := windows[i], windows[j]
			if a.Day != b.Day {
				continue
			}
			if a.Start < b.End && b.Start < a.End {
				overlaps = append(overlaps, Overlap{First: i, Second: j})
			}
		}
	}
	return overlaps
}
