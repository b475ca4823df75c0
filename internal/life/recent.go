package life

// StimulusSummary is what the loop remembers about one processed stimulus.
type StimulusSummary struct {
	Tick         uint64  `json:"tick"`
	Category     string  `json:"category"`
	Source       string  `json:"source,omitempty"`
	Intensity    float64 `json:"intensity"`
	Significance float64 `json:"significance"`
	Action       string  `json:"action,omitempty"`
	Remembered   bool    `json:"remembered"`
	Error        string  `json:"error,omitempty"`
}

type recentRing struct {
	size  int
	items []StimulusSummary
}

func newRecentRing(size int) *recentRing {
	return &recentRing{size: size, items: make([]StimulusSummary, 0, size)}
}

func (r *recentRing) push(s StimulusSummary) {
	if len(r.items) == r.size {
		copy(r.items, r.items[1:])
		r.items[len(r.items)-1] = s
		return
	}
	r.items = append(r.items, s)
}

func (r *recentRing) list() []StimulusSummary {
	return append([]StimulusSummary(nil), r.items...)
}
