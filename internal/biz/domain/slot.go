package domain

// MaxDailySlots is the number of configurable daily slots
const MaxDailySlots = 3

// DailySlot is a fixed time of day at which subscribed sessions get a message
type DailySlot struct {
	Index   int    `json:"index"` // 1-based
	Minute  int    `json:"minute"`
	Prompt  string `json:"prompt"`
	Enabled bool   `json:"enabled"`
}

// Time renders the slot minute as "HH:MM"
func (s DailySlot) Time() string {
	return FormatTimeOfDay(s.Minute)
}

// NormalizeSlots returns a copy where no two enabled slots share a minute.
// Slots keep index order; a later slot colliding with an earlier one moves
// forward one minute at a time until free.
func NormalizeSlots(slots []DailySlot) []DailySlot {
	out := make([]DailySlot, len(slots))
	copy(out, slots)

	used := make(map[int]bool, len(out))
	for i := range out {
		if !out[i].Enabled {
			continue
		}
		m := ((out[i].Minute % MinutesPerDay) + MinutesPerDay) % MinutesPerDay
		for used[m] {
			m = (m + 1) % MinutesPerDay
		}
		used[m] = true
		out[i].Minute = m
	}
	return out
}
