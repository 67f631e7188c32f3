package domain

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeSlotsShiftsLaterSlot(t *testing.T) {
	slots := []DailySlot{
		{Index: 1, Minute: 9 * 60, Enabled: true},
		{Index: 2, Minute: 9 * 60, Enabled: true},
	}
	got := NormalizeSlots(slots)
	assert.Equal(t, "09:00", got[0].Time())
	assert.Equal(t, "09:01", got[1].Time())
	assert.Equal(t, 9*60, slots[1].Minute, "input must not be mutated")
}

func TestNormalizeSlotsChain(t *testing.T) {
	got := NormalizeSlots([]DailySlot{
		{Index: 1, Minute: 600, Enabled: true},
		{Index: 2, Minute: 600, Enabled: true},
		{Index: 3, Minute: 601, Enabled: true},
	})
	assert.Equal(t, []int{600, 601, 602}, []int{got[0].Minute, got[1].Minute, got[2].Minute})
}

func TestNormalizeSlotsIgnoresDisabledAndWraps(t *testing.T) {
	got := NormalizeSlots([]DailySlot{
		{Index: 1, Minute: 1439, Enabled: true},
		{Index: 2, Minute: 1439, Enabled: false},
		{Index: 3, Minute: 1439, Enabled: true},
	})
	assert.Equal(t, 1439, got[0].Minute)
	assert.Equal(t, 1439, got[1].Minute)
	assert.Equal(t, 0, got[2].Minute)
}

func TestNormalizeSlotsProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	minute := gen.IntRange(0, MinutesPerDay-1)

	properties.Property("enabled slots end on distinct minutes", prop.ForAll(
		func(a, b, c int) bool {
			got := NormalizeSlots([]DailySlot{
				{Index: 1, Minute: a, Enabled: true},
				{Index: 2, Minute: b, Enabled: true},
				{Index: 3, Minute: c, Enabled: true},
			})
			seen := map[int]bool{}
			for _, s := range got {
				if seen[s.Minute] {
					return false
				}
				seen[s.Minute] = true
			}
			return true
		},
		minute, minute, minute,
	))

	properties.Property("first slot never moves", prop.ForAll(
		func(a, b int) bool {
			got := NormalizeSlots([]DailySlot{
				{Index: 1, Minute: a, Enabled: true},
				{Index: 2, Minute: b, Enabled: true},
			})
			return got[0].Minute == a
		},
		minute, minute,
	))

	properties.Property("normalization is idempotent", prop.ForAll(
		func(a, b, c int) bool {
			once := NormalizeSlots([]DailySlot{
				{Index: 1, Minute: a, Enabled: true},
				{Index: 2, Minute: b, Enabled: true},
				{Index: 3, Minute: c, Enabled: true},
			})
			twice := NormalizeSlots(once)
			for i := range once {
				if once[i].Minute != twice[i].Minute {
					return false
				}
			}
			return true
		},
		minute, minute, minute,
	))

	properties.TestingRun(t)
}
