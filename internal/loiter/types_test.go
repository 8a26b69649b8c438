package loiter

import (
	"testing"

	"github.com/banshee-data/loiter.report/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestBoxCentroidUsesIntegerDivision(t *testing.T) {
	t.Parallel()
	b := Box{X: 10, Y: 20, Width: 5, Height: 7}
	assert.Equal(t, Point{X: 12, Y: 23}, b.Centroid())
	assert.Equal(t, 35, b.Area())
}

func TestPostureFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		box  Box
		want Posture
	}{
		{"tall box is standing", Box{Width: 10, Height: 30}, PostureStanding},
		{"wide box is lying", Box{Width: 30, Height: 10}, PostureSittingOrLying},
		{"ratio equal to threshold is not standing", Box{Width: 10, Height: 12}, PostureSittingOrLying},
		{"zero width is degenerate and lying", Box{Width: 0, Height: 50}, PostureSittingOrLying},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PostureFor(tt.box, 1.2))
		})
	}

	assert.Equal(t, 0.0, Box{Width: 0, Height: 50}.AspectRatio())
}

func TestRegionContainsIsStrict(t *testing.T) {
	t.Parallel()
	r := Region{X: 0, Y: 0, Width: 100, Height: 50}

	assert.True(t, r.Contains(Point{X: 1, Y: 1}))
	assert.True(t, r.Contains(Point{X: 99, Y: 49}))
	assert.False(t, r.Contains(Point{X: 0, Y: 10}), "left border is outside")
	assert.False(t, r.Contains(Point{X: 100, Y: 10}), "right border is outside")
	assert.False(t, r.Contains(Point{X: 10, Y: 50}), "bottom border is outside")
	assert.Equal(t, [4]int{0, 0, 100, 50}, r.Array())
}

func TestPointDistance(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 5.0, Point{X: 0, Y: 0}.DistanceTo(Point{X: 3, Y: 4}), 1e-9)
	assert.InDelta(t, 0.0, Point{X: 7, Y: 7}.DistanceTo(Point{X: 7, Y: 7}), 1e-9)
}

func TestConfigFromTuning(t *testing.T) {
	t.Parallel()
	threshold := 5.0
	retention := "10s"
	cfg := ConfigFromTuning(&config.TuningConfig{
		LoiteringTimeThresholdSecs: &threshold,
		LoiterRetention:            &retention,
		ROI:                        []int{1, 2, 3, 4},
	})

	assert.Equal(t, 5.0, cfg.LoiterThresholdSecs)
	assert.Equal(t, 45.0, cfg.MovementThresholdPx)
	assert.Equal(t, 50.0, cfg.MatchGatePx)
	assert.Equal(t, 1.2, cfg.StandingAspectRatio)
	assert.Equal(t, Region{X: 1, Y: 2, Width: 3, Height: 4}, cfg.ROI)
	assert.Equal(t, "10s", cfg.LoiterRetention.String())
}

func TestIdentityStatus(t *testing.T) {
	t.Parallel()
	id := &Identity{Posture: PostureStanding, PostureSecs: 3.14159}
	assert.Equal(t, "STANDING: 3.1s", id.Status())

	id.Posture = PostureSittingOrLying
	assert.Equal(t, "SITTING/LYING: 3.1s", id.Status())

	id.Loitering = true
	assert.Equal(t, "LOITERING", id.Status())
}
