package pb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressBarRender(t *testing.T) {
	t.Parallel()

	pb := New(4, WithWidth(12))
	assert.Equal(t, "• [----------] 0/4", pb.String())

	pb.Start("cloud-fix")
	assert.Equal(t, "▸ [----------] 1/4 cloud-fix", pb.String())

	pb.Finish(true)
	assert.Equal(t, "✓ [=>--------] 1/4 cloud-fix", pb.String())

	pb.Start("slider-update")
	pb.Finish(false)
	assert.Equal(t, "✗ [====>-----] 2/4 slider-update", pb.String())

	pb.Start("iot-page")
	pb.Finish(true)
	pb.Start("device-config-profile")
	pb.Finish(true)
	assert.Equal(t, "✓ [==========] 4/4 device-config-profile", pb.String())
	assert.Equal(t, 1.0, pb.Progress())
}

func TestProgressBarRenderName(t *testing.T) {
	t.Parallel()

	pb := New(2, WithWidth(12))
	pb.Start("device-config-profile")
	assert.Equal(t, "▸ [----------] 1/2 device...", pb.Render(9))
	assert.Equal(t, "▸ [----------] 1/2 device-config-profile", pb.Render(0))
}

func TestProgressBarNarrow(t *testing.T) {
	t.Parallel()

	pb := New(3, WithWidth(minWidth))
	pb.Start("a")
	pb.Finish(true)
	assert.Equal(t, "✓ [ 33%] 1/3 a", pb.String())
}

func TestProgressBarEmpty(t *testing.T) {
	t.Parallel()

	pb := New(0)
	assert.Equal(t, 1.0, pb.Progress())
}

func TestClampf(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		val, min, max, expected float64
	}{
		{-1, 0, 1, 0},
		{0, 0, 1, 0},
		{0.5, 0, 1, 0.5},
		{1, 0, 1, 1},
		{2, 0, 1, 1},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, Clampf(tc.val, tc.min, tc.max))
	}
}
