package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewProgressBarDefaultWidth(t *testing.T) {
	p := NewProgressBar(1024, 0)
	assert.Equal(t, 15, p.width)

	p = NewProgressBar(1024, 30)
	assert.Equal(t, 30, p.width)
}

func TestProgressBarRenderEmptyWhenNoTotal(t *testing.T) {
	p := NewProgressBar(0, 15)
	p.Update(512, "audio")
	assert.Empty(t, p.Render())
}

func TestProgressBarRender(t *testing.T) {
	p := NewProgressBar(2048, 10)
	p.Update(1024, "rec-1.wav")

	out := p.Render()
	assert.Contains(t, out, "█████░░░░░")
	assert.Contains(t, out, "1.0 KB/2.0 KB")
	assert.Contains(t, out, "rec-1.wav")
}

func TestProgressBarClampsOverflow(t *testing.T) {
	p := NewProgressBar(100, 10)
	p.Update(250, "done")

	out := p.Render()
	assert.Contains(t, out, "██████████")
	assert.NotContains(t, out, "░")
}
