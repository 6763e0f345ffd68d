package post_process

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carmen-Shannon/oxy-fx/common"
	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/driver"
)

func encodeTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: byte(x * 16), G: byte(y * 16), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestUploadTexture(t *testing.T) {
	d, m, fc := newTestPipeline(t)

	id, desc, err := m.UploadTexture(&common.ImportedTexture{
		Name: "dirt",
		Data: encodeTestPNG(t, 8, 4),
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(8), desc.Width)
	assert.Equal(t, uint32(4), desc.Height)
	assert.Equal(t, driver.FormatRGBA8, desc.Format)

	// The uploaded texture imports cleanly as a graph resource.
	h := fc.Graph.Import("dirt", desc, id)
	assert.Equal(t, desc, fc.Graph.Descriptor(h))

	got, ok := d.TextureDesc(id)
	require.True(t, ok)
	assert.Equal(t, desc, got)
}

func TestUploadTextureRejectsEmptyInput(t *testing.T) {
	_, m, _ := newTestPipeline(t)

	_, _, err := m.UploadTexture(&common.ImportedTexture{Name: "missing"})
	assert.Error(t, err)
}
