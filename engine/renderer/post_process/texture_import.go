package post_process

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-fx/common"
	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/driver"
)

// UploadTexture decodes an externally supplied image and uploads it to a new
// device texture. Used for the effect inputs that come from assets rather than
// the frame: the bloom dirt overlay and the color grading LUT strip. The
// caller owns the returned texture and imports it into each frame's graph.
//
// Parameters:
//   - tex: the image to decode, from embedded bytes or a file path
//
// Returns:
//   - driver.TextureID: the uploaded device texture
//   - driver.TextureDescriptor: the descriptor to import the texture with
//   - error: an error if decoding or the upload fails
func (m *manager) UploadTexture(tex *common.ImportedTexture) (driver.TextureID, driver.TextureDescriptor, error) {
	name := common.Coalesce(tex.Name, "texture")

	pixels, width, height, err := tex.Decode()
	if err != nil {
		return 0, driver.TextureDescriptor{}, fmt.Errorf("post_process: %s: %w", name, err)
	}

	desc := driver.TextureDescriptor{
		Width:  width,
		Height: height,
		Format: driver.FormatRGBA8,
	}
	id, err := m.driver.CreateTexture(desc)
	if err != nil {
		return 0, driver.TextureDescriptor{}, fmt.Errorf("post_process: %s: %w", name, err)
	}
	if err := m.driver.Update2DImage(id, 0, 0, 0, width, height, pixels); err != nil {
		m.driver.DestroyTexture(id)
		return 0, driver.TextureDescriptor{}, fmt.Errorf("post_process: %s upload: %w", name, err)
	}
	return id, desc, nil
}
