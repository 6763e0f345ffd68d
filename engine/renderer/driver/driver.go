// package driver is the graphics-device abstraction consumed by the frame graph
// and the post-processing stages. It exposes texture/render-target lifecycle,
// program compilation, render-pass encoding, draws, and blits behind a narrow
// interface so the pipeline above it never touches a GPU API directly.
package driver

import (
	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/shader"
)

// TextureID is an opaque identifier for a device texture. The zero value is invalid.
type TextureID uint32

// RenderTargetID is an opaque identifier for a device render target. The zero value is invalid.
type RenderTargetID uint32

// ProgramID is an opaque identifier for a compiled GPU program. The zero value is invalid.
type ProgramID uint32

// TextureFormat enumerates the pixel formats the post-processing pipeline allocates.
type TextureFormat uint8

const (
	// FormatRGBA8 is 8-bit normalized RGBA, the default working format.
	FormatRGBA8 TextureFormat = iota

	// FormatR8 is single-channel 8-bit normalized, used for low-bandwidth AO and alpha buffers.
	FormatR8

	// FormatRG16F is two-channel half float, used for circle-of-confusion min/max buffers.
	FormatRG16F

	// FormatRGBA16F is four-channel half float, used for HDR color with alpha.
	FormatRGBA16F

	// FormatRG11B10F is packed small-float HDR color without alpha.
	FormatRG11B10F

	// FormatBGRA8 is the typical swapchain surface format.
	FormatBGRA8

	// FormatDepth24 is a 24-bit depth buffer.
	FormatDepth24

	// FormatDepth32F is a 32-bit float depth buffer.
	FormatDepth32F
)

// IsDepth reports whether the format is a depth format.
//
// Returns:
//   - bool: true for FormatDepth24 and FormatDepth32F
func (f TextureFormat) IsDepth() bool {
	return f == FormatDepth24 || f == FormatDepth32F
}

// TextureDescriptor describes a texture to be allocated by the driver.
// Zero-valued Levels and Samples mean 1 (single mip, not multisampled).
type TextureDescriptor struct {
	// Width is the base level width in pixels.
	Width uint32
	// Height is the base level height in pixels.
	Height uint32
	// Levels is the mip level count. Zero means 1.
	Levels uint8
	// Format is the pixel format of every level.
	Format TextureFormat
	// Samples is the MSAA sample count. Zero or 1 means single-sampled.
	Samples uint8
}

// LevelCount returns the effective mip level count, mapping the zero default to 1.
//
// Returns:
//   - int: the number of mip levels this descriptor allocates
func (d TextureDescriptor) LevelCount() int {
	if d.Levels == 0 {
		return 1
	}
	return int(d.Levels)
}

// SampleCount returns the effective MSAA sample count, mapping the zero default to 1.
//
// Returns:
//   - int: the number of samples per pixel
func (d TextureDescriptor) SampleCount() int {
	if d.Samples == 0 {
		return 1
	}
	return int(d.Samples)
}

// Viewport is a rectangle in pixels, origin at the lower-left corner.
type Viewport struct {
	Left   int32
	Bottom int32
	Width  uint32
	Height uint32
}

// TargetBufferFlags is a bitmask selecting attachments of a render target.
type TargetBufferFlags uint8

const (
	// TargetBufferNone selects no attachments.
	TargetBufferNone TargetBufferFlags = 0

	// TargetBufferColor selects the color attachments.
	TargetBufferColor TargetBufferFlags = 1 << iota

	// TargetBufferDepth selects the depth attachment.
	TargetBufferDepth

	// TargetBufferStencil selects the stencil attachment.
	TargetBufferStencil
)

// AttachmentInfo binds one mip level of a texture as a render target attachment.
// A zero Texture means the attachment slot is unused.
type AttachmentInfo struct {
	// Texture is the attached texture. Zero means no attachment.
	Texture TextureID
	// Level is the mip level rendered into.
	Level uint8
}

// RenderTargetDescriptor describes a render target: up to 4 color attachments
// plus an optional depth attachment. Samples, when non-zero, requests a specific
// sample count rather than matching whatever the attachments carry.
type RenderTargetDescriptor struct {
	Color   [4]AttachmentInfo
	Depth   AttachmentInfo
	Samples uint8
}

// RenderPassParams carries the per-pass viewport, clear and discard state.
type RenderPassParams struct {
	// Viewport is the area rendered into. A zero-sized viewport means the full target.
	Viewport Viewport
	// ClearColor is the color written to cleared color attachments.
	ClearColor [4]float32
	// ClearFlags selects which attachments are cleared when the pass begins.
	ClearFlags TargetBufferFlags
	// DiscardStart selects attachments whose prior contents may be discarded at pass start.
	DiscardStart TargetBufferFlags
	// DiscardEnd selects attachments whose contents may be discarded at pass end.
	DiscardEnd TargetBufferFlags
	// ReadOnlyDepth attaches the depth buffer for testing only, which lets the
	// same texture be sampled by the pass. Depth writes, clears and discards do
	// not apply to a read-only attachment.
	ReadOnlyDepth bool
}

// CompareFunc enumerates depth test functions. The zero value disables depth testing.
type CompareFunc uint8

const (
	// CompareDisabled performs no depth test.
	CompareDisabled CompareFunc = iota

	// CompareLessEqual passes fragments at or in front of the stored depth.
	CompareLessEqual

	// CompareGreater passes fragments strictly behind the stored depth. Used by
	// passes that must skip pixels at infinity (the skybox).
	CompareGreater

	// CompareAlways passes every fragment.
	CompareAlways
)

// BlendFunc enumerates blend factors.
type BlendFunc uint8

const (
	// BlendZero is the 0 blend factor.
	BlendZero BlendFunc = iota

	// BlendOne is the 1 blend factor.
	BlendOne

	// BlendSrcAlpha is the source-alpha blend factor.
	BlendSrcAlpha

	// BlendOneMinusSrcAlpha is the inverse source-alpha blend factor.
	BlendOneMinusSrcAlpha
)

// RasterState is the fixed-function state bound with a draw.
type RasterState struct {
	// DepthFunc selects the depth test. CompareDisabled turns the test off.
	DepthFunc CompareFunc
	// DepthWrite enables depth buffer writes.
	DepthWrite bool
	// BlendEnabled enables color blending with the factors below.
	BlendEnabled bool
	// BlendSrcRGB, BlendDstRGB, BlendSrcAlpha, BlendDstAlpha are the blend factors.
	BlendSrcRGB, BlendDstRGB, BlendSrcAlpha, BlendDstAlpha BlendFunc
}

// PipelineState pairs a compiled program with its raster state and optional scissor.
type PipelineState struct {
	// Program is the compiled GPU program to draw with.
	Program ProgramID
	// Raster is the fixed-function state for the draw.
	Raster RasterState
	// Scissor restricts the draw to a sub-rectangle when non-nil.
	Scissor *Viewport
}

// FilterMode enumerates texture filtering modes.
type FilterMode uint8

const (
	// FilterNearest selects nearest-texel sampling.
	FilterNearest FilterMode = iota

	// FilterLinear selects bilinear sampling.
	FilterLinear
)

// MipFilter enumerates mip-level selection modes.
type MipFilter uint8

const (
	// MipFilterNone samples only the selected base level.
	MipFilterNone MipFilter = iota

	// MipFilterNearest samples the nearest mip level.
	MipFilterNearest

	// MipFilterLinear interpolates between mip levels.
	MipFilterLinear
)

// SamplerParams describes how a bound texture is sampled.
type SamplerParams struct {
	MagFilter FilterMode
	MinFilter FilterMode
	Mip       MipFilter
}

// TextureBinding binds a texture and its sampler to a named shader parameter.
// A matching sampler parameter named Name+"Sampler" is bound alongside when the
// shader declares one.
type TextureBinding struct {
	// Name is the shader-side variable name the texture binds to.
	Name string
	// Texture is the bound texture.
	Texture TextureID
	// Sampler describes how the shader samples the texture.
	Sampler SamplerParams
	// BaseLevel is the first mip level visible to the shader.
	BaseLevel uint8
	// LevelCount restricts the visible mip range. Zero means all levels from
	// BaseLevel. A pass that reads one mip of a texture while writing another
	// must restrict its read range to a single level.
	LevelCount uint8
}

// Driver defines the interface for the graphics device consumed by the frame
// graph and the post-processing stages. Resource exhaustion surfaces as errors;
// the pipeline above does not retry or degrade, a failed allocation fails the
// frame upstream.
type Driver interface {
	// CreateTexture allocates a device texture matching the descriptor.
	//
	// Parameters:
	//   - desc: dimensions, mip count, format and sample count of the texture
	//
	// Returns:
	//   - TextureID: the opaque handle of the new texture
	//   - error: an error if device allocation fails
	CreateTexture(desc TextureDescriptor) (TextureID, error)

	// DestroyTexture releases a texture created by CreateTexture. Destroying the
	// zero id is a no-op.
	//
	// Parameters:
	//   - id: the texture to release
	DestroyTexture(id TextureID)

	// Update2DImage uploads pixel data into a region of one mip level.
	//
	// Parameters:
	//   - id: the destination texture
	//   - level: the destination mip level
	//   - x, y: the destination origin in texels
	//   - width, height: the region size in texels
	//   - pixels: tightly packed pixel data in the texture's format
	//
	// Returns:
	//   - error: an error if the upload fails
	Update2DImage(id TextureID, level int, x, y, width, height uint32, pixels []byte) error

	// CreateRenderTarget creates a render target from attachment descriptions.
	//
	// Parameters:
	//   - desc: the color/depth attachments and requested sample count
	//
	// Returns:
	//   - RenderTargetID: the opaque handle of the new render target
	//   - error: an error if creation fails
	CreateRenderTarget(desc RenderTargetDescriptor) (RenderTargetID, error)

	// DestroyRenderTarget releases a render target. Destroying the zero id is a no-op.
	//
	// Parameters:
	//   - id: the render target to release
	DestroyRenderTarget(id RenderTargetID)

	// CompileProgram builds a GPU program from a fullscreen vertex shader and a
	// fragment shader. The shaders carry the reflection data used to wire named
	// parameters at draw time.
	//
	// Parameters:
	//   - key: a unique identifier for the program, used for labels and caching
	//   - vertex: the parsed vertex shader
	//   - fragment: the parsed fragment shader
	//
	// Returns:
	//   - ProgramID: the opaque handle of the compiled program
	//   - error: an error if compilation fails
	CompileProgram(key string, vertex, fragment shader.Shader) (ProgramID, error)

	// DestroyProgram releases a compiled program. Destroying the zero id is a no-op.
	//
	// Parameters:
	//   - id: the program to release
	DestroyProgram(id ProgramID)

	// BeginRenderPass starts encoding a render pass into the given target.
	// Must be paired with EndRenderPass.
	//
	// Parameters:
	//   - rt: the render target drawn into
	//   - params: viewport, clear and discard state for the pass
	BeginRenderPass(rt RenderTargetID, params RenderPassParams)

	// NextSubpass advances to the next subpass of the current render pass, for
	// devices that support framebuffer fetch.
	NextSubpass()

	// EndRenderPass finishes the current render pass.
	EndRenderPass()

	// Draw encodes one fullscreen-triangle draw with the given pipeline state,
	// packed uniform block, and texture bindings. Must be called between
	// BeginRenderPass and EndRenderPass.
	//
	// Parameters:
	//   - ps: the program and raster state to draw with
	//   - uniforms: the packed uniform block matching the program's reflection
	//   - textures: the texture bindings matching the program's reflection
	Draw(ps PipelineState, uniforms []byte, textures []TextureBinding)

	// Blit copies (and rescales if needed) a region from one render target to
	// another. Used for opaque scaling blits and MSAA resolves.
	//
	// Parameters:
	//   - flags: the attachments to copy (color and/or depth)
	//   - dst: the destination render target
	//   - dstViewport: the destination region
	//   - src: the source render target
	//   - srcViewport: the source region
	//   - filter: the filter used when the regions differ in size
	Blit(flags TargetBufferFlags, dst RenderTargetID, dstViewport Viewport, src RenderTargetID, srcViewport Viewport, filter FilterMode)

	// IsFrameBufferFetchSupported reports whether the device can read the current
	// framebuffer inside a fragment shader, enabling subpass color grading.
	//
	// Returns:
	//   - bool: true if framebuffer fetch is available
	IsFrameBufferFetchSupported() bool

	// Flush submits all encoded work to the device queue.
	Flush()
}
