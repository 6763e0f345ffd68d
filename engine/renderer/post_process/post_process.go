// package post_process implements the frame-graph based post-processing
// pipeline of the renderer: depth pyramid construction, screen-space ambient
// occlusion with bilateral filtering, Gaussian mip chains, depth of field,
// bloom, color grading with tonemapping, FXAA, and scaling blit/resolve
// utilities.
//
// Each stage is an entry point on the Manager that registers one or more
// passes with a frame graph and returns the handle of its output texture.
// Nothing touches the GPU until the graph is compiled and executed; passes
// whose outputs are never consumed are culled for free. The Manager itself
// owns only process-wide state: the lazily-realized pass materials and two
// 1x1 placeholder textures bound where an effect input is absent.
package post_process

import (
	"embed"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-fx/common"
	"github.com/Carmen-Shannon/oxy-fx/engine/framegraph"
	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/driver"
	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/material"
)

//go:embed wgsl/*.wgsl
var shaderFS embed.FS

// FrameContext threads per-frame state between stages: the graph being built
// and the well-known intermediate buffers stages publish for one another.
// Stages read and set its fields directly instead of going through string
// keyed blackboard lookups; the blackboard entries are still published for
// consumers outside this package.
type FrameContext struct {
	// Graph is the frame graph every stage registers its passes with.
	Graph *framegraph.Graph

	// Depth is the scene depth buffer at render resolution, imported by the
	// caller before any stage runs.
	Depth framegraph.TextureHandle

	// Structure is the mipmapped depth pyramid published by Structure.
	Structure framegraph.TextureHandle

	// SSAO is the ambient occlusion buffer published by
	// ScreenSpaceAmbientOcclusion.
	SSAO framegraph.TextureHandle
}

// DepthRenderFunc renders the scene's depth into the render pass that is open
// when it is called. The pipeline uses it to fill level 0 of the structure
// pyramid without knowing anything about scene submission.
type DepthRenderFunc func(d driver.Driver, viewport driver.Viewport)

// manager is the implementation of the Manager interface.
type manager struct {
	driver    driver.Driver
	materials map[string]material.Material

	// dummyZero and dummyOne are 1x1 textures bound to sampler parameters
	// whose effect input is absent: transparent black contributes nothing
	// additively, opaque white is the multiplicative identity.
	dummyZero driver.TextureID
	dummyOne  driver.TextureID

	workers     int
	initialized bool
	terminated  bool
}

// Manager defines the interface for the post-processing pipeline. One entry
// point per stage; each takes the per-frame context, stage options, and
// returns the output texture handle. Entry points only build graph passes and
// are called once per frame per stage; all device work happens when the graph
// executes.
type Manager interface {
	// Init creates the manager's device-side defaults. Must be called once
	// before the first frame.
	//
	// Returns:
	//   - error: an error if device allocation fails
	Init() error

	// Precompile realizes every pass material through a worker pool so the
	// first frame does not stall on program compilation. Optional; materials
	// also realize lazily on first use.
	//
	// Returns:
	//   - error: the joined compilation errors, if any
	Precompile() error

	// Terminate destroys all realized materials and the manager's device
	// defaults. Only the first call has an effect.
	Terminate()

	// Structure builds the mipmapped depth pyramid used by the ambient
	// occlusion and depth of field stages. Level 0 is a depth-only render of
	// the scene at ceil(width*scale) x ceil(height*scale), floored at 32
	// pixels per axis; each further level is written by a reduction pass.
	// Panics if the size yields no valid levels. Publishes the result on the
	// frame context and under the "structure" blackboard key.
	//
	// Parameters:
	//   - fc: the per-frame context
	//   - width, height: the render resolution in pixels
	//   - scale: the resolution scale of the pyramid's base level
	//   - render: renders scene depth into the open level 0 pass
	//
	// Returns:
	//   - framegraph.TextureHandle: the depth pyramid
	Structure(fc *FrameContext, width, height uint32, scale float32, render DepthRenderFunc) framegraph.TextureHandle

	// ScreenSpaceAmbientOcclusion computes a spiral-sampled occlusion buffer
	// from the structure pyramid and filters it with two depth-aware blur
	// passes. Requires Structure to have run this frame. Publishes the result
	// on the frame context and under the "ssao" blackboard key.
	//
	// Parameters:
	//   - fc: the per-frame context
	//   - cam: the camera the scene was rendered with
	//   - opts: the occlusion options
	//
	// Returns:
	//   - framegraph.TextureHandle: the filtered occlusion buffer
	ScreenSpaceAmbientOcclusion(fc *FrameContext, cam CameraInfo, opts AmbientOcclusionOptions) framegraph.TextureHandle

	// GenerateGaussianMipmap fills levels 1..levels-1 of a texture with a
	// separable Gaussian of its level 0, two passes per level through a
	// temporary buffer. Reinhard tone compression, when requested, applies to
	// the first level only.
	//
	// Parameters:
	//   - fc: the per-frame context
	//   - input: the texture whose mip chain is generated
	//   - levels: the number of levels including the base
	//   - reinhard: compress the first level to tame bright pixels
	//   - kernelWidth: the effective kernel width in taps, odd
	//   - sigmaRatio: kernel width to sigma ratio, typically 6
	//
	// Returns:
	//   - framegraph.TextureHandle: the input handle after the chain's writes
	GenerateGaussianMipmap(fc *FrameContext, input framegraph.TextureHandle, levels int, reinhard bool, kernelWidth int, sigmaRatio float32) framegraph.TextureHandle

	// DepthOfField applies the seven-stage depth of field pipeline to a color
	// buffer: downsample with circle-of-confusion, custom mip chain, tile
	// min/max reduction, two dilation rounds, CoC-driven gather, median
	// filter, and composite. Requires the frame context's Depth handle.
	//
	// Parameters:
	//   - fc: the per-frame context
	//   - input: the scene color buffer
	//   - cam: the camera the scene was rendered with
	//   - translucent: use the alpha-aware variant of every stage
	//   - opts: the depth of field options
	//
	// Returns:
	//   - framegraph.TextureHandle: the composited color buffer
	DepthOfField(fc *FrameContext, input framegraph.TextureHandle, cam CameraInfo, translucent bool, opts DepthOfFieldOptions) framegraph.TextureHandle

	// Bloom builds the bloom mip pyramid from a color buffer: threshold and
	// progressive downsample, then coarse-to-fine additive upsample. The
	// pyramid's sizing policy can reduce the requested level count on small
	// targets; the effective count is returned.
	//
	// Parameters:
	//   - fc: the per-frame context
	//   - input: the scene color buffer
	//   - format: the pixel format of the bloom pyramid
	//   - opts: the bloom options
	//
	// Returns:
	//   - framegraph.TextureHandle: the bloom pyramid, fully composited in level 0
	//   - uint32: the effective level count
	Bloom(fc *FrameContext, input framegraph.TextureHandle, format driver.TextureFormat, opts BloomOptions) (framegraph.TextureHandle, uint32)

	// ColorGrading runs the final grading pass: bloom and dirt composite,
	// vignette, tonemap, optional packed LUT, sRGB encoding and dithering.
	// When opts.Fxaa is set the output alpha carries luma for a following
	// Fxaa pass.
	//
	// Parameters:
	//   - fc: the per-frame context
	//   - input: the HDR color buffer
	//   - opts: the grading options
	//
	// Returns:
	//   - framegraph.TextureHandle: the graded LDR buffer
	ColorGrading(fc *FrameContext, input framegraph.TextureHandle, opts ColorGradingOptions) framegraph.TextureHandle

	// ColorGradingPrepareSubpass realizes the in-place grading material ahead
	// of the render pass that will run the subpass. Only meaningful on
	// drivers that support framebuffer fetch.
	//
	// Returns:
	//   - error: an error if program compilation fails
	ColorGradingPrepareSubpass() error

	// ColorGradingSubpass issues the in-place grading draw inside the
	// caller's open render pass, after advancing to the next subpass. The
	// caller must have checked IsFrameBufferFetchSupported and called
	// ColorGradingPrepareSubpass.
	//
	// Parameters:
	//   - input: the device texture holding the color being graded
	//   - opts: the grading options; bloom, dirt and vignette are ignored
	ColorGradingSubpass(input driver.TextureID, opts ColorGradingOptions)

	// Fxaa runs the single-pass antialiasing filter. The input's alpha must
	// carry luma (the grading pass writes it when opts.Fxaa is set) unless
	// translucent, in which case luma is derived in-shader.
	//
	// Parameters:
	//   - fc: the per-frame context
	//   - input: the LDR color buffer
	//   - translucent: preserve alpha as opacity
	//
	// Returns:
	//   - framegraph.TextureHandle: the filtered buffer
	Fxaa(fc *FrameContext, input framegraph.TextureHandle, translucent bool) framegraph.TextureHandle

	// OpaqueBlit copies the input into a new texture of the given descriptor
	// through the device blit path. Panics if the destination descriptor is
	// multisampled; resolves go through Resolve.
	//
	// Parameters:
	//   - fc: the per-frame context
	//   - input: the source texture
	//   - out: the descriptor of the destination
	//   - filter: the filter used when sizes differ
	//
	// Returns:
	//   - framegraph.TextureHandle: the destination texture
	OpaqueBlit(fc *FrameContext, input framegraph.TextureHandle, out driver.TextureDescriptor, filter driver.FilterMode) framegraph.TextureHandle

	// BlendBlit rescales the input into a new texture with the quality-tiered
	// shader path, optionally blending premultiplied alpha over the
	// destination's clear color.
	//
	// Parameters:
	//   - fc: the per-frame context
	//   - input: the source texture
	//   - translucent: blend with ONE, ONE_MINUS_SRC_ALPHA
	//   - quality: selects the resampling kernel tier
	//   - out: the descriptor of the destination
	//
	// Returns:
	//   - framegraph.TextureHandle: the destination texture
	BlendBlit(fc *FrameContext, input framegraph.TextureHandle, translucent bool, quality QualityLevel, out driver.TextureDescriptor) framegraph.TextureHandle

	// UploadTexture decodes an externally supplied image and uploads it to a
	// new device texture, for effect inputs that come from assets rather than
	// the frame (bloom dirt overlay, grading LUT strip). The caller owns the
	// returned texture and imports it into each frame's graph.
	//
	// Parameters:
	//   - tex: the image to decode, from embedded bytes or a file path
	//
	// Returns:
	//   - driver.TextureID: the uploaded device texture
	//   - driver.TextureDescriptor: the descriptor to import the texture with
	//   - error: an error if decoding or the upload fails
	UploadTexture(tex *common.ImportedTexture) (driver.TextureID, driver.TextureDescriptor, error)

	// Resolve resolves a multisampled texture to a new single-sample,
	// single-mip texture of the same size and format. Returns the input
	// unchanged when it is not multisampled.
	//
	// Parameters:
	//   - fc: the per-frame context
	//   - input: the texture to resolve
	//
	// Returns:
	//   - framegraph.TextureHandle: the resolved texture, or input
	Resolve(fc *FrameContext, input framegraph.TextureHandle) framegraph.TextureHandle
}

var _ Manager = &manager{}

// ManagerOption configures the manager at construction.
type ManagerOption func(*manager)

// WithPrecompileWorkers sets the worker count used by Precompile.
//
// Parameters:
//   - n: the number of concurrent compilation workers
//
// Returns:
//   - ManagerOption: the option to pass to NewManager
func WithPrecompileWorkers(n int) ManagerOption {
	return func(m *manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// materialSource names a pass material and the embedded WGSL fragment sources
// backing its variants.
type materialSource struct {
	name        string
	fragment    string
	translucent string
}

var materialSources = []materialSource{
	{name: "sao", fragment: "sao.wgsl"},
	{name: "mipmapDepth", fragment: "mipmap_depth.wgsl"},
	{name: "bilateralBlur", fragment: "bilateral_blur.wgsl"},
	{name: "separableGaussianBlur", fragment: "separable_gaussian_blur.wgsl"},
	{name: "bloomDownsample", fragment: "bloom_downsample.wgsl"},
	{name: "bloomUpsample", fragment: "bloom_upsample.wgsl"},
	{name: "blitLow", fragment: "blit_low.wgsl"},
	{name: "blitMedium", fragment: "blit_medium.wgsl"},
	{name: "blitHigh", fragment: "blit_high.wgsl"},
	{name: "colorGrading", fragment: "color_grading.wgsl"},
	{name: "colorGradingSubpass", fragment: "color_grading_subpass.wgsl"},
	{name: "fxaa", fragment: "fxaa.wgsl", translucent: "fxaa_translucent.wgsl"},
	{name: "dofDownsample", fragment: "dof_downsample.wgsl", translucent: "dof_downsample_translucent.wgsl"},
	{name: "dofMipmap", fragment: "dof_mipmap.wgsl"},
	{name: "dofTiles", fragment: "dof_tiles.wgsl"},
	{name: "dofDilate", fragment: "dof_dilate.wgsl"},
	{name: "dof", fragment: "dof.wgsl", translucent: "dof_translucent.wgsl"},
	{name: "dofMedian", fragment: "dof_median.wgsl"},
	{name: "dofCombine", fragment: "dof_combine.wgsl", translucent: "dof_combine_translucent.wgsl"},
}

// NewManager creates the post-processing manager over a driver. The pass
// materials are declared here but not compiled; Init must run before the
// first frame and Precompile may run any time after construction.
//
// Parameters:
//   - d: the driver all device work goes through
//   - opts: optional configuration
//
// Returns:
//   - Manager: the new manager
func NewManager(d driver.Driver, opts ...ManagerOption) Manager {
	if d == nil {
		panic("post_process: manager requires a driver")
	}
	m := &manager{
		driver:    d,
		materials: make(map[string]material.Material, len(materialSources)),
		workers:   max(1, runtime.NumCPU()/2),
	}
	for _, opt := range opts {
		opt(m)
	}

	vertex := readShader("fullscreen.wgsl")
	for _, src := range materialSources {
		var matOpts []material.MaterialOption
		if src.translucent != "" {
			matOpts = append(matOpts, material.WithTranslucentVariant(readShader(src.translucent)))
		}
		m.materials[src.name] = material.NewMaterial(src.name, vertex, readShader(src.fragment), matOpts...)
	}
	return m
}

// readShader loads an embedded WGSL source, panicking on a missing file since
// the set of shipped shaders is fixed at build time.
func readShader(name string) string {
	data, err := shaderFS.ReadFile("wgsl/" + name)
	if err != nil {
		panic(fmt.Sprintf("post_process: missing shader %s: %v", name, err))
	}
	return string(data)
}

func (m *manager) Init() error {
	if m.initialized {
		return nil
	}

	desc := driver.TextureDescriptor{Width: 1, Height: 1, Format: driver.FormatRGBA8}

	zero, err := m.driver.CreateTexture(desc)
	if err != nil {
		return fmt.Errorf("post_process: dummy texture: %w", err)
	}
	if err := m.driver.Update2DImage(zero, 0, 0, 0, 1, 1, []byte{0, 0, 0, 0}); err != nil {
		return fmt.Errorf("post_process: dummy texture upload: %w", err)
	}

	one, err := m.driver.CreateTexture(desc)
	if err != nil {
		return fmt.Errorf("post_process: dummy texture: %w", err)
	}
	if err := m.driver.Update2DImage(one, 0, 0, 0, 1, 1, []byte{255, 255, 255, 255}); err != nil {
		return fmt.Errorf("post_process: dummy texture upload: %w", err)
	}

	m.dummyZero = zero
	m.dummyOne = one
	m.initialized = true
	return nil
}

func (m *manager) Precompile() error {
	pool := worker.NewDynamicWorkerPool(m.workers, 256, 1*time.Second)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	id := 0
	for _, mat := range m.materials {
		wg.Add(1)
		target := mat
		pool.SubmitTask(worker.Task{
			ID: id,
			Do: func() (any, error) {
				defer wg.Done()
				if err := target.EnsureRealized(m.driver); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
				return nil, nil
			},
		})
		id++
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (m *manager) Terminate() {
	if m.terminated {
		return
	}
	m.terminated = true

	for _, mat := range m.materials {
		mat.Terminate(m.driver)
	}
	m.driver.DestroyTexture(m.dummyZero)
	m.driver.DestroyTexture(m.dummyOne)
	m.dummyZero = 0
	m.dummyOne = 0
	m.initialized = false
}

// getMaterial looks up a declared material; an unknown name is a programming
// error in this package.
func (m *manager) getMaterial(name string) material.Material {
	mat, ok := m.materials[name]
	if !ok {
		panic(fmt.Sprintf("post_process: unknown material %q", name))
	}
	return mat
}

// realize ensures a material is compiled at execute time. Compilation failure
// at this point cannot fail the pass gracefully; it is treated like any other
// unrecoverable device error.
func (m *manager) realize(name string) material.Material {
	mat := m.getMaterial(name)
	if err := mat.EnsureRealized(m.driver); err != nil {
		panic(fmt.Sprintf("post_process: %v", err))
	}
	return mat
}

// Shared sampler configurations. Depth pyramids are always sampled nearest;
// color chains bilinear with explicit mip selection in the shader.
var (
	samplerNearest = driver.SamplerParams{
		MagFilter: driver.FilterNearest,
		MinFilter: driver.FilterNearest,
		Mip:       driver.MipFilterNone,
	}
	samplerNearestMipNearest = driver.SamplerParams{
		MagFilter: driver.FilterNearest,
		MinFilter: driver.FilterNearest,
		Mip:       driver.MipFilterNearest,
	}
	samplerLinear = driver.SamplerParams{
		MagFilter: driver.FilterLinear,
		MinFilter: driver.FilterLinear,
		Mip:       driver.MipFilterNone,
	}
	samplerLinearMipNearest = driver.SamplerParams{
		MagFilter: driver.FilterLinear,
		MinFilter: driver.FilterLinear,
		Mip:       driver.MipFilterNearest,
	}
)
