package material

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-fx/common"
	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/driver"
)

// instance is the implementation of the Instance interface.
type instance struct {
	material *material

	uniforms []byte
	textures []driver.TextureBinding
	raster   driver.RasterState
	scissor  *driver.Viewport
}

// Instance holds the parameter values of a material: the packed uniform
// block, the texture bindings, and the raster state a draw is issued with.
// Parameter names are validated against the shader's reflection; setting a
// name the shader does not declare is a configuration error and panics.
type Instance interface {
	// SetFloat sets a scalar f32 parameter.
	//
	// Parameters:
	//   - name: the uniform member name
	//   - v: the value
	SetFloat(name string, v float32)

	// SetFloat2 sets a vec2<f32> parameter.
	//
	// Parameters:
	//   - name: the uniform member name
	//   - v: the value
	SetFloat2(name string, v [2]float32)

	// SetFloat4 sets a vec4<f32> parameter.
	//
	// Parameters:
	//   - name: the uniform member name
	//   - v: the value
	SetFloat4(name string, v [4]float32)

	// SetInt sets a scalar i32 parameter.
	//
	// Parameters:
	//   - name: the uniform member name
	//   - v: the value
	SetInt(name string, v int32)

	// SetUint sets a scalar u32 parameter.
	//
	// Parameters:
	//   - name: the uniform member name
	//   - v: the value
	SetUint(name string, v uint32)

	// SetFloat2Array sets the leading elements of an array<vec2<f32>, N>
	// parameter. Panics if more elements are given than the shader declares.
	//
	// Parameters:
	//   - name: the uniform member name
	//   - v: the element values
	SetFloat2Array(name string, v [][2]float32)

	// SetTexture binds a texture to a named sampler parameter, covering all of
	// its mip levels.
	//
	// Parameters:
	//   - name: the shader-side texture variable name
	//   - id: the texture to bind
	//   - s: how the shader samples it
	SetTexture(name string, id driver.TextureID, s driver.SamplerParams)

	// SetTextureRange binds a restricted mip range of a texture to a named
	// sampler parameter. Passes that read one mip of a texture while writing
	// another must use this.
	//
	// Parameters:
	//   - name: the shader-side texture variable name
	//   - id: the texture to bind
	//   - s: how the shader samples it
	//   - baseLevel: the first visible mip level
	//   - levelCount: the number of visible levels
	SetTextureRange(name string, id driver.TextureID, s driver.SamplerParams, baseLevel, levelCount uint8)

	// SetDepthFunc sets the depth test function for subsequent draws.
	//
	// Parameters:
	//   - f: the compare function, CompareDisabled to turn the test off
	SetDepthFunc(f driver.CompareFunc)

	// SetDepthWrite enables or disables depth writes for subsequent draws.
	//
	// Parameters:
	//   - enabled: whether depth is written
	SetDepthWrite(enabled bool)

	// SetBlendFuncs enables blending with the given factors.
	//
	// Parameters:
	//   - srcRGB, dstRGB: the color blend factors
	//   - srcAlpha, dstAlpha: the alpha blend factors
	SetBlendFuncs(srcRGB, dstRGB, srcAlpha, dstAlpha driver.BlendFunc)

	// DisableBlending restores opaque output.
	DisableBlending()

	// SetScissor restricts subsequent draws to a sub-rectangle.
	//
	// Parameters:
	//   - v: the scissor rectangle, or nil for none
	SetScissor(v *driver.Viewport)

	// PipelineState assembles the pipeline state for a draw with this
	// instance's current raster configuration.
	//
	// Parameters:
	//   - v: the material variant to draw with
	//
	// Returns:
	//   - driver.PipelineState: the program, raster state and scissor
	PipelineState(v Variant) driver.PipelineState

	// Uniforms returns the packed uniform block for a draw. The returned slice
	// is live; it must not be retained across parameter changes.
	//
	// Returns:
	//   - []byte: the packed uniform block
	Uniforms() []byte

	// Textures returns the current texture bindings for a draw.
	//
	// Returns:
	//   - []driver.TextureBinding: the bindings in set order
	Textures() []driver.TextureBinding

	// Draw issues one fullscreen draw with the instance's current state.
	//
	// Parameters:
	//   - d: the driver to draw with
	//   - v: the material variant
	Draw(d driver.Driver, v Variant)
}

var _ Instance = &instance{}

func newInstance(m *material) *instance {
	return &instance{
		material: m,
		uniforms: make([]byte, m.fragmentShaders[VariantOpaque].UniformBlockSize()),
	}
}

// member resolves a parameter name through the shader reflection, panicking on
// unknown names.
func (i *instance) member(name string) (offset, size uint64, arrayLen int) {
	m, ok := i.material.fragmentShaders[VariantOpaque].UniformMember(name)
	if !ok {
		panic(fmt.Sprintf("material %s: unknown parameter %q", i.material.name, name))
	}
	return m.Offset, m.Size, m.ArrayLen
}

func (i *instance) putFloats(offset uint64, vals ...float32) {
	copy(i.uniforms[offset:], common.SliceToBytes(vals))
}

func (i *instance) SetFloat(name string, v float32) {
	offset, _, _ := i.member(name)
	i.putFloats(offset, v)
}

func (i *instance) SetFloat2(name string, v [2]float32) {
	offset, _, _ := i.member(name)
	i.putFloats(offset, v[0], v[1])
}

func (i *instance) SetFloat4(name string, v [4]float32) {
	offset, _, _ := i.member(name)
	i.putFloats(offset, v[0], v[1], v[2], v[3])
}

func (i *instance) SetInt(name string, v int32) {
	offset, _, _ := i.member(name)
	copy(i.uniforms[offset:], common.SliceToBytes([]int32{v}))
}

func (i *instance) SetUint(name string, v uint32) {
	offset, _, _ := i.member(name)
	copy(i.uniforms[offset:], common.SliceToBytes([]uint32{v}))
}

func (i *instance) SetFloat2Array(name string, v [][2]float32) {
	offset, _, arrayLen := i.member(name)
	if arrayLen == 0 {
		panic(fmt.Sprintf("material %s: parameter %q is not an array", i.material.name, name))
	}
	if len(v) > arrayLen {
		panic(fmt.Sprintf("material %s: %d elements exceed the %d declared for %q",
			i.material.name, len(v), arrayLen, name))
	}
	// Uniform array stride is 16 bytes regardless of element size.
	for n, e := range v {
		i.putFloats(offset+uint64(n)*16, e[0], e[1])
	}
}

func (i *instance) SetTexture(name string, id driver.TextureID, s driver.SamplerParams) {
	i.SetTextureRange(name, id, s, 0, 0)
}

func (i *instance) SetTextureRange(name string, id driver.TextureID, s driver.SamplerParams, baseLevel, levelCount uint8) {
	if _, ok := i.material.fragmentShaders[VariantOpaque].BindGroupFromVarName(0, name); !ok {
		panic(fmt.Sprintf("material %s: unknown texture parameter %q", i.material.name, name))
	}
	binding := driver.TextureBinding{
		Name:       name,
		Texture:    id,
		Sampler:    s,
		BaseLevel:  baseLevel,
		LevelCount: levelCount,
	}
	for n := range i.textures {
		if i.textures[n].Name == name {
			i.textures[n] = binding
			return
		}
	}
	i.textures = append(i.textures, binding)
}

func (i *instance) SetDepthFunc(f driver.CompareFunc) {
	i.raster.DepthFunc = f
}

func (i *instance) SetDepthWrite(enabled bool) {
	i.raster.DepthWrite = enabled
}

func (i *instance) SetBlendFuncs(srcRGB, dstRGB, srcAlpha, dstAlpha driver.BlendFunc) {
	i.raster.BlendEnabled = true
	i.raster.BlendSrcRGB = srcRGB
	i.raster.BlendDstRGB = dstRGB
	i.raster.BlendSrcAlpha = srcAlpha
	i.raster.BlendDstAlpha = dstAlpha
}

func (i *instance) DisableBlending() {
	i.raster.BlendEnabled = false
}

func (i *instance) SetScissor(v *driver.Viewport) {
	i.scissor = v
}

func (i *instance) PipelineState(v Variant) driver.PipelineState {
	return driver.PipelineState{
		Program: i.material.Program(v),
		Raster:  i.raster,
		Scissor: i.scissor,
	}
}

func (i *instance) Uniforms() []byte {
	return i.uniforms
}

func (i *instance) Textures() []driver.TextureBinding {
	return i.textures
}

func (i *instance) Draw(d driver.Driver, v Variant) {
	d.Draw(i.PipelineState(v), i.uniforms, i.textures)
}
