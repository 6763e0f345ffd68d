package material

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/driver"
)

const testVertexSource = `
struct VertexOutput {
    @builtin(position) position: vec4<f32>,
    @location(0) uv: vec2<f32>,
}

@vertex
fn main(@builtin(vertex_index) index: u32) -> VertexOutput {
    var out: VertexOutput;
    let x = f32(i32(index & 1u) * 4 - 1);
    let y = f32(i32(index & 2u) * 2 - 1);
    out.position = vec4<f32>(x, y, 1.0, 1.0);
    out.uv = vec2<f32>(x, -y) * 0.5 + 0.5;
    return out;
}
`

const testFragmentSource = `
struct Params {
    scale: f32,
    bias: f32,
}

@group(0) @binding(0) var<uniform> params: Params;

@fragment
fn main(@location(0) uv: vec2<f32>) -> @location(0) vec4<f32> {
    return vec4<f32>(uv * params.scale + params.bias, 0.0, 1.0);
}
`

// Same uniform block as the opaque source, different body.
const testTranslucentSource = `
struct Params {
    scale: f32,
    bias: f32,
}

@group(0) @binding(0) var<uniform> params: Params;

@fragment
fn main(@location(0) uv: vec2<f32>) -> @location(0) vec4<f32> {
    return vec4<f32>(uv, params.bias, params.scale);
}
`

// Same member names, different order, so the offsets disagree.
const testDivergentTranslucentSource = `
struct Params {
    bias: f32,
    scale: f32,
}

@group(0) @binding(0) var<uniform> params: Params;

@fragment
fn main(@location(0) uv: vec2<f32>) -> @location(0) vec4<f32> {
    return vec4<f32>(uv, params.bias, params.scale);
}
`

func TestEnsureRealizedCompilesBothVariants(t *testing.T) {
	d := driver.NewNullDriver()
	m := NewMaterial("tint", testVertexSource, testFragmentSource,
		WithTranslucentVariant(testTranslucentSource))

	require.NoError(t, m.EnsureRealized(d))
	assert.NotEqual(t, m.Program(VariantOpaque), m.Program(VariantTranslucent))
}

func TestTranslucentFallsBackToOpaqueProgram(t *testing.T) {
	d := driver.NewNullDriver()
	m := NewMaterial("tint", testVertexSource, testFragmentSource)

	require.NoError(t, m.EnsureRealized(d))
	assert.Equal(t, m.Program(VariantOpaque), m.Program(VariantTranslucent))
}

func TestEnsureRealizedRejectsDivergentTranslucentLayout(t *testing.T) {
	d := driver.NewNullDriver()
	m := NewMaterial("tint", testVertexSource, testFragmentSource,
		WithTranslucentVariant(testDivergentTranslucentSource))

	// Instances pack parameters against the opaque reflection, so a variant
	// with a different uniform layout must be rejected up front.
	assert.Panics(t, func() { _ = m.EnsureRealized(d) })
}

func TestInstancePanicsOnUnknownParameter(t *testing.T) {
	d := driver.NewNullDriver()
	m := NewMaterial("tint", testVertexSource, testFragmentSource)
	require.NoError(t, m.EnsureRealized(d))

	inst := m.Instance()
	assert.Panics(t, func() { inst.SetFloat("gamma", 1.0) })
}
