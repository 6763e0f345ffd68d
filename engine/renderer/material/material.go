// package material implements the post-processing pass material: a WGSL
// program paired with a parameter instance whose values are validated and
// packed against the shader's reflection.
//
// A material starts unrealized, holding only its sources. EnsureRealized
// compiles it through the driver on first use and is safe to call from
// multiple goroutines, which lets a worker pool warm the whole cache before
// the render loop.
package material

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/driver"
	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/shader"
)

// Variant selects between the compiled flavors of a material.
type Variant uint8

const (
	// VariantOpaque is the default variant, assuming no meaningful alpha.
	VariantOpaque Variant = iota

	// VariantTranslucent is the variant that carries alpha through the pass.
	// Materials without a translucent source fall back to the opaque program.
	VariantTranslucent
)

// material is the implementation of the Material interface.
type material struct {
	mu sync.Mutex

	name           string
	vertexSource   string
	fragmentSource string
	// translucentSource, when non-empty, compiles a second program for
	// VariantTranslucent.
	translucentSource string

	realized   bool
	terminated bool

	vertexShader    shader.Shader
	fragmentShaders [2]shader.Shader
	programs        [2]driver.ProgramID

	defaultInstance *instance
}

// Material defines the interface for a post-processing pass material. It owns
// its compiled programs and a default parameter instance, and is destroyed
// exactly once through Terminate.
type Material interface {
	// Name retrieves the material identifier.
	//
	// Returns:
	//   - string: the name of the material
	Name() string

	// EnsureRealized compiles the material's programs through the driver if
	// they are not compiled yet. Safe for concurrent use; later calls are
	// no-ops.
	//
	// Parameters:
	//   - d: the driver to compile with
	//
	// Returns:
	//   - error: an error if program compilation fails
	EnsureRealized(d driver.Driver) error

	// Program retrieves the compiled program for a variant. Panics if the
	// material is not realized; callers realize before drawing.
	//
	// Parameters:
	//   - v: the variant to select
	//
	// Returns:
	//   - driver.ProgramID: the compiled program
	Program(v Variant) driver.ProgramID

	// Instance retrieves the material's default parameter instance. Panics if
	// the material is not realized, since the instance is laid out from the
	// shader's reflection.
	//
	// Returns:
	//   - Instance: the default instance
	Instance() Instance

	// Reflect retrieves the uniform reflection data for a named parameter of
	// the opaque fragment shader, for callers that size buffers from the
	// shader (the Gaussian kernel storage).
	//
	// Parameters:
	//   - name: the uniform member name
	//
	// Returns:
	//   - shader.UniformMember: the member's offset, size and array length
	//   - bool: true if the member exists
	Reflect(name string) (shader.UniformMember, bool)

	// Terminate destroys the compiled programs. Only the first call has an
	// effect; the material cannot be realized again afterwards.
	//
	// Parameters:
	//   - d: the driver that compiled the programs
	Terminate(d driver.Driver)
}

var _ Material = &material{}

// MaterialOption configures a material at construction.
type MaterialOption func(*material)

// WithTranslucentVariant adds a second fragment source compiled as the
// material's VariantTranslucent program.
//
// Parameters:
//   - fragmentSource: the WGSL fragment source of the translucent flavor
//
// Returns:
//   - MaterialOption: the option to pass to NewMaterial
func WithTranslucentVariant(fragmentSource string) MaterialOption {
	return func(m *material) {
		m.translucentSource = fragmentSource
	}
}

// NewMaterial creates an unrealized material from WGSL sources. Nothing
// touches the GPU until EnsureRealized.
//
// Parameters:
//   - name: the material identifier, used for program labels and errors
//   - vertexSource: the WGSL vertex source (a fullscreen triangle stage)
//   - fragmentSource: the WGSL fragment source of the opaque variant
//   - opts: optional configuration
//
// Returns:
//   - Material: the new material
func NewMaterial(name, vertexSource, fragmentSource string, opts ...MaterialOption) Material {
	if vertexSource == "" || fragmentSource == "" {
		panic(fmt.Sprintf("material: %s must have vertex and fragment sources", name))
	}
	m := &material{
		name:           name,
		vertexSource:   vertexSource,
		fragmentSource: fragmentSource,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *material) Name() string {
	return m.name
}

func (m *material) EnsureRealized(d driver.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.realized {
		return nil
	}
	if m.terminated {
		return fmt.Errorf("material %s: realize after terminate", m.name)
	}

	m.vertexShader = shader.NewShader(m.name+"_vs", shader.ShaderTypeVertex, m.vertexSource)
	m.fragmentShaders[VariantOpaque] = shader.NewShader(m.name+"_fs", shader.ShaderTypeFragment, m.fragmentSource)

	p, err := d.CompileProgram(m.name, m.vertexShader, m.fragmentShaders[VariantOpaque])
	if err != nil {
		return fmt.Errorf("material %s: %w", m.name, err)
	}
	m.programs[VariantOpaque] = p

	if m.translucentSource != "" {
		m.fragmentShaders[VariantTranslucent] = shader.NewShader(m.name+"_translucent_fs", shader.ShaderTypeFragment, m.translucentSource)
		assertUniformLayoutsMatch(m.name, m.fragmentShaders[VariantOpaque], m.fragmentShaders[VariantTranslucent])
		pt, err := d.CompileProgram(m.name+"_translucent", m.vertexShader, m.fragmentShaders[VariantTranslucent])
		if err != nil {
			return fmt.Errorf("material %s (translucent): %w", m.name, err)
		}
		m.programs[VariantTranslucent] = pt
	}

	m.defaultInstance = newInstance(m)
	m.realized = true
	return nil
}

func (m *material) Program(v Variant) driver.ProgramID {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.realized {
		panic(fmt.Sprintf("material %s: Program before EnsureRealized", m.name))
	}
	if v == VariantTranslucent && m.programs[VariantTranslucent] != 0 {
		return m.programs[VariantTranslucent]
	}
	return m.programs[VariantOpaque]
}

func (m *material) Instance() Instance {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.realized {
		panic(fmt.Sprintf("material %s: Instance before EnsureRealized", m.name))
	}
	return m.defaultInstance
}

func (m *material) Reflect(name string) (shader.UniformMember, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.realized {
		panic(fmt.Sprintf("material %s: Reflect before EnsureRealized", m.name))
	}
	return m.fragmentShaders[VariantOpaque].UniformMember(name)
}

func (m *material) Terminate(d driver.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminated {
		return
	}
	m.terminated = true
	if !m.realized {
		return
	}
	d.DestroyProgram(m.programs[VariantOpaque])
	if m.programs[VariantTranslucent] != 0 {
		d.DestroyProgram(m.programs[VariantTranslucent])
	}
	m.realized = false
}

// assertUniformLayoutsMatch panics unless both variants declare byte-identical
// uniform blocks. The default instance packs parameters against the opaque
// reflection only, so a divergent translucent layout would mis-pack silently.
func assertUniformLayoutsMatch(name string, opaque, translucent shader.Shader) {
	if opaque.UniformBlockSize() != translucent.UniformBlockSize() {
		panic(fmt.Sprintf("material %s: translucent uniform block is %d bytes, opaque is %d",
			name, translucent.UniformBlockSize(), opaque.UniformBlockSize()))
	}
	opaqueMembers := opaque.UniformMembers()
	if len(translucent.UniformMembers()) != len(opaqueMembers) {
		panic(fmt.Sprintf("material %s: variant uniform blocks declare different members", name))
	}
	for _, om := range opaqueMembers {
		tm, ok := translucent.UniformMember(om.Name)
		if !ok || tm != om {
			panic(fmt.Sprintf("material %s: translucent variant diverges on uniform %q", name, om.Name))
		}
	}
}

// fragmentShader returns the fragment shader backing a variant, falling back
// to the opaque shader. Callers hold no lock; the shaders are immutable after
// realization.
func (m *material) fragmentShader(v Variant) shader.Shader {
	if v == VariantTranslucent && m.fragmentShaders[VariantTranslucent] != nil {
		return m.fragmentShaders[VariantTranslucent]
	}
	return m.fragmentShaders[VariantOpaque]
}
