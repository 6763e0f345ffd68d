package shader

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cogentcore/webgpu/wgpu"
)

// wgslSampledTextureMap maps WGSL sampled texture base names to their view dimension and multisampled flag
var wgslSampledTextureMap = map[string]sampledTextureInfo{
	"texture_1d":                    {wgpu.TextureViewDimension1D, false},
	"texture_2d":                    {wgpu.TextureViewDimension2D, false},
	"texture_2d_array":              {wgpu.TextureViewDimension2DArray, false},
	"texture_3d":                    {wgpu.TextureViewDimension3D, false},
	"texture_cube":                  {wgpu.TextureViewDimensionCube, false},
	"texture_multisampled_2d":       {wgpu.TextureViewDimension2D, true},
	"texture_depth_2d":              {wgpu.TextureViewDimension2D, false},
	"texture_depth_multisampled_2d": {wgpu.TextureViewDimension2D, true},
}

// wgslSampleTypeMap maps WGSL scalar type parameters to their wgpu texture sample type
var wgslSampleTypeMap = map[string]wgpu.TextureSampleType{
	"f32": wgpu.TextureSampleTypeFloat,
	"i32": wgpu.TextureSampleTypeSint,
	"u32": wgpu.TextureSampleTypeUint,
}

var (
	// structBlockRegex matches struct declarations and captures the name and body
	structBlockRegex = regexp.MustCompile(`struct\s+(\w+)\s*\{([^}]*)\}`)

	// builtinRegex matches @builtin(...) attributes
	builtinRegex = regexp.MustCompile(`@builtin\(\w+\)`)

	// fieldRegex matches a struct field line: optional attributes, name, colon, type.
	// The type capture (.+) is greedy to handle parameterized types like array<T, N>.
	fieldRegex = regexp.MustCompile(`(?:(?:@\w+\([^)]*\)\s*)*)*\s*(\w+)\s*:\s*(.+)`)

	// vertexEntryRegex matches @vertex functions and captures the entry point name
	vertexEntryRegex = regexp.MustCompile(`(?s)@vertex\b.*?\bfn\s+(\w+)`)

	// fragmentEntryRegex matches @fragment functions and captures the entry point name
	fragmentEntryRegex = regexp.MustCompile(`(?s)@fragment\b.*?\bfn\s+(\w+)`)

	// bindGroupDeclRegex captures group, binding, optional address space, variable name, and type
	// from declarations like: @group(0) @binding(0) var<uniform> params: SaoParams;
	// or handle types: @group(0) @binding(1) var depth: texture_2d<f32>;
	bindGroupDeclRegex = regexp.MustCompile(`@group\((\d+)\)\s*@binding\((\d+)\)\s*var(?:<([^>]*)>)?\s+(\w+)\s*:\s*([^;]+?)\s*;`)
)

// parseBindGroupLayouts extracts all @group(N) @binding(M) resource declarations from WGSL
// source and returns them as wgpu.BindGroupLayoutDescriptor values grouped by group index.
// Each descriptor's entries are sorted by binding index. The provided visibility flag is
// applied to all entries, corresponding to the shader stage that declared them.
//
// The struct type name of the first var<uniform> declaration is returned as well,
// so the caller can reflect the uniform block members for parameter packing.
//
// Parameters:
//   - source: the raw WGSL source code string
//   - visibility: the shader stage visibility flag to set on each entry
//
// Returns:
//   - map[int]wgpu.BindGroupLayoutDescriptor: layout descriptors keyed by group index
//   - map[int]map[int]string: variable names keyed by group and binding index for resource wiring
//   - string: the struct type name of the uniform block, or empty if none is declared
func parseBindGroupLayouts(source string, visibility wgpu.ShaderStage) (map[int]wgpu.BindGroupLayoutDescriptor, map[int]map[int]string, string) {
	groups := make(map[int][]wgpu.BindGroupLayoutEntry)
	varNames := make(map[int]map[int]string)
	cleaned := stripComments(source)

	// Parse all struct definitions and compute their sizes so MinBindingSize can be
	// set on buffer layout entries.
	structs := parseStructBlocks(cleaned)
	structSizes := computeStructSizes(structs)

	uniformStructName := ""

	matches := bindGroupDeclRegex.FindAllStringSubmatch(cleaned, -1)
	for _, match := range matches {
		group, _ := strconv.Atoi(match[1])
		binding, _ := strconv.Atoi(match[2])
		addressSpace := strings.TrimSpace(match[3])
		varName := strings.TrimSpace(match[4])
		typeName := strings.TrimSpace(match[5])

		entry := classifyResource(uint32(binding), visibility, addressSpace, typeName)

		if entry.Buffer.Type != wgpu.BufferBindingTypeUndefined {
			if layout, ok := resolveTypeLayout(typeName, structSizes); ok && layout.size > 0 {
				entry.Buffer.MinBindingSize = layout.size
			}
			if addressSpace == "uniform" && uniformStructName == "" {
				uniformStructName = typeName
			}
		}

		groups[group] = append(groups[group], entry)

		if varNames[group] == nil {
			varNames[group] = make(map[int]string)
		}
		varNames[group][binding] = varName
	}

	result := make(map[int]wgpu.BindGroupLayoutDescriptor, len(groups))
	for g, entries := range groups {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Binding < entries[j].Binding
		})
		demoteDepthSamplers(entries, varNames[g])
		result[g] = wgpu.BindGroupLayoutDescriptor{
			Entries: entries,
		}
	}

	return result, varNames, uniformStructName
}

// demoteDepthSamplers rewrites sampler entries paired with a depth texture to
// the non-filtering binding type. Depth-format textures may only be sampled
// through non-filtering or comparison samplers, and pairing follows the
// "name" / "nameSampler" variable convention.
//
// Parameters:
//   - entries: the bind group layout entries of one group, sorted by binding
//   - names: variable names keyed by binding index for the same group
func demoteDepthSamplers(entries []wgpu.BindGroupLayoutEntry, names map[int]string) {
	depthVars := make(map[string]bool)
	for _, e := range entries {
		if e.Texture.SampleType == wgpu.TextureSampleTypeDepth {
			depthVars[names[int(e.Binding)]] = true
		}
	}
	if len(depthVars) == 0 {
		return
	}
	for i, e := range entries {
		if e.Sampler.Type != wgpu.SamplerBindingTypeFiltering {
			continue
		}
		base := strings.TrimSuffix(names[int(e.Binding)], "Sampler")
		if depthVars[base] {
			entries[i].Sampler.Type = wgpu.SamplerBindingTypeNonFiltering
		}
	}
}

// reflectUniformBlock computes the byte offset, size and array length of every
// member of the named uniform struct, following WGSL layout rules. The returned
// block size is rounded up to the struct's alignment.
//
// Parameters:
//   - source: the raw WGSL source code string
//   - structName: the struct type bound in the var<uniform> declaration
//
// Returns:
//   - map[string]UniformMember: reflection data keyed by member name
//   - uint64: the total byte size of the uniform block
func reflectUniformBlock(source string, structName string) (map[string]UniformMember, uint64) {
	cleaned := stripComments(source)
	structs := parseStructBlocks(cleaned)
	structSizes := computeStructSizes(structs)

	members := make(map[string]UniformMember)

	var target *parsedStruct
	for i := range structs {
		if structs[i].name == structName {
			target = &structs[i]
			break
		}
	}
	if target == nil {
		return members, 0
	}

	offset := uint64(0)
	maxAlign := uint64(1)
	for _, field := range target.fields {
		layout, ok := resolveTypeLayout(field.typeName, structSizes)
		if !ok {
			continue
		}
		offset = roundUpAlign(layout.align, offset)
		members[field.name] = UniformMember{
			Name:     field.name,
			Offset:   offset,
			Size:     layout.size,
			ArrayLen: arrayElementCount(field.typeName),
		}
		offset += layout.size
		if layout.align > maxAlign {
			maxAlign = layout.align
		}
	}

	return members, roundUpAlign(maxAlign, offset)
}

// arrayElementCount returns the element count of a fixed-size array type like
// "array<vec2<f32>, 32>", or 0 for non-array and runtime-sized array types.
//
// Parameters:
//   - typeName: the WGSL type string
//
// Returns:
//   - int: the fixed element count, or 0
func arrayElementCount(typeName string) int {
	if !strings.HasPrefix(typeName, "array<") || !strings.HasSuffix(typeName, ">") {
		return 0
	}
	inner := typeName[6 : len(typeName)-1]
	idx := strings.LastIndex(inner, ",")
	if idx < 0 {
		return 0
	}
	count, err := strconv.Atoi(strings.TrimSpace(inner[idx+1:]))
	if err != nil {
		return 0
	}
	return count
}

// parseEntryPoint extracts the entry point function name for the given shader type
// from WGSL source. Returns an empty string if no matching entry point annotation is found.
//
// Parameters:
//   - source: the raw WGSL source code string
//   - shaderType: the shader type to search for (ShaderTypeVertex or ShaderTypeFragment)
//
// Returns:
//   - string: the entry point function name, or empty string if not found
func parseEntryPoint(source string, shaderType ShaderType) string {
	cleaned := stripComments(source)

	var re *regexp.Regexp
	switch shaderType {
	case ShaderTypeVertex:
		re = vertexEntryRegex
	case ShaderTypeFragment:
		re = fragmentEntryRegex
	default:
		return ""
	}

	if match := re.FindStringSubmatch(cleaned); match != nil {
		return match[1]
	}
	return ""
}

// parseStructBlocks finds all struct { ... } blocks in the cleaned WGSL source
// and parses their fields including attributes
//
// Parameters:
//   - source: WGSL source with comments already stripped
//
// Returns:
//   - []parsedStruct: all struct blocks found in the source
func parseStructBlocks(source string) []parsedStruct {
	matches := structBlockRegex.FindAllStringSubmatch(source, -1)
	structs := make([]parsedStruct, 0, len(matches))

	for _, match := range matches {
		name := match[1]
		body := match[2]

		fields := parseStructFields(body)
		structs = append(structs, parsedStruct{
			name:   name,
			fields: fields,
		})
	}

	return structs
}

// parseStructFields parses the body of a struct block into individual fields,
// extracting attributes along with the field name and type
//
// Parameters:
//   - body: the content between { and } of a struct declaration
//
// Returns:
//   - []parsedField: all fields found in the struct body
func parseStructFields(body string) []parsedField {
	lines := splitAtTopLevelCommas(body)
	fields := make([]parsedField, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var field parsedField

		if builtinRegex.MatchString(line) {
			field.isBuiltin = true
		}

		if fm := fieldRegex.FindStringSubmatch(line); fm != nil {
			field.name = fm[1]
			field.typeName = strings.TrimSpace(fm[2])
		} else {
			continue
		}

		fields = append(fields, field)
	}

	return fields
}

// splitAtTopLevelCommas splits a string at commas that are not nested inside angle brackets.
// This correctly handles WGSL types like array<vec4<f32>, 16> where the comma is part of
// the type syntax rather than a field separator.
//
// Parameters:
//   - s: the string to split (typically the body of a WGSL struct)
//
// Returns:
//   - []string: substrings between top-level commas
func splitAtTopLevelCommas(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}
