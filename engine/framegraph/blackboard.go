package framegraph

// Blackboard is a name-to-handle registry shared by all passes of one graph.
// Producers publish well-known textures ("structure", "ssao", "depth") and
// consumers look them up without being coupled to the producing pass.
type Blackboard map[string]TextureHandle

// Put registers a handle under a name, replacing any previous entry.
//
// Parameters:
//   - name: the well-known name to publish under
//   - h: the handle to publish
func (b Blackboard) Put(name string, h TextureHandle) {
	b[name] = h
}

// Get retrieves the handle registered under a name.
//
// Parameters:
//   - name: the well-known name to look up
//
// Returns:
//   - TextureHandle: the registered handle, or the zero handle
//   - bool: true if the name is registered
func (b Blackboard) Get(name string) (TextureHandle, bool) {
	h, ok := b[name]
	return h, ok
}

// Remove deletes the entry registered under a name.
//
// Parameters:
//   - name: the well-known name to remove
func (b Blackboard) Remove(name string) {
	delete(b, name)
}
