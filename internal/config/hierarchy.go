package config

// Layer returns the policy for a hierarchy layer.
func (h Hierarchy) Layer(layer int) (LayerPolicy, bool) {
	for _, lp := range h.Layers {
		if lp.Layer == layer {
			return lp, true
		}
	}
	return LayerPolicy{}, false
}

// Depth returns the deepest layer a worker may be provisioned at. An explicit
// max_depth wins; otherwise the highest layer listed in the policy table is used.
func (h Hierarchy) Depth() int {
	if h.MaxDepth > 0 {
		return h.MaxDepth
	}
	depth := 0
	for _, lp := range h.Layers {
		if lp.Layer > depth {
			depth = lp.Layer
		}
	}
	return depth
}

// RoleFor returns the configured role for a layer, or fallback when the layer has none.
func (h Hierarchy) RoleFor(layer int, fallback string) string {
	if lp, ok := h.Layer(layer); ok && lp.Role != "" {
		return lp.Role
	}
	return fallback
}
