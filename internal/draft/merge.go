package draft

// DeepMerge merges overlay into base recursively and returns the result.
// Neither input is mutated. Nested maps are merged key by key; any other
// overlay value (including nil and slices) replaces the base value. Keys
// present only in base survive, which is how old drafts pick up defaults for
// newly introduced fields.
func DeepMerge(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = deepCopyValue(v)
	}
	for k, ov := range overlay {
		bm, baseIsMap := out[k].(map[string]any)
		om, overlayIsMap := ov.(map[string]any)
		if baseIsMap && overlayIsMap {
			out[k] = DeepMerge(bm, om)
			continue
		}
		out[k] = deepCopyValue(ov)
	}
	return out
}

// DeepCopy returns a copy of m that shares no nested maps or slices with it.
func DeepCopy(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return DeepCopy(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
