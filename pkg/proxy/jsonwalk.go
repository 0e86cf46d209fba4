package proxy

// walkJSONStrings visits every string leaf in a decoded JSON value
// (the result of json.Unmarshal into `any`), depth-first, and replaces
// it with whatever visit returns. msgIndex tracks the element index of
// the shallowest array containing the leaf (the top-level messages/
// input array in the common request shapes), which the DLP engine uses
// to annotate detections; nested arrays below that point inherit their
// parent's index rather than overriding it.
func walkJSONStrings(v any, msgIndex int, visit func(s string, msgIndex int) string) any {
	switch t := v.(type) {
	case string:
		return visit(t, msgIndex)
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			idx := msgIndex
			if idx < 0 {
				idx = i
			}
			out[i] = walkJSONStrings(el, idx, visit)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = walkJSONStrings(val, msgIndex, visit)
		}
		return out
	default:
		return t
	}
}
