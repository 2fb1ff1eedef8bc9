package interview

// DefaultModel is used when a registry is built from an empty list.
const DefaultModel = "gpt-4o"

// ModelRegistry is the ordered list of models tried on successive attempts.
type ModelRegistry struct {
	models []string
}

// NewModelRegistry creates a registry trying models in the given order.
func NewModelRegistry(models ...string) ModelRegistry {
	var clean []string
	for _, m := range models {
		if m != "" {
			clean = append(clean, m)
		}
	}
	if len(clean) == 0 {
		clean = []string{DefaultModel}
	}
	return ModelRegistry{models: clean}
}

// Select returns the model for a zero-based attempt index. Attempts past the
// end of the list reuse the last entry.
func (r ModelRegistry) Select(attempt int) string {
	if len(r.models) == 0 {
		return DefaultModel
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(r.models) {
		return r.models[len(r.models)-1]
	}
	return r.models[attempt]
}

// Models returns a copy of the registry order.
func (r ModelRegistry) Models() []string {
	return append([]string(nil), r.models...)
}

// Len returns the number of distinct entries.
func (r ModelRegistry) Len() int {
	return len(r.models)
}
