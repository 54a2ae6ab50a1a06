package pipeline

import (
	"regexp"
	"sort"

	"github.com/aviral-bhardwaj/laktory/errors"
)

// nodeRefPattern matches {nodes.NAME} references inside string kwargs.
var nodeRefPattern = regexp.MustCompile(`\{nodes\.([A-Za-z0-9_.\-]+)\}`)

// TransformStep invokes one registered function with declared kwargs.
// String kwargs may reference other nodes as {nodes.NAME}: a kwarg whose
// entire value is such a reference receives that node's frame at run time,
// and every reference adds a dependency edge to the graph.
type TransformStep struct {
	Func   string         `yaml:"func" json:"func"`
	Kwargs map[string]any `yaml:"kwargs,omitempty" json:"kwargs,omitempty"`
}

// frameKwargs maps kwarg keys whose whole value is a {nodes.NAME}
// reference to the referenced node name.
func (s *TransformStep) frameKwargs() map[string]string {
	var refs map[string]string
	for key, v := range s.Kwargs {
		str, ok := v.(string)
		if !ok {
			continue
		}
		m := nodeRefPattern.FindStringSubmatch(str)
		if m == nil || m[0] != str {
			continue
		}
		if refs == nil {
			refs = make(map[string]string)
		}
		refs[key] = m[1]
	}
	return refs
}

// nodeRefs lists every node name referenced by the step's string kwargs,
// sorted for determinism.
func (s *TransformStep) nodeRefs() []string {
	var names []string
	for _, v := range s.Kwargs {
		str, ok := v.(string)
		if !ok {
			continue
		}
		for _, m := range nodeRefPattern.FindAllStringSubmatch(str, -1) {
			names = append(names, m[1])
		}
	}
	sort.Strings(names)
	return names
}

// Transformer chains transform steps applied in declaration order.
type Transformer struct {
	Steps []*TransformStep `yaml:"steps" json:"steps"`
}

// Validate checks every step resolves against the registry.
func (t *Transformer) Validate(reg *Registry) error {
	for _, step := range t.Steps {
		if step == nil || step.Func == "" {
			return errors.MissingField("transformer.steps.func")
		}
		if _, err := reg.Lookup(step.Func); err != nil {
			return err
		}
	}
	return nil
}

// nodeRefs lists node names referenced across all steps, deduplicated in
// first-appearance order.
func (t *Transformer) nodeRefs() []string {
	if t == nil {
		return nil
	}
	seen := make(map[string]bool)
	var names []string
	for _, step := range t.Steps {
		for _, name := range step.nodeRefs() {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}
