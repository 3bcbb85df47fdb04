package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/avcs/internal/dag"
	"github.com/roach88/avcs/internal/doc"
)

// Scenario is one history scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Resolve is the conflict policy used by merge steps. Empty means fail.
	Resolve ResolvePolicy `yaml:"resolve,omitempty"`

	// Steps run in order against one machine.
	Steps []Step `yaml:"steps"`

	// Expect is checked after the last step.
	Expect Expect `yaml:"expect"`
}

// ResolvePolicy is the YAML form of doc.Policy.
type ResolvePolicy struct {
	Default string            `yaml:"default,omitempty"`
	Paths   map[string]string `yaml:"paths,omitempty"`
}

// Step is one machine operation.
type Step struct {
	Op string `yaml:"op"`

	// Path and Value are the document op operands (set, inc, del).
	Path  string `yaml:"path,omitempty"`
	Value any    `yaml:"value,omitempty"`

	// Ref names the target action (undo, redo, checkout, merge,
	// undo_merge) by label or id.
	Ref string `yaml:"ref,omitempty"`

	// Parent is the branch undo_merge returns to, by label or id.
	Parent string `yaml:"parent,omitempty"`

	// Label binds the resulting action's id.
	Label string `yaml:"label,omitempty"`

	// Error is the history error code this step must fail with, e.g.
	// CONFLICT_RESOLUTION.
	Error string `yaml:"error,omitempty"`
}

// Expect lists the end-of-scenario checks. Unset fields are not checked.
type Expect struct {
	// State is matched against the document as a subset.
	State map[string]any `yaml:"state,omitempty"`

	// Absent lists dotted paths that must not exist.
	Absent []string `yaml:"absent,omitempty"`

	// Current is the label or id of the expected current action.
	Current string `yaml:"current,omitempty"`

	// ResolverCalls is the number of conflict groups resolved.
	ResolverCalls *int `yaml:"resolver_calls,omitempty"`

	// GraphEntries is the number of actions reachable from current.
	GraphEntries *int `yaml:"graph_entries,omitempty"`
}

// Step ops.
const (
	OpInit      = "init"
	OpSet       = "set"
	OpInc       = "inc"
	OpDel       = "del"
	OpUndo      = "undo"
	OpUndoLast  = "undo_last"
	OpUndoMerge = "undo_merge"
	OpRedo      = "redo"
	OpCheckout  = "checkout"
	OpMerge     = "merge"
)

var stepOps = []string{OpInit, OpSet, OpInc, OpDel, OpUndo, OpUndoLast, OpUndoMerge, OpRedo, OpCheckout, OpMerge}

var errorCodes = []dag.ErrorCode{
	dag.ErrCodeNotFound,
	dag.ErrCodeUnknownBranch,
	dag.ErrCodeNoCommonAncestor,
	dag.ErrCodeConflictResolution,
	dag.ErrCodeInvalidAction,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.Steps[0].Op != OpInit {
		return fmt.Errorf("steps[0]: first step must be init")
	}
	if _, err := s.Resolve.policy(); err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	labels := map[string]bool{}
	for i, step := range s.Steps {
		if err := validateStep(step, labels); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if step.Label != "" {
			if labels[step.Label] {
				return fmt.Errorf("steps[%d]: duplicate label %q", i, step.Label)
			}
			labels[step.Label] = true
		}
	}
	return nil
}

func validateStep(step Step, labels map[string]bool) error {
	if !slices.Contains(stepOps, step.Op) {
		return fmt.Errorf("unknown op %q", step.Op)
	}
	if step.Error != "" && !slices.Contains(errorCodes, dag.ErrorCode(step.Error)) {
		return fmt.Errorf("unknown error code %q", step.Error)
	}
	switch step.Op {
	case OpSet, OpInc, OpDel:
		if step.Path == "" {
			return fmt.Errorf("%s: path is required", step.Op)
		}
		if step.Op != OpDel && step.Value == nil {
			return fmt.Errorf("%s: value is required", step.Op)
		}
	case OpUndo, OpRedo, OpCheckout, OpMerge:
		if step.Ref == "" {
			return fmt.Errorf("%s: ref is required", step.Op)
		}
	case OpUndoMerge:
		if step.Ref == "" || step.Parent == "" {
			return fmt.Errorf("%s: ref and parent are required", step.Op)
		}
	}
	return nil
}

func (p ResolvePolicy) policy() (doc.Policy, error) {
	out := doc.Policy{Paths: make(map[string]doc.Strategy, len(p.Paths))}
	if p.Default != "" {
		st, err := doc.ParseStrategy(p.Default)
		if err != nil {
			return doc.Policy{}, err
		}
		out.Default = st
	}
	for prefix, s := range p.Paths {
		st, err := doc.ParseStrategy(s)
		if err != nil {
			return doc.Policy{}, fmt.Errorf("path %q: %w", prefix, err)
		}
		out.Paths[prefix] = st
	}
	return out, nil
}
