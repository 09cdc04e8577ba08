package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ltc/internal/fallback"
	"github.com/roach88/ltc/internal/ir"
)

// Scenario defines a conformance test scenario.
// Scenarios run a sequence of operator calls under a fallback policy and
// assert on the routes the calls took and the values they produced.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Policy is the fallback policy the scenario runs under.
	Policy fallback.Config `yaml:"policy"`

	// Backend configures the lazy backend.
	Backend BackendSpec `yaml:"backend,omitempty"`

	// Steps are the calls, executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace.
	// Supported types: route_count, fallback_ops, no_fallback, trace_order
	Assertions []Assertion `yaml:"assertions"`
}

// BackendSpec configures the lazy backend of a scenario.
type BackendSpec struct {
	Native         []string `yaml:"native,omitempty"`
	MaxDeviceBytes int64    `yaml:"max_device_bytes,omitempty"`
}

// Step is one operator call.
type Step struct {
	// Invoke is the operator name; "aten::" is implied when no namespace is
	// given.
	Invoke string `yaml:"invoke"`

	// Args are the explicit arguments. Schema defaults fill the rest.
	Args []ir.ValueSpec `yaml:"args"`

	// Expect specifies the expected outcome. If nil, the call must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the expected outcome of a step. Empty fields are not
// checked.
type Expect struct {
	Route   ir.Route       `yaml:"route,omitempty"`
	Reason  ir.Reason      `yaml:"reason,omitempty"`
	Outputs []ir.ValueSpec `yaml:"outputs,omitempty"`

	// Error is the expected error code. When set, the call must fail with it.
	Error ir.ErrorCode `yaml:"error,omitempty"`
}

// Assertion validates the trace.
type Assertion struct {
	// Type specifies the assertion type:
	// - "route_count": exactly Count calls took Route (and Reason, Op if set)
	// - "fallback_ops": the set of operators that fell back is exactly Ops
	// - "no_fallback": none of Ops fell back; with no Ops, nothing did
	// - "trace_order": Ops were called in this order
	Type string `yaml:"type"`

	Route  ir.Route  `yaml:"route,omitempty"`
	Reason ir.Reason `yaml:"reason,omitempty"`
	Op     string    `yaml:"op,omitempty"`
	Count  int       `yaml:"count,omitempty"`
	Ops    []string  `yaml:"ops,omitempty"`
}

// Assertion type constants.
const (
	AssertRouteCount  = "route_count"
	AssertFallbackOps = "fallback_ops"
	AssertNoFallback  = "no_fallback"
	AssertTraceOrder  = "trace_order"
)

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

// ParseScenario parses a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
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

	for i, step := range s.Steps {
		if step.Invoke == "" {
			return fmt.Errorf("steps[%d]: invoke is required", i)
		}
		if step.Expect == nil {
			continue
		}
		switch step.Expect.Route {
		case "", ir.RouteNative, ir.RouteFallback, ir.RouteRejected:
		default:
			return fmt.Errorf("steps[%d].expect: unknown route %q", i, step.Expect.Route)
		}
		if step.Expect.Error != "" && len(step.Expect.Outputs) > 0 {
			return fmt.Errorf("steps[%d].expect: error and outputs are mutually exclusive", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRouteCount:
		if a.Route == "" {
			return fmt.Errorf("assertions[%d]: route is required for route_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for route_count", index)
		}
	case AssertFallbackOps, AssertNoFallback:
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
