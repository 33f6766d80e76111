package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/cadmalab/flowstore/internal/docval"
)

// traceSnapshot is the canonical golden file shape for one scenario.
func traceSnapshot(name string, result *Result) docval.Object {
	events := make(docval.Array, len(result.Trace))
	for i, event := range result.Trace {
		events[i] = event.toCanonicalValue()
	}
	return docval.Object{
		"scenario_name": docval.String(name),
		"trace":         events,
	}
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/<name>.golden. Regenerate golden files with:
//
//	go test ./internal/harness -update
//
// Scenario execution failures return an error; a trace mismatch fails
// the test through goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	data, err := docval.MarshalCanonical(traceSnapshot(scenario.Name, result))
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return result, nil
}

// AssertGolden compares an already-obtained result against a golden
// file without re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := docval.MarshalCanonical(traceSnapshot(name, result))
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
