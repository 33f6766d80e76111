package harness

import (
	"context"
	"fmt"

	"github.com/cadmalab/flowstore/internal/docval"
	"github.com/cadmalab/flowstore/internal/flow"
)

// evaluateAssertions checks every assertion against the final store
// state, collecting failures into the result.
func (r *runner) evaluateAssertions(ctx context.Context, assertions []Assertion, result *Result) {
	for i, a := range assertions {
		if err := r.evaluateOne(ctx, &a); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d] %s: %v", i, a.Type, err))
		}
	}
}

func (r *runner) evaluateOne(ctx context.Context, a *Assertion) error {
	id, err := r.resolve(a.Flow)
	if err != nil {
		return err
	}

	switch a.Type {
	case AssertRecordContains:
		records, err := r.svc.Read(ctx, id, -1)
		if err != nil {
			return err
		}
		return assertRecordContains(records, a)

	case AssertRecordOrder:
		records, err := r.svc.Read(ctx, id, -1)
		if err != nil {
			return err
		}
		return assertRecordOrder(records, a.Keys)

	case AssertRecordCount:
		records, err := r.svc.Read(ctx, id, -1)
		if err != nil {
			return err
		}
		return assertRecordCount(records, a)

	case AssertFinalMeta:
		meta, err := r.svc.Meta(ctx, id)
		if err != nil {
			return err
		}
		return assertFinalMeta(meta, a.Expect)

	case AssertFinalState:
		state, _, err := r.svc.Rehydrate(ctx, id)
		if err != nil {
			return err
		}
		expect, err := toDoc(a.Expect)
		if err != nil {
			return err
		}
		return assertSubset(state, expect, "state")

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertRecordContains(records []flow.Record, a *Assertion) error {
	expect, err := toDoc(a.Payload)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.Key != a.Key {
			continue
		}
		if expect == nil || assertSubset(rec.Payload, expect, "payload") == nil {
			return nil
		}
	}
	return fmt.Errorf("no record with key %q matching payload", a.Key)
}

func assertRecordOrder(records []flow.Record, keys []string) error {
	// Subsequence match: the listed keys must appear in this order,
	// other records may interleave.
	next := 0
	for _, rec := range records {
		if next < len(keys) && rec.Key == keys[next] {
			next++
		}
	}
	if next != len(keys) {
		return fmt.Errorf("key %q not found in order (matched %d of %d)", keys[next], next, len(keys))
	}
	return nil
}

func assertRecordCount(records []flow.Record, a *Assertion) error {
	count := 0
	for _, rec := range records {
		if a.Key == "" || rec.Key == a.Key {
			count++
		}
	}
	if count != a.Count {
		return fmt.Errorf("expected %d records, found %d", a.Count, count)
	}
	return nil
}

func assertFinalMeta(meta flow.Meta, expect map[string]any) error {
	for key, want := range expect {
		switch key {
		case "cursor":
			if got := meta.Cursor; got != toInt64(want) {
				return fmt.Errorf("cursor: expected %v, got %d", want, got)
			}
		case "version":
			if got := meta.Version; got != toInt64(want) {
				return fmt.Errorf("version: expected %v, got %d", want, got)
			}
		case "status":
			if meta.Status != want {
				return fmt.Errorf("status: expected %v, got %q", want, meta.Status)
			}
		case "name":
			if meta.Name != want {
				return fmt.Errorf("name: expected %v, got %q", want, meta.Name)
			}
		default:
			return fmt.Errorf("unknown meta field %q", key)
		}
	}
	return nil
}

// assertSubset checks that every key in expect is present in got with
// an equal value. Keys absent from expect are ignored.
func assertSubset(got, expect docval.Object, what string) error {
	for key, want := range expect {
		have, ok := got[key]
		if !ok {
			return fmt.Errorf("%s missing key %q", what, key)
		}
		if !docval.Equal(have, want) {
			return fmt.Errorf("%s key %q does not match", what, key)
		}
	}
	return nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return -1
	}
}
