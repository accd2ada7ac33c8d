package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genUnixTime generates whole-second, UTC time.Time values: JSON's
// RFC3339Nano encoding round-trips these byte-for-byte, unlike time.Time
// values carrying a monotonic reading or sub-second jitter that the wire
// format wouldn't distinguish anyway.
func genUnixTime() gopter.Gen {
	return gen.Int64Range(0, 2_000_000_000).Map(func(sec int64) time.Time {
		return time.Unix(sec, 0).UTC()
	})
}

func genVerdictStatus() gopter.Gen {
	return gen.OneConstOf(VerdictPass, VerdictFail, VerdictUnknown)
}

func genVerdict() gopter.Gen {
	return gopter.CombineGens(genVerdictStatus(), gen.AlphaString()).Map(func(vals []interface{}) Verdict {
		return Verdict{Status: vals[0].(VerdictStatus), Evidence: vals[1].(string)}
	})
}

// TestVerdictJSONRoundTrip verifies spec §8's P9 (round-trip): serializing
// and deserializing a Verdict yields an equal value.
func TestVerdictJSONRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Verdict survives a JSON round trip", prop.ForAll(
		func(v Verdict) bool {
			data, err := json.Marshal(v)
			if err != nil {
				return false
			}
			var got Verdict
			if err := json.Unmarshal(data, &got); err != nil {
				return false
			}
			return got == v
		},
		genVerdict(),
	))

	properties.TestingRun(t)
}

func genMetrics() gopter.Gen {
	return gopter.CombineGens(
		gen.AlphaString(),
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 1_000_000),
		gen.Float64Range(0, 10_000),
	).Map(func(vals []interface{}) Metrics {
		return Metrics{
			JobID:        vals[0].(string),
			InputTokens:  vals[1].(int64),
			OutputTokens: vals[2].(int64),
			CostUSD:      vals[3].(float64),
			ByModel:      map[string]float64{"test-model": vals[3].(float64)},
		}
	})
}

// TestMetricsJSONRoundTrip verifies spec §8's P9 for Metrics.
func TestMetricsJSONRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Metrics survives a JSON round trip", prop.ForAll(
		func(m Metrics) bool {
			data, err := json.Marshal(m)
			if err != nil {
				return false
			}
			var got Metrics
			if err := json.Unmarshal(data, &got); err != nil {
				return false
			}
			if got.JobID != m.JobID || got.InputTokens != m.InputTokens ||
				got.OutputTokens != m.OutputTokens || got.CostUSD != m.CostUSD {
				return false
			}
			if len(got.ByModel) != len(m.ByModel) {
				return false
			}
			for k, v := range m.ByModel {
				if got.ByModel[k] != v {
					return false
				}
			}
			return true
		},
		genMetrics(),
	))

	properties.TestingRun(t)
}

func genStep(batchIndex int) gopter.Gen {
	return gopter.CombineGens(gen.AlphaString(), gen.AlphaString()).Map(func(vals []interface{}) Step {
		return Step{
			ID:          "step-" + vals[0].(string),
			Description: vals[1].(string),
			BatchIndex:  batchIndex,
		}
	})
}

func genPlan() gopter.Gen {
	return gen.IntRange(1, 5).FlatMap(func(n any) gopter.Gen {
		count := n.(int)
		return gopter.CombineGens(
			gen.AlphaString(),
			gen.IntRange(1, 20),
			genUnixTime(),
		).Map(func(vals []interface{}) Plan {
			steps := make([]Step, count)
			stepIDs := make([]string, count)
			for i := 0; i < count; i++ {
				s := Step{ID: vals[0].(string) + "-" + string(rune('a'+i)), Description: "do it", BatchIndex: 0}
				steps[i] = s
				stepIDs[i] = s.ID
			}
			return Plan{
				SpecID:    vals[0].(string),
				Steps:     steps,
				Batches:   []Batch{{Index: 0, StepIDs: stepIDs}},
				Revision:  vals[1].(int),
				CreatedAt: vals[2].(time.Time),
			}
		})
	})
}

// plansEqual compares two Plans for value equality, using time.Time.Equal
// for CreatedAt since JSON round-tripping can change a time.Time's internal
// representation (monotonic reading, wall/ext encoding) without changing the
// instant it denotes.
func plansEqual(a, b Plan) bool {
	if a.SpecID != b.SpecID || a.Revision != b.Revision || !a.CreatedAt.Equal(b.CreatedAt) {
		return false
	}
	if len(a.Steps) != len(b.Steps) || len(a.Batches) != len(b.Batches) {
		return false
	}
	for i := range a.Steps {
		if a.Steps[i].ID != b.Steps[i].ID ||
			a.Steps[i].Description != b.Steps[i].Description ||
			a.Steps[i].BatchIndex != b.Steps[i].BatchIndex {
			return false
		}
	}
	for i := range a.Batches {
		if a.Batches[i].Index != b.Batches[i].Index || len(a.Batches[i].StepIDs) != len(b.Batches[i].StepIDs) {
			return false
		}
		for j := range a.Batches[i].StepIDs {
			if a.Batches[i].StepIDs[j] != b.Batches[i].StepIDs[j] {
				return false
			}
		}
	}
	return true
}

// TestPlanJSONRoundTrip verifies spec §8's P9 for Plan.
func TestPlanJSONRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Plan survives a JSON round trip", prop.ForAll(
		func(p Plan) bool {
			data, err := json.Marshal(p)
			if err != nil {
				return false
			}
			var got Plan
			if err := json.Unmarshal(data, &got); err != nil {
				return false
			}
			return plansEqual(p, got)
		},
		genPlan(),
	))

	properties.TestingRun(t)
}

func genJob() gopter.Gen {
	return gopter.CombineGens(gen.AlphaString(), genPlan(), genMetrics(), genUnixTime()).Map(func(vals []interface{}) Job {
		plan := vals[1].(Plan)
		return Job{
			ID:        vals[0].(string),
			Spec:      Spec{ID: plan.SpecID, Goal: "round trip the job"},
			Config:    JobConfig{Optimize: OptimizeBalance, MaxAttempts: 3, ReplanAfter: 1, MaxParallelSteps: 2},
			State:     RunState{Phase: JobSucceeded, AttemptCount: 1},
			Metrics:   vals[2].(Metrics),
			CreatedAt: vals[3].(time.Time),
			UpdatedAt: vals[3].(time.Time),
		}
	})
}

// TestJobJSONRoundTrip verifies spec §8's P9 for Job.
func TestJobJSONRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("Job survives a JSON round trip", prop.ForAll(
		func(j Job) bool {
			data, err := json.Marshal(j)
			if err != nil {
				return false
			}
			var got Job
			if err := json.Unmarshal(data, &got); err != nil {
				return false
			}
			if got.ID != j.ID || got.Spec.ID != j.Spec.ID || got.Config != j.Config {
				return false
			}
			if got.State.Phase != j.State.Phase || got.State.AttemptCount != j.State.AttemptCount {
				return false
			}
			if got.Metrics.JobID != j.Metrics.JobID || got.Metrics.CostUSD != j.Metrics.CostUSD {
				return false
			}
			return got.CreatedAt.Equal(j.CreatedAt) && got.UpdatedAt.Equal(j.UpdatedAt)
		},
		genJob(),
	))

	properties.TestingRun(t)
}
