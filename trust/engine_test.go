package trust

import (
	"math"
	"os"
	"testing"

	"trustcore/storage"
)

func closeEnough(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func newTestEngine(now *int64) *Engine {
	return NewEngine(storage.NewMemoryKV(), func() int64 { return *now })
}

func TestQueryOnUnknownRecordReturnsNil(t *testing.T) {
	now := int64(0)
	e := newTestEngine(&now)
	result, err := e.Query("agent:claude", "reviewer")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if result.Record != nil || result.Aggregate != nil {
		t.Fatalf("expected nil record/aggregate for unknown entity, got %+v", result)
	}
}

func TestUpdateSuccessRaisesAffectedDimensions(t *testing.T) {
	now := int64(0)
	e := newTestEngine(&now)
	result, err := e.Update("agent:claude", "reviewer", "code-review", OutcomeSuccess, []Dimension{DimTalent, DimTraining}, 0.1)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !closeEnough(result.NewT3.Talent, 0.6) || !closeEnough(result.NewT3.Training, 0.6) {
		t.Fatalf("expected talent/training to rise to 0.6, got %+v", result.NewT3)
	}
	if !closeEnough(result.NewT3.Temperament, 0.5) {
		t.Fatalf("expected unaffected dimension to stay neutral, got %v", result.NewT3.Temperament)
	}
}

func TestUpdateFailureLowersAffectedDimension(t *testing.T) {
	now := int64(0)
	e := newTestEngine(&now)
	if _, err := e.Update("agent:claude", "reviewer", "code-review", OutcomeSuccess, []Dimension{DimTalent, DimTraining}, 0.1); err != nil {
		t.Fatalf("update: %v", err)
	}
	result, err := e.Update("agent:claude", "reviewer", "bad-review", OutcomeFailure, []Dimension{DimTraining}, 0.1)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !closeEnough(result.NewT3.Training, 0.5) {
		t.Fatalf("expected training to fall back to 0.5, got %v", result.NewT3.Training)
	}
	if !closeEnough(result.NewT3.Talent, 0.6) {
		t.Fatalf("expected talent to remain 0.6, got %v", result.NewT3.Talent)
	}
}

func TestUpdateMirrorsRoleSnapshotWhenRootIsSet(t *testing.T) {
	now := int64(0)
	e := newTestEngine(&now)
	root, err := storage.OpenRoot(t.TempDir())
	if err != nil {
		t.Fatalf("open root: %v", err)
	}
	e.SetRoot(root)

	if _, err := e.Update("agent:claude", "reviewer", "code-review", OutcomeSuccess, []Dimension{DimTalent}, 0.1); err != nil {
		t.Fatalf("update: %v", err)
	}
	path := root.RolePath(roleFileID("agent:claude", "reviewer"))
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected role snapshot to exist at %s: %v", path, err)
	}
}

func TestUpdateVelocityCanGoNegative(t *testing.T) {
	now := int64(0)
	e := newTestEngine(&now)
	if _, err := e.Update("agent:claude", "reviewer", "code-review", OutcomeSuccess, []Dimension{DimTalent}, 0.1); err != nil {
		t.Fatalf("update: %v", err)
	}
	result, err := e.Update("agent:claude", "reviewer", "bad-review", OutcomeFailure, []Dimension{DimTalent}, 0.5)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !closeEnough(result.NewDyn.Velocity.Talent, -0.129) {
		t.Fatalf("expected velocity -0.129, got %v", result.NewDyn.Velocity.Talent)
	}
}

func TestUpdateRejectsInvalidMagnitude(t *testing.T) {
	now := int64(0)
	e := newTestEngine(&now)
	if _, err := e.Update("a", "r", "act", OutcomeSuccess, []Dimension{DimTalent}, 0); err == nil {
		t.Fatalf("expected error for magnitude 0")
	}
	if _, err := e.Update("a", "r", "act", OutcomeSuccess, []Dimension{DimTalent}, 1.5); err == nil {
		t.Fatalf("expected error for magnitude > 1")
	}
}

func TestUpdateRejectsEmptyDimensions(t *testing.T) {
	now := int64(0)
	e := newTestEngine(&now)
	if _, err := e.Update("a", "r", "act", OutcomeSuccess, nil, 0.1); err == nil {
		t.Fatalf("expected error for empty affected dimensions")
	}
}

func TestDecayMovesHalfwayTowardNeutral(t *testing.T) {
	now := int64(0)
	e := newTestEngine(&now)
	if _, err := e.Update("agent:claude", "reviewer", "code-review", OutcomeSuccess, []Dimension{DimTalent}, 0.1); err != nil {
		t.Fatalf("update: %v", err)
	}
	now += 30 * dayMs
	result, err := e.Decay("agent:claude", "reviewer", 30)
	if err != nil {
		t.Fatalf("decay: %v", err)
	}
	if !closeEnough(result.NewT3.Talent, 0.55) {
		t.Fatalf("expected talent to decay to 0.55, got %v", result.NewT3.Talent)
	}
}

func TestDecayRejectsZeroHalfLife(t *testing.T) {
	now := int64(0)
	e := newTestEngine(&now)
	if _, err := e.Decay("agent:claude", "reviewer", 0); err == nil {
		t.Fatalf("expected error for half_life_days=0")
	}
}

func TestDecayNeverOvershootsNeutral(t *testing.T) {
	now := int64(0)
	e := newTestEngine(&now)
	if _, err := e.Update("a", "r", "act", OutcomeSuccess, []Dimension{DimTalent}, 0.1); err != nil {
		t.Fatalf("update: %v", err)
	}
	now += 365 * dayMs * 10
	result, err := e.Decay("a", "r", 30)
	if err != nil {
		t.Fatalf("decay: %v", err)
	}
	if !closeEnough(result.NewT3.Talent, 0.5) {
		t.Fatalf("expected long decay to approach 0.5, got %v", result.NewT3.Talent)
	}
}

func TestAggregateConsensusUsesMedian(t *testing.T) {
	now := int64(0)
	e := newTestEngine(&now)
	talents := []float64{0.2, 0.4, 0.5, 0.7, 0.9}
	var sources []AggregateSource
	for i, v := range talents {
		entity := string(rune('a' + i))
		r := neutralRecord(entity, "coder", now)
		r.T3.Talent = v
		if err := e.save(r); err != nil {
			t.Fatalf("save: %v", err)
		}
		sources = append(sources, AggregateSource{EntityID: entity, Role: "coder"})
	}
	result, err := e.Aggregate(sources, AggregateConsensus)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if !closeEnough(result.T3.Talent, 0.5) {
		t.Fatalf("expected consensus median talent 0.5, got %v", result.T3.Talent)
	}
	if result.SourceCount != 5 {
		t.Fatalf("expected source_count 5, got %d", result.SourceCount)
	}
}

func TestAggregateAllMissingReturnsNeutral(t *testing.T) {
	now := int64(0)
	e := newTestEngine(&now)
	result, err := e.Aggregate([]AggregateSource{{EntityID: "ghost", Role: "coder"}}, AggregateWeightedAverage)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if result.SourceCount != 0 {
		t.Fatalf("expected source_count 0 for all-missing sources, got %d", result.SourceCount)
	}
	if !closeEnough(result.T3.Talent, 0.5) {
		t.Fatalf("expected neutral tensor, got %+v", result.T3)
	}
}

func TestCompareReportsMoreReliable(t *testing.T) {
	now := int64(0)
	e := newTestEngine(&now)
	if _, err := e.Update("strong", "coder", "act", OutcomeSuccess, []Dimension{DimTalent}, 0.3); err != nil {
		t.Fatalf("update: %v", err)
	}
	result, err := e.Compare("strong", "coder", "weak", "coder")
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if result.MoreReliable == nil || *result.MoreReliable != "strong" {
		t.Fatalf("expected strong to be more reliable, got %+v", result.MoreReliable)
	}
}

func TestHistoryRecordsEachUpdate(t *testing.T) {
	now := int64(0)
	e := newTestEngine(&now)
	if _, err := e.Update("a", "r", "first", OutcomeSuccess, []Dimension{DimTalent}, 0.1); err != nil {
		t.Fatalf("update: %v", err)
	}
	now += 1000
	if _, err := e.Update("a", "r", "second", OutcomeFailure, []Dimension{DimTalent}, 0.1); err != nil {
		t.Fatalf("update: %v", err)
	}
	history, err := e.History("a", "r", 0, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0].Action != "first" || history[1].Action != "second" {
		t.Fatalf("unexpected history order: %+v", history)
	}
}

func TestParseDimensionsRejectsUnknown(t *testing.T) {
	if _, err := ParseDimensions([]string{"talent", "bogus"}); err == nil {
		t.Fatalf("expected error for unknown dimension")
	}
}
