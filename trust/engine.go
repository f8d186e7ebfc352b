package trust

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"trustcore/errkit"
	"trustcore/storage"
)

const (
	recordPrefix = "trust/record/"
	historyPrefix = "trust/history/"
)

func recordKey(entityID, role string) string { return recordPrefix + entityID + "/" + role }
func historyKey(entityID, role string) string { return historyPrefix + entityID + "/" + role }

// Engine owns every trust record, serializing updates per (entity, role)
// via a striped lock so concurrent outcome updates on distinct keys
// never block each other (SPEC_FULL.md §4.3, §5).
type Engine struct {
	kv      storage.KV
	weights ContextWeights
	root    *storage.Root

	lockMu sync.Mutex
	locks  map[Key]*sync.Mutex

	nowFn func() int64
}

// NewEngine constructs a trust engine backed by kv.
func NewEngine(kv storage.KV, now func() int64) *Engine {
	if now == nil {
		now = defaultNow
	}
	return &Engine{kv: kv, weights: DefaultContextWeights(), locks: make(map[Key]*sync.Mutex), nowFn: now}
}

// SetRoot attaches the on-disk root the engine mirrors per-role trust
// snapshots into (spec.md §6.2's governance/roles/{role_id}.json). A nil
// root — the default — disables mirroring.
func (e *Engine) SetRoot(root *storage.Root) { e.root = root }

// SetContextWeights overrides the dot-product weights used by Query and
// Aggregate's aggregate_score. Weights need not sum to exactly 1; callers
// that want a bounded aggregate score should normalize them.
func (e *Engine) SetContextWeights(w ContextWeights) { e.weights = w }

func (e *Engine) lockFor(k Key) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	l, ok := e.locks[k]
	if !ok {
		l = &sync.Mutex{}
		e.locks[k] = l
	}
	return l
}

func (e *Engine) load(entityID, role string) (Record, bool, error) {
	var r Record
	ok, err := e.kv.Get(recordKey(entityID, role), &r)
	if err != nil {
		return Record{}, false, err
	}
	return r, ok, nil
}

func (e *Engine) save(r Record) error {
	if err := e.kv.Put(recordKey(r.EntityID, r.Role), r); err != nil {
		return err
	}
	if e.root == nil {
		return nil
	}
	return storage.WriteJSONFile(e.root.RolePath(roleFileID(r.EntityID, r.Role)), r)
}

// roleFileID turns an (entity, role) pair into a filesystem-safe file
// stem: entity ids may be LCT URIs containing '/' and ':', which would
// otherwise be read as path separators or collide across roles.
func roleFileID(entityID, role string) string {
	safe := strings.NewReplacer("/", "_", ":", "_").Replace(entityID + "@" + role)
	return safe
}

func (e *Engine) appendHistory(entry HistoryEntry, entityID, role string) error {
	key := historyKey(entityID, role)
	var existing []HistoryEntry
	ok, err := e.kv.Get(key, &existing)
	if err != nil {
		return err
	}
	if !ok {
		existing = nil
	}
	existing = append(existing, entry)
	return e.kv.Put(key, existing)
}

// QueryResult is the return value of Engine.Query.
type QueryResult struct {
	Record    *Record  `json:"record,omitempty"`
	Aggregate *float64 `json:"aggregate,omitempty"`
}

// Query reads the current trust record without creating one.
func (e *Engine) Query(entityID, role string) (QueryResult, error) {
	r, ok, err := e.load(entityID, role)
	if err != nil {
		return QueryResult{}, err
	}
	if !ok {
		return QueryResult{}, nil
	}
	agg := e.weights.dot(r.T3)
	return QueryResult{Record: &r, Aggregate: &agg}, nil
}

// Update applies an outcome-driven delta to the named record, creating it
// lazily (neutral, 0.5 in every dimension) on first use.
func (e *Engine) Update(entityID, role, action string, outcome Outcome, affected []Dimension, magnitude float64) (UpdateResult, error) {
	if !outcome.valid() {
		return UpdateResult{}, errkit.New(errkit.InvalidInput, "invalid outcome: "+string(outcome))
	}
	if magnitude <= 0 || magnitude > 1 {
		return UpdateResult{}, errkit.New(errkit.InvalidInput, "magnitude must be in (0,1]")
	}
	if len(affected) == 0 {
		return UpdateResult{}, errkit.New(errkit.InvalidInput, "affected_dimensions must be non-empty")
	}

	key := Key{EntityID: entityID, Role: role}
	lock := e.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	now := e.nowFn()
	r, ok, err := e.load(entityID, role)
	if err != nil {
		return UpdateResult{}, err
	}
	if !ok {
		r = neutralRecord(entityID, role, now)
	}

	prevT3, prevDyn := r.T3, r.Dynamics
	direction := outcome.direction()

	for _, d := range affected {
		oldD := r.T3.get(d)
		oldVelocity := r.Dynamics.Velocity.get(d)
		newD := clamp(oldD + magnitude*direction)
		actualDelta := newD - oldD
		newVelocity := 0.7*oldVelocity + 0.3*actualDelta
		surprise := math.Abs(actualDelta - oldVelocity)
		newVolatility := clamp(0.8*r.Dynamics.Volatility.get(d) + 0.4*surprise)

		r.T3 = r.T3.with(d, newD)
		r.Dynamics.Velocity = r.Dynamics.Velocity.with(d, newVelocity)
		r.Dynamics.Volatility = r.Dynamics.Volatility.with(d, newVolatility)
	}

	r.UpdateCount++
	r.LastUpdated = now
	if err := e.save(r); err != nil {
		return UpdateResult{}, err
	}
	if err := e.appendHistory(HistoryEntry{TimestampMs: now, Action: action, Outcome: outcome, Snapshot: r.T3}, entityID, role); err != nil {
		return UpdateResult{}, err
	}

	return UpdateResult{PrevT3: prevT3, NewT3: r.T3, PrevDyn: prevDyn, NewDyn: r.Dynamics}, nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// History returns the record's update history in insertion order,
// optionally filtered to entries at or after sinceMs and capped to the
// last limit entries.
func (e *Engine) History(entityID, role string, limit int, sinceMs int64) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	ok, err := e.kv.Get(historyKey(entityID, role), &entries)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if sinceMs > 0 {
		filtered := entries[:0:0]
		for _, entry := range entries {
			if entry.TimestampMs >= sinceMs {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// Compare returns the per-dimension and aggregate difference between two
// (entity, role) trust records, e1 minus e2.
func (e *Engine) Compare(entity1, role1, entity2, role2 string) (CompareResult, error) {
	r1, ok1, err := e.load(entity1, role1)
	if err != nil {
		return CompareResult{}, err
	}
	if !ok1 {
		r1 = neutralRecord(entity1, role1, e.nowFn())
	}
	r2, ok2, err := e.load(entity2, role2)
	if err != nil {
		return CompareResult{}, err
	}
	if !ok2 {
		r2 = neutralRecord(entity2, role2, e.nowFn())
	}

	diff := T3{
		Talent:      r1.T3.Talent - r2.T3.Talent,
		Training:    r1.T3.Training - r2.T3.Training,
		Temperament: r1.T3.Temperament - r2.T3.Temperament,
	}
	aggDiff := e.weights.dot(r1.T3) - e.weights.dot(r2.T3)

	var moreReliable *string
	switch {
	case aggDiff > 0:
		moreReliable = &entity1
	case aggDiff < 0:
		moreReliable = &entity2
	}
	return CompareResult{Diff: diff, AggregateDiff: aggDiff, MoreReliable: moreReliable}, nil
}

// Aggregate combines the T3 tensors of sources by method, skipping any
// source with no existing record. If every source is missing, returns a
// neutral tensor with SourceCount 0.
func (e *Engine) Aggregate(sources []AggregateSource, method AggregateMethod) (AggregateResult, error) {
	var present []T3
	var weights []float64
	for _, src := range sources {
		r, ok, err := e.load(src.EntityID, src.Role)
		if err != nil {
			return AggregateResult{}, err
		}
		if !ok {
			continue
		}
		present = append(present, r.T3)
		w := src.Weight
		if w == 0 {
			w = 1
		}
		weights = append(weights, w)
	}
	if len(present) == 0 {
		t3 := neutralT3()
		return AggregateResult{T3: t3, AggregateScore: e.weights.dot(t3), SourceCount: 0}, nil
	}

	var t3 T3
	switch method {
	case AggregateWeightedAverage, "":
		t3 = weightedAverage(present, weights)
	case AggregateMinimum:
		t3 = elementwise(present, math.Min, math.Inf(1))
	case AggregateMaximum:
		t3 = elementwise(present, math.Max, math.Inf(-1))
	case AggregateConsensus:
		t3 = median(present)
	default:
		return AggregateResult{}, errkit.New(errkit.InvalidInput, "unknown aggregate method: "+string(method))
	}
	return AggregateResult{T3: t3, AggregateScore: e.weights.dot(t3), SourceCount: len(present)}, nil
}

func weightedAverage(values []T3, weights []float64) T3 {
	var sumW, talent, training, temperament float64
	for i, v := range values {
		w := weights[i]
		sumW += w
		talent += v.Talent * w
		training += v.Training * w
		temperament += v.Temperament * w
	}
	if sumW == 0 {
		return neutralT3()
	}
	return T3{Talent: talent / sumW, Training: training / sumW, Temperament: temperament / sumW}
}

func elementwise(values []T3, op func(a, b float64) float64, seed float64) T3 {
	acc := T3{Talent: seed, Training: seed, Temperament: seed}
	for _, v := range values {
		acc.Talent = op(acc.Talent, v.Talent)
		acc.Training = op(acc.Training, v.Training)
		acc.Temperament = op(acc.Temperament, v.Temperament)
	}
	return acc
}

func median(values []T3) T3 {
	return T3{
		Talent:      medianOf(extract(values, func(t T3) float64 { return t.Talent })),
		Training:    medianOf(extract(values, func(t T3) float64 { return t.Training })),
		Temperament: medianOf(extract(values, func(t T3) float64 { return t.Temperament })),
	}
}

func extract(values []T3, f func(T3) float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = f(v)
	}
	return out
}

func medianOf(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0.5
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Decay drifts every dimension of the named record toward neutral (0.5)
// by the elapsed half-lives since last_updated, then resets last_updated
// to now to prevent double-decay. halfLifeDays must be strictly positive.
func (e *Engine) Decay(entityID, role string, halfLifeDays float64) (DecayResult, error) {
	if halfLifeDays <= 0 {
		return DecayResult{}, errkit.New(errkit.InvalidInput, "half_life_days must be > 0")
	}

	key := Key{EntityID: entityID, Role: role}
	lock := e.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	now := e.nowFn()
	r, ok, err := e.load(entityID, role)
	if err != nil {
		return DecayResult{}, err
	}
	if !ok {
		r = neutralRecord(entityID, role, now)
		if err := e.save(r); err != nil {
			return DecayResult{}, err
		}
		return DecayResult{PrevT3: r.T3, NewT3: r.T3, DaysSinceUpdate: 0}, nil
	}

	daysSince := float64(now-r.LastUpdated) / float64(dayMs)
	if daysSince < 0 {
		daysSince = 0
	}
	factor := math.Pow(2, -daysSince/halfLifeDays)

	prevT3 := r.T3
	decayed := T3{
		Talent:      0.5 + (r.T3.Talent-0.5)*factor,
		Training:    0.5 + (r.T3.Training-0.5)*factor,
		Temperament: 0.5 + (r.T3.Temperament-0.5)*factor,
	}
	r.T3 = decayed
	r.LastUpdated = now
	if err := e.save(r); err != nil {
		return DecayResult{}, err
	}
	return DecayResult{PrevT3: prevT3, NewT3: decayed, DaysSinceUpdate: daysSince}, nil
}

const dayMs = int64(24 * 60 * 60 * 1000)

func defaultNow() int64 { return time.Now().UnixMilli() }

// ParseDimensions converts a list of dimension names, rejecting unknown
// ones rather than silently dropping them.
func ParseDimensions(names []string) ([]Dimension, error) {
	out := make([]Dimension, 0, len(names))
	for _, n := range names {
		d := Dimension(strings.ToLower(n))
		switch d {
		case DimTalent, DimTraining, DimTemperament:
			out = append(out, d)
		default:
			return nil, errkit.New(errkit.InvalidInput, "unknown dimension: "+n)
		}
	}
	return out, nil
}
