package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"trustcore/crypto"
	"trustcore/errkit"
	"trustcore/policy"
	"trustcore/storage"
)

const (
	sessionPrefix    = "ledger/session/"
	recordPrefix     = "ledger/record/"
	policyPrefix     = "ledger/policy/"
	heartbeatPrefix  = "ledger/heartbeat/"
	referencePrefix  = "ledger/reference/"
	sessionSeqPrefix = "ledger/session-seq/"
)

func sessionKey(id string) string { return sessionPrefix + id }

func sessionSeqScope(project string) string { return sessionSeqPrefix + project }

func recordKey(sessionID string, actionIndex int64) string {
	return fmt.Sprintf("%s%s/%020d", recordPrefix, sessionID, actionIndex)
}

// Engine owns every session and its hash-chained records, serializing
// appends per session via a striped mutex map (SPEC_FULL.md §5).
type Engine struct {
	kv   storage.KV
	rate *RateLimiter
	root *storage.Root

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	nowFn func() int64
}

// NewEngine constructs a ledger backed by kv.
func NewEngine(kv storage.KV, rateLimiter *RateLimiter, now func() int64) *Engine {
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	if rateLimiter == nil {
		rateLimiter = NewRateLimiter(0, 0)
	}
	return &Engine{kv: kv, rate: rateLimiter, locks: make(map[string]*sync.Mutex), nowFn: now}
}

// SetRoot attaches the on-disk root the engine mirrors its hash-chained
// records, session snapshots, heartbeats, and reference records into
// (spec.md §6.2's JSONL/JSON layout, alongside the kv-backed store that
// remains authoritative). A nil root — the default — disables mirroring,
// which is what in-memory-only tests want.
func (e *Engine) SetRoot(root *storage.Root) { e.root = root }

func (e *Engine) lockFor(sessionID string) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	l, ok := e.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[sessionID] = l
	}
	return l
}

// OpenSession starts a new governed session anchored by a random seed
// hash mixed with the creation timestamp.
func (e *Engine) OpenSession(project string, actionBudget int64, initialPolicyEntityID string) (*Session, error) {
	if strings.TrimSpace(project) == "" {
		return nil, errkit.New(errkit.InvalidInput, "project is required")
	}
	if actionBudget <= 0 {
		actionBudget = 500
	}
	now := e.nowFn()
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errkit.Wrap(errkit.Crypto, "generate session nonce", err)
	}
	seedHash := crypto.ContentHashHex(append(nonce, []byte(fmt.Sprintf("%d", now))...))
	sessionID := "session:" + hex.EncodeToString(nonce)[:16]

	seq, err := e.kv.NextSequence(sessionSeqScope(project))
	if err != nil {
		return nil, errkit.Wrap(errkit.CorruptState, "allocate project session number", err)
	}

	s := &Session{
		SessionID:            sessionID,
		Project:              project,
		ProjectSeq:           seq,
		StartedAtMs:          now,
		SeedHash:             seedHash,
		ActionBudget:         actionBudget,
		ActivePolicyEntityID: initialPolicyEntityID,
		LastRecordHash:       seedHash,
	}
	if err := e.saveSession(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (e *Engine) loadSession(sessionID string) (*Session, bool, error) {
	var s Session
	ok, err := e.kv.Get(sessionKey(sessionID), &s)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &s, true, nil
}

func (e *Engine) saveSession(s *Session) error {
	if err := e.kv.Put(sessionKey(s.SessionID), s); err != nil {
		return err
	}
	if e.root == nil {
		return nil
	}
	if err := storage.WriteJSONFile(e.root.SessionJSONPath(s.SessionID), s); err != nil {
		return err
	}
	return storage.WriteJSONFile(e.root.GovernedSessionPath(s.SessionID), s)
}

// Append validates, hash-chains, and persists one R6 record for
// sessionID, enforcing the action budget and the clock-skew guard.
func (e *Engine) Append(sessionID string, input AppendInput) (*Record, error) {
	if strings.TrimSpace(input.ToolName) == "" {
		return nil, errkit.New(errkit.InvalidInput, "tool_name is required")
	}
	if strings.TrimSpace(input.Target) == "" {
		return nil, errkit.New(errkit.InvalidInput, "target is required")
	}

	lock := e.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	s, ok, err := e.loadSession(sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errkit.New(errkit.NotFound, "session not found: "+sessionID)
	}
	if s.Closed {
		return nil, errkit.New(errkit.InvalidInput, "session is closed: "+sessionID)
	}
	if s.ActionsTaken >= s.ActionBudget {
		input.Result.Status = StatusDenied
	}

	now := e.nowFn()
	if now <= s.LastTimestampMs {
		now = s.LastTimestampMs + 1
	}

	actionIndex := s.ActionsTaken + 1
	recordID := fmt.Sprintf("%s:%d", sessionID, actionIndex)
	rec := &Record{
		RecordID:    recordID,
		R6RequestID: input.R6RequestID,
		SessionID:   sessionID,
		ActionIndex: actionIndex,
		ToolName:    input.ToolName,
		Category:    input.Category,
		Target:      input.Target,
		Rules: Rules{
			PresetName:     input.PresetName,
			PolicyEntityID: input.PolicyEntityID,
			EnforceFlag:    input.EnforceFlag,
		},
		Role: input.Role,
		Reference: Reference{
			PrevRecordHash: s.LastRecordHash,
		},
		ResourceCost: input.ResourceCost,
		Result:       input.Result,
		TimestampMs:  now,
	}
	if actionIndex > 1 {
		prevRec, ok, err := e.loadRecord(sessionID, actionIndex-1)
		if err != nil {
			return nil, err
		}
		if ok {
			rec.Reference.PrevR6ID = prevRec.RecordID
		}
	}

	enc, err := crypto.CanonicalEncode(rec.signingFields())
	if err != nil {
		return nil, err
	}
	rec.ProvenanceHash = crypto.ContentHashHex(append(enc, []byte(rec.Reference.PrevRecordHash)...))

	if err := e.kv.Put(recordKey(sessionID, actionIndex), rec); err != nil {
		return nil, err
	}
	if err := e.mirrorRecord(rec); err != nil {
		return nil, err
	}
	s.ActionsTaken = actionIndex
	s.LastRecordHash = rec.ProvenanceHash
	s.LastTimestampMs = now
	if err := e.saveSession(s); err != nil {
		return nil, err
	}
	return rec, nil
}

// mirrorRecord appends rec to its session's audit log and the day's R6
// index, append-only JSONL write-through mirrors of the kv-backed record,
// which remains what every read uses.
func (e *Engine) mirrorRecord(rec *Record) error {
	if e.root == nil {
		return nil
	}
	if err := storage.AppendJSONL(e.root.AuditJSONLPath(rec.SessionID), rec); err != nil {
		return err
	}
	day := time.UnixMilli(rec.TimestampMs).UTC().Format("2006-01-02")
	return storage.AppendJSONL(e.root.R6IndexPath(day), rec)
}

func (e *Engine) loadRecord(sessionID string, actionIndex int64) (*Record, bool, error) {
	var r Record
	ok, err := e.kv.Get(recordKey(sessionID, actionIndex), &r)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &r, true, nil
}

// CloseSession marks sessionID closed; the chain remains verifiable.
func (e *Engine) CloseSession(sessionID string) error {
	lock := e.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()
	s, ok, err := e.loadSession(sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return errkit.New(errkit.NotFound, "session not found: "+sessionID)
	}
	s.Closed = true
	return e.saveSession(s)
}

// RateLimitCheck evaluates key's sliding window without recording.
func (e *Engine) RateLimitCheck(key string, maxCount int, windowMs int64) RateLimitResult {
	return e.rate.Check(key, maxCount, windowMs)
}

// RateLimitRecord evaluates and, if allowed, records key's use.
func (e *Engine) RateLimitRecord(key string, maxCount int, windowMs int64) RateLimitResult {
	return e.rate.Record(key, maxCount, windowMs)
}

// VerifyChain recomputes every record's provenance hash in order and
// checks action_index monotonicity, prev_record_hash linkage, and
// timestamp non-regression.
func (e *Engine) VerifyChain(sessionID string) (VerifyChainResult, error) {
	s, ok, err := e.loadSession(sessionID)
	if err != nil {
		return VerifyChainResult{}, err
	}
	if !ok {
		return VerifyChainResult{}, errkit.New(errkit.NotFound, "session not found: "+sessionID)
	}

	records, err := e.allRecords(sessionID)
	if err != nil {
		return VerifyChainResult{}, err
	}

	prevHash := s.SeedHash
	var prevTs int64
	for i, rec := range records {
		expectedIndex := int64(i + 1)
		if rec.ActionIndex != expectedIndex {
			idx := expectedIndex
			return VerifyChainResult{Valid: false, FirstBadIndex: &idx, Reason: "action_index out of order"}, nil
		}
		if rec.Reference.PrevRecordHash != prevHash {
			idx := rec.ActionIndex
			return VerifyChainResult{Valid: false, FirstBadIndex: &idx, Reason: "prev_record_hash mismatch"}, nil
		}
		if rec.TimestampMs < prevTs {
			idx := rec.ActionIndex
			return VerifyChainResult{Valid: false, FirstBadIndex: &idx, Reason: "timestamp regression"}, nil
		}
		enc, err := crypto.CanonicalEncode(rec.signingFields())
		if err != nil {
			return VerifyChainResult{}, err
		}
		expectedHash := crypto.ContentHashHex(append(enc, []byte(rec.Reference.PrevRecordHash)...))
		if expectedHash != rec.ProvenanceHash {
			idx := rec.ActionIndex
			return VerifyChainResult{Valid: false, FirstBadIndex: &idx, Reason: "provenance_hash mismatch"}, nil
		}
		prevHash = rec.ProvenanceHash
		prevTs = rec.TimestampMs
	}
	return VerifyChainResult{Valid: true}, nil
}

func (e *Engine) allRecords(sessionID string) ([]*Record, error) {
	keys, err := e.kv.Keys(recordPrefix + sessionID + "/")
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	records := make([]*Record, 0, len(keys))
	for _, key := range keys {
		var r Record
		ok, err := e.kv.Get(key, &r)
		if err != nil {
			return nil, err
		}
		if ok {
			cp := r
			records = append(records, &cp)
		}
	}
	return records, nil
}

// Query returns records matching filters, across all sessions when
// filters.SessionID is empty, sorted by record key for determinism.
func (e *Engine) Query(filters QueryFilters) ([]*Record, error) {
	prefix := recordPrefix
	if filters.SessionID != "" {
		prefix = recordPrefix + filters.SessionID + "/"
	}
	keys, err := e.kv.Keys(prefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	var out []*Record
	for _, key := range keys {
		var r Record
		ok, err := e.kv.Get(key, &r)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if filters.ToolName != "" && r.ToolName != filters.ToolName {
			continue
		}
		if filters.Category != "" && r.Category != filters.Category {
			continue
		}
		if filters.Status != "" && r.Result.Status != filters.Status {
			continue
		}
		if filters.Target != "" && !strings.Contains(r.Target, filters.Target) {
			continue
		}
		if filters.SinceMs > 0 && r.TimestampMs < filters.SinceMs {
			continue
		}
		cp := r
		out = append(out, &cp)
		if filters.Limit > 0 && len(out) >= filters.Limit {
			break
		}
	}
	return out, nil
}

// Stats aggregates counts and duration percentiles, optionally scoped to
// one session.
func (e *Engine) Stats(sessionID string) (Stats, error) {
	records, err := e.Query(QueryFilters{SessionID: sessionID})
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{ByTool: map[string]int{}, ByCategory: map[string]int{}, ByStatus: map[string]int{}}
	var durations []int64
	for _, r := range records {
		stats.TotalRecords++
		stats.ByTool[r.ToolName]++
		stats.ByCategory[r.Category]++
		stats.ByStatus[string(r.Result.Status)]++
		durations = append(durations, r.Result.DurationMs)
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	stats.DurationP50Ms = percentile(durations, 0.50)
	stats.DurationP95Ms = percentile(durations, 0.95)
	stats.DurationP99Ms = percentile(durations, 0.99)
	return stats, nil
}

func percentile(sorted []int64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return float64(sorted[idx])
}

// BuildReport derives a structured report from records; it never mutates
// any stored state.
func BuildReport(records []*Record) Report {
	report := Report{
		CategoryCounts: map[string]int{},
		PolicyStats:    map[string]int{},
	}

	type toolAgg struct {
		count, successes int
		totalDurationMs  int64
	}
	toolAggs := map[string]*toolAgg{}
	errorCounts := map[string]int{}
	timeline := map[int64]int{}

	for _, r := range records {
		report.CategoryCounts[r.Category]++
		if r.Rules.PresetName != "" {
			report.PolicyStats[r.Rules.PresetName]++
		}

		agg, ok := toolAggs[r.ToolName]
		if !ok {
			agg = &toolAgg{}
			toolAggs[r.ToolName] = agg
		}
		agg.count++
		agg.totalDurationMs += r.Result.DurationMs
		if r.Result.Status == StatusSuccess {
			agg.successes++
		}
		if r.Result.Status == StatusError || r.Result.Status == StatusDenied {
			errorCounts[r.Target]++
		}

		minuteMs := (r.TimestampMs / 60000) * 60000
		timeline[minuteMs]++
	}

	toolNames := make([]string, 0, len(toolAggs))
	for name := range toolAggs {
		toolNames = append(toolNames, name)
	}
	sort.Strings(toolNames)
	for _, name := range toolNames {
		agg := toolAggs[name]
		successRate := 0.0
		avgDuration := 0.0
		if agg.count > 0 {
			successRate = float64(agg.successes) / float64(agg.count)
			avgDuration = float64(agg.totalDurationMs) / float64(agg.count)
		}
		report.ToolStats = append(report.ToolStats, ToolStat{
			Tool: name, Count: agg.count, SuccessRate: successRate, AvgDurationMs: avgDuration,
		})
	}

	var errorTargets []string
	for target := range errorCounts {
		errorTargets = append(errorTargets, target)
	}
	sort.Slice(errorTargets, func(i, j int) bool {
		if errorCounts[errorTargets[i]] != errorCounts[errorTargets[j]] {
			return errorCounts[errorTargets[i]] > errorCounts[errorTargets[j]]
		}
		return errorTargets[i] < errorTargets[j]
	})
	const topK = 10
	for i, target := range errorTargets {
		if i >= topK {
			break
		}
		report.TopErrors = append(report.TopErrors, ErrorStat{Target: target, Count: errorCounts[target]})
	}

	var minutes []int64
	for m := range timeline {
		minutes = append(minutes, m)
	}
	sort.Slice(minutes, func(i, j int) bool { return minutes[i] < minutes[j] })
	for _, m := range minutes {
		report.Timeline = append(report.Timeline, TimelineBucket{MinuteMs: m, Count: timeline[m]})
	}

	return report
}

// RegisterPolicy content-hashes a preset or custom rule set into an
// immutable policy entity and persists it. Policy entities are owned
// conceptually by the policy engine; the ledger stores them because
// register_policy is invoked as a ledger operation (SPEC_FULL.md §4.4).
func (e *Engine) RegisterPolicy(name string, preset policy.Preset, ruleSet *policy.RuleSet, enforceFlag bool, version int) (*policy.Entity, error) {
	var entity *policy.Entity
	var err error
	if ruleSet != nil {
		entity, err = policy.NewCustomEntity(name, *ruleSet, enforceFlag, version, e.nowFn())
	} else {
		entity, err = policy.NewPresetEntity(name, preset, version, e.nowFn())
	}
	if err != nil {
		return nil, err
	}
	if err := e.kv.Put(policyPrefix+entity.EntityID, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

// LoadPolicy retrieves a previously registered policy entity.
func (e *Engine) LoadPolicy(entityID string) (*policy.Entity, bool, error) {
	var entity policy.Entity
	ok, err := e.kv.Get(policyPrefix+entityID, &entity)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &entity, true, nil
}

// Witness records a witness link between a policy entity and a subject
// (a session or a decision), in either direction named by kind.
func (e *Engine) Witness(policyEntityID, subject, kind, decision string, success *bool) (*PolicyWitnessLink, error) {
	if _, ok, err := e.LoadPolicy(policyEntityID); err != nil {
		return nil, err
	} else if !ok {
		return nil, errkit.New(errkit.NotFound, "policy entity not found: "+policyEntityID)
	}
	now := e.nowFn()
	link := &PolicyWitnessLink{
		ID:             fmt.Sprintf("witness:%s:%s:%d", policyEntityID, subject, now),
		PolicyEntityID: policyEntityID,
		Subject:        subject,
		Kind:           kind,
		Decision:       decision,
		Success:        success,
		TimestampMs:    now,
	}
	key := fmt.Sprintf("ledger/policy_witness/%s/%020d", policyEntityID, now)
	if err := e.kv.Put(key, link); err != nil {
		return nil, err
	}
	return link, nil
}

// Heartbeat records a timing-coherence ping for sessionID.
func (e *Engine) Heartbeat(sessionID string, sequence int64, jitterMs int64) (*Heartbeat, error) {
	hb := &Heartbeat{SessionID: sessionID, Sequence: sequence, TimestampMs: e.nowFn(), JitterMs: jitterMs}
	key := fmt.Sprintf("%s%s/%020d", heartbeatPrefix, sessionID, sequence)
	if err := e.kv.Put(key, hb); err != nil {
		return nil, err
	}
	if e.root != nil {
		if err := storage.AppendJSONL(e.root.HeartbeatPath(sessionID), hb); err != nil {
			return nil, err
		}
	}
	return hb, nil
}

// RecordReference persists a durable annotation attached to a session or
// LCT.
func (e *Engine) RecordReference(refID, sessionID, subjectLCT, note string) (*ReferenceRecord, error) {
	if refID == "" {
		refID = fmt.Sprintf("ref:%d", e.nowFn())
	}
	ref := &ReferenceRecord{RefID: refID, SessionID: sessionID, SubjectLCT: subjectLCT, Note: note, CreatedAtMs: e.nowFn()}
	if err := e.kv.Put(referencePrefix+refID, ref); err != nil {
		return nil, err
	}
	if e.root != nil {
		if err := storage.WriteJSONFile(e.root.ReferencePath(refID), ref); err != nil {
			return nil, err
		}
	}
	return ref, nil
}
