package policy

import (
	"container/list"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"
)

// decisionQuery is the rego document every policy bundle must define.
const decisionQuery = "data.compass.research.decision"

// Engine decides whether a research workflow may start and under what
// iteration ceiling.
type Engine interface {
	Evaluate(ctx context.Context, input *PolicyInput) (*Decision, error)
	LoadPolicies() error
	IsEnabled() bool
	// Environment returns the configured environment (dev|staging|prod).
	Environment() string
	// Mode returns the global enforcement mode (off|dry-run|enforce).
	Mode() Mode
}

// PolicyInput is the admission context for one query.
type PolicyInput struct {
	SessionID string `json:"session_id"`
	TenantID  string `json:"tenant_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`

	// Query details.
	Query     string `json:"query"`
	QueryType string `json:"query_type"` // none, verification, research
	Entity    string `json:"entity,omitempty"`

	// Tenant plan drives per-plan iteration ceilings.
	TenantPlan string `json:"tenant_plan,omitempty"`

	// RequestedIterations is the caller's asked-for loop bound, 0 when the
	// caller left it to the service default.
	RequestedIterations int `json:"requested_iterations,omitempty"`

	Environment string    `json:"environment"`
	Timestamp   time.Time `json:"timestamp"`
}

// Decision is the admission outcome.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`

	// MaxIterations caps the research loop for this query. Zero means no
	// policy ceiling; the service default applies.
	MaxIterations int `json:"max_iterations,omitempty"`

	// Audit.
	PolicyVersion string            `json:"policy_version,omitempty"`
	AuditTags     map[string]string `json:"audit_tags,omitempty"`
}

// OPAEngine evaluates rego policies compiled at load time.
type OPAEngine struct {
	config   *Config
	logger   *zap.Logger
	compiled *rego.PreparedEvalQuery
	version  string
	enabled  bool
	cache    *decisionCache
}

// NewOPAEngine creates the engine and loads policies from the configured
// directory. In fail-open mode a load failure degrades to a disabled
// engine instead of an error.
func NewOPAEngine(config *Config, logger *zap.Logger) (*OPAEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	engine := &OPAEngine{
		config:  config,
		logger:  logger,
		enabled: config.Enabled && config.Mode != ModeOff,
		cache:   newDecisionCache(1000, 5*time.Minute),
	}

	if engine.enabled {
		if err := engine.LoadPolicies(); err != nil {
			if config.FailClosed {
				return nil, fmt.Errorf("failed to load policies in fail-closed mode: %w", err)
			}
			logger.Warn("Failed to load policies, running in fail-open mode", zap.Error(err))
			engine.enabled = false
		}
	}

	return engine, nil
}

// LoadPolicies reads and compiles every .rego file under the configured
// directory. Safe to call again after a policy file changes.
func (e *OPAEngine) LoadPolicies() error {
	if !e.config.Enabled {
		return nil
	}

	policies := make(map[string]string)
	err := filepath.Walk(e.config.Path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".rego") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read policy file %s: %w", path, err)
		}
		relPath, _ := filepath.Rel(e.config.Path, path)
		moduleName := strings.TrimSuffix(relPath, ".rego")
		policies[moduleName] = string(content)
		e.logger.Debug("Loaded policy file",
			zap.String("path", path),
			zap.String("module", moduleName),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk policy directory: %w", err)
	}

	if len(policies) == 0 {
		e.logger.Warn("No policy files found", zap.String("path", e.config.Path))
		if e.config.FailClosed {
			return fmt.Errorf("no policies found in fail-closed mode")
		}
		return nil
	}

	regoOptions := []func(*rego.Rego){rego.Query(decisionQuery)}
	for moduleName, content := range policies {
		regoOptions = append(regoOptions, rego.Module(moduleName, content))
	}

	compiled, err := rego.New(regoOptions...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to compile policies: %w", err)
	}

	e.compiled = &compiled
	e.version = policyVersion(policies)

	e.logger.Info("Policies loaded",
		zap.Int("policy_count", len(policies)),
		zap.String("decision_query", decisionQuery),
		zap.String("version", e.version),
	)
	recordPolicyLoad(e.config.Path, len(policies), e.version)
	return nil
}

// Evaluate runs the admission decision for one query. A disabled engine
// returns the fail-open or fail-closed default without touching OPA.
func (e *OPAEngine) Evaluate(ctx context.Context, input *PolicyInput) (*Decision, error) {
	startTime := time.Now()

	defaultDecision := &Decision{
		Allow:  !e.config.FailClosed,
		Reason: "policy engine disabled or no policies loaded",
		AuditTags: map[string]string{
			"policy_enabled": fmt.Sprintf("%t", e.enabled),
			"mode":           string(e.config.Mode),
		},
	}

	if !e.enabled || e.compiled == nil {
		e.logger.Debug("Policy evaluation skipped",
			zap.Bool("enabled", e.enabled),
			zap.Bool("compiled", e.compiled != nil),
		)
		return defaultDecision, nil
	}

	if d, ok := e.cache.Get(input); ok {
		recordCacheHit(string(e.config.Mode))
		return d, nil
	}
	recordCacheMiss(string(e.config.Mode))

	inputMap, err := e.inputToMap(input)
	if err != nil {
		e.logger.Error("Failed to convert policy input", zap.Error(err))
		recordError("input_conversion", string(e.config.Mode))
		if e.config.FailClosed {
			return &Decision{Allow: false, Reason: "input conversion failed"}, err
		}
		return defaultDecision, nil
	}

	results, err := e.compiled.Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		e.logger.Error("Policy evaluation failed", zap.Error(err))
		recordError("policy_evaluation", string(e.config.Mode))
		if e.config.FailClosed {
			return &Decision{Allow: false, Reason: "policy evaluation error"}, err
		}
		return defaultDecision, nil
	}

	decision := e.parseResults(results, input)
	original := *decision

	effectiveMode := e.effectiveMode(input)
	decision = e.applyMode(decision, effectiveMode, input)

	duration := time.Since(startTime)
	e.recordOutcome(&original, decision, effectiveMode, duration)

	e.logger.Debug("Policy evaluated",
		zap.Bool("allow", decision.Allow),
		zap.String("reason", decision.Reason),
		zap.Int("max_iterations", decision.MaxIterations),
		zap.Duration("duration", duration),
		zap.String("session_id", input.SessionID),
		zap.String("tenant_id", input.TenantID),
		zap.String("effective_mode", string(effectiveMode)),
	)

	e.cache.Set(input, decision)
	return decision, nil
}

// IsEnabled reports whether the engine is enabled and has compiled policies.
func (e *OPAEngine) IsEnabled() bool {
	return e.enabled && e.compiled != nil
}

// Environment returns the configured environment.
func (e *OPAEngine) Environment() string { return e.config.Environment }

// Mode returns the global enforcement mode.
func (e *OPAEngine) Mode() Mode { return e.config.Mode }

// Version returns the hash of the loaded policy bundle, empty before the
// first successful load.
func (e *OPAEngine) Version() string { return e.version }

func (e *OPAEngine) inputToMap(input *PolicyInput) (map[string]interface{}, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// parseResults maps the rego result set to a Decision. Missing or
// malformed documents yield a default deny so a broken policy never
// silently admits.
func (e *OPAEngine) parseResults(results rego.ResultSet, input *PolicyInput) *Decision {
	decision := &Decision{
		Allow:         false,
		Reason:        "no matching policy rules",
		PolicyVersion: e.version,
		AuditTags: map[string]string{
			"session_id": input.SessionID,
			"tenant_id":  input.TenantID,
			"query_type": input.QueryType,
		},
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		e.logger.Debug("No policy results returned")
		return decision
	}

	value := results[0].Expressions[0].Value
	if valueMap, ok := value.(map[string]interface{}); ok {
		if allow, ok := valueMap["allow"].(bool); ok {
			decision.Allow = allow
		}
		if reason, ok := valueMap["reason"].(string); ok {
			decision.Reason = reason
		}
		// rego numbers arrive as json.Number or float64 depending on the
		// evaluation path.
		switch n := valueMap["max_iterations"].(type) {
		case json.Number:
			if v, err := n.Int64(); err == nil {
				decision.MaxIterations = int(v)
			}
		case float64:
			decision.MaxIterations = int(n)
		case int:
			decision.MaxIterations = n
		}
	} else if allow, ok := value.(bool); ok {
		decision.Allow = allow
		if allow {
			decision.Reason = "allowed by policy"
		} else {
			decision.Reason = "denied by policy"
		}
	}

	return decision
}

// effectiveMode resolves the enforcement mode for one request. The kill
// switch beats everything; tenant overrides beat the global mode.
func (e *OPAEngine) effectiveMode(input *PolicyInput) Mode {
	if e.config.KillSwitch {
		e.logger.Debug("Kill switch active, forcing dry-run",
			zap.String("tenant_id", input.TenantID),
		)
		return ModeDryRun
	}
	for _, tenant := range e.config.Overrides.DryRunTenants {
		if input.TenantID == tenant {
			return ModeDryRun
		}
	}
	for _, tenant := range e.config.Overrides.EnforceTenants {
		if input.TenantID == tenant {
			return ModeEnforce
		}
	}
	return e.config.Mode
}

// applyMode turns the raw policy outcome into the answer callers act on.
// Dry-run admits everything and lifts the iteration ceiling; the original
// outcome rides along in the reason and audit tags.
func (e *OPAEngine) applyMode(decision *Decision, effectiveMode Mode, input *PolicyInput) *Decision {
	if decision.AuditTags == nil {
		decision.AuditTags = make(map[string]string)
	}
	decision.AuditTags["effective_mode"] = string(effectiveMode)
	decision.AuditTags["configured_mode"] = string(e.config.Mode)

	switch effectiveMode {
	case ModeEnforce:
		return decision

	case ModeDryRun:
		original := *decision
		decision.Allow = true
		decision.MaxIterations = 0
		if !original.Allow {
			decision.Reason = fmt.Sprintf("DRY-RUN: would have been denied - %s", original.Reason)
		} else {
			decision.Reason = fmt.Sprintf("DRY-RUN: would have been allowed - %s", original.Reason)
		}
		if original.MaxIterations > 0 {
			decision.AuditTags["would_cap_iterations"] = fmt.Sprintf("%d", original.MaxIterations)
		}
		e.logger.Info("Dry-run policy evaluation",
			zap.Bool("would_allow", original.Allow),
			zap.Int("would_cap_iterations", original.MaxIterations),
			zap.String("original_reason", original.Reason),
			zap.String("tenant_id", input.TenantID),
			zap.String("session_id", input.SessionID),
		)
		return decision

	case ModeOff:
		decision.Allow = !e.config.FailClosed
		decision.Reason = "policy engine disabled"
		return decision

	default:
		e.logger.Warn("Unknown effective mode, defaulting to allow",
			zap.String("mode", string(effectiveMode)),
		)
		decision.Allow = true
		decision.Reason = fmt.Sprintf("unknown mode %s, defaulting to allow", effectiveMode)
		return decision
	}
}

func (e *OPAEngine) recordOutcome(original, final *Decision, effectiveMode Mode, duration time.Duration) {
	decisionLabel := "allow"
	if !final.Allow {
		decisionLabel = "deny"
	}
	recordEvaluation(decisionLabel, string(effectiveMode))
	recordEvaluationDuration(string(effectiveMode), duration.Seconds())

	if !final.Allow {
		recordDenyReason(final.Reason, string(effectiveMode))
	}
	if final.Allow && final.MaxIterations > 0 {
		recordIterationCap(string(effectiveMode))
	}
	if effectiveMode == ModeDryRun && !original.Allow {
		recordDryRunDivergence("would_deny")
	}

	if e.cache != nil {
		e.cache.mu.Lock()
		size := e.cache.list.Len()
		e.cache.mu.Unlock()
		recordCacheSize(size)
	}
}

// policyVersion hashes the bundle content so deploys are distinguishable
// in logs and metrics.
func policyVersion(policies map[string]string) string {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)

	h := md5.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte(policies[name]))
	}
	return fmt.Sprintf("%x", h.Sum(nil)[:4])
}

// --- decision cache: small LRU with TTL ---

// Keys cover the fields policies actually branch on plus a hash of the
// query text, so distinct queries from one tenant do not collide.

type decisionCache struct {
	cap    int
	ttl    time.Duration
	mu     sync.Mutex
	list   *list.List               // MRU at front
	m      map[string]*list.Element // key -> element
	hits   int64
	misses int64
}

type cacheEntry struct {
	key       string
	expiresAt time.Time
	decision  *Decision
}

func newDecisionCache(cap int, ttl time.Duration) *decisionCache {
	if cap <= 0 {
		cap = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &decisionCache{
		cap:  cap,
		ttl:  ttl,
		list: list.New(),
		m:    make(map[string]*list.Element),
	}
}

func (c *decisionCache) makeKey(input *PolicyInput) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(input.Query)))
	qh := h.Sum64()
	return fmt.Sprintf("%s|%s|%s|%s|%d|%x",
		input.Environment, input.QueryType, input.TenantID, input.TenantPlan, input.RequestedIterations, qh,
	)
}

func (c *decisionCache) Get(input *PolicyInput) (*Decision, bool) {
	key := c.makeKey(input)
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[key]; ok {
		ce := el.Value.(cacheEntry)
		if ce.expiresAt.After(now) {
			c.list.MoveToFront(el)
			atomic.AddInt64(&c.hits, 1)
			return ce.decision, true
		}
		c.list.Remove(el)
		delete(c.m, key)
	}
	atomic.AddInt64(&c.misses, 1)
	return nil, false
}

func (c *decisionCache) Set(input *PolicyInput, d *Decision) {
	key := c.makeKey(input)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[key]; ok {
		el.Value = cacheEntry{key: key, expiresAt: time.Now().Add(c.ttl), decision: d}
		c.list.MoveToFront(el)
		return
	}
	el := c.list.PushFront(cacheEntry{key: key, expiresAt: time.Now().Add(c.ttl), decision: d})
	c.m[key] = el
	if c.list.Len() > c.cap {
		if lru := c.list.Back(); lru != nil {
			ce := lru.Value.(cacheEntry)
			delete(c.m, ce.key)
			c.list.Remove(lru)
		}
	}
}

// Stats returns cumulative cache hit and miss counts.
func (c *decisionCache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}
