package authz

import (
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// snapshot is an immutable view of the active policies per organization,
// pre-sorted for evaluation. Readers load the pointer once per request;
// writers publish a whole new snapshot.
type snapshot struct {
	byOrg map[uuid.UUID][]Policy
}

// Engine evaluates requests against the current policy snapshot.
type Engine struct {
	current atomic.Pointer[snapshot]
}

// NewEngine starts with an empty snapshot.
func NewEngine() *Engine {
	e := &Engine{}
	e.current.Store(&snapshot{byOrg: map[uuid.UUID][]Policy{}})
	return e
}

// Publish replaces the snapshot with the given policies. Inactive policies
// are dropped; the rest are sorted by priority descending, ties broken by
// creation time ascending so older policies win within a band.
func (e *Engine) Publish(policies []Policy) {
	byOrg := make(map[uuid.UUID][]Policy)
	for _, p := range policies {
		if !p.IsActive {
			continue
		}
		byOrg[p.OrgID] = append(byOrg[p.OrgID], p)
	}
	for org := range byOrg {
		list := byOrg[org]
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Priority != list[j].Priority {
				return list[i].Priority > list[j].Priority
			}
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		})
		byOrg[org] = list
	}
	e.current.Store(&snapshot{byOrg: byOrg})
}

// Evaluate walks the org's policies in priority order and applies
// deny-override: any matched deny wins, otherwise a matched allow, otherwise
// deny by default.
func (e *Engine) Evaluate(req Request) Decision {
	snap := e.current.Load()
	var (
		matched []uuid.UUID
		denyBy  *uuid.UUID
		allowBy *uuid.UUID
	)
	for _, p := range snap.byOrg[req.OrgID] {
		if !policyMatches(p, req) {
			continue
		}
		id := p.ID
		matched = append(matched, id)
		switch p.Effect {
		case EffectDeny:
			if denyBy == nil {
				denyBy = &id
			}
		case EffectAllow:
			if allowBy == nil {
				allowBy = &id
			}
		}
	}
	if denyBy != nil {
		return Decision{Effect: EffectDeny, MatchedPolicyIDs: matched, DecidedBy: denyBy}
	}
	if allowBy != nil {
		return Decision{Effect: EffectAllow, MatchedPolicyIDs: matched, DecidedBy: allowBy}
	}
	return Decision{Effect: EffectDeny, MatchedPolicyIDs: matched}
}

func policyMatches(p Policy, req Request) bool {
	return matchSubject(p.Subject, req.Subject) &&
		matchAction(p.Action, req.Action) &&
		matchResource(p.Resource, req) &&
		matchEnvironment(p.Environment, req.Environment)
}

func matchSubject(c SubjectCondition, s Subject) bool {
	if len(c.UserIDs) > 0 && !containsUUID(c.UserIDs, s.UserID) {
		return false
	}
	if len(c.Roles) > 0 {
		found := false
		for _, want := range c.Roles {
			for _, have := range s.Roles {
				if want == have {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func matchAction(c ActionCondition, action string) bool {
	if len(c.Actions) == 0 {
		return true
	}
	for _, a := range c.Actions {
		if a == action || a == "*" {
			return true
		}
	}
	return false
}

func matchResource(c ResourceCondition, req Request) bool {
	r := req.Resource
	if len(c.Types) > 0 && !containsString(c.Types, r.Type) {
		return false
	}
	if len(c.AccountNumbers) > 0 && !containsString(c.AccountNumbers, r.AccountNumber) {
		return false
	}
	if len(c.NumberRanges) > 0 {
		inRange := false
		for _, nr := range c.NumberRanges {
			if r.AccountNumber >= nr.From && r.AccountNumber <= nr.To {
				inRange = true
				break
			}
		}
		if !inRange {
			return false
		}
	}
	if len(c.AccountTypes) > 0 && !containsString(c.AccountTypes, r.AccountType) {
		return false
	}
	if c.IsIntercompany != nil {
		if r.IsIntercompany == nil || *r.IsIntercompany != *c.IsIntercompany {
			return false
		}
	}
	if len(c.EntryTypes) > 0 && !containsString(c.EntryTypes, r.EntryType) {
		return false
	}
	if c.IsOwnEntry != nil {
		own := r.CreatedBy != uuid.Nil && r.CreatedBy == req.Subject.UserID
		if own != *c.IsOwnEntry {
			return false
		}
	}
	if len(c.PeriodStatuses) > 0 && !containsString(c.PeriodStatuses, r.PeriodStatus) {
		return false
	}
	return true
}

func matchEnvironment(c *EnvCondition, env Environment) bool {
	if c == nil {
		return true
	}
	if c.TimeStart != "" && c.TimeEnd != "" {
		minute := env.At.Hour()*60 + env.At.Minute()
		start, okS := parseClock(c.TimeStart)
		end, okE := parseClock(c.TimeEnd)
		if okS && okE {
			if start <= end {
				if minute < start || minute > end {
					return false
				}
			} else {
				// Window wraps past midnight.
				if minute < start && minute > end {
					return false
				}
			}
		}
	}
	if len(c.Days) > 0 && !containsString(c.Days, env.At.Weekday().String()[:3]) {
		return false
	}
	if env.IP != "" {
		addr, err := netip.ParseAddr(env.IP)
		if err == nil {
			if cidrListContains(c.DenyIPs, addr) {
				return false
			}
			if len(c.AllowIPs) > 0 && !cidrListContains(c.AllowIPs, addr) {
				return false
			}
		}
	}
	return true
}

// validate checks an environment condition can be evaluated.
func (c *EnvCondition) validate() error {
	if (c.TimeStart == "") != (c.TimeEnd == "") {
		return ErrInvalidEnv
	}
	if c.TimeStart != "" {
		if _, ok := parseClock(c.TimeStart); !ok {
			return ErrInvalidEnv
		}
		if _, ok := parseClock(c.TimeEnd); !ok {
			return ErrInvalidEnv
		}
	}
	for _, d := range c.Days {
		switch d {
		case "Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun":
		default:
			return ErrInvalidEnv
		}
	}
	for _, cidr := range append(append([]string{}, c.AllowIPs...), c.DenyIPs...) {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			return ErrInvalidEnv
		}
	}
	return nil
}

func parseClock(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func cidrListContains(cidrs []string, addr netip.Addr) bool {
	for _, c := range cidrs {
		prefix, err := netip.ParsePrefix(c)
		if err != nil {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsUUID(list []uuid.UUID, v uuid.UUID) bool {
	for _, id := range list {
		if id == v {
			return true
		}
	}
	return false
}
