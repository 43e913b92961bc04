// Package integrity validates the desired-state entity graph before any
// reconciliation is attempted: referential integrity, membership-type
// rules, absence of membership cycles and bounded nesting depth. The
// whole graph is checked even after failures so operators get every
// violation in one run.
package integrity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gooddata/freeipa-manager-sub000/config"
	"github.com/gooddata/freeipa-manager-sub000/entities"
)

// Error is the aggregate integrity failure: every entity's violations,
// collected across the full pass.
type Error struct {
	// Violations maps entity identity to its error list.
	Violations map[string][]string
}

func (e *Error) Error() string {
	ids := make([]string, 0, len(e.Violations))
	for id := range e.Violations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	fmt.Fprintf(&b, "integrity check failed for %d entities:", len(ids))
	for _, id := range ids {
		for _, violation := range e.Violations[id] {
			fmt.Fprintf(&b, "\n%s: %s", id, violation)
		}
	}
	return b.String()
}

// Checker validates one loaded entity set. It holds no state across
// runs; the nesting memo lives only for one Check call.
type Checker struct {
	rules   *config.IntegrityRules
	set     map[entities.Kind]map[string]*entities.Entity
	nesting map[string]int
	walking map[string]bool
}

// NewChecker builds a checker over the desired-state entity set, keyed
// kind -> name -> entity.
func NewChecker(rules *config.IntegrityRules, set map[entities.Kind]map[string]*entities.Entity) *Checker {
	return &Checker{
		rules:   rules,
		set:     set,
		nesting: make(map[string]int),
		walking: make(map[string]bool),
	}
}

// Check validates every entity independently and returns an aggregate
// *Error when any entity failed. Per entity the categories run in
// order - type check, cycle check, nesting check - and stop at the
// first failing category; across entities nothing short-circuits.
func (c *Checker) Check() error {
	violations := make(map[string][]string)

	for _, kind := range entities.Kinds() {
		byName := c.set[kind]
		names := make([]string, 0, len(byName))
		for name := range byName {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			entity := byName[name]
			errs := c.typeCheck(entity)
			if len(errs) == 0 {
				errs = c.cycleCheck(entity)
			}
			if len(errs) == 0 {
				errs = c.nestingCheck(entity)
			}
			if len(errs) > 0 {
				violations[entity.ID()] = errs
			}
		}
	}

	if len(violations) == 0 {
		log.Debug().Msg("integrity check passed")
		return nil
	}
	return &Error{Violations: violations}
}

func (c *Checker) lookup(kind entities.Kind, name string) *entities.Entity {
	return c.set[kind][name]
}

// typeCheck validates referential integrity and membership-type rules
// for one entity.
func (c *Checker) typeCheck(entity *entities.Entity) []string {
	desc, _ := entities.Describe(entity.Kind)
	if desc.IsRule() {
		return c.checkRuleMembers(entity, desc)
	}
	return c.checkMemberOf(entity)
}

// checkRuleMembers validates a rule entity's direct member sets.
func (c *Checker) checkRuleMembers(entity *entities.Entity, desc *entities.Descriptor) []string {
	var errs []string
	for _, cat := range desc.RuleMembers {
		members := entity.RuleMembers[cat.Category]
		if cat.Required && len(members) == 0 {
			errs = append(errs, fmt.Sprintf("no %s assigned", cat.Category))
			continue
		}
		for _, name := range members {
			target := c.lookup(cat.MemberKind, name)
			if target == nil {
				errs = append(errs, fmt.Sprintf(
					"%s references non-existent %s %s", cat.Category, cat.MemberKind, name))
				continue
			}
			errs = append(errs, c.checkMemberConstraints(entity, cat, target)...)
		}
	}
	return errs
}

// checkMemberConstraints enforces the configured membership-type tokens
// for one rule member. Without explicit tokens, group members default
// to the meta constraint: a group holding users directly must not be a
// rule's direct member.
func (c *Checker) checkMemberConstraints(entity *entities.Entity, cat entities.RuleMember, target *entities.Entity) []string {
	pattern := c.rules.UserGroupPattern
	if pattern == nil {
		return nil
	}

	tokens := c.rules.MemberRules[entity.Kind][cat.Category]
	if len(tokens) == 0 && target.Kind == entities.KindGroup {
		tokens = []string{"meta"}
	}

	var errs []string
	for _, token := range tokens {
		switch token {
		case "meta":
			if pattern.MatchString(target.Name) {
				errs = append(errs, fmt.Sprintf(
					"%s %s is a user group and cannot be a direct member of %s",
					target.Kind, target.Name, entity.ID()))
			}
		case "nonmeta":
			if !pattern.MatchString(target.Name) {
				errs = append(errs, fmt.Sprintf(
					"%s %s is a meta group; %s requires a user group member",
					target.Kind, target.Name, entity.ID()))
			}
		case "member_of_meta":
			if !c.memberOfGroupMatching(target, false) {
				errs = append(errs, fmt.Sprintf(
					"%s %s is not a member of any meta group", target.Kind, target.Name))
			}
		case "member_of_nonmeta":
			if !c.memberOfGroupMatching(target, true) {
				errs = append(errs, fmt.Sprintf(
					"%s %s is not a member of any user group", target.Kind, target.Name))
			}
		}
	}
	return errs
}

// memberOfGroupMatching reports whether the entity is a member of at
// least one group whose user-group-pattern match equals wantMatch.
func (c *Checker) memberOfGroupMatching(entity *entities.Entity, wantMatch bool) bool {
	for _, name := range entity.MemberOf[entities.KindGroup] {
		if c.rules.UserGroupPattern.MatchString(name) == wantMatch {
			return true
		}
	}
	return false
}

// checkMemberOf validates a non-rule entity's memberOf relation: every
// target must exist, differ from the entity itself, and be a kind that
// structurally allows this entity as a member.
func (c *Checker) checkMemberOf(entity *entities.Entity) []string {
	var errs []string
	kinds := make([]entities.Kind, 0, len(entity.MemberOf))
	for kind := range entity.MemberOf {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	for _, targetKind := range kinds {
		targetDesc, _ := entities.Describe(targetKind)
		for _, name := range entity.MemberOf[targetKind] {
			target := c.lookup(targetKind, name)
			if target == nil {
				errs = append(errs, fmt.Sprintf(
					"memberOf references non-existent %s %s", targetKind, name))
				continue
			}
			if target.Same(entity) {
				errs = append(errs, fmt.Sprintf("%s cannot be a member of itself", entity.ID()))
				continue
			}
			if targetDesc == nil || !targetDesc.AllowsMember(entity.Kind) {
				allowed := "nothing"
				if targetDesc != nil && len(targetDesc.AllowedMemberKinds) > 0 {
					parts := make([]string, 0, len(targetDesc.AllowedMemberKinds))
					for _, k := range targetDesc.AllowedMemberKinds {
						parts = append(parts, string(k))
					}
					allowed = strings.Join(parts, ", ")
				}
				errs = append(errs, fmt.Sprintf(
					"%s %s cannot contain %s (allowed members: %s)",
					targetKind, name, entity.ID(), allowed))
			}
		}
	}
	return errs
}

// cycleCheck walks same-kind membership edges from the entity and
// reports the full path when the walk returns to its origin.
func (c *Checker) cycleCheck(entity *entities.Entity) []string {
	path := c.findCycle(entity, entity, nil, map[string]bool{entity.ID(): true})
	if path == nil {
		return nil
	}
	tokens := make([]string, 0, len(path)+1)
	tokens = append(tokens, entity.ID())
	for _, hop := range path {
		tokens = append(tokens, hop)
	}
	return []string{fmt.Sprintf("membership cycle detected: %s", strings.Join(tokens, " -> "))}
}

func (c *Checker) findCycle(origin, current *entities.Entity, path []string, visited map[string]bool) []string {
	for _, name := range current.SameKindMembers() {
		target := c.lookup(origin.Kind, name)
		if target == nil {
			continue
		}
		if target.Same(origin) {
			return append(path, target.ID())
		}
		if visited[target.ID()] {
			continue
		}
		visited[target.ID()] = true
		if found := c.findCycle(origin, target, append(path, target.ID()), visited); found != nil {
			return found
		}
	}
	return nil
}

// nestingCheck enforces the configured same-kind nesting limit for
// kinds that support nesting. Depths are memoized across the whole run;
// deep and wide graphs revisit the same ancestors constantly and the
// memo keeps the walk linear.
func (c *Checker) nestingCheck(entity *entities.Entity) []string {
	desc, _ := entities.Describe(entity.Kind)
	if !desc.SupportsNesting || c.rules.NestingLimit <= 0 {
		return nil
	}
	depth := c.nestingDepth(entity)
	if depth > c.rules.NestingLimit {
		return []string{fmt.Sprintf(
			"nesting level %d exceeds the configured limit %d", depth, c.rules.NestingLimit)}
	}
	return nil
}

func (c *Checker) nestingDepth(entity *entities.Entity) int {
	id := entity.ID()
	if depth, ok := c.nesting[id]; ok {
		return depth
	}
	if c.walking[id] {
		// Cycle through this entity; reported by its own cycle check.
		return 0
	}
	c.walking[id] = true
	defer delete(c.walking, id)

	depth := 0
	for _, name := range entity.SameKindMembers() {
		target := c.lookup(entity.Kind, name)
		if target == nil {
			continue
		}
		if d := c.nestingDepth(target) + 1; d > depth {
			depth = d
		}
	}
	c.nesting[id] = depth
	return depth
}
