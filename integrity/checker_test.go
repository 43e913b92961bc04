package integrity_test

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/gooddata/freeipa-manager-sub000/config"
	"github.com/gooddata/freeipa-manager-sub000/entities"
	"github.com/gooddata/freeipa-manager-sub000/integrity"
)

func buildSet(t *testing.T, specs map[entities.Kind]map[string]map[string]any) map[entities.Kind]map[string]*entities.Entity {
	t.Helper()
	set := make(map[entities.Kind]map[string]*entities.Entity)
	for kind, byName := range specs {
		set[kind] = make(map[string]*entities.Entity)
		for name, raw := range byName {
			entity, err := entities.FromRepo(kind, name, raw, "")
			if err != nil {
				t.Fatalf("FromRepo %s %s: %v", kind, name, err)
			}
			set[kind][name] = entity
		}
	}
	return set
}

func violations(t *testing.T, err error) map[string][]string {
	t.Helper()
	var integrityErr *integrity.Error
	if !errors.As(err, &integrityErr) {
		t.Fatalf("expected *integrity.Error, got %T: %v", err, err)
	}
	return integrityErr.Violations
}

func TestCheckPassesOnConsistentSet(t *testing.T) {
	set := buildSet(t, map[entities.Kind]map[string]map[string]any{
		entities.KindUser: {
			"u1": {"firstName": "A", "lastName": "B", "memberOf": map[string]any{"group": []any{"role-ops"}}},
		},
		entities.KindGroup: {
			"role-ops": {"description": "user group", "memberOf": map[string]any{"group": []any{"ops"}}},
			"ops":      {"description": "meta group"},
		},
	})

	checker := integrity.NewChecker(&config.IntegrityRules{
		UserGroupPattern: regexp.MustCompile("^role-"),
		NestingLimit:     3,
	}, set)
	if err := checker.Check(); err != nil {
		t.Fatalf("expected clean check, got: %v", err)
	}
}

func TestMemberOfNonExistentTarget(t *testing.T) {
	set := buildSet(t, map[entities.Kind]map[string]map[string]any{
		entities.KindUser: {
			"u1": {"memberOf": map[string]any{"group": []any{"ghost"}}},
		},
	})

	err := integrity.NewChecker(&config.IntegrityRules{}, set).Check()
	got := violations(t, err)
	if len(got["user u1"]) != 1 || !strings.Contains(got["user u1"][0], "non-existent group ghost") {
		t.Errorf("unexpected violations: %v", got)
	}
}

func TestSelfMembershipIsAlwaysAnError(t *testing.T) {
	set := buildSet(t, map[entities.Kind]map[string]map[string]any{
		entities.KindGroup: {
			"g1": {"memberOf": map[string]any{"group": []any{"g1"}}},
		},
	})

	err := integrity.NewChecker(&config.IntegrityRules{}, set).Check()
	got := violations(t, err)
	if len(got["group g1"]) != 1 || !strings.Contains(got["group g1"][0], "member of itself") {
		t.Errorf("unexpected violations: %v", got)
	}
}

func TestDisallowedMemberKind(t *testing.T) {
	set := buildSet(t, map[entities.Kind]map[string]map[string]any{
		entities.KindHostGroup: {
			"hg1": {"memberOf": map[string]any{"group": []any{"g1"}}},
		},
		entities.KindGroup: {
			"g1": {},
		},
	})

	err := integrity.NewChecker(&config.IntegrityRules{}, set).Check()
	got := violations(t, err)
	if len(got["hostgroup hg1"]) != 1 {
		t.Fatalf("unexpected violations: %v", got)
	}
	msg := got["hostgroup hg1"][0]
	if !strings.Contains(msg, "cannot contain hostgroup hg1") || !strings.Contains(msg, "allowed members") {
		t.Errorf("violation %q should name both entities and the allowed set", msg)
	}
}

func TestCycleFlaggedOnEveryParticipant(t *testing.T) {
	set := buildSet(t, map[entities.Kind]map[string]map[string]any{
		entities.KindGroup: {
			"a": {"memberOf": map[string]any{"group": []any{"b"}}},
			"b": {"memberOf": map[string]any{"group": []any{"a"}}},
		},
	})

	err := integrity.NewChecker(&config.IntegrityRules{}, set).Check()
	got := violations(t, err)

	type testCase struct {
		id   string
		path string
	}
	tests := []testCase{
		{"group a", "group a -> group b -> group a"},
		{"group b", "group b -> group a -> group b"},
	}
	for _, test := range tests {
		errs := got[test.id]
		if len(errs) != 1 {
			t.Fatalf("%s: expected one violation, got %v", test.id, errs)
		}
		if !strings.Contains(errs[0], test.path) {
			t.Errorf("%s: path = %q, want %q", test.id, errs[0], test.path)
		}
	}
}

func TestNestingLimitFailsDeepestEntity(t *testing.T) {
	// Chain g1 -> g2 -> g3 -> g4 has depth 3 at g1; a limit of 2 must
	// fail exactly g1 with the computed depth.
	set := buildSet(t, map[entities.Kind]map[string]map[string]any{
		entities.KindGroup: {
			"g1": {"memberOf": map[string]any{"group": []any{"g2"}}},
			"g2": {"memberOf": map[string]any{"group": []any{"g3"}}},
			"g3": {"memberOf": map[string]any{"group": []any{"g4"}}},
			"g4": {},
		},
	})

	err := integrity.NewChecker(&config.IntegrityRules{NestingLimit: 2}, set).Check()
	got := violations(t, err)
	if len(got) != 1 {
		t.Fatalf("expected exactly one failing entity, got %v", got)
	}
	errs := got["group g1"]
	if len(errs) != 1 || !strings.Contains(errs[0], "nesting level 3 exceeds the configured limit 2") {
		t.Errorf("unexpected violations for g1: %v", errs)
	}
}

func TestRuleRequiresMembers(t *testing.T) {
	set := buildSet(t, map[entities.Kind]map[string]map[string]any{
		entities.KindHBACRule: {
			"rule-one": {},
		},
	})

	err := integrity.NewChecker(&config.IntegrityRules{}, set).Check()
	got := violations(t, err)
	errs := got["hbacrule rule-one"]
	if len(errs) != 2 {
		t.Fatalf("expected memberhost and memberuser violations, got %v", errs)
	}
}

func TestRuleRejectsUserGroupMember(t *testing.T) {
	set := buildSet(t, map[entities.Kind]map[string]map[string]any{
		entities.KindHBACRule: {
			"rule-one": {
				"memberHost": []any{"web-servers"},
				"memberUser": []any{"role-ops"},
			},
		},
		entities.KindHostGroup: {"web-servers": {}},
		entities.KindGroup:     {"role-ops": {}},
	})

	err := integrity.NewChecker(&config.IntegrityRules{
		UserGroupPattern: regexp.MustCompile("^role-"),
	}, set).Check()
	got := violations(t, err)
	errs := got["hbacrule rule-one"]
	if len(errs) != 1 || !strings.Contains(errs[0], "user group") {
		t.Errorf("unexpected violations: %v", got)
	}
}

func TestRuleNonExistentMember(t *testing.T) {
	set := buildSet(t, map[entities.Kind]map[string]map[string]any{
		entities.KindSudoRule: {
			"sudo-one": {
				"memberHost": []any{"ghost-hosts"},
				"memberUser": []any{"ops"},
			},
		},
		entities.KindGroup: {"ops": {}},
	})

	err := integrity.NewChecker(&config.IntegrityRules{}, set).Check()
	got := violations(t, err)
	errs := got["sudorule sudo-one"]
	if len(errs) != 1 || !strings.Contains(errs[0], "non-existent hostgroup ghost-hosts") {
		t.Errorf("unexpected violations: %v", got)
	}
}

func TestAllEntitiesCheckedBeforeFailing(t *testing.T) {
	set := buildSet(t, map[entities.Kind]map[string]map[string]any{
		entities.KindUser: {
			"u1": {"memberOf": map[string]any{"group": []any{"ghost"}}},
			"u2": {"memberOf": map[string]any{"group": []any{"phantom"}}},
		},
	})

	err := integrity.NewChecker(&config.IntegrityRules{}, set).Check()
	got := violations(t, err)
	if len(got) != 2 {
		t.Errorf("both entities must be reported, got %v", got)
	}
}
