package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/gooddata/freeipa-manager-sub000/config"
	"github.com/gooddata/freeipa-manager-sub000/entities"
	"github.com/gooddata/freeipa-manager-sub000/freeipa"
	"github.com/gooddata/freeipa-manager-sub000/reconcile"
)

// fakeClient serves canned find results and records every mutation in
// invocation order.
type fakeClient struct {
	finds    map[string][]freeipa.Record
	failures map[string]error
	executed []string
}

func (f *fakeClient) Invoke(_ context.Context, cmd string, options map[string]any) (*freeipa.Response, error) {
	if err := f.failures[cmd]; err != nil {
		return nil, err
	}
	if strings.HasSuffix(cmd, "_find") {
		return &freeipa.Response{Result: f.finds[cmd]}, nil
	}
	f.executed = append(f.executed, describeInvocation(cmd, options))
	return &freeipa.Response{Summary: "ok"}, nil
}

func describeInvocation(cmd string, options map[string]any) string {
	keys := []string{"uid", "cn", "krbcanonicalname", "user", "group", "hostgroup"}
	parts := []string{cmd}
	for _, key := range keys {
		if v, ok := options[key]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", key, v))
		}
	}
	return strings.Join(parts, " ")
}

func desiredSet(t *testing.T, specs map[entities.Kind]map[string]map[string]any) reconcile.EntitySet {
	t.Helper()
	set := make(reconcile.EntitySet)
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

func defaultPolicy() *config.Policy {
	return &config.Policy{Threshold: 100}
}

func TestPushCreatesUserThenAddsMembership(t *testing.T) {
	desired := desiredSet(t, map[entities.Kind]map[string]map[string]any{
		entities.KindUser: {
			"u1": {"firstName": "A", "lastName": "B", "memberOf": map[string]any{"group": []any{"g1"}}},
		},
		entities.KindGroup: {
			"g1": {},
		},
	})
	client := &fakeClient{finds: map[string][]freeipa.Record{
		"group_find": {{
			"cn":          []any{"g1"},
			"objectclass": []any{"ipausergroup", "posixgroup"},
		}},
	}}

	engine := reconcile.NewEngine(client, defaultPolicy(), desired)
	if err := engine.Push(context.Background(), true); err != nil {
		t.Fatalf("push: %v", err)
	}

	want := []string{
		"user_add uid=u1",
		"group_add_member cn=g1 user=u1",
	}
	if len(client.executed) != len(want) {
		t.Fatalf("executed %v, want %v", client.executed, want)
	}
	for i := range want {
		if client.executed[i] != want[i] {
			t.Errorf("command %d = %q, want %q", i, client.executed[i], want[i])
		}
	}
}

func TestPushRemovesStaleMembership(t *testing.T) {
	desired := desiredSet(t, map[entities.Kind]map[string]map[string]any{
		entities.KindUser: {
			"u1": {"firstName": "A", "lastName": "B"},
		},
		entities.KindGroup: {
			"g1": {},
		},
	})
	client := &fakeClient{finds: map[string][]freeipa.Record{
		"user_find": {{
			"uid": []any{"u1"}, "givenname": []any{"A"}, "sn": []any{"B"},
		}},
		"group_find": {{
			"cn":          []any{"g1"},
			"objectclass": []any{"ipausergroup", "posixgroup"},
			"member_user": []any{"u1"},
		}},
	}}

	engine := reconcile.NewEngine(client, defaultPolicy(), desired)
	if err := engine.Push(context.Background(), true); err != nil {
		t.Fatalf("push: %v", err)
	}

	if len(client.executed) != 1 || client.executed[0] != "group_remove_member cn=g1 user=u1" {
		t.Errorf("executed %v, want exactly one group_remove_member", client.executed)
	}
}

func TestPushDeletionGating(t *testing.T) {
	staleFinds := func() map[string][]freeipa.Record {
		return map[string][]freeipa.Record{
			"user_find": {{"uid": []any{"stale-user"}}},
		}
	}

	// Deletion disabled: the stale entity produces no commands at all.
	client := &fakeClient{finds: staleFinds()}
	engine := reconcile.NewEngine(client, defaultPolicy(), make(reconcile.EntitySet))
	if err := engine.Push(context.Background(), true); err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(client.executed) != 0 {
		t.Errorf("deletion disabled: executed %v, want none", client.executed)
	}

	// Deletion enabled: exactly one user_del.
	client = &fakeClient{finds: staleFinds()}
	policy := defaultPolicy()
	policy.EnableDeletion = true
	engine = reconcile.NewEngine(client, policy, make(reconcile.EntitySet))
	if err := engine.Push(context.Background(), true); err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(client.executed) != 1 || client.executed[0] != "user_del uid=stale-user" {
		t.Errorf("deletion enabled: executed %v, want [user_del uid=stale-user]", client.executed)
	}
}

func TestPushFiltersDestructiveVerbsWhenDeletionDisabled(t *testing.T) {
	desired := desiredSet(t, map[entities.Kind]map[string]map[string]any{
		entities.KindUser:  {"u1": {"firstName": "A", "lastName": "B"}},
		entities.KindGroup: {"g1": {}},
	})
	client := &fakeClient{finds: map[string][]freeipa.Record{
		"user_find": {{"uid": []any{"u1"}, "givenname": []any{"A"}, "sn": []any{"B"}}},
		"group_find": {{
			"cn":          []any{"g1"},
			"objectclass": []any{"ipausergroup", "posixgroup"},
			"member_user": []any{"u1"},
		}},
	}}

	settings := &config.Settings{
		Threshold:        100,
		DeletionPatterns: []string{"_remove_member$"},
	}
	policy, _, err := settings.Compile(false)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	engine := reconcile.NewEngine(client, policy, desired)
	if err := engine.Push(context.Background(), true); err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(client.executed) != 0 {
		t.Errorf("member removal should be filtered as destructive, executed %v", client.executed)
	}
}

func TestPushThresholdAbortsBeforeExecution(t *testing.T) {
	desired := desiredSet(t, map[entities.Kind]map[string]map[string]any{
		entities.KindUser: {
			"u1": {"firstName": "A", "lastName": "B"},
			"u2": {"firstName": "C", "lastName": "D"},
			"u3": {"firstName": "E", "lastName": "F"},
		},
	})
	client := &fakeClient{finds: map[string][]freeipa.Record{
		"user_find": {{"uid": []any{"existing"}, "givenname": []any{"X"}, "sn": []any{"Y"}}},
	}}
	policy := defaultPolicy()
	policy.Threshold = 50

	engine := reconcile.NewEngine(client, policy, desired)
	err := engine.Push(context.Background(), true)

	var thresholdErr *reconcile.ThresholdError
	if !errors.As(err, &thresholdErr) {
		t.Fatalf("expected *ThresholdError, got %v", err)
	}
	if len(client.executed) != 0 {
		t.Errorf("nothing may execute after a threshold violation, executed %v", client.executed)
	}
}

func TestPushAggregatesCommandFailures(t *testing.T) {
	desired := desiredSet(t, map[entities.Kind]map[string]map[string]any{
		entities.KindUser: {
			"u1": {"firstName": "A", "lastName": "B"},
			"u2": {"firstName": "C", "lastName": "D"},
		},
	})
	client := &fakeClient{
		finds:    map[string][]freeipa.Record{"user_find": {{"uid": []any{"u0"}}}},
		failures: map[string]error{"user_add": &freeipa.APIError{Code: 4002, Name: "DuplicateEntry", Message: "already exists"}},
	}

	engine := reconcile.NewEngine(client, defaultPolicy(), desired)
	err := engine.Push(context.Background(), true)
	if err == nil {
		t.Fatal("expected aggregate failure")
	}
	if !strings.Contains(err.Error(), "2 of 2 commands failed") {
		t.Errorf("error %q should report the failure count", err.Error())
	}
}

func TestPushUnknownFindCommandIsFatal(t *testing.T) {
	client := &fakeClient{
		failures: map[string]error{
			"group_find": &freeipa.APIError{Code: 905, Name: "CommandError", Message: "unknown command"},
		},
	}
	engine := reconcile.NewEngine(client, defaultPolicy(), make(reconcile.EntitySet))
	err := engine.Push(context.Background(), false)
	if err == nil || !strings.Contains(err.Error(), "group") {
		t.Errorf("unknown find command must abort the load, got %v", err)
	}
}

func TestPushDryRunExecutesNothing(t *testing.T) {
	desired := desiredSet(t, map[entities.Kind]map[string]map[string]any{
		entities.KindUser: {"u1": {"firstName": "A", "lastName": "B"}},
	})
	client := &fakeClient{finds: map[string][]freeipa.Record{
		"user_find": {{"uid": []any{"other"}}},
	}}

	engine := reconcile.NewEngine(client, defaultPolicy(), desired)
	if err := engine.Push(context.Background(), false); err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if len(client.executed) != 0 {
		t.Errorf("dry run executed %v, want none", client.executed)
	}
}
