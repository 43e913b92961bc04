package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gooddata/freeipa-manager-sub000/config"
	"github.com/gooddata/freeipa-manager-sub000/entities"
)

func TestLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := `
ignore:
  user: ["^admin$", "^svc-"]
  group: ["^ipausers$"]
threshold: 20
deletion-patterns: ["_del$"]
user-group-pattern: "^role-"
nesting-limit: 3
member-rules:
  hbacrule:
    memberuser: ["member_of_nonmeta"]
pull-types: ["user", "group"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	settings, err := config.LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if settings.Threshold != 20 {
		t.Errorf("Threshold = %d, want 20", settings.Threshold)
	}
	if len(settings.Ignore["user"]) != 2 {
		t.Errorf("Ignore[user] = %v, want two patterns", settings.Ignore["user"])
	}

	policy, rules, err := settings.Compile(false)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !policy.IgnoredName(entities.KindUser, "admin") {
		t.Error("admin must be ignored")
	}
	if !policy.IgnoredName(entities.KindUser, "svc-backup") {
		t.Error("svc-backup must be ignored")
	}
	if policy.IgnoredName(entities.KindUser, "jdoe") {
		t.Error("jdoe must not be ignored")
	}
	if !policy.DeletionVerb("user_del") {
		t.Error("user_del must count as destructive")
	}
	if policy.DeletionVerb("group_remove_member") {
		t.Error("group_remove_member must not match _del$")
	}
	if len(policy.PullKinds) != 2 {
		t.Errorf("PullKinds = %v, want user and group", policy.PullKinds)
	}
	if rules.UserGroupPattern == nil || !rules.UserGroupPattern.MatchString("role-dev") {
		t.Error("user-group-pattern not compiled")
	}
	if rules.NestingLimit != 3 {
		t.Errorf("NestingLimit = %d, want 3", rules.NestingLimit)
	}
}

func TestCompileRejectsInvalidSettings(t *testing.T) {
	type testCase struct {
		name     string
		settings config.Settings
		wantErr  string
	}
	tests := []testCase{
		{
			name:     "threshold zero",
			settings: config.Settings{Threshold: 0},
			wantErr:  "threshold must be within 1-100",
		},
		{
			name:     "threshold above hundred",
			settings: config.Settings{Threshold: 150},
			wantErr:  "threshold must be within 1-100",
		},
		{
			name: "unknown ignore kind",
			settings: config.Settings{
				Threshold: 10,
				Ignore:    map[string][]string{"widget": {"^x$"}},
			},
			wantErr: `unknown entity kind "widget"`,
		},
		{
			name: "bad ignore pattern",
			settings: config.Settings{
				Threshold: 10,
				Ignore:    map[string][]string{"user": {"("}},
			},
			wantErr: "ignore pattern",
		},
		{
			name: "bad user group pattern",
			settings: config.Settings{
				Threshold:        10,
				UserGroupPattern: "(",
			},
			wantErr: "user-group-pattern",
		},
		{
			name: "unknown member rule token",
			settings: config.Settings{
				Threshold: 10,
				MemberRules: map[string]map[string][]string{
					"hbacrule": {"memberuser": {"sometimes"}},
				},
			},
			wantErr: `unknown token "sometimes"`,
		},
		{
			name: "unknown pull kind",
			settings: config.Settings{
				Threshold: 10,
				PullKinds: []string{"widget"},
			},
			wantErr: "pull-types",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, _, err := test.settings.Compile(false)
			if err == nil || !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("Compile error = %v, want containing %q", err, test.wantErr)
			}
		})
	}
}

func TestCompileDefaultsPullKindsToAll(t *testing.T) {
	settings := config.Settings{Threshold: 10}
	policy, _, err := settings.Compile(true)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !policy.EnableDeletion {
		t.Error("EnableDeletion must carry the flag through")
	}
	if len(policy.PullKinds) != len(entities.Kinds()) {
		t.Errorf("PullKinds = %v, want all kinds", policy.PullKinds)
	}
}
