package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/gooddata/freeipa-manager-sub000/entities"
)

// Settings is the raw YAML shape of the settings file. It is compiled
// into Policy and IntegrityRules values before use; nothing holds on to
// the raw form.
type Settings struct {
	// Ignore maps entity kind to name patterns skipped when loading
	// actual state.
	Ignore map[string][]string `yaml:"ignore"`

	// Threshold is the maximum percentage of actual entities one run
	// may touch, 1-100.
	Threshold int `yaml:"threshold"`

	// DeletionPatterns match the verbs considered destructive for
	// deletion gating (entity deletion as opposed to member removal).
	DeletionPatterns []string `yaml:"deletion-patterns"`

	// UserGroupPattern matches the names of groups that hold users
	// directly; such groups must not be direct members of rules.
	UserGroupPattern string `yaml:"user-group-pattern"`

	// NestingLimit bounds same-kind nesting depth; 0 disables the
	// check.
	NestingLimit int `yaml:"nesting-limit"`

	// MemberRules maps rule kind -> member category -> constraint
	// tokens (meta, nonmeta, member_of_meta, member_of_nonmeta).
	MemberRules map[string]map[string][]string `yaml:"member-rules"`

	// PullKinds restricts which kinds the pull direction writes back;
	// empty means all kinds.
	PullKinds []string `yaml:"pull-types"`
}

// LoadSettings reads and decodes the settings file.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings %s: %w", path, err)
	}
	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parsing settings %s: %w", path, err)
	}
	return &settings, nil
}

// Policy is the compiled reconciliation policy handed to the engine at
// construction time.
type Policy struct {
	Ignore           map[entities.Kind][]*regexp.Regexp
	Threshold        int
	EnableDeletion   bool
	DeletionPatterns []*regexp.Regexp
	PullKinds        []entities.Kind
}

// IgnoredName reports whether a name of the given kind is excluded from
// actual-state loading.
func (p *Policy) IgnoredName(kind entities.Kind, name string) bool {
	for _, pattern := range p.Ignore[kind] {
		if pattern.MatchString(name) {
			return true
		}
	}
	return false
}

// DeletionVerb reports whether a command verb counts as destructive for
// gating purposes.
func (p *Policy) DeletionVerb(verb string) bool {
	for _, pattern := range p.DeletionPatterns {
		if pattern.MatchString(verb) {
			return true
		}
	}
	return false
}

// IntegrityRules is the compiled configuration of the integrity
// checker.
type IntegrityRules struct {
	UserGroupPattern *regexp.Regexp
	NestingLimit     int
	MemberRules      map[entities.Kind]map[string][]string
}

// Compile validates the settings and produces the policy and integrity
// rule values. enableDeletion comes from the command line, not the
// settings file, so destructive runs require an explicit flag.
func (s *Settings) Compile(enableDeletion bool) (*Policy, *IntegrityRules, error) {
	if s.Threshold < 1 || s.Threshold > 100 {
		return nil, nil, fmt.Errorf("threshold must be within 1-100, got %d", s.Threshold)
	}

	policy := &Policy{
		Ignore:         make(map[entities.Kind][]*regexp.Regexp),
		Threshold:      s.Threshold,
		EnableDeletion: enableDeletion,
	}

	for kindName, patterns := range s.Ignore {
		kind := entities.Kind(kindName)
		if _, ok := entities.Describe(kind); !ok {
			return nil, nil, fmt.Errorf("ignore: unknown entity kind %q", kindName)
		}
		for _, raw := range patterns {
			pattern, err := regexp.Compile(raw)
			if err != nil {
				return nil, nil, fmt.Errorf("ignore pattern %q for %s: %w", raw, kindName, err)
			}
			policy.Ignore[kind] = append(policy.Ignore[kind], pattern)
		}
	}

	for _, raw := range s.DeletionPatterns {
		pattern, err := regexp.Compile(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("deletion pattern %q: %w", raw, err)
		}
		policy.DeletionPatterns = append(policy.DeletionPatterns, pattern)
	}

	for _, kindName := range s.PullKinds {
		kind := entities.Kind(kindName)
		if _, ok := entities.Describe(kind); !ok {
			return nil, nil, fmt.Errorf("pull-types: unknown entity kind %q", kindName)
		}
		policy.PullKinds = append(policy.PullKinds, kind)
	}
	if len(policy.PullKinds) == 0 {
		policy.PullKinds = entities.Kinds()
	}

	rules := &IntegrityRules{
		NestingLimit: s.NestingLimit,
		MemberRules:  make(map[entities.Kind]map[string][]string),
	}
	if s.UserGroupPattern != "" {
		pattern, err := regexp.Compile(s.UserGroupPattern)
		if err != nil {
			return nil, nil, fmt.Errorf("user-group-pattern: %w", err)
		}
		rules.UserGroupPattern = pattern
	}
	for kindName, categories := range s.MemberRules {
		kind := entities.Kind(kindName)
		if _, ok := entities.Describe(kind); !ok {
			return nil, nil, fmt.Errorf("member-rules: unknown entity kind %q", kindName)
		}
		for category, tokens := range categories {
			for _, token := range tokens {
				switch token {
				case "meta", "nonmeta", "member_of_meta", "member_of_nonmeta":
				default:
					return nil, nil, fmt.Errorf(
						"member-rules %s/%s: unknown token %q", kindName, category, token)
				}
			}
		}
		rules.MemberRules[kind] = categories
	}

	return policy, rules, nil
}
