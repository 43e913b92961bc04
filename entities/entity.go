package entities

import (
	"fmt"
	"sort"
	"strings"
)

// ConfigError marks malformed or referentially invalid desired-state
// input. It aborts a run before reconciliation starts.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string { return e.msg }

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// Entity is one directory object in either repo (human-authored) or
// directory-native form. Identity is (Kind, Name) only; attribute
// content never participates in equality. Entities are value objects:
// nothing mutates them after construction except the pull path, which
// assigns SourcePath when queueing a new config file.
type Entity struct {
	Kind Kind
	Name string

	// RepoAttrs holds attributes as authored in config: scalars, lists
	// and booleans under repo key names.
	RepoAttrs map[string]any

	// DirAttrs holds the directory-native form: every attribute is a
	// list of strings. Booleans are normalized to TRUE/FALSE, the way
	// the directory itself stores them.
	DirAttrs map[string][]string

	// Metaparams are opaque pass-through values, round-tripped to pull
	// output but never interpreted.
	Metaparams map[string]any

	// SourcePath is set for entities loaded from (or queued for) the
	// desired-state repository; empty for entities synthesized from
	// directory content.
	SourcePath string

	// MemberOf maps target kind to the names this entity should be a
	// member of. Empty for rule kinds, which hold direct members
	// instead.
	MemberOf map[Kind][]string

	// RuleMembers maps member category (memberhost, memberuser,
	// memberservice) to member names, for rule kinds.
	RuleMembers map[string][]string

	// Options is the sudo option list, for kinds with HasOptions.
	Options []string

	// Posix is the derived POSIX flag for groups. Defaults to true in
	// repo form; derived from the posixgroup objectclass in directory
	// form.
	Posix bool
}

// ID is the (kind, name) identity token used in error maps and logs.
func (e *Entity) ID() string { return fmt.Sprintf("%s %s", e.Kind, e.Name) }

// Same reports identity equality: same kind and same name.
func (e *Entity) Same(other *Entity) bool {
	return other != nil && e.Kind == other.Kind && e.Name == other.Name
}

func (e *Entity) descriptor() *Descriptor {
	d, ok := Describe(e.Kind)
	if !ok {
		// Entities are only constructed through Describe-validated
		// paths; an unknown kind here is a programming error.
		panic(fmt.Sprintf("unknown entity kind %q", e.Kind))
	}
	return d
}

// FromRepo builds an entity from an authored configuration record. The
// record is assumed structurally valid (schema checking happens in the
// loader); this conversion handles semantics: key renames, tuple
// normalization, memberOf extraction and per-kind derived state.
func FromRepo(kind Kind, name string, raw map[string]any, sourcePath string) (*Entity, error) {
	desc, ok := Describe(kind)
	if !ok {
		return nil, configErrorf("unknown entity kind %q", kind)
	}

	entity := &Entity{
		Kind:       kind,
		Name:       name,
		RepoAttrs:  make(map[string]any),
		DirAttrs:   make(map[string][]string),
		Metaparams: nil,
		SourcePath: sourcePath,
		Posix:      true,
	}

	ruleKeys := make(map[string]RuleMember)
	for _, cat := range desc.RuleMembers {
		ruleKeys[cat.RepoKey] = cat
	}

	for key, value := range raw {
		switch {
		case key == "metaparams":
			meta, ok := value.(map[string]any)
			if !ok && value != nil {
				return nil, configErrorf("%s %s: metaparams must be a mapping", kind, name)
			}
			entity.Metaparams = meta
			continue
		case strings.EqualFold(key, "memberOf"):
			memberOf, err := parseMemberOf(kind, name, value)
			if err != nil {
				return nil, err
			}
			entity.MemberOf = memberOf
			entity.RepoAttrs[key] = value
			continue
		case key == "posix" && kind == KindGroup:
			flag, ok := value.(bool)
			if !ok {
				return nil, configErrorf("%s %s: posix must be a boolean", kind, name)
			}
			entity.Posix = flag
			entity.RepoAttrs[key] = value
			continue
		case key == "options" && desc.HasOptions:
			options, err := stringList(value)
			if err != nil {
				return nil, configErrorf("%s %s: options: %v", kind, name, err)
			}
			entity.Options = options
			entity.RepoAttrs[key] = value
			continue
		}
		if cat, ok := ruleKeys[key]; ok {
			members, err := stringList(value)
			if err != nil {
				return nil, configErrorf("%s %s: %s: %v", kind, name, key, err)
			}
			if entity.RuleMembers == nil {
				entity.RuleMembers = make(map[string][]string)
			}
			entity.RuleMembers[cat.Category] = members
			entity.RepoAttrs[key] = value
			continue
		}

		entity.RepoAttrs[key] = value
		entity.DirAttrs[desc.DirAttr(key)] = toTuple(value)
	}

	return entity, nil
}

// parseMemberOf validates the memberOf mapping and cross-checks every
// referenced target kind against the known kinds.
func parseMemberOf(kind Kind, name string, value any) (map[Kind][]string, error) {
	raw, ok := value.(map[string]any)
	if !ok {
		return nil, configErrorf("%s %s: memberOf must map kinds to name lists", kind, name)
	}
	memberOf := make(map[Kind][]string, len(raw))
	for targetKind, targets := range raw {
		if _, known := Describe(Kind(targetKind)); !known {
			return nil, configErrorf(
				"%s %s: memberOf references invalid kind %q", kind, name, targetKind)
		}
		names, err := stringList(targets)
		if err != nil {
			return nil, configErrorf("%s %s: memberOf %s: %v", kind, name, targetKind, err)
		}
		memberOf[Kind(targetKind)] = names
	}
	return memberOf, nil
}

// toTuple converts a repo scalar or list into the directory's
// multi-valued form. Booleans become the TRUE/FALSE strings the
// directory stores.
func toTuple(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, scalarString(item))
		}
		return out
	case []string:
		return append([]string(nil), v...)
	default:
		return []string{scalarString(v)}
	}
}

func scalarString(v any) string {
	switch val := v.(type) {
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

func stringList(value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string or list of strings, got %T", value)
	}
}

// DirValues returns the directory-form values of an attribute.
func (e *Entity) DirValues(attr string) []string {
	return e.DirAttrs[attr]
}

// ListsMember reports whether this entity's directory record currently
// lists the given entity as a direct member. Used on actual-state
// entities during membership reconciliation.
func (e *Entity) ListsMember(member *Entity) bool {
	verb, ok := e.descriptor().MemberVerbs[member.Kind]
	if !ok {
		return false
	}
	for _, name := range e.DirAttrs[verb.Attr] {
		if name == member.Name {
			return true
		}
	}
	return false
}

// MemberNames returns the names this entity's directory record lists
// for one member kind.
func (e *Entity) MemberNames(memberKind Kind) []string {
	verb, ok := e.descriptor().MemberVerbs[memberKind]
	if !ok {
		return nil
	}
	return e.DirAttrs[verb.Attr]
}

// SameKindMembers returns the memberOf targets of this entity's own
// kind, the edges followed by cycle and nesting checks.
func (e *Entity) SameKindMembers() []string {
	return e.MemberOf[e.Kind]
}

// ToRepo converts the directory form back to repo form, restricted to
// the kind's pulled attributes. One-element tuples collapse to scalars,
// longer tuples become sorted lists.
func (e *Entity) ToRepo() map[string]any {
	desc := e.descriptor()
	repo := make(map[string]any)
	for _, attr := range desc.PullAttrs {
		values := e.DirAttrs[attr]
		if len(values) == 0 {
			continue
		}
		key := desc.RepoKeyFor(attr)
		if len(values) == 1 {
			repo[key] = values[0]
			continue
		}
		sorted := append([]string(nil), values...)
		sort.Strings(sorted)
		repo[key] = sorted
	}
	return repo
}
