// Package entities models the FreeIPA objects the manager reconciles:
// users, groups, host groups, HBAC and sudo rules, roles, privileges,
// permissions and services. Every kind is described by a static
// descriptor (identifying attribute, synchronized attributes, repo key
// renames, membership structure) and shares one Entity value type.
package entities

import (
	"sort"
)

// Kind names a FreeIPA object type. The value doubles as the command
// verb prefix (user -> user_add, user_mod, user_del).
type Kind string

const (
	KindUser       Kind = "user"
	KindGroup      Kind = "group"
	KindHostGroup  Kind = "hostgroup"
	KindHBACRule   Kind = "hbacrule"
	KindSudoRule   Kind = "sudorule"
	KindRole       Kind = "role"
	KindPrivilege  Kind = "privilege"
	KindPermission Kind = "permission"
	KindService    Kind = "service"
)

// MemberVerb describes how a container kind accepts one member kind:
// the add/remove command verbs, the keyword carrying the member name,
// and the directory attribute on the container's record that lists
// members of that kind.
type MemberVerb struct {
	Add    string
	Remove string
	Param  string
	Attr   string
}

// RuleMember is one member category of a rule kind. Rules hold direct
// members instead of participating in memberOf.
type RuleMember struct {
	// Category is the canonical name (memberhost, memberuser,
	// memberservice).
	Category string
	// RepoKey is the key used in desired-state config files.
	RepoKey string
	// MemberKind is the kind a member name must resolve to.
	MemberKind Kind
	// Attr is the directory attribute listing current members.
	Attr string
	// Required marks categories that must be non-empty.
	Required            bool
	AddVerb, RemoveVerb string
	Param               string
}

// Descriptor is the per-kind structural metadata. Descriptors are
// static; they are never mutated at runtime.
type Descriptor struct {
	Kind   Kind
	IDAttr string

	// PushAttrs are the directory attributes synchronized on push;
	// PullAttrs the ones written back on pull. Attributes handled by
	// side-channel commands (rule membership, sudo options, POSIX
	// state) appear in neither.
	PushAttrs []string
	PullAttrs []string

	// KeyMapping renames repo attribute keys to directory attribute
	// names. Keys absent from the table map to their lowercased form.
	KeyMapping map[string]string

	// AllowedMemberKinds lists the kinds this kind may contain. An
	// entity of kind K may declare memberOf target T only when T's
	// descriptor allows K.
	AllowedMemberKinds []Kind

	// MemberVerbs gives the membership commands per member kind, for
	// container kinds.
	MemberVerbs map[Kind]MemberVerb

	// RuleMembers is non-empty exactly for rule kinds.
	RuleMembers []RuleMember

	// HasOptions marks rule kinds with an option list synchronized via
	// side-channel add/remove option commands.
	HasOptions bool

	// DefaultAttrs are repo attribute values suppressed when writing
	// pulled entities back to config files.
	DefaultAttrs map[string]any

	// SupportsNesting marks kinds checked for same-kind nesting depth.
	SupportsNesting bool
}

// IsRule reports whether the kind holds direct members instead of a
// memberOf relation.
func (d *Descriptor) IsRule() bool { return len(d.RuleMembers) > 0 }

// DirAttr maps a repo attribute key to its directory attribute name.
func (d *Descriptor) DirAttr(repoKey string) string {
	if mapped, ok := d.KeyMapping[repoKey]; ok {
		return mapped
	}
	return lowercase(repoKey)
}

// RepoKeyFor is the inverse of DirAttr, used on pull.
func (d *Descriptor) RepoKeyFor(dirAttr string) string {
	for repoKey, mapped := range d.KeyMapping {
		if mapped == dirAttr {
			return repoKey
		}
	}
	return dirAttr
}

// AllowsMember reports whether this kind may contain members of the
// given kind.
func (d *Descriptor) AllowsMember(kind Kind) bool {
	for _, allowed := range d.AllowedMemberKinds {
		if allowed == kind {
			return true
		}
	}
	return false
}

func lowercase(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r >= 'A' && r <= 'Z' {
			out[i] = r + ('a' - 'A')
		}
	}
	return string(out)
}

var descriptors = map[Kind]*Descriptor{
	KindUser: {
		Kind:   KindUser,
		IDAttr: "uid",
		PushAttrs: []string{
			"givenname", "sn", "initials", "mail", "ou",
			"manager", "carlicense", "title",
		},
		PullAttrs: []string{
			"givenname", "sn", "initials", "mail", "ou",
			"manager", "carlicense", "title",
		},
		KeyMapping: map[string]string{
			"firstName":        "givenname",
			"lastName":         "sn",
			"emailAddress":     "mail",
			"organizationUnit": "ou",
			"githubLogin":      "carlicense",
		},
	},
	KindGroup: {
		Kind:               KindGroup,
		IDAttr:             "cn",
		PushAttrs:          []string{"description"},
		PullAttrs:          []string{"description"},
		AllowedMemberKinds: []Kind{KindUser, KindGroup},
		MemberVerbs: map[Kind]MemberVerb{
			KindUser:  {Add: "group_add_member", Remove: "group_remove_member", Param: "user", Attr: "member_user"},
			KindGroup: {Add: "group_add_member", Remove: "group_remove_member", Param: "group", Attr: "member_group"},
		},
		DefaultAttrs:    map[string]any{"posix": true},
		SupportsNesting: true,
	},
	KindHostGroup: {
		Kind:               KindHostGroup,
		IDAttr:             "cn",
		PushAttrs:          []string{"description"},
		PullAttrs:          []string{"description"},
		AllowedMemberKinds: []Kind{KindHostGroup},
		MemberVerbs: map[Kind]MemberVerb{
			KindHostGroup: {Add: "hostgroup_add_member", Remove: "hostgroup_remove_member", Param: "hostgroup", Attr: "member_hostgroup"},
		},
		SupportsNesting: true,
	},
	KindHBACRule: {
		Kind:      KindHBACRule,
		IDAttr:    "cn",
		PushAttrs: []string{"description", "servicecategory"},
		PullAttrs: []string{"description", "servicecategory"},
		KeyMapping: map[string]string{
			"serviceCategory": "servicecategory",
		},
		RuleMembers: []RuleMember{
			{
				Category: "memberhost", RepoKey: "memberHost", MemberKind: KindHostGroup,
				Attr: "memberhost_hostgroup", Required: true,
				AddVerb: "hbacrule_add_host", RemoveVerb: "hbacrule_remove_host", Param: "hostgroup",
			},
			{
				Category: "memberuser", RepoKey: "memberUser", MemberKind: KindGroup,
				Attr: "memberuser_group", Required: true,
				AddVerb: "hbacrule_add_user", RemoveVerb: "hbacrule_remove_user", Param: "group",
			},
			{
				Category: "memberservice", RepoKey: "memberService", MemberKind: KindService,
				Attr: "memberservice_hbacsvc", Required: false,
				AddVerb: "hbacrule_add_service", RemoveVerb: "hbacrule_remove_service", Param: "hbacsvc",
			},
		},
		DefaultAttrs: map[string]any{"serviceCategory": "all"},
	},
	KindSudoRule: {
		Kind:      KindSudoRule,
		IDAttr:    "cn",
		PushAttrs: []string{"description", "cmdcategory"},
		PullAttrs: []string{"description", "cmdcategory"},
		KeyMapping: map[string]string{
			"cmdCategory": "cmdcategory",
		},
		RuleMembers: []RuleMember{
			{
				Category: "memberhost", RepoKey: "memberHost", MemberKind: KindHostGroup,
				Attr: "memberhost_hostgroup", Required: true,
				AddVerb: "sudorule_add_host", RemoveVerb: "sudorule_remove_host", Param: "hostgroup",
			},
			{
				Category: "memberuser", RepoKey: "memberUser", MemberKind: KindGroup,
				Attr: "memberuser_group", Required: true,
				AddVerb: "sudorule_add_user", RemoveVerb: "sudorule_remove_user", Param: "group",
			},
		},
		HasOptions:   true,
		DefaultAttrs: map[string]any{"cmdCategory": "all"},
	},
	KindRole: {
		Kind:               KindRole,
		IDAttr:             "cn",
		PushAttrs:          []string{"description"},
		PullAttrs:          []string{"description"},
		AllowedMemberKinds: []Kind{KindUser, KindGroup, KindHostGroup, KindService, KindPrivilege},
		MemberVerbs: map[Kind]MemberVerb{
			KindUser:      {Add: "role_add_member", Remove: "role_remove_member", Param: "user", Attr: "member_user"},
			KindGroup:     {Add: "role_add_member", Remove: "role_remove_member", Param: "group", Attr: "member_group"},
			KindHostGroup: {Add: "role_add_member", Remove: "role_remove_member", Param: "hostgroup", Attr: "member_hostgroup"},
			KindService:   {Add: "role_add_member", Remove: "role_remove_member", Param: "service", Attr: "member_service"},
			KindPrivilege: {Add: "role_add_privilege", Remove: "role_remove_privilege", Param: "privilege", Attr: "member_privilege"},
		},
	},
	KindPrivilege: {
		Kind:               KindPrivilege,
		IDAttr:             "cn",
		PushAttrs:          []string{"description"},
		PullAttrs:          []string{"description"},
		AllowedMemberKinds: []Kind{KindPermission},
		MemberVerbs: map[Kind]MemberVerb{
			KindPermission: {Add: "privilege_add_permission", Remove: "privilege_remove_permission", Param: "permission", Attr: "member_permission"},
		},
	},
	KindPermission: {
		Kind:      KindPermission,
		IDAttr:    "cn",
		PushAttrs: []string{"description", "ipapermright", "ipapermlocation", "attrs"},
		PullAttrs: []string{"description", "ipapermright", "ipapermlocation", "attrs"},
		KeyMapping: map[string]string{
			"grantedRights": "ipapermright",
			"location":      "ipapermlocation",
			"attributes":    "attrs",
		},
	},
	KindService: {
		Kind:      KindService,
		IDAttr:    "krbcanonicalname",
		PushAttrs: []string{"managedby_host", "description"},
		PullAttrs: []string{"managedby_host", "description"},
		KeyMapping: map[string]string{
			"managedBy": "managedby_host",
		},
	},
}

// Describe returns the descriptor for a kind.
func Describe(kind Kind) (*Descriptor, bool) {
	d, ok := descriptors[kind]
	return d, ok
}

// Kinds returns every known kind in deterministic order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(descriptors))
	for k := range descriptors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
