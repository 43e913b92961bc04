package entities

import (
	"fmt"

	"github.com/gooddata/freeipa-manager-sub000/freeipa"
)

// FromDirectory builds an entity from a directory record as returned by
// a find command. The record's attributes are kept verbatim in
// directory form; per-kind derived state (POSIX flag, rule member sets,
// option list) is extracted from the well-known attributes.
func FromDirectory(kind Kind, record freeipa.Record) (*Entity, error) {
	desc, ok := Describe(kind)
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}

	name := record.First(desc.IDAttr)
	if name == "" {
		return nil, fmt.Errorf("%s record is missing identifying attribute %s", kind, desc.IDAttr)
	}

	entity := &Entity{
		Kind:     kind,
		Name:     name,
		DirAttrs: make(map[string][]string, len(record)),
		Posix:    true,
	}

	for attr := range record {
		if values := record.Strings(attr); values != nil {
			entity.DirAttrs[attr] = values
		}
	}

	if kind == KindGroup {
		entity.Posix = false
		for _, class := range entity.DirAttrs["objectclass"] {
			if class == "posixgroup" {
				entity.Posix = true
				break
			}
		}
	}

	if desc.IsRule() {
		entity.RuleMembers = make(map[string][]string, len(desc.RuleMembers))
		for _, cat := range desc.RuleMembers {
			if members := entity.DirAttrs[cat.Attr]; len(members) > 0 {
				entity.RuleMembers[cat.Category] = members
			}
		}
	}

	if desc.HasOptions {
		entity.Options = entity.DirAttrs["ipasudoopt"]
	}

	for _, targetKind := range Kinds() {
		attr := "memberof_" + string(targetKind)
		if names := entity.DirAttrs[attr]; len(names) > 0 {
			if entity.MemberOf == nil {
				entity.MemberOf = make(map[Kind][]string)
			}
			entity.MemberOf[targetKind] = names
		}
	}

	return entity, nil
}
