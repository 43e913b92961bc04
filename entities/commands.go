package entities

import (
	"sort"

	"github.com/gooddata/freeipa-manager-sub000/command"
)

// CreateCommands computes the mutation commands that converge the
// remote (actual) entity towards this desired entity. A nil remote
// means the entity does not exist yet and must be created. Deletion of
// actual-only entities is the engine's call, never made here.
func (e *Entity) CreateCommands(remote *Entity) []*command.Command {
	desc := e.descriptor()

	var commands []*command.Command

	payload := e.pushDiff(remote)
	switch {
	case remote == nil:
		if e.Kind == KindGroup && !e.Posix {
			payload["nonposix"] = true
		}
		commands = append(commands, command.New(string(e.Kind)+"_add", e.Name, desc.IDAttr, payload))
	case len(payload) > 0:
		commands = append(commands, command.New(string(e.Kind)+"_mod", e.Name, desc.IDAttr, payload))
	}

	if e.Kind == KindGroup && remote != nil {
		commands = append(commands, e.posixToggle(remote, desc)...)
	}

	if desc.IsRule() {
		commands = append(commands, e.ruleMemberCommands(remote, desc)...)
	}

	if desc.HasOptions {
		commands = append(commands, e.optionCommands(remote, desc)...)
	}

	return commands
}

// pushDiff returns the differing push-managed attributes as a command
// payload: every attribute for a creation, only changed ones for a
// modification. Attributes absent from the desired entity are left
// alone, never cleared; the config is additive over what the directory
// holds. Tuples of length one collapse to scalars in the payload, the
// form the API expects.
func (e *Entity) pushDiff(remote *Entity) map[string]any {
	desc := e.descriptor()
	payload := make(map[string]any)
	for _, attr := range desc.PushAttrs {
		local := e.DirAttrs[attr]
		if len(local) == 0 {
			continue
		}
		if remote == nil || !sameValues(local, remote.DirAttrs[attr]) {
			payload[attr] = payloadValue(local)
		}
	}
	return payload
}

// posixToggle emits the group_mod commands converging POSIX state.
// Making a group non-POSIX has to unset its gidNumber and strip the
// posixgroup objectclass; the plain posix flag covers the other
// direction.
func (e *Entity) posixToggle(remote *Entity, desc *Descriptor) []*command.Command {
	switch {
	case e.Posix && !remote.Posix:
		return []*command.Command{
			command.New("group_mod", e.Name, desc.IDAttr, map[string]any{"posix": true}),
		}
	case !e.Posix && remote.Posix:
		return []*command.Command{
			command.New("group_mod", e.Name, desc.IDAttr, map[string]any{
				"setattr": "gidnumber=",
				"delattr": "objectclass=posixgroup",
			}),
		}
	default:
		return nil
	}
}

// ruleMemberCommands emits one add or remove command per member, per
// category, from the set difference between desired and actual member
// sets. Members are never batched into a single command so one bad
// member cannot fail its siblings.
func (e *Entity) ruleMemberCommands(remote *Entity, desc *Descriptor) []*command.Command {
	var commands []*command.Command
	for _, cat := range desc.RuleMembers {
		local := e.RuleMembers[cat.Category]
		var actual []string
		if remote != nil {
			actual = remote.RuleMembers[cat.Category]
		}
		for _, added := range difference(local, actual) {
			commands = append(commands, command.New(cat.AddVerb, e.Name, desc.IDAttr,
				map[string]any{cat.Param: added}))
		}
		for _, removed := range difference(actual, local) {
			commands = append(commands, command.New(cat.RemoveVerb, e.Name, desc.IDAttr,
				map[string]any{cat.Param: removed}))
		}
	}
	return commands
}

// optionCommands emits one add or remove command per sudo option.
func (e *Entity) optionCommands(remote *Entity, desc *Descriptor) []*command.Command {
	var actual []string
	if remote != nil {
		actual = remote.Options
	}
	var commands []*command.Command
	for _, added := range difference(e.Options, actual) {
		commands = append(commands, command.New(string(e.Kind)+"_add_option", e.Name, desc.IDAttr,
			map[string]any{"ipasudoopt": added}))
	}
	for _, removed := range difference(actual, e.Options) {
		commands = append(commands, command.New(string(e.Kind)+"_remove_option", e.Name, desc.IDAttr,
			map[string]any{"ipasudoopt": removed}))
	}
	return commands
}

func payloadValue(values []string) any {
	if len(values) == 1 {
		return values[0]
	}
	return append([]string(nil), values...)
}

// sameValues compares two attribute tuples ignoring order; the
// directory does not guarantee value ordering.
func sameValues(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// difference returns the elements of a absent from b, sorted.
func difference(a, b []string) []string {
	present := make(map[string]bool, len(b))
	for _, item := range b {
		present[item] = true
	}
	var out []string
	for _, item := range a {
		if !present[item] {
			out = append(out, item)
		}
	}
	sort.Strings(out)
	return out
}
