// Package ldapsource loads actual state straight from the 389-DS
// directory backing a FreeIPA deployment, bypassing the API's find
// commands. On large deployments the paged LDAP read is substantially
// faster than per-kind RPC finds; the records it produces are shaped
// exactly like the API's, so the engine cannot tell the sources apart.
package ldapsource

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog/log"

	"github.com/gooddata/freeipa-manager-sub000/entities"
	"github.com/gooddata/freeipa-manager-sub000/freeipa"
)

// kindLocation describes where one entity kind lives in the FreeIPA
// directory tree and how to recognize its entries.
type kindLocation struct {
	container string
	filter    Filter
	idAttr    string
}

// Permission entries carry the ipapermission objectclass; servers from
// 4.0 on mark the managed ones ipapermissionv2 instead.
var permissionFilter = And(
	Present("cn"),
	Or(Eq("objectClass", "ipapermission"), Eq("objectClass", "ipapermissionv2")),
)

var locations = map[entities.Kind]kindLocation{
	entities.KindUser:       {"cn=users,cn=accounts", Eq("objectClass", "person"), "uid"},
	entities.KindGroup:      {"cn=groups,cn=accounts", Eq("objectClass", "ipausergroup"), "cn"},
	entities.KindHostGroup:  {"cn=hostgroups,cn=accounts", Eq("objectClass", "ipahostgroup"), "cn"},
	entities.KindHBACRule:   {"cn=hbac", Eq("objectClass", "ipahbacrule"), "cn"},
	entities.KindSudoRule:   {"cn=sudorules,cn=sudo", Eq("objectClass", "ipasudorule"), "cn"},
	entities.KindRole:       {"cn=roles,cn=accounts", Eq("objectClass", "groupofnames"), "cn"},
	entities.KindPrivilege:  {"cn=privileges,cn=pbac", Eq("objectClass", "groupofnames"), "cn"},
	entities.KindPermission: {"cn=permissions,cn=pbac", permissionFilter, "cn"},
	entities.KindService:    {"cn=services,cn=accounts", Eq("objectClass", "krbprincipal"), "krbcanonicalname"},
}

// Source implements the engine's actual-state loading over a bound
// LDAP connection.
type Source struct {
	baseDN   string
	pageSize uint32
	conn     *ldap.Conn
}

// Connect dials and binds the directory. The bind identity needs read
// access to the accounts, hbac, sudo and pbac subtrees.
func Connect(host, bindDN, password, baseDN string, pageSize uint32) (*Source, error) {
	conn, err := ldap.DialURL(fmt.Sprintf("ldaps://%s:636", host))
	if err != nil {
		return nil, fmt.Errorf("dialing LDAP server %s: %w", host, err)
	}
	if err := conn.Bind(bindDN, password); err != nil {
		conn.Close()
		return nil, fmt.Errorf("binding as %s: %w", bindDN, err)
	}
	log.Debug().Str("host", host).Str("bind", bindDN).Msg("LDAP source connected")
	return &Source{baseDN: baseDN, pageSize: pageSize, conn: conn}, nil
}

func (s *Source) Close() {
	s.conn.Close()
}

// FindAll loads every entity of one kind from its directory container.
func (s *Source) FindAll(ctx context.Context, kind entities.Kind) ([]*entities.Entity, error) {
	location, ok := locations[kind]
	if !ok {
		return nil, fmt.Errorf("no directory location for kind %q", kind)
	}

	var loaded []*entities.Entity
	err := s.pagedSearch(ctx, location.container+","+s.baseDN, location.filter, func(entry *ldap.Entry) error {
		record := s.recordFromEntry(kind, entry)
		entity, err := entities.FromDirectory(kind, record)
		if err != nil {
			return fmt.Errorf("entry %s: %w", entry.DN, err)
		}
		loaded = append(loaded, entity)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("searching %s entries: %w", kind, err)
	}
	return loaded, nil
}

// pagedSearch runs a paged subtree search and invokes the callback per
// entry until the server stops returning a paging cookie.
func (s *Source) pagedSearch(ctx context.Context, baseDN string, filter Filter, process func(*ldap.Entry) error) error {
	pageControl := ldap.NewControlPaging(s.pageSize)
	request := ldap.NewSearchRequest(
		baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		filter.String(),
		[]string{},
		[]ldap.Control{pageControl},
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		results, err := s.conn.Search(request)
		if err != nil {
			return fmt.Errorf("LDAP search failed: %w", err)
		}
		for _, entry := range results.Entries {
			if err := process(entry); err != nil {
				return err
			}
		}

		paging := ldap.FindControl(results.Controls, ldap.ControlTypePaging)
		if paging == nil {
			break
		}
		cookie := paging.(*ldap.ControlPaging).Cookie
		if len(cookie) == 0 {
			break
		}
		pageControl.SetCookie(cookie)
	}
	return nil
}

// recordFromEntry converts an LDAP entry into the record shape the API
// find commands produce: lowercased attribute names, plus the
// member_<kind>, memberof_<kind> and rule member attributes derived
// from DN-valued membership attributes.
func (s *Source) recordFromEntry(kind entities.Kind, entry *ldap.Entry) freeipa.Record {
	record := make(freeipa.Record, len(entry.Attributes))
	for _, attr := range entry.Attributes {
		record[strings.ToLower(attr.Name)] = anyValues(attr.Values)
	}

	for _, dn := range entry.GetAttributeValues("member") {
		if memberKind, name, ok := s.entityFromDN(dn); ok {
			appendValue(record, "member_"+string(memberKind), name)
		}
	}
	for _, dn := range entry.GetAttributeValues("memberOf") {
		if targetKind, name, ok := s.entityFromDN(dn); ok {
			appendValue(record, "memberof_"+string(targetKind), name)
		}
	}

	desc, _ := entities.Describe(kind)
	if desc != nil && desc.IsRule() {
		for _, dn := range entry.GetAttributeValues("memberHost") {
			if memberKind, name, ok := s.entityFromDN(dn); ok && memberKind == entities.KindHostGroup {
				appendValue(record, "memberhost_hostgroup", name)
			}
		}
		for _, dn := range entry.GetAttributeValues("memberUser") {
			if memberKind, name, ok := s.entityFromDN(dn); ok && memberKind == entities.KindGroup {
				appendValue(record, "memberuser_group", name)
			}
		}
	}

	return record
}

// entityFromDN resolves a membership DN to the (kind, name) it points
// at, based on the entry's container.
func (s *Source) entityFromDN(dn string) (entities.Kind, string, bool) {
	parsed, err := ldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
		return "", "", false
	}
	name := parsed.RDNs[0].Attributes[0].Value

	lower := strings.ToLower(dn)
	for kind, location := range locations {
		if strings.Contains(lower, location.container+",") {
			return kind, name, true
		}
	}
	return "", "", false
}

func anyValues(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func appendValue(record freeipa.Record, attr, value string) {
	existing, _ := record[attr].([]any)
	record[attr] = append(existing, value)
}
