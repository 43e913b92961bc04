package ldapsource

import "testing"

func TestFilterComposition(t *testing.T) {
	type testCase struct {
		name   string
		filter Filter
		want   string
	}
	tests := []testCase{
		{"equality", Eq("objectClass", "person"), "(objectClass=person)"},
		{"presence", Present("cn"), "(cn=*)"},
		{
			"conjunction",
			And(Present("cn"), Eq("objectClass", "ipahostgroup")),
			"(&(cn=*)(objectClass=ipahostgroup))",
		},
		{
			"disjunction",
			Or(Eq("objectClass", "ipapermission"), Eq("objectClass", "ipapermissionv2")),
			"(|(objectClass=ipapermission)(objectClass=ipapermissionv2))",
		},
		{
			"permission location",
			permissionFilter,
			"(&(cn=*)(|(objectClass=ipapermission)(objectClass=ipapermissionv2)))",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.filter.String(); got != test.want {
				t.Errorf("filter = %q, want %q", got, test.want)
			}
		})
	}
}
