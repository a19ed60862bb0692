package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "viewer read", role: RoleViewer, action: ActionRead, allow: true},
		{name: "viewer write", role: RoleViewer, action: ActionWrite, allow: false},
		{name: "admin read", role: RoleAdmin, action: ActionRead, allow: true},
		{name: "admin write", role: RoleAdmin, action: ActionWrite, allow: true},
		{name: "unknown role", role: Role("guest"), action: ActionRead, allow: false},
		{name: "unknown action", role: RoleAdmin, action: Action("delete-everything"), allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("admin") != RoleAdmin {
		t.Fatal("expected admin")
	}
	if Normalize("editor") != RoleViewer {
		t.Fatal("unknown roles must fall back to viewer")
	}
}
