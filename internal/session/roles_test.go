package session

import "testing"

func TestRolePredicates(t *testing.T) {
	t.Parallel()

	admin := &Profile{ID: "a", Role: RoleAdmin}
	super := &Profile{ID: "s", Role: RoleSuperAdmin}
	churchAdmin := &Profile{ID: "ca", Role: RoleChurchAdmin, ChurchID: "c1"}
	clergy := &Profile{ID: "cl", Role: RoleClergy, ChurchID: "c1"}
	volunteer := &Profile{ID: "v", Role: RoleVolunteer, ChurchID: "c1"}
	member := &Profile{ID: "m", Role: RoleMember, ChurchID: "c1"}

	cases := []struct {
		name string
		got  bool
		want bool
	}{
		{"nil profile is never admin", IsGlobalAdmin(nil), false},
		{"admin is global admin", IsGlobalAdmin(admin), true},
		{"super admin is global admin", IsGlobalAdmin(super), true},
		{"clergy is not global admin", IsGlobalAdmin(clergy), false},
		{"admin manages any church", CanManageChurch(admin, "c9"), true},
		{"church admin manages own church", CanManageChurch(churchAdmin, "c1"), true},
		{"church admin cannot manage other church", CanManageChurch(churchAdmin, "c2"), false},
		{"clergy manages assigned church", CanManageChurch(clergy, "c1"), true},
		{"member manages nothing", CanManageChurch(member, "c1"), false},
		{"empty church id manages nothing", CanManageChurch(admin, ""), false},
		{"volunteer reviews assigned church", CanReviewAppointments(volunteer, "c1"), true},
		{"volunteer cannot review elsewhere", CanReviewAppointments(volunteer, "c2"), false},
		{"member cannot review", CanReviewAppointments(member, "c1"), false},
		{"global announcement needs global admin", CanPublishAnnouncements(churchAdmin, ""), false},
		{"admin publishes globally", CanPublishAnnouncements(admin, ""), true},
		{"clergy publishes for own church", CanPublishAnnouncements(clergy, "c1"), true},
		{"volunteer cannot verify donations", CanVerifyDonations(volunteer, "c1"), false},
		{"church admin verifies donations", CanVerifyDonations(churchAdmin, "c1"), true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Fatalf("got %v, want %v", tc.got, tc.want)
			}
		})
	}
}

func TestRoleValid(t *testing.T) {
	t.Parallel()

	for _, r := range []Role{RoleMember, RoleVolunteer, RoleChurchAdmin, RoleAdmin, RoleSuperAdmin, RoleClergy} {
		if !r.Valid() {
			t.Fatalf("%s should be valid", r)
		}
	}
	if Role("bishop").Valid() {
		t.Fatal("unknown role must not validate")
	}
}
