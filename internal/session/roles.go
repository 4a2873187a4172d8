package session

// Advisory authorization predicates. These drive UI visibility only: the
// backend's row-level security is the authority and re-checks every request
// no matter what these functions return.

// IsGlobalAdmin reports whether the profile carries diocese-wide
// administrative rights.
func IsGlobalAdmin(p *Profile) bool {
	if p == nil {
		return false
	}
	return p.Role == RoleAdmin || p.Role == RoleSuperAdmin
}

// IsClergy reports whether the profile belongs to an ordained minister.
func IsClergy(p *Profile) bool {
	return p != nil && p.Role == RoleClergy
}

// CanManageChurch reports whether the profile may administer the given
// church: global admins everywhere, church admins and clergy only where
// assigned.
func CanManageChurch(p *Profile, churchID string) bool {
	if p == nil || churchID == "" {
		return false
	}
	if IsGlobalAdmin(p) {
		return true
	}
	switch p.Role {
	case RoleChurchAdmin, RoleClergy:
		return p.ChurchID == churchID
	}
	return false
}

// CanVerifyDonations reports whether the profile may confirm or reject
// donation records for the given church.
func CanVerifyDonations(p *Profile, churchID string) bool {
	return CanManageChurch(p, churchID)
}

// CanReviewAppointments reports whether the profile may approve or reject
// sacrament bookings for the given church. Volunteers assigned to the
// church may review, but not approve.
func CanReviewAppointments(p *Profile, churchID string) bool {
	if CanManageChurch(p, churchID) {
		return true
	}
	return p != nil && p.Role == RoleVolunteer && p.ChurchID == churchID
}

// CanPublishAnnouncements reports whether the profile may create or edit
// announcements scoped to the given church; an empty churchID means a
// diocese-wide announcement, reserved for global admins.
func CanPublishAnnouncements(p *Profile, churchID string) bool {
	if p == nil {
		return false
	}
	if churchID == "" {
		return IsGlobalAdmin(p)
	}
	return CanManageChurch(p, churchID)
}
