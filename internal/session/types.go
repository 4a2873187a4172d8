package session

import "time"

// Identity is an authenticated principal as returned by the backend's auth
// endpoints. The access token is an opaque bearer credential; callers must
// not assume it stays stable across gateway calls.
type Identity struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Role enumerates the application roles stored on a profile row.
type Role string

const (
	RoleMember      Role = "member"
	RoleVolunteer   Role = "volunteer"
	RoleChurchAdmin Role = "church_admin"
	RoleAdmin       Role = "admin"
	RoleSuperAdmin  Role = "super_admin"
	RoleClergy      Role = "clergy"
)

// Valid reports whether the role is one of the known values. Unknown roles
// are treated as RoleMember by the advisory predicates.
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleVolunteer, RoleChurchAdmin, RoleAdmin, RoleSuperAdmin, RoleClergy:
		return true
	}
	return false
}

// Profile is the application's own record for an identity: role, assigned
// church and display fields. It exists only after a successful lookup; a
// logged-in identity without a profile is a valid degraded state.
type Profile struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	ChurchID    string    `json:"church_id,omitempty"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot is the complete published session state. Subscribers always
// receive a whole snapshot, never a partial update: when Identity is set the
// profile fetch has already been attempted (Profile may still be nil).
type Snapshot struct {
	Identity *Identity
	Profile  *Profile
	Ready    bool
}

// SignedIn reports whether the snapshot carries an authenticated identity.
func (s Snapshot) SignedIn() bool { return s.Identity != nil }

// CredentialChange is emitted by the gateway whenever the underlying
// credential moves: sign-in, silent token refresh, or sign-out (Identity
// nil). The store re-resolves the profile on every change.
type CredentialChange struct {
	Identity *Identity
}
