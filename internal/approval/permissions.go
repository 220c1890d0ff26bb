package approval

// Role is an ordinal role in the marketing workspace. Higher values carry
// broader capabilities.
type Role int

const (
	RoleViewer Role = iota
	RoleCreator
	RoleApprover
	RolePublisher
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleViewer:    "viewer",
	RoleCreator:   "creator",
	RoleApprover:  "approver",
	RolePublisher: "publisher",
	RoleAdmin:     "admin",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

// ParseRole maps a role name to its Role value. Unknown names resolve to
// RoleViewer with ok=false.
func ParseRole(name string) (Role, bool) {
	for role, n := range roleNames {
		if n == name {
			return role, true
		}
	}
	return RoleViewer, false
}

// Capability names a single permission checked by guards.
type Capability string

const (
	CanViewContent    Capability = "can_view_content"
	CanCreateContent  Capability = "can_create_content"
	CanApproveContent Capability = "can_approve_content"
	CanPublishContent Capability = "can_publish_content"
	CanManageUsers    Capability = "can_manage_users"
)

// Overrides grants or revokes capabilities for a single check, without
// touching the role defaults.
type Overrides map[Capability]bool

// defaultCapabilities is the fixed per-role capability table. It is never
// mutated; per-instance overrides are merged at check time.
var defaultCapabilities = map[Role]map[Capability]bool{
	RoleViewer: {
		CanViewContent: true,
	},
	RoleCreator: {
		CanViewContent:   true,
		CanCreateContent: true,
	},
	RoleApprover: {
		CanViewContent:    true,
		CanCreateContent:  true,
		CanApproveContent: true,
	},
	RolePublisher: {
		CanViewContent:    true,
		CanCreateContent:  true,
		CanApproveContent: true,
		CanPublishContent: true,
	},
	RoleAdmin: {
		CanViewContent:    true,
		CanCreateContent:  true,
		CanApproveContent: true,
		CanPublishContent: true,
		CanManageUsers:    true,
	},
}

// HasPermission reports whether the role holds the capability. An explicit
// override wins over the role default for this check only.
func HasPermission(role Role, capability Capability, overrides Overrides) bool {
	if overrides != nil {
		if granted, ok := overrides[capability]; ok {
			return granted
		}
	}
	caps, ok := defaultCapabilities[role]
	if !ok {
		return false
	}
	return caps[capability]
}

// HasMinimumRole reports whether role is at or above required in the ordinal
// chain viewer < creator < approver < publisher < admin.
func HasMinimumRole(role, required Role) bool {
	return role >= required
}

// Capabilities returns a copy of the effective capability set for a role with
// the given overrides applied.
func Capabilities(role Role, overrides Overrides) map[Capability]bool {
	effective := make(map[Capability]bool, len(defaultCapabilities[role]))
	for cap, granted := range defaultCapabilities[role] {
		effective[cap] = granted
	}
	for cap, granted := range overrides {
		effective[cap] = granted
	}
	return effective
}
