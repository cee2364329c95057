package domain

// Capability names a privileged action an actor may perform beyond its role.
// Capabilities arrive with the authenticated actor from the routing layer and
// are checked at the point of use, not only at the route gate.
type Capability string

const (
	// CapRevealSensitive permits decrypting ENCRYPTED fields via the
	// audited reveal operation.
	CapRevealSensitive Capability = "can_reveal_sensitive"
	// CapModifyPolicy permits changing the retention policy table.
	CapModifyPolicy Capability = "can_modify_policy"
)

// Actor is the authenticated identity accompanying every call into the core.
// The zero value represents an unauthenticated caller and holds no capabilities.
type Actor struct {
	ID           string
	Role         Role
	Capabilities []Capability
}

// Can reports whether the actor holds the given capability.
func (a Actor) Can(cap Capability) bool {
	for _, c := range a.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// System is the actor attributed to background tasks such as the retention
// scheduler. It holds no reveal capability; purge destroys, never decrypts.
func System() Actor {
	return Actor{ID: "system", Role: RoleAdmin}
}
