package auth

import "fmt"

// Role is the closed set of principal kinds the platform knows. Branching on
// roles is done with exhaustive switches over these constants, never on raw
// strings.
type Role int

const (
	RoleUnknown Role = iota
	RoleAdmin
	RoleDoctor
	RolePatient
	RoleReceptionist
)

// ParseRole maps a token claim to a Role. Unrecognized input is an error,
// not a silent RoleUnknown.
func ParseRole(s string) (Role, error) {
	switch s {
	case "admin":
		return RoleAdmin, nil
	case "doctor":
		return RoleDoctor, nil
	case "patient":
		return RolePatient, nil
	case "receptionist":
		return RoleReceptionist, nil
	default:
		return RoleUnknown, fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleDoctor:
		return "doctor"
	case RolePatient:
		return "patient"
	case RoleReceptionist:
		return "receptionist"
	case RoleUnknown:
		return "unknown"
	}
	return "unknown"
}
