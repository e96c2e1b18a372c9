package auth

// Authority is the coarse permission tier of a session. Guest < Member < Admin.
type Authority int

const (
	Guest Authority = iota
	Member
	Admin
)

func (a Authority) String() string {
	switch a {
	case Admin:
		return "admin"
	case Member:
		return "member"
	default:
		return "guest"
	}
}

// ParseAuthority maps a stored authority name to its tier. Unknown values
// fall back to Guest.
func ParseAuthority(s string) Authority {
	switch s {
	case "admin":
		return Admin
	case "member":
		return Member
	default:
		return Guest
	}
}

// Authentication is a validated session: who the caller is and what they
// may do. It is referenced by value, never owned by a Domain.
type Authentication struct {
	UserID    uint64
	UserName  string
	Authority Authority
	Token     string
}

// IsAtLeast reports whether the session meets the required authority tier.
func (a Authentication) IsAtLeast(required Authority) bool {
	return a.Authority >= required
}
