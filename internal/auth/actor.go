package auth

import "github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"

// Actor is whoever invokes a core operation.
type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Elevated reports whether the actor holds the admin/supervisor/gerente capability.
func (a Actor) Elevated() bool { return enum.IsElevated(a.Role) }

// System is the actor for automated operations.
var System = Actor{Username: "sistema", Role: enum.RoleAdmin}
