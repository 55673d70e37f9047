package database

import "fmt"

// AccessMode selects whether a store call is scoped to one user.
type AccessMode string

const (
	ModeAdmin AccessMode = "admin"
	ModeUser  AccessMode = "user"
)

// Access is passed explicitly into every store call. Admin access is
// unscoped and is what background workers use; user access only sees rows
// owned by UserID.
type Access struct {
	Mode   AccessMode
	UserID string
}

func Admin() Access {
	return Access{Mode: ModeAdmin}
}

func AsUser(userID string) Access {
	return Access{Mode: ModeUser, UserID: userID}
}

func (a Access) IsAdmin() bool {
	return a.Mode == ModeAdmin
}

// Scope returns a WHERE fragment restricting column to the access owner,
// along with its bind arguments. Admin access yields an always-true clause.
func (a Access) Scope(column string) (string, []any) {
	if a.IsAdmin() {
		return "1 = 1", nil
	}
	return fmt.Sprintf("%s = ?", column), []any{a.UserID}
}

func (a Access) String() string {
	if a.IsAdmin() {
		return "admin"
	}
	return "user:" + a.UserID
}
