package auth

// Ownership is the minimal projection of a deal needed for authorization.
// OwnerID is always set; the other two fields may be empty.
type Ownership struct {
	OwnerID      string
	AssignedToID string
	TeamID       string
}

// CanManageUsers gates the administrative user endpoints.
func CanManageUsers(r Role) bool {
	return r.AtLeast(RoleAdmin)
}

// CanManageTeams gates the administrative team endpoints.
func CanManageTeams(r Role) bool {
	return r.AtLeast(RoleAdmin)
}

// CanAccessDeal decides resource-level access. The caller must look up team
// membership and pass it in; there is no permissive default for architects
// on deals without a resolvable team.
//
// Evaluation order: admin always; architect if a member of the deal's team,
// otherwise only for deals they personally own or are assigned; sales
// director only for deals they own or are assigned; every other role denied.
func CanAccessDeal(ident Identity, own Ownership, teamMember bool) bool {
	switch ident.Role {
	case RoleAdmin:
		return true
	case RoleSolutionsArchitect:
		if own.TeamID != "" && teamMember {
			return true
		}
		return isOwnerOrAssignee(ident, own)
	case RoleSalesDirector:
		return isOwnerOrAssignee(ident, own)
	default:
		return false
	}
}

func isOwnerOrAssignee(ident Identity, own Ownership) bool {
	if ident.SubjectID == "" {
		return false
	}
	return ident.SubjectID == own.OwnerID ||
		(own.AssignedToID != "" && ident.SubjectID == own.AssignedToID)
}
