package rbac

type Role string
type Permission string

const (
	RoleViewer   Role = "viewer"
	RoleUploader Role = "uploader"
	RoleReviewer Role = "reviewer"
	RoleAdmin    Role = "admin"
)

const (
	PermFileRead       Permission = "file:read"
	PermFileUpload     Permission = "file:upload"
	PermFileDelete     Permission = "file:delete"
	PermFileExport     Permission = "file:export"
	PermValidate       Permission = "validation:write"
	PermAssign         Permission = "assignment:manage"
	PermIssueReport    Permission = "issue:report"
	PermIssueResolve   Permission = "issue:resolve"
	PermActivityRead   Permission = "activity:read"
	PermUserManage     Permission = "user:manage"
)

var rolePermissions = map[Role][]Permission{
	RoleViewer: {PermFileRead},
	RoleUploader: {
		PermFileRead, PermFileUpload, PermIssueReport,
	},
	RoleReviewer: {
		PermFileRead, PermFileExport, PermValidate, PermIssueReport, PermActivityRead,
	},
	// admin holds every permission via Can
}

var allPermissions = []Permission{
	PermFileRead, PermFileUpload, PermFileDelete, PermFileExport,
	PermValidate, PermAssign, PermIssueReport, PermIssueResolve,
	PermActivityRead, PermUserManage,
}

// Permissions lists the permission strings a role holds.
func Permissions(role Role) []Permission {
	if role == RoleAdmin {
		return append([]Permission(nil), allPermissions...)
	}
	return append([]Permission(nil), rolePermissions[role]...)
}

func Can(role Role, perm Permission) bool {
	if role == RoleAdmin {
		return true
	}
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleUploader, RoleReviewer, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
