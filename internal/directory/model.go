package directory

import "time"

// Role orders project access levels. The coordinator only ever asks the
// binary "role >= viewer" question; the full ordering exists for the REST
// surface and future policy.
type Role int

const (
	RoleNone Role = iota
	RoleViewer
	RoleEditor
	RoleOwner
)

// AtLeast reports whether the role meets the given threshold.
func (r Role) AtLeast(threshold Role) bool {
	return r >= threshold
}

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleEditor:
		return "editor"
	case RoleOwner:
		return "owner"
	default:
		return "none"
	}
}

// ParseRole maps a stored role column to its ordering. Unknown values rank
// as none rather than failing, so a bad row cannot grant access.
func ParseRole(value string) Role {
	switch value {
	case "viewer":
		return RoleViewer
	case "editor":
		return RoleEditor
	case "owner":
		return RoleOwner
	default:
		return RoleNone
	}
}

// Account is one user row in the QAA directory.
type Account struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	Email       string    `gorm:"column:email;size:320"`
	IsActive    bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing directory accounts.
func (Account) TableName() string {
	return "accounts"
}

// Project is one project row; the owner column grants implicit owner role.
type Project struct {
	ProjectID   string    `gorm:"column:project_id;primaryKey;size:190;not null"`
	Name        string    `gorm:"column:name;size:320"`
	OwnerUserID string    `gorm:"column:owner_user_id;size:190;not null;index"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing projects.
func (Project) TableName() string {
	return "projects"
}

// Collaborator grants an explicit role on a project to a non-owner.
type Collaborator struct {
	ProjectID string    `gorm:"column:project_id;primaryKey;size:190;not null"`
	UserID    string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Role      string    `gorm:"column:role;size:32;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing project collaborators.
func (Collaborator) TableName() string {
	return "project_collaborators"
}
