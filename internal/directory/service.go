package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/appcontentbiz/QAA/internal/auth"
	"gorm.io/gorm"
)

// ErrProjectNotFound indicates the project does not exist in the directory.
var ErrProjectNotFound = errors.New("directory: project not found")

// ServiceConfig describes the dependencies for directory lookups.
type ServiceConfig struct {
	Database *gorm.DB
}

// Service answers the read-only directory questions the coordinator needs:
// who a user is, and what role they hold on a project. Account and project
// provisioning happen elsewhere in the platform.
type Service struct {
	db *gorm.DB
}

// NewService constructs the directory service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("directory: database connection required")
	}
	return &Service{db: cfg.Database}, nil
}

// Account resolves a user id; the second result reports existence.
func (s *Service) Account(ctx context.Context, userID string) (auth.Account, bool, error) {
	var account Account
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&account).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return auth.Account{}, false, nil
	}
	if err != nil {
		return auth.Account{}, false, err
	}
	return auth.Account{
		UserID:      account.UserID,
		DisplayName: account.DisplayName,
		IsActive:    account.IsActive,
	}, true, nil
}

// ProjectRole resolves the role the user holds on the project: the owner
// column grants owner, a collaborator row grants its stored role, anything
// else is none. A missing project returns ErrProjectNotFound.
func (s *Service) ProjectRole(ctx context.Context, projectID, userID string) (Role, error) {
	var project Project
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		First(&project).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RoleNone, ErrProjectNotFound
	}
	if err != nil {
		return RoleNone, err
	}
	if project.OwnerUserID == userID {
		return RoleOwner, nil
	}

	var collaborator Collaborator
	err = s.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		First(&collaborator).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RoleNone, nil
	}
	if err != nil {
		return RoleNone, err
	}
	return ParseRole(collaborator.Role), nil
}

// HasProjectAccess reports whether the user holds at least viewer access.
// A missing project denies rather than errors, matching the join semantics.
func (s *Service) HasProjectAccess(ctx context.Context, projectID, userID string) (bool, error) {
	role, err := s.ProjectRole(ctx, projectID, userID)
	if errors.Is(err, ErrProjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return role.AtLeast(RoleViewer), nil
}
