package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrOrganizationNotFound = errors.New("organization_not_found")

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, org Organization) error
	FindByID(ctx context.Context, orgID snowflake.ID) (*Organization, error)
	UpdateCloudConfig(ctx context.Context, orgID snowflake.ID, cfg CloudConfig) error
}
