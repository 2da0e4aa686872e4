package notifications

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/servicehub-backend/pkg/db/models"
)

// Repository resolves who should hear about a payment.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ProviderUserID(ctx context.Context, providerID uuid.UUID) (uuid.UUID, error)
	CreateInbox(ctx context.Context, rows []models.Notification) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ProviderUserID(ctx context.Context, providerID uuid.UUID) (uuid.UUID, error) {
	var provider models.Provider
	err := r.db.WithContext(ctx).
		Select("id", "user_id").
		Where("id = ?", providerID).
		First(&provider).Error
	return provider.UserID, err
}

// CreateInbox inserts in-app notifications, skipping rows already stored for the same event and user.
func (r *repository) CreateInbox(ctx context.Context, rows []models.Notification) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&rows)
	return res.RowsAffected, res.Error
}
