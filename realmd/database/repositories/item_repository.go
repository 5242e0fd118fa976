package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/duskridge/realmd/realmd/database/models"
	"github.com/uptrace/bun"
)

type ItemRepository interface {
	DB() *bun.DB
	GetAll(ctx context.Context) ([]models.ItemDefinition, error)
	GetByID(ctx context.Context, id int64) (*models.ItemDefinition, error)
	Upsert(ctx context.Context, item *models.ItemDefinition) error
}

type itemRepository struct {
	db *bun.DB
}

func NewItemRepository(db *bun.DB) ItemRepository {
	return &itemRepository{db: db}
}

func (r *itemRepository) DB() *bun.DB {
	return r.db
}

func (r *itemRepository) GetAll(ctx context.Context) ([]models.ItemDefinition, error) {
	var items []models.ItemDefinition
	err := r.db.NewSelect().
		Model(&items).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load item definitions: %w", err)
	}
	return items, nil
}

func (r *itemRepository) GetByID(ctx context.Context, id int64) (*models.ItemDefinition, error) {
	item := new(models.ItemDefinition)
	err := r.db.NewSelect().
		Model(item).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("unknown item %d", id)
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

func (r *itemRepository) Upsert(ctx context.Context, item *models.ItemDefinition) error {
	item.UpdatedAt = time.Now()
	_, err := r.db.NewInsert().
		Model(item).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("stackable = EXCLUDED.stackable").
		Set("tradeable = EXCLUDED.tradeable").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}
	return nil
}
