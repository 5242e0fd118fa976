package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/duskridge/realmd/realmd/database/models"
	"github.com/uptrace/bun"
)

type PlayerRepository interface {
	DB() *bun.DB
	Create(ctx context.Context, player *models.Player) error
	GetByID(ctx context.Context, id snowflake.ID) (*models.Player, error)
	GetAllIDs(ctx context.Context) ([]snowflake.ID, error)
}

type playerRepository struct {
	db *bun.DB
}

func NewPlayerRepository(db *bun.DB) PlayerRepository {
	return &playerRepository{db: db}
}

func (r *playerRepository) DB() *bun.DB {
	return r.db
}

func (r *playerRepository) Create(ctx context.Context, player *models.Player) error {
	player.CreatedAt = time.Now()
	player.UpdatedAt = time.Now()
	if _, err := r.db.NewInsert().Model(player).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create player: %w", err)
	}
	return nil
}

func (r *playerRepository) GetByID(ctx context.Context, id snowflake.ID) (*models.Player, error) {
	player := new(models.Player)
	err := r.db.NewSelect().
		Model(player).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("player not found")
		}
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return player, nil
}

func (r *playerRepository) GetAllIDs(ctx context.Context) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := r.db.NewSelect().
		Model((*models.Player)(nil)).
		Column("id").
		Order("id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	return ids, nil
}
