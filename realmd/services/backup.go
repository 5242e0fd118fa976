package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disgoorg/snowflake/v2"

	"github.com/duskridge/realmd/realmd/database/models"
	"github.com/duskridge/realmd/realmd/database/repositories"
)

// BackupService writes periodic JSON snapshots of every player's
// containers to object storage. Snapshots are an operator recovery tool,
// not part of the persistence path.
type BackupService struct {
	client     *s3.Client
	bucket     string
	interval   time.Duration
	playerRepo repositories.PlayerRepository
	invRepo    repositories.InventoryRepository
	bankRepo   repositories.BankRepository
}

type playerSnapshot struct {
	PlayerID  snowflake.ID            `json:"player_id"`
	Inventory []models.InventoryEntry `json:"inventory"`
	Bank      []models.BankEntry      `json:"bank"`
}

type snapshot struct {
	TakenAt time.Time        `json:"taken_at"`
	Players []playerSnapshot `json:"players"`
}

func NewBackupService(key, secret, region, bucket string, interval time.Duration,
	playerRepo repositories.PlayerRepository, invRepo repositories.InventoryRepository, bankRepo repositories.BankRepository) (*BackupService, error) {

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: fmt.Sprintf("https://%s.digitaloceanspaces.com", region),
		}, nil
	})

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load backup storage config: %w", err)
	}

	return &BackupService{
		client:     s3.NewFromConfig(cfg),
		bucket:     bucket,
		interval:   interval,
		playerRepo: playerRepo,
		invRepo:    invRepo,
		bankRepo:   bankRepo,
	}, nil
}

func (b *BackupService) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Snapshot(ctx); err != nil {
				slog.Error("Backup snapshot failed",
					slog.String("type", "sys"),
					slog.Any("error", err))
			}
		}
	}
}

// Snapshot reads every player's persisted containers and uploads one
// timestamped JSON document.
func (b *BackupService) Snapshot(ctx context.Context) error {
	start := time.Now()

	ids, err := b.playerRepo.GetAllIDs(ctx)
	if err != nil {
		return err
	}

	snap := snapshot{TakenAt: start, Players: make([]playerSnapshot, 0, len(ids))}
	for _, id := range ids {
		inv, err := b.invRepo.GetByPlayerID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to read inventory of player %d: %w", id, err)
		}
		bank, err := b.bankRepo.GetByPlayerID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to read bank of player %d: %w", id, err)
		}
		snap.Players = append(snap.Players, playerSnapshot{PlayerID: id, Inventory: inv, Bank: bank})
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	key := fmt.Sprintf("snapshots/%s.json", start.UTC().Format("2006-01-02T15-04-05"))
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot: %w", err)
	}

	slog.Info("Backup snapshot uploaded",
		slog.String("type", "sys"),
		slog.String("key", key),
		slog.Int("players", len(snap.Players)),
		slog.Duration("took", time.Since(start)))
	return nil
}
