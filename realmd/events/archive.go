package events

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	archiveTimeout   = 3 * time.Second
	archiveQueueSize = 256
)

// Archive persists trade lifecycle events to MongoDB for history and
// support tooling. Writes are best-effort: events go through a bounded
// queue drained by Run, so a slow or down MongoDB drops history instead
// of stalling the game path.
type Archive struct {
	coll  *mongo.Collection
	queue chan Event
}

func NewArchive(ctx context.Context, uri, database string) (*Archive, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return &Archive{
		coll:  client.Database(database).Collection("trade_events"),
		queue: make(chan Event, archiveQueueSize),
	}, nil
}

// Attach subscribes the archive to trade lifecycle events on the bus.
// Enqueueing never blocks the publisher.
func (a *Archive) Attach(bus *Bus) {
	bus.Subscribe(func(e Event) {
		switch e.Type {
		case TradeCompleted, TradeCancelled:
			select {
			case a.queue <- e:
			default:
				slog.Warn("Archive queue full, dropping event",
					slog.String("type", "error"),
					slog.String("event", string(e.Type)),
					slog.String("trade_id", e.TradeID))
			}
		}
	})
}

// Run drains the queue until ctx is cancelled, then writes whatever is
// still queued before returning.
func (a *Archive) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e := <-a.queue:
					a.record(e)
				default:
					return
				}
			}
		case e := <-a.queue:
			a.record(e)
		}
	}
}

func (a *Archive) record(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	if _, err := a.coll.InsertOne(ctx, e); err != nil {
		slog.Error("Failed to archive trade event",
			slog.String("type", "error"),
			slog.String("event", string(e.Type)),
			slog.String("trade_id", e.TradeID),
			slog.Any("error", err))
	}
}

func (a *Archive) Close(ctx context.Context) error {
	return a.coll.Database().Client().Disconnect(ctx)
}
