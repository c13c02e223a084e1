package presence

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-edge-chat/pkg/chat"
)

const (
	presenceCollection  = "presence"
	liveEdgesCollection = "live-edges"
	countersCollection  = "counters"
	edgeSequenceDoc     = "edge-sequence"
)

// presenceDoc is stored at `<prefix>presence/<connection id>`. When a lease is
// configured, ExpiresAt can back a Firestore TTL policy.
type presenceDoc struct {
	EdgeID    string    `firestore:"edge_id"`
	ExpiresAt time.Time `firestore:"expires_at,omitempty"`
}

type liveEdgeDoc struct {
	RegisteredAt time.Time `firestore:"registered_at"`
}

type counterDoc struct {
	Value int64 `firestore:"value"`
}

// FirestoreDirectory implements chat.Directory using Google Cloud Firestore.
// Each connection has exactly one document, so Resolve is a single read.
type FirestoreDirectory struct {
	client *firestore.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// NewFirestoreDirectory is the constructor for the FirestoreDirectory.
// collectionPrefix namespaces the collections it uses.
func NewFirestoreDirectory(client *firestore.Client, collectionPrefix string, ttl time.Duration, logger zerolog.Logger) (*FirestoreDirectory, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	return &FirestoreDirectory{
		client: client,
		prefix: collectionPrefix,
		ttl:    ttl,
		logger: logger.With().Str("component", "FirestoreDirectory").Logger(),
		now:    time.Now,
	}, nil
}

func (d *FirestoreDirectory) Register(ctx context.Context, id chat.ConnectionID, edgeID string) error {
	doc := presenceDoc{EdgeID: edgeID}
	if d.ttl > 0 {
		doc.ExpiresAt = d.now().UTC().Add(d.ttl)
	}
	if _, err := d.presence(id).Set(ctx, doc); err != nil {
		return unavailable("set", id.String(), err)
	}
	return nil
}

func (d *FirestoreDirectory) Unregister(ctx context.Context, id chat.ConnectionID) error {
	if _, err := d.presence(id).Delete(ctx); err != nil {
		return unavailable("delete", id.String(), err)
	}
	return nil
}

func (d *FirestoreDirectory) Exists(ctx context.Context, id chat.ConnectionID) (bool, error) {
	edges, err := d.Resolve(ctx, id)
	if err != nil {
		return false, err
	}
	return len(edges) > 0, nil
}

// Resolve reads the presence document; expired leases count as absent even
// before the TTL policy deletes them.
func (d *FirestoreDirectory) Resolve(ctx context.Context, id chat.ConnectionID) ([]string, error) {
	snap, err := d.presence(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get", id.String(), err)
	}

	var doc presenceDoc
	if err := snap.DataTo(&doc); err != nil {
		d.logger.Warn().Err(err).Str("connection", id.String()).Msg("Unreadable presence document, treating as absent")
		return nil, nil
	}
	if !doc.ExpiresAt.IsZero() && d.now().After(doc.ExpiresAt) {
		return nil, nil
	}
	if doc.EdgeID == "" {
		return nil, nil
	}
	return []string{doc.EdgeID}, nil
}

func (d *FirestoreDirectory) AddEdge(ctx context.Context, edgeID string) error {
	ref := d.client.Collection(d.prefix + liveEdgesCollection).Doc(edgeID)
	if _, err := ref.Set(ctx, liveEdgeDoc{RegisteredAt: d.now().UTC()}); err != nil {
		return unavailable("set", edgeID, err)
	}
	return nil
}

func (d *FirestoreDirectory) RemoveEdge(ctx context.Context, edgeID string) error {
	ref := d.client.Collection(d.prefix + liveEdgesCollection).Doc(edgeID)
	if _, err := ref.Delete(ctx); err != nil {
		return unavailable("delete", edgeID, err)
	}
	return nil
}

func (d *FirestoreDirectory) LiveEdges(ctx context.Context) ([]string, error) {
	snaps, err := d.client.Collection(d.prefix + liveEdgesCollection).Documents(ctx).GetAll()
	if err != nil {
		return nil, unavailable("list", liveEdgesCollection, err)
	}
	edges := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		edges = append(edges, snap.Ref.ID)
	}
	return edges, nil
}

// NextEdgeSequence increments the counter document inside a transaction.
func (d *FirestoreDirectory) NextEdgeSequence(ctx context.Context) (uint32, error) {
	ref := d.client.Collection(d.prefix + countersCollection).Doc(edgeSequenceDoc)

	var next int64
	err := d.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var counter counterDoc
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			if err := snap.DataTo(&counter); err != nil {
				return err
			}
		}
		next = counter.Value + 1
		return tx.Set(ref, counterDoc{Value: next})
	})
	if err != nil {
		return 0, unavailable("increment", edgeSequenceDoc, err)
	}
	return maskEdgeSequence(next, d.logger), nil
}

func (d *FirestoreDirectory) Close() error {
	return d.client.Close()
}

func (d *FirestoreDirectory) presence(id chat.ConnectionID) *firestore.DocumentRef {
	return d.client.Collection(d.prefix + presenceCollection).Doc(id.String())
}
