package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"vidtube-account-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

const (
	docTypeSubscription = "subscription"

	// findScanLimit overrides the Mango default of 25 rows.
	findScanLimit = 100000
)

type SubscriptionRepository interface {
	// Subscribe is idempotent: subscribing twice keeps one document.
	Subscribe(ctx context.Context, subscriberID, channelID string) error
	// Unsubscribe is idempotent: removing a missing subscription is not an error.
	Unsubscribe(ctx context.Context, subscriberID, channelID string) error
	IsSubscribed(ctx context.Context, subscriberID, channelID string) (bool, error)
	CountSubscribers(ctx context.Context, channelID string) (int, error)
	CountSubscriptions(ctx context.Context, subscriberID string) (int, error)
	ListBySubscriber(ctx context.Context, subscriberID string) ([]*domain.Subscription, error)
}

type subscriptionDoc struct {
	ID           string    `json:"_id"`
	Rev          string    `json:"_rev,omitempty"`
	DocType      string    `json:"doc_type"`
	SubscriberID string    `json:"subscriber_id"`
	ChannelID    string    `json:"channel_id"`
	CreatedAt    time.Time `json:"created_at"`
}

type subscriptionRepository struct {
	db *kivik.DB
}

func NewSubscriptionRepository(client *kivik.Client, dbName string) SubscriptionRepository {
	return &subscriptionRepository{
		db: client.DB(dbName),
	}
}

func subscriptionDocID(subscriberID, channelID string) string {
	return fmt.Sprintf("subscription:%s:%s", subscriberID, channelID)
}

func (r *subscriptionRepository) Subscribe(ctx context.Context, subscriberID, channelID string) error {
	doc := subscriptionDoc{
		ID:           subscriptionDocID(subscriberID, channelID),
		DocType:      docTypeSubscription,
		SubscriberID: subscriberID,
		ChannelID:    channelID,
		CreatedAt:    time.Now().UTC(),
	}

	if _, err := r.db.Put(ctx, doc.ID, doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return nil
		}
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	return nil
}

func (r *subscriptionRepository) Unsubscribe(ctx context.Context, subscriberID, channelID string) error {
	docID := subscriptionDocID(subscriberID, channelID)

	var doc subscriptionDoc
	if err := r.db.Get(ctx, docID).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("failed to get subscription: %w", err)
	}

	if _, err := r.db.Delete(ctx, docID, doc.Rev); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete subscription: %w", err)
	}

	return nil
}

func (r *subscriptionRepository) IsSubscribed(ctx context.Context, subscriberID, channelID string) (bool, error) {
	var doc subscriptionDoc
	if err := r.db.Get(ctx, subscriptionDocID(subscriberID, channelID)).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to get subscription: %w", err)
	}
	return true, nil
}

func (r *subscriptionRepository) CountSubscribers(ctx context.Context, channelID string) (int, error) {
	return r.count(ctx, map[string]interface{}{
		"doc_type":   docTypeSubscription,
		"channel_id": channelID,
	})
}

func (r *subscriptionRepository) CountSubscriptions(ctx context.Context, subscriberID string) (int, error) {
	return r.count(ctx, map[string]interface{}{
		"doc_type":      docTypeSubscription,
		"subscriber_id": subscriberID,
	})
}

func (r *subscriptionRepository) count(ctx context.Context, selector map[string]interface{}) (int, error) {
	query := map[string]interface{}{
		"selector": selector,
		"fields":   []string{"_id"},
		"limit":    findScanLimit,
	}

	rows := r.db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}

	return n, nil
}

func (r *subscriptionRepository) ListBySubscriber(ctx context.Context, subscriberID string) ([]*domain.Subscription, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type":      docTypeSubscription,
			"subscriber_id": subscriberID,
		},
		"limit": findScanLimit,
	}

	rows := r.db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []*domain.Subscription{}
	for rows.Next() {
		var doc subscriptionDoc
		if err := rows.ScanDoc(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, doc.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}

	return subs, nil
}

func (d *subscriptionDoc) toDomain() *domain.Subscription {
	return &domain.Subscription{
		SubscriberID: d.SubscriberID,
		ChannelID:    d.ChannelID,
		CreatedAt:    d.CreatedAt,
	}
}
