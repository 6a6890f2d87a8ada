package repository

import (
	"context"
	"time"

	subscriptiondomain "github.com/boxkite/boxkite/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, customer_id, status, cadence, provider, provider_subscription_id, currency,
			total_cycles, start_at, paused_at, canceled_at, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.CustomerID,
		subscription.Status,
		subscription.Cadence,
		subscription.Provider,
		subscription.ProviderSubscriptionID,
		subscription.Currency,
		subscription.TotalCycles,
		subscription.StartAt,
		subscription.PausedAt,
		subscription.CanceledAt,
		subscription.Metadata,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) InsertItems(ctx context.Context, db *gorm.DB, items []subscriptiondomain.SubscriptionItem) error {
	if len(items) == 0 {
		return nil
	}

	for _, item := range items {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO subscription_items (
				id, subscription_id, name, sku, unit_price, quantity, metadata, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID,
			item.SubscriptionID,
			item.Name,
			item.SKU,
			item.UnitPrice,
			item.Quantity,
			item.Metadata,
			item.CreatedAt,
			item.UpdatedAt,
		).Error; err != nil {
			return err
		}
	}

	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, customer_id, status, cadence, provider, provider_subscription_id, currency,
		 total_cycles, start_at, paused_at, canceled_at, metadata, created_at, updated_at
		 FROM subscriptions WHERE id = ?`,
		id,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) FindByProviderRef(ctx context.Context, db *gorm.DB, provider, providerSubscriptionID string) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, customer_id, status, cadence, provider, provider_subscription_id, currency,
		 total_cycles, start_at, paused_at, canceled_at, metadata, created_at, updated_at
		 FROM subscriptions WHERE provider = ? AND provider_subscription_id = ?`,
		provider,
		providerSubscriptionID,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) FindItems(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]subscriptiondomain.SubscriptionItem, error) {
	var items []subscriptiondomain.SubscriptionItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, subscription_id, name, sku, unit_price, quantity, metadata, created_at, updated_at
		 FROM subscription_items WHERE subscription_id = ? ORDER BY created_at ASC, id ASC`,
		subscriptionID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB) ([]subscriptiondomain.Subscription, error) {
	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, customer_id, status, cadence, provider, provider_subscription_id, currency,
		 total_cycles, start_at, paused_at, canceled_at, metadata, created_at, updated_at
		 FROM subscriptions WHERE status = ? ORDER BY created_at ASC, id ASC`,
		subscriptiondomain.SubscriptionStatusActive,
	).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status subscriptiondomain.SubscriptionStatus) error {
	now := time.Now().UTC()
	switch status {
	case subscriptiondomain.SubscriptionStatusCanceled:
		return db.WithContext(ctx).Exec(
			`UPDATE subscriptions SET status = ?, canceled_at = ?, updated_at = ? WHERE id = ?`,
			status, now, now, id,
		).Error
	case subscriptiondomain.SubscriptionStatusPaused:
		return db.WithContext(ctx).Exec(
			`UPDATE subscriptions SET status = ?, paused_at = ?, updated_at = ? WHERE id = ?`,
			status, now, now, id,
		).Error
	default:
		return db.WithContext(ctx).Exec(
			`UPDATE subscriptions SET status = ?, paused_at = NULL, updated_at = ? WHERE id = ?`,
			status, now, id,
		).Error
	}
}
