package repository

import (
	"context"
	"time"

	"github.com/boxkite/boxkite/internal/fulfillment/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertPending(ctx context.Context, db *gorm.DB, order *domain.FulfillmentOrder) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO fulfillment_orders (
			id, fulfillment_key, subscription_id, charge_event_id, cycle_marker, status,
			retryable, attempt_count, provider_order_id, shipment_id, last_error,
			items_snapshot, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fulfillment_key) DO NOTHING`,
		order.ID,
		order.FulfillmentKey,
		order.SubscriptionID,
		order.ChargeEventID,
		order.CycleMarker,
		order.Status,
		order.Retryable,
		order.AttemptCount,
		order.ProviderOrderID,
		order.ShipmentID,
		order.LastError,
		order.ItemsSnapshot,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, fulfillmentKey string) (*domain.FulfillmentOrder, error) {
	var order domain.FulfillmentOrder
	err := db.WithContext(ctx).Raw(
		`SELECT id, fulfillment_key, subscription_id, charge_event_id, cycle_marker, status,
			retryable, attempt_count, provider_order_id, shipment_id, last_error,
			items_snapshot, created_at, updated_at
		 FROM fulfillment_orders
		 WHERE fulfillment_key = ?
		 LIMIT 1`,
		fulfillmentKey,
	).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) ReclaimFailed(ctx context.Context, db *gorm.DB, fulfillmentKey string, chargeEventID *snowflake.ID) (bool, error) {
	now := time.Now().UTC()
	res := db.WithContext(ctx).Exec(
		`UPDATE fulfillment_orders
		 SET status = ?, charge_event_id = COALESCE(?, charge_event_id), last_error = '', updated_at = ?
		 WHERE fulfillment_key = ? AND status = ? AND retryable = ?`,
		domain.OrderStatusPending,
		chargeEventID,
		now,
		fulfillmentKey,
		domain.OrderStatusFailed,
		true,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkCreated(ctx context.Context, db *gorm.DB, id snowflake.ID, providerOrderID, shipmentID string) (bool, error) {
	now := time.Now().UTC()
	res := db.WithContext(ctx).Exec(
		`UPDATE fulfillment_orders
		 SET status = ?, provider_order_id = ?, shipment_id = ?, retryable = ?, last_error = '', updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.OrderStatusCreated,
		providerOrderID,
		shipmentID,
		false,
		now,
		id,
		domain.OrderStatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, retryable bool, lastError string) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).Exec(
		`UPDATE fulfillment_orders
		 SET status = ?, retryable = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		domain.OrderStatusFailed,
		retryable,
		lastError,
		now,
		id,
	).Error
}

func (r *repo) IncrementAttempt(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE fulfillment_orders
		 SET attempt_count = attempt_count + 1, updated_at = ?
		 WHERE id = ?`,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repo) ListBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]domain.FulfillmentOrder, error) {
	var orders []domain.FulfillmentOrder
	err := db.WithContext(ctx).Raw(
		`SELECT id, fulfillment_key, subscription_id, charge_event_id, cycle_marker, status,
			retryable, attempt_count, provider_order_id, shipment_id, last_error,
			items_snapshot, created_at, updated_at
		 FROM fulfillment_orders
		 WHERE subscription_id = ?
		 ORDER BY created_at DESC, id DESC`,
		subscriptionID,
	).Scan(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) ExpireStalePending(ctx context.Context, db *gorm.DB, before time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE fulfillment_orders
		 SET status = ?, retryable = ?, last_error = ?, updated_at = ?
		 WHERE status = ? AND updated_at < ?`,
		domain.OrderStatusFailed,
		true,
		"pending claim expired",
		time.Now().UTC(),
		domain.OrderStatusPending,
		before,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) ListRetryable(ctx context.Context, db *gorm.DB, limit int) ([]domain.FulfillmentOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	var orders []domain.FulfillmentOrder
	err := db.WithContext(ctx).Raw(
		`SELECT id, fulfillment_key, subscription_id, charge_event_id, cycle_marker, status,
			retryable, attempt_count, provider_order_id, shipment_id, last_error,
			items_snapshot, created_at, updated_at
		 FROM fulfillment_orders
		 WHERE status = ? AND retryable = ?
		 ORDER BY updated_at ASC
		 LIMIT ?`,
		domain.OrderStatusFailed,
		true,
		limit,
	).Scan(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}
