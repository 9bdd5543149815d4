package orders

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const orderColumns = `
	id, user_id, status, payment_status, total_amount, shipping_address,
	COALESCE(stripe_session_id, '') AS stripe_session_id,
	COALESCE(stripe_payment_intent, '') AS stripe_payment_intent,
	created_at, updated_at`

type Conf struct {
	db *sqlx.DB
}

func NewConf(db *sqlx.DB) (*Conf, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &Conf{db: db}, nil
}

// PlaceOrder writes the order, its items and the idempotency key in one
// transaction. A key that was already used for the same request returns
// the original order with replayed set; a key used for a different
// request fails with ErrIdempotencyConflict.
func (c *Conf) PlaceOrder(ctx context.Context, key IdempotencyKey, no NewOrder) (Order, bool, error) {
	var (
		order    Order
		replayed bool
	)
	err := c.withTx(ctx, func(tx *sqlx.Tx) error {
		// The primary key serializes concurrent attempts with the same key
		res, err := tx.ExecContext(ctx, `
			INSERT INTO idempotency_keys (user_id, key, fingerprint, created_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (user_id, key) DO NOTHING`,
			key.UserID, key.Key, key.Fingerprint)
		if err != nil {
			return fmt.Errorf("failed to claim idempotency key: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}

		if n == 0 {
			var existing struct {
				Fingerprint []byte         `db:"fingerprint"`
				OrderID     sql.NullString `db:"order_id"`
			}
			err = tx.GetContext(ctx, &existing,
				`SELECT fingerprint, order_id FROM idempotency_keys WHERE user_id = $1 AND key = $2`,
				key.UserID, key.Key)
			if err != nil {
				return fmt.Errorf("failed to read idempotency key: %w", err)
			}
			if !bytes.Equal(existing.Fingerprint, key.Fingerprint) || !existing.OrderID.Valid {
				return ErrIdempotencyConflict
			}
			order, err = getOrder(ctx, tx, existing.OrderID.String)
			if err != nil {
				return err
			}
			replayed = true
			return nil
		}

		order, err = insertOrder(ctx, tx, no)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE idempotency_keys SET order_id = $3 WHERE user_id = $1 AND key = $2`,
			key.UserID, key.Key, order.ID)
		if err != nil {
			return fmt.Errorf("failed to bind idempotency key: %w", err)
		}
		return nil
	})
	if err != nil {
		return Order{}, false, err
	}
	return order, replayed, nil
}

func (c *Conf) GetOrder(ctx context.Context, id string) (Order, error) {
	return getOrder(ctx, c.db, id)
}

// GetOrderForUser returns the order only when userID owns it.
func (c *Conf) GetOrderForUser(ctx context.Context, id, userID string) (Order, error) {
	o, err := getOrder(ctx, c.db, id)
	if err != nil {
		return Order{}, err
	}
	if o.UserID != userID {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

// ListOrdersForUser returns the user's orders, newest first, with their items.
func (c *Conf) ListOrdersForUser(ctx context.Context, userID string) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`
	list := []Order{}
	if err := c.db.SelectContext(ctx, &list, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	if err := loadItems(ctx, c.db, list); err != nil {
		return nil, err
	}
	return list, nil
}

// ListAllOrders is the admin view of the ledger.
func (c *Conf) ListAllOrders(ctx context.Context, limit, offset int) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	list := []Order{}
	if err := c.db.SelectContext(ctx, &list, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	if err := loadItems(ctx, c.db, list); err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateOrderStatus applies an admin transition. Nil values are left unchanged.
func (c *Conf) UpdateOrderStatus(ctx context.Context, id string, status *Status, payment *PaymentStatus) (Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Order{}, ErrOrderNotFound
	}
	var s, p any
	if status != nil {
		s = string(*status)
	}
	if payment != nil {
		p = string(*payment)
	}
	query := `
		UPDATE orders SET
			status = COALESCE($2::text, status),
			payment_status = COALESCE($3::text, payment_status),
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + orderColumns
	var o Order
	if err := c.db.GetContext(ctx, &o, query, id, s, p); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, fmt.Errorf("failed to update order: %w", err)
	}
	list := []Order{o}
	if err := loadItems(ctx, c.db, list); err != nil {
		return Order{}, err
	}
	return list[0], nil
}

// CheckEntitlement reads, in a single statement, whether userID has a paid
// order and whether the order(s) allowed by scope contain productID.
func (c *Conf) CheckEntitlement(ctx context.Context, userID, productID string, scope EntitlementScope) (Entitlement, error) {
	var e Entitlement
	switch scope {
	case EntitlementAny:
		row := c.db.QueryRowxContext(ctx, `
			SELECT
				EXISTS (SELECT 1 FROM orders WHERE user_id = $1 AND payment_status = 'paid'),
				COALESCE((
					SELECT o.id::text FROM orders o
					JOIN order_items oi ON oi.order_id = o.id
					WHERE o.user_id = $1 AND o.payment_status = 'paid' AND oi.product_id = $2
					ORDER BY o.created_at DESC
					LIMIT 1
				), '')`, userID, productID)
		if err := row.Scan(&e.HasPaidOrder, &e.OrderID); err != nil {
			return Entitlement{}, fmt.Errorf("failed to check entitlement: %w", err)
		}
		e.Entitled = e.OrderID != ""
	default:
		row := c.db.QueryRowxContext(ctx, `
			WITH latest AS (
				SELECT id FROM orders
				WHERE user_id = $1 AND payment_status = 'paid'
				ORDER BY created_at DESC
				LIMIT 1
			)
			SELECT latest.id::text,
				EXISTS (SELECT 1 FROM order_items oi WHERE oi.order_id = latest.id AND oi.product_id = $2)
			FROM latest`, userID, productID)
		err := row.Scan(&e.OrderID, &e.Entitled)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return Entitlement{}, nil
			}
			return Entitlement{}, fmt.Errorf("failed to check entitlement: %w", err)
		}
		e.HasPaidOrder = true
		if !e.Entitled {
			e.OrderID = ""
		}
	}
	return e, nil
}

// RecordPaidSession marks the order behind a completed payment as paid, or
// creates it from the session contents when no matching order exists. The
// event id is claimed in the same transaction; applied is false when the
// event was already processed. A session naming an existing order whose
// lines differ from the paid ones fails with ErrPaymentMismatch and
// changes nothing.
func (c *Conf) RecordPaidSession(ctx context.Context, eventID, eventType string, p SessionPayment) (Order, bool, error) {
	var (
		order   Order
		applied bool
	)
	err := c.withTx(ctx, func(tx *sqlx.Tx) error {
		claimed, err := claimEvent(ctx, tx, eventID, eventType)
		if err != nil || !claimed {
			return err
		}
		applied = true

		markPaid := `
			UPDATE orders SET
				payment_status = 'paid',
				status = CASE WHEN status = 'pending' THEN 'processing' ELSE status END,
				stripe_session_id = COALESCE(NULLIF($2, ''), stripe_session_id),
				stripe_payment_intent = COALESCE(NULLIF($3, ''), stripe_payment_intent),
				updated_at = NOW()
			WHERE `

		if p.SessionID != "" {
			err = tx.GetContext(ctx, &order, markPaid+`stripe_session_id = $1 RETURNING `+orderColumns,
				p.SessionID, p.SessionID, p.PaymentIntent)
			if err == nil {
				return loadItemsInto(ctx, tx, &order)
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("failed to mark session order paid: %w", err)
			}
		}

		if _, perr := uuid.Parse(p.OrderID); perr == nil {
			var existing Order
			err = tx.GetContext(ctx, &existing, `SELECT `+orderColumns+`
				FROM orders WHERE id = $1 AND user_id = $2 FOR UPDATE`, p.OrderID, p.UserID)
			switch {
			case err == nil:
				if err := loadItemsInto(ctx, tx, &existing); err != nil {
					return err
				}
				// The session must have billed exactly the lines of the order
				if !MatchesItems(existing.Items, p.Items) {
					return ErrPaymentMismatch
				}
				err = tx.GetContext(ctx, &order, markPaid+`id = $1 RETURNING `+orderColumns,
					p.OrderID, p.SessionID, p.PaymentIntent)
				if err != nil {
					return fmt.Errorf("failed to mark order paid: %w", err)
				}
				return loadItemsInto(ctx, tx, &order)
			case !errors.Is(err, sql.ErrNoRows):
				return fmt.Errorf("failed to lock order: %w", err)
			}
		}

		order, err = insertOrder(ctx, tx, NewOrder{
			UserID:              p.UserID,
			Status:              StatusProcessing,
			PaymentStatus:       PaymentPaid,
			TotalAmount:         p.Total,
			ShippingAddress:     p.Address,
			StripeSessionID:     p.SessionID,
			StripePaymentIntent: p.PaymentIntent,
			Items:               p.Items,
		})
		return err
	})
	if err != nil {
		return Order{}, false, err
	}
	return order, applied, nil
}

// RecordRefund moves the order paid through paymentIntent to refunded,
// which revokes its entitlements on the next download request.
func (c *Conf) RecordRefund(ctx context.Context, eventID, eventType, paymentIntent string) (Order, bool, error) {
	var (
		order   Order
		applied bool
	)
	err := c.withTx(ctx, func(tx *sqlx.Tx) error {
		claimed, err := claimEvent(ctx, tx, eventID, eventType)
		if err != nil || !claimed {
			return err
		}
		applied = true
		err = tx.GetContext(ctx, &order, `
			UPDATE orders SET payment_status = 'refunded', updated_at = NOW()
			WHERE stripe_payment_intent = $1
			RETURNING `+orderColumns, paymentIntent)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("failed to mark order refunded: %w", err)
		}
		return loadItemsInto(ctx, tx, &order)
	})
	if err != nil {
		return Order{}, false, err
	}
	return order, applied, nil
}

func claimEvent(ctx context.Context, tx *sqlx.Tx, eventID, eventType string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO processed_webhook_events (event_id, event_type, processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (event_id) DO NOTHING`, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("failed to claim event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func insertOrder(ctx context.Context, tx *sqlx.Tx, no NewOrder) (Order, error) {
	if no.Status == "" {
		no.Status = StatusPending
	}
	if no.PaymentStatus == "" {
		no.PaymentStatus = PaymentUnpaid
	}

	var o Order
	err := tx.GetContext(ctx, &o, `
		INSERT INTO orders (id, user_id, status, payment_status, total_amount, shipping_address,
			stripe_session_id, stripe_payment_intent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), NOW(), NOW())
		RETURNING `+orderColumns,
		uuid.NewString(), no.UserID, string(no.Status), string(no.PaymentStatus), no.TotalAmount.String(),
		no.ShippingAddress, no.StripeSessionID, no.StripePaymentIntent)
	if err != nil {
		return Order{}, fmt.Errorf("failed to insert order: %w", err)
	}

	o.Items = make([]Item, 0, len(no.Items))
	for _, it := range no.Items {
		item := Item{
			ID:              uuid.NewString(),
			OrderID:         o.ID,
			ProductID:       it.ProductID,
			Quantity:        it.Quantity,
			PriceAtPurchase: it.PriceAtPurchase,
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, quantity, price_at_purchase)
			VALUES ($1, $2, $3, $4, $5)`,
			item.ID, item.OrderID, item.ProductID, item.Quantity, item.PriceAtPurchase.String())
		if err != nil {
			return Order{}, fmt.Errorf("failed to insert order item: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	return o, nil
}

func getOrder(ctx context.Context, q sqlx.QueryerContext, id string) (Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Order{}, ErrOrderNotFound
	}
	var o Order
	err := sqlx.GetContext(ctx, q, &o, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, fmt.Errorf("failed to query order: %w", err)
	}
	if err := loadItemsInto(ctx, q, &o); err != nil {
		return Order{}, err
	}
	return o, nil
}

func loadItemsInto(ctx context.Context, q sqlx.QueryerContext, o *Order) error {
	list := []Order{*o}
	if err := loadItems(ctx, q, list); err != nil {
		return err
	}
	*o = list[0]
	return nil
}

// loadItems fills Items of every order in list with one query.
func loadItems(ctx context.Context, q sqlx.QueryerContext, list []Order) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	index := make(map[string]int, len(list))
	for i, o := range list {
		ids[i] = o.ID
		index[o.ID] = i
		list[i].Items = []Item{}
	}

	var items []Item
	err := sqlx.SelectContext(ctx, q, &items, `
		SELECT oi.id, oi.order_id, oi.product_id, COALESCE(p.name, '') AS product_name,
			oi.quantity, oi.price_at_purchase
		FROM order_items oi
		LEFT JOIN products p ON p.id::text = oi.product_id
		WHERE oi.order_id = ANY($1::uuid[])
		ORDER BY oi.order_id, oi.id`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to query order items: %w", err)
	}
	for _, it := range items {
		if i, ok := index[it.OrderID]; ok {
			list[i].Items = append(list[i].Items, it)
		}
	}
	return nil
}

func (c *Conf) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		er := tx.Rollback()
		if er != nil && !errors.Is(er, sql.ErrTxDone) {
			return fmt.Errorf("failed to rollback withTx: %w", err)
		}
		return fmt.Errorf("failed to execute withTx: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit withTx: %w", err)
	}
	return nil
}
