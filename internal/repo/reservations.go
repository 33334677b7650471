package repo

import (
	"context"
	"database/sql"

	"tablebook/internal/domain"
)

const reservationColumns = `id,user_id,date,time,party_size,special_requests,status,COALESCE(payment_intent_id,''),amount,payment_status,created_at`

func scanReservation(scan func(dest ...any) error) (domain.Reservation, error) {
	var res domain.Reservation
	err := scan(&res.ID, &res.UserID, &res.Date, &res.Time, &res.PartySize, &res.SpecialRequests,
		&res.Status, &res.PaymentIntentID, &res.Amount, &res.PaymentStatus, &res.CreatedAt)
	if err == sql.ErrNoRows {
		return res, ErrNotFound
	}
	return res, err
}

func (r Repo) InsertReservationTx(ctx context.Context, tx *sql.Tx, res domain.Reservation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reservations(id,user_id,date,time,party_size,special_requests,status,payment_intent_id,amount,payment_status,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		res.ID, res.UserID, res.Date, res.Time, res.PartySize, res.SpecialRequests,
		res.Status, nullable(res.PaymentIntentID), res.Amount, res.PaymentStatus, res.CreatedAt)
	if err != nil {
		return err
	}
	for _, item := range res.Items {
		if _, err := tx.ExecContext(ctx, `INSERT INTO reservation_items(reservation_id,menu_id,quantity) VALUES (?,?,?)`,
			res.ID, item.MenuID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetReservation(ctx context.Context, id string) (domain.Reservation, error) {
	res, err := scanReservation(r.DB.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id=?`, id).Scan)
	if err != nil {
		return res, err
	}
	if err := r.attachItems(ctx, []*domain.Reservation{&res}); err != nil {
		return res, err
	}
	return res, nil
}

// FindReservationByIntent looks a reservation up by its payment intent id,
// which backs idempotent creation retries.
func (r Repo) FindReservationByIntent(ctx context.Context, intentID string) (domain.Reservation, error) {
	res, err := scanReservation(r.DB.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE payment_intent_id=?`, intentID).Scan)
	if err != nil {
		return res, err
	}
	if err := r.attachItems(ctx, []*domain.Reservation{&res}); err != nil {
		return res, err
	}
	return res, nil
}

// ListReservations returns a user's reservations, newest first, items included.
func (r Repo) ListReservations(ctx context.Context, userID string) ([]domain.Reservation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE user_id=? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows.Scan)
		if err != nil {
			return nil, err
		}
		list = append(list, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	refs := make([]*domain.Reservation, len(list))
	for i := range list {
		refs[i] = &list[i]
	}
	if err := r.attachItems(ctx, refs); err != nil {
		return nil, err
	}
	return list, nil
}

func (r Repo) attachItems(ctx context.Context, reservations []*domain.Reservation) error {
	for _, res := range reservations {
		rows, err := r.DB.QueryContext(ctx, `SELECT ri.menu_id, m.name, m.price, ri.quantity
FROM reservation_items ri JOIN menus m ON m.id = ri.menu_id
WHERE ri.reservation_id=? ORDER BY m.name`, res.ID)
		if err != nil {
			return err
		}
		var items []domain.ReservationItem
		for rows.Next() {
			var item domain.ReservationItem
			if err := rows.Scan(&item.MenuID, &item.Name, &item.Price, &item.Quantity); err != nil {
				rows.Close()
				return err
			}
			items = append(items, item)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
		res.Items = items
	}
	return nil
}

func (r Repo) UpdateReservationStatusTx(ctx context.Context, tx *sql.Tx, id, status, paymentStatus string) error {
	result, err := tx.ExecContext(ctx, `UPDATE reservations SET status=?, payment_status=? WHERE id=?`, status, paymentStatus, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdatePaymentStatusByIntentTx(ctx context.Context, tx *sql.Tx, intentID, paymentStatus string) error {
	result, err := tx.ExecContext(ctx, `UPDATE reservations SET payment_status=? WHERE payment_intent_id=?`, paymentStatus, intentID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
