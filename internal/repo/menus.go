package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"tablebook/internal/domain"
)

func scanMenu(scan func(dest ...any) error) (domain.MenuItem, error) {
	var m domain.MenuItem
	var available int
	err := scan(&m.ID, &m.Name, &m.Description, &m.Price, &m.ImageURL, &available, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	m.Available = available != 0
	return m, err
}

const menuColumns = `id,name,description,price,image_url,available,created_at`

// ListAvailableMenus returns menus offered for pre-order, stable by name.
func (r Repo) ListAvailableMenus(ctx context.Context) ([]domain.MenuItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+menuColumns+` FROM menus WHERE available=1 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MenuItem
	for rows.Next() {
		m, err := scanMenu(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) GetMenu(ctx context.Context, id string) (domain.MenuItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+menuColumns+` FROM menus WHERE id=?`, id)
	return scanMenu(row.Scan)
}

// GetMenus fetches the given menu ids in one query. Missing ids are simply
// absent from the result map; callers decide whether that is an error.
func (r Repo) GetMenus(ctx context.Context, ids []string) (map[string]domain.MenuItem, error) {
	res := make(map[string]domain.MenuItem, len(ids))
	if len(ids) == 0 {
		return res, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM menus WHERE id IN (%s)`, menuColumns, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMenu(rows.Scan)
		if err != nil {
			return nil, err
		}
		res[m.ID] = m
	}
	return res, rows.Err()
}

func (r Repo) InsertMenu(ctx context.Context, m domain.MenuItem) error {
	available := 0
	if m.Available {
		available = 1
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO menus(`+menuColumns+`) VALUES (?,?,?,?,?,?,?)`,
		m.ID, m.Name, m.Description, m.Price, m.ImageURL, available, m.CreatedAt)
	return err
}
