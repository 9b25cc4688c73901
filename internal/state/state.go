// Package state persists console state in a local sqlite database: the
// session linkage key-value entries and the product catalog rows.
package state

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/fairyhunter13/storefront-console/internal/model"
)

// Keys for the session linkage entries written on authorization.
const (
	KeyUserID    = "userId"
	KeyProjectID = "projectId"
)

// DB wraps the sqlite handle.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id                   TEXT PRIMARY KEY,
			name                 TEXT NOT NULL,
			description          TEXT NOT NULL DEFAULT '',
			price                REAL NOT NULL,
			category             TEXT NOT NULL DEFAULT '',
			image                TEXT NOT NULL DEFAULT '',
			in_stock             INTEGER NOT NULL DEFAULT 1,
			drive_file_id        TEXT,
			external_payment_url TEXT
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &DB{sql: db}, nil
}

// Close closes the underlying handle.
func (d *DB) Close() error { return d.sql.Close() }

// GetKV returns the value for key and whether it exists.
func (d *DB) GetKV(key string) (string, bool, error) {
	var v string
	err := d.sql.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get kv %q: %w", key, err)
	}
	return v, true, nil
}

// PutKV upserts a key-value entry.
func (d *DB) PutKV(key, value string) error {
	_, err := d.sql.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("put kv %q: %w", key, err)
	}
	return nil
}

// DeleteKV removes a key-value entry. Missing keys are not an error.
func (d *DB) DeleteKV(key string) error {
	if _, err := d.sql.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete kv %q: %w", key, err)
	}
	return nil
}

// LoadProducts returns all persisted products in insertion (rowid) order.
func (d *DB) LoadProducts() ([]model.Product, error) {
	rows, err := d.sql.Query(
		`SELECT id, name, description, price, category, image, in_stock,
		        drive_file_id, external_payment_url
		 FROM products ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	defer rows.Close()

	var out []model.Product
	for rows.Next() {
		var p model.Product
		var inStock int
		var fileID, payURL sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Category,
			&p.Image, &inStock, &fileID, &payURL); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.InStock = inStock != 0
		if fileID.Valid {
			v := fileID.String
			p.DriveFileID = &v
		}
		if payURL.Valid {
			v := payURL.String
			p.ExternalPaymentURL = &v
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return out, nil
}

// SaveProduct upserts one product row.
func (d *DB) SaveProduct(p model.Product) error {
	var fileID, payURL any
	if p.DriveFileID != nil {
		fileID = *p.DriveFileID
	}
	if p.ExternalPaymentURL != nil {
		payURL = *p.ExternalPaymentURL
	}
	inStock := 0
	if p.InStock {
		inStock = 1
	}
	_, err := d.sql.Exec(
		`INSERT INTO products (id, name, description, price, category, image,
		                       in_stock, drive_file_id, external_payment_url)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   description = excluded.description,
		   price = excluded.price,
		   category = excluded.category,
		   image = excluded.image,
		   in_stock = excluded.in_stock,
		   drive_file_id = excluded.drive_file_id,
		   external_payment_url = excluded.external_payment_url`,
		p.ID, p.Name, p.Description, p.Price, p.Category, p.Image,
		inStock, fileID, payURL)
	if err != nil {
		return fmt.Errorf("save product %q: %w", p.ID, err)
	}
	return nil
}

// DeleteProduct removes one product row. Missing rows are not an error.
func (d *DB) DeleteProduct(id string) error {
	if _, err := d.sql.Exec(`DELETE FROM products WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete product %q: %w", id, err)
	}
	return nil
}
