package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// CheckBanlist returns the reason an address is banned. Expired bans are
// ignored.
func (s *SQLStore) CheckBanlist(addr string) (string, bool, error) {
	var reason string
	var expires sql.NullTime
	err := s.db.QueryRow("SELECT reason, expires FROM banlist WHERE address = ?", addr).Scan(&reason, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("check banlist: %w", err)
	}
	if expires.Valid && !time.Now().Before(expires.Time) {
		return "", false, nil
	}
	return reason, true, nil
}

// AddBan inserts or replaces the ban for an address.
func (s *SQLStore) AddBan(b Ban) error {
	if b.Created.IsZero() {
		b.Created = time.Now()
	}
	var expires any
	if !b.Expires.IsZero() {
		expires = b.Expires
	}
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO banlist (address, reason, created, expires) VALUES (?, ?, ?, ?)",
		b.Address, b.Reason, b.Created, expires)
	if err != nil {
		return fmt.Errorf("add ban: %w", err)
	}
	log.Info().Str("address", b.Address).Str("reason", b.Reason).Time("expires", b.Expires).Msg("address banned")
	return nil
}

// RemoveBan lifts the ban on an address.
func (s *SQLStore) RemoveBan(addr string) error {
	res, err := s.db.Exec("DELETE FROM banlist WHERE address = ?", addr)
	if err != nil {
		return fmt.Errorf("remove ban: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBans returns every stored ban, expired ones included.
func (s *SQLStore) ListBans() ([]Ban, error) {
	rows, err := s.db.Query("SELECT address, reason, created, expires FROM banlist ORDER BY created")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Ban
	for rows.Next() {
		var b Ban
		var expires sql.NullTime
		if err := rows.Scan(&b.Address, &b.Reason, &b.Created, &expires); err != nil {
			return nil, err
		}
		if expires.Valid {
			b.Expires = expires.Time
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// PruneBans deletes bans that expired before now.
func (s *SQLStore) PruneBans(now time.Time) (int, error) {
	res, err := s.db.Exec("DELETE FROM banlist WHERE expires IS NOT NULL AND expires <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("prune bans: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
