package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// LoadAccount returns the account for login, or ErrNotFound.
func (s *SQLStore) LoadAccount(login string) (*Account, error) {
	var a Account
	var privs string
	var lastLogin sql.NullTime
	err := s.db.QueryRow(
		"SELECT id, login, password, name, privs, profile, last_login FROM accounts WHERE login = ?",
		login).Scan(&a.ID, &a.Login, &a.Password, &a.Name, &privs, &a.Profile, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", login, err)
	}
	a.Privs = parsePrivs(privs)
	if lastLogin.Valid {
		a.LastLogin = lastLogin.Time
	}
	return &a, nil
}

// SaveAccount updates an account with a non-zero ID or inserts a new one.
func (s *SQLStore) SaveAccount(a *Account) error {
	var lastLogin any
	if !a.LastLogin.IsZero() {
		lastLogin = a.LastLogin
	}
	if a.ID != 0 {
		_, err := s.db.Exec(
			"UPDATE accounts SET login = ?, password = ?, name = ?, privs = ?, profile = ?, last_login = ? WHERE id = ?",
			a.Login, a.Password, a.Name, formatPrivs(a.Privs), a.Profile, lastLogin, a.ID)
		if err != nil {
			return fmt.Errorf("update account %s: %w", a.Login, err)
		}
		return nil
	}

	res, err := s.db.Exec(
		"INSERT INTO accounts (login, password, name, privs, profile, last_login) VALUES (?, ?, ?, ?, ?, ?)",
		a.Login, a.Password, a.Name, formatPrivs(a.Privs), a.Profile, lastLogin)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("account %s: %w", a.Login, ErrExists)
		}
		return fmt.Errorf("insert account %s: %w", a.Login, err)
	}
	a.ID, _ = res.LastInsertId()
	log.Info().Str("login", a.Login).Msg("account created")
	return nil
}

// DeleteAccount removes an account, or returns ErrNotFound.
func (s *SQLStore) DeleteAccount(login string) error {
	res, err := s.db.Exec("DELETE FROM accounts WHERE login = ?", login)
	if err != nil {
		return fmt.Errorf("delete account %s: %w", login, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	log.Info().Str("login", login).Msg("account deleted")
	return nil
}

// ListAccounts returns every account ordered by login.
func (s *SQLStore) ListAccounts() ([]Account, error) {
	rows, err := s.db.Query("SELECT id, login, password, name, privs, profile, last_login FROM accounts ORDER BY login")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		var privs string
		var lastLogin sql.NullTime
		if err := rows.Scan(&a.ID, &a.Login, &a.Password, &a.Name, &privs, &a.Profile, &lastLogin); err != nil {
			return nil, err
		}
		a.Privs = parsePrivs(privs)
		if lastLogin.Valid {
			a.LastLogin = lastLogin.Time
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
