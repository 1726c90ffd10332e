package db

import (
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

// Account is a login with its privileges. Password holds the md5 hex
// digest of the clear text password.
type Account struct {
	ID        int64     `json:"id"`
	Login     string    `json:"login"`
	Password  string    `json:"-"`
	Name      string    `json:"name"`
	Privs     uint64    `json:"privs"`
	Profile   string    `json:"profile,omitempty"`
	LastLogin time.Time `json:"last_login,omitempty"`
}

// HasPriv reports whether any bit of mask is granted.
func (a *Account) HasPriv(mask uint64) bool {
	return a != nil && a.Privs&mask != 0
}

// CheckPassword compares a clear text password with the stored digest.
func (a *Account) CheckPassword(password string) bool {
	return a.Password == HashPassword(password)
}

// HashPassword returns the md5 hex digest stored for a password.
func HashPassword(password string) string {
	sum := md5.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

// NewsPost is one entry of the news board.
type NewsPost struct {
	ID    int64     `json:"id"`
	Nick  string    `json:"nick"`
	Login string    `json:"login"`
	Body  string    `json:"body"`
	Date  time.Time `json:"date"`
}

// Ban blocks an address. A zero Expires is permanent.
type Ban struct {
	Address string    `json:"address"`
	Reason  string    `json:"reason"`
	Created time.Time `json:"created"`
	Expires time.Time `json:"expires,omitempty"`
}

// Active reports whether the ban applies at now.
func (b Ban) Active(now time.Time) bool {
	return b.Expires.IsZero() || now.Before(b.Expires)
}

// Store is the persistence the server needs.
type Store interface {
	IsConfigured() bool
	Setup(seed ...Account) error

	LoadAccount(login string) (*Account, error)
	SaveAccount(acct *Account) error
	DeleteAccount(login string) error
	ListAccounts() ([]Account, error)

	LoadNewsPosts(limit, offset int, search string) ([]NewsPost, int, error)
	SaveNewsPost(post *NewsPost) error

	CheckBanlist(addr string) (string, bool, error)
	AddBan(ban Ban) error
	RemoveBan(addr string) error
	ListBans() ([]Ban, error)
	PruneBans(now time.Time) (int, error)

	Close() error
}

// SQLStore implements Store on SQLite.
type SQLStore struct {
	db *Database
}

var _ Store = (*SQLStore)(nil)

// Open opens the store at path and applies the schema.
func Open(path string) (*SQLStore, error) {
	database, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}
	s := &SQLStore{db: database}
	if err := s.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// schema lists the migrations in order. Never edit a released step;
// append a new one.
var schema = []string{
	`
	CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		login TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		privs TEXT NOT NULL DEFAULT '0',
		profile TEXT NOT NULL DEFAULT '',
		last_login DATETIME
	);

	CREATE TABLE IF NOT EXISTS news (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		nick TEXT NOT NULL,
		login TEXT NOT NULL,
		body TEXT NOT NULL,
		post_date DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_news_post_date ON news(post_date);
	`,
	`
	CREATE TABLE IF NOT EXISTS banlist (
		address TEXT PRIMARY KEY,
		reason TEXT NOT NULL DEFAULT '',
		created DATETIME NOT NULL,
		expires DATETIME
	);
	`,
}

func (s *SQLStore) migrate() error {
	return s.db.Migrate(schema)
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// IsConfigured reports whether any account exists.
func (s *SQLStore) IsConfigured() bool {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM accounts").Scan(&count); err != nil {
		return false
	}
	return count > 0
}

// Setup inserts the seed accounts that do not exist yet.
func (s *SQLStore) Setup(seed ...Account) error {
	return s.db.Transaction(func(tx *sql.Tx) error {
		for _, a := range seed {
			_, err := tx.Exec(
				"INSERT OR IGNORE INTO accounts (login, password, name, privs, profile) VALUES (?, ?, ?, ?, ?)",
				a.Login, a.Password, a.Name, formatPrivs(a.Privs), a.Profile)
			if err != nil {
				return fmt.Errorf("seed account %s: %w", a.Login, err)
			}
		}
		log.Info().Int("accounts", len(seed)).Msg("database seeded")
		return nil
	})
}

// Privileges use all 64 bits, beyond SQLite's signed integers.
func formatPrivs(p uint64) string {
	return strconv.FormatUint(p, 10)
}

func parsePrivs(s string) uint64 {
	p, _ := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	return p
}
