package db

import (
	"fmt"
	"strings"
	"time"
)

// LoadNewsPosts returns posts newest first and the total number of posts
// matching search. A limit of zero returns every post.
func (s *SQLStore) LoadNewsPosts(limit, offset int, search string) ([]NewsPost, int, error) {
	where := ""
	var args []any
	if search = strings.TrimSpace(search); search != "" {
		where = " WHERE body LIKE ? OR nick LIKE ? OR login LIKE ?"
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern, pattern)
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM news"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count news: %w", err)
	}

	query := "SELECT id, nick, login, body, post_date FROM news" + where + " ORDER BY post_date DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	} else if offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("load news: %w", err)
	}
	defer rows.Close()

	var posts []NewsPost
	for rows.Next() {
		var p NewsPost
		if err := rows.Scan(&p.ID, &p.Nick, &p.Login, &p.Body, &p.Date); err != nil {
			return nil, 0, err
		}
		posts = append(posts, p)
	}
	return posts, total, rows.Err()
}

// SaveNewsPost inserts a post, stamping it when Date is zero.
func (s *SQLStore) SaveNewsPost(p *NewsPost) error {
	if p.Date.IsZero() {
		p.Date = time.Now()
	}
	res, err := s.db.Exec(
		"INSERT INTO news (nick, login, body, post_date) VALUES (?, ?, ?, ?)",
		p.Nick, p.Login, p.Body, p.Date)
	if err != nil {
		return fmt.Errorf("save news post: %w", err)
	}
	p.ID, _ = res.LastInsertId()
	return nil
}
