package demosut

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite" // SQLite driver
)

var (
	ErrExists             = errors.New("already exists")
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrCartFull           = errors.New("cart limit reached")
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u User) Name() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type Item struct {
	ID       string `json:"id" yaml:"-"`
	SKU      string `json:"sku" yaml:"sku"`
	Name     string `json:"name" yaml:"name"`
	Size     string `json:"size" yaml:"size"`
	Quantity int    `json:"quantity" yaml:"quantity"`
}

type Request struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ItemID    string    `json:"itemId,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Submission is a public form entry (donation, contact, volunteer).
type Submission struct {
	ReferenceID string    `json:"referenceId"`
	Kind        string    `json:"kind"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Message     string    `json:"message,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
	token TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	ready_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS inventory (
	id TEXT PRIMARY KEY,
	sku TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	size TEXT NOT NULL DEFAULT '',
	quantity INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS cart_items (
	user_id TEXT NOT NULL,
	item_id TEXT NOT NULL,
	added_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS requests (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	item_id TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS submissions (
	reference_id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
`

// Store is the in-memory sqlite backing the demo SUT.
type Store struct {
	db *sql.DB
}

// NewStore opens a private in-memory database and applies the schema.
func NewStore() (*Store, error) {
	dsn := fmt.Sprintf("file:demosut-%s?mode=memory&cache=shared", uuid.NewString())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one connection keeps the in-memory database alive and serializes writes
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func hashPassword(pw string) string {
	sum := sha256.Sum256([]byte("demosut:" + pw))
	return hex.EncodeToString(sum[:])
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Store) CreateUser(ctx context.Context, u User, password string) (User, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Email == "" || password == "" {
		return User{}, fmt.Errorf("email and password are required")
	}
	if u.Role == "" {
		u.Role = "user"
	}
	u.ID = uuid.NewString()
	u.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, first_name, last_name, role, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, hashPassword(password), u.FirstName, u.LastName, u.Role, u.CreatedAt.UnixMilli())
	if isUniqueViolation(err) {
		return User{}, ErrExists
	}
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

const userColumns = `id, email, first_name, last_name, role, created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	var created int64
	if err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &created); err != nil {
		return User{}, err
	}
	u.CreatedAt = time.UnixMilli(created).UTC()
	return u, nil
}

func (s *Store) Authenticate(ctx context.Context, email, password string) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? AND password_hash = ?`,
		strings.ToLower(strings.TrimSpace(email)), hashPassword(password))
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrInvalidCredentials
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CreateSession stores a new session that becomes usable at readyAt.
func (s *Store) CreateSession(ctx context.Context, userID string, readyAt, expiresAt time.Time) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token, user_id, ready_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, readyAt.UnixMilli(), expiresAt.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return token, nil
}

// SessionUser resolves a session token. The returned time is when the
// session becomes usable.
func (s *Store) SessionUser(ctx context.Context, token string) (User, time.Time, error) {
	var readyAt, expiresAt, created int64
	var u User
	err := s.db.QueryRowContext(ctx, `
SELECT u.id, u.email, u.first_name, u.last_name, u.role, u.created_at, s.ready_at, s.expires_at
FROM sessions s JOIN users u ON u.id = s.user_id
WHERE s.token = ?`, token).Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &created, &readyAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, time.Time{}, ErrNotFound
	}
	if err != nil {
		return User{}, time.Time{}, err
	}
	if time.Now().UnixMilli() > expiresAt {
		return User{}, time.Time{}, ErrNotFound
	}
	u.CreatedAt = time.UnixMilli(created).UTC()
	return u, time.UnixMilli(readyAt), nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}

func (s *Store) CreateItem(ctx context.Context, it Item) (Item, error) {
	it.SKU = strings.TrimSpace(it.SKU)
	if it.SKU == "" || strings.TrimSpace(it.Name) == "" {
		return Item{}, fmt.Errorf("sku and name are required")
	}
	it.ID = uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inventory (id, sku, name, size, quantity) VALUES (?, ?, ?, ?, ?)`,
		it.ID, it.SKU, it.Name, it.Size, it.Quantity)
	if isUniqueViolation(err) {
		return Item{}, ErrExists
	}
	if err != nil {
		return Item{}, fmt.Errorf("insert item: %w", err)
	}
	return it, nil
}

func (s *Store) ListItems(ctx context.Context) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, sku, name, size, quantity FROM inventory ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.SKU, &it.Name, &it.Size, &it.Quantity); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ItemByRef looks an item up by id or SKU.
func (s *Store) ItemByRef(ctx context.Context, ref string) (Item, error) {
	var it Item
	err := s.db.QueryRowContext(ctx,
		`SELECT id, sku, name, size, quantity FROM inventory WHERE id = ? OR sku = ?`, ref, ref).
		Scan(&it.ID, &it.SKU, &it.Name, &it.Size, &it.Quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	return it, err
}

func (s *Store) CartItems(ctx context.Context, userID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT i.id, i.sku, i.name, i.size, i.quantity
FROM cart_items c JOIN inventory i ON i.id = c.item_id
WHERE c.user_id = ? ORDER BY c.added_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.SKU, &it.Name, &it.Size, &it.Quantity); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// AddToCart adds itemID to the user's cart and returns the new count.
func (s *Store) AddToCart(ctx context.Context, userID, itemID string, limit int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cart_items WHERE user_id = ?`, userID).Scan(&count); err != nil {
		return 0, err
	}
	if limit > 0 && count >= limit {
		return count, ErrCartFull
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cart_items (user_id, item_id, added_at) VALUES (?, ?, ?)`,
		userID, itemID, time.Now().UnixNano()); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return count + 1, nil
}

func (s *Store) ClearCart(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = ?`, userID)
	return err
}

func (s *Store) CreateRequest(ctx context.Context, userID, itemID, notes string) (Request, error) {
	r := Request{
		ID:        uuid.NewString(),
		UserID:    userID,
		ItemID:    itemID,
		Notes:     notes,
		Status:    "pending",
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requests (id, user_id, item_id, notes, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.ItemID, r.Notes, r.Status, r.CreatedAt.UnixMilli())
	if err != nil {
		return Request{}, fmt.Errorf("insert request: %w", err)
	}
	return r, nil
}

// ListRequests returns every request, or only userID's when it is non-empty.
func (s *Store) ListRequests(ctx context.Context, userID string) ([]Request, error) {
	q := `SELECT id, user_id, item_id, notes, status, created_at FROM requests`
	var args []any
	if userID != "" {
		q += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Request{}
	for rows.Next() {
		var r Request
		var created int64
		if err := rows.Scan(&r.ID, &r.UserID, &r.ItemID, &r.Notes, &r.Status, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

const refLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

func randomFrom(alphabet string, n int) (string, error) {
	var b strings.Builder
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String(), nil
}

// NewReferenceID returns PREFIX-LLLL-DDDD.
func NewReferenceID(prefix string) (string, error) {
	letters, err := randomFrom(refLetters, 4)
	if err != nil {
		return "", err
	}
	digits, err := randomFrom("0123456789", 4)
	if err != nil {
		return "", err
	}
	return prefix + "-" + letters + "-" + digits, nil
}

func (s *Store) CreateSubmission(ctx context.Context, kind, prefix string, sub Submission) (Submission, error) {
	sub.Kind = kind
	sub.CreatedAt = time.Now().UTC()
	for attempt := 0; attempt < 5; attempt++ {
		ref, err := NewReferenceID(prefix)
		if err != nil {
			return Submission{}, err
		}
		sub.ReferenceID = ref
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO submissions (reference_id, kind, name, email, message, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			sub.ReferenceID, sub.Kind, sub.Name, sub.Email, sub.Message, sub.CreatedAt.UnixMilli())
		if isUniqueViolation(err) {
			continue
		}
		if err != nil {
			return Submission{}, fmt.Errorf("insert submission: %w", err)
		}
		return sub, nil
	}
	return Submission{}, fmt.Errorf("could not allocate reference id for %s", kind)
}

func (s *Store) ListSubmissions(ctx context.Context, kind string) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reference_id, kind, name, email, message, created_at FROM submissions WHERE kind = ? ORDER BY created_at`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Submission{}
	for rows.Next() {
		var sub Submission
		var created int64
		if err := rows.Scan(&sub.ReferenceID, &sub.Kind, &sub.Name, &sub.Email, &sub.Message, &created); err != nil {
			return nil, err
		}
		sub.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, sub)
	}
	return out, rows.Err()
}
