package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jason-s-yu/socialgraph/internal/friends"
	"github.com/jason-s-yu/socialgraph/internal/models"
)

var _ friends.Store = (*Store)(nil)

// columns maps relation fields to their array columns. Column names are
// interpolated into SQL, so only these are accepted.
var columns = map[models.RelationField]string{
	models.FieldMyFriends:      "my_friends",
	models.FieldFriendRequests: "friend_requests",
	models.FieldSentRequests:   "sent_requests",
}

const selectUser = `
	SELECT id::text, email, password, username, name,
	       my_friends::text[], friend_requests::text[], sent_requests::text[],
	       created_at
	FROM users
`

// CreateUser inserts a user, assigning an ID if it has none. The password is
// stored as given; callers hash it first.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return fmt.Errorf("failed to generate user id: %w", err)
		}
		user.ID = id
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Email = strings.ToLower(user.Email)

	q := `INSERT INTO users (id, email, password, username, name, created_at)
	      VALUES ($1::uuid, $2, $3, $4, $5, $6)`

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q,
			user.ID.String(), user.Email, user.Password, user.Username, user.Name, user.CreatedAt,
		)
		return execErr
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return models.ErrDuplicateUser
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.queryOne(ctx, selectUser+`WHERE email=$1`, "email "+email, strings.ToLower(email))
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.queryOne(ctx, selectUser+`WHERE username=$1`, "username "+username, username)
}

func (s *Store) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.queryOne(ctx, selectUser+`WHERE id=$1::uuid`, "user "+id.String(), id.String())
}

func (s *Store) FindUsers(ctx context.Context, ids []uuid.UUID) ([]models.User, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	return s.query(ctx, selectUser+`WHERE id = ANY($1::uuid[]) ORDER BY created_at, id`, keys)
}

// ListAllUsers returns every user, oldest first.
func (s *Store) ListAllUsers(ctx context.Context) ([]models.User, error) {
	return s.query(ctx, selectUser+`ORDER BY created_at, id`)
}

func (s *Store) AddToSet(ctx context.Context, id uuid.UUID, field models.RelationField, value uuid.UUID) error {
	col, err := column(field)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`
		UPDATE users
		SET %[1]s = CASE WHEN $2::uuid = ANY(%[1]s) THEN %[1]s ELSE array_append(%[1]s, $2::uuid) END
		WHERE id=$1::uuid
	`, col)
	return s.exec(ctx, q, id, value)
}

func (s *Store) RemoveFromSet(ctx context.Context, id uuid.UUID, field models.RelationField, value uuid.UUID) error {
	col, err := column(field)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`UPDATE users SET %[1]s = array_remove(%[1]s, $2::uuid) WHERE id=$1::uuid`, col)
	return s.exec(ctx, q, id, value)
}

func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id=$1::uuid`, id.String())
	if err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, friends.ErrUserNotFound)
	}
	return nil
}

func column(field models.RelationField) (string, error) {
	col, ok := columns[field]
	if !ok {
		return "", fmt.Errorf("unknown relation field %q", field)
	}
	return col, nil
}

func (s *Store) exec(ctx context.Context, q string, id, value uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, q, id.String(), value.String())
	if err != nil {
		return fmt.Errorf("update user %s: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, friends.ErrUserNotFound)
	}
	return nil
}

func (s *Store) queryOne(ctx context.Context, q, what string, args ...any) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, friends.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", what, err)
	}
	return u, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	return out, nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var (
		u                        models.User
		id                       string
		myFriends, reqs, sentReq []string
	)
	err := row.Scan(
		&id, &u.Email, &u.Password, &u.Username, &u.Name,
		&myFriends, &reqs, &sentReq,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if u.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("user id %q: %w", id, err)
	}
	if u.MyFriends, err = parseIDs(myFriends); err != nil {
		return nil, err
	}
	if u.FriendRequests, err = parseIDs(reqs); err != nil {
		return nil, err
	}
	if u.SentRequests, err = parseIDs(sentReq); err != nil {
		return nil, err
	}
	return &u, nil
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("relation member %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}
