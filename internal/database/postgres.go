package database

import (
	"context"
	"fmt"

	"tunechat/internal/models"
	"tunechat/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

// Migrate applies Schema. Statements are idempotent.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, Schema); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	return nil
}

func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

// User Repository Implementation
func (db *PostgresDB) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT id, username, email, image, password_hash, is_active, created_at FROM users WHERE id = $1`
	return db.scanUser(db.pool.QueryRow(ctx, query, id))
}

func (db *PostgresDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT id, username, email, image, password_hash, is_active, created_at FROM users WHERE username = $1`
	return db.scanUser(db.pool.QueryRow(ctx, query, username))
}

func (db *PostgresDB) scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.Image, &user.PasswordHash, &user.IsActive, &user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan user")
	}
	return user, nil
}

// Message Repository Implementation
func (db *PostgresDB) AppendMessage(ctx context.Context, userA, userB uuid.UUID, body string) (*models.ChatMessage, error) {
	user1, user2 := models.OrderedPair(userA, userB)

	query := `
		INSERT INTO chats (id, user1_id, user2_id, message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, user1_id, user2_id, message, created_at, updated_at`

	msg := &models.ChatMessage{}
	err := db.pool.QueryRow(ctx, query, uuid.New(), user1, user2, body).Scan(
		&msg.ID, &msg.User1, &msg.User2, &msg.Message, &msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "insert chat message")
	}
	return msg, nil
}

func (db *PostgresDB) ListConversation(ctx context.Context, userA, userB uuid.UUID) ([]*models.ChatMessage, error) {
	user1, user2 := models.OrderedPair(userA, userB)

	query := `
		SELECT id, user1_id, user2_id, message, created_at, updated_at
		FROM chats
		WHERE user1_id = $1 AND user2_id = $2
		ORDER BY created_at, id`

	rows, err := db.pool.Query(ctx, query, user1, user2)
	if err != nil {
		return nil, errors.Wrap(err, "query conversation")
	}
	defer rows.Close()

	messages := []*models.ChatMessage{}
	for rows.Next() {
		msg := &models.ChatMessage{}
		if err := rows.Scan(&msg.ID, &msg.User1, &msg.User2, &msg.Message, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan chat message")
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (db *PostgresDB) ListPartners(ctx context.Context, userID uuid.UUID) ([]*models.Partner, error) {
	query := `
		SELECT u.id, u.username, u.image
		FROM users u
		WHERE u.id <> $1 AND u.id IN (
			SELECT user2_id FROM chats WHERE user1_id = $1
			UNION
			SELECT user1_id FROM chats WHERE user2_id = $1
		)
		ORDER BY u.username`

	rows, err := db.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query partners")
	}
	defer rows.Close()

	partners := []*models.Partner{}
	for rows.Next() {
		p := &models.Partner{}
		if err := rows.Scan(&p.ID, &p.Username, &p.Image); err != nil {
			return nil, errors.Wrap(err, "scan partner")
		}
		partners = append(partners, p)
	}
	return partners, rows.Err()
}
