package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/autoenrol/internal/models"
)

// OutboxRepository queues messages for the host to deliver.
type OutboxRepository struct {
	db *sqlx.DB
}

// NewOutboxRepository constructs the repository.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue stores a pending message.
func (r *OutboxRepository) Enqueue(ctx context.Context, message *models.Message) error {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO message_outbox (id, kind, course_id, recipient_id, sender_id, sender_name, sender_email,
        subject, body_text, body_html, created_at)
        VALUES (:id, :kind, :course_id, :recipient_id, :sender_id, :sender_name, :sender_email,
        :subject, :body_text, :body_html, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, message); err != nil {
		return fmt.Errorf("enqueue message: %w", err)
	}
	return nil
}
