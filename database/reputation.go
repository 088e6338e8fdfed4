package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"saferoute/models"
	"saferoute/reputation"
)

const profileColumns = `user_id, report_count, avg_confidence, image_analysis_count, avg_image_score,
	high_credibility_count, safety_violation_count, labels, credibility, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row scanner) (*models.Profile, error) {
	var (
		p      models.Profile
		labels []byte
	)
	err := row.Scan(
		&p.UserID,
		&p.ReportCount,
		&p.AvgConfidence,
		&p.ImageAnalysisCount,
		&p.AvgImageScore,
		&p.HighCredibilityCount,
		&p.SafetyViolationCount,
		&labels,
		&p.Credibility,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Labels = []string{}
	if len(labels) > 0 {
		if err := json.Unmarshal(labels, &p.Labels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal labels of %s: %w", p.UserID, err)
		}
	}
	return &p, nil
}

func insertDefaultProfile(ctx context.Context, exec interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
}, p *models.Profile) error {
	labels, err := json.Marshal(p.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}
	_, err = exec.ExecContext(ctx, `
		INSERT IGNORE INTO users_reputation (user_id, labels, credibility, updated_at)
		VALUES (?, ?, ?, ?)`,
		p.UserID, string(labels), p.Credibility, p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

// CreateProfile stores the default profile unless the user already has one
func (d *Database) CreateProfile(ctx context.Context, p *models.Profile) error {
	return insertDefaultProfile(ctx, d.db, p)
}

// GetProfile reads the stored profile of userID
func (d *Database) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	row := d.db.QueryRowContext(ctx, "SELECT "+profileColumns+" FROM users_reputation WHERE user_id = ?", userID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reputation.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// UpdateProfile locks the user's row, applies fn and writes the result back in
// one transaction. Deadlocks and lock wait timeouts restart the transaction so
// concurrent reports of the same user are never lost.
func (d *Database) UpdateProfile(ctx context.Context, userID string, fn func(*models.Profile) error) (*models.Profile, error) {
	var updated *models.Profile
	err := d.withTx(ctx, "update profile", func(tx *sql.Tx) error {
		def := models.NewProfile(userID)
		def.UpdatedAt = time.Now().UTC()
		if err := insertDefaultProfile(ctx, tx, def); err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx, "SELECT "+profileColumns+" FROM users_reputation WHERE user_id = ? FOR UPDATE", userID)
		p, err := scanProfile(row)
		if err != nil {
			return fmt.Errorf("failed to lock profile: %w", err)
		}

		if err := fn(p); err != nil {
			return err
		}

		labels, err := json.Marshal(p.Labels)
		if err != nil {
			return fmt.Errorf("failed to marshal labels: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE users_reputation SET
				report_count = ?, avg_confidence = ?, image_analysis_count = ?, avg_image_score = ?,
				high_credibility_count = ?, safety_violation_count = ?, labels = ?, credibility = ?, updated_at = ?
			WHERE user_id = ?`,
			p.ReportCount, p.AvgConfidence, p.ImageAnalysisCount, p.AvgImageScore,
			p.HighCredibilityCount, p.SafetyViolationCount, string(labels), p.Credibility, p.UpdatedAt.UTC(),
			userID)
		if err != nil {
			return fmt.Errorf("failed to update profile: %w", err)
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
