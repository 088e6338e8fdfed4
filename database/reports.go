package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"saferoute/geo"
	"saferoute/models"
)

const reportColumns = `id, user_id, category, description, severity, latitude, longitude,
	location_name, city, region, address, has_photo, confidence, status, comment_count, created_at, expires_at`

func scanReport(row scanner) (*models.Report, error) {
	var r models.Report
	err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.Category,
		&r.Description,
		&r.Severity,
		&r.Latitude,
		&r.Longitude,
		&r.LocationName,
		&r.City,
		&r.Region,
		&r.Address,
		&r.HasPhoto,
		&r.Confidence,
		&r.Status,
		&r.CommentCount,
		&r.CreatedAt,
		&r.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SaveReport stores a scored report together with its evidence trail
func (d *Database) SaveReport(ctx context.Context, r *models.Report) error {
	var photo interface{}
	if len(r.Photo) > 0 {
		photo = r.Photo
	}
	return d.withTx(ctx, "save report", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reports (`+reportColumns+`, photo)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.UserID, r.Category, r.Description, r.Severity, r.Latitude, r.Longitude,
			r.LocationName, r.City, r.Region, r.Address, r.HasPhoto, r.Confidence, r.Status,
			r.CommentCount, r.CreatedAt.UTC(), r.ExpiresAt.UTC(), photo)
		if err != nil {
			return fmt.Errorf("failed to insert report: %w", err)
		}

		for i, e := range r.Evidence {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO report_evidence (report_id, seq, source, score, detail, created_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				r.ID, i, e.Source, e.Score, e.Detail, e.CreatedAt.UTC())
			if err != nil {
				return fmt.Errorf("failed to insert evidence: %w", err)
			}
		}
		return nil
	})
}

// GetReport returns a non-expired report with its evidence trail
func (d *Database) GetReport(ctx context.Context, id string, now time.Time) (*models.Report, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT "+reportColumns+" FROM reports WHERE id = ? AND expires_at > ?", id, now.UTC())
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT source, score, detail, created_at
		FROM report_evidence
		WHERE report_id = ?
		ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get evidence: %w", err)
	}
	defer rows.Close()

	r.Evidence = []models.Evidence{}
	for rows.Next() {
		var e models.Evidence
		if err := rows.Scan(&e.Source, &e.Score, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}
		r.Evidence = append(r.Evidence, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate evidence: %w", err)
	}
	return r, nil
}

// ListPublishedInRect returns published, non-expired reports inside b, newest
// first. The rectangle is only a pre-filter; callers apply exact distances.
func (d *Database) ListPublishedInRect(ctx context.Context, b geo.Bounds, now time.Time, limit int) ([]models.Report, error) {
	lngClause := "longitude BETWEEN ? AND ?"
	if b.WrapsAntimeridian {
		lngClause = "(longitude >= ? OR longitude <= ?)"
	}
	query := `
		SELECT ` + reportColumns + `
		FROM reports
		WHERE status = ? AND expires_at > ?
			AND latitude BETWEEN ? AND ?
			AND ` + lngClause + `
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := d.db.QueryContext(ctx, query,
		models.StatusPublished, now.UTC(), b.LatMin, b.LatMax, b.LngMin, b.LngMax, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []models.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reports: %w", err)
	}
	return reports, nil
}

// AddComment stores c and bumps the report's comment counter in one
// transaction. Expired or unknown reports yield ErrReportNotFound.
func (d *Database) AddComment(ctx context.Context, c *models.Comment, now time.Time) error {
	return d.withTx(ctx, "add comment", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE reports SET comment_count = comment_count + 1 WHERE id = ? AND expires_at > ?",
			c.ReportID, now.UTC())
		if err != nil {
			return fmt.Errorf("failed to bump comment count: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		} else if n == 0 {
			return ErrReportNotFound
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO report_comments (id, report_id, user_id, body, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.ReportID, c.UserID, c.Body, c.CreatedAt.UTC(), c.ExpiresAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert comment: %w", err)
		}
		return nil
	})
}

// ListComments returns the non-expired comments of a report, oldest first
func (d *Database) ListComments(ctx context.Context, reportID string, now time.Time) ([]models.Comment, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, report_id, user_id, body, created_at, expires_at
		FROM report_comments
		WHERE report_id = ? AND expires_at > ?
		ORDER BY created_at`, reportID, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	comments := []models.Comment{}
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.ReportID, &c.UserID, &c.Body, &c.CreatedAt, &c.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate comments: %w", err)
	}
	return comments, nil
}
