package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"saferoute/geo"
	"saferoute/models"
	"saferoute/reputation"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jknair0/beforeeach"
)

var (
	db   *sql.DB
	mock sqlmock.Sqlmock
	d    *Database
	now  = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func setUp() {
	db, mock, _ = sqlmock.New()
	d = New(db)
	d.retryBackoff = 0
}

func tearDown() {
	db.Close()
}

var it = beforeeach.Create(setUp, tearDown)

var profileCols = []string{"user_id", "report_count", "avg_confidence", "image_analysis_count", "avg_image_score",
	"high_credibility_count", "safety_violation_count", "labels", "credibility", "updated_at"}

var reportCols = []string{"id", "user_id", "category", "description", "severity", "latitude", "longitude",
	"location_name", "city", "region", "address", "has_photo", "confidence", "status", "comment_count", "created_at", "expires_at"}

func deadlock() error {
	return &mysql.MySQLError{Number: mysqlErrDeadlock, Message: "Deadlock found when trying to get lock"}
}

func expectationsMet(t *testing.T) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEnsureSchema(t *testing.T) {
	it(func() {
		for _, table := range []string{"users_reputation", "reports", "report_evidence", "report_comments"} {
			mock.ExpectExec("CREATE TABLE IF NOT EXISTS " + table + " ").WillReturnResult(sqlmock.NewResult(0, 0))
		}
		if err := d.EnsureSchema(context.Background()); err != nil {
			t.Fatalf("EnsureSchema: %v", err)
		}
		expectationsMet(t)
	})
}

func TestEnsureSchemaError(t *testing.T) {
	it(func() {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS users_reputation").WillReturnError(errors.New("no privileges"))
		if err := d.EnsureSchema(context.Background()); err == nil {
			t.Fatal("expected an error")
		}
		expectationsMet(t)
	})
}

func TestGetProfile(t *testing.T) {
	it(func() {
		mock.ExpectQuery("SELECT (.+) FROM users_reputation WHERE user_id = (.+)").
			WithArgs("u1").
			WillReturnRows(sqlmock.NewRows(profileCols).
				AddRow("u1", 3, 72.5, 1, 60.0, 1, 0, `["car","road"]`, 68, now))

		p, err := d.GetProfile(context.Background(), "u1")
		if err != nil {
			t.Fatalf("GetProfile: %v", err)
		}
		if p.ReportCount != 3 || p.AvgConfidence != 72.5 || p.Credibility != 68 {
			t.Errorf("unexpected profile %+v", p)
		}
		if len(p.Labels) != 2 || p.Labels[0] != "car" || p.Labels[1] != "road" {
			t.Errorf("unexpected labels %v", p.Labels)
		}
		expectationsMet(t)
	})
}

func TestGetProfileNotFound(t *testing.T) {
	it(func() {
		mock.ExpectQuery("SELECT (.+) FROM users_reputation WHERE user_id = (.+)").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows(profileCols))

		_, err := d.GetProfile(context.Background(), "ghost")
		if !errors.Is(err, reputation.ErrProfileNotFound) {
			t.Errorf("expected ErrProfileNotFound, got %v", err)
		}
		expectationsMet(t)
	})
}

func TestCreateProfile(t *testing.T) {
	it(func() {
		p := models.NewProfile("u1")
		p.UpdatedAt = now
		mock.ExpectExec("INSERT IGNORE INTO users_reputation").
			WithArgs("u1", "[]", models.DefaultCredibility, now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := d.CreateProfile(context.Background(), p); err != nil {
			t.Fatalf("CreateProfile: %v", err)
		}
		expectationsMet(t)
	})
}

func expectProfileUpdate(lockErr error) {
	mock.ExpectBegin()
	mock.ExpectExec("INSERT IGNORE INTO users_reputation").WillReturnResult(sqlmock.NewResult(0, 0))
	q := mock.ExpectQuery("SELECT (.+) FROM users_reputation WHERE user_id = (.+) FOR UPDATE").WithArgs("u1")
	if lockErr != nil {
		q.WillReturnError(lockErr)
		mock.ExpectRollback()
		return
	}
	q.WillReturnRows(sqlmock.NewRows(profileCols).AddRow("u1", 1, 90.0, 0, 0.0, 1, 0, `[]`, 63, now))
	mock.ExpectExec("UPDATE users_reputation SET").
		WithArgs(int64(2), 85.0, int64(0), 0.0, int64(2), int64(0), "[]", 59, sqlmock.AnyArg(), "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func applyEighty(p *models.Profile) error {
	next := reputation.Apply(p, 80, nil)
	*p = *next
	return nil
}

func TestUpdateProfile(t *testing.T) {
	it(func() {
		expectProfileUpdate(nil)

		p, err := d.UpdateProfile(context.Background(), "u1", applyEighty)
		if err != nil {
			t.Fatalf("UpdateProfile: %v", err)
		}
		if p.ReportCount != 2 || p.AvgConfidence != 85 || p.Credibility != 59 {
			t.Errorf("unexpected profile %+v", p)
		}
		expectationsMet(t)
	})
}

func TestUpdateProfileRetriesDeadlock(t *testing.T) {
	it(func() {
		expectProfileUpdate(deadlock())
		expectProfileUpdate(&mysql.MySQLError{Number: mysqlErrLockWaitTimeout, Message: "Lock wait timeout exceeded"})
		expectProfileUpdate(nil)

		calls := 0
		p, err := d.UpdateProfile(context.Background(), "u1", func(p *models.Profile) error {
			calls++
			return applyEighty(p)
		})
		if err != nil {
			t.Fatalf("UpdateProfile: %v", err)
		}
		if calls != 1 {
			t.Errorf("expected fn to run once on the locked row, ran %d times", calls)
		}
		if p.ReportCount != 2 {
			t.Errorf("expected report count 2, got %d", p.ReportCount)
		}
		expectationsMet(t)
	})
}

func TestUpdateProfileGivesUp(t *testing.T) {
	it(func() {
		d.maxRetries = 2
		expectProfileUpdate(deadlock())
		expectProfileUpdate(deadlock())

		_, err := d.UpdateProfile(context.Background(), "u1", applyEighty)
		if err == nil || !retryable(err) {
			t.Errorf("expected a wrapped deadlock error, got %v", err)
		}
		expectationsMet(t)
	})
}

func TestUpdateProfileGivesUpWithoutFinalBackoff(t *testing.T) {
	it(func() {
		d.maxRetries = 1
		d.retryBackoff = time.Hour
		expectProfileUpdate(deadlock())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := d.UpdateProfile(ctx, "u1", applyEighty)
		if err == nil || !retryable(err) {
			t.Errorf("expected a wrapped deadlock error, got %v", err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			t.Error("slept after the last attempt")
		}
		expectationsMet(t)
	})
}

func TestUpdateProfileDoesNotRetryOtherErrors(t *testing.T) {
	it(func() {
		expectProfileUpdate(errors.New("connection reset"))

		if _, err := d.UpdateProfile(context.Background(), "u1", applyEighty); err == nil {
			t.Error("expected an error")
		}
		expectationsMet(t)
	})
}

func testReport() *models.Report {
	return &models.Report{
		ID:          "r1",
		UserID:      "u1",
		Category:    models.CategoryHazard,
		Description: "Fallen tree blocking the right lane",
		Severity:    models.SeverityMedium,
		Latitude:    45.1,
		Longitude:   7.6,
		City:        "Turin",
		Region:      "Piedmont",
		Confidence:  72,
		Status:      models.StatusPublished,
		Evidence: []models.Evidence{
			{Source: models.EvidenceTextSignal, Score: 80, Detail: "text plausibility score", CreatedAt: now},
			{Source: models.EvidenceFinal, Score: 72, Detail: "confidence 72", CreatedAt: now},
		},
		CreatedAt: now,
		ExpiresAt: now.Add(models.ReportTTL),
	}
}

func TestSaveReport(t *testing.T) {
	it(func() {
		r := testReport()
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO reports").
			WithArgs("r1", "u1", models.CategoryHazard, r.Description, models.SeverityMedium, 45.1, 7.6,
				"", "Turin", "Piedmont", "", false, 72, models.StatusPublished, 0, now, r.ExpiresAt, nil).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO report_evidence").
			WithArgs("r1", 0, models.EvidenceTextSignal, 80.0, "text plausibility score", now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO report_evidence").
			WithArgs("r1", 1, models.EvidenceFinal, 72.0, "confidence 72", now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		if err := d.SaveReport(context.Background(), r); err != nil {
			t.Fatalf("SaveReport: %v", err)
		}
		expectationsMet(t)
	})
}

func TestSaveReportRollsBack(t *testing.T) {
	it(func() {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO reports").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO report_evidence").WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		if err := d.SaveReport(context.Background(), testReport()); err == nil {
			t.Fatal("expected an error")
		}
		expectationsMet(t)
	})
}

func TestGetReport(t *testing.T) {
	it(func() {
		r := testReport()
		mock.ExpectQuery("SELECT (.+) FROM reports WHERE id = (.+) AND expires_at > (.+)").
			WithArgs("r1", now).
			WillReturnRows(sqlmock.NewRows(reportCols).AddRow(
				"r1", "u1", "hazard", r.Description, "medium", 45.1, 7.6,
				"", "Turin", "Piedmont", "", false, 72, "published", 2, now, r.ExpiresAt))
		mock.ExpectQuery("SELECT source, score, detail, created_at FROM report_evidence").
			WithArgs("r1").
			WillReturnRows(sqlmock.NewRows([]string{"source", "score", "detail", "created_at"}).
				AddRow(models.EvidenceTextSignal, 80.0, "text plausibility score", now).
				AddRow(models.EvidenceFinal, 72.0, "confidence 72", now))

		got, err := d.GetReport(context.Background(), "r1", now)
		if err != nil {
			t.Fatalf("GetReport: %v", err)
		}
		if got.Category != models.CategoryHazard || got.Status != models.StatusPublished || got.CommentCount != 2 {
			t.Errorf("unexpected report %+v", got)
		}
		if len(got.Evidence) != 2 || got.Evidence[1].Source != models.EvidenceFinal {
			t.Errorf("unexpected evidence %+v", got.Evidence)
		}
		expectationsMet(t)
	})
}

func TestGetReportNotFound(t *testing.T) {
	it(func() {
		mock.ExpectQuery("SELECT (.+) FROM reports WHERE id = (.+)").
			WithArgs("gone", now).
			WillReturnRows(sqlmock.NewRows(reportCols))

		if _, err := d.GetReport(context.Background(), "gone", now); !errors.Is(err, ErrReportNotFound) {
			t.Errorf("expected ErrReportNotFound, got %v", err)
		}
		expectationsMet(t)
	})
}

func TestListPublishedInRect(t *testing.T) {
	testCases := []struct {
		name    string
		bounds  geo.Bounds
		pattern string
	}{
		{
			name:    "Regular rectangle",
			bounds:  geo.Bounds{LatMin: 44, LatMax: 46, LngMin: 7, LngMax: 8},
			pattern: "latitude BETWEEN (.+) AND (.+) AND longitude BETWEEN (.+) AND (.+) ORDER BY created_at DESC",
		},
		{
			name:    "Across the antimeridian",
			bounds:  geo.Bounds{LatMin: -1, LatMax: 1, LngMin: 179.5, LngMax: -179.5, WrapsAntimeridian: true},
			pattern: "latitude BETWEEN (.+) AND (.+) AND \\(longitude >= (.+) OR longitude <= (.+)\\) ORDER BY created_at DESC",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			it(func() {
				b := tc.bounds
				mock.ExpectQuery(tc.pattern).
					WithArgs(models.StatusPublished, now, b.LatMin, b.LatMax, b.LngMin, b.LngMax, 100).
					WillReturnRows(sqlmock.NewRows(reportCols).
						AddRow("r1", "u1", "accident", "crash", "high", 45.0, 7.5, "", "", "", "", true, 90, "published", 0, now, now.Add(time.Hour)).
						AddRow("r2", "u2", "weather", "fog", "low", 45.2, 7.7, "Ring road", "", "", "", false, 75, "published", 1, now, now.Add(time.Hour)))

				reports, err := d.ListPublishedInRect(context.Background(), b, now, 100)
				if err != nil {
					t.Fatalf("ListPublishedInRect: %v", err)
				}
				if len(reports) != 2 || reports[0].ID != "r1" || !reports[0].HasPhoto || reports[1].LocationName != "Ring road" {
					t.Errorf("unexpected reports %+v", reports)
				}
				expectationsMet(t)
			})
		})
	}
}

func TestAddComment(t *testing.T) {
	it(func() {
		c := &models.Comment{ID: "c1", ReportID: "r1", UserID: "u2", Body: "Still there", CreatedAt: now, ExpiresAt: now.Add(models.CommentTTL)}
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE reports SET comment_count = comment_count \\+ 1 WHERE id = (.+) AND expires_at > (.+)").
			WithArgs("r1", now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO report_comments").
			WithArgs("c1", "r1", "u2", "Still there", now, c.ExpiresAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		if err := d.AddComment(context.Background(), c, now); err != nil {
			t.Fatalf("AddComment: %v", err)
		}
		expectationsMet(t)
	})
}

func TestAddCommentToExpiredReport(t *testing.T) {
	it(func() {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE reports SET comment_count").
			WithArgs("r1", now).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := d.AddComment(context.Background(), &models.Comment{ID: "c1", ReportID: "r1"}, now)
		if !errors.Is(err, ErrReportNotFound) {
			t.Errorf("expected ErrReportNotFound, got %v", err)
		}
		expectationsMet(t)
	})
}

func TestListComments(t *testing.T) {
	it(func() {
		mock.ExpectQuery("SELECT id, report_id, user_id, body, created_at, expires_at FROM report_comments").
			WithArgs("r1", now).
			WillReturnRows(sqlmock.NewRows([]string{"id", "report_id", "user_id", "body", "created_at", "expires_at"}).
				AddRow("c1", "r1", "u2", "first", now.Add(-time.Hour), now.Add(time.Hour)).
				AddRow("c2", "r1", "u3", "second", now, now.Add(2*time.Hour)))

		comments, err := d.ListComments(context.Background(), "r1", now)
		if err != nil {
			t.Fatalf("ListComments: %v", err)
		}
		if len(comments) != 2 || comments[0].Body != "first" || comments[1].UserID != "u3" {
			t.Errorf("unexpected comments %+v", comments)
		}
		expectationsMet(t)
	})
}

func TestPurgeExpired(t *testing.T) {
	it(func() {
		mock.ExpectExec("DELETE FROM report_comments WHERE expires_at <= (.+)").WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 4))
		mock.ExpectExec("DELETE FROM reports WHERE expires_at <= (.+)").WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 2))

		n, err := d.PurgeExpired(context.Background(), now)
		if err != nil {
			t.Fatalf("PurgeExpired: %v", err)
		}
		if n != 6 {
			t.Errorf("expected 6 purged rows, got %d", n)
		}
		expectationsMet(t)
	})
}
