package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/domain"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDatabaseURLRequired is returned when the postgres backend has no URL.
var ErrDatabaseURLRequired = errors.New("DATABASE_URL is required for the postgres store")

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres stores notes and courses in PostgreSQL.
type Postgres struct {
	pool   *pgxpool.Pool
	db     DBTX
	logger logging.Logger
	now    func() time.Time
}

// OpenPostgres connects a pool and pings the server.
func OpenPostgres(ctx context.Context, databaseURL string, logger logging.Logger) (*Postgres, error) {
	if databaseURL == "" {
		return nil, ErrDatabaseURLRequired
	}
	if logger == nil {
		logger = logging.Nop()
	}

	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}

	logger.Info("connected to PostgreSQL",
		logging.String("host", poolCfg.ConnConfig.Host),
		logging.Int("port", int(poolCfg.ConnConfig.Port)),
		logging.String("database", poolCfg.ConnConfig.Database),
	)

	return &Postgres{pool: pool, db: pool, logger: logger, now: time.Now}, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(databaseURL string, logger logging.Logger) error {
	if databaseURL == "" {
		return ErrDatabaseURLRequired
	}
	if logger == nil {
		logger = logging.Nop()
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}

	migrateURL, err := MigrateURL(databaseURL)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("migrations applied",
		logging.Int64("version", int64(version)),
		logging.Bool("dirty", dirty),
	)
	return nil
}

// MigrateURL rewrites a postgres:// URL to the pgx5:// scheme the migrate
// driver registers under.
func MigrateURL(databaseURL string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse database URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql", "pgx5":
		u.Scheme = "pgx5"
	default:
		return "", fmt.Errorf("unsupported database URL scheme %q", u.Scheme)
	}
	return u.String(), nil
}

const noteColumns = `id, user_id, course_id, source, status, original_file_path, file_name,
	file_size, duration, recorded_at, transcript, processed_notes, summary, key_points,
	identification_method, identification_confidence, suggested_courses, error_message,
	processed_at, created_at`

// CreateVoiceNote inserts note. The id and creation time are filled when
// unset.
func (p *Postgres) CreateVoiceNote(ctx context.Context, note *domain.VoiceNote) error {
	if err := prepareNote(note, p.now()); err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO voice_notes (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		noteColumns)

	_, err := p.db.Exec(ctx, query,
		note.ID, note.UserID, note.CourseID, note.Source, string(note.Status),
		note.OriginalFilePath, note.FileName, note.FileSize, note.Duration, note.RecordedAt,
		note.Transcript, note.ProcessedNotes, note.Summary, jsonArg(note.KeyPoints),
		note.IdentificationMethod, note.IdentificationConfidence, jsonArg(note.SuggestedCourses),
		note.ErrorMessage, note.ProcessedAt, note.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: voice note %s", ErrDuplicateID, note.ID)
		}
		return fmt.Errorf("insert voice note: %w", err)
	}
	return nil
}

// ListVoiceNotes returns a user's notes, newest first. An empty status
// returns every status.
func (p *Postgres) ListVoiceNotes(ctx context.Context, userID string, status domain.NoteStatus) ([]domain.VoiceNote, error) {
	query := fmt.Sprintf(`SELECT %s FROM voice_notes
		WHERE user_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC`, noteColumns)

	rows, err := p.db.Query(ctx, query, userID, string(status))
	if err != nil {
		return nil, fmt.Errorf("query voice notes: %w", err)
	}
	defer rows.Close()

	var out []domain.VoiceNote
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan voice note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNote(row pgx.Row) (domain.VoiceNote, error) {
	var (
		n                domain.VoiceNote
		status           string
		keyPoints        []byte
		suggestedCourses []byte
	)
	err := row.Scan(
		&n.ID, &n.UserID, &n.CourseID, &n.Source, &status, &n.OriginalFilePath, &n.FileName,
		&n.FileSize, &n.Duration, &n.RecordedAt, &n.Transcript, &n.ProcessedNotes, &n.Summary, &keyPoints,
		&n.IdentificationMethod, &n.IdentificationConfidence, &suggestedCourses, &n.ErrorMessage,
		&n.ProcessedAt, &n.CreatedAt,
	)
	n.Status = domain.NoteStatus(status)
	n.KeyPoints = jsonText(keyPoints)
	n.SuggestedCourses = jsonText(suggestedCourses)
	return n, err
}

// ListCourses returns a user's courses in the order they were created.
func (p *Postgres) ListCourses(ctx context.Context, userID string) ([]domain.Course, error) {
	rows, err := p.db.Query(ctx,
		`SELECT id, name, COALESCE(instructor, ''), schedule FROM courses WHERE user_id = $1 ORDER BY created_at, id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("query courses: %w", err)
	}
	defer rows.Close()

	courses := []domain.Course{}
	for rows.Next() {
		var (
			c        domain.Course
			schedule []byte
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Instructor, &schedule); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		if len(schedule) > 0 {
			if err := json.Unmarshal(schedule, &c.Schedule); err != nil {
				return nil, fmt.Errorf("decode schedule of course %s: %w", c.ID, err)
			}
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

// UpsertCourse creates or replaces a course owned by userID.
func (p *Postgres) UpsertCourse(ctx context.Context, userID string, c domain.Course) error {
	if err := validCourse(c); err != nil {
		return err
	}
	schedule, err := json.Marshal(scheduleOrEmpty(c.Schedule))
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}

	_, err = p.db.Exec(ctx, `
		INSERT INTO courses (id, user_id, name, instructor, schedule)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET user_id = EXCLUDED.user_id, name = EXCLUDED.name, instructor = EXCLUDED.instructor,
			schedule = EXCLUDED.schedule, updated_at = now()`,
		c.ID, userID, c.Name, domain.StringPtr(c.Instructor), schedule)
	if err != nil {
		return fmt.Errorf("upsert course: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// jsonArg passes a JSON document as raw bytes so pgx sends it verbatim to
// a JSONB column.
func jsonArg(s *string) any {
	if s == nil {
		return nil
	}
	return []byte(*s)
}

func jsonText(b []byte) *string {
	if b == nil {
		return nil
	}
	s := string(b)
	return &s
}

func scheduleOrEmpty(s []domain.ScheduleSlot) []domain.ScheduleSlot {
	if s == nil {
		return []domain.ScheduleSlot{}
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
