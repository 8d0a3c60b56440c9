package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"coursedeck/internal/models"
	"coursedeck/internal/reorder"
)

type postgresRepository struct {
	pool          *pgxpool.Pool
	cfg           PostgresConfig
	objectStorage ObjectStorageConfig
}

// NewPostgresRepository opens a Postgres-backed repository. The caller must
// ensure database migrations have been applied prior to invoking this
// constructor.
func NewPostgresRepository(dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	return &postgresRepository{
		pool:          pool,
		cfg:           cfg,
		objectStorage: cfg.ObjectStorage,
	}, nil
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// ObjectStorage exposes the configured media bucket settings.
func (r *postgresRepository) ObjectStorage() ObjectStorageConfig {
	return r.objectStorage
}

// opCtx bounds a repository operation by the configured acquire timeout. The
// returned cancel must always be called.
func (r *postgresRepository) opCtx() (context.Context, context.CancelFunc) {
	if r.cfg.AcquireTimeout > 0 {
		return context.WithTimeout(context.Background(), r.cfg.AcquireTimeout)
	}
	return context.WithCancel(context.Background())
}

func rollbackTx(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		_ = err
	}
}

// inTx runs fn inside a transaction, committing on success.
func (r *postgresRepository) inTx(fn func(ctx context.Context, tx pgx.Tx) error) error {
	ctx, cancel := r.opCtx()
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollbackTx(ctx, tx)

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type rowScanner interface {
	Scan(dest ...any) error
}

const accountColumns = `id, email, full_name, avatar_url, role, balance_minor, is_hidden, service_key_id, service_key_hash, created_at, updated_at`

func scanAccount(row rowScanner) (models.Account, error) {
	var account models.Account
	var balance int64
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.FullName,
		&account.AvatarURL,
		&account.Role,
		&balance,
		&account.IsHidden,
		&account.ServiceKeyID,
		&account.ServiceKeyHash,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return models.Account{}, err
	}
	account.Balance = models.NewMoneyFromMinorUnits(balance)
	return account, nil
}

const courseColumns = `id, title, description, price_minor, course_type, grade, learner_count, section_count, lecture_count, thumbnail_key, is_hidden, created_at, updated_at`

func scanCourse(row rowScanner) (models.Course, error) {
	var course models.Course
	var price int64
	err := row.Scan(
		&course.ID,
		&course.Title,
		&course.Description,
		&price,
		&course.CourseType,
		&course.Grade,
		&course.LearnerCount,
		&course.SectionCount,
		&course.LectureCount,
		&course.ThumbnailKey,
		&course.IsHidden,
		&course.CreatedAt,
		&course.UpdatedAt,
	)
	if err != nil {
		return models.Course{}, err
	}
	course.Price = models.NewMoneyFromMinorUnits(price)
	return course, nil
}

const sectionColumns = `id, title, course_id, section_order, is_hidden, created_at, updated_at`

func scanSection(row rowScanner) (models.Section, error) {
	var section models.Section
	err := row.Scan(
		&section.ID,
		&section.Title,
		&section.CourseID,
		&section.SectionOrder,
		&section.IsHidden,
		&section.CreatedAt,
		&section.UpdatedAt,
	)
	return section, err
}

const lectureColumns = `id, title, section_id, lecture_order, is_hidden, created_at, updated_at`

func scanLecture(row rowScanner) (models.Lecture, error) {
	var lecture models.Lecture
	err := row.Scan(
		&lecture.ID,
		&lecture.Title,
		&lecture.SectionID,
		&lecture.LectureOrder,
		&lecture.IsHidden,
		&lecture.CreatedAt,
		&lecture.UpdatedAt,
	)
	return lecture, err
}

const videoColumns = `id, file_name, size_bytes, lecture_id, is_hidden, created_at, updated_at`

func scanVideo(row rowScanner) (models.Video, error) {
	var video models.Video
	err := row.Scan(
		&video.ID,
		&video.FileName,
		&video.SizeBytes,
		&video.LectureID,
		&video.IsHidden,
		&video.CreatedAt,
		&video.UpdatedAt,
	)
	return video, err
}

const topicColumns = `id, title, topic_type, file_key, file_name, is_hidden, created_at, updated_at`

func scanTopic(row rowScanner) (models.Topic, error) {
	var topic models.Topic
	err := row.Scan(
		&topic.ID,
		&topic.Title,
		&topic.TopicType,
		&topic.FileKey,
		&topic.FileName,
		&topic.IsHidden,
		&topic.CreatedAt,
		&topic.UpdatedAt,
	)
	return topic, err
}

const commentColumns = `id, comment_text, parent_id, account_id, lecture_id, is_hidden, created_at, updated_at`

func scanComment(row rowScanner) (models.Comment, error) {
	var comment models.Comment
	err := row.Scan(
		&comment.ID,
		&comment.CommentText,
		&comment.ParentID,
		&comment.AccountID,
		&comment.LectureID,
		&comment.IsHidden,
		&comment.CreatedAt,
		&comment.UpdatedAt,
	)
	return comment, err
}

const depositColumns = `id, learner_id, amount_minor, status, image_key, is_hidden, created_at, updated_at`

func scanDeposit(row rowScanner) (models.DepositRequest, error) {
	var deposit models.DepositRequest
	var amount int64
	err := row.Scan(
		&deposit.ID,
		&deposit.LearnerID,
		&amount,
		&deposit.Status,
		&deposit.ImageKey,
		&deposit.IsHidden,
		&deposit.CreatedAt,
		&deposit.UpdatedAt,
	)
	if err != nil {
		return models.DepositRequest{}, err
	}
	deposit.Amount = models.NewMoneyFromMinorUnits(amount)
	return deposit, nil
}

// Account operations

func (r *postgresRepository) UpsertAccountFromIdentity(params CreateAccountParams) (models.Account, error) {
	email := normalizeEmail(params.Email)
	if email == "" {
		return models.Account{}, errors.New("email is required")
	}
	role := strings.TrimSpace(params.Role)
	if role == "" {
		role = models.RoleLearner
	}
	if !validRole(role) {
		return models.Account{}, fmt.Errorf("invalid role %s", role)
	}

	var account models.Account
	err := r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		existing, err := scanAccount(tx.QueryRow(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE email = $1 FOR UPDATE`, email))
		if err == nil {
			if existing.IsHidden {
				return ErrAccountDisabled
			}
			fullName := strings.TrimSpace(params.FullName)
			avatarURL := strings.TrimSpace(params.AvatarURL)
			changed := false
			if fullName != "" && fullName != existing.FullName {
				existing.FullName = fullName
				changed = true
			}
			if avatarURL != "" && avatarURL != existing.AvatarURL {
				existing.AvatarURL = avatarURL
				changed = true
			}
			if changed {
				existing.UpdatedAt = time.Now().UTC()
				if _, err := tx.Exec(ctx,
					`UPDATE accounts SET full_name = $2, avatar_url = $3, updated_at = $4 WHERE id = $1`,
					existing.ID, existing.FullName, existing.AvatarURL, existing.UpdatedAt); err != nil {
					return fmt.Errorf("update account %s: %w", existing.ID, err)
				}
			}
			account = existing
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("find account by email: %w", err)
		}

		id, err := generateID()
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		account = models.Account{
			ID:        id,
			Email:     email,
			FullName:  strings.TrimSpace(params.FullName),
			AvatarURL: strings.TrimSpace(params.AvatarURL),
			Role:      role,
			CreatedAt: now,
			UpdatedAt: now,
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO accounts (id, email, full_name, avatar_url, role, balance_minor, is_hidden, service_key_id, service_key_hash, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, 0, FALSE, '', '', $6, $6)`,
			account.ID, account.Email, account.FullName, account.AvatarURL, account.Role, now)
		if err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Account{}, err
	}
	return account, nil
}

func (r *postgresRepository) queryAccount(query string, args ...any) (models.Account, bool) {
	ctx, cancel := r.opCtx()
	defer cancel()
	account, err := scanAccount(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return models.Account{}, false
	}
	return account, true
}

func (r *postgresRepository) GetAccount(id string) (models.Account, bool) {
	return r.queryAccount(`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (r *postgresRepository) FindAccountByEmail(email string) (models.Account, bool) {
	return r.queryAccount(`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, normalizeEmail(email))
}

func (r *postgresRepository) FindAccountByServiceKeyID(keyID string) (models.Account, bool) {
	if keyID == "" {
		return models.Account{}, false
	}
	return r.queryAccount(`SELECT `+accountColumns+` FROM accounts WHERE service_key_id = $1`, keyID)
}

func (r *postgresRepository) ListAccounts(includeHidden bool) []models.Account {
	ctx, cancel := r.opCtx()
	defer cancel()

	query := `SELECT ` + accountColumns + ` FROM accounts`
	if !includeHidden {
		query += ` WHERE NOT is_hidden`
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil
		}
		accounts = append(accounts, account)
	}
	return accounts
}

func (r *postgresRepository) UpdateAccount(id string, update AccountUpdate) (models.Account, error) {
	var account models.Account
	err := r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		current, err := scanAccount(tx.QueryRow(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("account %s: %w", id, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("load account %s: %w", id, err)
		}

		if update.FullName != nil {
			name := strings.TrimSpace(*update.FullName)
			if name == "" {
				return errors.New("fullName cannot be empty")
			}
			current.FullName = name
		}
		if update.AvatarURL != nil {
			current.AvatarURL = strings.TrimSpace(*update.AvatarURL)
		}
		if update.Role != nil {
			role := strings.TrimSpace(*update.Role)
			if !validRole(role) {
				return fmt.Errorf("invalid role %s", role)
			}
			current.Role = role
		}
		current.UpdatedAt = time.Now().UTC()

		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET full_name = $2, avatar_url = $3, role = $4, updated_at = $5 WHERE id = $1`,
			id, current.FullName, current.AvatarURL, current.Role, current.UpdatedAt); err != nil {
			return fmt.Errorf("update account %s: %w", id, err)
		}
		account = current
		return nil
	})
	if err != nil {
		return models.Account{}, err
	}
	return account, nil
}

func (r *postgresRepository) SetAccountServiceKey(id, keyID, secretHash string) (models.Account, error) {
	if keyID == "" || secretHash == "" {
		return models.Account{}, errors.New("service key id and hash are required")
	}
	var account models.Account
	err := r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		now := time.Now().UTC()
		tag, err := tx.Exec(ctx,
			`UPDATE accounts SET service_key_id = $2, service_key_hash = $3, updated_at = $4 WHERE id = $1`,
			id, keyID, secretHash, now)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("service key id %s already in use", keyID)
			}
			return fmt.Errorf("set service key for account %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("account %s: %w", id, ErrNotFound)
		}
		loaded, err := scanAccount(tx.QueryRow(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
		if err != nil {
			return fmt.Errorf("load account %s: %w", id, err)
		}
		account = loaded
		return nil
	})
	if err != nil {
		return models.Account{}, err
	}
	return account, nil
}

func (r *postgresRepository) HideAccount(id string) error {
	return r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE accounts SET is_hidden = TRUE, updated_at = $2 WHERE id = $1`,
			id, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("hide account %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("account %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// Course operations

func (r *postgresRepository) CreateCourse(params CreateCourseParams) (models.Course, error) {
	title, err := validateTitle(params.Title)
	if err != nil {
		return models.Course{}, err
	}
	if !validCourseType(params.CourseType) {
		return models.Course{}, fmt.Errorf("invalid course type %s", params.CourseType)
	}
	if params.Price.IsNegative() {
		return models.Course{}, errors.New("price cannot be negative")
	}

	id, err := generateID()
	if err != nil {
		return models.Course{}, err
	}
	now := time.Now().UTC()
	course := models.Course{
		ID:          id,
		Title:       title,
		Description: strings.TrimSpace(params.Description),
		Price:       params.Price,
		CourseType:  params.CourseType,
		Grade:       strings.TrimSpace(params.Grade),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	ctx, cancel := r.opCtx()
	defer cancel()
	_, err = r.pool.Exec(ctx,
		`INSERT INTO courses (id, title, description, price_minor, course_type, grade, learner_count, section_count, lecture_count, thumbnail_key, is_hidden, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, 0, 0, '', FALSE, $7, $7)`,
		course.ID, course.Title, course.Description, course.Price.MinorUnits(), course.CourseType, course.Grade, now)
	if err != nil {
		return models.Course{}, fmt.Errorf("insert course: %w", err)
	}
	return course, nil
}

func (r *postgresRepository) GetCourse(id string) (models.Course, bool) {
	ctx, cancel := r.opCtx()
	defer cancel()
	course, err := scanCourse(r.pool.QueryRow(ctx,
		`SELECT `+courseColumns+` FROM courses WHERE id = $1`, id))
	if err != nil {
		return models.Course{}, false
	}
	return course, true
}

func (r *postgresRepository) ListCourses(includeHidden bool) []models.Course {
	ctx, cancel := r.opCtx()
	defer cancel()

	query := `SELECT ` + courseColumns + ` FROM courses`
	if !includeHidden {
		query += ` WHERE NOT is_hidden`
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var courses []models.Course
	for rows.Next() {
		course, err := scanCourse(rows)
		if err != nil {
			return nil
		}
		courses = append(courses, course)
	}
	return courses
}

func (r *postgresRepository) UpdateCourse(id string, update CourseUpdate) (models.Course, error) {
	var course models.Course
	err := r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		current, err := scanCourse(tx.QueryRow(ctx,
			`SELECT `+courseColumns+` FROM courses WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("course %s: %w", id, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("load course %s: %w", id, err)
		}

		if update.Title != nil {
			title, err := validateTitle(*update.Title)
			if err != nil {
				return err
			}
			current.Title = title
		}
		if update.Description != nil {
			current.Description = strings.TrimSpace(*update.Description)
		}
		if update.Price != nil {
			if update.Price.IsNegative() {
				return errors.New("price cannot be negative")
			}
			current.Price = *update.Price
		}
		if update.CourseType != nil {
			if !validCourseType(*update.CourseType) {
				return fmt.Errorf("invalid course type %s", *update.CourseType)
			}
			current.CourseType = *update.CourseType
		}
		if update.Grade != nil {
			current.Grade = strings.TrimSpace(*update.Grade)
		}
		current.UpdatedAt = time.Now().UTC()

		if _, err := tx.Exec(ctx,
			`UPDATE courses SET title = $2, description = $3, price_minor = $4, course_type = $5, grade = $6, updated_at = $7 WHERE id = $1`,
			id, current.Title, current.Description, current.Price.MinorUnits(), current.CourseType, current.Grade, current.UpdatedAt); err != nil {
			return fmt.Errorf("update course %s: %w", id, err)
		}
		course = current
		return nil
	})
	if err != nil {
		return models.Course{}, err
	}
	return course, nil
}

func (r *postgresRepository) SetCourseThumbnail(id, key string) (models.Course, error) {
	if key == "" {
		return models.Course{}, errors.New("thumbnail key is required")
	}
	var course models.Course
	err := r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE courses SET thumbnail_key = $2, updated_at = $3 WHERE id = $1`,
			id, key, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("set thumbnail for course %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("course %s: %w", id, ErrNotFound)
		}
		loaded, err := scanCourse(tx.QueryRow(ctx,
			`SELECT `+courseColumns+` FROM courses WHERE id = $1`, id))
		if err != nil {
			return fmt.Errorf("load course %s: %w", id, err)
		}
		course = loaded
		return nil
	})
	if err != nil {
		return models.Course{}, err
	}
	return course, nil
}

func (r *postgresRepository) HideCourse(id string) error {
	return r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE courses SET is_hidden = TRUE, updated_at = $2 WHERE id = $1`,
			id, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("hide course %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("course %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// Section operations

func sectionItemsTx(ctx context.Context, tx pgx.Tx, courseID string) ([]reorder.Item, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, course_id, section_order FROM sections WHERE course_id = $1 AND NOT is_hidden FOR UPDATE`,
		courseID)
	if err != nil {
		return nil, fmt.Errorf("load sections of course %s: %w", courseID, err)
	}
	defer rows.Close()

	var items []reorder.Item
	for rows.Next() {
		var item reorder.Item
		if err := rows.Scan(&item.ID, &item.Parent, &item.Order); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return reorder.SortSiblings(items), nil
}

func (r *postgresRepository) CreateSection(courseID, title string) (models.Section, error) {
	trimmed, err := validateTitle(title)
	if err != nil {
		return models.Section{}, err
	}

	var section models.Section
	err = r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		course, err := scanCourse(tx.QueryRow(ctx,
			`SELECT `+courseColumns+` FROM courses WHERE id = $1 FOR UPDATE`, courseID))
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && course.IsHidden) {
			return fmt.Errorf("course %s: %w", courseID, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("load course %s: %w", courseID, err)
		}

		items, err := sectionItemsTx(ctx, tx, courseID)
		if err != nil {
			return err
		}

		id, err := generateID()
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		section = models.Section{
			ID:           id,
			Title:        trimmed,
			CourseID:     courseID,
			SectionOrder: nextOrder(items),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO sections (id, title, course_id, section_order, is_hidden, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, FALSE, $5, $5)`,
			section.ID, section.Title, section.CourseID, section.SectionOrder, now); err != nil {
			return fmt.Errorf("insert section: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE courses SET section_count = section_count + 1, updated_at = $2 WHERE id = $1`,
			courseID, now); err != nil {
			return fmt.Errorf("bump section count for course %s: %w", courseID, err)
		}
		return nil
	})
	if err != nil {
		return models.Section{}, err
	}
	return section, nil
}

func (r *postgresRepository) GetSection(id string) (models.Section, bool) {
	ctx, cancel := r.opCtx()
	defer cancel()
	section, err := scanSection(r.pool.QueryRow(ctx,
		`SELECT `+sectionColumns+` FROM sections WHERE id = $1`, id))
	if err != nil {
		return models.Section{}, false
	}
	return section, true
}

func (r *postgresRepository) ListSections(courseID string, includeHidden bool) []models.Section {
	ctx, cancel := r.opCtx()
	defer cancel()

	query := `SELECT ` + sectionColumns + ` FROM sections WHERE course_id = $1`
	if !includeHidden {
		query += ` AND NOT is_hidden`
	}
	query += ` ORDER BY section_order, id`

	rows, err := r.pool.Query(ctx, query, courseID)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var sections []models.Section
	for rows.Next() {
		section, err := scanSection(rows)
		if err != nil {
			return nil
		}
		sections = append(sections, section)
	}
	return sections
}

func (r *postgresRepository) UpdateSection(id string, update SectionUpdate) (models.Section, error) {
	var section models.Section
	err := r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		current, err := scanSection(tx.QueryRow(ctx,
			`SELECT `+sectionColumns+` FROM sections WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("section %s: %w", id, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("load section %s: %w", id, err)
		}

		if update.Title != nil {
			title, err := validateTitle(*update.Title)
			if err != nil {
				return err
			}
			current.Title = title
		}
		current.UpdatedAt = time.Now().UTC()

		if _, err := tx.Exec(ctx,
			`UPDATE sections SET title = $2, updated_at = $3 WHERE id = $1`,
			id, current.Title, current.UpdatedAt); err != nil {
			return fmt.Errorf("update section %s: %w", id, err)
		}
		section = current
		return nil
	})
	if err != nil {
		return models.Section{}, err
	}
	return section, nil
}

func (r *postgresRepository) MoveSection(id string, dir reorder.Direction) (models.Section, error) {
	var section models.Section
	err := r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		current, err := scanSection(tx.QueryRow(ctx,
			`SELECT `+sectionColumns+` FROM sections WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && current.IsHidden) {
			return fmt.Errorf("section %s: %w", id, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("load section %s: %w", id, err)
		}

		items, err := sectionItemsTx(ctx, tx, current.CourseID)
		if err != nil {
			return err
		}
		moved, neighbour, err := reorder.MoveWithinParent(id, dir, items)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, change := range []reorder.Item{moved, neighbour} {
			if _, err := tx.Exec(ctx,
				`UPDATE sections SET section_order = $2, updated_at = $3 WHERE id = $1`,
				change.ID, change.Order, now); err != nil {
				return fmt.Errorf("reorder section %s: %w", change.ID, err)
			}
		}
		current.SectionOrder = moved.Order
		current.UpdatedAt = now
		section = current
		return nil
	})
	if err != nil {
		return models.Section{}, err
	}
	return section, nil
}

func (r *postgresRepository) HideSection(id string) error {
	return r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		current, err := scanSection(tx.QueryRow(ctx,
			`SELECT `+sectionColumns+` FROM sections WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("section %s: %w", id, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("load section %s: %w", id, err)
		}
		if current.IsHidden {
			return nil
		}
		now := time.Now().UTC()
		if _, err := tx.Exec(ctx,
			`UPDATE sections SET is_hidden = TRUE, updated_at = $2 WHERE id = $1`, id, now); err != nil {
			return fmt.Errorf("hide section %s: %w", id, err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE courses SET section_count = GREATEST(section_count - 1, 0), updated_at = $2 WHERE id = $1`,
			current.CourseID, now); err != nil {
			return fmt.Errorf("drop section count for course %s: %w", current.CourseID, err)
		}
		return nil
	})
}

// Lecture operations

func lectureItemsTx(ctx context.Context, tx pgx.Tx, sectionID string) ([]reorder.Item, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, section_id, lecture_order FROM lectures WHERE section_id = $1 AND NOT is_hidden FOR UPDATE`,
		sectionID)
	if err != nil {
		return nil, fmt.Errorf("load lectures of section %s: %w", sectionID, err)
	}
	defer rows.Close()

	var items []reorder.Item
	for rows.Next() {
		var item reorder.Item
		if err := rows.Scan(&item.ID, &item.Parent, &item.Order); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return reorder.SortSiblings(items), nil
}

func (r *postgresRepository) CreateLecture(sectionID, title string) (models.Lecture, error) {
	trimmed, err := validateTitle(title)
	if err != nil {
		return models.Lecture{}, err
	}

	var lecture models.Lecture
	err = r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		section, err := scanSection(tx.QueryRow(ctx,
			`SELECT `+sectionColumns+` FROM sections WHERE id = $1 FOR UPDATE`, sectionID))
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && section.IsHidden) {
			return fmt.Errorf("section %s: %w", sectionID, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("load section %s: %w", sectionID, err)
		}

		items, err := lectureItemsTx(ctx, tx, sectionID)
		if err != nil {
			return err
		}

		id, err := generateID()
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		lecture = models.Lecture{
			ID:           id,
			Title:        trimmed,
			SectionID:    sectionID,
			LectureOrder: nextOrder(items),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO lectures (id, title, section_id, lecture_order, is_hidden, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, FALSE, $5, $5)`,
			lecture.ID, lecture.Title, lecture.SectionID, lecture.LectureOrder, now); err != nil {
			return fmt.Errorf("insert lecture: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE courses SET lecture_count = lecture_count + 1, updated_at = $2 WHERE id = $1`,
			section.CourseID, now); err != nil {
			return fmt.Errorf("bump lecture count for course %s: %w", section.CourseID, err)
		}
		return nil
	})
	if err != nil {
		return models.Lecture{}, err
	}
	return lecture, nil
}

func (r *postgresRepository) GetLecture(id string) (models.Lecture, bool) {
	ctx, cancel := r.opCtx()
	defer cancel()
	lecture, err := scanLecture(r.pool.QueryRow(ctx,
		`SELECT `+lectureColumns+` FROM lectures WHERE id = $1`, id))
	if err != nil {
		return models.Lecture{}, false
	}
	return lecture, true
}

func (r *postgresRepository) ListLectures(sectionID string, includeHidden bool) []models.Lecture {
	ctx, cancel := r.opCtx()
	defer cancel()

	query := `SELECT ` + lectureColumns + ` FROM lectures WHERE section_id = $1`
	if !includeHidden {
		query += ` AND NOT is_hidden`
	}
	query += ` ORDER BY lecture_order, id`

	rows, err := r.pool.Query(ctx, query, sectionID)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var lectures []models.Lecture
	for rows.Next() {
		lecture, err := scanLecture(rows)
		if err != nil {
			return nil
		}
		lectures = append(lectures, lecture)
	}
	return lectures
}

func (r *postgresRepository) UpdateLecture(id string, update LectureUpdate) (models.Lecture, error) {
	var lecture models.Lecture
	err := r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		current, err := scanLecture(tx.QueryRow(ctx,
			`SELECT `+lectureColumns+` FROM lectures WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lecture %s: %w", id, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("load lecture %s: %w", id, err)
		}

		if update.Title != nil {
			title, err := validateTitle(*update.Title)
			if err != nil {
				return err
			}
			current.Title = title
		}
		current.UpdatedAt = time.Now().UTC()

		if _, err := tx.Exec(ctx,
			`UPDATE lectures SET title = $2, updated_at = $3 WHERE id = $1`,
			id, current.Title, current.UpdatedAt); err != nil {
			return fmt.Errorf("update lecture %s: %w", id, err)
		}
		lecture = current
		return nil
	})
	if err != nil {
		return models.Lecture{}, err
	}
	return lecture, nil
}

func (r *postgresRepository) MoveLecture(id string, dir reorder.Direction, targetSectionID string) (models.Lecture, error) {
	var lecture models.Lecture
	err := r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		current, err := scanLecture(tx.QueryRow(ctx,
			`SELECT `+lectureColumns+` FROM lectures WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && current.IsHidden) {
			return fmt.Errorf("lecture %s: %w", id, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("load lecture %s: %w", id, err)
		}

		now := time.Now().UTC()

		if targetSectionID == "" || targetSectionID == current.SectionID {
			items, err := lectureItemsTx(ctx, tx, current.SectionID)
			if err != nil {
				return err
			}
			moved, neighbour, err := reorder.MoveWithinParent(id, dir, items)
			if err != nil {
				return err
			}
			for _, change := range []reorder.Item{moved, neighbour} {
				if _, err := tx.Exec(ctx,
					`UPDATE lectures SET lecture_order = $2, updated_at = $3 WHERE id = $1`,
					change.ID, change.Order, now); err != nil {
					return fmt.Errorf("reorder lecture %s: %w", change.ID, err)
				}
			}
			current.LectureOrder = moved.Order
			current.UpdatedAt = now
			lecture = current
			return nil
		}

		target, err := scanSection(tx.QueryRow(ctx,
			`SELECT `+sectionColumns+` FROM sections WHERE id = $1 FOR UPDATE`, targetSectionID))
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && target.IsHidden) {
			return fmt.Errorf("section %s: %w", targetSectionID, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("load section %s: %w", targetSectionID, err)
		}
		origin, err := scanSection(tx.QueryRow(ctx,
			`SELECT `+sectionColumns+` FROM sections WHERE id = $1`, current.SectionID))
		if err != nil {
			return fmt.Errorf("load section %s: %w", current.SectionID, err)
		}
		if target.CourseID != origin.CourseID {
			return errors.New("cannot move a lecture across courses")
		}

		items, err := lectureItemsTx(ctx, tx, targetSectionID)
		if err != nil {
			return err
		}
		item := reorder.Item{ID: current.ID, Parent: current.SectionID, Order: current.LectureOrder}
		changes := reorder.MoveAcrossParents(item, dir, targetSectionID, items)

		if _, err := tx.Exec(ctx,
			`UPDATE lectures SET section_id = $2, updated_at = $3 WHERE id = $1`,
			id, targetSectionID, now); err != nil {
			return fmt.Errorf("move lecture %s: %w", id, err)
		}
		for _, change := range changes {
			if _, err := tx.Exec(ctx,
				`UPDATE lectures SET lecture_order = $2, updated_at = $3 WHERE id = $1`,
				change.ID, change.Order, now); err != nil {
				return fmt.Errorf("reorder lecture %s: %w", change.ID, err)
			}
		}
		loaded, err := scanLecture(tx.QueryRow(ctx,
			`SELECT `+lectureColumns+` FROM lectures WHERE id = $1`, id))
		if err != nil {
			return fmt.Errorf("load lecture %s: %w", id, err)
		}
		lecture = loaded
		return nil
	})
	if err != nil {
		return models.Lecture{}, err
	}
	return lecture, nil
}

func (r *postgresRepository) HideLecture(id string) error {
	return r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		current, err := scanLecture(tx.QueryRow(ctx,
			`SELECT `+lectureColumns+` FROM lectures WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lecture %s: %w", id, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("load lecture %s: %w", id, err)
		}
		if current.IsHidden {
			return nil
		}
		now := time.Now().UTC()
		if _, err := tx.Exec(ctx,
			`UPDATE lectures SET is_hidden = TRUE, updated_at = $2 WHERE id = $1`, id, now); err != nil {
			return fmt.Errorf("hide lecture %s: %w", id, err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE courses SET lecture_count = GREATEST(lecture_count - 1, 0), updated_at = $2
			 WHERE id = (SELECT course_id FROM sections WHERE id = $1)`,
			current.SectionID, now); err != nil {
			return fmt.Errorf("drop lecture count: %w", err)
		}
		return nil
	})
}

// Video operations

func (r *postgresRepository) AttachVideo(params AttachVideoParams) (models.Video, error) {
	if params.FileName == "" {
		return models.Video{}, errors.New("file name is required")
	}
	if params.SizeBytes < 0 {
		return models.Video{}, errors.New("size cannot be negative")
	}

	var video models.Video
	err := r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		lecture, err := scanLecture(tx.QueryRow(ctx,
			`SELECT `+lectureColumns+` FROM lectures WHERE id = $1 FOR UPDATE`, params.LectureID))
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && lecture.IsHidden) {
			return fmt.Errorf("lecture %s: %w", params.LectureID, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("load lecture %s: %w", params.LectureID, err)
		}

		now := time.Now().UTC()
		if _, err := tx.Exec(ctx,
			`UPDATE videos SET is_hidden = TRUE, updated_at = $2 WHERE lecture_id = $1 AND NOT is_hidden`,
			params.LectureID, now); err != nil {
			return fmt.Errorf("supersede videos of lecture %s: %w", params.LectureID, err)
		}

		id, err := generateID()
		if err != nil {
			return err
		}
		video = models.Video{
			ID:        id,
			FileName:  params.FileName,
			SizeBytes: params.SizeBytes,
			LectureID: params.LectureID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO videos (id, file_name, size_bytes, lecture_id, is_hidden, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, FALSE, $5, $5)`,
			video.ID, video.FileName, video.SizeBytes, video.LectureID, now); err != nil {
			return fmt.Errorf("insert video: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Video{}, err
	}
	return video, nil
}

func (r *postgresRepository) GetLectureVideo(lectureID string) (models.Video, bool) {
	ctx, cancel := r.opCtx()
	defer cancel()
	video, err := scanVideo(r.pool.QueryRow(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE lecture_id = $1 AND NOT is_hidden ORDER BY created_at DESC LIMIT 1`,
		lectureID))
	if err != nil {
		return models.Video{}, false
	}
	return video, true
}

func (r *postgresRepository) GetVideo(id string) (models.Video, bool) {
	ctx, cancel := r.opCtx()
	defer cancel()
	video, err := scanVideo(r.pool.QueryRow(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE id = $1`, id))
	if err != nil {
		return models.Video{}, false
	}
	return video, true
}

// Topic operations

func (r *postgresRepository) CreateTopic(params CreateTopicParams) (models.Topic, error) {
	title, err := validateTitle(params.Title)
	if err != nil {
		return models.Topic{}, err
	}
	topicType := strings.TrimSpace(params.TopicType)
	if topicType == "" {
		return models.Topic{}, errors.New("topic type is required")
	}

	id, err := generateID()
	if err != nil {
		return models.Topic{}, err
	}
	now := time.Now().UTC()
	topic := models.Topic{
		ID:        id,
		Title:     title,
		TopicType: topicType,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ctx, cancel := r.opCtx()
	defer cancel()
	_, err = r.pool.Exec(ctx,
		`INSERT INTO topics (id, title, topic_type, file_key, file_name, is_hidden, created_at, updated_at)
		 VALUES ($1, $2, $3, '', '', FALSE, $4, $4)`,
		topic.ID, topic.Title, topic.TopicType, now)
	if err != nil {
		return models.Topic{}, fmt.Errorf("insert topic: %w", err)
	}
	return topic, nil
}

func (r *postgresRepository) GetTopic(id string) (models.Topic, bool) {
	ctx, cancel := r.opCtx()
	defer cancel()
	topic, err := scanTopic(r.pool.QueryRow(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE id = $1`, id))
	if err != nil {
		return models.Topic{}, false
	}
	return topic, true
}

func (r *postgresRepository) ListTopics(includeHidden bool) []models.Topic {
	ctx, cancel := r.opCtx()
	defer cancel()

	query := `SELECT ` + topicColumns + ` FROM topics`
	if !includeHidden {
		query += ` WHERE NOT is_hidden`
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var topics []models.Topic
	for rows.Next() {
		topic, err := scanTopic(rows)
		if err != nil {
			return nil
		}
		topics = append(topics, topic)
	}
	return topics
}

func (r *postgresRepository) UpdateTopic(id string, update TopicUpdate) (models.Topic, error) {
	var topic models.Topic
	err := r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		current, err := scanTopic(tx.QueryRow(ctx,
			`SELECT `+topicColumns+` FROM topics WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("topic %s: %w", id, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("load topic %s: %w", id, err)
		}

		if update.Title != nil {
			title, err := validateTitle(*update.Title)
			if err != nil {
				return err
			}
			current.Title = title
		}
		if update.TopicType != nil {
			topicType := strings.TrimSpace(*update.TopicType)
			if topicType == "" {
				return errors.New("topic type is required")
			}
			current.TopicType = topicType
		}
		current.UpdatedAt = time.Now().UTC()

		if _, err := tx.Exec(ctx,
			`UPDATE topics SET title = $2, topic_type = $3, updated_at = $4 WHERE id = $1`,
			id, current.Title, current.TopicType, current.UpdatedAt); err != nil {
			return fmt.Errorf("update topic %s: %w", id, err)
		}
		topic = current
		return nil
	})
	if err != nil {
		return models.Topic{}, err
	}
	return topic, nil
}

func (r *postgresRepository) SetTopicFile(id, key, fileName string) (models.Topic, error) {
	if key == "" || fileName == "" {
		return models.Topic{}, errors.New("file key and name are required")
	}
	var topic models.Topic
	err := r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE topics SET file_key = $2, file_name = $3, updated_at = $4 WHERE id = $1`,
			id, key, fileName, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("set file for topic %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("topic %s: %w", id, ErrNotFound)
		}
		loaded, err := scanTopic(tx.QueryRow(ctx,
			`SELECT `+topicColumns+` FROM topics WHERE id = $1`, id))
		if err != nil {
			return fmt.Errorf("load topic %s: %w", id, err)
		}
		topic = loaded
		return nil
	})
	if err != nil {
		return models.Topic{}, err
	}
	return topic, nil
}

func (r *postgresRepository) HideTopic(id string) error {
	return r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE topics SET is_hidden = TRUE, updated_at = $2 WHERE id = $1`,
			id, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("hide topic %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("topic %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// Enrollment operations

func (r *postgresRepository) CreateEnrollment(learnerID, courseID string) (models.Enrollment, error) {
	var enrollment models.Enrollment
	err := r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		learner, err := scanAccount(tx.QueryRow(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, learnerID))
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && learner.IsHidden) {
			return fmt.Errorf("account %s: %w", learnerID, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("load account %s: %w", learnerID, err)
		}
		course, err := scanCourse(tx.QueryRow(ctx,
			`SELECT `+courseColumns+` FROM courses WHERE id = $1 FOR UPDATE`, courseID))
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && course.IsHidden) {
			return fmt.Errorf("course %s: %w", courseID, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("load course %s: %w", courseID, err)
		}

		id, err := generateID()
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		enrollment = models.Enrollment{
			ID:        id,
			LearnerID: learnerID,
			CourseID:  courseID,
			CreatedAt: now,
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO enrollments (id, learner_id, course_id, created_at) VALUES ($1, $2, $3, $4)`,
			enrollment.ID, enrollment.LearnerID, enrollment.CourseID, now); err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyEnrolled
			}
			return fmt.Errorf("insert enrollment: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE courses SET learner_count = learner_count + 1, updated_at = $2 WHERE id = $1`,
			courseID, now); err != nil {
			return fmt.Errorf("bump learner count for course %s: %w", courseID, err)
		}
		return nil
	})
	if err != nil {
		return models.Enrollment{}, err
	}
	return enrollment, nil
}

func (r *postgresRepository) IsEnrolled(learnerID, courseID string) bool {
	ctx, cancel := r.opCtx()
	defer cancel()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM enrollments WHERE learner_id = $1 AND course_id = $2)`,
		learnerID, courseID).Scan(&exists)
	return err == nil && exists
}

func (r *postgresRepository) listEnrollments(query string, args ...any) []models.Enrollment {
	ctx, cancel := r.opCtx()
	defer cancel()

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var enrollments []models.Enrollment
	for rows.Next() {
		var enrollment models.Enrollment
		if err := rows.Scan(&enrollment.ID, &enrollment.LearnerID, &enrollment.CourseID, &enrollment.CreatedAt); err != nil {
			return nil
		}
		enrollments = append(enrollments, enrollment)
	}
	return enrollments
}

func (r *postgresRepository) ListEnrollments(learnerID string) []models.Enrollment {
	return r.listEnrollments(
		`SELECT id, learner_id, course_id, created_at FROM enrollments WHERE learner_id = $1 ORDER BY created_at, id`,
		learnerID)
}

func (r *postgresRepository) ListCourseEnrollments(courseID string) []models.Enrollment {
	return r.listEnrollments(
		`SELECT id, learner_id, course_id, created_at FROM enrollments WHERE course_id = $1 ORDER BY created_at, id`,
		courseID)
}

// Comment operations

func (r *postgresRepository) CreateComment(params CreateCommentParams) (models.Comment, error) {
	text := strings.TrimSpace(params.CommentText)
	if text == "" {
		return models.Comment{}, errors.New("comment text is required")
	}
	if len(text) > MaxCommentLength {
		return models.Comment{}, fmt.Errorf("comment exceeds %d characters", MaxCommentLength)
	}

	var comment models.Comment
	err := r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		account, err := scanAccount(tx.QueryRow(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, params.AccountID))
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && account.IsHidden) {
			return fmt.Errorf("account %s: %w", params.AccountID, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("load account %s: %w", params.AccountID, err)
		}
		lecture, err := scanLecture(tx.QueryRow(ctx,
			`SELECT `+lectureColumns+` FROM lectures WHERE id = $1`, params.LectureID))
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && lecture.IsHidden) {
			return fmt.Errorf("lecture %s: %w", params.LectureID, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("load lecture %s: %w", params.LectureID, err)
		}
		if params.ParentID != "" {
			parent, err := scanComment(tx.QueryRow(ctx,
				`SELECT `+commentColumns+` FROM comments WHERE id = $1`, params.ParentID))
			if errors.Is(err, pgx.ErrNoRows) || (err == nil && parent.IsHidden) {
				return fmt.Errorf("comment %s: %w", params.ParentID, ErrNotFound)
			} else if err != nil {
				return fmt.Errorf("load comment %s: %w", params.ParentID, err)
			}
			if parent.LectureID != params.LectureID {
				return errors.New("parent comment belongs to a different lecture")
			}
		}

		id, err := generateID()
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		comment = models.Comment{
			ID:          id,
			CommentText: text,
			ParentID:    params.ParentID,
			AccountID:   params.AccountID,
			LectureID:   params.LectureID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO comments (id, comment_text, parent_id, account_id, lecture_id, is_hidden, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, FALSE, $6, $6)`,
			comment.ID, comment.CommentText, comment.ParentID, comment.AccountID, comment.LectureID, now); err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Comment{}, err
	}
	return comment, nil
}

func (r *postgresRepository) GetComment(id string) (models.Comment, bool) {
	ctx, cancel := r.opCtx()
	defer cancel()
	comment, err := scanComment(r.pool.QueryRow(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE id = $1`, id))
	if err != nil {
		return models.Comment{}, false
	}
	return comment, true
}

func (r *postgresRepository) ListComments(lectureID string, includeHidden bool) []models.Comment {
	ctx, cancel := r.opCtx()
	defer cancel()

	query := `SELECT ` + commentColumns + ` FROM comments WHERE lecture_id = $1`
	if !includeHidden {
		query += ` AND NOT is_hidden`
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, lectureID)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var comments []models.Comment
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil
		}
		comments = append(comments, comment)
	}
	return comments
}

func (r *postgresRepository) UpdateComment(id, text string) (models.Comment, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return models.Comment{}, errors.New("comment text is required")
	}
	if len(trimmed) > MaxCommentLength {
		return models.Comment{}, fmt.Errorf("comment exceeds %d characters", MaxCommentLength)
	}

	var comment models.Comment
	err := r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE comments SET comment_text = $2, updated_at = $3 WHERE id = $1 AND NOT is_hidden`,
			id, trimmed, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("update comment %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("comment %s: %w", id, ErrNotFound)
		}
		loaded, err := scanComment(tx.QueryRow(ctx,
			`SELECT `+commentColumns+` FROM comments WHERE id = $1`, id))
		if err != nil {
			return fmt.Errorf("load comment %s: %w", id, err)
		}
		comment = loaded
		return nil
	})
	if err != nil {
		return models.Comment{}, err
	}
	return comment, nil
}

func (r *postgresRepository) HideComment(id string) error {
	return r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE comments SET is_hidden = TRUE, updated_at = $2 WHERE id = $1`,
			id, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("hide comment %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("comment %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// Deposit operations

func (r *postgresRepository) CreateDepositRequest(params CreateDepositParams) (models.DepositRequest, error) {
	if params.Amount.IsZero() || params.Amount.IsNegative() {
		return models.DepositRequest{}, errors.New("amount must be positive")
	}

	var deposit models.DepositRequest
	err := r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		learner, err := scanAccount(tx.QueryRow(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, params.LearnerID))
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && learner.IsHidden) {
			return fmt.Errorf("account %s: %w", params.LearnerID, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("load account %s: %w", params.LearnerID, err)
		}

		id, err := generateID()
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		deposit = models.DepositRequest{
			ID:        id,
			LearnerID: params.LearnerID,
			Amount:    params.Amount,
			Status:    models.DepositPending,
			ImageKey:  params.ImageKey,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO deposit_requests (id, learner_id, amount_minor, status, image_key, is_hidden, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, FALSE, $6, $6)`,
			deposit.ID, deposit.LearnerID, deposit.Amount.MinorUnits(), deposit.Status, deposit.ImageKey, now); err != nil {
			return fmt.Errorf("insert deposit request: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.DepositRequest{}, err
	}
	return deposit, nil
}

func (r *postgresRepository) GetDepositRequest(id string) (models.DepositRequest, bool) {
	ctx, cancel := r.opCtx()
	defer cancel()
	deposit, err := scanDeposit(r.pool.QueryRow(ctx,
		`SELECT `+depositColumns+` FROM deposit_requests WHERE id = $1`, id))
	if err != nil {
		return models.DepositRequest{}, false
	}
	return deposit, true
}

func (r *postgresRepository) ListDepositRequests(learnerID string, includeHidden bool) []models.DepositRequest {
	ctx, cancel := r.opCtx()
	defer cancel()

	query := `SELECT ` + depositColumns + ` FROM deposit_requests`
	var conditions []string
	var args []any
	if learnerID != "" {
		args = append(args, learnerID)
		conditions = append(conditions, fmt.Sprintf("learner_id = $%d", len(args)))
	}
	if !includeHidden {
		conditions = append(conditions, "NOT is_hidden")
	}
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var deposits []models.DepositRequest
	for rows.Next() {
		deposit, err := scanDeposit(rows)
		if err != nil {
			return nil
		}
		deposits = append(deposits, deposit)
	}
	return deposits
}

func (r *postgresRepository) SetDepositImage(id, key string) (models.DepositRequest, error) {
	if key == "" {
		return models.DepositRequest{}, errors.New("image key is required")
	}
	var deposit models.DepositRequest
	err := r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		current, err := r.lockPendingDeposit(ctx, tx, id)
		if err != nil {
			return err
		}
		current.ImageKey = key
		current.UpdatedAt = time.Now().UTC()
		if _, err := tx.Exec(ctx,
			`UPDATE deposit_requests SET image_key = $2, updated_at = $3 WHERE id = $1`,
			id, current.ImageKey, current.UpdatedAt); err != nil {
			return fmt.Errorf("set image for deposit request %s: %w", id, err)
		}
		deposit = current
		return nil
	})
	if err != nil {
		return models.DepositRequest{}, err
	}
	return deposit, nil
}

// lockPendingDeposit loads the deposit request with a row lock and verifies
// it is still pending.
func (r *postgresRepository) lockPendingDeposit(ctx context.Context, tx pgx.Tx, id string) (models.DepositRequest, error) {
	deposit, err := scanDeposit(tx.QueryRow(ctx,
		`SELECT `+depositColumns+` FROM deposit_requests WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DepositRequest{}, fmt.Errorf("deposit request %s: %w", id, ErrNotFound)
	} else if err != nil {
		return models.DepositRequest{}, fmt.Errorf("load deposit request %s: %w", id, err)
	}
	if deposit.IsHidden {
		return models.DepositRequest{}, fmt.Errorf("deposit request %s: %w", id, ErrNotFound)
	}
	if deposit.Status != models.DepositPending {
		return models.DepositRequest{}, ErrDepositSettled
	}
	return deposit, nil
}

func (r *postgresRepository) ConfirmDepositRequest(id string) (models.DepositRequest, error) {
	var deposit models.DepositRequest
	err := r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		current, err := r.lockPendingDeposit(ctx, tx, id)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		current.Status = models.DepositConfirmed
		current.UpdatedAt = now
		if _, err := tx.Exec(ctx,
			`UPDATE deposit_requests SET status = $2, updated_at = $3 WHERE id = $1`,
			id, current.Status, now); err != nil {
			return fmt.Errorf("confirm deposit request %s: %w", id, err)
		}
		tag, err := tx.Exec(ctx,
			`UPDATE accounts SET balance_minor = balance_minor + $2, updated_at = $3 WHERE id = $1`,
			current.LearnerID, current.Amount.MinorUnits(), now)
		if err != nil {
			return fmt.Errorf("credit account %s: %w", current.LearnerID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("account %s: %w", current.LearnerID, ErrNotFound)
		}
		deposit = current
		return nil
	})
	if err != nil {
		return models.DepositRequest{}, err
	}
	return deposit, nil
}

func (r *postgresRepository) DenyDepositRequest(id string) (models.DepositRequest, error) {
	var deposit models.DepositRequest
	err := r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		current, err := r.lockPendingDeposit(ctx, tx, id)
		if err != nil {
			return err
		}
		current.Status = models.DepositDenied
		current.UpdatedAt = time.Now().UTC()
		if _, err := tx.Exec(ctx,
			`UPDATE deposit_requests SET status = $2, updated_at = $3 WHERE id = $1`,
			id, current.Status, current.UpdatedAt); err != nil {
			return fmt.Errorf("deny deposit request %s: %w", id, err)
		}
		deposit = current
		return nil
	})
	if err != nil {
		return models.DepositRequest{}, err
	}
	return deposit, nil
}

func (r *postgresRepository) HideDepositRequest(id string) error {
	return r.inTx(func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE deposit_requests SET is_hidden = TRUE, updated_at = $2 WHERE id = $1`,
			id, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("hide deposit request %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("deposit request %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

var _ Repository = (*postgresRepository)(nil)
