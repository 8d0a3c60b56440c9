package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"coursedeck/internal/models"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		balance_minor BIGINT NOT NULL DEFAULT 0,
		is_hidden BOOLEAN NOT NULL DEFAULT FALSE,
		service_key_id TEXT NOT NULL DEFAULT '',
		service_key_hash TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS accounts_service_key_id_idx
		ON accounts (service_key_id) WHERE service_key_id <> ''`,
	`CREATE TABLE IF NOT EXISTS courses (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price_minor BIGINT NOT NULL DEFAULT 0,
		course_type TEXT NOT NULL,
		grade TEXT NOT NULL DEFAULT '',
		learner_count INTEGER NOT NULL DEFAULT 0,
		section_count INTEGER NOT NULL DEFAULT 0,
		lecture_count INTEGER NOT NULL DEFAULT 0,
		thumbnail_key TEXT NOT NULL DEFAULT '',
		is_hidden BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sections (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		course_id TEXT NOT NULL REFERENCES courses (id),
		section_order INTEGER NOT NULL,
		is_hidden BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS sections_course_id_idx ON sections (course_id)`,
	`CREATE TABLE IF NOT EXISTS lectures (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		section_id TEXT NOT NULL REFERENCES sections (id),
		lecture_order INTEGER NOT NULL,
		is_hidden BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS lectures_section_id_idx ON lectures (section_id)`,
	`CREATE TABLE IF NOT EXISTS videos (
		id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		size_bytes BIGINT NOT NULL DEFAULT 0,
		lecture_id TEXT NOT NULL REFERENCES lectures (id),
		is_hidden BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS videos_lecture_id_idx ON videos (lecture_id)`,
	`CREATE TABLE IF NOT EXISTS topics (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		topic_type TEXT NOT NULL,
		file_key TEXT NOT NULL DEFAULT '',
		file_name TEXT NOT NULL DEFAULT '',
		is_hidden BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
		id TEXT PRIMARY KEY,
		learner_id TEXT NOT NULL REFERENCES accounts (id),
		course_id TEXT NOT NULL REFERENCES courses (id),
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (learner_id, course_id)
	)`,
	`CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		comment_text TEXT NOT NULL,
		parent_id TEXT NOT NULL DEFAULT '',
		account_id TEXT NOT NULL REFERENCES accounts (id),
		lecture_id TEXT NOT NULL REFERENCES lectures (id),
		is_hidden BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS comments_lecture_id_idx ON comments (lecture_id)`,
	`CREATE TABLE IF NOT EXISTS deposit_requests (
		id TEXT PRIMARY KEY,
		learner_id TEXT NOT NULL REFERENCES accounts (id),
		amount_minor BIGINT NOT NULL,
		status TEXT NOT NULL,
		image_key TEXT NOT NULL DEFAULT '',
		is_hidden BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS deposit_requests_learner_id_idx ON deposit_requests (learner_id)`,
}

// Migrate applies the schema. Statements are idempotent so repeated runs are
// safe.
func (r *postgresRepository) Migrate(ctx context.Context) error {
	for _, statement := range migrationStatements {
		if _, err := r.pool.Exec(ctx, statement); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}

// MigratePostgres applies the schema through any Repository backed by
// Postgres.
func MigratePostgres(ctx context.Context, repo Repository) error {
	pgRepo, ok := repo.(*postgresRepository)
	if !ok {
		return fmt.Errorf("postgres repository required for migration")
	}
	return pgRepo.Migrate(ctx)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (r *postgresRepository) importSnapshot(ctx context.Context, snapshot *Snapshot) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer rollbackTx(ctx, tx)

	if err := importSnapshotAccounts(ctx, tx, snapshot.Accounts); err != nil {
		return err
	}
	if err := importSnapshotCourses(ctx, tx, snapshot.Courses); err != nil {
		return err
	}
	if err := importSnapshotSections(ctx, tx, snapshot.Sections); err != nil {
		return err
	}
	if err := importSnapshotLectures(ctx, tx, snapshot.Lectures); err != nil {
		return err
	}
	if err := importSnapshotVideos(ctx, tx, snapshot.Videos); err != nil {
		return err
	}
	if err := importSnapshotTopics(ctx, tx, snapshot.Topics); err != nil {
		return err
	}
	if err := importSnapshotEnrollments(ctx, tx, snapshot.Enrollments); err != nil {
		return err
	}
	if err := importSnapshotComments(ctx, tx, snapshot.Comments); err != nil {
		return err
	}
	if err := importSnapshotDeposits(ctx, tx, snapshot.DepositRequests); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot import: %w", err)
	}
	return nil
}

func importSnapshotAccounts(ctx context.Context, tx pgx.Tx, accounts map[string]models.Account) error {
	for _, key := range sortedKeys(accounts) {
		account := accounts[key]
		_, err := tx.Exec(ctx,
			`INSERT INTO accounts (id, email, full_name, avatar_url, role, balance_minor, is_hidden, service_key_id, service_key_hash, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (id) DO UPDATE SET
				email = EXCLUDED.email,
				full_name = EXCLUDED.full_name,
				avatar_url = EXCLUDED.avatar_url,
				role = EXCLUDED.role,
				balance_minor = EXCLUDED.balance_minor,
				is_hidden = EXCLUDED.is_hidden,
				service_key_id = EXCLUDED.service_key_id,
				service_key_hash = EXCLUDED.service_key_hash,
				updated_at = EXCLUDED.updated_at`,
			account.ID, account.Email, account.FullName, account.AvatarURL, account.Role,
			account.Balance.MinorUnits(), account.IsHidden, account.ServiceKeyID, account.ServiceKeyHash,
			account.CreatedAt, account.UpdatedAt)
		if err != nil {
			return fmt.Errorf("import account %s: %w", account.ID, err)
		}
	}
	return nil
}

func importSnapshotCourses(ctx context.Context, tx pgx.Tx, courses map[string]models.Course) error {
	for _, key := range sortedKeys(courses) {
		course := courses[key]
		_, err := tx.Exec(ctx,
			`INSERT INTO courses (id, title, description, price_minor, course_type, grade, learner_count, section_count, lecture_count, thumbnail_key, is_hidden, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			 ON CONFLICT (id) DO UPDATE SET
				title = EXCLUDED.title,
				description = EXCLUDED.description,
				price_minor = EXCLUDED.price_minor,
				course_type = EXCLUDED.course_type,
				grade = EXCLUDED.grade,
				learner_count = EXCLUDED.learner_count,
				section_count = EXCLUDED.section_count,
				lecture_count = EXCLUDED.lecture_count,
				thumbnail_key = EXCLUDED.thumbnail_key,
				is_hidden = EXCLUDED.is_hidden,
				updated_at = EXCLUDED.updated_at`,
			course.ID, course.Title, course.Description, course.Price.MinorUnits(), course.CourseType,
			course.Grade, course.LearnerCount, course.SectionCount, course.LectureCount,
			course.ThumbnailKey, course.IsHidden, course.CreatedAt, course.UpdatedAt)
		if err != nil {
			return fmt.Errorf("import course %s: %w", course.ID, err)
		}
	}
	return nil
}

func importSnapshotSections(ctx context.Context, tx pgx.Tx, sections map[string]models.Section) error {
	for _, key := range sortedKeys(sections) {
		section := sections[key]
		_, err := tx.Exec(ctx,
			`INSERT INTO sections (id, title, course_id, section_order, is_hidden, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO UPDATE SET
				title = EXCLUDED.title,
				course_id = EXCLUDED.course_id,
				section_order = EXCLUDED.section_order,
				is_hidden = EXCLUDED.is_hidden,
				updated_at = EXCLUDED.updated_at`,
			section.ID, section.Title, section.CourseID, section.SectionOrder,
			section.IsHidden, section.CreatedAt, section.UpdatedAt)
		if err != nil {
			return fmt.Errorf("import section %s: %w", section.ID, err)
		}
	}
	return nil
}

func importSnapshotLectures(ctx context.Context, tx pgx.Tx, lectures map[string]models.Lecture) error {
	for _, key := range sortedKeys(lectures) {
		lecture := lectures[key]
		_, err := tx.Exec(ctx,
			`INSERT INTO lectures (id, title, section_id, lecture_order, is_hidden, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO UPDATE SET
				title = EXCLUDED.title,
				section_id = EXCLUDED.section_id,
				lecture_order = EXCLUDED.lecture_order,
				is_hidden = EXCLUDED.is_hidden,
				updated_at = EXCLUDED.updated_at`,
			lecture.ID, lecture.Title, lecture.SectionID, lecture.LectureOrder,
			lecture.IsHidden, lecture.CreatedAt, lecture.UpdatedAt)
		if err != nil {
			return fmt.Errorf("import lecture %s: %w", lecture.ID, err)
		}
	}
	return nil
}

func importSnapshotVideos(ctx context.Context, tx pgx.Tx, videos map[string]models.Video) error {
	for _, key := range sortedKeys(videos) {
		video := videos[key]
		_, err := tx.Exec(ctx,
			`INSERT INTO videos (id, file_name, size_bytes, lecture_id, is_hidden, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO UPDATE SET
				file_name = EXCLUDED.file_name,
				size_bytes = EXCLUDED.size_bytes,
				lecture_id = EXCLUDED.lecture_id,
				is_hidden = EXCLUDED.is_hidden,
				updated_at = EXCLUDED.updated_at`,
			video.ID, video.FileName, video.SizeBytes, video.LectureID,
			video.IsHidden, video.CreatedAt, video.UpdatedAt)
		if err != nil {
			return fmt.Errorf("import video %s: %w", video.ID, err)
		}
	}
	return nil
}

func importSnapshotTopics(ctx context.Context, tx pgx.Tx, topics map[string]models.Topic) error {
	for _, key := range sortedKeys(topics) {
		topic := topics[key]
		_, err := tx.Exec(ctx,
			`INSERT INTO topics (id, title, topic_type, file_key, file_name, is_hidden, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO UPDATE SET
				title = EXCLUDED.title,
				topic_type = EXCLUDED.topic_type,
				file_key = EXCLUDED.file_key,
				file_name = EXCLUDED.file_name,
				is_hidden = EXCLUDED.is_hidden,
				updated_at = EXCLUDED.updated_at`,
			topic.ID, topic.Title, topic.TopicType, topic.FileKey, topic.FileName,
			topic.IsHidden, topic.CreatedAt, topic.UpdatedAt)
		if err != nil {
			return fmt.Errorf("import topic %s: %w", topic.ID, err)
		}
	}
	return nil
}

func importSnapshotEnrollments(ctx context.Context, tx pgx.Tx, enrollments map[string]models.Enrollment) error {
	for _, key := range sortedKeys(enrollments) {
		enrollment := enrollments[key]
		_, err := tx.Exec(ctx,
			`INSERT INTO enrollments (id, learner_id, course_id, created_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO NOTHING`,
			enrollment.ID, enrollment.LearnerID, enrollment.CourseID, enrollment.CreatedAt)
		if err != nil {
			return fmt.Errorf("import enrollment %s: %w", enrollment.ID, err)
		}
	}
	return nil
}

func importSnapshotComments(ctx context.Context, tx pgx.Tx, comments map[string]models.Comment) error {
	for _, key := range sortedKeys(comments) {
		comment := comments[key]
		_, err := tx.Exec(ctx,
			`INSERT INTO comments (id, comment_text, parent_id, account_id, lecture_id, is_hidden, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO UPDATE SET
				comment_text = EXCLUDED.comment_text,
				is_hidden = EXCLUDED.is_hidden,
				updated_at = EXCLUDED.updated_at`,
			comment.ID, comment.CommentText, comment.ParentID, comment.AccountID, comment.LectureID,
			comment.IsHidden, comment.CreatedAt, comment.UpdatedAt)
		if err != nil {
			return fmt.Errorf("import comment %s: %w", comment.ID, err)
		}
	}
	return nil
}

func importSnapshotDeposits(ctx context.Context, tx pgx.Tx, deposits map[string]models.DepositRequest) error {
	for _, key := range sortedKeys(deposits) {
		deposit := deposits[key]
		_, err := tx.Exec(ctx,
			`INSERT INTO deposit_requests (id, learner_id, amount_minor, status, image_key, is_hidden, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				image_key = EXCLUDED.image_key,
				is_hidden = EXCLUDED.is_hidden,
				updated_at = EXCLUDED.updated_at`,
			deposit.ID, deposit.LearnerID, deposit.Amount.MinorUnits(), deposit.Status,
			deposit.ImageKey, deposit.IsHidden, deposit.CreatedAt, deposit.UpdatedAt)
		if err != nil {
			return fmt.Errorf("import deposit request %s: %w", deposit.ID, err)
		}
	}
	return nil
}
