package storage

import (
	"context"

	"coursedeck/internal/models"
	"coursedeck/internal/reorder"
)

// Repository exposes the datastore operations required by API handlers and
// the command-line tooling.
type Repository interface {
	Ping(ctx context.Context) error

	UpsertAccountFromIdentity(params CreateAccountParams) (models.Account, error)
	GetAccount(id string) (models.Account, bool)
	FindAccountByEmail(email string) (models.Account, bool)
	FindAccountByServiceKeyID(keyID string) (models.Account, bool)
	ListAccounts(includeHidden bool) []models.Account
	UpdateAccount(id string, update AccountUpdate) (models.Account, error)
	SetAccountServiceKey(id, keyID, secretHash string) (models.Account, error)
	HideAccount(id string) error

	CreateCourse(params CreateCourseParams) (models.Course, error)
	GetCourse(id string) (models.Course, bool)
	ListCourses(includeHidden bool) []models.Course
	UpdateCourse(id string, update CourseUpdate) (models.Course, error)
	SetCourseThumbnail(id, key string) (models.Course, error)
	HideCourse(id string) error

	CreateSection(courseID, title string) (models.Section, error)
	GetSection(id string) (models.Section, bool)
	ListSections(courseID string, includeHidden bool) []models.Section
	UpdateSection(id string, update SectionUpdate) (models.Section, error)
	MoveSection(id string, dir reorder.Direction) (models.Section, error)
	HideSection(id string) error

	CreateLecture(sectionID, title string) (models.Lecture, error)
	GetLecture(id string) (models.Lecture, bool)
	ListLectures(sectionID string, includeHidden bool) []models.Lecture
	UpdateLecture(id string, update LectureUpdate) (models.Lecture, error)
	MoveLecture(id string, dir reorder.Direction, targetSectionID string) (models.Lecture, error)
	HideLecture(id string) error

	AttachVideo(params AttachVideoParams) (models.Video, error)
	GetLectureVideo(lectureID string) (models.Video, bool)
	GetVideo(id string) (models.Video, bool)

	CreateTopic(params CreateTopicParams) (models.Topic, error)
	GetTopic(id string) (models.Topic, bool)
	ListTopics(includeHidden bool) []models.Topic
	UpdateTopic(id string, update TopicUpdate) (models.Topic, error)
	SetTopicFile(id, key, fileName string) (models.Topic, error)
	HideTopic(id string) error

	CreateEnrollment(learnerID, courseID string) (models.Enrollment, error)
	IsEnrolled(learnerID, courseID string) bool
	ListEnrollments(learnerID string) []models.Enrollment
	ListCourseEnrollments(courseID string) []models.Enrollment

	CreateComment(params CreateCommentParams) (models.Comment, error)
	GetComment(id string) (models.Comment, bool)
	ListComments(lectureID string, includeHidden bool) []models.Comment
	UpdateComment(id, text string) (models.Comment, error)
	HideComment(id string) error

	CreateDepositRequest(params CreateDepositParams) (models.DepositRequest, error)
	GetDepositRequest(id string) (models.DepositRequest, bool)
	ListDepositRequests(learnerID string, includeHidden bool) []models.DepositRequest
	SetDepositImage(id, key string) (models.DepositRequest, error)
	ConfirmDepositRequest(id string) (models.DepositRequest, error)
	DenyDepositRequest(id string) (models.DepositRequest, error)
	HideDepositRequest(id string) error
}

var _ Repository = (*Storage)(nil)
