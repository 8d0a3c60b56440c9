package storage

import (
	"errors"
	"sync"
	"time"

	"coursedeck/internal/models"
)

const (
	// MaxCommentLength defines the maximum number of characters allowed
	// for a lecture comment.
	MaxCommentLength = 2000

	// MaxTitleLength bounds every user supplied title field.
	MaxTitleLength = 256
)

var (
	// ErrNotFound marks lookups for entities that do not exist or are
	// hidden from the caller. Handlers map it to 404.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyEnrolled is returned when a learner enrols in the same
	// course twice.
	ErrAlreadyEnrolled = errors.New("learner already enrolled in course")

	// ErrDepositSettled is returned when a confirm or deny targets a
	// deposit request that already left the pending state.
	ErrDepositSettled = errors.New("deposit request already settled")

	// ErrAccountDisabled is returned when a hidden account presents
	// otherwise valid credentials.
	ErrAccountDisabled = errors.New("account is disabled")
)

type dataset struct {
	Accounts        map[string]models.Account        `json:"accounts"`
	Courses         map[string]models.Course         `json:"courses"`
	Sections        map[string]models.Section        `json:"sections"`
	Lectures        map[string]models.Lecture        `json:"lectures"`
	Videos          map[string]models.Video          `json:"videos"`
	Topics          map[string]models.Topic          `json:"topics"`
	Enrollments     map[string]models.Enrollment     `json:"enrollments"`
	Comments        map[string]models.Comment        `json:"comments"`
	DepositRequests map[string]models.DepositRequest `json:"depositRequests"`
}

// Storage is the JSON-file backed datastore used for local development and
// small deployments. Every mutation clones the dataset, persists the clone
// atomically, and only then swaps it in, so readers never observe a
// half-applied write.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
	objectStorage   ObjectStorageConfig
}

// ObjectStorageConfig describes the external S3-compatible bucket that
// holds uploaded media.
type ObjectStorageConfig struct {
	Endpoint       string
	Region         string
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
	Prefix         string
	PublicEndpoint string
	RequestTimeout time.Duration
	// MaxConcurrentTransfers caps how many object operations run at
	// once. Zero selects the default.
	MaxConcurrentTransfers int64
}

const (
	defaultObjectStorageRequestTimeout = 30 * time.Second
	defaultObjectStorageConcurrency    = 8
)

// CreateAccountParams captures the attributes recorded when an identity
// first reaches the platform.
type CreateAccountParams struct {
	Email     string
	FullName  string
	AvatarURL string
	Role      string
}

// AccountUpdate describes the mutable fields of an account.
type AccountUpdate struct {
	FullName  *string
	AvatarURL *string
	Role      *string
}

// CreateCourseParams captures the attributes required to create a course.
type CreateCourseParams struct {
	Title       string
	Description string
	Price       models.Money
	CourseType  string
	Grade       string
}

// CourseUpdate describes the mutable fields of a course.
type CourseUpdate struct {
	Title       *string
	Description *string
	Price       *models.Money
	CourseType  *string
	Grade       *string
}

// SectionUpdate describes the mutable fields of a section.
type SectionUpdate struct {
	Title *string
}

// LectureUpdate describes the mutable fields of a lecture. Moving a lecture
// to another section goes through MoveLecture so order values stay coherent.
type LectureUpdate struct {
	Title *string
}

// AttachVideoParams records an assembled upload as the lecture's video.
type AttachVideoParams struct {
	LectureID string
	FileName  string
	SizeBytes int64
}

// CreateTopicParams captures the attributes required to create a topic.
type CreateTopicParams struct {
	Title     string
	TopicType string
}

// TopicUpdate describes the mutable fields of a topic.
type TopicUpdate struct {
	Title     *string
	TopicType *string
}

// CreateCommentParams captures a new comment on a lecture.
type CreateCommentParams struct {
	LectureID   string
	AccountID   string
	ParentID    string
	CommentText string
}

// CreateDepositParams captures a learner's balance top-up request.
type CreateDepositParams struct {
	LearnerID string
	Amount    models.Money
	ImageKey  string
}
