package api

import (
	"coursedeck/internal/models"
)

// Response payloads keep the field names the legacy clients already parse.
// Service key material never leaves the accounts table, so accountResponse is
// built by hand instead of serialising the model directly.

type accountResponse struct {
	ID        string       `json:"id"`
	Email     string       `json:"email"`
	FullName  string       `json:"fullName"`
	AvatarURL string       `json:"avatarUrl,omitempty"`
	Role      string       `json:"role"`
	Balance   models.Money `json:"balance"`
	IsHidden  bool         `json:"isHidden"`
	CreatedAt string       `json:"createdAt"`
	UpdatedAt string       `json:"updatedAt"`
}

func newAccountResponse(account models.Account) accountResponse {
	return accountResponse{
		ID:        account.ID,
		Email:     account.Email,
		FullName:  account.FullName,
		AvatarURL: account.AvatarURL,
		Role:      account.Role,
		Balance:   account.Balance,
		IsHidden:  account.IsHidden,
		CreatedAt: formatTime(account.CreatedAt),
		UpdatedAt: formatTime(account.UpdatedAt),
	}
}

type courseResponse struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"courseDescription"`
	Price        models.Money `json:"price"`
	CourseType   string       `json:"courseType"`
	Grade        string       `json:"grade"`
	LearnerCount int          `json:"learnerCount"`
	SectionCount int          `json:"sectionCount"`
	LectureCount int          `json:"lectureCount"`
	ThumbnailKey string       `json:"thumbnailKey,omitempty"`
	IsHidden     bool         `json:"isHidden"`
	CreatedAt    string       `json:"createdAt"`
	UpdatedAt    string       `json:"updatedAt"`
}

func newCourseResponse(course models.Course) courseResponse {
	return courseResponse{
		ID:           course.ID,
		Title:        course.Title,
		Description:  course.Description,
		Price:        course.Price,
		CourseType:   course.CourseType,
		Grade:        course.Grade,
		LearnerCount: course.LearnerCount,
		SectionCount: course.SectionCount,
		LectureCount: course.LectureCount,
		ThumbnailKey: course.ThumbnailKey,
		IsHidden:     course.IsHidden,
		CreatedAt:    formatTime(course.CreatedAt),
		UpdatedAt:    formatTime(course.UpdatedAt),
	}
}

type sectionResponse struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	CourseID     string `json:"courseId"`
	SectionOrder int    `json:"sectionOrder"`
	IsHidden     bool   `json:"isHidden"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

func newSectionResponse(section models.Section) sectionResponse {
	return sectionResponse{
		ID:           section.ID,
		Title:        section.Title,
		CourseID:     section.CourseID,
		SectionOrder: section.SectionOrder,
		IsHidden:     section.IsHidden,
		CreatedAt:    formatTime(section.CreatedAt),
		UpdatedAt:    formatTime(section.UpdatedAt),
	}
}

type lectureResponse struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	SectionID    string `json:"sectionId"`
	LectureOrder int    `json:"lectureOrder"`
	IsHidden     bool   `json:"isHidden"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

func newLectureResponse(lecture models.Lecture) lectureResponse {
	return lectureResponse{
		ID:           lecture.ID,
		Title:        lecture.Title,
		SectionID:    lecture.SectionID,
		LectureOrder: lecture.LectureOrder,
		IsHidden:     lecture.IsHidden,
		CreatedAt:    formatTime(lecture.CreatedAt),
		UpdatedAt:    formatTime(lecture.UpdatedAt),
	}
}

type videoResponse struct {
	ID        string `json:"id"`
	FileName  string `json:"fileName"`
	SizeBytes int64  `json:"sizeBytes"`
	LectureID string `json:"lectureId"`
	CreatedAt string `json:"createdAt"`
}

func newVideoResponse(video models.Video) videoResponse {
	return videoResponse{
		ID:        video.ID,
		FileName:  video.FileName,
		SizeBytes: video.SizeBytes,
		LectureID: video.LectureID,
		CreatedAt: formatTime(video.CreatedAt),
	}
}

type topicResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	TopicType string `json:"topicType"`
	FileName  string `json:"fileName,omitempty"`
	IsHidden  bool   `json:"isHidden"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func newTopicResponse(topic models.Topic) topicResponse {
	return topicResponse{
		ID:        topic.ID,
		Title:     topic.Title,
		TopicType: topic.TopicType,
		FileName:  topic.FileName,
		IsHidden:  topic.IsHidden,
		CreatedAt: formatTime(topic.CreatedAt),
		UpdatedAt: formatTime(topic.UpdatedAt),
	}
}

type enrollmentResponse struct {
	ID        string `json:"id"`
	LearnerID string `json:"learnerId"`
	CourseID  string `json:"courseId"`
	CreatedAt string `json:"createdAt"`
}

func newEnrollmentResponse(enrollment models.Enrollment) enrollmentResponse {
	return enrollmentResponse{
		ID:        enrollment.ID,
		LearnerID: enrollment.LearnerID,
		CourseID:  enrollment.CourseID,
		CreatedAt: formatTime(enrollment.CreatedAt),
	}
}

type commentResponse struct {
	ID          string `json:"id"`
	CommentText string `json:"commentText"`
	ParentID    string `json:"parentId,omitempty"`
	AccountID   string `json:"userId"`
	LectureID   string `json:"lectureId"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

func newCommentResponse(comment models.Comment) commentResponse {
	return commentResponse{
		ID:          comment.ID,
		CommentText: comment.CommentText,
		ParentID:    comment.ParentID,
		AccountID:   comment.AccountID,
		LectureID:   comment.LectureID,
		CreatedAt:   formatTime(comment.CreatedAt),
		UpdatedAt:   formatTime(comment.UpdatedAt),
	}
}

type depositResponse struct {
	ID        string       `json:"id"`
	LearnerID string       `json:"learnerId"`
	Amount    models.Money `json:"amount"`
	Status    string       `json:"depositRequestStatus"`
	HasImage  bool         `json:"hasImage"`
	IsHidden  bool         `json:"isHidden"`
	CreatedAt string       `json:"createdAt"`
	UpdatedAt string       `json:"updatedAt"`
}

func newDepositResponse(deposit models.DepositRequest) depositResponse {
	return depositResponse{
		ID:        deposit.ID,
		LearnerID: deposit.LearnerID,
		Amount:    deposit.Amount,
		Status:    deposit.Status,
		HasImage:  deposit.ImageKey != "",
		IsHidden:  deposit.IsHidden,
		CreatedAt: formatTime(deposit.CreatedAt),
		UpdatedAt: formatTime(deposit.UpdatedAt),
	}
}
