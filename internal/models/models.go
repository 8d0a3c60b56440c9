package models

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	moneyFractionDigits = 8
	moneyScale          = int64(100000000)
)

// Money represents a currency amount stored in minor units (1e-8 of the major
// currency) to avoid floating point rounding issues. JSON encoding and string
// formatting expose the canonical decimal representation while all internal
// operations use the fixed-precision integer value.
type Money struct {
	minorUnits int64
}

// NewMoneyFromMinorUnits constructs a Money value from its minor-unit
// representation.
func NewMoneyFromMinorUnits(units int64) Money {
	return Money{minorUnits: units}
}

// MinorUnits exposes the internal integer representation scaled by 1e-8.
func (m Money) MinorUnits() int64 {
	return m.minorUnits
}

// Add returns the sum of two Money values.
func (m Money) Add(other Money) Money {
	return Money{minorUnits: m.minorUnits + other.minorUnits}
}

// Sub returns the difference of two Money values.
func (m Money) Sub(other Money) Money {
	return Money{minorUnits: m.minorUnits - other.minorUnits}
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool {
	return m.minorUnits == 0
}

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool {
	return m.minorUnits < 0
}

// Less reports whether m is strictly smaller than other.
func (m Money) Less(other Money) bool {
	return m.minorUnits < other.minorUnits
}

// DecimalString returns the canonical decimal representation with up to eight
// fractional digits.
func (m Money) DecimalString() string {
	return formatMinorUnits(m.minorUnits)
}

// String implements fmt.Stringer.
func (m Money) String() string {
	return m.DecimalString()
}

// MarshalJSON encodes the fixed-precision amount as a JSON number.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.DecimalString()), nil
}

// UnmarshalJSON decodes a JSON number or string into the fixed-precision minor
// unit representation. A JSON null resets the value to zero.
func (m *Money) UnmarshalJSON(data []byte) error {
	if m == nil {
		return fmt.Errorf("models: cannot decode into nil Money pointer")
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*m = Money{}
		return nil
	}
	var raw string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("decode money string: %w", err)
		}
	} else {
		raw = trimmed
	}
	money, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = money
	return nil
}

// ParseMoney parses a human-readable decimal string into a Money value with up
// to eight fractional digits.
func ParseMoney(value string) (Money, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Money{}, fmt.Errorf("invalid money amount")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return Money{}, fmt.Errorf("invalid money amount")
	}
	rat.Mul(rat, big.NewRat(moneyScale, 1))
	if !rat.IsInt() {
		return Money{}, fmt.Errorf("amount supports up to %d decimal places", moneyFractionDigits)
	}
	numerator := rat.Num()
	if !numerator.IsInt64() {
		return Money{}, fmt.Errorf("money amount out of range")
	}
	return Money{minorUnits: numerator.Int64()}, nil
}

// MustParseMoney panics if the value cannot be parsed. It is intended for
// tests and static initialisation.
func MustParseMoney(value string) Money {
	money, err := ParseMoney(value)
	if err != nil {
		panic(err)
	}
	return money
}

func formatMinorUnits(units int64) string {
	negative := units < 0
	if negative {
		units = -units
	}
	major := units / moneyScale
	minor := units % moneyScale
	var builder strings.Builder
	if negative {
		builder.WriteByte('-')
	}
	builder.WriteString(fmt.Sprintf("%d", major))
	if minor == 0 {
		return builder.String()
	}
	builder.WriteByte('.')
	fraction := fmt.Sprintf("%0*d", moneyFractionDigits, minor)
	fraction = strings.TrimRight(fraction, "0")
	builder.WriteString(fraction)
	return builder.String()
}

const (
	RoleAdmin   = "admin"
	RoleLearner = "learner"
)

// Account is a platform user resolved from a verified identity-provider
// token. Role drives the access gate; Balance uses the fixed-precision Money
// type while the public JSON API continues to expose decimal values.
type Account struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	Role      string    `json:"role"`
	Balance   Money     `json:"balance"`
	IsHidden  bool      `json:"isHidden"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// ServiceKeyID and ServiceKeyHash carry the bootstrap service
	// credential. Only the pbkdf2 encoding of the secret is stored, and
	// API responses never include either field.
	ServiceKeyID   string `json:"serviceKeyId,omitempty"`
	ServiceKeyHash string `json:"serviceKeyHash,omitempty"`
}

// HasRole reports whether the account carries the provided role, ignoring case.
func (a Account) HasRole(role string) bool {
	return strings.EqualFold(a.Role, role)
}

const (
	CourseTypeTheory      = "theory"
	CourseTypeExamSolving = "examination solving"
)

type Course struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"courseDescription"`
	Price        Money     `json:"price"`
	CourseType   string    `json:"courseType"`
	Grade        string    `json:"grade"`
	LearnerCount int       `json:"learnerCount"`
	SectionCount int       `json:"sectionCount"`
	LectureCount int       `json:"lectureCount"`
	ThumbnailKey string    `json:"thumbnailKey,omitempty"`
	IsHidden     bool      `json:"isHidden"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Section struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CourseID     string    `json:"courseId"`
	SectionOrder int       `json:"sectionOrder"`
	IsHidden     bool      `json:"isHidden"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Lecture struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	SectionID    string    `json:"sectionId"`
	LectureOrder int       `json:"lectureOrder"`
	IsHidden     bool      `json:"isHidden"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Video is the media asset attached to a lecture. A replaced video is marked
// hidden rather than overwritten so prior versions remain auditable.
type Video struct {
	ID        string    `json:"id"`
	FileName  string    `json:"fileName"`
	SizeBytes int64     `json:"sizeBytes"`
	LectureID string    `json:"lectureId"`
	IsHidden  bool      `json:"isHidden"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StorageKey returns the object-store key for the video, derived from its
// generated identifier and the original file extension.
func (v Video) StorageKey() string {
	ext := ""
	if idx := strings.LastIndex(v.FileName, "."); idx >= 0 {
		ext = v.FileName[idx:]
	}
	return v.ID + ext
}

type Topic struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	TopicType string    `json:"topicType"`
	FileKey   string    `json:"fileKey,omitempty"`
	FileName  string    `json:"fileName,omitempty"`
	IsHidden  bool      `json:"isHidden"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Enrollment struct {
	ID        string    `json:"id"`
	LearnerID string    `json:"learnerId"`
	CourseID  string    `json:"courseId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Comment struct {
	ID          string    `json:"id"`
	CommentText string    `json:"commentText"`
	ParentID    string    `json:"parentId,omitempty"`
	AccountID   string    `json:"userId"`
	LectureID   string    `json:"lectureId"`
	IsHidden    bool      `json:"isHidden"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

const (
	DepositPending   = "pending"
	DepositConfirmed = "confirmed"
	DepositDenied    = "denied"
)

// DepositRequest is a learner's balance top-up request. Confirming the
// request credits the learner's account balance.
type DepositRequest struct {
	ID        string    `json:"id"`
	LearnerID string    `json:"learnerId"`
	Amount    Money     `json:"amount"`
	Status    string    `json:"depositRequestStatus"`
	ImageKey  string    `json:"imageKey,omitempty"`
	IsHidden  bool      `json:"isHidden"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
