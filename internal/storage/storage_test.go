package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"coursedeck/internal/models"
	"coursedeck/internal/reorder"
)

func newTestStore(t *testing.T, opts ...Option) *Storage {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	store, err := NewStorage(path, opts...)
	if err != nil {
		t.Fatalf("NewStorage error: %v", err)
	}
	return store
}

func createTestLearner(t *testing.T, store *Storage, email string) models.Account {
	t.Helper()
	account, err := store.UpsertAccountFromIdentity(CreateAccountParams{
		Email:    email,
		FullName: "Test Learner",
	})
	if err != nil {
		t.Fatalf("UpsertAccountFromIdentity error: %v", err)
	}
	return account
}

func createTestCourse(t *testing.T, store *Storage) models.Course {
	t.Helper()
	course, err := store.CreateCourse(CreateCourseParams{
		Title:      "Algebra II",
		Price:      models.MustParseMoney("25"),
		CourseType: models.CourseTypeTheory,
		Grade:      "11",
	})
	if err != nil {
		t.Fatalf("CreateCourse error: %v", err)
	}
	return course
}

func TestUpsertAccountCreatesLearner(t *testing.T) {
	store := newTestStore(t)

	account, err := store.UpsertAccountFromIdentity(CreateAccountParams{
		Email:    " Learner@Example.COM ",
		FullName: "Ada Learner",
	})
	if err != nil {
		t.Fatalf("UpsertAccountFromIdentity error: %v", err)
	}
	if account.Email != "learner@example.com" {
		t.Fatalf("email = %q, want normalized lowercase", account.Email)
	}
	if account.Role != models.RoleLearner {
		t.Fatalf("role = %q, want %q", account.Role, models.RoleLearner)
	}

	again, err := store.UpsertAccountFromIdentity(CreateAccountParams{
		Email:    "learner@example.com",
		FullName: "Ada L.",
	})
	if err != nil {
		t.Fatalf("second upsert error: %v", err)
	}
	if again.ID != account.ID {
		t.Fatalf("second upsert created a new account")
	}
	if again.FullName != "Ada L." {
		t.Fatalf("full name = %q, want refreshed value", again.FullName)
	}
}

func TestUpsertAccountRejectsHidden(t *testing.T) {
	store := newTestStore(t)
	account := createTestLearner(t, store, "hidden@example.com")
	if err := store.HideAccount(account.ID); err != nil {
		t.Fatalf("HideAccount error: %v", err)
	}

	_, err := store.UpsertAccountFromIdentity(CreateAccountParams{Email: "hidden@example.com"})
	if !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("err = %v, want ErrAccountDisabled", err)
	}
}

func TestStoragePersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")

	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage error: %v", err)
	}
	course, err := store.CreateCourse(CreateCourseParams{
		Title:      "Geometry",
		Price:      models.MustParseMoney("10.5"),
		CourseType: models.CourseTypeExamSolving,
	})
	if err != nil {
		t.Fatalf("CreateCourse error: %v", err)
	}

	reloaded, err := NewStorage(path)
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	got, ok := reloaded.GetCourse(course.ID)
	if !ok {
		t.Fatalf("course missing after reload")
	}
	if got.Price != course.Price {
		t.Fatalf("price = %v, want %v", got.Price, course.Price)
	}
}

func TestPersistFailureLeavesStateUntouched(t *testing.T) {
	store := newTestStore(t)
	boom := errors.New("disk full")
	store.persistOverride = func(dataset) error { return boom }

	_, err := store.CreateCourse(CreateCourseParams{
		Title:      "Doomed",
		CourseType: models.CourseTypeTheory,
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want persist failure", err)
	}
	if got := store.ListCourses(true); len(got) != 0 {
		t.Fatalf("courses = %d, want 0 after failed persist", len(got))
	}
}

func TestSectionOrderingAndMove(t *testing.T) {
	store := newTestStore(t)
	course := createTestCourse(t, store)

	first, err := store.CreateSection(course.ID, "Basics")
	if err != nil {
		t.Fatalf("CreateSection error: %v", err)
	}
	second, err := store.CreateSection(course.ID, "Advanced")
	if err != nil {
		t.Fatalf("CreateSection error: %v", err)
	}
	if first.SectionOrder >= second.SectionOrder {
		t.Fatalf("orders = %d, %d, want strictly increasing", first.SectionOrder, second.SectionOrder)
	}

	moved, err := store.MoveSection(second.ID, reorder.Up)
	if err != nil {
		t.Fatalf("MoveSection error: %v", err)
	}
	if moved.SectionOrder != first.SectionOrder {
		t.Fatalf("moved order = %d, want %d", moved.SectionOrder, first.SectionOrder)
	}
	sections := store.ListSections(course.ID, false)
	if len(sections) != 2 {
		t.Fatalf("sections = %d, want 2", len(sections))
	}
	if sections[0].ID != second.ID {
		t.Fatalf("first section = %s, want %s", sections[0].ID, second.ID)
	}

	if _, err := store.MoveSection(second.ID, reorder.Up); !errors.Is(err, reorder.ErrBoundary) {
		t.Fatalf("err = %v, want ErrBoundary", err)
	}

	got, _ := store.GetCourse(course.ID)
	if got.SectionCount != 2 {
		t.Fatalf("section count = %d, want 2", got.SectionCount)
	}
}

func TestHideSectionUpdatesCount(t *testing.T) {
	store := newTestStore(t)
	course := createTestCourse(t, store)
	section, err := store.CreateSection(course.ID, "Basics")
	if err != nil {
		t.Fatalf("CreateSection error: %v", err)
	}

	if err := store.HideSection(section.ID); err != nil {
		t.Fatalf("HideSection error: %v", err)
	}
	if got := store.ListSections(course.ID, false); len(got) != 0 {
		t.Fatalf("visible sections = %d, want 0", len(got))
	}
	if got := store.ListSections(course.ID, true); len(got) != 1 {
		t.Fatalf("all sections = %d, want 1", len(got))
	}
	updated, _ := store.GetCourse(course.ID)
	if updated.SectionCount != 0 {
		t.Fatalf("section count = %d, want 0", updated.SectionCount)
	}
}

func TestMoveLectureAcrossSections(t *testing.T) {
	store := newTestStore(t)
	course := createTestCourse(t, store)
	origin, _ := store.CreateSection(course.ID, "Origin")
	target, _ := store.CreateSection(course.ID, "Target")

	for _, title := range []string{"a", "b", "c"} {
		if _, err := store.CreateLecture(target.ID, title); err != nil {
			t.Fatalf("CreateLecture error: %v", err)
		}
	}
	lecture, err := store.CreateLecture(origin.ID, "wanderer")
	if err != nil {
		t.Fatalf("CreateLecture error: %v", err)
	}

	moved, err := store.MoveLecture(lecture.ID, reorder.Up, target.ID)
	if err != nil {
		t.Fatalf("MoveLecture error: %v", err)
	}
	if moved.SectionID != target.ID {
		t.Fatalf("section = %s, want %s", moved.SectionID, target.ID)
	}
	lectures := store.ListLectures(target.ID, false)
	if len(lectures) != 4 {
		t.Fatalf("target lectures = %d, want 4", len(lectures))
	}
	if remaining := store.ListLectures(origin.ID, false); len(remaining) != 0 {
		t.Fatalf("origin still holds lectures after the move")
	}
	// The single insertion pass hands the moved lecture the highest order
	// in the target list.
	if lectures[len(lectures)-1].ID != moved.ID {
		t.Fatalf("last lecture = %s, want the moved one", lectures[len(lectures)-1].ID)
	}
}

func TestMoveLectureAcrossCoursesRejected(t *testing.T) {
	store := newTestStore(t)
	courseA := createTestCourse(t, store)
	courseB, err := store.CreateCourse(CreateCourseParams{
		Title:      "Other",
		CourseType: models.CourseTypeTheory,
	})
	if err != nil {
		t.Fatalf("CreateCourse error: %v", err)
	}
	sectionA, _ := store.CreateSection(courseA.ID, "A")
	sectionB, _ := store.CreateSection(courseB.ID, "B")
	lecture, _ := store.CreateLecture(sectionA.ID, "stuck")

	if _, err := store.MoveLecture(lecture.ID, reorder.Down, sectionB.ID); err == nil {
		t.Fatalf("expected error moving lecture across courses")
	}
}

func TestAttachVideoSupersedesPrevious(t *testing.T) {
	store := newTestStore(t)
	course := createTestCourse(t, store)
	section, _ := store.CreateSection(course.ID, "Basics")
	lecture, _ := store.CreateLecture(section.ID, "Intro")

	first, err := store.AttachVideo(AttachVideoParams{LectureID: lecture.ID, FileName: "v1.mp4", SizeBytes: 10})
	if err != nil {
		t.Fatalf("AttachVideo error: %v", err)
	}
	second, err := store.AttachVideo(AttachVideoParams{LectureID: lecture.ID, FileName: "v2.mp4", SizeBytes: 20})
	if err != nil {
		t.Fatalf("AttachVideo error: %v", err)
	}

	visible, ok := store.GetLectureVideo(lecture.ID)
	if !ok {
		t.Fatalf("no visible video")
	}
	if visible.ID != second.ID {
		t.Fatalf("visible video = %s, want %s", visible.ID, second.ID)
	}
	old, ok := store.GetVideo(first.ID)
	if !ok || !old.IsHidden {
		t.Fatalf("first video should remain, hidden")
	}
}

func TestEnrollmentFlow(t *testing.T) {
	store := newTestStore(t)
	learner := createTestLearner(t, store, "buyer@example.com")
	course := createTestCourse(t, store)

	enrollment, err := store.CreateEnrollment(learner.ID, course.ID)
	if err != nil {
		t.Fatalf("CreateEnrollment error: %v", err)
	}
	if !store.IsEnrolled(learner.ID, course.ID) {
		t.Fatalf("IsEnrolled = false after enrollment")
	}
	if _, err := store.CreateEnrollment(learner.ID, course.ID); !errors.Is(err, ErrAlreadyEnrolled) {
		t.Fatalf("err = %v, want ErrAlreadyEnrolled", err)
	}

	updated, _ := store.GetCourse(course.ID)
	if updated.LearnerCount != 1 {
		t.Fatalf("learner count = %d, want 1", updated.LearnerCount)
	}
	balance, _ := store.GetAccount(learner.ID)
	if !balance.Balance.IsZero() {
		t.Fatalf("balance = %v, enrollment must not touch balance", balance.Balance)
	}
	list := store.ListEnrollments(learner.ID)
	if len(list) != 1 || list[0].ID != enrollment.ID {
		t.Fatalf("enrollments = %+v, want the single created one", list)
	}
}

func TestDepositLifecycle(t *testing.T) {
	store := newTestStore(t)
	learner := createTestLearner(t, store, "saver@example.com")

	deposit, err := store.CreateDepositRequest(CreateDepositParams{
		LearnerID: learner.ID,
		Amount:    models.MustParseMoney("42.5"),
	})
	if err != nil {
		t.Fatalf("CreateDepositRequest error: %v", err)
	}
	if deposit.Status != models.DepositPending {
		t.Fatalf("status = %q, want pending", deposit.Status)
	}

	confirmed, err := store.ConfirmDepositRequest(deposit.ID)
	if err != nil {
		t.Fatalf("ConfirmDepositRequest error: %v", err)
	}
	if confirmed.Status != models.DepositConfirmed {
		t.Fatalf("status = %q, want confirmed", confirmed.Status)
	}
	account, _ := store.GetAccount(learner.ID)
	if account.Balance != models.MustParseMoney("42.5") {
		t.Fatalf("balance = %v, want 42.5", account.Balance)
	}

	if _, err := store.ConfirmDepositRequest(deposit.ID); !errors.Is(err, ErrDepositSettled) {
		t.Fatalf("err = %v, want ErrDepositSettled", err)
	}
	if _, err := store.DenyDepositRequest(deposit.ID); !errors.Is(err, ErrDepositSettled) {
		t.Fatalf("deny err = %v, want ErrDepositSettled", err)
	}
}

func TestDenyDepositLeavesBalance(t *testing.T) {
	store := newTestStore(t)
	learner := createTestLearner(t, store, "denied@example.com")
	deposit, err := store.CreateDepositRequest(CreateDepositParams{
		LearnerID: learner.ID,
		Amount:    models.MustParseMoney("5"),
	})
	if err != nil {
		t.Fatalf("CreateDepositRequest error: %v", err)
	}

	if _, err := store.DenyDepositRequest(deposit.ID); err != nil {
		t.Fatalf("DenyDepositRequest error: %v", err)
	}
	account, _ := store.GetAccount(learner.ID)
	if !account.Balance.IsZero() {
		t.Fatalf("balance = %v, want zero after denial", account.Balance)
	}
}

func TestCommentThreading(t *testing.T) {
	store := newTestStore(t)
	learner := createTestLearner(t, store, "talker@example.com")
	course := createTestCourse(t, store)
	section, _ := store.CreateSection(course.ID, "Basics")
	lecture, _ := store.CreateLecture(section.ID, "Intro")

	root, err := store.CreateComment(CreateCommentParams{
		LectureID:   lecture.ID,
		AccountID:   learner.ID,
		CommentText: "great lecture",
	})
	if err != nil {
		t.Fatalf("CreateComment error: %v", err)
	}
	reply, err := store.CreateComment(CreateCommentParams{
		LectureID:   lecture.ID,
		AccountID:   learner.ID,
		ParentID:    root.ID,
		CommentText: "agreed",
	})
	if err != nil {
		t.Fatalf("reply error: %v", err)
	}
	if reply.ParentID != root.ID {
		t.Fatalf("parent = %q, want %q", reply.ParentID, root.ID)
	}

	otherLecture, _ := store.CreateLecture(section.ID, "Next")
	if _, err := store.CreateComment(CreateCommentParams{
		LectureID:   otherLecture.ID,
		AccountID:   learner.ID,
		ParentID:    root.ID,
		CommentText: "wrong thread",
	}); err == nil {
		t.Fatalf("expected error for cross-lecture reply")
	}

	if err := store.HideComment(root.ID); err != nil {
		t.Fatalf("HideComment error: %v", err)
	}
	visible := store.ListComments(lecture.ID, false)
	if len(visible) != 1 || visible[0].ID != reply.ID {
		t.Fatalf("visible comments = %+v, want reply only", visible)
	}
}

func TestServiceKeyAssignmentRejectsDuplicates(t *testing.T) {
	store := newTestStore(t)
	first := createTestLearner(t, store, "one@example.com")
	second := createTestLearner(t, store, "two@example.com")

	if _, err := store.SetAccountServiceKey(first.ID, "abc123", "hash"); err != nil {
		t.Fatalf("SetAccountServiceKey error: %v", err)
	}
	if _, err := store.SetAccountServiceKey(second.ID, "abc123", "hash"); err == nil {
		t.Fatalf("expected duplicate service key id to be rejected")
	}
	found, ok := store.FindAccountByServiceKeyID("abc123")
	if !ok || found.ID != first.ID {
		t.Fatalf("FindAccountByServiceKeyID = %v, %v", found.ID, ok)
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
