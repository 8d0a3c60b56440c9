package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"coursedeck/internal/models"
	"coursedeck/internal/storage"
)

func chunkRequest(t *testing.T, target, sessionID string, index, total int, name string, data []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(data))
	req.Header.Set("x-content-id", sessionID)
	req.Header.Set("x-chunk-id", strconv.Itoa(index))
	req.Header.Set("x-chunks-quantity", strconv.Itoa(total))
	req.Header.Set("x-chunk-length", strconv.Itoa(len(data)))
	req.Header.Set("x-content-name", name)
	return req
}

func seedLecture(t *testing.T, store storage.Repository) (models.Course, models.Section, models.Lecture) {
	t.Helper()
	course, err := store.CreateCourse(storage.CreateCourseParams{
		Title:      "Calculus",
		Price:      models.MustParseMoney("30"),
		CourseType: models.CourseTypeTheory,
		Grade:      "12",
	})
	if err != nil {
		t.Fatalf("CreateCourse error: %v", err)
	}
	section, err := store.CreateSection(course.ID, "Limits")
	if err != nil {
		t.Fatalf("CreateSection error: %v", err)
	}
	lecture, err := store.CreateLecture(section.ID, "Intro")
	if err != nil {
		t.Fatalf("CreateLecture error: %v", err)
	}
	return course, section, lecture
}

func TestLectureVideoChunkedUpload(t *testing.T) {
	h, store := newTestHandler(t)
	admin := createAdmin(t, store)
	_, _, lecture := seedLecture(t, store)
	target := "/api/lectures/" + lecture.ID + "/video"

	first := []byte("first-half-")
	resp := httptest.NewRecorder()
	h.LectureByID(resp, asAccount(chunkRequest(t, target, "sess-1", 0, 2, "intro.mp4", first), admin))
	if resp.Code != http.StatusOK {
		t.Fatalf("first chunk status = %d, want %d: %s", resp.Code, http.StatusOK, resp.Body.String())
	}
	var progress map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&progress); err != nil {
		t.Fatalf("decode progress response: %v", err)
	}
	if progress["message"] != "Continuing" {
		t.Fatalf("message = %q, want %q", progress["message"], "Continuing")
	}

	second := []byte("second-half")
	resp = httptest.NewRecorder()
	h.LectureByID(resp, asAccount(chunkRequest(t, target, "sess-1", 1, 2, "intro.mp4", second), admin))
	if resp.Code != http.StatusCreated {
		t.Fatalf("final chunk status = %d, want %d: %s", resp.Code, http.StatusCreated, resp.Body.String())
	}
	var video videoResponse
	if err := json.NewDecoder(resp.Body).Decode(&video); err != nil {
		t.Fatalf("decode video response: %v", err)
	}
	if video.LectureID != lecture.ID {
		t.Fatalf("video lecture = %q, want %q", video.LectureID, lecture.ID)
	}
	if video.FileName != "intro.mp4" {
		t.Fatalf("video file name = %q, want %q", video.FileName, "intro.mp4")
	}
	want := append(append([]byte(nil), first...), second...)
	if video.SizeBytes != int64(len(want)) {
		t.Fatalf("video size = %d, want %d", video.SizeBytes, len(want))
	}

	stored, exists := store.GetLectureVideo(lecture.ID)
	if !exists {
		t.Fatal("expected video to be attached to lecture")
	}
	objects := h.Objects.(*memObjectStore)
	if got := objects.object(t, stored.StorageKey()); !bytes.Equal(got, want) {
		t.Fatalf("stored object = %q, want %q", got, want)
	}
}

func TestLectureVideoUploadRequiresAdmin(t *testing.T) {
	h, store := newTestHandler(t)
	learner := createLearner(t, store, "learner@example.com")
	_, _, lecture := seedLecture(t, store)

	req := chunkRequest(t, "/api/lectures/"+lecture.ID+"/video", "sess-1", 0, 1, "intro.mp4", []byte("data"))
	resp := httptest.NewRecorder()
	h.LectureByID(resp, asAccount(req, learner))

	if resp.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.Code, http.StatusForbidden)
	}
}

func TestChunkUploadRejectsMissingHeaders(t *testing.T) {
	h, store := newTestHandler(t)
	admin := createAdmin(t, store)
	_, _, lecture := seedLecture(t, store)

	req := httptest.NewRequest(http.MethodPost, "/api/lectures/"+lecture.ID+"/video", strings.NewReader("data"))
	resp := httptest.NewRecorder()
	h.LectureByID(resp, asAccount(req, admin))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.Code, http.StatusBadRequest)
	}
	if msg := decodeErrorMessage(t, resp.Body.Bytes()); !strings.Contains(msg, "x-content-id") {
		t.Fatalf("error = %q, want mention of x-content-id", msg)
	}
}

func uploadTestVideo(t *testing.T, h *Handler, store storage.Repository, admin models.Account, lecture models.Lecture, data []byte) models.Video {
	t.Helper()
	req := chunkRequest(t, "/api/lectures/"+lecture.ID+"/video", "seed-sess", 0, 1, "full.mp4", data)
	resp := httptest.NewRecorder()
	h.LectureByID(resp, asAccount(req, admin))
	if resp.Code != http.StatusCreated {
		t.Fatalf("seed upload status = %d: %s", resp.Code, resp.Body.String())
	}
	video, exists := store.GetLectureVideo(lecture.ID)
	if !exists {
		t.Fatal("seed video missing")
	}
	return video
}

func TestLectureVideoStreamRequiresEnrollment(t *testing.T) {
	h, store := newTestHandler(t)
	admin := createAdmin(t, store)
	learner := createLearner(t, store, "learner@example.com")
	course, _, lecture := seedLecture(t, store)
	uploadTestVideo(t, h, store, admin, lecture, []byte("mp4-bytes"))

	req := asAccount(httptest.NewRequest(http.MethodGet, "/api/lectures/"+lecture.ID+"/video", nil), learner)
	resp := httptest.NewRecorder()
	h.LectureByID(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.Code, http.StatusForbidden)
	}
	if msg := decodeErrorMessage(t, resp.Body.Bytes()); msg != "course not purchased" {
		t.Fatalf("error = %q, want %q", msg, "course not purchased")
	}

	if _, err := store.CreateEnrollment(learner.ID, course.ID); err != nil {
		t.Fatalf("CreateEnrollment error: %v", err)
	}
	resp = httptest.NewRecorder()
	h.LectureByID(resp, asAccount(httptest.NewRequest(http.MethodGet, "/api/lectures/"+lecture.ID+"/video", nil), learner))
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.Code, http.StatusOK)
	}
	if got := resp.Body.String(); got != "mp4-bytes" {
		t.Fatalf("body = %q, want %q", got, "mp4-bytes")
	}
	if accept := resp.Header().Get("Accept-Ranges"); accept != "bytes" {
		t.Fatalf("Accept-Ranges = %q, want %q", accept, "bytes")
	}
}

func TestLectureVideoStreamAllowsUnenrolledAdmin(t *testing.T) {
	h, store := newTestHandler(t)
	admin := createAdmin(t, store)
	course, _, lecture := seedLecture(t, store)
	uploadTestVideo(t, h, store, admin, lecture, []byte("mp4-bytes"))

	// Admins bypass the enrollment check entirely.
	if store.IsEnrolled(admin.ID, course.ID) {
		t.Fatal("admin must not be enrolled for this test")
	}

	resp := httptest.NewRecorder()
	h.LectureByID(resp, asAccount(httptest.NewRequest(http.MethodGet, "/api/lectures/"+lecture.ID+"/video", nil), admin))
	if resp.Code != http.StatusOK {
		t.Fatalf("stream status = %d, want %d: %s", resp.Code, http.StatusOK, resp.Body.String())
	}
	if got := resp.Body.String(); got != "mp4-bytes" {
		t.Fatalf("body = %q, want %q", got, "mp4-bytes")
	}

	resp = httptest.NewRecorder()
	h.LectureByID(resp, asAccount(httptest.NewRequest(http.MethodGet, "/api/lectures/"+lecture.ID+"/playback-url", nil), admin))
	if resp.Code != http.StatusOK {
		t.Fatalf("playback url status = %d, want %d: %s", resp.Code, http.StatusOK, resp.Body.String())
	}
	var signed map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		t.Fatalf("decode playback response: %v", err)
	}
	if signed["url"] == "" {
		t.Fatal("expected a signed url for the admin")
	}
}

func TestLectureVideoStreamHonoursRange(t *testing.T) {
	h, store := newTestHandler(t)
	admin := createAdmin(t, store)
	learner := createLearner(t, store, "learner@example.com")
	course, _, lecture := seedLecture(t, store)
	payload := []byte("0123456789abcdef")
	uploadTestVideo(t, h, store, admin, lecture, payload)
	if _, err := store.CreateEnrollment(learner.ID, course.ID); err != nil {
		t.Fatalf("CreateEnrollment error: %v", err)
	}

	req := asAccount(httptest.NewRequest(http.MethodGet, "/api/lectures/"+lecture.ID+"/video", nil), learner)
	req.Header.Set("Range", "bytes=2-5")
	resp := httptest.NewRecorder()
	h.LectureByID(resp, req)

	if resp.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want %d", resp.Code, http.StatusPartialContent)
	}
	if got := resp.Body.String(); got != "2345" {
		t.Fatalf("body = %q, want %q", got, "2345")
	}
	wantRange := fmt.Sprintf("bytes 2-5/%d", len(payload))
	if got := resp.Header().Get("Content-Range"); got != wantRange {
		t.Fatalf("Content-Range = %q, want %q", got, wantRange)
	}
	if got := resp.Header().Get("Content-Length"); got != "4" {
		t.Fatalf("Content-Length = %q, want %q", got, "4")
	}
}

func TestLectureVideoStreamRejectsBadRange(t *testing.T) {
	h, store := newTestHandler(t)
	admin := createAdmin(t, store)
	learner := createLearner(t, store, "learner@example.com")
	course, _, lecture := seedLecture(t, store)
	payload := []byte("short")
	uploadTestVideo(t, h, store, admin, lecture, payload)
	if _, err := store.CreateEnrollment(learner.ID, course.ID); err != nil {
		t.Fatalf("CreateEnrollment error: %v", err)
	}

	cases := []string{"bytes=10-20", "bytes=3-1", "bytes=-2", "pages=0-1"}
	for _, header := range cases {
		req := asAccount(httptest.NewRequest(http.MethodGet, "/api/lectures/"+lecture.ID+"/video", nil), learner)
		req.Header.Set("Range", header)
		resp := httptest.NewRecorder()
		h.LectureByID(resp, req)
		if resp.Code != http.StatusRequestedRangeNotSatisfiable {
			t.Fatalf("range %q status = %d, want %d", header, resp.Code, http.StatusRequestedRangeNotSatisfiable)
		}
		wantRange := fmt.Sprintf("bytes */%d", len(payload))
		if got := resp.Header().Get("Content-Range"); got != wantRange {
			t.Fatalf("range %q Content-Range = %q, want %q", header, got, wantRange)
		}
	}
}

func TestLecturePlaybackURL(t *testing.T) {
	h, store := newTestHandler(t)
	admin := createAdmin(t, store)
	learner := createLearner(t, store, "learner@example.com")
	course, _, lecture := seedLecture(t, store)
	video := uploadTestVideo(t, h, store, admin, lecture, []byte("mp4-bytes"))
	if _, err := store.CreateEnrollment(learner.ID, course.ID); err != nil {
		t.Fatalf("CreateEnrollment error: %v", err)
	}

	req := asAccount(httptest.NewRequest(http.MethodGet, "/api/lectures/"+lecture.ID+"/playback-url", nil), learner)
	resp := httptest.NewRecorder()
	h.LectureByID(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", resp.Code, http.StatusOK, resp.Body.String())
	}
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode playback response: %v", err)
	}
	if !strings.Contains(payload["url"], video.StorageKey()) {
		t.Fatalf("url = %q, want it to reference key %q", payload["url"], video.StorageKey())
	}
	if payload["expiresAt"] == "" {
		t.Fatal("expected expiresAt to be set")
	}
}

func TestCourseThumbnailUploadAndStream(t *testing.T) {
	h, store := newTestHandler(t)
	admin := createAdmin(t, store)
	learner := createLearner(t, store, "learner@example.com")
	course, _, _ := seedLecture(t, store)

	req := chunkRequest(t, "/api/courses/"+course.ID+"/thumbnail", "thumb-1", 0, 1, "cover.png", []byte("png-bytes"))
	resp := httptest.NewRecorder()
	h.CourseByID(resp, asAccount(req, admin))
	if resp.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", resp.Code, resp.Body.String())
	}
	var updated courseResponse
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		t.Fatalf("decode course response: %v", err)
	}
	if updated.ThumbnailKey == "" {
		t.Fatal("expected thumbnail key to be set")
	}
	if !strings.HasSuffix(updated.ThumbnailKey, ".png") {
		t.Fatalf("thumbnail key = %q, want .png suffix", updated.ThumbnailKey)
	}

	// Thumbnails are not entitlement gated; any authenticated account sees them.
	resp = httptest.NewRecorder()
	h.CourseByID(resp, asAccount(httptest.NewRequest(http.MethodGet, "/api/courses/"+course.ID+"/thumbnail", nil), learner))
	if resp.Code != http.StatusOK {
		t.Fatalf("stream status = %d, want %d", resp.Code, http.StatusOK)
	}
	if got := resp.Body.String(); got != "png-bytes" {
		t.Fatalf("body = %q, want %q", got, "png-bytes")
	}
	if ct := resp.Header().Get("Content-Type"); !strings.HasPrefix(ct, "image/png") {
		t.Fatalf("Content-Type = %q, want image/png", ct)
	}
}

func TestTopicFileLifecycle(t *testing.T) {
	h, store := newTestHandler(t)
	admin := createAdmin(t, store)
	learner := createLearner(t, store, "learner@example.com")
	topic, err := store.CreateTopic(storage.CreateTopicParams{Title: "Kinematics Notes", TopicType: "pdf"})
	if err != nil {
		t.Fatalf("CreateTopic error: %v", err)
	}

	req := chunkRequest(t, "/api/topics/"+topic.ID+"/file", "topic-1", 0, 1, "notes.pdf", []byte("%PDF-1.4"))
	resp := httptest.NewRecorder()
	h.TopicByID(resp, asAccount(req, admin))
	if resp.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", resp.Code, resp.Body.String())
	}
	var updated topicResponse
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		t.Fatalf("decode topic response: %v", err)
	}
	if updated.FileName != "notes.pdf" {
		t.Fatalf("file name = %q, want %q", updated.FileName, "notes.pdf")
	}

	resp = httptest.NewRecorder()
	h.TopicByID(resp, asAccount(httptest.NewRequest(http.MethodGet, "/api/topics/"+topic.ID+"/file", nil), learner))
	if resp.Code != http.StatusOK {
		t.Fatalf("download status = %d, want %d", resp.Code, http.StatusOK)
	}
	if got := resp.Body.String(); got != "%PDF-1.4" {
		t.Fatalf("body = %q, want %q", got, "%PDF-1.4")
	}
}

func TestStreamObjectMissingMedia(t *testing.T) {
	h, store := newTestHandler(t)
	learner := createLearner(t, store, "learner@example.com")
	course, _, lecture := seedLecture(t, store)
	if _, err := store.CreateEnrollment(learner.ID, course.ID); err != nil {
		t.Fatalf("CreateEnrollment error: %v", err)
	}

	req := asAccount(httptest.NewRequest(http.MethodGet, "/api/lectures/"+lecture.ID+"/video", nil), learner)
	resp := httptest.NewRecorder()
	h.LectureByID(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.Code, http.StatusNotFound)
	}
}

func TestParseByteRange(t *testing.T) {
	cases := []struct {
		header    string
		size      int64
		wantStart int64
		wantEnd   int64
		wantErr   bool
	}{
		{header: "bytes=0-0", size: 10, wantStart: 0, wantEnd: 0},
		{header: "bytes=5-", size: 10, wantStart: 5, wantEnd: 9},
		{header: "bytes=2-7", size: 10, wantStart: 2, wantEnd: 7},
		{header: "bytes=0-10", size: 10, wantErr: true},
		{header: "bytes=7-2", size: 10, wantErr: true},
		{header: "bytes=-5", size: 10, wantErr: true},
		{header: "bytes=1-3,5-7", size: 10, wantErr: true},
		{header: "items=1-3", size: 10, wantErr: true},
	}
	for _, tc := range cases {
		start, end, err := parseByteRange(tc.header, tc.size)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseByteRange(%q) expected error", tc.header)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseByteRange(%q) error: %v", tc.header, err)
		}
		if start != tc.wantStart || end != tc.wantEnd {
			t.Fatalf("parseByteRange(%q) = %d-%d, want %d-%d", tc.header, start, end, tc.wantStart, tc.wantEnd)
		}
	}
}
