package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"registrar/internal/config"
	"registrar/internal/model"
	"registrar/internal/search"
	"registrar/internal/stats"
	"registrar/internal/store"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

func newTestServer(t *testing.T) (*Server, *store.Driver) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	driver := store.NewDriver(db)
	if err := driver.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	s := &Server{
		cfg:      &config.Config{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		driver:   driver,
		searcher: search.NewEngine(driver),
		stats:    stats.NewAggregator(driver),
	}
	return s, driver
}

// routerAs 以固定的用户身份挂接受保护的路由。
func routerAs(s *Server, userID int) *gin.Engine {
	r := gin.New()
	identify := func(c *gin.Context) {
		c.Set("userID", userID)
	}
	r.GET("/courses", identify, s.handleSearchCourses)
	r.POST("/courses", identify, s.handleCreateCourses)
	r.POST("/courses/:id/enroll", identify, s.handleEnroll)
	r.GET("/stats", identify, s.handleStats)
	r.GET("/users", identify, s.handleListUsers)
	return r
}

func seedCatalog(t *testing.T, driver *store.Driver) {
	t.Helper()
	records := []model.Record{
		&model.User{ID: 2, Username: "prof", Email: "prof@aubg.edu", Role: model.RoleTeacher},
		&model.User{ID: 3, Username: "student", Email: "student@aubg.edu", Role: model.RoleStudent},
		&model.StudentAccount{StudentID: 3},
		&model.Department{ID: 1, DeptHead: 2, Name: "Mathematics"},
		&model.TeacherAccount{ID: 2, TeacherID: 2, DeptID: 1, Dept: "Mathematics"},
		&model.Course{ID: 5, TeacherID: 2, Course: "Calculus", CourseNr: "MAT101", CrCost: 3},
	}
	if err := driver.Insert(context.Background(), records); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestSearchCoursesEndpoint(t *testing.T) {
	s, driver := newTestServer(t)
	seedCatalog(t, driver)
	r := routerAs(s, 3)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/courses", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var cards []courseCardResponse
	if err := json.Unmarshal(w.Body.Bytes(), &cards); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cards) != 1 {
		t.Fatalf("expected one card, got %d", len(cards))
	}
	if cards[0].Course.Course != "Calculus" || cards[0].User.Username != "prof" {
		t.Fatalf("wrong card: %+v", cards[0])
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/courses?q=nomatch", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	cards = nil
	if err := json.Unmarshal(w.Body.Bytes(), &cards); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cards) != 0 {
		t.Fatalf("expected empty result, got %d", len(cards))
	}
}

func TestCreateCoursesForbiddenForStudent(t *testing.T) {
	s, driver := newTestServer(t)
	seedCatalog(t, driver)
	r := routerAs(s, 3)

	payload, _ := json.Marshal([]courseRequest{{Course: "Hacking", CrCost: 3}})
	req := httptest.NewRequest(http.MethodPost, "/courses", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateCoursesAsTeacher(t *testing.T) {
	s, driver := newTestServer(t)
	seedCatalog(t, driver)
	r := routerAs(s, 2)

	payload, _ := json.Marshal([]courseRequest{{Course: "Algebra", CourseNr: "MAT102", CrCost: 4}})
	req := httptest.NewRequest(http.MethodPost, "/courses", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	records, err := driver.Find(context.Background(), model.TableCourses, nil, store.And)
	if err != nil {
		t.Fatalf("find courses: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected two courses, got %d", len(records))
	}
}

func TestEnrollEndpoint(t *testing.T) {
	s, driver := newTestServer(t)
	seedCatalog(t, driver)
	r := routerAs(s, 3)

	req := httptest.NewRequest(http.MethodPost, "/courses/5/enroll", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	rec, err := driver.FindOne(context.Background(), model.TableStudentCourses,
		store.EnrollmentByStudent(3), store.EnrollmentByCourse(5))
	if err != nil {
		t.Fatalf("find enrollment: %v", err)
	}
	if rec.(*model.StudentCourse).Grade != -1 {
		t.Fatalf("new enrollment must be ungraded")
	}

	// 选了一门没评分的课后 cur_credit 跟着变
	acct, err := driver.FindOne(context.Background(), model.TableStudentAccounts,
		store.StudentAccountByStudent(3))
	if err != nil {
		t.Fatalf("find account: %v", err)
	}
	if acct.(*model.StudentAccount).CurCredit != 3 {
		t.Fatalf("expected cur_credit 3, got %d", acct.(*model.StudentAccount).CurCredit)
	}
}

func TestEnrollUnknownCourse(t *testing.T) {
	s, driver := newTestServer(t)
	seedCatalog(t, driver)
	r := routerAs(s, 3)

	req := httptest.NewRequest(http.MethodPost, "/courses/99/enroll", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	s, driver := newTestServer(t)
	seedCatalog(t, driver)
	r := routerAs(s, 3)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var summary stats.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.RegisteredUsers != 2 || summary.FacultyMembers != 1 || summary.Courses != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestListUsersUnknownIdentity(t *testing.T) {
	s, _ := newTestServer(t)
	r := routerAs(s, 42)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown identity, got %d", w.Code)
	}
}
