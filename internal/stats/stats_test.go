package stats

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"registrar/internal/model"
	"registrar/internal/store"
)

func newTestAggregator(t *testing.T) (*Aggregator, *store.Driver) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	driver := store.NewDriver(db)
	if err := driver.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewAggregator(driver), driver
}

func TestSummarize(t *testing.T) {
	agg, driver := newTestAggregator(t)
	ctx := context.Background()

	seed := []model.Record{
		&model.User{ID: 1, Username: "admin", Email: "admin@aubg.edu", Role: model.RoleAdmin},
		&model.User{ID: 2, Username: "prof", Email: "prof@aubg.edu", Role: model.RoleTeacher, Suspended: true},
		&model.User{ID: 3, Username: "s1", Email: "s1@aubg.edu", Role: model.RoleStudent},
		&model.User{ID: 4, Username: "s2", Email: "s2@aubg.edu", Role: model.RoleStudent},
		&model.StudentAccount{StudentID: 3, CanGrad: true},
		&model.StudentAccount{StudentID: 4},
		&model.Course{ID: 1, TeacherID: 2, Course: "Calculus", CrCost: 3},
		&model.Department{ID: 1, Name: "Mathematics"},
	}
	if err := driver.Insert(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := agg.Summarize(ctx)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}

	// active_students = 学生数 2 − 全部停用用户数 1（被停用的是
	// 教师，但口径就是减全部停用数）
	want := Summary{
		RegisteredUsers:   4,
		SuspendedUsers:    1,
		FacultyMembers:    1,
		ActiveStudents:    1,
		GraduatedStudents: 1,
		Courses:           1,
		Departments:       1,
	}
	if got != want {
		t.Fatalf("summary mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestSummarizeEmptyStore(t *testing.T) {
	agg, _ := newTestAggregator(t)

	got, err := agg.Summarize(context.Background())
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if got != (Summary{}) {
		t.Fatalf("expected zero summary, got %+v", got)
	}
}
