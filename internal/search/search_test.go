package search

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"registrar/internal/model"
	"registrar/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Driver) {
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
	return NewEngine(driver), driver
}

func seedCatalog(t *testing.T, driver *store.Driver) {
	t.Helper()
	records := []model.Record{
		&model.User{ID: 2, Username: "prof", Email: "prof@aubg.edu", Role: model.RoleTeacher},
		&model.Department{ID: 1, DeptHead: 2, Name: "Mathematics"},
		&model.TeacherAccount{ID: 2, TeacherID: 2, DeptID: 1, Dept: "Mathematics"},
		&model.Course{ID: 3, TeacherID: 2, Course: "Calculus", CourseNr: "MAT101", CrCost: 3},
	}
	if err := driver.Insert(context.Background(), records); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestSearchCoursesJoin(t *testing.T) {
	engine, driver := newTestEngine(t)
	seedCatalog(t, driver)
	ctx := context.Background()

	cards, err := engine.SearchCourses(ctx, "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(cards) != 1 {
		t.Fatalf("expected one card, got %d", len(cards))
	}
	card := cards[0]
	if card.Course.ID != 3 || card.Teacher.ID != 2 || card.Dept.ID != 1 || card.User.ID != 2 {
		t.Fatalf("wrong join result: %+v", card)
	}

	cards, err = engine.SearchCourses(ctx, "nomatch")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(cards) != 0 {
		t.Fatalf("expected empty result, got %d", len(cards))
	}
}

func TestSearchCoursesQueryNormalization(t *testing.T) {
	engine, driver := newTestEngine(t)
	seedCatalog(t, driver)
	ctx := context.Background()

	// 查询串转小写后与原样字段比较：大写字段
	// 用大写查询反而查不到
	cards, err := engine.SearchCourses(ctx, "  alculus ")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(cards) != 1 {
		t.Fatalf("expected lowered query to match raw field substring, got %d", len(cards))
	}

	cards, err = engine.SearchCourses(ctx, "Calculus")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(cards) != 0 {
		t.Fatalf("uppercase query must not match after lowering, got %d", len(cards))
	}

	cards, err = engine.SearchCourses(ctx, "prof@aubg.edu")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(cards) != 1 {
		t.Fatalf("expected email match, got %d", len(cards))
	}
}

func TestSearchCoursesSilentDrop(t *testing.T) {
	engine, driver := newTestEngine(t)
	seedCatalog(t, driver)
	ctx := context.Background()

	// 删掉教师档案后外键解析失败，课程静默出列，不报错
	if err := driver.Delete(ctx, []model.Record{&model.TeacherAccount{ID: 2}}); err != nil {
		t.Fatalf("delete teacher: %v", err)
	}

	cards, err := engine.SearchCourses(ctx, "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(cards) != 0 {
		t.Fatalf("expected course dropped with unresolved teacher, got %d", len(cards))
	}
}
