package store

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"registrar/internal/model"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	driver := NewDriver(db)
	if err := driver.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return driver
}

func seedUsers(t *testing.T, d *Driver) {
	t.Helper()
	records := []model.Record{
		&model.User{ID: 1, Username: "admin", Email: "admin@aubg.edu", Role: model.RoleAdmin},
		&model.User{ID: 2, Username: "prof", Email: "prof@aubg.edu", Role: model.RoleTeacher, Suspended: true},
		&model.User{ID: 3, Username: "student", Email: "student@aubg.edu", Role: model.RoleStudent},
	}
	if err := d.Insert(context.Background(), records); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestFindCombinators(t *testing.T) {
	d := newTestDriver(t)
	seedUsers(t, d)
	ctx := context.Background()

	tests := []struct {
		name    string
		filters []Filter
		comb    Combinator
		want    int
	}{
		{"no filters", nil, And, 3},
		{"match all", []Filter{All(model.TableUsers)}, And, 3},
		{"single predicate", []Filter{UserByRole(model.RoleStudent)}, And, 1},
		{"and excludes", []Filter{UserByRole(model.RoleTeacher), UserBySuspended(false)}, And, 0},
		{"or includes", []Filter{UserByRole(model.RoleStudent), UserBySuspended(true)}, Or, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := d.Find(ctx, model.TableUsers, tt.filters, tt.comb)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if len(rows) != tt.want {
				t.Fatalf("expected %d rows, got %d", tt.want, len(rows))
			}
		})
	}
}

func TestFindFilterTableMismatch(t *testing.T) {
	d := newTestDriver(t)
	seedUsers(t, d)

	_, err := d.Find(context.Background(), model.TableUsers, []Filter{CourseByID(1)}, And)
	var ierr *InvariantError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected invariant error, got %v", err)
	}
}

func TestFindOne(t *testing.T) {
	d := newTestDriver(t)
	seedUsers(t, d)
	ctx := context.Background()

	rec, err := d.FindOne(ctx, model.TableUsers, UserByEmail("prof@aubg.edu"))
	if err != nil {
		t.Fatalf("find one: %v", err)
	}
	if rec.(*model.User).ID != 2 {
		t.Fatalf("wrong row: %+v", rec)
	}

	_, err = d.FindOne(ctx, model.TableUsers, UserByEmail("nobody@aubg.edu"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// 唯一性查询返回多行属于不变量破坏
	_, err = d.FindOne(ctx, model.TableUsers, UserBySuspended(false))
	var ierr *InvariantError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected invariant error on multi-row unique lookup, got %v", err)
	}
}

func TestUpdateAndDeleteCompositeKey(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	enrollment := &model.StudentCourse{StudentID: 3, CourseID: 7, Grade: -1, Semester: "Fall"}
	if err := d.Insert(ctx, []model.Record{enrollment}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	enrollment.Grade = 3.5
	if err := d.Update(ctx, []model.Record{enrollment}); err != nil {
		t.Fatalf("update: %v", err)
	}

	rec, err := d.FindOne(ctx, model.TableStudentCourses, EnrollmentByStudent(3), EnrollmentByCourse(7))
	if err != nil {
		t.Fatalf("find one: %v", err)
	}
	if rec.(*model.StudentCourse).Grade != 3.5 {
		t.Fatalf("expected grade 3.5, got %v", rec.(*model.StudentCourse).Grade)
	}

	if err := d.Delete(ctx, []model.Record{enrollment}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := d.FindOne(ctx, model.TableStudentCourses, EnrollmentByStudent(3), EnrollmentByCourse(7)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected row gone, got %v", err)
	}
}

func TestInsertAllOrNothing(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()
	seedUsers(t, d)

	// 第二条与已有邮箱唯一索引冲突，第一条必须随之回滚
	err := d.Insert(ctx, []model.Record{
		&model.User{Username: "new", Email: "new@aubg.edu", Role: model.RoleStudent},
		&model.User{Username: "dup", Email: "admin@aubg.edu", Role: model.RoleStudent},
	})
	if err == nil {
		t.Fatalf("expected unique violation")
	}

	rows, err := d.Find(ctx, model.TableUsers, nil, And)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected rollback to leave 3 rows, got %d", len(rows))
	}
}

func TestUnwrapVariantMismatch(t *testing.T) {
	records := []model.Record{&model.Course{ID: 1}}

	_, err := UnwrapUsers(records)
	var ierr *InvariantError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected invariant error, got %v", err)
	}
}
