// Package stats 从存储层实时推导平台统计数字。
package stats

import (
	"context"

	"registrar/internal/model"
	"registrar/internal/store"
)

// Summary 是一次统计快照。
type Summary struct {
	RegisteredUsers   int `json:"registered_users"`
	SuspendedUsers    int `json:"suspended_users"`
	FacultyMembers    int `json:"faculty_members"`
	ActiveStudents    int `json:"active_students"`
	GraduatedStudents int `json:"graduated_students"`
	Courses           int `json:"courses"`
	Departments       int `json:"departments"`
}

// Aggregator 不缓存结果，每次调用都重新统计当前库内状态。
type Aggregator struct {
	db *store.Driver
}

func NewAggregator(db *store.Driver) *Aggregator {
	return &Aggregator{db: db}
}

// Summarize 汇总各项计数。
//
// active_students 固定为学生总数减去全部停用用户数，包括
// 停用的非学生账号；历史口径如此，调整会让报表前后不可比。
func (a *Aggregator) Summarize(ctx context.Context) (Summary, error) {
	var s Summary

	total, err := a.count(ctx, model.TableUsers, nil)
	if err != nil {
		return Summary{}, err
	}
	s.RegisteredUsers = total

	suspended, err := a.count(ctx, model.TableUsers, []store.Filter{store.UserBySuspended(true)})
	if err != nil {
		return Summary{}, err
	}
	s.SuspendedUsers = suspended

	faculty, err := a.count(ctx, model.TableUsers, []store.Filter{store.UserByRole(model.RoleTeacher)})
	if err != nil {
		return Summary{}, err
	}
	s.FacultyMembers = faculty

	students, err := a.count(ctx, model.TableUsers, []store.Filter{store.UserByRole(model.RoleStudent)})
	if err != nil {
		return Summary{}, err
	}
	s.ActiveStudents = students - suspended

	graduated, err := a.count(ctx, model.TableStudentAccounts, []store.Filter{store.StudentAccountByCanGrad(true)})
	if err != nil {
		return Summary{}, err
	}
	s.GraduatedStudents = graduated

	courses, err := a.count(ctx, model.TableCourses, nil)
	if err != nil {
		return Summary{}, err
	}
	s.Courses = courses

	departments, err := a.count(ctx, model.TableDepartments, nil)
	if err != nil {
		return Summary{}, err
	}
	s.Departments = departments

	return s, nil
}

func (a *Aggregator) count(ctx context.Context, table model.TableID, filters []store.Filter) (int, error) {
	records, err := a.db.Find(ctx, table, filters, store.And)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}
