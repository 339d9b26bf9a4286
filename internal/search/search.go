// Package search 实现课程目录的四表联查与自由文本检索。
package search

import (
	"context"
	"fmt"
	"strings"

	"registrar/internal/model"
	"registrar/internal/store"
)

// CourseCard 是课程检索结果的反规范化视图：课程本体及其
// 授课教师档案、所属院系与教师的用户资料。
type CourseCard struct {
	Course  model.Course
	Teacher model.TeacherAccount
	Dept    model.Department
	User    model.User
}

// Engine 每次调用临时建哈希索引完成联查，不做任何缓存。
type Engine struct {
	db *store.Driver
}

func NewEngine(db *store.Driver) *Engine {
	return &Engine{db: db}
}

// SearchCourses 检索课程目录。
//
// 四张表各做一次全量读取，再按
// course.teacher_id → teacher.id → teacher.dept_id → department.id →
// teacher.teacher_id → user.id 逐级解析外键；任何一级解析失败则
// 该课程静默出列，不算错误。查询串先去首尾空白并转小写，空串
// 匹配所有行；字段侧保持原样参与子串匹配。结果顺序保持课程
// 读取顺序。
func (e *Engine) SearchCourses(ctx context.Context, query string) ([]CourseCard, error) {
	courseRecords, err := e.db.Find(ctx, model.TableCourses, nil, store.And)
	if err != nil {
		return nil, err
	}
	courses, err := store.UnwrapCourses(courseRecords)
	if err != nil {
		return nil, err
	}

	teacherRecords, err := e.db.Find(ctx, model.TableTeacherAccounts, nil, store.And)
	if err != nil {
		return nil, err
	}
	teachers, err := store.UnwrapTeacherAccounts(teacherRecords)
	if err != nil {
		return nil, err
	}

	deptRecords, err := e.db.Find(ctx, model.TableDepartments, nil, store.And)
	if err != nil {
		return nil, err
	}
	depts, err := store.UnwrapDepartments(deptRecords)
	if err != nil {
		return nil, err
	}

	userRecords, err := e.db.Find(ctx, model.TableUsers, nil, store.And)
	if err != nil {
		return nil, err
	}
	users, err := store.UnwrapUsers(userRecords)
	if err != nil {
		return nil, err
	}

	teacherByID := make(map[int]model.TeacherAccount, len(teachers))
	for _, t := range teachers {
		teacherByID[t.ID] = t
	}
	deptByID := make(map[int]model.Department, len(depts))
	for _, d := range depts {
		deptByID[d.ID] = d
	}
	userByID := make(map[int]model.User, len(users))
	for _, u := range users {
		userByID[u.ID] = u
	}

	query = strings.ToLower(strings.TrimSpace(query))

	cards := make([]CourseCard, 0, len(courses))
	for _, c := range courses {
		teacher, ok := teacherByID[c.TeacherID]
		if !ok {
			continue
		}
		dept, ok := deptByID[teacher.DeptID]
		if !ok {
			continue
		}
		user, ok := userByID[teacher.TeacherID]
		if !ok {
			continue
		}

		card := CourseCard{Course: c, Teacher: teacher, Dept: dept, User: user}
		if query == "" || matches(card, query) {
			cards = append(cards, card)
		}
	}
	return cards, nil
}

func matches(card CourseCard, query string) bool {
	fields := []string{
		card.Course.Course,
		fmt.Sprint(card.Course.ID),
		fmt.Sprint(card.Teacher.ID),
		card.Dept.Name,
		card.Teacher.Dept,
		fmt.Sprint(card.Teacher.TeacherID),
		fmt.Sprint(card.Dept.ID),
		fmt.Sprint(card.User.ID),
		card.User.Email,
		card.User.Username,
		card.User.Phone,
	}
	for _, f := range fields {
		if strings.Contains(f, query) {
			return true
		}
	}
	return false
}
