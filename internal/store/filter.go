package store

import "registrar/internal/model"

// Combinator 决定多个过滤谓词的组合方式。
// 零值为 And（全部成立），即未显式指定时的默认语义。
type Combinator int

const (
	And Combinator = iota // 所有谓词都必须成立
	Or                    // 任一谓词成立即可
)

// Filter 是封闭的按表谓词集合。调用方只能通过下面的构造函数
// 得到 Filter，保证谓词落在各表已知的字段上。
//
// 惯用法：用 All(table) 配合 Or 取整表，再在内存里做子串搜索——
// 宽谓词下推给存储引擎，窄的全文匹配留给 Join/Search 层。
type Filter struct {
	table model.TableID
	query string // 为空表示不加限制（All）
	args  []any
}

// ForTable 返回谓词所属的表。
func (f Filter) ForTable() model.TableID { return f.table }

// All 表示不加限制，返回整表。空的过滤列表与之等价。
func All(t model.TableID) Filter {
	return Filter{table: t}
}

// Users 表的谓词。

func UserByID(id int) Filter {
	return Filter{table: model.TableUsers, query: "id = ?", args: []any{id}}
}

func UserByEmail(email string) Filter {
	return Filter{table: model.TableUsers, query: "email = ?", args: []any{email}}
}

func UserByUsername(name string) Filter {
	return Filter{table: model.TableUsers, query: "username = ?", args: []any{name}}
}

func UserByRole(role model.Role) Filter {
	return Filter{table: model.TableUsers, query: "role = ?", args: []any{string(role)}}
}

func UserBySuspended(suspended bool) Filter {
	return Filter{table: model.TableUsers, query: "suspended = ?", args: []any{suspended}}
}

func UserByVerified(verified bool) Filter {
	return Filter{table: model.TableUsers, query: "verified = ?", args: []any{verified}}
}

// StudentAccounts 表的谓词。

func StudentAccountByID(id int) Filter {
	return Filter{table: model.TableStudentAccounts, query: "id = ?", args: []any{id}}
}

func StudentAccountByStudent(userID int) Filter {
	return Filter{table: model.TableStudentAccounts, query: "student_id = ?", args: []any{userID}}
}

func StudentAccountByAdvisor(advisorID int) Filter {
	return Filter{table: model.TableStudentAccounts, query: "advisor_id = ?", args: []any{advisorID}}
}

func StudentAccountByCanGrad(canGrad bool) Filter {
	return Filter{table: model.TableStudentAccounts, query: "can_grad = ?", args: []any{canGrad}}
}

// TeacherAccounts 表的谓词。

func TeacherAccountByID(id int) Filter {
	return Filter{table: model.TableTeacherAccounts, query: "id = ?", args: []any{id}}
}

func TeacherAccountByTeacher(userID int) Filter {
	return Filter{table: model.TableTeacherAccounts, query: "teacher_id = ?", args: []any{userID}}
}

func TeacherAccountByDept(deptID int) Filter {
	return Filter{table: model.TableTeacherAccounts, query: "dept_id = ?", args: []any{deptID}}
}

// Courses 表的谓词。

func CourseByID(id int) Filter {
	return Filter{table: model.TableCourses, query: "id = ?", args: []any{id}}
}

func CourseByTeacher(teacherID int) Filter {
	return Filter{table: model.TableCourses, query: "teacher_id = ?", args: []any{teacherID}}
}

func CourseByName(name string) Filter {
	return Filter{table: model.TableCourses, query: "course = ?", args: []any{name}}
}

// StudentCourses 表的谓词。

func EnrollmentByStudent(studentID int) Filter {
	return Filter{table: model.TableStudentCourses, query: "student_id = ?", args: []any{studentID}}
}

func EnrollmentByCourse(courseID int) Filter {
	return Filter{table: model.TableStudentCourses, query: "course_id = ?", args: []any{courseID}}
}

// Departments 表的谓词。

func DepartmentByID(id int) Filter {
	return Filter{table: model.TableDepartments, query: "id = ?", args: []any{id}}
}

func DepartmentByName(name string) Filter {
	return Filter{table: model.TableDepartments, query: "name = ?", args: []any{name}}
}
