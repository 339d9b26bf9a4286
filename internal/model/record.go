package model

// TableID 标识一张实体表。
type TableID int

const (
	TableUsers TableID = iota
	TableStudentAccounts
	TableTeacherAccounts
	TableCourses
	TableStudentCourses
	TableDepartments
)

// String 返回存储层使用的表名。
func (t TableID) String() string {
	switch t {
	case TableUsers:
		return "users"
	case TableStudentAccounts:
		return "student_accounts"
	case TableTeacherAccounts:
		return "teacher_accounts"
	case TableCourses:
		return "courses"
	case TableStudentCourses:
		return "student_courses"
	case TableDepartments:
		return "departments"
	default:
		return "unknown"
	}
}

// Record 是所有实体的和类型（tagged union），让异构实体可以经过
// 同一条存储管线。实现集合是封闭的：六张表各一个指针类型。
//
// 存储层对 Record 做穷尽的类型开关；出现未知变体说明程序内部
// 不一致，按存储不变量错误快速失败，不做恢复。
type Record interface {
	// Table 返回该记录所属的表。
	Table() TableID
}

// Migratables 返回 AutoMigrate 用的全部实体原型。
func Migratables() []any {
	return []any{
		&User{},
		&StudentAccount{},
		&TeacherAccount{},
		&Course{},
		&StudentCourse{},
		&Department{},
	}
}
