package model

import "time"

// StudentAccount 是 role=student 用户的附属记录（satellite row）。
//
// cgpa 与 can_grad 为派生字段：cgpa 由选课成绩重算，
// can_grad = cgpa > 2.0 且累计学分 >= 120。
type StudentAccount struct {
	ID         int     `gorm:"primaryKey"`
	StudentID  int     `gorm:"uniqueIndex;not null"` // 对应 User.ID（1:1）
	AdvisorID  *int    // 导师（teacher 用户 ID，可为空）
	Discipline string  // 专业
	Enrollment string  // 入学学期
	CGPA       float64 // 派生：平均绩点
	CanGrad    bool    // 派生：是否满足毕业条件
	CurCredit  int     // 本学期学分
	CumCredit  int     // 累计学分
}

func (StudentAccount) TableName() string { return "student_accounts" }

func (*StudentAccount) Table() TableID { return TableStudentAccounts }

// TeacherAccount 是 role=teacher 用户的附属记录。
type TeacherAccount struct {
	ID        int    `gorm:"primaryKey"`
	TeacherID int    `gorm:"uniqueIndex;not null"` // 对应 User.ID（1:1）
	DeptID    int    `gorm:"not null"`
	Dept      string // 院系名称冗余副本
}

func (TeacherAccount) TableName() string { return "teacher_accounts" }

func (*TeacherAccount) Table() TableID { return TableTeacherAccounts }

// Course 表示一门课程。TeacherID 指向开课教师。
type Course struct {
	ID          int    `gorm:"primaryKey"`
	TeacherID   int    `gorm:"not null"`
	Course      string `gorm:"not null"` // 课程名
	CourseNr    string // 课程编号，如 "COS 220"
	Description string
	CrCost      int    `gorm:"not null"` // 学分消耗，必须 > 0
	Timeslots   string // 上课时间段

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Course) TableName() string { return "courses" }

func (*Course) Table() TableID { return TableCourses }

// StudentCourse 是学生与课程的多对多关联（选课记录）。
//
// Grade 为 -1 表示尚未评分；Semester 在选课时按固定学年映射得出：
// 公历 6~12 月为 "Fall"，其余为 "Spring"。
type StudentCourse struct {
	StudentID int     `gorm:"primaryKey"`
	CourseID  int     `gorm:"primaryKey"`
	Grade     float64 // -1 = 未评分，否则 >= 0
	Semester  string
}

func (StudentCourse) TableName() string { return "student_courses" }

func (*StudentCourse) Table() TableID { return TableStudentCourses }

// Department 表示院系。DeptHead 指向系主任的 TeacherAccount ID。
type Department struct {
	ID       int `gorm:"primaryKey"`
	DeptHead int
	Name     string `gorm:"not null"`
}

func (Department) TableName() string { return "departments" }

func (*Department) Table() TableID { return TableDepartments }
