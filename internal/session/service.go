// Package session 实现面向单个逻辑请求的会话与授权服务。
//
// 每个请求实例化一个 Service，绑定一个存储驱动句柄；会话身份只在
// 该实例的生命周期内有效，从不跨请求持久化，也不做进程级共享。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"registrar/internal/auth"
	"registrar/internal/model"
	"registrar/internal/store"
)

var (
	// 校内邮箱模式，沿用教务系统的机构域名约束。
	emailRegex = regexp.MustCompile(`^([a-z0-9_+]([a-z0-9_+.]*[a-z0-9_+])?)@aubg\.edu$`)
	phoneRegex = regexp.MustCompile(`^\+?[0-9]{2}[-. ]?[0-9]{4}[-. ]?[0-9]{4}$`)
)

const passwordSpecials = "@$!%*?&"

// Service 持有至多一个已认证身份，并对每个变更操作执行
// 权限矩阵与逐行所有权检查。
type Service struct {
	db       *store.Driver
	logger   *slog.Logger
	identity *model.User
	now      func() time.Time
}

// NewService 创建一个匿名状态的会话服务。
func NewService(db *store.Driver, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Identity 返回当前已认证的用户，匿名时为 nil。
func (s *Service) Identity() *model.User {
	return s.identity
}

// Register 注册新用户。只允许在匿名状态下调用；校验顺序：
// 会话检查 → 必填字段 → 邮箱格式 → 电话格式（仅在填写时）→
// 口令强度 → 邮箱唯一性（不区分大小写）→ 加盐哈希并落库。
func (s *Service) Register(ctx context.Context, user model.User) error {
	if s.identity != nil {
		return permissionf("must be signed out")
	}

	if strings.TrimSpace(user.Username) == "" {
		return validationf("account name cannot be empty")
	}

	email := strings.ToLower(strings.TrimSpace(user.Email))
	if !emailRegex.MatchString(email) {
		return validationf("must be a valid AUBG email")
	}

	if user.Phone != "" && !phoneRegex.MatchString(user.Phone) {
		return validationf("invalid phone number")
	}

	if err := checkPasswordRules(user.Password); err != nil {
		return err
	}

	existing, err := s.db.Find(ctx, model.TableUsers, []store.Filter{store.UserByEmail(email)}, store.And)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return validationf("a user with this email already exists")
	}

	salt, err := auth.GenerateSalt()
	if err != nil {
		return err
	}
	user.Email = email
	user.Password = auth.Hash(user.Password, salt)
	if user.Role == "" {
		user.Role = model.RoleStudent
	}

	if err := s.db.Insert(ctx, []model.Record{&user}); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Info("user registered", slog.String("email", email), slog.String("role", string(user.Role)))
	}
	return nil
}

// Login 校验凭证并切换到已认证状态。
//
// 查无此人和口令错误返回同一个笼统的凭证错误，不向调用方
// 泄露二者区别；停用账号单独报错。任何失败都保持匿名状态。
func (s *Service) Login(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	rec, err := s.db.FindOne(ctx, model.TableUsers, store.UserByEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return authf("invalid email or password")
	}
	if err != nil {
		return err
	}
	user, ok := rec.(*model.User)
	if !ok {
		return &store.InvariantError{Msg: fmt.Sprintf("expected user, got %T", rec)}
	}

	if user.Suspended {
		return authf("account is suspended")
	}

	if !auth.Verify(user.Password, password) {
		return authf("invalid email or password")
	}

	// 角色在会话边界解析一次，之后只用枚举比较。
	role, err := model.ParseRole(string(user.Role))
	if err != nil {
		return &store.InvariantError{Msg: err.Error()}
	}
	user.Role = role

	s.identity = user
	if s.logger != nil {
		s.logger.Info("user logged in", slog.String("email", email), slog.String("role", string(role)))
	}
	return nil
}

// ResumeAs 以已验证的用户 ID 恢复身份（传输层在校验完令牌后调用）。
// 停用账号不能恢复会话。
func (s *Service) ResumeAs(ctx context.Context, userID int) error {
	rec, err := s.db.FindOne(ctx, model.TableUsers, store.UserByID(userID))
	if errors.Is(err, store.ErrNotFound) {
		return authf("invalid credentials")
	}
	if err != nil {
		return err
	}
	user, ok := rec.(*model.User)
	if !ok {
		return &store.InvariantError{Msg: fmt.Sprintf("expected user, got %T", rec)}
	}
	if user.Suspended {
		return authf("account is suspended")
	}
	role, err := model.ParseRole(string(user.Role))
	if err != nil {
		return &store.InvariantError{Msg: err.Error()}
	}
	user.Role = role
	s.identity = user
	return nil
}

// Logout 总是回到匿名状态，重复调用不报错。
func (s *Service) Logout() {
	s.identity = nil
}

// GetUsers 返回全部用户。读操作不受权限限制。
func (s *Service) GetUsers(ctx context.Context) ([]model.User, error) {
	records, err := s.db.Find(ctx, model.TableUsers, nil, store.And)
	if err != nil {
		return nil, err
	}
	return store.UnwrapUsers(records)
}

// GetUser 按 ID 返回单个用户。
func (s *Service) GetUser(ctx context.Context, id int) (model.User, error) {
	rec, err := s.db.FindOne(ctx, model.TableUsers, store.UserByID(id))
	if errors.Is(err, store.ErrNotFound) {
		return model.User{}, notFoundf("no user found")
	}
	if err != nil {
		return model.User{}, err
	}
	user, ok := rec.(*model.User)
	if !ok {
		return model.User{}, &store.InvariantError{Msg: fmt.Sprintf("expected user, got %T", rec)}
	}
	return *user, nil
}

// GetUsersByFilters 按任意用户谓词组合查询。
func (s *Service) GetUsersByFilters(ctx context.Context, filters []store.Filter) ([]model.User, error) {
	records, err := s.db.Find(ctx, model.TableUsers, filters, store.And)
	if err != nil {
		return nil, err
	}
	return store.UnwrapUsers(records)
}

// SearchUsers 取整表后按子串过滤用户名、邮箱、电话与 ID。
func (s *Service) SearchUsers(ctx context.Context, query string) ([]model.User, error) {
	records, err := s.db.Find(ctx, model.TableUsers, []store.Filter{store.All(model.TableUsers)}, store.Or)
	if err != nil {
		return nil, err
	}
	users, err := store.UnwrapUsers(records)
	if err != nil {
		return nil, err
	}

	matched := make([]model.User, 0, len(users))
	for _, u := range users {
		if strings.Contains(u.Username, query) ||
			strings.Contains(u.Email, query) ||
			strings.Contains(u.Phone, query) ||
			strings.Contains(fmt.Sprint(u.ID), query) {
			matched = append(matched, u)
		}
	}
	return matched, nil
}

// UpdateUser 更新用户资料。
//
// admin 可改任何用户的任何字段；student 只能改自己，且
// username/suspended/verified/role 不可变；其余角色拒绝。
func (s *Service) UpdateUser(ctx context.Context, user model.User) error {
	if err := s.authorize(OpUpdateUser); err != nil {
		return err
	}

	if s.identity.Role == model.RoleAdmin {
		if _, err := s.GetUser(ctx, user.ID); err != nil {
			return err
		}
		return s.db.Update(ctx, []model.Record{&user})
	}

	if user.ID != s.identity.ID {
		return permissionf("you may only update your own account")
	}

	current, err := s.GetUser(ctx, user.ID)
	if err != nil {
		return err
	}
	switch {
	case user.Username != current.Username:
		return permissionf("username cannot be changed")
	case user.Suspended != current.Suspended:
		return permissionf("suspended cannot be changed")
	case user.Verified != current.Verified:
		return permissionf("verified cannot be changed")
	case user.Role != current.Role:
		return permissionf("role cannot be changed")
	}

	return s.db.Update(ctx, []model.Record{&user})
}

// DeleteUser 删除用户。admin 可删除除自己以外的任何用户；
// student 只能删除自己。
func (s *Service) DeleteUser(ctx context.Context, user model.User) error {
	if err := s.authorize(OpDeleteUser); err != nil {
		return err
	}

	if s.identity.Role == model.RoleAdmin {
		if user.ID == s.identity.ID {
			return permissionf("you cannot delete your own account as an administrator")
		}
	} else if user.ID != s.identity.ID {
		return permissionf("you do not have permission to delete this user")
	}

	return s.db.Delete(ctx, []model.Record{&user})
}

// RegisterCourses 批量开课。teacher 只能以自己的名义开课，
// 批中任何一门不属于自己则整批拒绝、不落任何写。
func (s *Service) RegisterCourses(ctx context.Context, courses []model.Course) error {
	if err := s.authorize(OpRegisterCourses); err != nil {
		return err
	}
	if err := validateCourses(courses); err != nil {
		return err
	}
	if err := s.requireCourseOwnership(courses, "register courses on someone else's behalf"); err != nil {
		return err
	}
	return s.db.Insert(ctx, upcastCourses(courses))
}

// RemoveCourses 批量删课，所有权规则与开课相同。
func (s *Service) RemoveCourses(ctx context.Context, courses []model.Course) error {
	if err := s.authorize(OpRemoveCourses); err != nil {
		return err
	}
	if err := s.requireCourseOwnership(courses, "remove this course"); err != nil {
		return err
	}
	return s.db.Delete(ctx, upcastCourses(courses))
}

// UpdateCourses 批量改课，所有权规则与开课相同。
func (s *Service) UpdateCourses(ctx context.Context, courses []model.Course) error {
	if err := s.authorize(OpUpdateCourses); err != nil {
		return err
	}
	if err := validateCourses(courses); err != nil {
		return err
	}
	if err := s.requireCourseOwnership(courses, "update this course"); err != nil {
		return err
	}
	return s.db.Update(ctx, upcastCourses(courses))
}

// EnrollCourses 学生选课。选课记录由课程派生：student_id 取自
// 会话身份，grade 置 -1（未评分），semester 按当前月份映射
// （6~12 月为 Fall，其余为 Spring）。整批全有或全无。
func (s *Service) EnrollCourses(ctx context.Context, courses []model.Course) error {
	if err := s.authorize(OpEnrollCourses); err != nil {
		return err
	}

	enrollments := make([]model.Record, 0, len(courses))
	for _, c := range courses {
		e := s.toEnrollment(c)
		if e.StudentID != s.identity.ID {
			return permissionf("you do not have permission to enroll courses on someone else's behalf")
		}
		enrollments = append(enrollments, &e)
	}
	return s.db.Insert(ctx, enrollments)
}

// DropCourses 学生退课，只能退自己的选课记录，整批全有或全无。
func (s *Service) DropCourses(ctx context.Context, courses []model.Course) error {
	if err := s.authorize(OpDropCourses); err != nil {
		return err
	}

	enrollments := make([]model.Record, 0, len(courses))
	for _, c := range courses {
		e := s.toEnrollment(c)
		if e.StudentID != s.identity.ID {
			return permissionf("you do not have permission to drop courses on someone else's behalf")
		}
		enrollments = append(enrollments, &e)
	}
	return s.db.Delete(ctx, enrollments)
}

// SetUserRole 修改用户角色（仅 admin）。同一事务内删除过期的
// 附属记录、创建新角色的附属记录并更新用户行，保证角色与
// 附属记录的一致性不被并发写破坏。
func (s *Service) SetUserRole(ctx context.Context, user model.User, roleStr string) error {
	if err := s.authorize(OpSetUserRole); err != nil {
		return err
	}

	role, err := model.ParseRole(roleStr)
	if err != nil {
		return validationf(err.Error())
	}

	return s.db.Tx(ctx, func(tx *store.Driver) error {
		rec, err := tx.FindOne(ctx, model.TableUsers, store.UserByID(user.ID))
		if errors.Is(err, store.ErrNotFound) {
			return notFoundf("no user found")
		}
		if err != nil {
			return err
		}
		current, ok := rec.(*model.User)
		if !ok {
			return &store.InvariantError{Msg: fmt.Sprintf("expected user, got %T", rec)}
		}

		// 清掉旧角色的附属记录
		stale, err := tx.Find(ctx, model.TableStudentAccounts,
			[]store.Filter{store.StudentAccountByStudent(current.ID)}, store.And)
		if err != nil {
			return err
		}
		staleTeachers, err := tx.Find(ctx, model.TableTeacherAccounts,
			[]store.Filter{store.TeacherAccountByTeacher(current.ID)}, store.And)
		if err != nil {
			return err
		}
		if len(stale)+len(staleTeachers) > 0 {
			if err := tx.Delete(ctx, append(stale, staleTeachers...)); err != nil {
				return err
			}
		}

		// 建新角色的附属记录（admin 没有附属记录）
		switch role {
		case model.RoleStudent:
			if err := tx.Insert(ctx, []model.Record{&model.StudentAccount{StudentID: current.ID}}); err != nil {
				return err
			}
		case model.RoleTeacher:
			if err := tx.Insert(ctx, []model.Record{&model.TeacherAccount{TeacherID: current.ID}}); err != nil {
				return err
			}
		}

		current.Role = role
		return tx.Update(ctx, []model.Record{current})
	})
}

// SuspendUser 停用用户（仅 admin）。对已停用的用户重复调用
// 仍然成功，结果不变。
func (s *Service) SuspendUser(ctx context.Context, user model.User) error {
	if err := s.authorize(OpSuspendUser); err != nil {
		return err
	}
	return s.setSuspended(ctx, user.ID, true)
}

// UnsuspendUser 解除停用（仅 admin），同样幂等。
func (s *Service) UnsuspendUser(ctx context.Context, user model.User) error {
	if err := s.authorize(OpUnsuspendUser); err != nil {
		return err
	}
	return s.setSuspended(ctx, user.ID, false)
}

func (s *Service) setSuspended(ctx context.Context, userID int, suspended bool) error {
	return s.db.Tx(ctx, func(tx *store.Driver) error {
		rec, err := tx.FindOne(ctx, model.TableUsers, store.UserByID(userID))
		if errors.Is(err, store.ErrNotFound) {
			return notFoundf("no user found")
		}
		if err != nil {
			return err
		}
		user, ok := rec.(*model.User)
		if !ok {
			return &store.InvariantError{Msg: fmt.Sprintf("expected user, got %T", rec)}
		}
		user.Suspended = suspended
		return tx.Update(ctx, []model.Record{user})
	})
}

// RecomputeStanding 按选课成绩重算学生的绩点与毕业资格。
// cgpa 以课程学分加权；grade 为 -1 的选课视为进行中，计入
// cur_credit；已评分的计入 cum_credit。
func (s *Service) RecomputeStanding(ctx context.Context, studentUserID int) error {
	return s.db.Tx(ctx, func(tx *store.Driver) error {
		rec, err := tx.FindOne(ctx, model.TableStudentAccounts, store.StudentAccountByStudent(studentUserID))
		if errors.Is(err, store.ErrNotFound) {
			return notFoundf("no student account found")
		}
		if err != nil {
			return err
		}
		account, ok := rec.(*model.StudentAccount)
		if !ok {
			return &store.InvariantError{Msg: fmt.Sprintf("expected student account, got %T", rec)}
		}

		enrollRecords, err := tx.Find(ctx, model.TableStudentCourses,
			[]store.Filter{store.EnrollmentByStudent(studentUserID)}, store.And)
		if err != nil {
			return err
		}
		enrollments, err := store.UnwrapStudentCourses(enrollRecords)
		if err != nil {
			return err
		}

		courseRecords, err := tx.Find(ctx, model.TableCourses, nil, store.And)
		if err != nil {
			return err
		}
		courses, err := store.UnwrapCourses(courseRecords)
		if err != nil {
			return err
		}
		creditByID := make(map[int]int, len(courses))
		for _, c := range courses {
			creditByID[c.ID] = c.CrCost
		}

		var weighted float64
		var gradedCredits, currentCredits int
		for _, e := range enrollments {
			cr := creditByID[e.CourseID]
			if e.Grade < 0 {
				currentCredits += cr
				continue
			}
			weighted += e.Grade * float64(cr)
			gradedCredits += cr
		}

		account.CurCredit = currentCredits
		account.CumCredit = gradedCredits
		if gradedCredits > 0 {
			account.CGPA = weighted / float64(gradedCredits)
		} else {
			account.CGPA = 0
		}
		account.CanGrad = account.CGPA > 2.0 && account.CumCredit >= 120

		return tx.Update(ctx, []model.Record{account})
	})
}

// toEnrollment 由课程派生选课记录。学年映射固定：6~12 月为
// Fall，1~5 月为 Spring，须与历史数据保持一致。
func (s *Service) toEnrollment(course model.Course) model.StudentCourse {
	semester := "Spring"
	if m := s.now().Month(); m >= 6 {
		semester = "Fall"
	}
	return model.StudentCourse{
		StudentID: s.identity.ID,
		CourseID:  course.ID,
		Grade:     -1,
		Semester:  semester,
	}
}

// requireCourseOwnership 执行教师的逐行所有权检查。admin 直接
// 放行；teacher 要求批内每一门课的 teacher_id 都等于自己的
// 用户 ID，否则整批拒绝。
func (s *Service) requireCourseOwnership(courses []model.Course, action string) error {
	if s.identity.Role == model.RoleAdmin {
		return nil
	}
	for _, c := range courses {
		if c.TeacherID != s.identity.ID {
			return permissionf("you do not have permission to " + action + "; no action was taken")
		}
	}
	return nil
}

func validateCourses(courses []model.Course) error {
	for _, c := range courses {
		if strings.TrimSpace(c.Course) == "" {
			return validationf("course name cannot be empty")
		}
		if c.TeacherID == 0 {
			return validationf("invalid teacher id")
		}
		if c.CrCost <= 0 {
			return validationf("invalid course cost")
		}
	}
	return nil
}

func upcastCourses(courses []model.Course) []model.Record {
	records := make([]model.Record, len(courses))
	for i := range courses {
		records[i] = &courses[i]
	}
	return records
}

// checkPasswordRules 校验口令强度：长度 >= 8，至少各含一个
// 小写字母、大写字母、数字与特殊字符（@ $ ! % * ? &）。
func checkPasswordRules(password string) error {
	var lower, upper, digit, special bool
	for _, c := range password {
		switch {
		case c >= 'a' && c <= 'z':
			lower = true
		case c >= 'A' && c <= 'Z':
			upper = true
		case c >= '0' && c <= '9':
			digit = true
		case strings.ContainsRune(passwordSpecials, c):
			special = true
		}
	}
	if len(password) < 8 || !lower || !upper || !digit || !special {
		return validationf("the password does not meet the following criteria: " +
			"at least 8 characters, 1 uppercase letter, 1 lowercase letter, " +
			"1 number and 1 special character (@, $, !, %, *, ?, &)")
	}
	return nil
}
