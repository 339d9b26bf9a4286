package session

import "registrar/internal/model"

// Operation 标识一个受权限控制的变更操作。
type Operation int

const (
	OpUpdateUser Operation = iota
	OpDeleteUser
	OpRegisterCourses
	OpRemoveCourses
	OpUpdateCourses
	OpEnrollCourses
	OpDropCourses
	OpSetUserRole
	OpSuspendUser
	OpUnsuspendUser
)

func (op Operation) String() string {
	switch op {
	case OpUpdateUser:
		return "update_user"
	case OpDeleteUser:
		return "delete_user"
	case OpRegisterCourses:
		return "register_courses"
	case OpRemoveCourses:
		return "remove_courses"
	case OpUpdateCourses:
		return "update_courses"
	case OpEnrollCourses:
		return "enroll_courses"
	case OpDropCourses:
		return "drop_courses"
	case OpSetUserRole:
		return "set_user_role"
	case OpSuspendUser:
		return "suspend_user"
	case OpUnsuspendUser:
		return "unsuspend_user"
	default:
		return "unknown"
	}
}

// permissionMatrix 是显式的操作×角色允许表。未列出即拒绝。
// 表中为 true 只代表角色层面允许；逐行的所有权检查
// （教师只能动自己的课、学生只能动自己的选课、删号的
// self/非 self 规则）在各操作内另行执行。
var permissionMatrix = map[Operation]map[model.Role]bool{
	OpUpdateUser:      {model.RoleAdmin: true, model.RoleStudent: true},
	OpDeleteUser:      {model.RoleAdmin: true, model.RoleStudent: true},
	OpRegisterCourses: {model.RoleAdmin: true, model.RoleTeacher: true},
	OpRemoveCourses:   {model.RoleAdmin: true, model.RoleTeacher: true},
	OpUpdateCourses:   {model.RoleAdmin: true, model.RoleTeacher: true},
	OpEnrollCourses:   {model.RoleStudent: true},
	OpDropCourses:     {model.RoleStudent: true},
	OpSetUserRole:     {model.RoleAdmin: true},
	OpSuspendUser:     {model.RoleAdmin: true},
	OpUnsuspendUser:   {model.RoleAdmin: true},
}

// authorize 先做登录检查，再查权限表。两类失败都返回
// 带说明的 PermissionError，登录检查始终先于角色检查。
func (s *Service) authorize(op Operation) error {
	if s.identity == nil {
		return permissionf("must be signed in")
	}
	if !permissionMatrix[op][s.identity.Role] {
		return permissionf("role " + string(s.identity.Role) + " does not have permission to " + op.String())
	}
	return nil
}
