package session

// 领域错误分类。传输层据此决定状态码，核心层不重试：
//   - ValidationError  输入不合法，原样返回调用方
//   - AuthError        认证失败（凭证无效 / 账号停用），会话状态不变
//   - PermissionError  角色无权限或所有权不符；批量操作全有或全无
//   - NotFoundError    按 ID 查找得到零行，属于面向用户的"未找到"
//
// 存储不变量被破坏时直接透传 store.InvariantError，视为致命内部故障。

type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string { return e.Msg }

type PermissionError struct {
	Msg string
}

func (e *PermissionError) Error() string { return e.Msg }

type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

func validationf(msg string) error { return &ValidationError{Msg: msg} }
func authf(msg string) error       { return &AuthError{Msg: msg} }
func permissionf(msg string) error { return &PermissionError{Msg: msg} }
func notFoundf(msg string) error   { return &NotFoundError{Msg: msg} }
