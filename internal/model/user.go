package model

import (
	"fmt"
	"strings"
	"time"
)

// Role 表示用户角色（封闭枚举）。
//
// 数据库中以字符串存储，进入会话层时通过 ParseRole 做一次
// 大小写不敏感的解析，之后只用枚举值比较。
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// ParseRole 解析角色字符串（忽略大小写与首尾空白）。
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin, nil
	case "teacher":
		return RoleTeacher, nil
	case "student":
		return RoleStudent, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// User 表示系统用户。
type User struct {
	ID         int    `gorm:"primaryKey"`                             // 用户 ID（插入时由存储层分配）
	Username   string `gorm:"not null"`                               // 显示名（非空）
	Password   string `gorm:"not null"`                               // 口令哈希（注册后不存明文）
	Email      string `gorm:"type:varchar(191);uniqueIndex;not null"` // 校内邮箱（唯一）
	Phone      string // 电话（可选，填写时校验格式）
	Verified   bool   `gorm:"default:false"` // 邮箱是否已验证
	Suspended  bool   `gorm:"default:false"` // 是否停用
	ForceNewPW bool   `gorm:"default:false"` // 下次登录是否强制改密
	Role       Role   `gorm:"type:varchar(16);default:student"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (User) TableName() string { return "users" }

func (*User) Table() TableID { return TableUsers }
