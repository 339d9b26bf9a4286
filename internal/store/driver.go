package store

import (
	"context"
	"errors"
	"fmt"

	"registrar/internal/model"

	"gorm.io/gorm"
)

// ErrNotFound 表示按条件查询得到零行。属于面向调用方的"未找到"，
// 不是致命错误。
var ErrNotFound = errors.New("record not found")

// InvariantError 表示存储不变量被破坏：唯一性查询返回了多行，
// 或 tagged union 的变体与期望的实体不符。这是内部一致性故障
// （程序错误），调用方不应尝试恢复。
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "storage invariant violated: " + e.Msg
}

// Driver 在 GORM 之上执行实体无关的查询与写入。
//
// 读写都以 model.Record（和类型）为载体，Driver 本身不理解
// 实体语义；权限与校验属于会话层。
type Driver struct {
	db *gorm.DB
}

// NewDriver 包装一个已打开的 GORM 连接。
func NewDriver(db *gorm.DB) *Driver {
	return &Driver{db: db}
}

// AutoMigrate 建表（幂等）。
func (d *Driver) AutoMigrate() error {
	return d.db.AutoMigrate(model.Migratables()...)
}

// Tx 在单个事务中执行 fn。fn 收到的 Driver 绑定事务连接，
// 期间的 read-validate-write 序列对并发写者是串行化的。
func (d *Driver) Tx(ctx context.Context, fn func(tx *Driver) error) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Driver{db: tx})
	})
}

// Find 返回 table 中满足过滤条件的所有行。
//
// filters 为空（或只含 All）时返回整表。comb 决定多个谓词
// 之间是 AND 还是 OR；零值即默认的 AND 语义。
func (d *Driver) Find(ctx context.Context, table model.TableID, filters []Filter, comb Combinator) ([]model.Record, error) {
	q := d.db.WithContext(ctx)

	for _, f := range filters {
		if f.table != table {
			return nil, &InvariantError{Msg: fmt.Sprintf("filter for table %s used on table %s", f.table, table)}
		}
		if f.query == "" {
			continue // All：不加限制
		}
		if comb == Or {
			q = q.Or(f.query, f.args...)
		} else {
			q = q.Where(f.query, f.args...)
		}
	}

	switch table {
	case model.TableUsers:
		var rows []model.User
		if err := q.Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("find users: %w", err)
		}
		return wrap(rows), nil
	case model.TableStudentAccounts:
		var rows []model.StudentAccount
		if err := q.Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("find student accounts: %w", err)
		}
		return wrap(rows), nil
	case model.TableTeacherAccounts:
		var rows []model.TeacherAccount
		if err := q.Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("find teacher accounts: %w", err)
		}
		return wrap(rows), nil
	case model.TableCourses:
		var rows []model.Course
		if err := q.Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("find courses: %w", err)
		}
		return wrap(rows), nil
	case model.TableStudentCourses:
		var rows []model.StudentCourse
		if err := q.Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("find student courses: %w", err)
		}
		return wrap(rows), nil
	case model.TableDepartments:
		var rows []model.Department
		if err := q.Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("find departments: %w", err)
		}
		return wrap(rows), nil
	default:
		return nil, &InvariantError{Msg: fmt.Sprintf("unknown table %d", table)}
	}
}

// FindOne 执行携带唯一性谓词的查询并断言至多一行。
// 零行返回 ErrNotFound；多于一行说明唯一性不变量被破坏，
// 返回 InvariantError。
func (d *Driver) FindOne(ctx context.Context, table model.TableID, filters ...Filter) (model.Record, error) {
	rows, err := d.Find(ctx, table, filters, And)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return rows[0], nil
	default:
		return nil, &InvariantError{Msg: fmt.Sprintf("unique lookup on %s returned %d rows", table, len(rows))}
	}
}

// Insert 在单个事务中插入所有记录（全部成功或全部回滚）。
func (d *Driver) Insert(ctx context.Context, records []model.Record) error {
	return d.Tx(ctx, func(tx *Driver) error {
		for _, r := range records {
			if err := checkVariant(r); err != nil {
				return err
			}
			if err := tx.db.Create(r).Error; err != nil {
				return fmt.Errorf("insert into %s: %w", r.Table(), err)
			}
		}
		return nil
	})
}

// Update 在单个事务中按主键整行更新所有记录。
func (d *Driver) Update(ctx context.Context, records []model.Record) error {
	return d.Tx(ctx, func(tx *Driver) error {
		for _, r := range records {
			if err := checkVariant(r); err != nil {
				return err
			}
			var err error
			if sc, ok := r.(*model.StudentCourse); ok {
				// 复合主键：按 (student_id, course_id) 定位
				err = tx.db.Model(&model.StudentCourse{}).
					Where("student_id = ? AND course_id = ?", sc.StudentID, sc.CourseID).
					Updates(map[string]any{"grade": sc.Grade, "semester": sc.Semester}).Error
			} else {
				err = tx.db.Save(r).Error
			}
			if err != nil {
				return fmt.Errorf("update %s: %w", r.Table(), err)
			}
		}
		return nil
	})
}

// Delete 在单个事务中删除所有记录。
func (d *Driver) Delete(ctx context.Context, records []model.Record) error {
	return d.Tx(ctx, func(tx *Driver) error {
		for _, r := range records {
			if err := checkVariant(r); err != nil {
				return err
			}
			var err error
			if sc, ok := r.(*model.StudentCourse); ok {
				err = tx.db.Where("student_id = ? AND course_id = ?", sc.StudentID, sc.CourseID).
					Delete(&model.StudentCourse{}).Error
			} else {
				err = tx.db.Delete(r).Error
			}
			if err != nil {
				return fmt.Errorf("delete from %s: %w", r.Table(), err)
			}
		}
		return nil
	})
}

// checkVariant 穷尽匹配和类型的全部变体；未知变体快速失败。
func checkVariant(r model.Record) error {
	switch r.(type) {
	case *model.User, *model.StudentAccount, *model.TeacherAccount,
		*model.Course, *model.StudentCourse, *model.Department:
		return nil
	default:
		return &InvariantError{Msg: fmt.Sprintf("unknown record variant %T", r)}
	}
}

func wrap[T any, PT interface {
	*T
	model.Record
}](rows []T) []model.Record {
	out := make([]model.Record, len(rows))
	for i := range rows {
		out[i] = PT(&rows[i])
	}
	return out
}

// UnwrapUsers 把 Record 列表降级为具体的 User 列表。
// 变体不符视为存储不变量被破坏。
func UnwrapUsers(records []model.Record) ([]model.User, error) {
	return unwrap[model.User](records)
}

func UnwrapStudentAccounts(records []model.Record) ([]model.StudentAccount, error) {
	return unwrap[model.StudentAccount](records)
}

func UnwrapTeacherAccounts(records []model.Record) ([]model.TeacherAccount, error) {
	return unwrap[model.TeacherAccount](records)
}

func UnwrapCourses(records []model.Record) ([]model.Course, error) {
	return unwrap[model.Course](records)
}

func UnwrapStudentCourses(records []model.Record) ([]model.StudentCourse, error) {
	return unwrap[model.StudentCourse](records)
}

func UnwrapDepartments(records []model.Record) ([]model.Department, error) {
	return unwrap[model.Department](records)
}

func unwrap[T any](records []model.Record) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, r := range records {
		v, ok := any(r).(*T)
		if !ok {
			return nil, &InvariantError{Msg: fmt.Sprintf("expected %T, got %T", new(T), r)}
		}
		out = append(out, *v)
	}
	return out, nil
}
