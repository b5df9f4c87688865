package repo

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// 仓储层错误，服务层通过 errors.Is 识别
var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicate         = errors.New("duplicate record")
	ErrStillReferenced   = errors.New("record is still referenced")
	ErrMissingReference  = errors.New("referenced record does not exist")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrStaleLoan         = errors.New("loan is no longer borrowed")
)

// MySQL 错误号
const (
	mysqlDuplicateEntry     = 1062
	mysqlRowIsReferenced    = 1451
	mysqlNoReferencedRow    = 1452
	mysqlRowIsReferenced2   = 3730 // 8.0 DROP/DELETE 时的外键约束变体
	mysqlCheckConstraintHit = 3819
)

// translateError 将驱动错误转换为仓储层错误，并保留原始错误链
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDuplicateEntry:
			return fmt.Errorf("%s: %w: %s", op, ErrDuplicate, myErr.Message)
		case mysqlRowIsReferenced, mysqlRowIsReferenced2:
			return fmt.Errorf("%s: %w", op, ErrStillReferenced)
		case mysqlNoReferencedRow:
			return fmt.Errorf("%s: %w", op, ErrMissingReference)
		case mysqlCheckConstraintHit:
			return fmt.Errorf("%s: %w", op, ErrInsufficientStock)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// requireAffected 写操作影响 0 行时返回 ErrNotFound
func requireAffected(op string, result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: get affected rows: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
