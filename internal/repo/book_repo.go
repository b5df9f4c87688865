package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/MorseWayne/library_api/internal/database"
	"github.com/MorseWayne/library_api/internal/domain"
)

// BookRepository 图书数据访问接口
type BookRepository interface {
	// Create 在同一事务中写入图书及其分类关联
	Create(ctx context.Context, book *domain.Book, categoryIDs []int64) error
	GetByID(ctx context.Context, id int64) (*domain.BookListItem, error)
	// Update 只写入 patch 中非 nil 的字段；Categories 非 nil 时整体替换分类关联
	Update(ctx context.Context, id int64, patch *domain.UpdateBookRequest) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, filter *domain.BookListRequest) ([]*domain.BookListItem, int64, error)
}

// bookSortColumns 对外排序字段到列的白名单映射
var bookSortColumns = map[string]string{
	domain.BookSortID:        "b.id",
	domain.BookSortTitle:     "b.title",
	domain.BookSortAuthor:    "b.author",
	domain.BookSortStock:     "b.stock",
	domain.BookSortCreatedAt: "b.created_at",
	domain.BookSortUpdatedAt: "b.updated_at",
}

// likeEscaper 转义 LIKE 通配符，配合 ESCAPE '!' 使用
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

const (
	activeLoansExpr = `(SELECT COUNT(*) FROM loans l WHERE l.book_id = b.id AND l.status = 'BORROWED') AS active_loans`
	totalLoansExpr  = `(SELECT COUNT(*) FROM loans l WHERE l.book_id = b.id) AS total_loans`
)

type bookRepo struct {
	db *database.DB
}

// NewBookRepository 创建图书仓储实例
func NewBookRepository(db *database.DB) BookRepository {
	return &bookRepo{db: db}
}

func bookSelect() sq.SelectBuilder {
	return sq.Select("b.id", "b.title", "b.author", "b.stock", "b.description", "b.created_at", "b.updated_at",
		activeLoansExpr, totalLoansExpr).
		From("books b")
}

// buildBookListQuery 根据过滤条件构建分页查询与计数查询
func buildBookListQuery(filter *domain.BookListRequest) (sq.SelectBuilder, sq.SelectBuilder) {
	where := sq.And{}

	if filter.Search != "" {
		pattern := "%" + likeEscaper.Replace(strings.ToLower(filter.Search)) + "%"
		where = append(where, sq.Or{
			sq.Expr("LOWER(b.title) LIKE ? ESCAPE '!'", pattern),
			sq.Expr("LOWER(b.author) LIKE ? ESCAPE '!'", pattern),
		})
	}
	if filter.Author != "" {
		where = append(where, sq.Eq{"b.author": filter.Author})
	}
	if filter.Category != "" {
		membership := sq.Select("1").
			From("book_categories bc").
			Join("categories c ON c.id = bc.category_id").
			Where("bc.book_id = b.id")
		if id, err := strconv.ParseInt(filter.Category, 10, 64); err == nil {
			membership = membership.Where(sq.Eq{"c.id": id})
		} else {
			membership = membership.Where(sq.Eq{"c.name": filter.Category})
		}
		where = append(where, existsClause{membership})
	}
	if filter.MinStock != nil {
		where = append(where, sq.GtOrEq{"b.stock": *filter.MinStock})
	}
	if filter.MaxStock != nil {
		where = append(where, sq.LtOrEq{"b.stock": *filter.MaxStock})
	}
	if filter.CreatedFrom != nil {
		where = append(where, sq.GtOrEq{"b.created_at": *filter.CreatedFrom})
	}
	if filter.CreatedTo != nil {
		where = append(where, sq.LtOrEq{"b.created_at": *filter.CreatedTo})
	}

	column, ok := bookSortColumns[filter.SortBy]
	if !ok {
		column = bookSortColumns[domain.BookSortCreatedAt]
	}
	direction := "DESC"
	if filter.Order == "asc" {
		direction = "ASC"
	}

	page := bookSelect().
		Where(where).
		OrderBy(column+" "+direction, "b.id "+direction).
		Limit(uint64(filter.Limit)).
		Offset(uint64(domain.Offset(filter.Page, filter.Limit)))

	count := sq.Select("COUNT(*)").From("books b").Where(where)

	return page, count
}

// existsClause 将子查询包装为 EXISTS 条件
type existsClause struct {
	sub sq.SelectBuilder
}

func (e existsClause) ToSql() (string, []any, error) {
	query, args, err := e.sub.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "EXISTS (" + query + ")", args, nil
}

// List 目录查询：分页数据与总数并发获取，再批量补齐分类
func (r *bookRepo) List(ctx context.Context, filter *domain.BookListRequest) ([]*domain.BookListItem, int64, error) {
	pageBuilder, countBuilder := buildBookListQuery(filter)

	pageQuery, pageArgs, err := pageBuilder.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build book list query: %w", err)
	}
	countQuery, countArgs, err := countBuilder.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build book count query: %w", err)
	}

	var (
		books []*domain.BookListItem
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.db.SelectContext(gctx, &books, pageQuery, pageArgs...); err != nil {
			return fmt.Errorf("query books: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := r.db.GetContext(gctx, &total, countQuery, countArgs...); err != nil {
			return fmt.Errorf("count books: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	if err := r.attachCategories(ctx, books); err != nil {
		return nil, 0, err
	}
	if books == nil {
		books = []*domain.BookListItem{}
	}
	return books, total, nil
}

// GetByID 不存在时返回 nil, nil
func (r *bookRepo) GetByID(ctx context.Context, id int64) (*domain.BookListItem, error) {
	query, args, err := bookSelect().Where(sq.Eq{"b.id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build book query: %w", err)
	}

	book := &domain.BookListItem{}
	if err := r.db.GetContext(ctx, book, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get book by id: %w", err)
	}

	if err := r.attachCategories(ctx, []*domain.BookListItem{book}); err != nil {
		return nil, err
	}
	return book, nil
}

// attachCategories 用一次 IN 查询为一页图书填充分类并计算可借数量
func (r *bookRepo) attachCategories(ctx context.Context, books []*domain.BookListItem) error {
	if len(books) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(books))
	byID := make(map[int64]*domain.BookListItem, len(books))
	for _, b := range books {
		ids = append(ids, b.ID)
		byID[b.ID] = b
		b.Categories = []*domain.Category{}
	}

	query, args, err := sq.Select("bc.book_id", "c.id", "c.name", "c.created_at", "c.updated_at").
		From("book_categories bc").
		Join("categories c ON c.id = bc.category_id").
		Where(sq.Eq{"bc.book_id": ids}).
		OrderBy("c.name ASC").
		ToSql()
	if err != nil {
		return fmt.Errorf("build category query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query book categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var bookID int64
		c := &domain.Category{}
		if err := rows.Scan(&bookID, &c.ID, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return fmt.Errorf("scan book category: %w", err)
		}
		if b, ok := byID[bookID]; ok {
			b.Categories = append(b.Categories, c)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate book categories: %w", err)
	}

	for _, b := range books {
		b.Derive()
	}
	return nil
}

// Create 写入图书与分类关联；分类不存在时返回 ErrMissingReference
func (r *bookRepo) Create(ctx context.Context, book *domain.Book, categoryIDs []int64) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx,
			`INSERT INTO books (title, author, stock, description) VALUES (?, ?, ?, ?)`,
			book.Title, book.Author, book.Stock, book.Description)
		if err != nil {
			return translateError("create book", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("get last insert id: %w", err)
		}
		book.ID = id

		return replaceBookCategories(ctx, tx, id, categoryIDs)
	})
}

// buildBookUpdate 只 SET 请求中出现的列。未提供 stock 时不写 stock，
// 避免覆盖并发借还事务对库存的 ±1 调整。
func buildBookUpdate(id int64, patch *domain.UpdateBookRequest) sq.UpdateBuilder {
	update := sq.Update("books").
		Set("updated_at", sq.Expr("CURRENT_TIMESTAMP(3)")).
		Where(sq.Eq{"id": id})
	if patch.Title != nil {
		update = update.Set("title", *patch.Title)
	}
	if patch.Author != nil {
		update = update.Set("author", *patch.Author)
	}
	if patch.Stock != nil {
		update = update.Set("stock", *patch.Stock)
	}
	if patch.Description != nil {
		update = update.Set("description", *patch.Description)
	}
	return update
}

// Update 更新图书字段与分类关联
func (r *bookRepo) Update(ctx context.Context, id int64, patch *domain.UpdateBookRequest) error {
	query, args, err := buildBookUpdate(id, patch).ToSql()
	if err != nil {
		return fmt.Errorf("build update book query: %w", err)
	}

	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return translateError("update book", err)
		}
		if err := requireAffected("update book", result); err != nil {
			return err
		}

		if patch.Categories == nil {
			return nil
		}
		return replaceBookCategories(ctx, tx, id, *patch.Categories)
	})
}

// Delete 仍有借阅记录时返回 ErrStillReferenced
func (r *bookRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id)
	if err != nil {
		return translateError("delete book", err)
	}
	return requireAffected("delete book", result)
}

func replaceBookCategories(ctx context.Context, tx *sqlx.Tx, bookID int64, categoryIDs []int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM book_categories WHERE book_id = ?`, bookID); err != nil {
		return fmt.Errorf("clear book categories: %w", err)
	}
	if len(categoryIDs) == 0 {
		return nil
	}

	insert := sq.Insert("book_categories").Columns("book_id", "category_id")
	seen := make(map[int64]struct{}, len(categoryIDs))
	for _, cid := range categoryIDs {
		if _, dup := seen[cid]; dup {
			continue
		}
		seen[cid] = struct{}{}
		insert = insert.Values(bookID, cid)
	}

	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("build book categories insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return translateError("link book categories", err)
	}
	return nil
}

// withTx 在事务中执行 fn，fn 返回错误时回滚
func (r *bookRepo) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
