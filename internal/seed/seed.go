// Package seed 为开发与演示环境灌入初始数据：管理员、读者、分类、图书和示例借阅。
// 所有写入都经过服务层，与 HTTP 接口遵循相同的业务规则。
package seed

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MorseWayne/library_api/internal/domain"
	"github.com/MorseWayne/library_api/internal/service"
)

// 默认账号口令，仅用于演示数据
const (
	AdminPassword  = "Admin123!"
	MemberPassword = "Password123!"
)

// RoleSetter 直接修改用户角色，repo.UserRepository 满足该接口
type RoleSetter interface {
	UpdateRole(ctx context.Context, userID int64, role domain.UserRole) error
}

// Seeder 通过服务层写入种子数据
type Seeder struct {
	Users      service.UserService
	Roles      RoleSetter
	Categories service.CategoryService
	Books      service.BookService
	Loans      service.LoanService
	Logger     *zap.Logger
}

// Summary 种子数据统计
type Summary struct {
	Admins      int
	Members     int
	Categories  int
	Books       int
	ActiveLoans int
	ClosedLoans int
}

type bookSeed struct {
	title       string
	author      string
	stock       int
	description string
	categories  []int // categorySeeds 下标
}

var (
	memberSeeds = []domain.RegisterRequest{
		{Username: "user1", Email: "user1@mail.com", Name: "User One"},
		{Username: "user2", Email: "user2@mail.com", Name: "User Two"},
		{Username: "user3", Email: "user3@mail.com", Name: "User Three"},
	}

	categorySeeds = []string{"Fiction", "Non-Fiction", "Science", "History", "Technology"}

	bookSeeds = []bookSeed{
		{"White Nights", "Fyodor Dostoevsky", 5, "Classic Russian novella about love and sacrifice", []int{0}},
		{"Crime and Punishment", "Fyodor Dostoevsky", 3, "Philosophical novel about morality and guilt", []int{0, 3}},
		{"Introduction to Algorithms", "Thomas H. Cormen", 7, "Comprehensive algorithms textbook", []int{2, 4}},
		{"Clean Code", "Robert C. Martin", 4, "Practical guide to writing maintainable code", []int{4}},
		{"Sapiens: A Brief History of Humankind", "Yuval Noah Harari", 6, "History of humankind from the stone age to today", []int{1, 3}},
	}
)

// CreateAdmin 注册用户后提升为管理员
func (s *Seeder) CreateAdmin(ctx context.Context, req *domain.RegisterRequest) (*domain.User, error) {
	user, err := s.Users.Register(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("register admin %s: %w", req.Username, err)
	}
	if err := s.Roles.UpdateRole(ctx, user.ID, domain.UserRoleAdmin); err != nil {
		return nil, fmt.Errorf("promote admin %s: %w", req.Username, err)
	}
	user.Role = domain.UserRoleAdmin
	s.Logger.Info("admin created", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
	return user, nil
}

// Run 写入全部种子数据。目标库应为空，已存在的用户名会返回 service.ErrUserExists。
func (s *Seeder) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{}

	admin, err := s.CreateAdmin(ctx, &domain.RegisterRequest{
		Username: "admin",
		Email:    "admin@library.local",
		Name:     "Administrator",
		Password: AdminPassword,
	})
	if err != nil {
		return nil, err
	}
	sum.Admins++

	members := make([]*domain.User, 0, len(memberSeeds))
	for _, m := range memberSeeds {
		req := m
		req.Password = MemberPassword
		user, err := s.Users.Register(ctx, &req)
		if err != nil {
			return nil, fmt.Errorf("register member %s: %w", req.Username, err)
		}
		members = append(members, user)
	}
	sum.Members = len(members)

	categoryIDs := make([]int64, 0, len(categorySeeds))
	for _, name := range categorySeeds {
		category, err := s.Categories.CreateCategory(ctx, admin, &domain.CategoryRequest{Name: name})
		if err != nil {
			return nil, fmt.Errorf("create category %s: %w", name, err)
		}
		categoryIDs = append(categoryIDs, category.ID)
	}
	sum.Categories = len(categoryIDs)

	bookIDs := make([]int64, 0, len(bookSeeds))
	for _, b := range bookSeeds {
		stock := b.stock
		description := b.description
		ids := make([]int64, 0, len(b.categories))
		for _, idx := range b.categories {
			ids = append(ids, categoryIDs[idx])
		}
		book, err := s.Books.CreateBook(ctx, admin, &domain.CreateBookRequest{
			Title:       b.title,
			Author:      b.author,
			Stock:       &stock,
			Description: &description,
			Categories:  ids,
		})
		if err != nil {
			return nil, fmt.Errorf("create book %q: %w", b.title, err)
		}
		bookIDs = append(bookIDs, book.ID)
	}
	sum.Books = len(bookIDs)

	// 两条在借、一条已归还
	week, fortnight := 7, 14
	loans := []struct {
		member  int
		book    int
		dueDays *int
		returns bool
	}{
		{member: 0, book: 0, dueDays: &week},
		{member: 1, book: 2, dueDays: &fortnight},
		{member: 2, book: 3, returns: true},
	}
	for _, l := range loans {
		loan, err := s.Loans.CreateLoan(ctx, members[l.member], &domain.CreateLoanRequest{
			BookID:  bookIDs[l.book],
			DueDays: l.dueDays,
		})
		if err != nil {
			return nil, fmt.Errorf("create loan: %w", err)
		}
		if !l.returns {
			sum.ActiveLoans++
			continue
		}
		if _, err := s.Loans.ForceReturn(ctx, admin, loan.ID); err != nil {
			return nil, fmt.Errorf("return loan %d: %w", loan.ID, err)
		}
		sum.ClosedLoans++
	}

	s.Logger.Info("seed completed",
		zap.Int("members", sum.Members),
		zap.Int("categories", sum.Categories),
		zap.Int("books", sum.Books),
		zap.Int("active_loans", sum.ActiveLoans),
		zap.Int("closed_loans", sum.ClosedLoans),
	)
	return sum, nil
}

// IsAlreadySeeded 判断 Run 失败是否因为数据已存在
func IsAlreadySeeded(err error) bool {
	return errors.Is(err, service.ErrUserExists)
}
