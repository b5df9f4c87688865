package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MorseWayne/library_api/internal/authz"
	"github.com/MorseWayne/library_api/internal/domain"
	"github.com/MorseWayne/library_api/internal/repo"
)

func newBookFixture() (BookService, *memBookRepo, *memStore) {
	store := newMemStore()
	books := newMemBookRepo(store)
	books.categories[1] = &domain.Category{ID: 1, Name: "Fiction"}
	books.categories[2] = &domain.Category{ID: 2, Name: "Science"}
	return NewBookService(books, store, zap.NewNop()), books, store
}

var (
	testAdmin  = &domain.User{ID: 10, Username: "admin", Role: domain.UserRoleAdmin}
	testMember = &domain.User{ID: 11, Username: "member", Role: domain.UserRoleMember}
)

func strPtr(v string) *string { return &v }

func TestBookService_CreateBook(t *testing.T) {
	svc, _, _ := newBookFixture()
	ctx := context.Background()

	book, err := svc.CreateBook(ctx, testAdmin, &domain.CreateBookRequest{
		Title:      "  Dune ",
		Author:     "Frank Herbert",
		Categories: []int64{1, 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "Dune", book.Title)
	assert.Equal(t, domain.DefaultBookStock, book.Stock)
	assert.Equal(t, domain.DefaultBookStock, book.AvailableStock)
	assert.Len(t, book.Categories, 2)
	assert.Empty(t, book.CurrentLoans)

	_, err = svc.CreateBook(ctx, testAdmin, &domain.CreateBookRequest{Title: "X", Author: "Y", Categories: []int64{42}})
	assert.ErrorIs(t, err, ErrCategoryNotFound)

	_, err = svc.CreateBook(ctx, testMember, &domain.CreateBookRequest{Title: "X", Author: "Y"})
	assert.ErrorIs(t, err, authz.ErrForbidden)

	_, err = svc.CreateBook(ctx, nil, &domain.CreateBookRequest{Title: "X", Author: "Y"})
	assert.ErrorIs(t, err, authz.ErrUnauthenticated)
}

func TestBookService_UpdateBook(t *testing.T) {
	svc, _, store := newBookFixture()
	ctx := context.Background()
	book := store.addBook("Dune", 2)

	_, err := svc.UpdateBook(ctx, testAdmin, book.ID, &domain.UpdateBookRequest{})
	assert.ErrorIs(t, err, ErrEmptyUpdate)

	stock := 5
	updated, err := svc.UpdateBook(ctx, testAdmin, book.ID, &domain.UpdateBookRequest{
		Stock:       &stock,
		Description: strPtr("Desert planet"),
		Categories:  &[]int64{2},
	})
	require.NoError(t, err)
	assert.Equal(t, "Dune", updated.Title, "untouched fields keep their values")
	assert.Equal(t, 5, updated.Stock)
	require.NotNil(t, updated.Description)
	assert.Equal(t, "Desert planet", *updated.Description)
	require.Len(t, updated.Categories, 1)
	assert.Equal(t, "Science", updated.Categories[0].Name)

	_, err = svc.UpdateBook(ctx, testAdmin, 999, &domain.UpdateBookRequest{Title: strPtr("Ghost")})
	assert.ErrorIs(t, err, ErrBookNotFound)

	_, err = svc.UpdateBook(ctx, testAdmin, book.ID, &domain.UpdateBookRequest{Categories: &[]int64{7}})
	assert.ErrorIs(t, err, ErrCategoryNotFound)
}

func TestBookService_UpdateBook_KeepsConcurrentStockChange(t *testing.T) {
	svc, books, store := newBookFixture()
	ctx := context.Background()
	book := store.addBook("Dune", 2)

	// 读取之后、写入之前有一笔借阅扣减了库存
	books.beforeUpdate = func() {
		err := store.WithinTx(ctx, func(tx repo.LoanTx) error {
			return tx.AdjustBookStock(ctx, book.ID, -1)
		})
		require.NoError(t, err)
	}

	updated, err := svc.UpdateBook(ctx, testAdmin, book.ID, &domain.UpdateBookRequest{Title: strPtr(" Dune Messiah ")})
	require.NoError(t, err)
	assert.Equal(t, "Dune Messiah", updated.Title)
	assert.Equal(t, 1, store.stockOf(book.ID), "title-only update must not overwrite stock")

	_, err = svc.UpdateBook(ctx, testAdmin, book.ID, &domain.UpdateBookRequest{Categories: &[]int64{1}})
	require.NoError(t, err)
	assert.Equal(t, 0, store.stockOf(book.ID), "categories-only update must not overwrite stock")

	books.beforeUpdate = nil
	stock := 4
	_, err = svc.UpdateBook(ctx, testAdmin, book.ID, &domain.UpdateBookRequest{Stock: &stock})
	require.NoError(t, err)
	assert.Equal(t, 4, store.stockOf(book.ID))
}

func TestBookService_GetBook_ShowsCurrentLoans(t *testing.T) {
	svc, _, store := newBookFixture()
	ctx := context.Background()
	book := store.addBook("Dune", 3)
	store.addUser(testMember)

	loans := NewLoanService(store, zap.NewNop())
	_, err := loans.CreateLoan(ctx, testMember, &domain.CreateLoanRequest{BookID: book.ID})
	require.NoError(t, err)

	detail, err := svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, detail.Stock)
	assert.Equal(t, 1, detail.ActiveLoanCount)
	assert.Equal(t, 1, detail.AvailableStock)
	require.Len(t, detail.CurrentLoans, 1)
	assert.Equal(t, testMember.ID, detail.CurrentLoans[0].UserID)

	_, err = svc.GetBook(ctx, 999)
	assert.ErrorIs(t, err, ErrBookNotFound)
}

func TestBookService_GetBook_OverdueUsesServiceClock(t *testing.T) {
	svc, _, store := newBookFixture()
	ctx := context.Background()
	book := store.addBook("Dune", 1)
	store.addUser(testMember)

	borrowedAt := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	loans := NewLoanService(store, zap.NewNop(), WithClock(func() time.Time { return borrowedAt }))
	_, err := loans.CreateLoan(ctx, testMember, &domain.CreateLoanRequest{BookID: book.ID})
	require.NoError(t, err)

	bs := svc.(*bookService)
	bs.now = func() time.Time { return borrowedAt.AddDate(0, 0, 1) }
	detail, err := svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	require.Len(t, detail.CurrentLoans, 1)
	assert.False(t, detail.CurrentLoans[0].IsOverdue)

	bs.now = func() time.Time { return borrowedAt.AddDate(0, 0, 8) }
	detail, err = svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	require.Len(t, detail.CurrentLoans, 1)
	assert.True(t, detail.CurrentLoans[0].IsOverdue)
}

func TestBookService_DeleteBook(t *testing.T) {
	svc, _, store := newBookFixture()
	ctx := context.Background()
	free := store.addBook("Free", 1)
	lent := store.addBook("Lent", 1)
	store.addUser(testMember)

	_, err := NewLoanService(store, zap.NewNop()).CreateLoan(ctx, testMember, &domain.CreateLoanRequest{BookID: lent.ID})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteBook(ctx, testMember, free.ID), authz.ErrForbidden)
	assert.ErrorIs(t, svc.DeleteBook(ctx, testAdmin, lent.ID), ErrBookHasLoans)
	assert.NoError(t, svc.DeleteBook(ctx, testAdmin, free.ID))
	assert.ErrorIs(t, svc.DeleteBook(ctx, testAdmin, free.ID), ErrBookNotFound)
}

func TestBookService_ListBooks_Normalizes(t *testing.T) {
	svc, _, store := newBookFixture()
	for i := 0; i < 12; i++ {
		store.addBook("Book", 1)
	}

	req := &domain.BookListRequest{Page: 0, Limit: 500, SortBy: "price", Order: "sideways"}
	books, total, err := svc.ListBooks(context.Background(), req)
	require.NoError(t, err)
	assert.EqualValues(t, 12, total)
	assert.Len(t, books, 12)
	assert.Equal(t, 1, req.Page)
	assert.Equal(t, domain.MaxPageSize, req.Limit)
	assert.Equal(t, domain.BookSortCreatedAt, req.SortBy)
	assert.Equal(t, "desc", req.Order)
}

func TestCategoryService(t *testing.T) {
	repo := newMockCategoryRepository()
	svc := NewCategoryService(repo, zap.NewNop())
	ctx := context.Background()

	_, err := svc.CreateCategory(ctx, testMember, &domain.CategoryRequest{Name: "Fiction"})
	assert.ErrorIs(t, err, authz.ErrForbidden)

	fiction, err := svc.CreateCategory(ctx, testAdmin, &domain.CategoryRequest{Name: " Fiction "})
	require.NoError(t, err)
	assert.Equal(t, "Fiction", fiction.Name)

	_, err = svc.CreateCategory(ctx, testAdmin, &domain.CategoryRequest{Name: "fiction"})
	assert.ErrorIs(t, err, ErrCategoryExists)

	history, err := svc.CreateCategory(ctx, testAdmin, &domain.CategoryRequest{Name: "History"})
	require.NoError(t, err)

	_, err = svc.UpdateCategory(ctx, testAdmin, history.ID, &domain.CategoryRequest{Name: "Fiction"})
	assert.ErrorIs(t, err, ErrCategoryExists)
	_, err = svc.UpdateCategory(ctx, testAdmin, 999, &domain.CategoryRequest{Name: "Poetry"})
	assert.ErrorIs(t, err, ErrCategoryNotFound)

	renamed, err := svc.UpdateCategory(ctx, testAdmin, history.ID, &domain.CategoryRequest{Name: "Ancient History"})
	require.NoError(t, err)
	assert.Equal(t, "Ancient History", renamed.Name)

	all, err := svc.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Ancient History", all[0].Name)

	repo.referenced[fiction.ID] = true
	assert.ErrorIs(t, svc.DeleteCategory(ctx, testAdmin, fiction.ID), ErrCategoryInUse)
	assert.NoError(t, svc.DeleteCategory(ctx, testAdmin, history.ID))
	assert.ErrorIs(t, svc.DeleteCategory(ctx, testAdmin, history.ID), ErrCategoryNotFound)
}
