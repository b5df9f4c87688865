package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MorseWayne/library_api/internal/domain"
	"github.com/MorseWayne/library_api/internal/repo"
)

// memStore 内存版图书与借阅存储。
// WithinTx 持有互斥锁执行整个回调，模拟行锁带来的串行化；回调出错时恢复快照。
type memStore struct {
	mu         sync.Mutex
	books      map[int64]*domain.Book
	links      map[int64][]int64 // bookID -> categoryIDs
	loans      map[int64]*domain.Loan
	users      map[int64]*domain.User
	nextBookID int64
	nextLoanID int64

	// 注入错误
	failInsert error
}

func newMemStore() *memStore {
	return &memStore{
		books:      make(map[int64]*domain.Book),
		links:      make(map[int64][]int64),
		loans:      make(map[int64]*domain.Loan),
		users:      make(map[int64]*domain.User),
		nextBookID: 1,
		nextLoanID: 1,
	}
}

func (m *memStore) addUser(u *domain.User) *domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return u
}

func (m *memStore) addBook(title string, stock int) *domain.Book {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &domain.Book{ID: m.nextBookID, Title: title, Author: "Author " + title, Stock: stock}
	m.nextBookID++
	m.books[b.ID] = b
	return b
}

func (m *memStore) stockOf(bookID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.books[bookID].Stock
}

func (m *memStore) activeLoans(bookID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countActiveLocked(bookID)
}

func (m *memStore) loanStatus(id int64) domain.LoanStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loans[id].Status
}

func (m *memStore) countActiveLocked(bookID int64) int {
	n := 0
	for _, l := range m.loans {
		if l.BookID == bookID && l.Status == domain.LoanStatusBorrowed {
			n++
		}
	}
	return n
}

func (m *memStore) detailLocked(l *domain.Loan) *domain.LoanDetail {
	d := &domain.LoanDetail{Loan: *l}
	if b, ok := m.books[l.BookID]; ok {
		d.Book = b.Summary()
	}
	if u, ok := m.users[l.UserID]; ok {
		d.User = u.Summary()
	}
	return d
}

// --- repo.LoanRepository ---

func (m *memStore) WithinTx(ctx context.Context, fn func(tx repo.LoanTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	books := make(map[int64]domain.Book, len(m.books))
	for id, b := range m.books {
		books[id] = *b
	}
	loans := make(map[int64]domain.Loan, len(m.loans))
	for id, l := range m.loans {
		loans[id] = *l
	}
	nextLoanID := m.nextLoanID

	if err := fn(&memTx{m: m}); err != nil {
		m.books = make(map[int64]*domain.Book, len(books))
		for id, b := range books {
			b := b
			m.books[id] = &b
		}
		m.loans = make(map[int64]*domain.Loan, len(loans))
		for id, l := range loans {
			l := l
			m.loans[id] = &l
		}
		m.nextLoanID = nextLoanID
		return err
	}
	return nil
}

func (m *memStore) GetByID(ctx context.Context, id int64) (*domain.LoanDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[id]
	if !ok {
		return nil, nil
	}
	return m.detailLocked(l), nil
}

func (m *memStore) List(ctx context.Context, filter *domain.LoanListRequest) ([]*domain.LoanDetail, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*domain.Loan
	for _, l := range m.loans {
		if filter.UserID != nil && l.UserID != *filter.UserID {
			continue
		}
		if filter.BookID != nil && l.BookID != *filter.BookID {
			continue
		}
		if filter.Status != nil && l.Status != *filter.Status {
			continue
		}
		matched = append(matched, l)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := domain.Offset(filter.Page, filter.Limit)
	details := []*domain.LoanDetail{}
	for i := start; i < len(matched) && i < start+filter.Limit; i++ {
		details = append(details, m.detailLocked(matched[i]))
	}
	return details, total, nil
}

func (m *memStore) ListOverdue(ctx context.Context, now time.Time) ([]*domain.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Loan
	for _, l := range m.loans {
		if l.IsOverdue(now) {
			c := *l
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memStore) ListActiveByBook(ctx context.Context, bookID int64) ([]*domain.LoanDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.LoanDetail{}
	for _, l := range m.loans {
		if l.BookID == bookID && l.Status == domain.LoanStatusBorrowed {
			out = append(out, m.detailLocked(l))
		}
	}
	return out, nil
}

func (m *memStore) ListRecentByUser(ctx context.Context, userID int64, limit int) ([]*domain.LoanDetail, error) {
	details, _, err := m.List(ctx, &domain.LoanListRequest{Page: 1, Limit: limit, UserID: &userID})
	return details, err
}

// memTx 在 memStore 的锁内执行
type memTx struct {
	m *memStore
}

func (t *memTx) LockBook(ctx context.Context, bookID int64) (*domain.Book, error) {
	b, ok := t.m.books[bookID]
	if !ok {
		return nil, nil
	}
	c := *b
	return &c, nil
}

func (t *memTx) CountActiveLoans(ctx context.Context, bookID int64) (int, error) {
	return t.m.countActiveLocked(bookID), nil
}

func (t *memTx) FindActiveLoan(ctx context.Context, userID, bookID int64) (*domain.Loan, error) {
	for _, l := range t.m.loans {
		if l.UserID == userID && l.BookID == bookID && l.Status == domain.LoanStatusBorrowed {
			c := *l
			return &c, nil
		}
	}
	return nil, nil
}

func (t *memTx) InsertLoan(ctx context.Context, loan *domain.Loan) error {
	if t.m.failInsert != nil {
		return t.m.failInsert
	}
	loan.ID = t.m.nextLoanID
	t.m.nextLoanID++
	loan.CreatedAt = loan.BorrowDate
	loan.UpdatedAt = loan.BorrowDate
	c := *loan
	t.m.loans[loan.ID] = &c
	return nil
}

func (t *memTx) LockLoan(ctx context.Context, loanID int64) (*domain.Loan, error) {
	l, ok := t.m.loans[loanID]
	if !ok {
		return nil, nil
	}
	c := *l
	return &c, nil
}

func (t *memTx) CloseLoan(ctx context.Context, loan *domain.Loan) error {
	stored, ok := t.m.loans[loan.ID]
	if !ok || stored.Status != domain.LoanStatusBorrowed {
		return repo.ErrStaleLoan
	}
	stored.Status = loan.Status
	stored.ReturnDate = loan.ReturnDate
	return nil
}

func (t *memTx) AdjustBookStock(ctx context.Context, bookID int64, delta int) error {
	b, ok := t.m.books[bookID]
	if !ok || b.Stock+delta < 0 {
		return repo.ErrInsufficientStock
	}
	b.Stock += delta
	return nil
}

// memBookRepo 基于 memStore 的 repo.BookRepository
type memBookRepo struct {
	m          *memStore
	categories map[int64]*domain.Category
	// beforeUpdate 在 Update 加锁前执行，用于模拟并发借还
	beforeUpdate func()
}

func newMemBookRepo(m *memStore) *memBookRepo {
	return &memBookRepo{m: m, categories: make(map[int64]*domain.Category)}
}

func (r *memBookRepo) item(b *domain.Book) *domain.BookListItem {
	item := &domain.BookListItem{Book: *b}
	for _, cid := range r.m.links[b.ID] {
		if c, ok := r.categories[cid]; ok {
			item.Categories = append(item.Categories, c)
		}
	}
	for _, l := range r.m.loans {
		if l.BookID == b.ID {
			item.TotalLoans++
			if l.Status == domain.LoanStatusBorrowed {
				item.ActiveLoanCount++
			}
		}
	}
	item.Derive()
	return item
}

func (r *memBookRepo) checkCategories(ids []int64) error {
	for _, id := range ids {
		if _, ok := r.categories[id]; !ok {
			return repo.ErrMissingReference
		}
	}
	return nil
}

func (r *memBookRepo) Create(ctx context.Context, book *domain.Book, categoryIDs []int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.checkCategories(categoryIDs); err != nil {
		return err
	}
	book.ID = r.m.nextBookID
	r.m.nextBookID++
	c := *book
	r.m.books[book.ID] = &c
	r.m.links[book.ID] = append([]int64(nil), categoryIDs...)
	return nil
}

func (r *memBookRepo) GetByID(ctx context.Context, id int64) (*domain.BookListItem, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	b, ok := r.m.books[id]
	if !ok {
		return nil, nil
	}
	return r.item(b), nil
}

func (r *memBookRepo) Update(ctx context.Context, id int64, patch *domain.UpdateBookRequest) error {
	if r.beforeUpdate != nil {
		r.beforeUpdate()
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	b, ok := r.m.books[id]
	if !ok {
		return repo.ErrNotFound
	}
	if patch.Categories != nil {
		if err := r.checkCategories(*patch.Categories); err != nil {
			return err
		}
		r.m.links[id] = append([]int64(nil), (*patch.Categories)...)
	}
	if patch.Title != nil {
		b.Title = *patch.Title
	}
	if patch.Author != nil {
		b.Author = *patch.Author
	}
	if patch.Stock != nil {
		b.Stock = *patch.Stock
	}
	if patch.Description != nil {
		b.Description = patch.Description
	}
	return nil
}

func (r *memBookRepo) Delete(ctx context.Context, id int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.books[id]; !ok {
		return repo.ErrNotFound
	}
	for _, l := range r.m.loans {
		if l.BookID == id {
			return repo.ErrStillReferenced
		}
	}
	delete(r.m.books, id)
	delete(r.m.links, id)
	return nil
}

func (r *memBookRepo) List(ctx context.Context, filter *domain.BookListRequest) ([]*domain.BookListItem, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var matched []*domain.BookListItem
	for _, b := range r.m.books {
		if filter.Search != "" &&
			!strings.Contains(strings.ToLower(b.Title), strings.ToLower(filter.Search)) &&
			!strings.Contains(strings.ToLower(b.Author), strings.ToLower(filter.Search)) {
			continue
		}
		matched = append(matched, r.item(b))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := int64(len(matched))
	start := domain.Offset(filter.Page, filter.Limit)
	out := []*domain.BookListItem{}
	for i := start; i < len(matched) && i < start+filter.Limit; i++ {
		out = append(out, matched[i])
	}
	return out, total, nil
}

// mockCategoryRepository 分类仓储模拟
type mockCategoryRepository struct {
	categories map[int64]*domain.Category
	referenced map[int64]bool
	nextID     int64
}

func newMockCategoryRepository() *mockCategoryRepository {
	return &mockCategoryRepository{
		categories: make(map[int64]*domain.Category),
		referenced: make(map[int64]bool),
		nextID:     1,
	}
}

func (m *mockCategoryRepository) nameTaken(name string, exceptID int64) bool {
	for _, c := range m.categories {
		if c.ID != exceptID && strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

func (m *mockCategoryRepository) Create(ctx context.Context, category *domain.Category) error {
	if m.nameTaken(category.Name, 0) {
		return repo.ErrDuplicate
	}
	category.ID = m.nextID
	m.nextID++
	c := *category
	m.categories[c.ID] = &c
	return nil
}

func (m *mockCategoryRepository) GetByID(ctx context.Context, id int64) (*domain.Category, error) {
	c, ok := m.categories[id]
	if !ok {
		return nil, nil
	}
	return c, nil
}

func (m *mockCategoryRepository) List(ctx context.Context) ([]*domain.Category, error) {
	out := []*domain.Category{}
	for _, c := range m.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockCategoryRepository) Update(ctx context.Context, category *domain.Category) error {
	if _, ok := m.categories[category.ID]; !ok {
		return repo.ErrNotFound
	}
	if m.nameTaken(category.Name, category.ID) {
		return repo.ErrDuplicate
	}
	m.categories[category.ID].Name = category.Name
	return nil
}

func (m *mockCategoryRepository) Delete(ctx context.Context, id int64) error {
	if _, ok := m.categories[id]; !ok {
		return repo.ErrNotFound
	}
	if m.referenced[id] {
		return repo.ErrStillReferenced
	}
	delete(m.categories, id)
	return nil
}

// MockUserRepository 用户仓储模拟
type MockUserRepository struct {
	users  map[int64]*domain.User
	emails map[string]int64
	nextID int64
	loans  map[int64]int64 // userID -> total loans
}

func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{
		users:  make(map[int64]*domain.User),
		emails: make(map[string]int64),
		loans:  make(map[int64]int64),
		nextID: 1,
	}
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	for _, u := range m.users {
		if u.Username == user.Username || u.Email == user.Email {
			return repo.ErrDuplicate
		}
	}
	user.ID = m.nextID
	m.nextID++
	c := *user
	m.users[user.ID] = &c
	m.emails[user.Email] = user.ID
	return nil
}

func (m *MockUserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	for _, u := range m.users {
		if u.Username == username {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	id, ok := m.emails[email]
	if !ok {
		return nil, nil
	}
	return m.GetByID(ctx, id)
}

func (m *MockUserRepository) Update(ctx context.Context, user *domain.User) error {
	stored, ok := m.users[user.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if id, taken := m.emails[user.Email]; taken && id != user.ID {
		return repo.ErrDuplicate
	}
	delete(m.emails, stored.Email)
	stored.Name = user.Name
	stored.Email = user.Email
	stored.PasswordHash = user.PasswordHash
	m.emails[user.Email] = user.ID
	return nil
}

func (m *MockUserRepository) UpdateRole(ctx context.Context, userID int64, role domain.UserRole) error {
	u, ok := m.users[userID]
	if !ok {
		return repo.ErrNotFound
	}
	u.Role = role
	return nil
}

func (m *MockUserRepository) SetRefreshTokenHash(ctx context.Context, userID int64, hash *string) error {
	if u, ok := m.users[userID]; ok {
		u.RefreshTokenHash = hash
	}
	return nil
}

func (m *MockUserRepository) List(ctx context.Context, offset, limit int) ([]*domain.UserWithStats, int64, error) {
	var ids []int64
	for id := range m.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := []*domain.UserWithStats{}
	for i := offset; i < len(ids) && i < offset+limit; i++ {
		out = append(out, &domain.UserWithStats{User: *m.users[ids[i]], TotalLoans: m.loans[ids[i]]})
	}
	return out, int64(len(ids)), nil
}

func (m *MockUserRepository) CountLoans(ctx context.Context, userID int64) (int64, error) {
	return m.loans[userID], nil
}
