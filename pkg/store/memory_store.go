package store

import (
	"sort"
	"sync"
	"time"

	"grimoire/pkg/domain"
)

// MemoryStore keeps records in-process. Used by tests and local runs
// without Postgres.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]domain.User // key: user ID
	email map[string]string      // email -> user ID
	books map[string]domain.Book
	order []string // book insertion order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]domain.User),
		email: make(map[string]string),
		books: make(map[string]domain.Book),
	}
}

func (m *MemoryStore) CreateUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	return m.users[id], true, nil
}

func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.email[email]
	return ok, nil
}

func (m *MemoryStore) CreateBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.books[b.ID]; !exists {
		m.order = append(m.order, b.ID)
	}
	m.books[b.ID] = b
	return nil
}

func (m *MemoryStore) GetBook(id string) (domain.Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	return b, ok, nil
}

func (m *MemoryStore) ListBooks() ([]domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(), nil
}

func (m *MemoryStore) TopRated(n int) ([]domain.Book, error) {
	if n <= 0 {
		return []domain.Book{}, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	books := m.snapshot()
	// Stable sort keeps insertion order on equal averages.
	sort.SliceStable(books, func(i, j int) bool {
		ai, aj := books[i].AverageRating, books[j].AverageRating
		switch {
		case ai == nil:
			return false
		case aj == nil:
			return true
		default:
			return *ai > *aj
		}
	})
	if len(books) > n {
		books = books[:n]
	}
	return books, nil
}

func (m *MemoryStore) UpdateBook(id string, update BookUpdate) (domain.Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return domain.Book{}, false, nil
	}
	if update.Title != nil {
		b.Title = *update.Title
	}
	if update.Author != nil {
		b.Author = *update.Author
	}
	if update.Year != nil {
		b.Year = *update.Year
	}
	if update.Genre != nil {
		b.Genre = *update.Genre
	}
	if update.ImageName != nil {
		b.ImageName = *update.ImageName
	}
	b.UpdatedAt = time.Now().UTC()
	m.books[id] = b
	return b, true, nil
}

func (m *MemoryStore) DeleteBook(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[id]; !ok {
		return false, nil
	}
	delete(m.books, id)
	for i, bid := range m.order {
		if bid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// UpsertRating runs under the store mutex, so concurrent ratings for
// the same book-user pair serialize instead of racing.
func (m *MemoryStore) UpsertRating(bookID, userID string, grade int) (domain.Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[bookID]
	if !ok {
		return domain.Book{}, false, nil
	}
	replaced := false
	ratings := make([]domain.Rating, len(b.Ratings))
	copy(ratings, b.Ratings)
	for i := range ratings {
		if ratings[i].UserID == userID {
			ratings[i].Grade = grade
			replaced = true
			break
		}
	}
	if !replaced {
		ratings = append(ratings, domain.Rating{UserID: userID, Grade: grade})
	}
	b.Ratings = ratings
	b.AverageRating = domain.AverageRating(ratings)
	b.UpdatedAt = time.Now().UTC()
	m.books[bookID] = b
	return b, true, nil
}

// snapshot returns books in insertion order; callers hold the mutex.
func (m *MemoryStore) snapshot() []domain.Book {
	res := make([]domain.Book, 0, len(m.order))
	for _, id := range m.order {
		if b, ok := m.books[id]; ok {
			res = append(res, b)
		}
	}
	return res
}
