package store

import "grimoire/pkg/domain"

// BookUpdate carries a partial update: nil fields are left untouched.
type BookUpdate struct {
	Title     *string
	Author    *string
	Year      *int
	Genre     *string
	ImageName *string
}

// Store is the persistence boundary for users, books and ratings.
// Lookups return (value, found, error); found=false is not an error.
type Store interface {
	CreateUser(u domain.User) error
	GetUserByEmail(email string) (domain.User, bool, error)
	HasUserEmail(email string) (bool, error)

	CreateBook(b domain.Book) error
	GetBook(id string) (domain.Book, bool, error)
	ListBooks() ([]domain.Book, error)
	// TopRated returns up to n books ordered by average rating
	// descending. Unrated books sort last; ties keep insertion order.
	TopRated(n int) ([]domain.Book, error)
	UpdateBook(id string, update BookUpdate) (domain.Book, bool, error)
	DeleteBook(id string) (bool, error)

	// UpsertRating replaces the user's existing grade or appends a new
	// one, recomputes the average and persists both atomically. The
	// read-modify-write is serialized per book so concurrent ratings
	// cannot duplicate rows or lose updates.
	UpsertRating(bookID, userID string, grade int) (domain.Book, bool, error)
}
