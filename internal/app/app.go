// Package app wires storage, blob storage and the image pipeline into
// the per-endpoint use cases.
package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"grimoire/internal/images"
	"grimoire/internal/storage"
	"grimoire/internal/util"
	"grimoire/pkg/auth"
	"grimoire/pkg/domain"
	"grimoire/pkg/store"
)

// Upload is a received cover image before ingestion.
type Upload struct {
	Filename string
	Reader   io.Reader
}

// BookInput carries the client-supplied fields for a new book.
type BookInput struct {
	Title  string
	Author string
	Year   int
	Genre  string
}

// BookPatch carries a partial update; nil fields stay untouched.
type BookPatch struct {
	Title  *string
	Author *string
	Year   *int
	Genre  *string
}

// App is the core application service.
type App struct {
	store store.Store
	blobs storage.BlobStore
}

// New constructs the application around a record store and blob store.
func New(recordStore store.Store, blobs storage.BlobStore) *App {
	return &App{store: recordStore, blobs: blobs}
}

// SignUp registers a new user. The existing credential is never
// altered when the email is already taken.
func (a *App) SignUp(email, password string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return ErrEmailAndPasswordRequired
	}
	exists, err := a.store.HasUserEmail(email)
	if err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if exists {
		return ErrEmailAlreadyExists
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateUser(user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Login verifies credentials and returns the user.
func (a *App) Login(email, password string) (domain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return domain.User{}, ErrEmailAndPasswordRequired
	}
	user, found, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if !found || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// CreateBook ingests the cover, then persists the record. The record
// write never happens before the blob commit, so a failed ingestion
// cannot leave a book pointing at a missing file.
func (a *App) CreateBook(ctx context.Context, ownerID string, input BookInput, upload *Upload) (domain.Book, error) {
	if upload == nil {
		return domain.Book{}, ErrMissingImage
	}
	imageName, err := a.ingest(ctx, upload)
	if err != nil {
		return domain.Book{}, err
	}
	now := time.Now().UTC()
	book := domain.Book{
		ID:        util.NewID(),
		OwnerID:   ownerID,
		Title:     input.Title,
		Author:    input.Author,
		Year:      input.Year,
		Genre:     input.Genre,
		ImageName: imageName,
		Ratings:   []domain.Rating{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateBook(book); err != nil {
		// The committed blob is orphaned; reclaim it best-effort.
		a.discardBlob(ctx, imageName)
		return domain.Book{}, fmt.Errorf("create book: %w", err)
	}
	return book, nil
}

// GetBook returns one book.
func (a *App) GetBook(id string) (domain.Book, error) {
	book, found, err := a.store.GetBook(id)
	if err != nil {
		return domain.Book{}, fmt.Errorf("get book: %w", err)
	}
	if !found {
		return domain.Book{}, ErrNotFound
	}
	return book, nil
}

// ListBooks returns all books.
func (a *App) ListBooks() ([]domain.Book, error) {
	books, err := a.store.ListBooks()
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// BestRated returns the top three books by average rating.
func (a *App) BestRated() ([]domain.Book, error) {
	books, err := a.store.TopRated(3)
	if err != nil {
		return nil, fmt.Errorf("top rated: %w", err)
	}
	return books, nil
}

// UpdateBook applies a partial update after an ownership check. A new
// cover, when supplied, replaces the stored blob and the superseded
// file is deleted best-effort.
func (a *App) UpdateBook(ctx context.Context, id, requesterID string, patch BookPatch, upload *Upload) (domain.Book, error) {
	current, found, err := a.store.GetBook(id)
	if err != nil {
		return domain.Book{}, fmt.Errorf("get book: %w", err)
	}
	if !found {
		return domain.Book{}, ErrNotFound
	}
	if current.OwnerID != requesterID {
		return domain.Book{}, ErrForbidden
	}

	update := store.BookUpdate{
		Title:  patch.Title,
		Author: patch.Author,
		Year:   patch.Year,
		Genre:  patch.Genre,
	}
	previousImage := ""
	if upload != nil {
		imageName, err := a.ingest(ctx, upload)
		if err != nil {
			return domain.Book{}, err
		}
		update.ImageName = &imageName
		previousImage = current.ImageName
	}

	updated, found, err := a.store.UpdateBook(id, update)
	if err != nil {
		if update.ImageName != nil {
			a.discardBlob(ctx, *update.ImageName)
		}
		return domain.Book{}, fmt.Errorf("update book: %w", err)
	}
	if !found {
		return domain.Book{}, ErrNotFound
	}
	if previousImage != "" && previousImage != updated.ImageName {
		a.discardBlob(ctx, previousImage)
	}
	return updated, nil
}

// DeleteBook removes the record and reclaims its cover blob.
func (a *App) DeleteBook(ctx context.Context, id, requesterID string) error {
	current, found, err := a.store.GetBook(id)
	if err != nil {
		return fmt.Errorf("get book: %w", err)
	}
	if !found {
		return ErrNotFound
	}
	if current.OwnerID != requesterID {
		return ErrForbidden
	}
	found, err = a.store.DeleteBook(id)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if !found {
		return ErrNotFound
	}
	a.discardBlob(ctx, current.ImageName)
	return nil
}

// RateBook records the user's grade. An existing grade for the same
// user is replaced, and the average is recomputed atomically by the
// store.
func (a *App) RateBook(_ context.Context, bookID, userID string, grade int) (domain.Book, error) {
	if !domain.ValidGrade(grade) {
		return domain.Book{}, ErrInvalidGrade
	}
	book, found, err := a.store.UpsertRating(bookID, userID, grade)
	if err != nil {
		return domain.Book{}, fmt.Errorf("upsert rating: %w", err)
	}
	if !found {
		return domain.Book{}, ErrNotFound
	}
	return book, nil
}

// OpenImage streams a stored cover blob.
func (a *App) OpenImage(ctx context.Context, name string) (io.ReadCloser, error) {
	return a.blobs.Open(ctx, name)
}

func (a *App) ingest(ctx context.Context, upload *Upload) (string, error) {
	img, err := images.Process(upload.Filename, upload.Reader)
	if err != nil {
		return "", fmt.Errorf("process image: %w", err)
	}
	if err := a.blobs.Save(ctx, img.Name, bytes.NewReader(img.Data), int64(len(img.Data)), img.ContentType); err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	return img.Name, nil
}

// discardBlob deletes superseded or orphaned blobs. Cleanup is
// best-effort: failures are logged, never surfaced to the caller.
func (a *App) discardBlob(ctx context.Context, name string) {
	if name == "" {
		return
	}
	if err := a.blobs.Delete(ctx, name); err != nil {
		util.LoggerFromContext(ctx).Warn("discard blob failed", "name", name, "err", err)
	}
}
