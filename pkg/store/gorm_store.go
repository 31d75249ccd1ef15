package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"grimoire/pkg/domain"
)

const migrateLockID int64 = 48719371

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an
// advisory lock so concurrent replicas do not race on schema changes.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &BookModel{}, &RatingModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM rating_models r
				WHERE NOT EXISTS (SELECT 1 FROM book_models b WHERE b.id = r.book_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'rating_models'
					AND constraint_name = 'rating_models_book_id_fkey'
				) THEN
					ALTER TABLE rating_models
					ADD CONSTRAINT rating_models_book_id_fkey
					FOREIGN KEY (book_id) REFERENCES book_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure rating foreign key: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateUser registers a user. The unique index on email backstops the
// duplicate pre-check in the application layer.
func (s *GormStore) CreateUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// CreateBook stores a new book.
func (s *GormStore) CreateBook(b domain.Book) error {
	model := bookToModel(b)
	return s.db.Create(&model).Error
}

// GetBook retrieves a book with its ratings.
func (s *GormStore) GetBook(id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	ratings, err := s.bookRatings(s.db, id)
	if err != nil {
		return domain.Book{}, false, err
	}
	return bookFromModel(model, ratings), true, nil
}

// ListBooks returns all books in insertion order.
func (s *GormStore) ListBooks() ([]domain.Book, error) {
	return s.listBooks(s.db.Order("created_at ASC"))
}

// TopRated returns up to n books by average rating descending.
// created_at makes the sort stable so ties keep insertion order.
func (s *GormStore) TopRated(n int) ([]domain.Book, error) {
	if n <= 0 {
		return []domain.Book{}, nil
	}
	return s.listBooks(s.db.Order("average_rating DESC NULLS LAST").Order("created_at ASC").Limit(n))
}

func (s *GormStore) listBooks(tx *gorm.DB) ([]domain.Book, error) {
	var models []BookModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return []domain.Book{}, nil
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	var ratings []RatingModel
	if err := s.db.Where("book_id IN ?", ids).Order("created_at ASC").Find(&ratings).Error; err != nil {
		return nil, err
	}
	byBook := make(map[string][]RatingModel, len(models))
	for _, r := range ratings {
		byBook[r.BookID] = append(byBook[r.BookID], r)
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m, byBook[m.ID]))
	}
	return res, nil
}

// UpdateBook applies a partial update and returns the fresh record.
func (s *GormStore) UpdateBook(id string, update BookUpdate) (domain.Book, bool, error) {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if update.Title != nil {
		updates["title"] = *update.Title
	}
	if update.Author != nil {
		updates["author"] = *update.Author
	}
	if update.Year != nil {
		updates["year"] = *update.Year
	}
	if update.Genre != nil {
		updates["genre"] = *update.Genre
	}
	if update.ImageName != nil {
		updates["image_name"] = *update.ImageName
	}
	res := s.db.Model(&BookModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return domain.Book{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Book{}, false, nil
	}
	return s.GetBook(id)
}

// DeleteBook removes the book; rating rows go with it via FK cascade.
func (s *GormStore) DeleteBook(id string) (bool, error) {
	res := s.db.Delete(&BookModel{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpsertRating upserts the user's grade and recomputes the average in
// one transaction. The book row is locked FOR UPDATE so concurrent
// ratings for the same book serialize instead of racing.
func (s *GormStore) UpsertRating(bookID, userID string, grade int) (domain.Book, bool, error) {
	var result domain.Book
	found := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var book BookModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&book, "id = ?", bookID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		found = true
		now := time.Now().UTC()
		rating := RatingModel{BookID: bookID, UserID: userID, Grade: grade, CreatedAt: now, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "book_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"grade", "updated_at"}),
		}).Create(&rating).Error; err != nil {
			return err
		}
		ratings, err := s.bookRatings(tx, bookID)
		if err != nil {
			return err
		}
		book.AverageRating = domain.AverageRating(ratingsFromModels(ratings))
		book.UpdatedAt = now
		if err := tx.Model(&BookModel{}).Where("id = ?", bookID).Updates(map[string]any{
			"average_rating": book.AverageRating,
			"updated_at":     now,
		}).Error; err != nil {
			return err
		}
		result = bookFromModel(book, ratings)
		return nil
	})
	if err != nil {
		return domain.Book{}, false, err
	}
	return result, found, nil
}

func (s *GormStore) bookRatings(tx *gorm.DB, bookID string) ([]RatingModel, error) {
	var ratings []RatingModel
	if err := tx.Where("book_id = ?", bookID).Order("created_at ASC").Find(&ratings).Error; err != nil {
		return nil, err
	}
	return ratings, nil
}

func ratingsFromModels(models []RatingModel) []domain.Rating {
	out := make([]domain.Rating, 0, len(models))
	for _, m := range models {
		out = append(out, domain.Rating{UserID: m.UserID, Grade: m.Grade})
	}
	return out
}
