package store

import (
	"time"

	"grimoire/pkg/domain"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type BookModel struct {
	ID            string `gorm:"primaryKey"`
	OwnerID       string `gorm:"not null;index"`
	Title         string `gorm:"not null"`
	Author        string
	Year          int
	Genre         string
	ImageName     string `gorm:"not null"`
	AverageRating *float64
	CreatedAt     time.Time `gorm:"not null;index"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// RatingModel rows are unique per (book, user) via the composite key,
// so the upsert path can never produce duplicates.
type RatingModel struct {
	BookID    string `gorm:"primaryKey"`
	UserID    string `gorm:"primaryKey"`
	Grade     int    `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:            b.ID,
		OwnerID:       b.OwnerID,
		Title:         b.Title,
		Author:        b.Author,
		Year:          b.Year,
		Genre:         b.Genre,
		ImageName:     b.ImageName,
		AverageRating: b.AverageRating,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func bookFromModel(m BookModel, ratings []RatingModel) domain.Book {
	rs := make([]domain.Rating, 0, len(ratings))
	for _, r := range ratings {
		rs = append(rs, domain.Rating{UserID: r.UserID, Grade: r.Grade})
	}
	return domain.Book{
		ID:            m.ID,
		OwnerID:       m.OwnerID,
		Title:         m.Title,
		Author:        m.Author,
		Year:          m.Year,
		Genre:         m.Genre,
		ImageName:     m.ImageName,
		Ratings:       rs,
		AverageRating: m.AverageRating,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}
