package domain

import (
	"math"
	"time"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Rating is one user's grade for a book. A user has at most one
// rating per book.
type Rating struct {
	UserID string `json:"userId"`
	Grade  int    `json:"grade"`
}

type Book struct {
	ID      string `json:"id"`
	OwnerID string `json:"userId"`
	Title   string `json:"title"`
	Author  string `json:"author"`
	Year    int    `json:"year"`
	Genre   string `json:"genre"`
	// ImageName is the stored blob name, never a URL. Handlers rewrite
	// it into an absolute URL at serialization time.
	ImageName     string    `json:"imageUrl"`
	Ratings       []Rating  `json:"ratings"`
	AverageRating *float64  `json:"averageRating,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

const (
	MinGrade = 0
	MaxGrade = 5
)

// ValidGrade reports whether a grade is inside the allowed range.
func ValidGrade(grade int) bool {
	return grade >= MinGrade && grade <= MaxGrade
}

// AverageRating returns the mean of all grades rounded to one decimal,
// or nil when there are no ratings.
func AverageRating(ratings []Rating) *float64 {
	if len(ratings) == 0 {
		return nil
	}
	sum := 0
	for _, r := range ratings {
		sum += r.Grade
	}
	avg := math.Round(float64(sum)/float64(len(ratings))*10) / 10
	return &avg
}
