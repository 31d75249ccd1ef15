package domain

import "testing"

func TestAverageRating(t *testing.T) {
	tests := []struct {
		name   string
		grades []int
		want   float64
		unset  bool
	}{
		{name: "no ratings", grades: nil, unset: true},
		{name: "single grade", grades: []int{4}, want: 4.0},
		{name: "two grades", grades: []int{4, 2}, want: 3.0},
		{name: "rounds to one decimal", grades: []int{5, 4, 4}, want: 4.3},
		{name: "rounds half up", grades: []int{1, 2}, want: 1.5},
		{name: "all zeros", grades: []int{0, 0, 0}, want: 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ratings := make([]Rating, 0, len(tt.grades))
			for i, g := range tt.grades {
				ratings = append(ratings, Rating{UserID: string(rune('a' + i)), Grade: g})
			}
			got := AverageRating(ratings)
			if tt.unset {
				if got != nil {
					t.Fatalf("expected nil average for empty ratings, got %v", *got)
				}
				return
			}
			if got == nil {
				t.Fatalf("expected average %v, got nil", tt.want)
			}
			if *got != tt.want {
				t.Fatalf("expected average %v, got %v", tt.want, *got)
			}
		})
	}
}

func TestValidGrade(t *testing.T) {
	for _, grade := range []int{0, 1, 5} {
		if !ValidGrade(grade) {
			t.Fatalf("grade %d should be valid", grade)
		}
	}
	for _, grade := range []int{-1, 6, 100} {
		if ValidGrade(grade) {
			t.Fatalf("grade %d should be invalid", grade)
		}
	}
}
