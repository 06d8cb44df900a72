package collection

import (
	"slices"
	"testing"
)

func TestQueue_PushPop(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values []string
	}{
		{
			name:   "single value",
			values: []string{"first"},
		},
		{
			name:   "multiple values keep order",
			values: []string{"first", "second", "third"},
		},
		{
			name:   "empty string",
			values: []string{""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			q := NewQueue[string]()
			for _, v := range tt.values {
				q.Push(v)
			}

			if q.Len() != len(tt.values) {
				t.Fatalf("Len() = %d, want %d", q.Len(), len(tt.values))
			}

			for _, want := range tt.values {
				got, ok := q.Pop()
				if !ok {
					t.Fatalf("Pop() returned ok=false, want %q", want)
				}
				if got != want {
					t.Errorf("Pop() = %q, want %q", got, want)
				}
			}

			if _, ok := q.Pop(); ok {
				t.Error("Pop() on empty queue returned ok=true")
			}
		})
	}
}

func TestQueue_Drain(t *testing.T) {
	t.Parallel()

	t.Run("visits elements pushed while draining", func(t *testing.T) {
		t.Parallel()

		q := NewQueue(1)
		var got []int
		q.Drain(func(v int) bool {
			got = append(got, v)
			if v < 4 {
				q.Push(v + 1)
			}
			return true
		})

		if want := []int{1, 2, 3, 4}; !slices.Equal(got, want) {
			t.Errorf("Drain visited %v, want %v", got, want)
		}
		if q.Len() != 0 {
			t.Errorf("Len() = %d after drain, want 0", q.Len())
		}
	})

	t.Run("stops when yield returns false", func(t *testing.T) {
		t.Parallel()

		q := NewQueue(1, 2, 3)
		var got []int
		q.Drain(func(v int) bool {
			got = append(got, v)
			return v != 2
		})

		if want := []int{1, 2}; !slices.Equal(got, want) {
			t.Errorf("Drain visited %v, want %v", got, want)
		}
		if q.Len() != 1 {
			t.Errorf("Len() = %d, want 1", q.Len())
		}
	})
}

func TestOrderedSet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{
			name:  "keeps insertion order",
			input: []string{"b", "a", "c"},
			want:  []string{"b", "a", "c"},
		},
		{
			name:  "drops duplicates",
			input: []string{"a", "b", "a", "b"},
			want:  []string{"a", "b"},
		},
		{
			name:  "empty",
			input: nil,
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := NewOrderedSet(tt.input...)
			got := s.Items()
			if len(got) != len(tt.want) || (len(got) > 0 && !slices.Equal(got, tt.want)) {
				t.Errorf("Items() = %v, want %v", got, tt.want)
			}
			for _, v := range tt.want {
				if !s.Has(v) {
					t.Errorf("Has(%q) = false", v)
				}
			}
			if s.Has("missing") {
				t.Error(`Has("missing") = true`)
			}
		})
	}
}
