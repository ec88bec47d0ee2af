package clock

import (
	"testing"
	"time"
)

func TestTimeAt(t *testing.T) {
	start := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	c := New(start, 3) // 3 story minutes per tick

	tests := []struct {
		name string
		tick int64
		want time.Time
	}{
		{"tick zero is start", 0, start},
		{"one tick", 1, start.Add(3 * time.Minute)},
		{"twenty ticks is an hour", 20, start.Add(time.Hour)},
		{"crosses midnight", 220, start.Add(11 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.TimeAt(tt.tick); !got.Equal(tt.want) {
				t.Errorf("TimeAt(%d) = %v, want %v", tt.tick, got, tt.want)
			}
		})
	}
}

func TestHourOfDay(t *testing.T) {
	start := time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC)
	c := New(start, 15)

	c.SetTick(0)
	if got := c.HourOfDay(); got != 23 {
		t.Errorf("hour at tick 0 = %d, want 23", got)
	}
	c.SetTick(2) // +30 story minutes, wraps to next day
	if got := c.HourOfDay(); got != 0 {
		t.Errorf("hour at tick 2 = %d, want 0", got)
	}
}

func TestFractionalScale(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	c := New(start, 0.5)
	if got := c.TimeAt(3); !got.Equal(start.Add(90 * time.Second)) {
		t.Errorf("TimeAt(3) = %v, want +90s", got)
	}
}
