package feed

import (
	"errors"
	"testing"
	"time"

	"courier_grid/internal/domain"
)

func TestRecordRoundTrip(t *testing.T) {
	task := domain.Task{
		ID:          "T0001",
		CreatedAt:   time.Date(2026, 3, 4, 5, 6, 7, 890, time.UTC),
		Cargo:       "blood",
		Origin:      "H1",
		Destination: domain.Remote("R3"),
		Status:      domain.TaskStatusInProgress,
	}
	got, err := DecodeRecord(EncodeRecord(task))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != task.ID || !got.CreatedAt.Equal(task.CreatedAt) || got.Destination != task.Destination || got.Status != task.Status {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, task)
	}
}

func TestDecodeRejectsMalformedFields(t *testing.T) {
	good := []string{"T0002", "2026-01-01T00:00:00Z", "organs", "H1", "H2", "Pending"}
	tests := []struct {
		name  string
		index int
		value string
	}{
		{"empty id", 0, ""},
		{"bad timestamp", 1, "yesterday"},
		{"bad origin", 3, "X"},
		{"bad destination", 4, "Z9"},
		{"bad status", 5, "Lost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := append([]string(nil), good...)
			row[tt.index] = tt.value
			if _, err := DecodeRecord(row); !errors.Is(err, domain.ErrMalformedRecord) {
				t.Fatalf("err=%v want ErrMalformedRecord", err)
			}
		})
	}
	if _, err := DecodeRecord(good[:4]); !errors.Is(err, domain.ErrMalformedRecord) {
		t.Fatalf("short row err=%v", err)
	}
	if _, err := DecodeRecord(good); err != nil {
		t.Fatalf("good row: %v", err)
	}
}
