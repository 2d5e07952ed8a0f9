package feed

import (
	"fmt"
	"strings"
	"time"

	"courier_grid/internal/domain"
)

// Header is the column layout of the task log.
var Header = []string{"ID", "Timestamp", "CargoCategory", "Origin", "Destination", "Status"}

const timestampLayout = time.RFC3339Nano

func EncodeRecord(t domain.Task) []string {
	return []string{
		t.ID,
		t.CreatedAt.UTC().Format(timestampLayout),
		t.Cargo,
		t.Origin,
		t.Destination.Label,
		string(t.Status),
	}
}

// DecodeRecord parses one log row. Any unparseable field yields ErrMalformedRecord.
func DecodeRecord(row []string) (domain.Task, error) {
	if len(row) != len(Header) {
		return domain.Task{}, fmt.Errorf("%w: %d fields, want %d", domain.ErrMalformedRecord, len(row), len(Header))
	}
	id := strings.TrimSpace(row[0])
	if id == "" {
		return domain.Task{}, fmt.Errorf("%w: empty id", domain.ErrMalformedRecord)
	}
	created, err := time.Parse(timestampLayout, strings.TrimSpace(row[1]))
	if err != nil {
		return domain.Task{}, fmt.Errorf("%w: timestamp %q", domain.ErrMalformedRecord, row[1])
	}
	origin := strings.TrimSpace(row[3])
	if _, err := domain.ParseDestination(origin); err != nil {
		return domain.Task{}, fmt.Errorf("origin: %w", err)
	}
	dest, err := domain.ParseDestination(row[4])
	if err != nil {
		return domain.Task{}, err
	}
	status, err := domain.ParseTaskStatus(row[5])
	if err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		ID:          id,
		CreatedAt:   created,
		Cargo:       strings.TrimSpace(row[2]),
		Origin:      origin,
		Destination: dest,
		Status:      status,
	}, nil
}

// IsHeader reports whether row is the header line.
func IsHeader(row []string) bool {
	return len(row) > 0 && strings.TrimSpace(row[0]) == Header[0]
}
