package payment

import (
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
)

var orderIDPattern = regexp.MustCompile(`^(RX|CONS)-\d{8}-[0-9a-f]{8}$`)

func TestNewOrderID_Format(t *testing.T) {
	now := time.UnixMilli(1760000123456)
	id := uuid.MustParse("7f1c2a9e-4b3d-4c1a-9e2f-0123456789ab")

	got := NewOrderID(EntityPrescription, id, now)
	if got != "RX-00123456-7f1c2a9e" {
		t.Fatalf("unexpected order id %q", got)
	}

	got = NewOrderID(EntityConsultation, id, now)
	if got != "CONS-00123456-7f1c2a9e" {
		t.Fatalf("unexpected order id %q", got)
	}
	if !orderIDPattern.MatchString(got) {
		t.Fatalf("order id %q does not match expected shape", got)
	}
	if len(got) > MaxFieldLength {
		t.Fatalf("order id exceeds %d chars", MaxFieldLength)
	}
}

func TestNewOrderID_DistinctWithinSameMillisecond(t *testing.T) {
	now := time.Now()
	a := NewOrderID(EntityPrescription, uuid.MustParse("11111111-0000-4000-8000-000000000000"), now)
	b := NewOrderID(EntityPrescription, uuid.MustParse("22222222-0000-4000-8000-000000000000"), now)
	if a == b {
		t.Fatalf("expected distinct order ids, both %q", a)
	}
}

func TestNewOrderID_RandomEntitiesDistinct(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		id := NewOrderID(EntityConsultation, uuid.New(), now)
		if seen[id] {
			t.Fatalf("collision on %q", id)
		}
		seen[id] = true
	}
}

func TestEntityTypeFromOrderID(t *testing.T) {
	tests := []struct {
		in     string
		want   EntityType
		wantOK bool
	}{
		{"RX-00123456-7f1c2a9e", EntityPrescription, true},
		{"CONS-00123456-7f1c2a9e", EntityConsultation, true},
		{"INV-1", "", false},
		{"RX", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := EntityTypeFromOrderID(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("EntityTypeFromOrderID(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
