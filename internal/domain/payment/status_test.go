package payment

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		tx    string
		fraud string
		want  Status
	}{
		{"settlement", "", StatusPaid},
		{"settlement", "challenge", StatusPaid},
		{"capture", "accept", StatusPaid},
		{"capture", "challenge", StatusPending},
		{"capture", "deny", StatusPending},
		{"capture", "", StatusPending},
		{"cancel", "", StatusFailed},
		{"cancel", "accept", StatusFailed},
		{"deny", "deny", StatusFailed},
		{"expire", "", StatusFailed},
		{"pending", "", StatusPending},
		{"unknown_status", "accept", StatusPending},
		{"refund", "", StatusPending},
		{"", "", StatusPending},
		{" Settlement ", "", StatusPaid},
		{"CAPTURE", "ACCEPT", StatusPaid},
	}
	for _, tt := range tests {
		if got := Classify(tt.tx, tt.fraud); got != tt.want {
			t.Errorf("Classify(%q, %q) = %s, want %s", tt.tx, tt.fraud, got, tt.want)
		}
	}
}

func TestClassify_Deterministic(t *testing.T) {
	for _, tx := range []string{"capture", "settlement", "cancel", "deny", "expire", "pending", "weird"} {
		for _, fraud := range []string{"", "accept", "challenge", "deny"} {
			first := Classify(tx, fraud)
			for i := 0; i < 3; i++ {
				if got := Classify(tx, fraud); got != first {
					t.Fatalf("Classify(%q, %q) not stable: %s then %s", tx, fraud, first, got)
				}
			}
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	if StatusPending.Terminal() {
		t.Error("pending is not terminal")
	}
	if !StatusPaid.Terminal() || !StatusFailed.Terminal() {
		t.Error("paid and failed are terminal")
	}
}
