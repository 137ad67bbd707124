package conversation

import "testing"

func TestAdvanceSequences(t *testing.T) {
	tests := []struct {
		name string
		seq  []Status
		want Status
	}{
		{"in order", []Status{StatusSending, StatusSent, StatusDisplayed}, StatusDisplayed},
		{"late sent after displayed", []Status{StatusSent, StatusSending, StatusDisplayed, StatusSent}, StatusDisplayed},
		{"duplicates", []Status{StatusSending, StatusSending, StatusSent, StatusSent}, StatusSent},
		{"failure while sending", []Status{StatusSending, StatusFailed}, StatusFailed},
		{"failure after sent ignored", []Status{StatusSending, StatusSent, StatusFailed}, StatusSent},
		{"nothing after failed", []Status{StatusSending, StatusFailed, StatusDisplayed}, StatusFailed},
		{"transfer", []Status{StatusTransferCreated, StatusTransferAwaitingHost, StatusTransferOngoing, StatusTransferFinished}, StatusTransferFinished},
		{"transfer late ongoing", []Status{StatusTransferCreated, StatusTransferFinished, StatusTransferOngoing}, StatusTransferFinished},
		{"transfer canceled", []Status{StatusTransferAwaitingHost, StatusTransferCanceled, StatusTransferFinished}, StatusTransferCanceled},
		{"families do not mix", []Status{StatusSent, StatusTransferOngoing}, StatusSent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cur := StatusUnknown
			for _, s := range tt.seq {
				cur, _ = advance(cur, s)
			}
			if cur != tt.want {
				t.Fatalf("got %v, want %v", cur, tt.want)
			}
		})
	}
}

func TestParseStatusRoundTrip(t *testing.T) {
	for s := StatusUnknown; s <= StatusTransferTimeout; s++ {
		if got := ParseStatus(s.String()); got != s {
			t.Errorf("ParseStatus(%q) = %v", s.String(), got)
		}
	}
	if got := ParseStatus("bogus"); got != StatusUnknown {
		t.Errorf("ParseStatus(bogus) = %v", got)
	}
}
