package bridge

import (
	"testing"
	"time"
)

func TestDecodeMessageKinds(t *testing.T) {
	tests := []struct {
		name string
		in   SwarmMessage
		want Message
	}{
		{
			name: "text",
			in: SwarmMessage{ID: "m1", Type: "text/plain", Body: map[string]string{
				"author": "alice", "timestamp": "1700000000", "body": "hello",
			}},
			want: Message{ID: "m1", Kind: MessageText, Author: "alice", Timestamp: time.Unix(1700000000, 0), Body: "hello"},
		},
		{
			name: "transfer",
			in: SwarmMessage{ID: "m2", Type: "application/data-transfer+json", Body: map[string]string{
				"author": "bob", "fileId": "f1", "displayName": "a.png", "totalSize": "2048",
			}},
			want: Message{ID: "m2", Kind: MessageTransfer, Author: "bob", FileID: "f1", FileName: "a.png", TotalSize: 2048},
		},
		{
			name: "member ban",
			in: SwarmMessage{ID: "m3", Type: "member", Body: map[string]string{
				"author": "admin", "action": "ban", "uri": "carol",
			}},
			want: Message{ID: "m3", Kind: MessageMember, Author: "admin", Action: MemberBan, MemberURI: "carol"},
		},
		{
			name: "call",
			in: SwarmMessage{ID: "m4", Type: "application/call-history+json", Body: map[string]string{
				"author": "dave", "duration": "1500",
			}},
			want: Message{ID: "m4", Kind: MessageCall, Author: "dave", Duration: 1500 * time.Millisecond},
		},
		{
			name: "id from body",
			in:   SwarmMessage{Body: map[string]string{"id": "m5", "type": "merge"}},
			want: Message{ID: "m5", Kind: MessageOther},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeMessage(tt.in)
			if got.ID != tt.want.ID || got.Kind != tt.want.Kind || got.Author != tt.want.Author ||
				got.Body != tt.want.Body || got.FileID != tt.want.FileID || got.FileName != tt.want.FileName ||
				got.TotalSize != tt.want.TotalSize || got.Action != tt.want.Action ||
				got.MemberURI != tt.want.MemberURI || got.Duration != tt.want.Duration ||
				!got.Timestamp.Equal(tt.want.Timestamp) {
				t.Errorf("DecodeMessage = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeModeDefaults(t *testing.T) {
	if m := DecodeMode(map[string]string{"mode": "0"}); m != ModeOneToOne {
		t.Errorf("mode 0 = %v", m)
	}
	if m := DecodeMode(map[string]string{"syncing": "true"}); m != ModeSyncing {
		t.Errorf("syncing = %v", m)
	}
	if m := DecodeMode(map[string]string{"mode": "42"}); m != ModeInvitesOnly {
		t.Errorf("bogus = %v", m)
	}
	if ParseMode(ModePublic.String()) != ModePublic {
		t.Error("ParseMode round trip failed")
	}
}

func TestDecodeAccountPrefersVolatileState(t *testing.T) {
	info := DecodeAccount("a1",
		map[string]string{KeyAlias: "x", KeyEnabled: "true", KeyManagerURI: "https://m", KeyRegistrationStatus: "TRYING"},
		map[string]string{KeyRegistrationStatus: "REGISTERED"},
		nil)
	if info.RegistrationState != "REGISTERED" || !info.HasManager || !info.Enabled || info.Devices == nil {
		t.Errorf("info = %+v", info)
	}
}
