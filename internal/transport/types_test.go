package transport

import "testing"

func TestParseTarget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		key     string
		want    ChatTarget
		wantErr bool
	}{
		{name: "chat only", key: "-1001234", want: ChatTarget{ChatID: -1001234}},
		{name: "chat with thread", key: "-1001234:77", want: ChatTarget{ChatID: -1001234, ThreadID: 77}},
		{name: "whitespace", key: "  42 ", want: ChatTarget{ChatID: 42}},
		{name: "empty", key: "", wantErr: true},
		{name: "non numeric", key: "group-name", wantErr: true},
		{name: "bad thread", key: "42:abc", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTarget(tt.key)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseTarget(%q) expected error", tt.key)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTarget(%q) error: %v", tt.key, err)
			}
			if got != tt.want {
				t.Fatalf("ParseTarget(%q) = %+v, want %+v", tt.key, got, tt.want)
			}
		})
	}
}

func TestChatTargetString(t *testing.T) {
	t.Parallel()
	if got := (ChatTarget{ChatID: -100}).String(); got != "-100" {
		t.Fatalf("String() = %q", got)
	}
	if got := (ChatTarget{ChatID: -100, ThreadID: 5}).String(); got != "-100:5" {
		t.Fatalf("String() = %q", got)
	}
}
