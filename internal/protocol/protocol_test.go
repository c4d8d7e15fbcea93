package protocol

import (
	"encoding/json"
	"testing"
)

func TestWriteTerminalDataIsNumberArray(t *testing.T) {
	data, err := json.Marshal(WriteTerminal{ID: "t1", Data: Bytes("hi")})
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	want := `{"id":"t1","data":[104,105]}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}

func TestBytesUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"number array", `[108,115,10]`, "ls\n", false},
		{"base64 string", `"bHMK"`, "ls\n", false},
		{"empty array", `[]`, "", false},
		{"out of range", `[256]`, "", true},
		{"not an array", `{}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b Bytes
			err := json.Unmarshal([]byte(tt.input), &b)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && string(b) != tt.want {
				t.Errorf("got %q, want %q", b, tt.want)
			}
		})
	}
}

func TestParseFileSystemEvents(t *testing.T) {
	raw := `{"type":"FileSystemEvents","content":{"events":[
		{"Created":{"path":"/r/a.go","timestamp_ms":1,"metadata":{"size":3,"is_directory":false,"is_symlink":false,"readonly":false}}},
		{"Modified":{"path":"/r/b","timestamp_ms":2,"modification_type":"Name","new_metadata":{"size":0,"is_directory":true,"is_symlink":false,"readonly":false}}},
		{"Deleted":{"path":"/r/c","timestamp_ms":3}}
	]}}`

	env, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if env.Type != TypeFileSystemEvents {
		t.Fatalf("type = %q", env.Type)
	}
	var content FileSystemEvents
	if err := env.Decode(&content); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(content.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(content.Events))
	}
	if content.Events[0].Created == nil || content.Events[0].Created.Metadata.Size != 3 {
		t.Errorf("created event mismatch: %+v", content.Events[0])
	}
	if m := content.Events[1].Modified; m == nil || m.ModificationType != ModName || !m.NewMetadata.IsDirectory {
		t.Errorf("modified event mismatch: %+v", content.Events[1])
	}
	if content.Events[2].Deleted == nil || content.Events[2].Deleted.Path != "/r/c" {
		t.Errorf("deleted event mismatch: %+v", content.Events[2])
	}
}

func TestParseRejectsMissingType(t *testing.T) {
	if _, err := Parse([]byte(`{"content":{}}`)); err == nil {
		t.Fatal("expected error for frame without type")
	}
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid json")
	}
}

func TestNewEnvelopeWithoutContent(t *testing.T) {
	env, err := NewEnvelope(TypeCancelSearch, nil)
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	data, _ := json.Marshal(env)
	if string(data) != `{"type":"CancelSearch"}` {
		t.Errorf("got %s", data)
	}
}
