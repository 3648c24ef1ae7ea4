package ds

import "testing"

func TestKeyIncomplete(t *testing.T) {
	if !NewIncompleteKey("Model").Incomplete() {
		t.Error("incomplete key reported complete")
	}
	if NewKey("Model", 3).Incomplete() {
		t.Error("int key reported incomplete")
	}
	if NewNameKey("Model", "custom").Incomplete() {
		t.Error("name key reported incomplete")
	}
}

func TestKeyValidate(t *testing.T) {
	tests := []struct {
		name    string
		key     Key
		wantErr bool
	}{
		{"int key", NewKey("Model", 1), false},
		{"name key", NewNameKey("Model", "custom"), false},
		{"incomplete", NewIncompleteKey("Model"), false},
		{"no kind", Key{ID: 1}, true},
		{"both ids", Key{Kind: "Model", ID: 1, Name: "n"}, true},
		{"negative id", Key{Kind: "Model", ID: -4}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKeyEqual(t *testing.T) {
	if !NewKey("Model", 1).Equal(NewKey("Model", 1)) {
		t.Error("identical keys not equal")
	}
	if NewKey("Model", 1).Equal(NewKey("Other", 1)) {
		t.Error("different kinds reported equal")
	}
	if NewKey("Model", 1).Equal(NewNameKey("Model", "1")) {
		t.Error("int and name keys reported equal")
	}
}
