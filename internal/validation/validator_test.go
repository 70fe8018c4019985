package validation

import "testing"

func TestValidateSubmission(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	valid := []string{
		`{"text": "a script to narrate"}`,
		`{"url": "https://example.com/article"}`,
		`{"file_ref": "uploads/doc.pdf"}`,
		`{"text": "t", "url": "https://example.com", "file_ref": "f", "target_language": "en", "voice_type": "achernar"}`,
	}
	for _, body := range valid {
		if err := v.ValidateSubmission([]byte(body)); err != nil {
			t.Errorf("%s: unexpected error: %v", body, err)
		}
	}

	invalid := []string{
		`{}`,
		`{"target_language": "en"}`,
		`{"text": ""}`,
		`{"text": 42}`,
		`{"text": "t", "unexpected": true}`,
		`not json`,
	}
	for _, body := range invalid {
		if err := v.ValidateSubmission([]byte(body)); err == nil {
			t.Errorf("%s: expected error", body)
		}
	}
}
