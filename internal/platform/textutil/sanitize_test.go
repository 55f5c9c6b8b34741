package textutil

import "testing"

func TestSanitizePlainText(t *testing.T) {
	got := SanitizePlainText("  <b>Window</b> seat <script>alert(1)</script> ")
	if got != "Window seat" {
		t.Fatalf("unexpected sanitised text %q", got)
	}
	if got := SanitizePlainText("Tom & Jerry"); got != "Tom & Jerry" {
		t.Fatalf("expected ampersand to survive, got %q", got)
	}
}

func TestSanitizeOptional(t *testing.T) {
	if SanitizeOptional(nil) != nil {
		t.Fatalf("expected nil for nil input")
	}
	blank := "<i></i>  "
	if SanitizeOptional(&blank) != nil {
		t.Fatalf("expected nil for markup-only input")
	}
	note := "vegetarian meal"
	if got := SanitizeOptional(&note); got == nil || *got != note {
		t.Fatalf("unexpected result %v", got)
	}
}
