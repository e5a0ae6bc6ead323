package validator

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		minLength int
		want      Quality
	}{
		{"empty string", "", 10, QualityEmpty},
		{"whitespace only", "   ", 10, QualityWhitespaceOnly},
		{"tabs and newlines", "\t\n  \n", 10, QualityWhitespaceOnly},
		{"too short", "hi", 10, QualityTooShort},
		{"short after trim", "   hello  ", 10, QualityTooShort},
		{"refusal cannot", "I cannot help with that", 10, QualityErrorIndicator},
		{"refusal sorry", "Sorry, I can't assist with this request", 10, QualityErrorIndicator},
		{"refusal apologize", "I apologize, but I am not able to do this", 10, QualityErrorIndicator},
		{"refusal im sorry", "I'm sorry, but I won't produce that", 10, QualityErrorIndicator},
		{"as an ai", "As an AI, I don't have opinions on this topic", 10, QualityErrorIndicator},
		{"language model", "As a language model I have no access to that", 10, QualityErrorIndicator},
		{"error prefix", "Error: upstream returned status 500", 10, QualityErrorIndicator},
		{"bracketed error", "[ERROR] generation aborted midway", 10, QualityErrorIndicator},
		{"exception prefix", "Exception: invalid sampling parameters", 10, QualityErrorIndicator},
		{"truncated marker", "[truncated] the rest of the story", 10, QualityErrorIndicator},
		{"content blocked", "[content blocked] see policy", 10, QualityErrorIndicator},
		{"valid answer", "Here is your answer.", 10, QualityValid},
		{"valid with cannot inside", "The function cannot be inlined here, use a closure instead.", 10, QualityValid},
		{"valid mentioning ai", "Modern AI systems rely on transformer architectures.", 10, QualityValid},
		{"ellipsis passes length gate", "...", 3, QualityErrorIndicator},
		{"zero min length uses default", "short", 0, QualityTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Validate(tt.text, tt.minLength)
			if got.Quality != tt.want {
				t.Errorf("Validate(%q, %d).Quality = %s, want %s (reason: %s)",
					tt.text, tt.minLength, got.Quality, tt.want, got.Reason)
			}
			if got.Valid != (tt.want == QualityValid) {
				t.Errorf("Validate(%q).Valid = %v for quality %s", tt.text, got.Valid, got.Quality)
			}
			if !got.Valid && got.Reason == "" {
				t.Error("invalid result must carry a reason")
			}
		})
	}
}

func TestValidate_LongValidResponse(t *testing.T) {
	text := strings.Repeat("All work and no play makes a dull agent. ", 20)
	got := Validate(text, DefaultMinLength)
	if !got.Valid {
		t.Fatalf("long prose rejected: %s (%s)", got.Quality, got.Reason)
	}
}

func TestQuality_Retryable(t *testing.T) {
	tests := []struct {
		quality Quality
		want    bool
	}{
		{QualityEmpty, true},
		{QualityWhitespaceOnly, true},
		{QualityTooShort, true},
		{QualityErrorIndicator, false},
		{QualityValid, false},
	}
	for _, tt := range tests {
		if got := tt.quality.Retryable(); got != tt.want {
			t.Errorf("%s.Retryable() = %v, want %v", tt.quality, got, tt.want)
		}
	}
}

func TestResult_Err(t *testing.T) {
	if err := Validate("Here is your answer.", 10).Err(); err != nil {
		t.Fatalf("valid result produced error: %v", err)
	}

	err := Validate("", 10).Err()
	if err == nil {
		t.Fatal("invalid result produced nil error")
	}
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("got %T, want *Error", err)
	}
	if verr.Quality != QualityEmpty {
		t.Errorf("error quality = %s, want %s", verr.Quality, QualityEmpty)
	}
}
