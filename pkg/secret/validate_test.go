package secret

import "testing"

func TestValidate(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		wantValid    bool
		wantStrength string
	}{
		{name: "too short", key: "short", wantValid: false, wantStrength: "weak"},
		{name: "all digits", key: "12345678901234567890123456789012", wantValid: false, wantStrength: "weak"},
		{name: "all letters", key: "abcdefghijklmnopqrstuvwxyzabcdef", wantValid: false, wantStrength: "weak"},
		{name: "long repeated run", key: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", wantValid: false, wantStrength: "weak"},
		{name: "moderate mixed 32 chars", key: "a1b2c3d4e5f6g7h8i9j0k1l2m3n4o5p6", wantValid: true, wantStrength: "moderate"},
		{name: "strong mixed 64 chars", key: "a1b2c3d4e5f6g7h8i9j0k1l2m3n4o5p6q7r8s9t0u1v2w3x4y5z6A1B2C3D4E5F6", wantValid: true, wantStrength: "strong"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Validate(tt.key)
			if got.Valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v (errors: %v)", got.Valid, tt.wantValid, got.Errors)
			}
			if got.Strength != tt.wantStrength {
				t.Errorf("Strength = %q, want %q", got.Strength, tt.wantStrength)
			}
		})
	}
}

func TestValidate_ModerateWarnsAboutLength(t *testing.T) {
	got := Validate("a1b2c3d4e5f6g7h8i9j0k1l2m3n4o5p6")
	if len(got.Warnings) == 0 {
		t.Error("expected a warning recommending a longer secret")
	}
}
