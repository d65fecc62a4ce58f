package crypto

import "testing"

func TestPassword_VerifyCorrect(t *testing.T) {
	encoded, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	ok, err := VerifyPassword("correct horse battery staple", encoded)
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if !ok {
		t.Error("expected correct password to verify")
	}
}

func TestPassword_VerifyWrongPassword(t *testing.T) {
	encoded, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	ok, err := VerifyPassword("wrong password", encoded)
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if ok {
		t.Error("expected wrong password not to verify")
	}
}

func TestPassword_DistinctSaltsPerHash(t *testing.T) {
	a, err := HashPassword("same password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	b, err := HashPassword("same password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if a == b {
		t.Error("expected two hashes of the same password to differ (random salt)")
	}
}

func TestPassword_MalformedEncoding(t *testing.T) {
	if _, err := VerifyPassword("anything", "not-a-valid-encoding"); err == nil {
		t.Error("expected an error for a malformed encoded hash")
	}
}
