package oauthserver

import "testing"

func TestVerifyPKCE_RFC7636Example(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	if !verifyPKCE(verifier, challenge) {
		t.Fatalf("expected verifier to match RFC 7636 Appendix B challenge")
	}
}

func TestVerifyPKCE_RejectsWrongVerifier(t *testing.T) {
	if verifyPKCE("wrong-verifier", "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM") {
		t.Fatalf("expected mismatch to be rejected")
	}
}

func TestVerifyPKCE_RejectsEmpty(t *testing.T) {
	if verifyPKCE("", "") {
		t.Fatalf("empty verifier/challenge must never match")
	}
}

func TestGenerateToken_Entropy(t *testing.T) {
	a, err := generateToken(16)
	if err != nil {
		t.Fatalf("generateToken: %v", err)
	}
	b, err := generateToken(16)
	if err != nil {
		t.Fatalf("generateToken: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct tokens, got %q twice", a)
	}
	if len(a) < 20 {
		t.Fatalf("16-byte token encoded too short: %q", a)
	}
}
