package policy

import "testing"

func TestValidateURLRejectsNonHTTPS(t *testing.T) {
	p, _ := NewHostPolicy(nil)
	if _, err := p.ValidateURL("http://example.com/x.bin"); err == nil {
		t.Fatal("expected rejection of non-https URL")
	}
}

func TestValidateURLEnforcesAllowlist(t *testing.T) {
	p, err := NewHostPolicy([]string{"good.example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.ValidateURL("https://good.example.com/x.bin"); err != nil {
		t.Fatalf("expected allow-listed host to pass, got %v", err)
	}
	if _, err := p.ValidateURL("https://bad.example.com/x.bin"); err == nil {
		t.Fatal("expected non-allow-listed host to be rejected")
	}
}

func TestEmptyAllowlistAllowsAnyHTTPS(t *testing.T) {
	p, _ := NewHostPolicy(nil)
	if _, err := p.ValidateURL("https://anything.example/x.bin"); err != nil {
		t.Fatalf("expected unconfigured allowlist to permit any https host, got %v", err)
	}
}

func TestAllowsHostForRedirects(t *testing.T) {
	p, _ := NewHostPolicy([]string{"cdn.example.com"})
	if !p.AllowsHost("cdn.example.com") {
		t.Fatal("expected configured host to be allowed")
	}
	if p.AllowsHost("evil.example.com") {
		t.Fatal("expected non-configured host to be disallowed")
	}
}
