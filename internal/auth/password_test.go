package auth

import (
	"strings"
	"testing"
)

func TestHashVerify_RoundTrip(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("generate salt: %v", err)
	}

	hashed := Hash("Passw0rd!", salt)
	if !strings.HasPrefix(hashed, "$argon2id$") {
		t.Fatalf("unexpected hash format: %s", hashed)
	}
	if strings.Contains(hashed, "Passw0rd!") {
		t.Fatalf("hash leaks plaintext")
	}

	if !Verify(hashed, "Passw0rd!") {
		t.Fatalf("expected correct password to verify")
	}
	if Verify(hashed, "wrongpass") {
		t.Fatalf("expected wrong password to fail")
	}
}

func TestGenerateSalt_Unique(t *testing.T) {
	a, err := GenerateSalt()
	if err != nil {
		t.Fatalf("generate salt: %v", err)
	}
	b, err := GenerateSalt()
	if err != nil {
		t.Fatalf("generate salt: %v", err)
	}
	if string(a) == string(b) {
		t.Fatalf("expected distinct salts")
	}
	if Hash("Passw0rd!", a) == Hash("Passw0rd!", b) {
		t.Fatalf("same password with different salts must hash differently")
	}
}

func TestVerify_MalformedHash(t *testing.T) {
	cases := []string{
		"",
		"plaintext",
		"$argon2id$v=19$m=65536,t=1,p=4$notbase64!!$xxxx",
		"$bcrypt$whatever",
	}
	for _, c := range cases {
		if Verify(c, "Passw0rd!") {
			t.Fatalf("malformed hash %q must not verify", c)
		}
	}
}
