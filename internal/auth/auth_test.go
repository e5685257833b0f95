package auth

import (
	"strings"
	"testing"
)

// testCost keeps scrypt fast in tests.
const testCost = 4

func TestHashAndVerify(t *testing.T) {
	h, err := HashPassword("P@ssw0rd!", testCost)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(h, "$7$4$") {
		t.Fatalf("unexpected hash %q", h)
	}

	ok, err := VerifyPassword(h, "P@ssw0rd!")
	if err != nil || !ok {
		t.Fatalf("correct password: %v %v", ok, err)
	}
	ok, err = VerifyPassword(h, "wrong")
	if err != nil || ok {
		t.Fatalf("wrong password: %v %v", ok, err)
	}

	h2, err := HashPassword("P@ssw0rd!", testCost)
	if err != nil {
		t.Fatal(err)
	}
	if h == h2 {
		t.Fatal("salt not random")
	}
}

func TestHashWithSaltIsDeterministic(t *testing.T) {
	salt := []byte("testsalt12345678")
	a, err := hashWithSalt("pw", salt, testCost)
	if err != nil {
		t.Fatal(err)
	}
	b, err := hashWithSalt("pw", salt, testCost)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("%q != %q", a, b)
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	for _, h := range []string{
		"not-a-valid-hash",
		"$7$x$c2FsdA==$aGFzaA==",
		"$6$4$c2FsdA==$aGFzaA==",
		"$7$4$!!$aGFzaA==",
		"$7$4$c2FsdA==$",
		"$7$0$c2FsdA==$aGFzaA==",
		"$7$21$c2FsdA==$aGFzaA==",
		"$7$30$c2FsdA==$aGFzaA==",
	} {
		if _, err := VerifyPassword(h, "password"); err == nil {
			t.Errorf("VerifyPassword(%q) succeeded", h)
		}
	}
}

func TestStore(t *testing.T) {
	h, err := HashPassword("secret", testCost)
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewStore("alice:" + h)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 1 {
		t.Fatalf("len %d", s.Len())
	}

	tests := []struct {
		user, pass string
		want       bool
	}{
		{"alice", "secret", true},
		{"alice", "Secret", false},
		{"bob", "secret", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := s.Authenticate(tt.user, tt.pass); got != tt.want {
			t.Errorf("Authenticate(%q, %q) = %v", tt.user, tt.pass, got)
		}
	}

	for _, entry := range []string{"alice", ":" + h, "bob:plain", "carol:$7$25$c2FsdA==$aGFzaA=="} {
		if err := s.Add(entry); err == nil {
			t.Errorf("Add(%q) succeeded", entry)
		}
	}
}

func TestStoreRejectsExpensiveHashes(t *testing.T) {
	if _, err := NewStore("alice:$7$28$c2FsdA==$aGFzaA=="); err == nil {
		t.Fatal("NewStore accepted a cost above MaxCost")
	}
	if _, err := HashPassword("pw", MaxCost+1); err == nil {
		t.Fatal("HashPassword accepted a cost above MaxCost")
	}
}

// TestStoreUnknownUserCost checks that unknown users are verified against a
// hash as expensive as the costliest real one.
func TestStoreUnknownUserCost(t *testing.T) {
	empty, err := NewStore()
	if err != nil {
		t.Fatal(err)
	}
	if empty.Authenticate("nobody", "") {
		t.Fatal("empty store authenticated")
	}

	s := &Store{users: map[string]hash{}}
	for _, tt := range []struct {
		name string
		cost int
	}{{"alice", testCost + 1}, {"bob", testCost}} {
		h, err := HashPassword("secret", tt.cost)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Add(tt.name + ":" + h); err != nil {
			t.Fatal(err)
		}
	}
	if s.dummy.cost != testCost+1 {
		t.Fatalf("dummy cost %d, want %d", s.dummy.cost, testCost+1)
	}
	if _, err := deriveKey("secret", s.dummy.salt, s.dummy.cost); err != nil {
		t.Fatalf("dummy hash is not verifiable: %v", err)
	}
	if s.Authenticate("carol", "secret") {
		t.Fatal("unknown user authenticated")
	}
}
