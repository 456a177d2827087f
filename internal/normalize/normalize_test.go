package normalize

import "testing"

func TestEmail(t *testing.T) {
	in := "  John.DOE@Example.COM  "
	want := "john.doe@example.com"
	got := Email(in)
	if got != want {
		t.Fatalf("Normalize.Email(%q) = %q, want %q", in, got, want)
	}
}

func TestPairIsUnordered(t *testing.T) {
	if Pair("alice@x.com", "Bob@x.com") != Pair("bob@x.com", "ALICE@x.com") {
		t.Fatal("expected pair key to ignore argument order and case")
	}
	if Pair("a@x.com", "b@x.com") == Pair("a@x.com", "c@x.com") {
		t.Fatal("expected distinct pairs to have distinct keys")
	}
	if Pair("a@x.com", "a@x.com") == "" {
		t.Fatal("self pair should still produce a key")
	}
}
