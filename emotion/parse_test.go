package emotion

import (
	"errors"
	"testing"
)

func TestParseClassifierOutput_RanksValidAnswer(t *testing.T) {
	t.Parallel()

	out := `{"sentiments":[{"sentiment":"paura","accuracy":0.4},{"sentiment":"gioia","accuracy":0.82}]}`
	r, err := ParseClassifierOutput(out)
	if err != nil {
		t.Fatalf("ParseClassifierOutput: %v", err)
	}
	if JoinLabels(r) != "gioia, paura" {
		t.Fatalf("ranking=%v", r)
	}
}

func TestParseClassifierOutput_DontKnowIsEmptyRanking(t *testing.T) {
	t.Parallel()

	for _, out := range []string{"idk", "  Non lo so.  "} {
		r, err := ParseClassifierOutput(out)
		if err != nil {
			t.Fatalf("%q: unexpected err: %v", out, err)
		}
		if r == nil || len(r) != 0 {
			t.Fatalf("%q: expected empty ranking, got %#v", out, r)
		}
	}
}

func TestParseClassifierOutput_MissingListIsEmpty(t *testing.T) {
	t.Parallel()

	r, err := ParseClassifierOutput(`{}`)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(r) != 0 {
		t.Fatalf("ranking=%v", r)
	}
}

func TestParseClassifierOutput_Malformed(t *testing.T) {
	t.Parallel()

	cases := []string{
		"",
		`{"sentiments": [`,
		`{"sentiments":[{"sentiment":"","accuracy":0.5}]}`,
		`{"sentiments":[{"sentiment":"gioia","accuracy":1.5}]}`,
		`{"sentiments":[{"sentiment":"gioia","accuracy":-0.1}]}`,
		`{"sentiments":"gioia"}`,
	}
	for _, out := range cases {
		_, err := ParseClassifierOutput(out)
		if err == nil {
			t.Fatalf("%q: expected error", out)
		}
		if !IsKind(err, MalformedResponse) {
			t.Fatalf("%q: err=%v, want MalformedResponse", out, err)
		}
	}
}

func TestClassifierError_Unwrap(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	err := error(Unavailablef(429, base))
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to match")
	}
	if !IsKind(err, Unavailable) || IsKind(err, MalformedResponse) {
		t.Fatalf("kind mismatch: %v", err)
	}
	if IsKind(base, Unavailable) {
		t.Fatalf("plain error must not match a kind")
	}
}
