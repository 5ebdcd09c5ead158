package canonicalize

import "testing"

func TestCanonicalSortsKeys(t *testing.T) {
	a := map[string]interface{}{"b": 1, "a": 2}
	b := map[string]interface{}{"a": 2, "b": 1}

	sa, err := String(a)
	if err != nil {
		t.Fatalf("canonical(a): %v", err)
	}
	sb, err := String(b)
	if err != nil {
		t.Fatalf("canonical(b): %v", err)
	}
	if sa != sb {
		t.Fatalf("key order affected output: %q vs %q", sa, sb)
	}
	if sa != `{"a":2,"b":1}` {
		t.Fatalf("unexpected canonical form: %q", sa)
	}
}

func TestCanonicalIntegerValuedFloat(t *testing.T) {
	s, err := String(map[string]interface{}{"amount": 150.0})
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if s != `{"amount":150}` {
		t.Fatalf("expected integer-valued float to drop decimal point, got %q", s)
	}
}

func TestCanonicalRoundsFloats(t *testing.T) {
	s, err := String(map[string]interface{}{"x": 1.0 / 3.0})
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if s != `{"x":0.3333333333}` {
		t.Fatalf("expected ten-decimal rounding, got %q", s)
	}
}

func TestCanonicalNoHTMLEscaping(t *testing.T) {
	s, err := String(map[string]interface{}{"url": "https://a.example/x?y=1&z=2"})
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if s != `{"url":"https://a.example/x?y=1&z=2"}` {
		t.Fatalf("expected unescaped ampersand, got %q", s)
	}
}

func TestCanonicalDeterministicAcrossKeyShuffle(t *testing.T) {
	x := map[string]interface{}{"z": 1, "a": []interface{}{1, 2, 3}, "m": map[string]interface{}{"y": true, "x": nil}}
	y := map[string]interface{}{"m": map[string]interface{}{"x": nil, "y": true}, "a": []interface{}{1, 2, 3}, "z": 1}

	hx, err := Hash(x)
	if err != nil {
		t.Fatalf("hash(x): %v", err)
	}
	hy, err := Hash(y)
	if err != nil {
		t.Fatalf("hash(y): %v", err)
	}
	if hx != hy {
		t.Fatalf("canonical hash not invariant under key shuffle: %s vs %s", hx, hy)
	}
}
