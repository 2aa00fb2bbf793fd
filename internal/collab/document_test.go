package collab

import (
	"encoding/json"
	"testing"
)

func TestDocumentJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind DocumentKind
	}{
		{name: "plain string", raw: `"hello world"`, kind: DocumentPlainText},
		{name: "structured tree", raw: `{"type":"doc","content":[{"type":"paragraph"}]}`, kind: DocumentStructured},
		{name: "structured array", raw: `[1,2,3]`, kind: DocumentStructured},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var doc Document
			if err := json.Unmarshal([]byte(tc.raw), &doc); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if doc.Kind() != tc.kind {
				t.Fatalf("expected kind %v, got %v", tc.kind, doc.Kind())
			}
			out, err := json.Marshal(doc)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}
			var back Document
			if err := json.Unmarshal(out, &back); err != nil {
				t.Fatalf("re-unmarshal failed: %v", err)
			}
			if !doc.Equal(back) {
				t.Fatalf("round trip lost content: %s -> %s", tc.raw, out)
			}
		})
	}
}

func TestDocumentEqualIgnoresTreeWhitespace(t *testing.T) {
	a := Structured(json.RawMessage(`{"type": "doc", "content": []}`))
	b := Structured(json.RawMessage(`{"type":"doc","content":[]}`))
	if !a.Equal(b) {
		t.Fatalf("whitespace-only difference must not change equality")
	}
}

func TestDocumentKindsDoNotCollide(t *testing.T) {
	if PlainText(`{}`).Equal(Structured(json.RawMessage(`{}`))) {
		t.Fatalf("plain text \"{}\" must differ from an empty tree")
	}
}

func TestDocumentUnmarshalRejectsGarbage(t *testing.T) {
	var doc Document
	if err := doc.UnmarshalJSON([]byte("")); err == nil {
		t.Fatalf("empty input must fail")
	}
	if err := doc.UnmarshalJSON([]byte("{not json")); err == nil {
		t.Fatalf("invalid json must fail")
	}
}

func TestDocumentZeroValue(t *testing.T) {
	var doc Document
	if !doc.IsZero() {
		t.Fatalf("zero document should report IsZero")
	}
	if doc.IsZero() == PlainText("x").IsZero() {
		t.Fatalf("non-empty document must not be zero")
	}
}
