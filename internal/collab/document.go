package collab

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
)

var ErrInvalidDocument = errors.New("invalid document")

// DocumentKind tags the two body shapes the notes backend hands out: plain
// strings from older notes and the structured editor tree for everything else.
type DocumentKind int

const (
	DocumentPlainText DocumentKind = iota
	DocumentStructured
)

// Document is an opaque note body. The collaboration core never inspects or
// diffs its contents; documents are replaced wholesale, never merged.
type Document struct {
	kind DocumentKind
	text string
	tree json.RawMessage
}

func PlainText(text string) Document {
	return Document{kind: DocumentPlainText, text: text}
}

func Structured(tree json.RawMessage) Document {
	var compact bytes.Buffer
	if err := json.Compact(&compact, tree); err == nil {
		tree = append(json.RawMessage(nil), compact.Bytes()...)
	}
	return Document{kind: DocumentStructured, tree: tree}
}

func (d Document) Kind() DocumentKind { return d.kind }

func (d Document) Text() string { return d.text }

func (d Document) Tree() json.RawMessage { return d.tree }

func (d Document) IsZero() bool {
	return d.kind == DocumentPlainText && d.text == "" && d.tree == nil
}

// Hash returns a stable content digest. Kind is mixed in so the plain string
// "{}" and an empty structured tree do not collide.
func (d Document) Hash() string {
	h := sha256.New()
	if d.kind == DocumentStructured {
		_, _ = h.Write([]byte("tree\x00"))
		_, _ = h.Write(d.tree)
	} else {
		_, _ = h.Write([]byte("text\x00"))
		_, _ = h.Write([]byte(d.text))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (d Document) Equal(other Document) bool {
	return d.Hash() == other.Hash()
}

func (d Document) MarshalJSON() ([]byte, error) {
	if d.kind == DocumentStructured {
		if len(d.tree) == 0 {
			return []byte("null"), nil
		}
		return d.tree, nil
	}
	return json.Marshal(d.text)
}

// UnmarshalJSON converts at ingress: a JSON string becomes PlainText, any
// other value is kept as an opaque structured tree.
func (d *Document) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return ErrInvalidDocument
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*d = PlainText(text)
		return nil
	}
	if !json.Valid(trimmed) {
		return ErrInvalidDocument
	}
	*d = Structured(append(json.RawMessage(nil), trimmed...))
	return nil
}
