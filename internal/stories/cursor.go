package stories

import "fmt"

type cursorKind uint8

const (
	cursorExhausted cursorKind = iota
	cursorOffset
	cursorToken
)

// Cursor marks where the next page of a list begins. The zero value is
// Exhausted: nothing more can be loaded. Cursors are comparable and serve as
// keys for coalescing loadMore callers.
type Cursor struct {
	kind   cursorKind
	offset int32
	token  string
}

func Exhausted() Cursor { return Cursor{} }

// Offset is a numeric position: the id of the last item already loaded.
func Offset(id int32) Cursor { return Cursor{kind: cursorOffset, offset: id} }

// Token is an opaque server-issued position.
func Token(token string) Cursor { return Cursor{kind: cursorToken, token: token} }

func (c Cursor) IsExhausted() bool { return c.kind == cursorExhausted }

func (c Cursor) AsOffset() (int32, bool) {
	return c.offset, c.kind == cursorOffset
}

func (c Cursor) AsToken() (string, bool) {
	return c.token, c.kind == cursorToken
}

func (c Cursor) String() string {
	switch c.kind {
	case cursorOffset:
		return fmt.Sprintf("offset(%d)", c.offset)
	case cursorToken:
		return fmt.Sprintf("token(%q)", c.token)
	default:
		return "exhausted"
	}
}
