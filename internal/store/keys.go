package store

import (
	"strconv"
	"sync"
)

// Key layout:
//
//	book:<name>                  metadata (name, revision, created_at)
//	book:<name>/person:<id>      person, id zero-padded so keys sort numerically
//	book:<name>/tag:<position>   tag, position zero-padded to keep catalogue order
const (
	bookPrefix   = "book:"
	personInfix  = "/person:"
	tagInfix     = "/tag:"
	childrenMark = "/"
)

var keyPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 128)
	},
}

// buildKey joins parts into a pooled buffer. Callers must releaseKey it.
func buildKey(parts ...string) []byte {
	buf, _ := keyPool.Get().([]byte)
	buf = buf[:0]
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

func releaseKey(key []byte) {
	if cap(key) <= 512 {
		keyPool.Put(key[:0])
	}
}

func metaKey(book string) []byte {
	return buildKey(bookPrefix, book)
}

func childrenPrefix(book string) []byte {
	return buildKey(bookPrefix, book, childrenMark)
}

func personKey(book string, id int) []byte {
	return buildKey(bookPrefix, book, personInfix, pad(id, 10))
}

func tagKey(book string, position int) []byte {
	return buildKey(bookPrefix, book, tagInfix, pad(position, 6))
}

func pad(n, width int) string {
	s := strconv.Itoa(n)
	for len(s) < width {
		s = "0" + s
	}
	return s
}
