package store

import (
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// maxMessageBytes bounds flow_exceptions.message.
const maxMessageBytes = 4000

// truncateMessage shortens msg to at most limit bytes. The cut never lands
// inside a UTF-8 sequence and never separates a character from the
// combining marks that follow it.
func truncateMessage(msg string, limit int) string {
	if len(msg) <= limit {
		return msg
	}

	head := []byte(msg[:limit])
	for i := 0; i < utf8.UTFMax-1 && len(head) > 0; i++ {
		if r, size := utf8.DecodeLastRune(head); r != utf8.RuneError || size > 1 {
			break
		}
		head = head[:len(head)-1]
	}

	rest := []byte(msg[len(head):])
	if norm.NFC.FirstBoundary(rest) != 0 {
		if i := norm.NFC.LastBoundary(head); i > 0 {
			head = head[:i]
		}
	}
	return string(head)
}
