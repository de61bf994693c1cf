package sessions

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// Token alphabet excludes 0/O and 1/I to keep codes readable over voice.
const (
	tokenCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	TokenLength  = 8
)

// newToken generates one 8-character join token.
func newToken() (string, error) {
	buf := make([]byte, TokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	var b strings.Builder
	for _, c := range buf {
		b.WriteByte(tokenCharset[int(c)%len(tokenCharset)])
	}
	return b.String(), nil
}

// normalizeToken uppercases and trims a caller-supplied token.
func normalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

// wellFormedToken reports whether token has the join-token shape.
func wellFormedToken(token string) bool {
	if len(token) != TokenLength {
		return false
	}
	for i := 0; i < len(token); i++ {
		if !strings.ContainsRune(tokenCharset, rune(token[i])) {
			return false
		}
	}
	return true
}
