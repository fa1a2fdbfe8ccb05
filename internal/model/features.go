package model

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// Token features follow the usual linear-NER template: surface form, affixes,
// word shape and one token of context each side, hashed into a fixed space.

func hashFeature(dim int, parts ...string) uint32 {
	h := fnv.New32a()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return h.Sum32() % uint32(dim)
}

func wordShape(tok string) string {
	var b strings.Builder
	var last rune
	for _, r := range tok {
		var c rune
		switch {
		case unicode.IsUpper(r):
			c = 'X'
		case unicode.IsLower(r):
			c = 'x'
		case unicode.IsDigit(r):
			c = 'd'
		default:
			c = r
		}
		if c != last {
			b.WriteRune(c)
			last = c
		}
	}
	return b.String()
}

func affix(tok string, n int, suffix bool) string {
	r := []rune(tok)
	if len(r) <= n {
		return tok
	}
	if suffix {
		return string(r[len(r)-n:])
	}
	return string(r[:n])
}

// encodeTokens turns one sentence into per-token hashed feature id lists,
// truncated to maxLength tokens.
func encodeTokens(tokens []string, maxLength, dim int) [][]uint32 {
	n := len(tokens)
	if maxLength > 0 && n > maxLength {
		n = maxLength
	}
	out := make([][]uint32, n)
	for i := 0; i < n; i++ {
		tok := tokens[i]
		low := strings.ToLower(tok)
		feats := []uint32{
			hashFeature(dim, "b"),
			hashFeature(dim, "w", low),
			hashFeature(dim, "sh", wordShape(tok)),
			hashFeature(dim, "p2", affix(low, 2, false)),
			hashFeature(dim, "p3", affix(low, 3, false)),
			hashFeature(dim, "s2", affix(low, 2, true)),
			hashFeature(dim, "s3", affix(low, 3, true)),
		}
		if i > 0 {
			feats = append(feats, hashFeature(dim, "w-1", strings.ToLower(tokens[i-1])))
		} else {
			feats = append(feats, hashFeature(dim, "bos"))
		}
		if i+1 < len(tokens) {
			feats = append(feats, hashFeature(dim, "w+1", strings.ToLower(tokens[i+1])))
		} else {
			feats = append(feats, hashFeature(dim, "eos"))
		}
		out[i] = feats
	}
	return out
}
