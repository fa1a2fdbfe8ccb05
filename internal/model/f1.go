package model

import (
	"sort"
	"strings"
)

type chunk struct {
	Type  string
	Start int
	End   int // exclusive
}

// extractChunks reads IOB-style tag sequences into typed spans. A stray
// I- tag after O or a different type opens a new chunk, which matches the
// usual lenient IOB2 reading.
func extractChunks(tags []string) []chunk {
	var chunks []chunk
	open := -1
	openType := ""
	closeChunk := func(end int) {
		if open >= 0 {
			chunks = append(chunks, chunk{Type: openType, Start: open, End: end})
			open = -1
		}
	}
	for i, tag := range tags {
		prefix, typ := splitTag(tag)
		switch prefix {
		case "B":
			closeChunk(i)
			open, openType = i, typ
		case "I":
			if open < 0 || openType != typ {
				closeChunk(i)
				open, openType = i, typ
			}
		default:
			closeChunk(i)
		}
	}
	closeChunk(len(tags))
	return chunks
}

func splitTag(tag string) (prefix, typ string) {
	if tag == "O" || tag == "" {
		return "O", ""
	}
	if len(tag) > 1 && (tag[0] == 'B' || tag[0] == 'I') && (tag[1] == '-' || tag[1] == '_') {
		return string(tag[0]), tag[2:]
	}
	// untyped tagging scheme, treat every non-O tag as its own type
	return "B", strings.ToUpper(tag)
}

type f1Counts struct {
	tp, pred, gold int
}

func prf(c f1Counts) (p, r, f float64) {
	if c.pred > 0 {
		p = float64(c.tp) / float64(c.pred)
	}
	if c.gold > 0 {
		r = float64(c.tp) / float64(c.gold)
	}
	if p+r > 0 {
		f = 2 * p * r / (p + r)
	}
	return
}

// spanF1 computes entity-level micro and macro precision/recall/F1 over
// aligned gold and predicted tag sequences.
func spanF1(gold, pred [][]string) map[string]float64 {
	micro := f1Counts{}
	perType := make(map[string]*f1Counts)
	counts := func(typ string) *f1Counts {
		c, ok := perType[typ]
		if !ok {
			c = &f1Counts{}
			perType[typ] = c
		}
		return c
	}

	for s := range gold {
		gc := extractChunks(gold[s])
		pc := extractChunks(pred[s])
		gset := make(map[chunk]bool, len(gc))
		for _, c := range gc {
			gset[c] = true
			micro.gold++
			counts(c.Type).gold++
		}
		for _, c := range pc {
			micro.pred++
			counts(c.Type).pred++
			if gset[c] {
				micro.tp++
				counts(c.Type).tp++
			}
		}
	}

	mp, mr, mf := prf(micro)
	out := map[string]float64{
		"micro/f1":        mf,
		"micro/precision": mp,
		"micro/recall":    mr,
	}

	types := make([]string, 0, len(perType))
	for typ := range perType {
		types = append(types, typ)
	}
	sort.Strings(types)
	sum := 0.0
	for _, typ := range types {
		_, _, f := prf(*perType[typ])
		out["f1/"+typ] = f
		sum += f
	}
	if len(types) > 0 {
		out["macro/f1"] = sum / float64(len(types))
	} else {
		out["macro/f1"] = 0
	}
	return out
}
