// Package gramgate constrains language-model decoding to a formal
// grammar. A grammar, written as GBNF, a regular expression, a JSON
// Schema, or a structural-tag document, is compiled against a tokenizer's
// vocabulary into a CompiledGrammar; a matcher then walks the compiled
// grammar token by token, producing a vocabulary bitmask before each
// sampling step and consuming the sampled token after it.
//
// The usual flow:
//
//	comp := &gramgate.Compiler{TokenizerInfo: info}
//	cg, err := comp.CompileJSONSchema(ctx, schema, nil)
//	if err != nil { ... }
//	m := matcher.NewMatcher(cg, matcher.Options{})
//	mask := bitmask.New(info.VocabSize())
//	for !m.IsTerminated() {
//		need, _ := m.FillNextTokenBitmask(mask)
//		if need {
//			mask.ApplyToLogits(logits)
//		}
//		tok := sample(logits)
//		m.AcceptToken(tok)
//	}
//
// Compilation is cached and deduplicated: concurrent requests for the
// same grammar share one compilation, and finished results are retained
// under CacheLimitBytes in least-recently-used order.
package gramgate
