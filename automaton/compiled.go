package automaton

import (
	"github.com/gramgate/gramgate/grammar"
	"github.com/gramgate/gramgate/tokenizer"
)

// CompiledGrammar pairs a lowered grammar with the token trie of the
// vocabulary it was compiled against. It is immutable and safe to share
// between any number of matchers.
type CompiledGrammar struct {
	grammar   *grammar.Grammar
	automaton *Automaton
	tok       *tokenizer.TokenizerInfo
	trie      *TokenTrie
	memBytes  int64
}

// Compile lowers a grammar against a tokenizer. The trie construction
// dominates compile cost for real vocabularies, so callers compiling many
// grammars against one tokenizer should reuse it via CompileWithTrie.
func Compile(g *grammar.Grammar, tok *tokenizer.TokenizerInfo) (*CompiledGrammar, error) {
	return CompileWithTrie(g, tok, nil)
}

// CompileWithTrie is Compile with a prebuilt token trie for tok; a nil
// trie is built on the spot.
func CompileWithTrie(g *grammar.Grammar, tok *tokenizer.TokenizerInfo, trie *TokenTrie) (*CompiledGrammar, error) {
	a, err := Lower(g)
	if err != nil {
		return nil, err
	}
	if trie == nil {
		trie = NewTokenTrie(tok)
	}
	cg := &CompiledGrammar{
		grammar:   g,
		automaton: a,
		tok:       tok,
		trie:      trie,
	}
	cg.memBytes = cg.estimateMemory()
	return cg, nil
}

// Grammar returns the source grammar.
func (cg *CompiledGrammar) Grammar() *grammar.Grammar { return cg.grammar }

// Automaton returns the lowered rule table.
func (cg *CompiledGrammar) Automaton() *Automaton { return cg.automaton }

// TokenizerInfo returns the tokenizer the grammar was compiled against.
func (cg *CompiledGrammar) TokenizerInfo() *tokenizer.TokenizerInfo { return cg.tok }

// Trie returns the vocabulary trie.
func (cg *CompiledGrammar) Trie() *TokenTrie { return cg.trie }

// MemorySizeBytes estimates the heap footprint of the compiled grammar,
// used for cache accounting.
func (cg *CompiledGrammar) MemorySizeBytes() int64 { return cg.memBytes }

func (cg *CompiledGrammar) estimateMemory() int64 {
	total := cg.trie.MemorySizeBytes()
	for i := range cg.automaton.Rules {
		r := &cg.automaton.Rules[i]
		total += int64(len(r.Name)) + 40
		for _, alt := range r.Alts {
			total += 24
			for j := range alt {
				e := &alt[j]
				total += 56
				total += int64(len(e.Bytes))
				total += int64(len(e.Ranges)) * 8
			}
		}
	}
	if d := cg.automaton.Dispatch; d != nil {
		for _, entry := range d.Entries {
			total += int64(len(entry.Trigger)) + 16
		}
		total += int64(d.Scanner.NumStates()) * 64
	}
	return total
}
