package automaton

import (
	"sort"

	"github.com/gramgate/gramgate/tokenizer"
)

// TrieEdge is one labeled transition of the token trie.
type TrieEdge struct {
	B    byte
	Next int32
}

// TrieNode holds the tokens whose byte form ends at this node and the
// outgoing edges, sorted by byte.
type TrieNode struct {
	Tokens []int32
	Edges  []TrieEdge
}

// TokenTrie indexes the decoded vocabulary by byte prefix so a single
// grammar walk can classify every token sharing that prefix. Special and
// stop tokens are excluded: stop tokens get dedicated handling and other
// special tokens are never admissible under a grammar.
type TokenTrie struct {
	nodes     []TrieNode
	numTokens int
}

type trieBuildNode struct {
	tokens []int32
	edges  map[byte]int32
}

// NewTokenTrie builds the prefix trie for a tokenizer's vocabulary.
func NewTokenTrie(info *tokenizer.TokenizerInfo) *TokenTrie {
	build := []trieBuildNode{{}}
	n := 0
	for id := int32(0); id < int32(len(info.DecodedVocab())); id++ {
		if info.IsSpecialToken(id) || info.IsStopToken(id) {
			continue
		}
		b := info.TokenBytes(id)
		if len(b) == 0 {
			continue
		}
		cur := int32(0)
		for _, c := range b {
			next, ok := build[cur].edges[c]
			if !ok {
				next = int32(len(build))
				build = append(build, trieBuildNode{})
				if build[cur].edges == nil {
					build[cur].edges = make(map[byte]int32)
				}
				build[cur].edges[c] = next
			}
			cur = next
		}
		build[cur].tokens = append(build[cur].tokens, id)
		n++
	}

	t := &TokenTrie{nodes: make([]TrieNode, len(build)), numTokens: n}
	for i := range build {
		t.nodes[i].Tokens = build[i].tokens
		if len(build[i].edges) == 0 {
			continue
		}
		edges := make([]TrieEdge, 0, len(build[i].edges))
		for b, next := range build[i].edges {
			edges = append(edges, TrieEdge{B: b, Next: next})
		}
		sort.Slice(edges, func(a, b int) bool { return edges[a].B < edges[b].B })
		t.nodes[i].Edges = edges
	}
	return t
}

// Root returns the root node index.
func (t *TokenTrie) Root() int32 { return 0 }

// Node returns the node at index i.
func (t *TokenTrie) Node(i int32) *TrieNode { return &t.nodes[i] }

// NumNodes returns the node count.
func (t *TokenTrie) NumNodes() int { return len(t.nodes) }

// NumTokens returns how many vocabulary tokens the trie indexes.
func (t *TokenTrie) NumTokens() int { return t.numTokens }

// MemorySizeBytes estimates the heap footprint of the trie.
func (t *TokenTrie) MemorySizeBytes() int64 {
	var total int64
	for i := range t.nodes {
		total += 48 // node header
		total += int64(len(t.nodes[i].Tokens)) * 4
		total += int64(len(t.nodes[i].Edges)) * 8
	}
	return total
}
