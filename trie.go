package macho

import "sort"

// trieExport is one entry fed to buildExportTrie: a defined global symbol
// and its __TEXT-relative vm-address offset (spec.md §4.F).
type trieExport struct {
	name  string
	value uint64
}

// trieNode is one node of the radix-compressed export trie. The decoder
// this is paired with (github.com/blacktop/go-macho/pkg/trie, read-only
// reference) expects: ULEB128 terminalSize, terminal payload if nonzero,
// a child-count byte, then per child an edge string, NUL, ULEB128 child
// offset.
type trieNode struct {
	terminal bool
	flags    uint64
	value    uint64
	children []trieEdge
	offset   uint64
}

type trieEdge struct {
	label string
	node  *trieNode
}

// buildExportTrie constructs a radix trie over exports and serializes it
// with the standard fixed-point offset resolution: child offsets depend
// on the ULEB128 encoding of earlier nodes' own offsets, so node sizes
// and positions are recomputed until they stop changing.
func buildExportTrie(exports []trieExport) []byte {
	sorted := append([]trieExport(nil), exports...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].name < sorted[j].name })

	root := &trieNode{}
	for _, e := range sorted {
		insertTrieEntry(root, e.name, e.value)
	}
	if len(sorted) == 0 {
		return nil
	}

	nodes := collectTrieNodes(root)
	for changed := true; changed; {
		changed = false
		pos := uint64(0)
		for _, n := range nodes {
			if n.offset != pos {
				n.offset = pos
				changed = true
			}
			pos += trieNodeSize(n)
		}
	}

	out := make([]byte, 0, int(nodes[len(nodes)-1].offset)+32)
	for _, n := range nodes {
		out = encodeTrieNode(out, n)
	}
	return out
}

func insertTrieEntry(n *trieNode, s string, value uint64) {
	for i := range n.children {
		e := &n.children[i]
		common := commonPrefixLen(e.label, s)
		if common == 0 {
			continue
		}
		if common == len(e.label) {
			insertTrieEntry(e.node, s[common:], value)
			return
		}
		mid := &trieNode{children: []trieEdge{{label: e.label[common:], node: e.node}}}
		n.children[i] = trieEdge{label: e.label[:common], node: mid}
		insertTrieEntry(mid, s[common:], value)
		return
	}
	if s == "" {
		n.terminal = true
		n.value = value
		return
	}
	n.children = append(n.children, trieEdge{label: s, node: &trieNode{terminal: true, value: value}})
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func collectTrieNodes(root *trieNode) []*trieNode {
	var nodes []*trieNode
	var walk func(n *trieNode)
	walk = func(n *trieNode) {
		nodes = append(nodes, n)
		for _, e := range n.children {
			walk(e.node)
		}
	}
	walk(root)
	return nodes
}

func trieNodeSize(n *trieNode) uint64 {
	var size uint64
	if n.terminal {
		term := ulebSize(n.flags) + ulebSize(n.value)
		size += uint64(ulebSize(uint64(term)) + term)
	} else {
		size += 1 // ULEB128(0)
	}
	size++ // child-count byte
	for _, e := range n.children {
		size += uint64(len(e.label)) + 1 + uint64(ulebSize(e.node.offset))
	}
	return size
}

func encodeTrieNode(out []byte, n *trieNode) []byte {
	if n.terminal {
		term := ulebSize(n.flags) + ulebSize(n.value)
		out = appendUleb(out, uint64(term))
		out = appendUleb(out, n.flags)
		out = appendUleb(out, n.value)
	} else {
		out = appendUleb(out, 0)
	}
	out = append(out, byte(len(n.children)))
	for _, e := range n.children {
		out = append(out, e.label...)
		out = append(out, 0)
		out = appendUleb(out, e.node.offset)
	}
	return out
}

func appendUleb(out []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func ulebSize(v uint64) int {
	n := 1
	for v >>= 7; v != 0; v >>= 7 {
		n++
	}
	return n
}
