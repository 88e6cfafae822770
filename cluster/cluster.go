// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cluster implements the Clusterer stage: greedy
// single-link clustering of alignment records into passage-reuse
// clusters, with quota-based pruning of runaway chains and an optional
// DOT dump of the surviving single-link graph.
package cluster

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/textreuse/passim/internal/record"
)

// Config holds the cluster sub-command's tunables.
type Config struct {
	// MinOverlap, when > 0, selects absolute-overlap linkage: a
	// candidate cluster matches when the intersection of token spans
	// is at least this many tokens.
	MinOverlap int
	// RelativeOverlap selects relative-overlap linkage when MinOverlap
	// is 0. Zero means a default of 0.5.
	RelativeOverlap float64
	// MaxProportion drops a cluster when its single most-repeated
	// series' share of members exceeds this fraction. Zero disables
	// the proportion check.
	MaxProportion float64
	// MaxRepeats drops a cluster when its single most-repeated
	// series contributes more than this many members. Zero means the
	// default of 4.
	MaxRepeats int
	// SeriesDelim splits a document name into its series prefix the
	// same way internal/seriesmap does (the "series/issue"
	// convention); the cluster stream carries names, not docIds, so
	// series is recovered from the name directly rather than via an
	// index lookup. Empty means each name is its own series.
	SeriesDelim string
}

// Member is one document's contribution to a cluster: its span and the
// series it belongs to.
type Member struct {
	DocID  int
	Name   string
	Series string
	Start  int
	End    int
	Score  float64
}

func seriesOf(name, delim string) string {
	if delim == "" {
		return name
	}
	if i := strings.Index(name, delim); i >= 0 {
		return name[:i]
	}
	return name
}

type edgeRec struct {
	name1, name2 string
	weight       float64
}

// Clusterer holds the mutable single-link clustering state:
// {top, members, clusters}.
type Clusterer struct {
	cfg Config

	top      int
	members  map[int]map[int]Member // cid -> docId -> Member
	clusters map[int]map[int]bool   // docId -> set<cid>
	edges    []edgeRec
}

// New creates an empty Clusterer.
func New(cfg Config) *Clusterer {
	return &Clusterer{
		cfg:      cfg,
		members:  make(map[int]map[int]Member),
		clusters: make(map[int]map[int]bool),
	}
}

// Add consumes one alignment record and folds it into the running
// greedy single-link clustering.
func (cl *Clusterer) Add(a record.Alignment) {
	r1 := Member{DocID: a.ID1, Name: a.Name1, Series: seriesOf(a.Name1, cl.cfg.SeriesDelim), Start: a.S1, End: a.E1, Score: a.SWScore}
	r2 := Member{DocID: a.ID2, Name: a.Name2, Series: seriesOf(a.Name2, cl.cfg.SeriesDelim), Start: a.S2, End: a.E2, Score: a.SWScore}
	cl.edges = append(cl.edges, edgeRec{name1: a.Name1, name2: a.Name2, weight: a.SWScore})

	matches := cl.matching(cl.clusters[a.ID1], a.ID1, r1)
	for c := range cl.matching(cl.clusters[a.ID2], a.ID2, r2) {
		matches[c] = true
	}

	switch len(matches) {
	case 0:
		cid := cl.top
		cl.top++
		cl.members[cid] = map[int]Member{a.ID1: r1, a.ID2: r2}
		cl.link(a.ID1, cid)
		cl.link(a.ID2, cid)
	case 1:
		var cid int
		for c := range matches {
			cid = c
		}
		cl.members[cid][a.ID1] = r1
		cl.members[cid][a.ID2] = r2
		cl.link(a.ID1, cid)
		cl.link(a.ID2, cid)
	default:
		cl.merge(matches, a.ID1, a.ID2, r1, r2)
	}
}

// matching returns the subset of set (a docId's cluster memberships)
// whose existing member record for docID overlaps r by the configured
// threshold.
func (cl *Clusterer) matching(set map[int]bool, docID int, r Member) map[int]bool {
	out := make(map[int]bool)
	for c := range set {
		other, ok := cl.members[c][docID]
		if !ok {
			continue
		}
		if cl.overlaps(r, other) {
			out[c] = true
		}
	}
	return out
}

func (cl *Clusterer) overlaps(a, b Member) bool {
	inter := minInt(a.End, b.End) - maxInt(a.Start, b.Start)
	if inter < 0 {
		inter = 0
	}
	if cl.cfg.MinOverlap > 0 {
		return inter >= cl.cfg.MinOverlap
	}
	denom := maxInt(a.End-a.Start, b.End-b.Start)
	if denom <= 0 {
		return false
	}
	threshold := cl.cfg.RelativeOverlap
	if threshold <= 0 {
		threshold = 0.5
	}
	return float64(inter)/float64(denom) >= threshold
}

// link records that docID now belongs to cluster cid.
func (cl *Clusterer) link(docID, cid int) {
	set, ok := cl.clusters[docID]
	if !ok {
		set = make(map[int]bool)
		cl.clusters[docID] = set
	}
	set[cid] = true
}

// merge unifies every cluster in matches into the smallest cid among
// them, then repoints every affected document's clusters[d] set: every
// document now present in the surviving cluster must have its full set
// of cluster memberships rewritten, not just id1 and id2.
func (cl *Clusterer) merge(matches map[int]bool, id1, id2 int, r1, r2 Member) {
	cids := make([]int, 0, len(matches))
	for c := range matches {
		cids = append(cids, c)
	}
	sort.Ints(cids)
	match := cids[0]

	for _, c := range cids[1:] {
		for d, m := range cl.members[c] {
			cl.members[match][d] = m
		}
		delete(cl.members, c)
	}
	cl.members[match][id1] = r1
	cl.members[match][id2] = r2

	for d := range cl.members[match] {
		set := cl.clusters[d]
		for _, c := range cids {
			if c != match {
				delete(set, c)
			}
		}
		set[match] = true
	}
}

// MemberOut is one rendered cluster member, a "(name, start, end)" triple.
type MemberOut struct {
	Name  string
	Start int
	End   int
}

// Cluster is one surviving, finally-numbered cluster.
type Cluster struct {
	ID      int
	Size    int
	Members []MemberOut
}

// Clusters applies the post-filter quotas and renders every surviving
// cluster, sorted by size descending with lexicographic member-list
// tie-breaking, with final ids assigned 1..k in that order.
func (cl *Clusterer) Clusters() []Cluster {
	type accum struct {
		members []Member
	}
	var kept []accum
	maxRepeats := cl.cfg.MaxRepeats
	if maxRepeats == 0 {
		maxRepeats = 4
	}
	for _, mm := range cl.members {
		members := make([]Member, 0, len(mm))
		for _, m := range mm {
			members = append(members, m)
		}
		top := topRepeat(members)
		size := distinctNames(members)
		if cl.cfg.MaxProportion > 0 && cl.cfg.MaxProportion < 1 {
			if float64(top)/float64(size) > cl.cfg.MaxProportion {
				continue
			}
		}
		if top > maxRepeats {
			continue
		}
		kept = append(kept, accum{members: members})
	}

	for i := range kept {
		sort.Slice(kept[i].members, func(a, b int) bool {
			if kept[i].members[a].Name != kept[i].members[b].Name {
				return kept[i].members[a].Name < kept[i].members[b].Name
			}
			return kept[i].members[a].Start < kept[i].members[b].Start
		})
	}
	sort.Slice(kept, func(i, j int) bool {
		si, sj := distinctNames(kept[i].members), distinctNames(kept[j].members)
		if si != sj {
			return si > sj
		}
		return lexLess(kept[i].members, kept[j].members)
	})

	out := make([]Cluster, len(kept))
	for i, k := range kept {
		mout := make([]MemberOut, len(k.members))
		for j, m := range k.members {
			mout[j] = MemberOut{Name: m.Name, Start: m.Start, End: m.End}
		}
		out[i] = Cluster{ID: i + 1, Size: distinctNames(k.members), Members: mout}
	}
	return out
}

func topRepeat(members []Member) int {
	counts := make(map[string]int)
	for _, m := range members {
		counts[m.Series]++
	}
	max := 0
	for _, c := range counts {
		if c > max {
			max = c
		}
	}
	return max
}

func distinctNames(members []Member) int {
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		seen[m.Name] = true
	}
	return len(seen)
}

func lexLess(a, b []Member) bool {
	as, bs := sortedNames(a), sortedNames(b)
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] != bs[i] {
			return as[i] < bs[i]
		}
	}
	return len(as) < len(bs)
}

func sortedNames(members []Member) []string {
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.Name
	}
	sort.Strings(names)
	return names
}

type jsonMember struct {
	Name  string `json:"name"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

type jsonCluster struct {
	ID      int          `json:"id"`
	Size    int          `json:"size"`
	Members []jsonMember `json:"members"`
}

// WriteJSON renders clusters as one JSON object per line, matching the
// line-delimited-record convention the rest of the pipeline uses.
func WriteJSON(w io.Writer, clusters []Cluster) error {
	enc := json.NewEncoder(w)
	for _, c := range clusters {
		jc := jsonCluster{ID: c.ID, Size: c.Size, Members: make([]jsonMember, len(c.Members))}
		for i, m := range c.Members {
			jc.Members[i] = jsonMember{Name: m.Name, Start: m.Start, End: m.End}
		}
		if err := enc.Encode(jc); err != nil {
			return err
		}
	}
	return nil
}

// WriteDOT renders the single-link graph restricted to documents that
// survived the post-filter quotas, in DOT format via
// gonum/graph/simple and graph/encoding/dot, weighting each edge by
// its alignment SW score.
func (cl *Clusterer) WriteDOT(w io.Writer) error {
	keep := make(map[string]bool)
	for _, c := range cl.Clusters() {
		for _, m := range c.Members {
			keep[m.Name] = true
		}
	}
	g := newLinkGraph()
	for _, e := range cl.edges {
		if !keep[e.name1] || !keep[e.name2] {
			continue
		}
		g.SetWeightedEdge(linkEdge{f: g.nodeFor(e.name1), t: g.nodeFor(e.name2), w: e.weight})
	}
	b, err := dot.Marshal(g, "clusters", "", "\t")
	if err != nil {
		return fmt.Errorf("cluster: dot marshal: %w", err)
	}
	_, err = w.Write(b)
	return err
}

type linkGraph struct {
	*simple.WeightedUndirectedGraph
	idFor map[string]int64
}

func newLinkGraph() linkGraph {
	return linkGraph{
		WeightedUndirectedGraph: simple.NewWeightedUndirectedGraph(0, 0),
		idFor:                   make(map[string]int64),
	}
}

func (g linkGraph) nodeFor(name string) graph.Node {
	if id, ok := g.idFor[name]; ok {
		return g.Node(id)
	}
	id := g.WeightedUndirectedGraph.NewNode().ID()
	g.idFor[name] = id
	n := linkNode{id: id, name: name}
	g.AddNode(n)
	return n
}

type linkNode struct {
	id   int64
	name string
}

func (n linkNode) ID() int64     { return n.id }
func (n linkNode) DOTID() string { return n.name }

type linkEdge struct {
	f, t graph.Node
	w    float64
}

func (e linkEdge) From() graph.Node         { return e.f }
func (e linkEdge) To() graph.Node           { return e.t }
func (e linkEdge) ReversedEdge() graph.Edge { return linkEdge{f: e.t, t: e.f, w: e.w} }
func (e linkEdge) Weight() float64          { return e.w }
func (e linkEdge) Attributes() []encoding.Attribute {
	return []encoding.Attribute{{Key: "weight", Value: fmt.Sprint(e.w)}}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
