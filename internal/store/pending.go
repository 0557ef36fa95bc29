package store

import (
	"sort"
	"sync"
)

// stagedOp is a mutation waiting for Commit. A nil doc means delete.
type stagedOp struct {
	doc *Document
}

// staging holds the latest uncommitted mutation per path. Later mutations
// for the same path replace earlier ones, so a commit applies only the
// final intent.
type staging struct {
	mu  sync.Mutex
	ops map[string]stagedOp
}

func newStaging() *staging {
	return &staging{ops: make(map[string]stagedOp)}
}

func (s *staging) upsert(doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := doc
	s.ops[doc.Path] = stagedOp{doc: &d}
}

func (s *staging) delete(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[path] = stagedOp{}
}

func (s *staging) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

// lookup returns the staged op for path.
func (s *staging) lookup(path string) (stagedOp, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[path]
	return op, ok
}

// take removes and returns all staged ops in path order.
func (s *staging) take() ([]string, map[string]stagedOp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := s.ops
	s.ops = make(map[string]stagedOp)

	paths := make([]string, 0, len(ops))
	for p := range ops {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, ops
}

// restore puts back ops from a failed commit unless a newer mutation for
// the same path was staged in the meantime.
func (s *staging) restore(ops map[string]stagedOp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p, op := range ops {
		if _, newer := s.ops[p]; !newer {
			s.ops[p] = op
		}
	}
}

// overlay merges staged mutations under prefix into committed paths.
func (s *staging) overlay(committed []string, prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := make(map[string]struct{}, len(committed)+len(s.ops))
	for _, p := range committed {
		set[p] = struct{}{}
	}
	for p, op := range s.ops {
		if prefix != "" && !hasPathPrefix(p, prefix) {
			continue
		}
		if op.doc == nil {
			delete(set, p)
		} else {
			set[p] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
