package replication

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
)

// fakeServer is an in-memory stand-in for a ZooKeeper ensemble, implementing
// just the semantics the replication layer relies on: sequential znodes,
// ephemeral ownership and one-shot child watches.
type fakeServer struct {
	mu      sync.Mutex
	nodes   map[string]*fakeNode
	seqs    map[string]int64
	watches map[string][]chan zk.Event
	nextID  int
}

type fakeNode struct {
	data  []byte
	mtime int64
	owner int // 0 means persistent
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		nodes:   map[string]*fakeNode{"": {}},
		seqs:    make(map[string]int64),
		watches: make(map[string][]chan zk.Event),
	}
}

func (s *fakeServer) connect() *fakeConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return &fakeConn{srv: s, id: s.nextID}
}

func (s *fakeServer) fireLocked(parent string) {
	for _, ch := range s.watches[parent] {
		ch <- zk.Event{Type: zk.EventNodeChildrenChanged, Path: parent}
	}
	delete(s.watches, parent)
}

type fakeConn struct {
	srv *fakeServer
	id  int
}

func parentOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return ""
	}
	return path[:i]
}

func (c *fakeConn) Create(path string, data []byte, flags int32, _ []zk.ACL) (string, error) {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	if flags&zk.FlagSequence != 0 {
		seq := s.seqs[parentOf(path)]
		s.seqs[parentOf(path)] = seq + 1
		path = fmt.Sprintf("%s%010d", path, seq)
	}
	if _, ok := s.nodes[path]; ok {
		return "", zk.ErrNodeExists
	}
	if _, ok := s.nodes[parentOf(path)]; !ok {
		return "", zk.ErrNoNode
	}
	n := &fakeNode{data: data, mtime: time.Now().UnixMilli()}
	if flags&zk.FlagEphemeral != 0 {
		n.owner = c.id
	}
	s.nodes[path] = n
	s.fireLocked(parentOf(path))
	return path, nil
}

func (c *fakeConn) childrenLocked(path string) []string {
	var out []string
	prefix := path + "/"
	for p := range c.srv.nodes {
		if strings.HasPrefix(p, prefix) && !strings.Contains(p[len(prefix):], "/") {
			out = append(out, p[len(prefix):])
		}
	}
	sort.Strings(out)
	return out
}

func (c *fakeConn) Children(path string) ([]string, *zk.Stat, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if _, ok := c.srv.nodes[path]; !ok {
		return nil, nil, zk.ErrNoNode
	}
	return c.childrenLocked(path), &zk.Stat{}, nil
}

func (c *fakeConn) ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if _, ok := c.srv.nodes[path]; !ok {
		return nil, nil, nil, zk.ErrNoNode
	}
	ch := make(chan zk.Event, 8)
	c.srv.watches[path] = append(c.srv.watches[path], ch)
	return c.childrenLocked(path), &zk.Stat{}, ch, nil
}

func (c *fakeConn) Get(path string) ([]byte, *zk.Stat, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	n, ok := c.srv.nodes[path]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return n.data, &zk.Stat{Mtime: n.mtime}, nil
}

func (c *fakeConn) Exists(path string) (bool, *zk.Stat, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	n, ok := c.srv.nodes[path]
	if !ok {
		return false, &zk.Stat{}, nil
	}
	return true, &zk.Stat{Mtime: n.mtime}, nil
}

func (c *fakeConn) Delete(path string, _ int32) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if _, ok := c.srv.nodes[path]; !ok {
		return zk.ErrNoNode
	}
	delete(c.srv.nodes, path)
	c.srv.fireLocked(parentOf(path))
	return nil
}

// Close drops the connection's ephemeral nodes, like a session expiry.
func (c *fakeConn) Close() {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	for p, n := range c.srv.nodes {
		if n.owner == c.id {
			delete(c.srv.nodes, p)
			c.srv.fireLocked(parentOf(p))
		}
	}
}

var _ Conn = (*fakeConn)(nil)
