package btree

type frame struct {
	n *node
	i int
}

// path is a root-to-leaf position inside one core. Moves build a new stack
// so a failed move leaves the old position intact.
type path struct {
	c     *core
	stack []frame
}

func (p *path) entry() *entry {
	top := p.stack[len(p.stack)-1]
	return &top.n.entries[top.i]
}

func (p *path) leaf() frame {
	return p.stack[len(p.stack)-1]
}

func (p *path) descend(s []frame, n *node, last bool) ([]frame, error) {
	for {
		i := 0
		if last {
			i = len(n.entries) - 1
		}
		s = append(s, frame{n: n, i: i})
		if n.leaf {
			return s, nil
		}
		child, err := p.c.childAt(n, i)
		if err != nil {
			return nil, err
		}
		n = child
	}
}

// edge moves to the first or last entry.
func (p *path) edge(last bool) (bool, error) {
	root, err := p.c.rootNode()
	if err != nil || root == nil || len(root.entries) == 0 {
		return false, err
	}
	s, err := p.descend(nil, root, last)
	if err != nil {
		return false, err
	}
	p.stack = s
	return true, nil
}

// step moves to the adjacent entry.
func (p *path) step(forward bool) (bool, error) {
	if len(p.stack) == 0 {
		return false, nil
	}
	s := append([]frame(nil), p.stack...)
	for len(s) > 0 {
		top := &s[len(s)-1]
		if forward && top.i+1 < len(top.n.entries) {
			top.i++
			break
		}
		if !forward && top.i > 0 {
			top.i--
			break
		}
		s = s[:len(s)-1]
	}
	if len(s) == 0 {
		return false, nil
	}
	top := s[len(s)-1]
	if !top.n.leaf {
		child, err := p.c.childAt(top.n, top.i)
		if err != nil {
			return false, err
		}
		if s, err = p.descend(s, child, !forward); err != nil {
			return false, err
		}
	}
	p.stack = s
	return true, nil
}

// seek moves to the first entry whose key is >= key.
func (p *path) seek(key []byte) (bool, error) {
	root, err := p.c.rootNode()
	if err != nil || root == nil || len(root.entries) == 0 {
		return false, err
	}
	var s []frame
	n := root
	for !n.leaf {
		i := n.childIndex(key)
		s = append(s, frame{n: n, i: i})
		if n, err = p.c.childAt(n, i); err != nil {
			return false, err
		}
	}
	i, _ := n.findKeyIndex(key)
	if i < len(n.entries) {
		p.stack = append(s, frame{n: n, i: i})
		return true, nil
	}
	// every key of this leaf is smaller, continue in the next one
	next := path{c: p.c, stack: append(s, frame{n: n, i: len(n.entries) - 1})}
	ok, err := next.step(true)
	if err != nil || !ok {
		return false, err
	}
	p.stack = next.stack
	return true, nil
}
