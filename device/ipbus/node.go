package ipbus

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

var (
	ErrNoNode     = errors.New("ipbus: no such node")
	ErrNotBound   = errors.New("ipbus: node tree has no client")
	ErrPermission = errors.New("ipbus: permission denied")
)

// Node is one entry of an address table. Addresses are absolute.
type Node struct {
	ID          string
	Address     uint32
	Mask        uint32
	Mode        string
	Size        int
	Permission  string
	Class       string
	Description string

	params   map[string]string
	children []*Node
	parent   *Node
	client   *Client
}

// Bind attaches the client every node of the tree talks through.
func (n *Node) Bind(c *Client) *Node {
	n.root().client = c
	return n
}

func (n *Node) root() *Node {
	for n.parent != nil {
		n = n.parent
	}
	return n
}

func (n *Node) Client() *Client {
	return n.root().client
}

// Path is the dotted id relative to the table root.
func (n *Node) Path() string {
	var ids []string
	for m := n; m != nil && m.parent != nil; m = m.parent {
		ids = append(ids, m.ID)
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return strings.Join(ids, ".")
}

func (n *Node) Parameters() map[string]string {
	return n.params
}

func (n *Node) Children() []*Node {
	return n.children
}

func (n *Node) child(id string) *Node {
	for _, c := range n.children {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// GetNode resolves a dotted path below n.
func (n *Node) GetNode(path string) (*Node, error) {
	cur := n
	for _, id := range strings.Split(path, ".") {
		next := cur.child(id)
		if next == nil {
			return nil, fmt.Errorf("%w: %q below %q", ErrNoNode, path, n.Path())
		}
		cur = next
	}
	return cur, nil
}

// MustNode is GetNode for paths that the firmware is known to provide.
func (n *Node) MustNode(path string) *Node {
	c, err := n.GetNode(path)
	if err != nil {
		panic(err)
	}
	return c
}

// Nodes lists the dotted paths of every descendant, sorted.
func (n *Node) Nodes() []string {
	var out []string
	var walk func(m *Node, prefix string)
	walk = func(m *Node, prefix string) {
		for _, c := range m.children {
			p := c.ID
			if prefix != "" {
				p = prefix + "." + c.ID
			}
			out = append(out, p)
			walk(c, p)
		}
	}
	walk(n, "")
	sort.Strings(out)
	return out
}

func (n *Node) mask() uint32 {
	if n.Mask == 0 {
		return 0xffffffff
	}
	return n.Mask
}

func (n *Node) readable() bool {
	return strings.Contains(n.Permission, "r")
}

func (n *Node) writable() bool {
	return strings.Contains(n.Permission, "w")
}

func (n *Node) boundClient(op string, ok bool) (*Client, error) {
	c := n.Client()
	if c == nil {
		return nil, ErrNotBound
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", ErrPermission, op, n.Path())
	}
	return c, nil
}

// Read queues a masked single word read.
func (n *Node) Read() (*Value, error) {
	c, err := n.boundClient("read", n.readable())
	if err != nil {
		return nil, err
	}
	return c.Read(n.Address, n.mask()), nil
}

// Write queues a write. Partial masks become an RMW so neighbouring bits
// are preserved.
func (n *Node) Write(v uint32) error {
	c, err := n.boundClient("write", n.writable())
	if err != nil {
		return err
	}
	m := n.mask()
	if m == 0xffffffff {
		c.Write(n.Address, v)
		return nil
	}
	shift := bits.TrailingZeros32(m)
	c.RMWBits(n.Address, ^m, (v<<shift)&m)
	return nil
}

func (n *Node) nonInc() bool {
	return n.Mode == "port" || n.Mode == "non-incremental"
}

func (n *Node) ReadBlock(count int) (*Value, error) {
	c, err := n.boundClient("read", n.readable())
	if err != nil {
		return nil, err
	}
	return c.ReadBlock(n.Address, count, n.nonInc()), nil
}

func (n *Node) WriteBlock(data []uint32) error {
	c, err := n.boundClient("write", n.writable())
	if err != nil {
		return err
	}
	c.WriteBlock(n.Address, data, n.nonInc())
	return nil
}

// ReadNow reads and dispatches in one go.
func (n *Node) ReadNow() (uint32, error) {
	v, err := n.Read()
	if err != nil {
		return 0, err
	}
	if err := n.Client().Dispatch(); err != nil {
		return 0, err
	}
	return v.Value(), nil
}

// WriteNow writes and dispatches in one go.
func (n *Node) WriteNow(v uint32) error {
	if err := n.Write(v); err != nil {
		return err
	}
	return n.Client().Dispatch()
}

// ReadSubNodes reads every readable leaf below n with a single dispatch.
// Keys are paths relative to n.
func ReadSubNodes(n *Node) (map[string]uint32, error) {
	vals := make(map[string]*Value)
	for _, p := range n.Nodes() {
		c, _ := n.GetNode(p)
		if len(c.children) > 0 || !c.readable() {
			continue
		}
		v, err := c.Read()
		if err != nil {
			return nil, err
		}
		vals[p] = v
	}
	if c := n.Client(); c != nil {
		if err := c.Dispatch(); err != nil {
			return nil, err
		}
	}
	out := make(map[string]uint32, len(vals))
	for p, v := range vals {
		out[p] = v.Value()
	}
	return out, nil
}
