package ipbus

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pdtbutler/util"
)

type xmlNode struct {
	ID          string    `xml:"id,attr"`
	Address     string    `xml:"address,attr"`
	Mask        string    `xml:"mask,attr"`
	Mode        string    `xml:"mode,attr"`
	Size        string    `xml:"size,attr"`
	Permission  string    `xml:"permission,attr"`
	Module      string    `xml:"module,attr"`
	Class       string    `xml:"class,attr"`
	Parameters  string    `xml:"parameters,attr"`
	Description string    `xml:"description,attr"`
	Nodes       []xmlNode `xml:"node"`
}

// LoadTable parses a uhal address table and every file it includes.
func LoadTable(path string) (*Node, error) {
	x, err := readTable(path)
	if err != nil {
		return nil, err
	}
	root := &Node{Permission: "rw"}
	if err := root.build(x, 0, filepath.Dir(path), 0); err != nil {
		return nil, err
	}
	root.ID = ""
	return root, nil
}

func readTable(path string) (*xmlNode, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var x xmlNode
	if err := xml.Unmarshal(b, &x); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &x, nil
}

const maxIncludeDepth = 16

func parseWord(s string, def uint32) (uint32, error) {
	if s == "" {
		return def, nil
	}
	v, err := util.ParseInt(s)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func parseParameters(s string) map[string]string {
	m := make(map[string]string)
	for _, kv := range strings.Split(s, ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		k, v, _ := strings.Cut(kv, "=")
		m[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return m
}

func (n *Node) build(x *xmlNode, base uint32, dir string, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("ipbus: %s: includes nested too deep", n.Path())
	}
	rel, err := parseWord(x.Address, 0)
	if err != nil {
		return fmt.Errorf("ipbus: node %q address: %w", x.ID, err)
	}
	n.ID = x.ID
	n.Address = base + rel
	if n.Mask, err = parseWord(x.Mask, 0xffffffff); err != nil {
		return fmt.Errorf("ipbus: node %q mask: %w", x.ID, err)
	}
	size, err := parseWord(x.Size, 1)
	if err != nil {
		return fmt.Errorf("ipbus: node %q size: %w", x.ID, err)
	}
	n.Size = int(size)
	n.Mode = x.Mode
	if n.Mode == "" {
		n.Mode = "single"
	}
	if x.Permission != "" {
		n.Permission = x.Permission
	}
	n.Class = x.Class
	n.Description = x.Description
	n.params = parseParameters(x.Parameters)

	children := x.Nodes
	if x.Module != "" {
		path := strings.TrimPrefix(x.Module, "file://")
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		inc, err := readTable(path)
		if err != nil {
			return err
		}
		dir = filepath.Dir(path)
		children = append(append([]xmlNode{}, inc.Nodes...), children...)
		if n.Class == "" {
			n.Class = inc.Class
		}
		for k, v := range parseParameters(inc.Parameters) {
			if _, ok := n.params[k]; !ok {
				n.params[k] = v
			}
		}
		depth++
	}
	for i := range children {
		c := &Node{parent: n, Permission: n.Permission}
		if err := c.build(&children[i], n.Address, dir, depth); err != nil {
			return err
		}
		n.children = append(n.children, c)
	}
	return nil
}
