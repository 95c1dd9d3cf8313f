package topology

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/eline/pkg/util"
)

// File is the YAML topology document.
//
//	switches:
//	  - dpid: "00:00:00:00:00:00:00:01"
//	    name: s1
//	    ports:
//	      - number: 1
//	      - {number: 3, name: s1-eth3}
//	links:
//	  - {a: "00:00:00:00:00:00:00:01:3", z: "00:00:00:00:00:00:00:02:2"}
type File struct {
	Switches []FileSwitch `yaml:"switches"`
	Links    []FileLink   `yaml:"links"`
}

// FileSwitch is a switch entry; Enabled defaults to true.
type FileSwitch struct {
	DPID    string     `yaml:"dpid"`
	Name    string     `yaml:"name"`
	Enabled *bool      `yaml:"enabled"`
	Ports   []FilePort `yaml:"ports"`
}

// FilePort is a port entry; Active defaults to true.
type FilePort struct {
	Number int    `yaml:"number"`
	Name   string `yaml:"name"`
	Active *bool  `yaml:"active"`
}

// FileLink is a link entry; Active defaults to true.
type FileLink struct {
	ID     string `yaml:"id"`
	A      string `yaml:"a"`
	Z      string `yaml:"z"`
	Active *bool  `yaml:"active"`
}

// ParseFile builds a graph from YAML.
func ParseFile(data []byte) (*Graph, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing topology YAML: %w", err)
	}
	return f.Build()
}

// Build converts the document into a graph, validating references.
func (f *File) Build() (*Graph, error) {
	g := NewGraph()
	v := &util.ValidationBuilder{}

	for i, s := range f.Switches {
		if s.DPID == "" {
			v.AddErrorf("switch %d: dpid is required", i)
			continue
		}
		if g.HasSwitch(s.DPID) {
			v.AddErrorf("switch %s: duplicate dpid", s.DPID)
			continue
		}
		g.AddSwitch(s.DPID, s.Name, boolOr(s.Enabled, true))
		for _, p := range s.Ports {
			v.Merge(g.AddPort(s.DPID, p.Number, p.Name, boolOr(p.Active, true)))
		}
	}
	for _, l := range f.Links {
		_, err := g.AddLink(l.ID, l.A, l.Z, boolOr(l.Active, true))
		v.Merge(err)
	}

	if err := v.Build(); err != nil {
		return nil, err
	}
	return g, nil
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// FileProvider serves a topology file, reloading it when its mtime changes.
type FileProvider struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	graph   *Graph
}

// NewFileProvider loads path once so configuration errors surface at start.
func NewFileProvider(path string) (*FileProvider, error) {
	p := &FileProvider{path: path}
	if _, err := p.Graph(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

// Graph returns the current snapshot. A file that fails to parse after a
// change keeps the previous snapshot in service.
func (p *FileProvider) Graph(_ context.Context) (*Graph, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := os.Stat(p.path)
	if err != nil {
		if p.graph != nil {
			return p.graph, nil
		}
		return nil, fmt.Errorf("topology file: %w", err)
	}
	if p.graph != nil && info.ModTime().Equal(p.modTime) {
		return p.graph, nil
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("reading topology file %s: %w", p.path, err)
	}
	g, err := ParseFile(data)
	if err != nil {
		if p.graph != nil {
			util.WithField("path", p.path).Warnf("ignoring invalid topology update: %v", err)
			return p.graph, nil
		}
		return nil, fmt.Errorf("topology file %s: %w", p.path, err)
	}

	p.graph = g
	p.modTime = info.ModTime()
	util.WithField("path", p.path).Infof("loaded topology: %d switches, %d links", len(g.Switches), len(g.Links))
	return g, nil
}

// StaticProvider always returns the same graph.
type StaticProvider struct {
	G *Graph
}

// Graph implements Provider
func (s StaticProvider) Graph(context.Context) (*Graph, error) {
	return s.G, nil
}
