// internal/sensor/tables.go
package sensor

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tamzrod/camlink/internal/bus"
	"github.com/tamzrod/camlink/internal/fault"
)

// TableSet replaces register tables of a built-in descriptor. It is read
// from YAML:
//
//	init:
//	  - [0x3018, 0x00]
//	  - wait: 10
//	start:
//	  - [0x3000, 0x00]
//	modes:
//	  "1920x1080":
//	    - [0x3018, 0x04]
//	bit_depths:
//	  10:
//	    - [0x3050, 0x00]
//
// Every table gets an end marker appended; an explicit "end" entry is
// accepted as the last entry.
type TableSet struct {
	Init      Entries            `yaml:"init"`
	Start     Entries            `yaml:"start"`
	Stop      Entries            `yaml:"stop"`
	Modes     map[string]Entries `yaml:"modes"`
	BitDepths map[int]Entries    `yaml:"bit_depths"`
}

// Entries is a YAML register table.
type Entries []bus.Entry

// UnmarshalYAML decodes a sequence of [addr, value] pairs, {wait: ms}
// mappings and "end" scalars.
func (e *Entries) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: register table must be a list", n.Line)
	}

	out := make(Entries, 0, len(n.Content)+1)
	for _, item := range n.Content {
		switch item.Kind {
		case yaml.SequenceNode:
			var pair []uint64
			if err := item.Decode(&pair); err != nil {
				return fmt.Errorf("line %d: %w", item.Line, err)
			}
			if len(pair) != 2 {
				return fmt.Errorf("line %d: write entry needs [addr, value]", item.Line)
			}
			if pair[0] > 0xFFFF || pair[1] > 0xFF {
				return fmt.Errorf("line %d: write entry [0x%x, 0x%x] out of range", item.Line, pair[0], pair[1])
			}
			out = append(out, bus.W(uint16(pair[0]), byte(pair[1])))

		case yaml.MappingNode:
			var w struct {
				Wait *uint64 `yaml:"wait"`
			}
			if err := item.Decode(&w); err != nil {
				return fmt.Errorf("line %d: %w", item.Line, err)
			}
			if w.Wait == nil || *w.Wait > 0xFF {
				return fmt.Errorf("line %d: wait entry needs wait: 0..255", item.Line)
			}
			out = append(out, bus.Wait(byte(*w.Wait)))

		case yaml.ScalarNode:
			if item.Value != "end" {
				return fmt.Errorf("line %d: unknown table entry %q", item.Line, item.Value)
			}
			out = append(out, bus.End())

		default:
			return fmt.Errorf("line %d: unsupported table entry", item.Line)
		}
	}

	if len(out) == 0 || out[len(out)-1].Op != bus.OpEnd {
		out = append(out, bus.End())
	}
	*e = out
	return nil
}

// Table converts to a bus table.
func (e Entries) Table() bus.Table { return bus.Table(e) }

// LoadTables decodes a table set.
func LoadTables(r io.Reader) (*TableSet, error) {
	var ts TableSet
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&ts); err != nil {
		if err == io.EOF {
			return &ts, nil
		}
		return nil, fault.Configuration("register tables: %v", err)
	}
	return &ts, nil
}

// LoadTablesFile decodes a table set from path.
func LoadTablesFile(path string) (*TableSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tables %s: %w", path, err)
	}
	defer f.Close()
	return LoadTables(f)
}

// WithTables returns a copy of d with the tables of ts substituted.
// Unknown mode names and unsupported bit depths are rejected; the result
// is validated.
func (d *Descriptor) WithTables(ts *TableSet) (*Descriptor, error) {
	c := d.Clone()
	if ts == nil {
		return c, nil
	}

	if ts.Init != nil {
		c.Init = ts.Init.Table()
	}
	if ts.Start != nil {
		c.Start = ts.Start.Table()
	}
	if ts.Stop != nil {
		c.Stop = ts.Stop.Table()
	}
	for name, t := range ts.Modes {
		m, err := c.ModeByName(name)
		if err != nil {
			return nil, err
		}
		m.Table = t.Table()
	}
	for bits, t := range ts.BitDepths {
		if !c.SupportsBitDepth(bits) {
			return nil, fault.Configuration("sensor %s: tables for unsupported bit depth %d", c.Name, bits)
		}
		c.BitDepths[bits] = t.Table()
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
