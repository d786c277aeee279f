package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadError reports a failure to construct a [Catalog] from its source
// document. It is fatal at process startup — the engine must not run with a
// partially loaded catalog.
type LoadError struct {
	// Source describes where the catalog was being loaded from (file path or
	// "reader").
	Source string

	// Err is the underlying cause.
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("catalog: load %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// itemSpec is the per-item block of the menu YAML format:
//
//	Beef & Pork:
//	  Big Mac:
//	    orderable_as_base: true
//	    modifiers:
//	      - No Pickles
//	      - Extra Sauce
type itemSpec struct {
	OrderableAsBase bool     `yaml:"orderable_as_base"`
	Modifiers       []string `yaml:"modifiers"`
}

// Load reads and parses the menu YAML file at path.
// Any malformed entry fails construction with a [*LoadError].
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}
	defer f.Close()

	c, err := LoadFromReader(f)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Source = path
			return nil, le
		}
		return nil, &LoadError{Source: path, Err: err}
	}
	return c, nil
}

// LoadFromReader parses menu YAML from r. The reader is consumed entirely;
// the caller is responsible for closing it.
//
// The document is decoded through yaml.Node so that the category and item
// order of the source file is preserved in the resulting [Catalog].
func LoadFromReader(r io.Reader) (*Catalog, error) {
	var root yaml.Node
	if err := yaml.NewDecoder(r).Decode(&root); err != nil {
		return nil, &LoadError{Source: "reader", Err: fmt.Errorf("decode yaml: %w", err)}
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) != 1 {
		return nil, &LoadError{Source: "reader", Err: fmt.Errorf("expected a single YAML document")}
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, &LoadError{Source: "reader", Err: fmt.Errorf("top level must be a mapping of category → items, got %s", nodeKind(doc))}
	}

	c := &Catalog{items: make(map[string][]Item)}

	for i := 0; i < len(doc.Content); i += 2 {
		keyNode, valNode := doc.Content[i], doc.Content[i+1]
		category := strings.TrimSpace(keyNode.Value)
		if category == "" {
			return nil, &LoadError{Source: "reader", Err: fmt.Errorf("line %d: category name must not be empty", keyNode.Line)}
		}
		if _, dup := c.items[category]; dup {
			return nil, &LoadError{Source: "reader", Err: fmt.Errorf("line %d: duplicate category %q", keyNode.Line, category)}
		}

		items, err := decodeCategory(category, valNode)
		if err != nil {
			return nil, &LoadError{Source: "reader", Err: err}
		}

		c.categories = append(c.categories, category)
		c.items[category] = items
	}

	if len(c.categories) == 0 {
		return nil, &LoadError{Source: "reader", Err: fmt.Errorf("catalog must contain at least one category")}
	}
	return c, nil
}

// decodeCategory decodes the item mapping under one category node.
func decodeCategory(category string, node *yaml.Node) ([]Item, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: category %q must map item names to item specs, got %s", node.Line, category, nodeKind(node))
	}

	var items []Item
	seen := make(map[string]struct{}, len(node.Content)/2)

	for i := 0; i < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		name := strings.TrimSpace(keyNode.Value)
		if name == "" {
			return nil, fmt.Errorf("line %d: item name in category %q must not be empty", keyNode.Line, category)
		}
		lower := strings.ToLower(name)
		if _, dup := seen[lower]; dup {
			return nil, fmt.Errorf("line %d: duplicate item %q in category %q", keyNode.Line, name, category)
		}
		seen[lower] = struct{}{}

		var spec itemSpec
		raw, err := yaml.Marshal(valNode)
		if err != nil {
			return nil, fmt.Errorf("line %d: item %q in category %q: %w", valNode.Line, name, category, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&spec); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("line %d: item %q in category %q: %w", valNode.Line, name, category, err)
		}

		mods, err := buildModifiers(category, name, spec.Modifiers)
		if err != nil {
			return nil, err
		}

		items = append(items, Item{
			Category:        category,
			Name:            name,
			OrderableAsBase: spec.OrderableAsBase,
			Modifiers:       mods,
		})
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("category %q must contain at least one item", category)
	}
	return items, nil
}

// buildModifiers converts the modifier name list of one item into [Modifier]
// values with stable, slug-derived IDs. Duplicate names (case-insensitive)
// within one item fail construction.
func buildModifiers(category, item string, names []string) ([]Modifier, error) {
	mods := make([]Modifier, 0, len(names))
	seen := make(map[string]struct{}, len(names))

	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("item %q in category %q: modifier name must not be empty", item, category)
		}
		lower := strings.ToLower(name)
		if _, dup := seen[lower]; dup {
			return nil, fmt.Errorf("item %q in category %q: duplicate modifier %q", item, category, name)
		}
		seen[lower] = struct{}{}

		mods = append(mods, Modifier{ID: slug(lower), Name: name})
	}
	return mods, nil
}

// slug converts a lowercase modifier name into its ID form: runs of
// non-alphanumeric characters collapse to single hyphens.
func slug(s string) string {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// nodeKind returns a human-readable label for a YAML node kind.
func nodeKind(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
