package state

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/pixil98/go-errors"
	"github.com/zeebo/blake3"
)

// AssetKind says where an asset may be placed.
type AssetKind string

const (
	AssetKindPersonal  AssetKind = "personal"  // Worn or held by a character
	AssetKindFurniture AssetKind = "furniture" // Placed inside a room
)

// AssetDefinition is one entry of the asset catalog.
type AssetDefinition struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Kind        AssetKind `json:"kind"`
	Colorizable bool      `json:"colorizable,omitempty"`
}

func (d *AssetDefinition) Validate() error {
	el := errors.NewErrorList()

	if d.ID == "" {
		el.Add(fmt.Errorf("asset id is required"))
	}
	if d.Name == "" {
		el.Add(fmt.Errorf("asset %q: name is required", d.ID))
	}
	switch d.Kind {
	case AssetKindPersonal, AssetKindFurniture:
	default:
		el.Add(fmt.Errorf("asset %q: invalid kind %q", d.ID, d.Kind))
	}

	return el.Err()
}

// AssetCatalog is an immutable, hash-identified table of asset definitions.
// States only ever hold a pointer to it; two states are compatible when they
// hold the same pointer.
type AssetCatalog struct {
	hash   string
	assets map[string]AssetDefinition
}

// NewAssetCatalog validates defs and computes the catalog hash.
func NewAssetCatalog(defs []AssetDefinition) (*AssetCatalog, error) {
	el := errors.NewErrorList()

	assets := make(map[string]AssetDefinition, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			el.Add(err)
			continue
		}
		if _, ok := assets[d.ID]; ok {
			el.Add(fmt.Errorf("duplicate asset id %q", d.ID))
			continue
		}
		assets[d.ID] = d
	}
	if err := el.Err(); err != nil {
		return nil, err
	}

	c := &AssetCatalog{assets: assets}

	data, err := json.Marshal(c.Definitions())
	if err != nil {
		return nil, fmt.Errorf("encoding catalog: %w", err)
	}
	sum := blake3.Sum256(data)
	c.hash = hex.EncodeToString(sum[:])

	return c, nil
}

// LoadAssetCatalog reads a JSON array of asset definitions from path.
func LoadAssetCatalog(path string) (*AssetCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading asset catalog: %w", err)
	}

	var defs []AssetDefinition
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("unmarshalling asset catalog: %w", err)
	}

	return NewAssetCatalog(defs)
}

// Hash identifies the catalog version.
func (c *AssetCatalog) Hash() string {
	return c.hash
}

// Asset returns the definition for id.
func (c *AssetCatalog) Asset(id string) (AssetDefinition, bool) {
	d, ok := c.assets[id]
	return d, ok
}

// Definitions returns all definitions sorted by id.
func (c *AssetCatalog) Definitions() []AssetDefinition {
	defs := make([]AssetDefinition, 0, len(c.assets))
	for _, d := range c.assets {
		defs = append(defs, d)
	}
	slices.SortFunc(defs, func(a, b AssetDefinition) int {
		return strings.Compare(a.ID, b.ID)
	})
	return defs
}
