package state

import (
	"fmt"

	"github.com/pixil98/go-errors"
)

// Item is a placed or worn asset instance.
type Item struct {
	ID    string
	Asset string
	Color string
}

func itemFromBundle(b ItemBundle) Item {
	return Item{ID: b.ID, Asset: b.Asset, Color: b.Color}
}

func (i Item) bundle() ItemBundle {
	return ItemBundle{ID: i.ID, Asset: i.Asset, Color: i.Color}
}

// ItemList is an immutable ordered list of items. A state that did not touch
// its items keeps the same *ItemList.
type ItemList struct {
	items []Item
}

// NewItemList copies items into a new list.
func NewItemList(items ...Item) *ItemList {
	return &ItemList{items: append([]Item(nil), items...)}
}

func itemListFromBundles(bs []ItemBundle) *ItemList {
	items := make([]Item, 0, len(bs))
	for _, b := range bs {
		items = append(items, itemFromBundle(b))
	}
	return &ItemList{items: items}
}

// Len returns the number of items.
func (l *ItemList) Len() int {
	return len(l.items)
}

// Items returns a copy of the items.
func (l *ItemList) Items() []Item {
	return append([]Item(nil), l.items...)
}

// Find returns the item with id.
func (l *ItemList) Find(id string) (Item, bool) {
	for _, it := range l.items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// With returns a list with item appended.
func (l *ItemList) With(item Item) *ItemList {
	items := make([]Item, 0, len(l.items)+1)
	items = append(items, l.items...)
	items = append(items, item)
	return &ItemList{items: items}
}

// Without returns a list without the item id. The original list is returned
// unchanged when id is not present.
func (l *ItemList) Without(id string) (*ItemList, bool) {
	for i, it := range l.items {
		if it.ID == id {
			items := make([]Item, 0, len(l.items)-1)
			items = append(items, l.items[:i]...)
			items = append(items, l.items[i+1:]...)
			return &ItemList{items: items}, true
		}
	}
	return l, false
}

func (l *ItemList) bundles() []ItemBundle {
	bs := make([]ItemBundle, 0, len(l.items))
	for _, it := range l.items {
		bs = append(bs, it.bundle())
	}
	return bs
}

func (l *ItemList) validate(catalog *AssetCatalog, kind AssetKind) error {
	el := errors.NewErrorList()

	seen := make(map[string]bool, len(l.items))
	for _, it := range l.items {
		if it.ID == "" {
			el.Add(fmt.Errorf("item id is required"))
			continue
		}
		if seen[it.ID] {
			el.Add(fmt.Errorf("duplicate item id %q", it.ID))
		}
		seen[it.ID] = true

		def, ok := catalog.Asset(it.Asset)
		if !ok {
			el.Add(fmt.Errorf("item %q: unknown asset %q", it.ID, it.Asset))
			continue
		}
		if def.Kind != kind {
			el.Add(fmt.Errorf("item %q: asset %q is %s, expected %s", it.ID, it.Asset, def.Kind, kind))
		}
		if it.Color != "" && !def.Colorizable {
			el.Add(fmt.Errorf("item %q: asset %q is not colorizable", it.ID, it.Asset))
		}
	}

	return el.Err()
}
