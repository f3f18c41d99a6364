// Package selector resolves the small selector grammar used throughout
// item dependency attributes ("needs", "triggers", and friends) against a
// concrete item set: "bundle:NAME", "tag:T", "kind:" and "kind:name".
package selector

import (
	"strings"

	"github.com/MaZderMind/bwmeta/internal/bwerrors"
	"github.com/MaZderMind/bwmeta/internal/model"
)

// Resolve returns every item in items matched by selector.
//
//   - "bundle:NAME" matches items whose Bundle equals NAME.
//   - "tag:T" matches items that carry T in their Tags.
//   - "kind:" (empty rest) matches every item of that kind.
//   - "kind:name" matches the single item with that id; it is an error if
//     no such item exists.
//
// A selector with no colon at all is an *bwerrors.InputError.
func Resolve(selector string, items []*model.Item) ([]*model.Item, error) {
	prefix, rest, err := split(selector)
	if err != nil {
		return nil, err
	}

	switch prefix {
	case "bundle":
		var out []*model.Item
		for _, it := range items {
			if it.Bundle == rest {
				out = append(out, it)
			}
		}
		return out, nil
	case "tag":
		var out []*model.Item
		for _, it := range items {
			if hasTag(it, rest) {
				out = append(out, it)
			}
		}
		return out, nil
	default:
		if rest == "" {
			var out []*model.Item
			for _, it := range items {
				if it.Kind == prefix {
					out = append(out, it)
				}
			}
			return out, nil
		}
		item, err := Find(selector, items)
		if err != nil {
			return nil, err
		}
		return []*model.Item{item}, nil
	}
}

// Find returns the item whose id equals id, or a *bwerrors.NoSuchItem
// error if none does.
func Find(id string, items []*model.Item) (*model.Item, error) {
	for _, it := range items {
		if it.ID == id {
			return it, nil
		}
	}
	return nil, &bwerrors.NoSuchItem{ID: id}
}

func split(selector string) (prefix, rest string, err error) {
	i := strings.IndexByte(selector, ':')
	if i < 0 {
		return "", "", &bwerrors.InputError{Msg: "invalid selector (missing ':'): " + selector}
	}
	return selector[:i], selector[i+1:], nil
}

func hasTag(it *model.Item, tag string) bool {
	for _, t := range it.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
