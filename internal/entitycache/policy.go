package entitycache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"meshgate/pkg/domain"
)

// metaPrefix marks policy keys that read call metadata instead of params.
const metaPrefix = "#"

// Dependency declares that an action's results depend on an entity kind.
// With IDParam set, only mutations of the entity whose id is in that param
// (and kind-wide invalidations) drop the entry.
type Dependency struct {
	Kind    domain.EntityKind
	IDParam string
	// Canonical rewrites the id param into the form mutations are published
	// with. An id it rejects scopes the entry to the whole kind.
	Canonical func(raw string) (string, error)
}

// Policy is the cache declaration attached to an action. A zero TTL disables
// caching for the action.
type Policy struct {
	TTL time.Duration
	// Keys selects the cache-relevant params. Nil means all params.
	// "#userID" selects the caller's user id.
	Keys      []string
	DependsOn []Dependency
}

func (p Policy) Enabled() bool { return p.TTL > 0 }

// Key identifies one cacheable call.
type Key struct {
	Fingerprint string
	TTL         time.Duration
	Tags        []string
	Kinds       []domain.EntityKind
}

// KeyFor derives the cache key of a call to action with params.
func (p Policy) KeyFor(action string, params map[string]any, identity *domain.Identity) (Key, error) {
	params, rejected := p.canonicalIDs(params)
	selected := p.selectParams(params, identity)
	fp, err := Fingerprint(action, selected)
	if err != nil {
		return Key{}, err
	}
	key := Key{Fingerprint: fp, TTL: p.TTL}
	for _, dep := range p.DependsOn {
		kind := string(dep.Kind)
		key.Tags = append(key.Tags, kind)
		if !slices.Contains(key.Kinds, dep.Kind) {
			key.Kinds = append(key.Kinds, dep.Kind)
		}
		if dep.IDParam == "" {
			key.Tags = append(key.Tags, kindWideTag(dep.Kind))
			continue
		}
		id, ok := params[dep.IDParam]
		if !ok || id == nil || fmt.Sprint(id) == "" || rejected[dep.IDParam] {
			// no id to scope by: any mutation of the kind may matter
			key.Tags = append(key.Tags, kindWideTag(dep.Kind))
			continue
		}
		key.Tags = append(key.Tags, entityTag(dep.Kind, fmt.Sprint(id)))
	}
	slices.Sort(key.Tags)
	key.Tags = slices.Compact(key.Tags)
	return key, nil
}

// canonicalIDs returns params with every declared id param in canonical
// form, copying the map only when a value changes. It also reports the id
// params Canonical rejected.
func (p Policy) canonicalIDs(params map[string]any) (map[string]any, map[string]bool) {
	var rejected map[string]bool
	copied := false
	for _, dep := range p.DependsOn {
		if dep.IDParam == "" || dep.Canonical == nil {
			continue
		}
		raw, ok := params[dep.IDParam]
		if !ok || raw == nil {
			continue
		}
		canonical, err := dep.Canonical(fmt.Sprint(raw))
		if err != nil {
			if rejected == nil {
				rejected = make(map[string]bool)
			}
			rejected[dep.IDParam] = true
			continue
		}
		if canonical == raw {
			continue
		}
		if !copied {
			params = maps.Clone(params)
			copied = true
		}
		params[dep.IDParam] = canonical
	}
	return params, rejected
}

func (p Policy) selectParams(params map[string]any, identity *domain.Identity) map[string]any {
	if p.Keys == nil {
		return params
	}
	out := make(map[string]any, len(p.Keys))
	for _, k := range p.Keys {
		if meta, ok := strings.CutPrefix(k, metaPrefix); ok {
			out[k] = metaValue(meta, identity)
			continue
		}
		if v, ok := params[k]; ok {
			out[k] = v
		}
	}
	return out
}

func metaValue(name string, identity *domain.Identity) any {
	if identity == nil {
		return nil
	}
	switch name {
	case "userID":
		return identity.UserID.String()
	case "roles":
		return identity.Roles.Strings()
	default:
		return nil
	}
}

// Fingerprint returns action + ":" + the hex SHA-256 of the canonical JSON of
// params. encoding/json writes map keys sorted, so key order never matters.
func Fingerprint(action string, params map[string]any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	canonical, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode cache params for %s: %w", action, err)
	}
	sum := sha256.Sum256(canonical)
	return action + ":" + hex.EncodeToString(sum[:]), nil
}

func kindWideTag(kind domain.EntityKind) string {
	return string(kind) + ":*"
}

func entityTag(kind domain.EntityKind, id string) string {
	return string(kind) + ":" + id
}

// tagsToDrop maps an invalidation to the tags it removes.
func tagsToDrop(kind domain.EntityKind, id string) []string {
	if id == "" {
		return []string{string(kind)}
	}
	return []string{kindWideTag(kind), entityTag(kind, id)}
}
