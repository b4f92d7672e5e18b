package entitycache

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshgate/pkg/domain"
)

func TestFingerprint(t *testing.T) {
	t.Run("independent of key order", func(t *testing.T) {
		a, err := Fingerprint("products.list", map[string]any{"page": 1, "pageSize": 10, "sort": "name"})
		require.NoError(t, err)
		b, err := Fingerprint("products.list", map[string]any{"sort": "name", "pageSize": 10, "page": 1})
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("nested maps are canonical too", func(t *testing.T) {
		a, _ := Fingerprint("x", map[string]any{"q": map[string]any{"b": 1, "a": 2}})
		b, _ := Fingerprint("x", map[string]any{"q": map[string]any{"a": 2, "b": 1}})
		assert.Equal(t, a, b)
	})

	t.Run("differs by action and by value", func(t *testing.T) {
		a, _ := Fingerprint("products.get", map[string]any{"id": "1"})
		b, _ := Fingerprint("user.get", map[string]any{"id": "1"})
		c, _ := Fingerprint("products.get", map[string]any{"id": "2"})
		assert.NotEqual(t, a, b)
		assert.NotEqual(t, a, c)
		assert.Contains(t, a, "products.get:")
	})

	t.Run("nil and empty params agree", func(t *testing.T) {
		a, _ := Fingerprint("x", nil)
		b, _ := Fingerprint("x", map[string]any{})
		assert.Equal(t, a, b)
	})

	t.Run("unencodable params fail", func(t *testing.T) {
		_, err := Fingerprint("x", map[string]any{"ch": make(chan int)})
		assert.Error(t, err)
	})
}

func TestPolicyKeyFor(t *testing.T) {
	caller := &domain.Identity{UserID: domain.NewUserID()}

	t.Run("only declared keys count", func(t *testing.T) {
		p := Policy{TTL: time.Minute, Keys: []string{"page"}}
		a, err := p.KeyFor("products.list", map[string]any{"page": 1, "noise": "a"}, nil)
		require.NoError(t, err)
		b, err := p.KeyFor("products.list", map[string]any{"page": 1, "noise": "b"}, nil)
		require.NoError(t, err)
		assert.Equal(t, a.Fingerprint, b.Fingerprint)
		assert.Equal(t, time.Minute, a.TTL)
	})

	t.Run("nil keys select every param", func(t *testing.T) {
		p := Policy{TTL: time.Minute}
		a, _ := p.KeyFor("x", map[string]any{"a": 1}, nil)
		b, _ := p.KeyFor("x", map[string]any{"a": 2}, nil)
		assert.NotEqual(t, a.Fingerprint, b.Fingerprint)
	})

	t.Run("meta keys read the caller", func(t *testing.T) {
		p := Policy{TTL: time.Minute, Keys: []string{"#userID"}}
		other := &domain.Identity{UserID: domain.NewUserID()}
		a, _ := p.KeyFor("user.me", nil, caller)
		b, _ := p.KeyFor("user.me", nil, other)
		c, _ := p.KeyFor("user.me", nil, caller)
		assert.NotEqual(t, a.Fingerprint, b.Fingerprint)
		assert.Equal(t, a.Fingerprint, c.Fingerprint)
	})

	t.Run("kind-wide dependency tags", func(t *testing.T) {
		p := Policy{TTL: time.Minute, DependsOn: []Dependency{{Kind: domain.EntityProduct}}}
		key, err := p.KeyFor("products.list", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"product", "product:*"}, key.Tags)
		assert.Equal(t, []domain.EntityKind{domain.EntityProduct}, key.Kinds)
	})

	t.Run("id-scoped dependency tags", func(t *testing.T) {
		p := Policy{TTL: time.Minute, DependsOn: []Dependency{{Kind: domain.EntityProduct, IDParam: "id"}}}
		key, err := p.KeyFor("products.get", map[string]any{"id": "p1"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"product", "product:p1"}, key.Tags)
	})

	t.Run("id-scoped dependency without id falls back to kind-wide", func(t *testing.T) {
		p := Policy{TTL: time.Minute, DependsOn: []Dependency{{Kind: domain.EntityUser, IDParam: "id"}}}
		key, err := p.KeyFor("user.get", map[string]any{}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"user", "user:*"}, key.Tags)
	})

	t.Run("id spellings are canonicalized for tag and fingerprint", func(t *testing.T) {
		p := Policy{
			TTL:       time.Minute,
			Keys:      []string{"id"},
			DependsOn: []Dependency{{Kind: domain.EntityUser, IDParam: "id", Canonical: domain.CanonicalUserID}},
		}
		id := domain.NewUserID().String()
		params := map[string]any{"id": strings.ToUpper(id)}

		upper, err := p.KeyFor("user.get", params, nil)
		require.NoError(t, err)
		urn, err := p.KeyFor("user.get", map[string]any{"id": "urn:uuid:" + id}, nil)
		require.NoError(t, err)
		lower, err := p.KeyFor("user.get", map[string]any{"id": id}, nil)
		require.NoError(t, err)

		assert.Equal(t, []string{"user", "user:" + id}, upper.Tags)
		assert.Equal(t, lower.Fingerprint, upper.Fingerprint)
		assert.Equal(t, lower.Fingerprint, urn.Fingerprint)
		assert.Equal(t, strings.ToUpper(id), params["id"], "caller's params untouched")
	})

	t.Run("id rejected by Canonical falls back to kind-wide", func(t *testing.T) {
		p := Policy{TTL: time.Minute, DependsOn: []Dependency{{Kind: domain.EntityProduct, IDParam: "id", Canonical: domain.CanonicalProductID}}}
		key, err := p.KeyFor("products.get", map[string]any{"id": "not-an-id"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"product", "product:*"}, key.Tags)
	})

	t.Run("zero ttl disables", func(t *testing.T) {
		assert.False(t, Policy{}.Enabled())
		assert.True(t, Policy{TTL: time.Second}.Enabled())
	})
}

func TestTagsToDrop(t *testing.T) {
	assert.Equal(t, []string{"product"}, tagsToDrop(domain.EntityProduct, ""))
	assert.Equal(t, []string{"product:*", "product:42"}, tagsToDrop(domain.EntityProduct, "42"))
}
