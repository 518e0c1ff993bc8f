package roles

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// ErrEmptyCatalog is returned when a catalog defines no roles.
var ErrEmptyCatalog = errors.New("roles: catalog has no roles")

// Catalog is the static, read-only mapping from role type to permissions.
// It is safe for concurrent use once built.
type Catalog struct {
	roles   map[string]Role
	order   []string
	aliases map[string][]string
}

// NewCatalog validates and indexes the given roles. Aliases are made symmetric:
// declaring a -> b also makes b -> a.
func NewCatalog(list []Role, aliases map[string][]string) (*Catalog, error) {
	if len(list) == 0 {
		return nil, ErrEmptyCatalog
	}
	c := &Catalog{
		roles:   make(map[string]Role, len(list)),
		aliases: make(map[string][]string),
	}
	for _, r := range list {
		name := Normalize(r.Name)
		if name == "" {
			return nil, errors.New("roles: role name required")
		}
		if _, dup := c.roles[name]; dup {
			return nil, fmt.Errorf("roles: duplicate role %q", name)
		}
		r.Name = name
		if strings.TrimSpace(r.DisplayName) == "" {
			r.DisplayName = displayName(name)
		}
		r.Permissions = normalizeList(r.Permissions)
		c.roles[name] = r
		c.order = append(c.order, name)
	}
	for from, targets := range aliases {
		from = Normalize(from)
		for _, to := range targets {
			to = Normalize(to)
			if from == "" || to == "" || from == to {
				continue
			}
			c.addAlias(from, to)
			c.addAlias(to, from)
		}
	}
	return c, nil
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultRoles(), DefaultAliases())
	if err != nil {
		panic(err)
	}
	return c
}

type catalogFile struct {
	Roles   map[string]Role     `yaml:"roles"`
	Aliases map[string][]string `yaml:"aliases"`
}

// LoadFile reads a YAML catalog. An empty path yields the default catalog.
func LoadFile(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("roles: read catalog: %w", err)
	}
	return Parse(raw)
}

// Parse builds a catalog from YAML.
func Parse(raw []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("roles: parse catalog: %w", err)
	}
	names := make([]string, 0, len(file.Roles))
	for name := range file.Roles {
		names = append(names, name)
	}
	sort.Strings(names)
	list := make([]Role, 0, len(names))
	for _, name := range names {
		r := file.Roles[name]
		r.Name = name
		list = append(list, r)
	}
	return NewCatalog(list, file.Aliases)
}

// Has reports whether role is a catalog key. Aliases do not count.
func (c *Catalog) Has(role string) bool {
	_, ok := c.roles[Normalize(role)]
	return ok
}

// Lookup returns the catalog entry for role, following aliases when the
// name itself is not a catalog key.
func (c *Catalog) Lookup(role string) (Role, bool) {
	role = Normalize(role)
	if r, ok := c.roles[role]; ok {
		return r, true
	}
	for _, alias := range c.aliases[role] {
		if r, ok := c.roles[alias]; ok {
			return r, true
		}
	}
	return Role{}, false
}

// Equivalents returns role followed by every name declared equivalent to it.
func (c *Catalog) Equivalents(role string) []string {
	role = Normalize(role)
	out := []string{role}
	return append(out, c.aliases[role]...)
}

// Permissions returns the union of permissions granted by held. Unknown role
// types are skipped.
func (c *Catalog) Permissions(held []string) map[string]struct{} {
	perms := make(map[string]struct{})
	for _, name := range held {
		r, ok := c.Lookup(name)
		if !ok {
			continue
		}
		for _, p := range r.Permissions {
			perms[p] = struct{}{}
		}
	}
	return perms
}

// Roles lists catalog entries in declaration order.
func (c *Catalog) Roles() []Role {
	out := make([]Role, 0, len(c.order))
	for _, name := range c.order {
		r := c.roles[name]
		r.Permissions = append([]string(nil), r.Permissions...)
		out = append(out, r)
	}
	return out
}

func (c *Catalog) addAlias(from, to string) {
	for _, existing := range c.aliases[from] {
		if existing == to {
			return
		}
	}
	c.aliases[from] = append(c.aliases[from], to)
}

// Normalize canonicalises a role or permission name.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func normalizeList(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = Normalize(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func displayName(name string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(name, "_", " "))
}
