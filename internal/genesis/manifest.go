package genesis

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"gopkg.in/yaml.v3"

	"NFTForge/internal/collection"
	"NFTForge/internal/stateinit"
)

//go:embed manifest.schema.json
var manifestSchema string

const schemaURL = "manifest.schema.json"

// ErrDuplicateName is returned when two collections share a name.
var ErrDuplicateName = errors.New("duplicate collection name")

// Manifest lists the collections published at genesis.
type Manifest struct {
	Collections []CollectionSpec `yaml:"collections"`
}

// CollectionSpec describes one collection. Empty addresses default to the deployer.
type CollectionSpec struct {
	Name              string      `yaml:"name"`
	Owner             string      `yaml:"owner"`
	CollectionContent string      `yaml:"collection_content"`
	CommonContent     string      `yaml:"common_content"`
	NextItemIndex     uint64      `yaml:"next_item_index"`
	Balance           Coins       `yaml:"balance"`
	Royalty           RoyaltySpec `yaml:"royalty"`
	Items             []ItemSpec  `yaml:"items"`
}

// RoyaltySpec is the royalty split of a collection.
type RoyaltySpec struct {
	Factor  uint16 `yaml:"factor"`
	Base    uint16 `yaml:"base"`
	Address string `yaml:"address"`
}

// ItemSpec is an item minted right after deployment.
type ItemSpec struct {
	Owner   string `yaml:"owner"`
	Content string `yaml:"content"`
	Amount  Coins  `yaml:"amount"`
}

// Coins is an amount in nano units. In YAML it is either an integer number of
// nano units or a decimal string of whole coins, e.g. "0.05".
type Coins uint64

func (c *Coins) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!int" {
		var n uint64
		if err := node.Decode(&n); err != nil {
			return err
		}
		*c = Coins(n)
		return nil
	}

	v, err := tlb.FromTON(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: coins %q: %w", node.Line, node.Value, err)
	}

	nano := v.Nano()
	if nano.Sign() < 0 || !nano.IsUint64() {
		return fmt.Errorf("line %d: coins %q out of range", node.Line, node.Value)
	}
	*c = Coins(nano.Uint64())

	return nil
}

// Load reads and validates a manifest file.
func Load(path string) (Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest:\n%w", err)
	}

	m, err := Parse(b)
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", path, err)
	}

	return m, nil
}

// Parse decodes a YAML manifest, checks it against the schema and validates
// every royalty before anything is published.
func Parse(data []byte) (Manifest, error) {
	if err := validateSchema(data); err != nil {
		return Manifest{}, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}

	seen := make(map[string]bool, len(m.Collections))

	for _, c := range m.Collections {
		if seen[c.Name] {
			return Manifest{}, fmt.Errorf("%w: %q", ErrDuplicateName, c.Name)
		}
		seen[c.Name] = true

		r := collection.RoyaltyParams{Factor: c.Royalty.Factor, Base: c.Royalty.Base}
		if err := r.Validate(); err != nil {
			return Manifest{}, fmt.Errorf("collection %q: %w", c.Name, err)
		}

		for _, s := range []string{c.Owner, c.Royalty.Address} {
			if _, err := resolve(s, nil); err != nil {
				return Manifest{}, fmt.Errorf("collection %q: %w", c.Name, err)
			}
		}

		for i, it := range c.Items {
			if _, err := resolve(it.Owner, nil); err != nil {
				return Manifest{}, fmt.Errorf("collection %q item %d: %w", c.Name, i, err)
			}
		}
	}

	return m, nil
}

// validateSchema checks the YAML document against the embedded JSON schema.
// The document goes through JSON so the validator sees JSON types.
func validateSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode manifest: %w", err)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("manifest is not representable as json: %w", err)
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, strings.NewReader(manifestSchema)); err != nil {
		return fmt.Errorf("load schema: %w", err)
	}

	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}

	return nil
}

// resolve parses s, returning fallback when s is empty.
func resolve(s string, fallback *address.Address) (*address.Address, error) {
	if s == "" {
		return fallback, nil
	}

	a, err := stateinit.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("address %q: %w", s, err)
	}

	if !stateinit.IsStd(a) {
		return nil, fmt.Errorf("address %q is not a standard address", s)
	}

	return a, nil
}
