package access

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed tables/*.yaml
var builtinTables embed.FS

//go:embed schema.json
var tableSchema []byte

// ErrUnknownTable is returned when a recipe names a table the catalog does
// not hold.
var ErrUnknownTable = errors.New("unknown permission table")

type tableFile struct {
	Name    string `yaml:"name"`
	Entries Table  `yaml:"entries"`
}

// Catalog holds every named permission table and fragment.
type Catalog struct {
	tables map[string]Table
}

// LoadCatalog reads the embedded tables. When overrideDir is not empty, any
// *.yaml file in it replaces the embedded table of the same name or adds a
// new one.
func LoadCatalog(overrideDir string) (*Catalog, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("compile table schema: %w", err)
	}
	sub, err := fs.Sub(builtinTables, "tables")
	if err != nil {
		return nil, err
	}
	c := &Catalog{tables: make(map[string]Table)}
	if err := c.loadFS(sub, schema); err != nil {
		return nil, fmt.Errorf("builtin tables: %w", err)
	}
	if overrideDir != "" {
		if err := c.loadFS(os.DirFS(overrideDir), schema); err != nil {
			return nil, fmt.Errorf("override tables %s: %w", overrideDir, err)
		}
	}
	return c, nil
}

// MustLoadCatalog is LoadCatalog for the embedded data only; it panics on
// error since the embedded files are fixed at build time.
func MustLoadCatalog() *Catalog {
	c, err := LoadCatalog("")
	if err != nil {
		panic(err)
	}
	return c
}

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(tableSchema)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func (c *Catalog) loadFS(fsys fs.FS, schema *jsonschema.Schema) error {
	files, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return err
	}
	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		tf, err := decodeTable(data, schema)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if want := strings.TrimSuffix(path.Base(name), ".yaml"); tf.Name != want {
			return fmt.Errorf("%s: table name %q does not match file name", name, tf.Name)
		}
		c.tables[tf.Name] = tf.Entries
	}
	return nil
}

func decodeTable(data []byte, schema *jsonschema.Schema) (tableFile, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return tableFile{}, fmt.Errorf("parse yaml: %w", err)
	}
	// the validator wants the value shapes encoding/json produces
	js, err := json.Marshal(raw)
	if err != nil {
		return tableFile{}, fmt.Errorf("convert yaml: %w", err)
	}
	var doc any
	if err := json.Unmarshal(js, &doc); err != nil {
		return tableFile{}, fmt.Errorf("convert yaml: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return tableFile{}, fmt.Errorf("schema: %w", err)
	}
	var tf tableFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return tableFile{}, fmt.Errorf("decode table: %w", err)
	}
	return tf, nil
}

// Table returns a copy of the named table.
func (c *Catalog) Table(name string) (Table, error) {
	t, ok := c.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	return t.Concat(), nil
}

// Names lists the loaded tables in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.tables))
	for n := range c.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
