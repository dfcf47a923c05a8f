package mimicidx

import (
	"os"

	"github.com/jinzhu/copier"
	"gopkg.in/yaml.v3"
)

// Descriptor is the immutable record the Catalog holds per dataset: a short id,
// the path to its gzip file, its expected row count, and the name of
// its sort column. Populated at initialization, read-only
// thereafter.
type Descriptor struct {
	DatasetID  string `yaml:"dataset_id"`
	FilePath   string `yaml:"file_path"`
	RowCount   int64  `yaml:"row_count"`
	SortColumn string `yaml:"sort_column"`
}

// Catalog is the process-wide dataset registry. Unlike
// a bare module-level global, Catalog is an
// explicitly-constructed value passed into Builders and QueryEngines
// -- construct once at startup, never
// mutate concurrently with reads.
type Catalog struct {
	descriptors map[string]Descriptor
	order       []string
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{descriptors: make(map[string]Descriptor)}
}

// Register adds descriptor to the catalog. It rejects duplicate
// dataset ids rather than overwriting silently.
func (c *Catalog) Register(d Descriptor) error {
	if d.DatasetID == "" {
		return errUsage("dataset descriptor is missing a dataset_id")
	}
	if _, exists := c.descriptors[d.DatasetID]; exists {
		return errUsage("dataset %q is already registered", d.DatasetID)
	}
	c.descriptors[d.DatasetID] = d
	c.order = append(c.order, d.DatasetID)
	return nil
}

// Lookup returns the descriptor for id, and whether it was found. The
// returned value is a defensive copy (via copier) so a
// caller can never reach back in and mutate the catalog's own copy.
func (c *Catalog) Lookup(id string) (Descriptor, bool) {
	d, ok := c.descriptors[id]
	if !ok {
		return Descriptor{}, false
	}
	var clone Descriptor
	if err := copier.Copy(&clone, &d); err != nil {
		// Descriptor is a flat value type; copier cannot fail on it in
		// practice, but fall back to the direct copy rather than panic.
		return d, true
	}
	return clone, true
}

// IDs returns the registered dataset ids in registration order.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// catalogFile is the on-disk shape of a catalog manifest: a plain list
// of dataset descriptors, replacing a hardcoded ids map
// (`{"chartevents": {"rows": ..., "ordered_by": "subject_id"}}`) with a
// file an operator edits without touching code.
type catalogFile struct {
	Datasets []Descriptor `yaml:"datasets"`
}

// LoadCatalog reads a catalog manifest from path and registers every
// descriptor it names. Paths in the manifest are resolved relative to
// baseDir if they are not already absolute.
func LoadCatalog(path, baseDir string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errIO(path, err)
	}

	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, errUsage("catalog manifest %q is malformed: %s", path, err)
	}

	catalog := NewCatalog()
	for _, d := range cf.Datasets {
		if !isAbsPath(d.FilePath) {
			d.FilePath = baseDir + string(os.PathSeparator) + d.FilePath
		}
		if err := catalog.Register(d); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

func isAbsPath(p string) bool {
	return len(p) > 0 && p[0] == os.PathSeparator
}
