// Package schema exposes the embedded NWB namespace and extension
// definitions of ndx-extracellular-channels for runtime use.
package schema

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

// NamespaceName is the name the extension registers under.
const NamespaceName = "ndx-extracellular-channels"

// Namespace captures one entry of the namespace document.
type Namespace struct {
	Name    string         `yaml:"name"`
	Doc     string         `yaml:"doc"`
	Version string         `yaml:"version"`
	Author  []string       `yaml:"author"`
	Contact []string       `yaml:"contact"`
	Schema  []SchemaSource `yaml:"schema"`
}

// SchemaSource is either a namespace include or a source file.
type SchemaSource struct {
	Namespace string `yaml:"namespace,omitempty"`
	Source    string `yaml:"source,omitempty"`
}

// Attribute is an attribute declared on a group or dataset.
type Attribute struct {
	Name     string `yaml:"name"`
	DType    string `yaml:"dtype"`
	Doc      string `yaml:"doc"`
	Required *bool  `yaml:"required,omitempty"`
	Value    any    `yaml:"value,omitempty"`
	Default  any    `yaml:"default_value,omitempty"`
}

// Dataset is a dataset declared inside a type.
type Dataset struct {
	Name       string      `yaml:"name"`
	TypeInc    string      `yaml:"neurodata_type_inc,omitempty"`
	DType      string      `yaml:"dtype,omitempty"`
	Doc        string      `yaml:"doc"`
	Quantity   string      `yaml:"quantity,omitempty"`
	Attributes []Attribute `yaml:"attributes,omitempty"`
}

// Optional reports whether the dataset may be absent.
func (d Dataset) Optional() bool { return d.Quantity == "?" }

// Link is a link from one type to another.
type Link struct {
	Name       string `yaml:"name"`
	TargetType string `yaml:"target_type"`
	Doc        string `yaml:"doc"`
}

// TypeSpec is one neurodata type definition, or an included sub group.
type TypeSpec struct {
	TypeDef     string      `yaml:"neurodata_type_def,omitempty"`
	TypeInc     string      `yaml:"neurodata_type_inc,omitempty"`
	Name        string      `yaml:"name,omitempty"`
	DefaultName string      `yaml:"default_name,omitempty"`
	Doc         string      `yaml:"doc"`
	Quantity    string      `yaml:"quantity,omitempty"`
	Attributes  []Attribute `yaml:"attributes,omitempty"`
	Datasets    []Dataset   `yaml:"datasets,omitempty"`
	Groups      []TypeSpec  `yaml:"groups,omitempty"`
	Links       []Link      `yaml:"links,omitempty"`
}

type namespaceDoc struct {
	Namespaces []Namespace `yaml:"namespaces"`
}

type extensionsDoc struct {
	Groups []TypeSpec `yaml:"groups"`
}

//go:embed ndx-extracellular-channels.namespace.yaml
var namespaceYAML []byte

//go:embed ndx-extracellular-channels.extensions.yaml
var extensionsYAML []byte

var (
	nsOnce sync.Once
	nsVal  Namespace
	nsErr  error

	extOnce sync.Once
	extVal  []TypeSpec
	extErr  error
)

// LoadNamespace returns the ndx-extracellular-channels namespace entry.
func LoadNamespace() (Namespace, error) {
	nsOnce.Do(func() {
		var doc namespaceDoc
		if nsErr = yaml.Unmarshal(namespaceYAML, &doc); nsErr != nil {
			nsErr = fmt.Errorf("decode namespace: %w", nsErr)
			return
		}
		for _, ns := range doc.Namespaces {
			if ns.Name == NamespaceName {
				nsVal = ns
				return
			}
		}
		nsErr = fmt.Errorf("namespace %s not declared", NamespaceName)
	})
	return nsVal, nsErr
}

// Version returns the declared extension version.
func Version() (string, error) {
	ns, err := LoadNamespace()
	if err != nil {
		return "", err
	}
	return ns.Version, nil
}

// Extensions returns every type defined by the extension in declaration order.
func Extensions() ([]TypeSpec, error) {
	extOnce.Do(func() {
		var doc extensionsDoc
		if extErr = yaml.Unmarshal(extensionsYAML, &doc); extErr != nil {
			extErr = fmt.Errorf("decode extensions: %w", extErr)
			return
		}
		extVal = doc.Groups
	})
	return extVal, extErr
}

// Type looks up a type definition by neurodata type name.
func Type(name string) (TypeSpec, error) {
	types, err := Extensions()
	if err != nil {
		return TypeSpec{}, err
	}
	for _, spec := range types {
		if spec.TypeDef == name {
			return spec, nil
		}
	}
	return TypeSpec{}, fmt.Errorf("type %s not defined", name)
}

// DatasetNames lists the dataset names of a type in declaration order.
func DatasetNames(typeName string) ([]string, error) {
	spec, err := Type(typeName)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(spec.Datasets))
	for i, ds := range spec.Datasets {
		names[i] = ds.Name
	}
	return names, nil
}
