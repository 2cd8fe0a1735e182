package gotype

import (
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Options controls how entities are mapped to documents.
type Options struct {
	// StoreNulls writes nil pointers, slices, maps and interfaces as explicit
	// nulls instead of omitting them.
	StoreNulls bool `yaml:"storeNulls"`
	// StoreEmpties writes empty slices and maps instead of omitting them.
	StoreEmpties bool `yaml:"storeEmpties"`
	// IgnoreFinals skips properties tagged readonly on encode.
	IgnoreFinals bool `yaml:"ignoreFinals"`
	// AlwaysDiscriminate writes the discriminator for every entity, not only
	// for values held in interface-typed properties.
	AlwaysDiscriminate bool `yaml:"alwaysDiscriminate"`
	// DiscriminatorKey is the default field holding the discriminator.
	DiscriminatorKey string `yaml:"discriminatorKey"`
	// CollectionNaming derives collection names from type names.
	CollectionNaming NamingStrategy `yaml:"collectionNaming"`
	// PropertyNaming derives storage names from Go field names.
	PropertyNaming NamingStrategy `yaml:"propertyNaming"`
}

// DefaultOptions returns the mapper defaults.
func DefaultOptions() Options {
	return Options{
		AlwaysDiscriminate: true,
		DiscriminatorKey:   "_t",
		CollectionNaming:   NamingLowerCamel,
		PropertyNaming:     NamingLowerCamel,
	}
}

// Validate checks that the options are usable.
func (o Options) Validate() error {
	if err := ValidateIdentifier(o.DiscriminatorKey, "discriminator key"); err != nil {
		return err
	}
	if err := o.CollectionNaming.Validate(); err != nil {
		return errors.Wrap(err, "collectionNaming")
	}
	if err := o.PropertyNaming.Validate(); err != nil {
		return errors.Wrap(err, "propertyNaming")
	}
	return nil
}

// ParseOptions reads YAML options on top of DefaultOptions.
func ParseOptions(data []byte) (Options, error) {
	opts := DefaultOptions()
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, errors.Wrap(err, "parsing mapper options")
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// LoadOptions reads YAML options from path.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, errors.Wrapf(err, "reading mapper options %s", path)
	}
	return ParseOptions(data)
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithOptions replaces the mapping options.
func WithOptions(opts Options) Option {
	return func(m *Mapper) {
		m.opts = opts
	}
}

// WithLogger sets the logger used for configuration warnings and tracing.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Mapper) {
		m.log = l
	}
}

// WithFetcher sets the default fetcher used to resolve references.
func WithFetcher(f Fetcher) Option {
	return func(m *Mapper) {
		m.fetcher = f
	}
}

// WithCodecProvider adds a provider consulted before the built-in ones.
// Providers are consulted in the order they were added.
func WithCodecProvider(p CodecProvider) Option {
	return func(m *Mapper) {
		m.custom = append(m.custom, p)
	}
}

// WithConversions replaces the conversion registry.
func WithConversions(c *Conversions) Option {
	return func(m *Mapper) {
		m.conversions = c
	}
}

// WithMetrics registers the mapper's metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(m *Mapper) {
		m.metricsReg = reg
	}
}

// WithPolicy replaces the policy deciding which properties are written.
func WithPolicy(p SerializationPolicy) Option {
	return func(m *Mapper) {
		if p != nil {
			m.policy = p
		}
	}
}
