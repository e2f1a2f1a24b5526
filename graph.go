package substrate

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// PluginProvider resolves a named, attribute-configured plugin into one of
// the function/constructor shapes GraphSerialization's node types expect:
// Source[Record], func(Record) Record, func(Record) bool, func(Record)
// []Record, func(Record) string, func(Record, Record) Record, or
// func(Operator[Record]) Sink[Record]. This is the direct generalization
// of the teacher's plugins.go PluginProvider, narrowed from "one of nine
// vertex interfaces" to "one of the six Record-shaped function types",
// since every stage in a config-driven graph here operates over the same
// dynamic Record type (see GraphSerialization doc comment).
type PluginProvider interface {
	Load(xType string, attributes map[string]interface{}) (interface{}, error)
}

var pluginProviders = map[string]PluginProvider{}

// RegisterPluginProvider registers p under name so GraphSerialization
// nodes can reference it by name instead of linking it in as Go code.
func RegisterPluginProvider(name string, p PluginProvider) {
	pluginProviders[name] = p
}

// GraphSerialization is a config-driven description of a substrate
// pipeline over Record, (de)serializable via encoding/json or
// gopkg.in/yaml.v3 the way the teacher's VertexSerialization was. Unlike
// the teacher, whose vertex chain could fork (the binary Left/Right
// split) and whose every node carried its own static Go type, this graph
// is deliberately restricted to a single linear Next chain of
// Record-to-Record stages: Go generics have no runtime analogue of
// reflection-driven type instantiation, so a config file cannot name a
// fresh key type K for GroupBy the way a Go call site can. Scoping every
// config-driven key to string and every config-driven value to Record
// removes the need for that - see DESIGN.md.
type GraphSerialization struct {
	// ID names this node for logging and error messages.
	ID string `json:"id" yaml:"id" mapstructure:"id"`
	// Type selects the stage: "source", "map", "filter", "flatmap",
	// "fold", "groupby_count", "window_sum", or "sink".
	Type string `json:"type" yaml:"type" mapstructure:"type"`
	// Provider names the PluginProvider resolving this node's attributes
	// into the function/constructor its Type requires.
	Provider string `json:"provider" yaml:"provider" mapstructure:"provider"`
	// Attributes are passed to the Provider unchanged.
	Attributes map[string]interface{} `json:"attributes,omitempty" yaml:"attributes,omitempty" mapstructure:"attributes,omitempty"`
	// Field names the Record key window_sum extracts its summed value
	// from; unused by every other Type.
	Field string `json:"field,omitempty" yaml:"field,omitempty" mapstructure:"field,omitempty"`
	// Window is the tumbling window size, in nanoseconds, for window_sum -
	// the same raw-integer duration encoding the teacher's
	// StreamSerialization.Interval used.
	Window time.Duration `json:"window,omitempty" yaml:"window,omitempty" mapstructure:"window,omitempty"`
	// Parallelism is not read by LoadGraph or DescribeGraph: groupby_count
	// and window_sum always shuffle into a single downstream replica.
	Parallelism int `json:"parallelism,omitempty" yaml:"parallelism,omitempty" mapstructure:"parallelism,omitempty"`
	// Next is the following node in the chain; nil only for a "sink".
	Next *GraphSerialization `json:"next,omitempty" yaml:"next,omitempty" mapstructure:"next,omitempty"`
}

// ParseGraphYAML decodes a GraphSerialization chain directly from a YAML
// document, the same `gopkg.in/yaml.v3` round trip the teacher's
// loader.serialization.go used for its own StreamSerialization, for
// callers loading a graph from a file rather than through viper's config
// key (cmd/cmd/run.go's own loading path).
func ParseGraphYAML(data []byte) (*GraphSerialization, error) {
	g := &GraphSerialization{}
	if err := yaml.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("substrate: parse graph yaml: %w", err)
	}
	return g, nil
}

func (g *GraphSerialization) resolve() (interface{}, error) {
	provider, ok := pluginProviders[g.Provider]
	if !ok {
		return nil, fmt.Errorf("%s: missing PluginProvider %s", g.ID, g.Provider)
	}
	return provider.Load(g.Type, g.Attributes)
}

// LoadGraph builds and attaches a GraphSerialization to env, from its
// "source" root through to its terminating "sink" node - the
// config-driven counterpart of loader.go's Load, wired to this module's
// builder.go instead of machine.Builder.
func LoadGraph(env *Environment, root *GraphSerialization) error {
	b, sink, err := buildChain(env, root)
	if err != nil {
		return err
	}

	sym, err := sink.resolve()
	if err != nil {
		return err
	}
	sinkFactory, ok := sym.(func(Operator[Record]) Sink[Record])
	if !ok {
		return fmt.Errorf("%s: provider %s did not return func(Operator[Record]) Sink[Record]", sink.ID, sink.Provider)
	}
	To(b, sinkFactory)
	return nil
}

// DescribeGraph builds a GraphSerialization's operator chain without
// executing it and returns the OperatorStructure reported by the open
// block's chain before the sink. Stateless and aggregation stages report
// their upstream's structure, so this is the structure of that block's
// head: the source, or the Start opened by the last shuffle. It shares
// buildChain with LoadGraph, so describing a graph never runs anything a
// later LoadGraph wouldn't.
func DescribeGraph(env *Environment, root *GraphSerialization) (OperatorStructure, error) {
	b, _, err := buildChain(env, root)
	if err != nil {
		return OperatorStructure{}, err
	}
	return b.chain.Structure(), nil
}

// buildChain walks root's Next chain from its "source" up to, but not
// including, its terminating "sink" node, returning the open builder
// handle and the unresolved sink node so callers can either attach it
// (LoadGraph) or merely inspect the chain's structure (DescribeGraph).
func buildChain(env *Environment, root *GraphSerialization) (*StreamBuilder[Record], *GraphSerialization, error) {
	if root.Type != "source" {
		return nil, nil, fmt.Errorf("%s: graph must start with a source node", root.ID)
	}

	sym, err := root.resolve()
	if err != nil {
		return nil, nil, err
	}
	src, ok := sym.(Source[Record])
	if !ok {
		return nil, nil, fmt.Errorf("%s: provider %s did not return a Source[Record]", root.ID, root.Provider)
	}

	b := Stream(env, src)
	return applyNext(b, root.Next)
}

func applyNext(b *StreamBuilder[Record], g *GraphSerialization) (*StreamBuilder[Record], *GraphSerialization, error) {
	if g == nil {
		return nil, nil, fmt.Errorf("non-terminated graph at block %d", b.blockID)
	}

	switch g.Type {
	case "map":
		sym, err := g.resolve()
		if err != nil {
			return nil, nil, err
		}
		fn, ok := sym.(func(Record) Record)
		if !ok {
			return nil, nil, fmt.Errorf("%s: provider %s did not return func(Record) Record", g.ID, g.Provider)
		}
		b = Map(b, g.ID, fn)
		return applyNext(b, g.Next)

	case "filter":
		sym, err := g.resolve()
		if err != nil {
			return nil, nil, err
		}
		fn, ok := sym.(func(Record) bool)
		if !ok {
			return nil, nil, fmt.Errorf("%s: provider %s did not return func(Record) bool", g.ID, g.Provider)
		}
		b = Filter(b, g.ID, fn)
		return applyNext(b, g.Next)

	case "flatmap":
		sym, err := g.resolve()
		if err != nil {
			return nil, nil, err
		}
		fn, ok := sym.(func(Record) []Record)
		if !ok {
			return nil, nil, fmt.Errorf("%s: provider %s did not return func(Record) []Record", g.ID, g.Provider)
		}
		b = FlatMap(b, g.ID, fn)
		return applyNext(b, g.Next)

	case "fold":
		sym, err := g.resolve()
		if err != nil {
			return nil, nil, err
		}
		combine, ok := sym.(func(Record, Record) Record)
		if !ok {
			return nil, nil, fmt.Errorf("%s: provider %s did not return func(Record, Record) Record", g.ID, g.Provider)
		}
		folded := Fold(b, func() Record { return Record{} }, combine, combine)
		return applyNext(folded, g.Next)

	case "groupby_count":
		sym, err := g.resolve()
		if err != nil {
			return nil, nil, err
		}
		keyer, ok := sym.(func(Record) string)
		if !ok {
			return nil, nil, fmt.Errorf("%s: provider %s did not return func(Record) string", g.ID, g.Provider)
		}
		counted := GroupByCount(b, keyer)
		next := kvToRecord(counted, g.ID, "key", "count")
		return applyNext(next, g.Next)

	case "window_sum":
		sym, err := g.resolve()
		if err != nil {
			return nil, nil, err
		}
		keyer, ok := sym.(func(Record) string)
		if !ok {
			return nil, nil, fmt.Errorf("%s: provider %s did not return func(Record) string", g.ID, g.Provider)
		}
		field := g.Field
		summed := WindowSum(b, keyer, func(r Record) float64 { return toFloat64(r[field]) }, g.Window)
		next := kvToRecord(summed, g.ID, "key", "sum")
		return applyNext(next, g.Next)

	case "sink":
		return b, g, nil

	default:
		return nil, nil, fmt.Errorf("%s: unknown node type %s", g.ID, g.Type)
	}
}

// kvToRecord flattens a KV[string, V] stream back into Record under
// keyField/valueField, the seam keeping every config-driven stage at the
// same Record type regardless of what an aggregation's internal KV type
// was.
func kvToRecord[V any](b *StreamBuilder[KV[string, V]], name, keyField, valueField string) *StreamBuilder[Record] {
	return Map(b, name+"-flatten", func(kv KV[string, V]) Record {
		return Record{keyField: kv.Key, valueField: kv.Value}
	})
}

func toFloat64(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return 0
	}
}
