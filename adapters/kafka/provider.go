package kafka

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/whitaker-io/substrate"
)

// provider is the PluginProvider registered under the name "kafka", so a
// config-driven substrate.GraphSerialization can name this adapter
// without linking it in as Go code - the same indirection the teacher's
// plugins.go PluginProvider gave components/kafka.
type provider struct{}

func (provider) Load(xType string, attributes map[string]interface{}) (interface{}, error) {
	v := viper.New()
	if err := v.MergeConfigMap(attributes); err != nil {
		return nil, err
	}

	switch xType {
	case "source":
		return Source(v), nil
	case "sink":
		return Sink(v), nil
	default:
		return nil, fmt.Errorf("kafka: unsupported node type %s", xType)
	}
}

func init() {
	substrate.RegisterPluginProvider("kafka", provider{})
}
