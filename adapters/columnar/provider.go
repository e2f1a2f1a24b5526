package columnar

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/whitaker-io/substrate"
)

// provider registers only the "source" node type: the column-buffering
// Sink needs a caller-held *Columns output handle a config file has no
// way to express, so it stays Go-code-only (see NewCollectColumnsSink).
type provider struct{}

func (provider) Load(xType string, attributes map[string]interface{}) (interface{}, error) {
	v := viper.New()
	if err := v.MergeConfigMap(attributes); err != nil {
		return nil, err
	}

	switch xType {
	case "source":
		return Source(v), nil
	default:
		return nil, fmt.Errorf("columnar: unsupported node type %s", xType)
	}
}

func init() {
	substrate.RegisterPluginProvider("columnar", provider{})
}
