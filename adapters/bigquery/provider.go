package bigquery

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/whitaker-io/substrate"
)

// provider registers only the "sink" node type: bigquery's polling query
// Source lives in adapters/columnar instead (see Source in that
// package).
type provider struct{}

func (provider) Load(xType string, attributes map[string]interface{}) (interface{}, error) {
	v := viper.New()
	if err := v.MergeConfigMap(attributes); err != nil {
		return nil, err
	}

	switch xType {
	case "sink":
		return Sink(v), nil
	default:
		return nil, fmt.Errorf("bigquery: unsupported node type %s", xType)
	}
}

func init() {
	substrate.RegisterPluginProvider("bigquery", provider{})
}
