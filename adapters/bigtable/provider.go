package bigtable

import (
	"encoding/json"
	"fmt"

	"cloud.google.com/go/bigtable"
	"github.com/spf13/viper"

	"github.com/whitaker-io/substrate"
)

// provider registers only the "sink" node type, using a default Mutation
// that JSON-encodes the whole record into one family:qualifier cell keyed
// by a configured record field - the config-driven fallback for callers
// who don't need a custom Mutation and so never call Sink directly.
type provider struct{}

func (provider) Load(xType string, attributes map[string]interface{}) (interface{}, error) {
	v := viper.New()
	if err := v.MergeConfigMap(attributes); err != nil {
		return nil, err
	}

	switch xType {
	case "sink":
		rowKeyField := v.GetString("row_key_field")
		family := v.GetString("family")
		column := v.GetString("column")

		mutate := func(rec substrate.Record) (string, *bigtable.Mutation) {
			rowKey := fmt.Sprintf("%v", rec[rowKeyField])
			payload, _ := json.Marshal(rec)

			mut := bigtable.NewMutation()
			mut.Set(family, column, bigtable.Now(), payload)
			return rowKey, mut
		}

		return Sink(v, mutate), nil
	default:
		return nil, fmt.Errorf("bigtable: unsupported node type %s", xType)
	}
}

func init() {
	substrate.RegisterPluginProvider("bigtable", provider{})
}
