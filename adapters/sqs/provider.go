package sqs

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/whitaker-io/substrate"
)

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
		return nil, fmt.Errorf("sqs: unsupported node type %s", xType)
	}
}

func init() {
	substrate.RegisterPluginProvider("sqs", provider{})
}
