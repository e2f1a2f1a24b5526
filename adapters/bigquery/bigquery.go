// Package bigquery adapts cloud.google.com/go/bigquery into a substrate
// Sink constructor, generalizing the teacher's components/bigquery
// Terminus (the loader row Save/Load pair) to the substrate.Record model.
// A polling query source is left to adapters/columnar, which generalizes
// the same Initium pattern with a pluggable value-extraction function.
package bigquery

import (
	"context"

	"cloud.google.com/go/bigquery"
	"github.com/spf13/viper"

	"github.com/whitaker-io/substrate"
)

// row adapts substrate.Record to bigquery.ValueSaver the same way the
// teacher's loader type did.
type row substrate.Record

func (r row) Save() (map[string]bigquery.Value, string, error) {
	out := map[string]bigquery.Value{}
	for k, v := range r {
		out[k] = v
	}
	return out, "", nil
}

// Sink builds a substrate.Sink[substrate.Record] inserting every record
// into dataset.table via the streaming Inserter.
func Sink(v *viper.Viper) func(upstream substrate.Operator[substrate.Record]) substrate.Sink[substrate.Record] {
	projectID := v.GetString("project_id")
	datasetName := v.GetString("dataset")
	tableName := v.GetString("table")

	return func(upstream substrate.Operator[substrate.Record]) substrate.Sink[substrate.Record] {
		client, err := bigquery.NewClient(context.Background(), projectID)
		var inserter *bigquery.Inserter
		if err == nil {
			inserter = client.Dataset(datasetName).Table(tableName).Inserter()
		}

		return substrate.NewWriterSink("bigquery:"+datasetName+"."+tableName, upstream, func(rec substrate.Record) error {
			if err != nil {
				return err
			}
			return inserter.Put(context.Background(), row(rec))
		})
	}
}
