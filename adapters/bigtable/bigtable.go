// Package bigtable adapts cloud.google.com/go/bigtable into a substrate
// Sink constructor, generalizing the teacher's components/bigtable Mutation
// Terminus to the substrate.Record model: the caller supplies the mutation
// function converting one Record into a bigtable row key and Mutation, the
// same customization point the teacher exposed as a named Mutation type.
package bigtable

import (
	"context"

	"cloud.google.com/go/bigtable"
	"github.com/spf13/viper"

	"github.com/whitaker-io/substrate"
)

// Mutation converts one record into the row key and mutation bigtable
// should apply for it.
type Mutation func(rec substrate.Record) (rowKey string, mut *bigtable.Mutation)

// Sink builds a substrate.Sink[substrate.Record] applying mutate to every
// record and writing it to table via a single Apply per record (the
// teacher's ApplyBulk batches whole payload slices; substrate sinks see
// one record at a time, so this collapses to Apply).
func Sink(v *viper.Viper, mutate Mutation) func(upstream substrate.Operator[substrate.Record]) substrate.Sink[substrate.Record] {
	projectID := v.GetString("project_id")
	instance := v.GetString("instance")
	tableName := v.GetString("table")

	return func(upstream substrate.Operator[substrate.Record]) substrate.Sink[substrate.Record] {
		client, err := bigtable.NewClient(context.Background(), projectID, instance)
		var tbl *bigtable.Table
		if err == nil {
			tbl = client.Open(tableName)
		}

		return substrate.NewWriterSink("bigtable:"+tableName, upstream, func(rec substrate.Record) error {
			if err != nil {
				return err
			}
			key, mut := mutate(rec)
			return tbl.Apply(context.Background(), key, mut)
		})
	}
}
