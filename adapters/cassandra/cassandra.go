// Package cassandra adapts gocql into substrate Source/Sink constructors,
// generalizing the teacher's cassandra polling Initium/Terminus pair
// (mislabeled components/http in the retrieved pack, but a gocql-driven
// paged-query source and a parameterized-exec sink) to the substrate.Record
// model.
package cassandra

import (
	"time"

	"github.com/gocql/gocql"
	"github.com/spf13/viper"

	"github.com/whitaker-io/substrate"
)

// Source builds a substrate.Source[substrate.Record] paging through query
// on an interval, one gocql.Session per replica.
func Source(v *viper.Viper) substrate.Source[substrate.Record] {
	hosts := v.GetStringSlice("hosts")
	keyspace := v.GetString("keyspace")
	query := v.GetString("query")
	pageSize := v.GetInt("page_size")
	interval := v.GetDuration("interval")

	return substrate.NewIteratorSource[substrate.Record]("cassandra:"+keyspace, func(md substrate.Metadata) func() (substrate.Record, bool) {
		cluster := gocql.NewCluster(hosts...)
		cluster.Keyspace = keyspace
		cluster.Consistency = gocql.Quorum
		session, err := cluster.CreateSession()
		if err != nil {
			md.Logger.Errorf("cassandra source %s: connect failed: %v", keyspace, err)
			return func() (substrate.Record, bool) { return nil, false }
		}

		var buffered []map[string]interface{}
		pageState := []byte{}
		lastPoll := time.Time{}

		return func() (substrate.Record, bool) {
			for len(buffered) == 0 {
				if wait := interval - time.Since(lastPoll); wait > 0 {
					time.Sleep(wait)
				}
				lastPoll = time.Now()

				iter := session.Query(query).PageSize(pageSize).PageState(pageState).Iter()
				rows, err := iter.SliceMap()
				if err != nil {
					md.Logger.Errorf("cassandra source %s: query failed: %v", keyspace, err)
					return nil, false
				}
				pageState = iter.PageState()
				buffered = rows
			}

			next := buffered[0]
			buffered = buffered[1:]
			return substrate.Record(next), true
		}
	})
}

// Sink builds a substrate.Sink[substrate.Record] executing query with
// values extracted from each record via keys, in order.
func Sink(v *viper.Viper) func(upstream substrate.Operator[substrate.Record]) substrate.Sink[substrate.Record] {
	hosts := v.GetStringSlice("hosts")
	keyspace := v.GetString("keyspace")
	query := v.GetString("query")
	keys := v.GetStringSlice("keys")

	return func(upstream substrate.Operator[substrate.Record]) substrate.Sink[substrate.Record] {
		cluster := gocql.NewCluster(hosts...)
		cluster.Keyspace = keyspace
		cluster.Consistency = gocql.Quorum
		session, err := cluster.CreateSession()

		return substrate.NewWriterSink("cassandra:"+keyspace, upstream, func(rec substrate.Record) error {
			if err != nil {
				return err
			}
			values := make([]interface{}, len(keys))
			for i, k := range keys {
				values[i] = rec[k]
			}
			return session.Query(query, values...).Exec()
		})
	}
}
