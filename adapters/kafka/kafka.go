// Package kafka adapts segmentio/kafka-go into substrate Source/Sink
// constructors, generalizing the teacher's components/kafka and
// subscriptions/kafka Initium/Terminus pair to the substrate.Record model.
package kafka

import (
	"context"
	"encoding/json"

	kaf "github.com/segmentio/kafka-go"
	"github.com/spf13/viper"

	"github.com/whitaker-io/substrate"
)

// Source builds a substrate.Source[substrate.Record] reading one partition
// of topic per replica, the same partition-per-replica convention the
// teacher's New(*kaf.ReaderConfig) subscription leaves to the caller.
func Source(v *viper.Viper) substrate.Source[substrate.Record] {
	brokers := v.GetStringSlice("brokers")
	topic := v.GetString("topic")
	basePartition := v.GetInt("partition")
	maxWait := v.GetDuration("deadline")
	retries := v.GetInt("retries")

	return substrate.NewIteratorSource[substrate.Record]("kafka:"+topic, func(md substrate.Metadata) func() (substrate.Record, bool) {
		r := kaf.NewReader(kaf.ReaderConfig{
			Brokers:     brokers,
			Topic:       topic,
			Partition:   basePartition + md.Coord.Replica,
			MaxWait:     maxWait,
			MaxAttempts: retries,
		})
		return func() (substrate.Record, bool) {
			message, err := r.ReadMessage(context.Background())
			if err != nil {
				md.Logger.Errorf("kafka source %s: %v", topic, err)
				return nil, false
			}
			rec := substrate.Record{}
			if err := json.Unmarshal(message.Value, &rec); err != nil {
				return substrate.Record{"raw": string(message.Value)}, true
			}
			return rec, true
		}
	})
}

// Sink builds a substrate.Sink[substrate.Record] writing to topic through
// one kaf.Writer built with the sink and shared by every replica of the
// sink block, balanced the same way the teacher's Terminus did
// (LeastBytes).
func Sink(v *viper.Viper) func(upstream substrate.Operator[substrate.Record]) substrate.Sink[substrate.Record] {
	brokers := v.GetStringSlice("brokers")
	topic := v.GetString("topic")
	retries := v.GetInt("retries")

	return func(upstream substrate.Operator[substrate.Record]) substrate.Sink[substrate.Record] {
		w := &kaf.Writer{
			Addr:        kaf.TCP(brokers...),
			Topic:       topic,
			Balancer:    &kaf.LeastBytes{},
			MaxAttempts: retries,
		}
		return substrate.NewWriterSink("kafka:"+topic, upstream, func(rec substrate.Record) error {
			bytez, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			return w.WriteMessages(context.Background(), kaf.Message{Value: bytez})
		})
	}
}
