// Package pubsub adapts cloud.google.com/go/pubsub into substrate
// Source/Sink constructors, generalizing the teacher's components/pubsub
// and subscriptions/pubsub Initium/Terminus pair to the substrate.Record
// model.
package pubsub

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/pubsub"
	"github.com/spf13/viper"

	"github.com/whitaker-io/substrate"
)

// Source builds a substrate.Source[substrate.Record] receiving from the
// named subscription, one pubsub.Client per replica, buffering received
// messages from the async Receive loop into a per-replica channel.
func Source(v *viper.Viper) substrate.Source[substrate.Record] {
	projectID := v.GetString("project_id")
	subscription := v.GetString("subscription")

	return substrate.NewIteratorSource[substrate.Record]("pubsub:"+subscription, func(md substrate.Metadata) func() (substrate.Record, bool) {
		client, err := pubsub.NewClient(context.Background(), projectID)
		if err != nil {
			md.Logger.Errorf("pubsub source %s: connect failed: %v", subscription, err)
			return func() (substrate.Record, bool) { return nil, false }
		}

		sub := client.Subscription(subscription)
		received := make(chan substrate.Record, 64)
		ctx, cancel := context.WithCancel(context.Background())

		go func() {
			defer close(received)
			err := sub.Receive(ctx, func(_ context.Context, m *pubsub.Message) {
				rec := substrate.Record{}
				if err := json.Unmarshal(m.Data, &rec); err != nil {
					rec = substrate.Record{"raw": string(m.Data)}
				}
				received <- rec
				m.Ack()
			})
			if err != nil {
				md.Logger.Errorf("pubsub source %s: receive loop ended: %v", subscription, err)
			}
		}()

		return func() (substrate.Record, bool) {
			rec, ok := <-received
			if !ok {
				cancel()
				return nil, false
			}
			return rec, true
		}
	})
}

// Sink builds a substrate.Sink[substrate.Record] publishing every record to
// topic.
func Sink(v *viper.Viper) func(upstream substrate.Operator[substrate.Record]) substrate.Sink[substrate.Record] {
	projectID := v.GetString("project_id")
	topic := v.GetString("topic")

	return func(upstream substrate.Operator[substrate.Record]) substrate.Sink[substrate.Record] {
		client, err := pubsub.NewClient(context.Background(), projectID)
		var tpc *pubsub.Topic
		if err == nil {
			tpc = client.Topic(topic)
		}

		return substrate.NewWriterSink("pubsub:"+topic, upstream, func(rec substrate.Record) error {
			if err != nil {
				return err
			}
			payload, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			result := tpc.Publish(context.Background(), &pubsub.Message{Data: payload})
			_, err = result.Get(context.Background())
			return err
		})
	}
}
