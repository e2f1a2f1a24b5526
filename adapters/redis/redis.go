// Package redis adapts gomodule/redigo into substrate Source/Sink
// constructors, generalizing the teacher's subscriptions/redis
// machine.Subscription to the substrate.Record model.
package redis

import (
	"encoding/json"

	rd "github.com/gomodule/redigo/redis"
	"github.com/spf13/viper"

	"github.com/whitaker-io/substrate"
)

func pool(v *viper.Viper) *rd.Pool {
	address := v.GetString("address")
	return &rd.Pool{
		MaxIdle:   v.GetInt("max_idle"),
		MaxActive: v.GetInt("max_active"),
		Dial:      func() (rd.Conn, error) { return rd.Dial("tcp", address) },
	}
}

// Source builds a substrate.Source[substrate.Record] subscribed to
// channel, one PubSubConn per replica - direct generalization of the
// teacher's redis.New(*redigo.Pool, machine.Logger) Subscription.
func Source(v *viper.Viper) substrate.Source[substrate.Record] {
	channel := v.GetString("channel")
	p := pool(v)

	return substrate.NewIteratorSource[substrate.Record]("redis:"+channel, func(md substrate.Metadata) func() (substrate.Record, bool) {
		conn := &rd.PubSubConn{Conn: p.Get()}
		if err := conn.Subscribe(channel); err != nil {
			md.Logger.Errorf("redis source %s: subscribe failed: %v", channel, err)
		}

		return func() (substrate.Record, bool) {
			switch msg := conn.Receive().(type) {
			case rd.Message:
				rec := substrate.Record{}
				if err := json.Unmarshal(msg.Data, &rec); err != nil {
					return substrate.Record{"raw": string(msg.Data)}, true
				}
				return rec, true
			case error:
				md.Logger.Errorf("redis source %s: %v", channel, msg)
				return nil, false
			default:
				return substrate.Record{}, true
			}
		}
	})
}

// Sink builds a substrate.Sink[substrate.Record] publishing every record to
// channel over a connection taken from the pool for each write, so
// replicas of the sink block never share one connection.
func Sink(v *viper.Viper) func(upstream substrate.Operator[substrate.Record]) substrate.Sink[substrate.Record] {
	channel := v.GetString("channel")
	p := pool(v)

	return func(upstream substrate.Operator[substrate.Record]) substrate.Sink[substrate.Record] {
		return substrate.NewWriterSink("redis:"+channel, upstream, func(rec substrate.Record) error {
			payload, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			conn := p.Get()
			defer conn.Close()
			_, err = conn.Do("PUBLISH", channel, payload)
			return err
		})
	}
}
