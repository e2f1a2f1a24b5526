// Copyright © 2021 Jonathan Whitaker <jonathan@whitaker.io>

package main

import (
	"github.com/whitaker-io/substrate/cmd/cmd"

	_ "github.com/whitaker-io/substrate/adapters/bigquery"
	_ "github.com/whitaker-io/substrate/adapters/bigtable"
	_ "github.com/whitaker-io/substrate/adapters/cassandra"
	_ "github.com/whitaker-io/substrate/adapters/columnar"
	_ "github.com/whitaker-io/substrate/adapters/http"
	_ "github.com/whitaker-io/substrate/adapters/kafka"
	_ "github.com/whitaker-io/substrate/adapters/pubsub"
	_ "github.com/whitaker-io/substrate/adapters/redis"
	_ "github.com/whitaker-io/substrate/adapters/sqs"
)

func main() {
	cmd.Execute()
}
