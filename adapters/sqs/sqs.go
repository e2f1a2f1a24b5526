// Package sqs adapts aws-sdk-go's SQS client into substrate Source/Sink
// constructors, generalizing the teacher's components/sqs Initium/Terminus
// pair to the substrate.Record model.
package sqs

import (
	"encoding/json"

	awssdk "github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	svc "github.com/aws/aws-sdk-go/service/sqs"
	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/whitaker-io/substrate"
)

// Source builds a substrate.Source[substrate.Record] long-polling the
// queue named by v, one client per replica.
func Source(v *viper.Viper) substrate.Source[substrate.Record] {
	region := v.GetString("region")
	url := v.GetString("queue_url")
	visibilityTimeout := v.GetInt64("visibility_timeout")
	waitTimeSeconds := v.GetInt64("wait_time_seconds")

	return substrate.NewIteratorSource[substrate.Record]("sqs:"+url, func(md substrate.Metadata) func() (substrate.Record, bool) {
		sess := session.Must(session.NewSession())
		client := svc.New(sess, awssdk.NewConfig().WithRegion(region))

		var buffered []*svc.Message

		return func() (substrate.Record, bool) {
			for len(buffered) == 0 {
				id := uuid.New().String()
				out, err := client.ReceiveMessage(&svc.ReceiveMessageInput{
					MaxNumberOfMessages:     awssdk.Int64(1),
					QueueUrl:                &url,
					VisibilityTimeout:       &visibilityTimeout,
					WaitTimeSeconds:         &waitTimeSeconds,
					ReceiveRequestAttemptId: &id,
				})
				if err != nil {
					md.Logger.Errorf("sqs source %s: %v", url, err)
					return nil, false
				}
				buffered = out.Messages
				if len(buffered) == 0 {
					continue
				}
			}

			message := buffered[0]
			buffered = buffered[1:]

			rec := substrate.Record{}
			if err := json.Unmarshal([]byte(*message.Body), &rec); err != nil {
				rec = substrate.Record{"raw": *message.Body}
			}
			rec["__receiptHandle"] = *message.ReceiptHandle

			if _, err := client.DeleteMessage(&svc.DeleteMessageInput{QueueUrl: &url, ReceiptHandle: message.ReceiptHandle}); err != nil {
				md.Logger.Warnf("sqs source %s: delete failed: %v", url, err)
			}

			return rec, true
		}
	})
}

// Sink builds a substrate.Sink[substrate.Record] publishing to the queue
// named by v, one message per record the way the teacher's batched
// Terminus ultimately sends per-entry.
func Sink(v *viper.Viper) func(upstream substrate.Operator[substrate.Record]) substrate.Sink[substrate.Record] {
	region := v.GetString("region")
	url := v.GetString("queue_url")
	delay := v.GetInt64("delay")

	client := svc.New(session.Must(session.NewSession()), awssdk.NewConfig().WithRegion(region))

	return func(upstream substrate.Operator[substrate.Record]) substrate.Sink[substrate.Record] {
		return substrate.NewWriterSink("sqs:"+url, upstream, func(rec substrate.Record) error {
			payload, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			body := string(payload)
			_, err = client.SendMessage(&svc.SendMessageInput{
				QueueUrl:     &url,
				DelaySeconds: &delay,
				MessageBody:  &body,
			})
			return err
		})
	}
}
