// Package http adapts gofiber/fiber into substrate Source/Sink
// constructors, generalizing the teacher's components/http
// fiber.Handler-based Initium and http.Client-based Terminus to the
// substrate.Record model: one record per posted JSON object instead of
// one batch of records per request.
package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/spf13/viper"

	"github.com/whitaker-io/substrate"
)

// Source builds a substrate.Source[substrate.Record] listening on path,
// decoding each POSTed JSON array of objects into individual records fed
// to the returned iterator - the same fiber.Config knobs the teacher's
// Initium exposed (body limit, buffer sizes, read/write timeouts).
func Source(v *viper.Viper) substrate.Source[substrate.Record] {
	serverName := v.GetString("name")
	port := v.GetString("port")
	path := v.GetString("path")
	bodyLimit := v.GetInt("body_limit")
	readTimeout := v.GetDuration("read_timeout")
	writeTimeout := v.GetDuration("write_timeout")

	return substrate.NewIteratorSource[substrate.Record]("http:"+path, func(md substrate.Metadata) func() (substrate.Record, bool) {
		received := make(chan substrate.Record, 256)
		closed := make(chan struct{})

		app := fiber.New(fiber.Config{
			DisableKeepalive: true,
			BodyLimit:        bodyLimit,
			ServerHeader:     serverName,
			ReadTimeout:      readTimeout,
			WriteTimeout:     writeTimeout,
		})

		app.Post(path, func(c *fiber.Ctx) error {
			var payload []substrate.Record
			if err := c.BodyParser(&payload); err != nil {
				return c.SendStatus(http.StatusBadRequest)
			}
			for _, rec := range payload {
				received <- rec
			}
			return c.SendStatus(http.StatusOK)
		})

		go func() {
			if err := app.Listen(port); err != nil {
				md.Logger.Errorf("http source %s: listen failed: %v", path, err)
			}
			close(closed)
		}()

		return func() (substrate.Record, bool) {
			select {
			case rec := <-received:
				return rec, true
			case <-closed:
				return nil, false
			}
		}
	})
}

// Sink builds a substrate.Sink[substrate.Record] POSTing each record as a
// single-element JSON array to host, mirroring the teacher's Terminus
// status-code handling.
func Sink(v *viper.Viper) func(upstream substrate.Operator[substrate.Record]) substrate.Sink[substrate.Record] {
	host := v.GetString("host")
	timeout := v.GetDuration("timeout")

	return func(upstream substrate.Operator[substrate.Record]) substrate.Sink[substrate.Record] {
		client := http.Client{Timeout: timeout}

		return substrate.NewWriterSink("http:"+host, upstream, func(rec substrate.Record) error {
			bytez, err := json.Marshal([]substrate.Record{rec})
			if err != nil {
				return err
			}

			resp, err := client.Post(host, "application/json", bytes.NewReader(bytez))
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode > 299 {
				return fmt.Errorf("error sending payload to server %s - response code %d", host, resp.StatusCode)
			}
			return nil
		})
	}
}
