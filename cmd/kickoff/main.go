// Command kickoff is a thin CLI around fsm.StartMachine (spec §6's Kickoff
// API): it builds a cold-start envelope for a named machine and dispatches
// it to the primary stream.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/lambdafsm/dispatcher/arn"
	"github.com/lambdafsm/dispatcher/broker"
	"github.com/lambdafsm/dispatcher/emit"
	"github.com/lambdafsm/dispatcher/failover"
	"github.com/lambdafsm/dispatcher/fsm"
	"github.com/lambdafsm/dispatcher/transport"
)

func main() {
	machineName := flag.String("machine", "", "FSM definition name to start (required)")
	streamARN := flag.String("stream", os.Getenv("FSM_PRIMARY_STREAM_SOURCE"), "ARN of the stream to publish the cold-start envelope to")
	correlationID := flag.String("correlation-id", "", "correlation id to use (generated if empty)")
	userContextJSON := flag.String("context", "{}", "initial user_context, as a JSON object")
	local := flag.Bool("local", false, "publish to an in-memory stream and print the envelope instead of calling AWS")
	flag.Parse()

	if *machineName == "" {
		log.Fatal("kickoff: -machine is required")
	}

	var userContext any
	if err := json.Unmarshal([]byte(*userContextJSON), &userContext); err != nil {
		log.Fatalf("kickoff: -context is not valid JSON: %v", err)
	}

	ctx := context.Background()
	router, stream, err := buildRouter(ctx, *local, *streamARN)
	if err != nil {
		log.Fatalf("kickoff: %v", err)
	}

	envelope, err := fsm.StartMachine(ctx, router, *machineName, userContext, *correlationID)
	if err != nil {
		log.Fatalf("kickoff: %v", err)
	}

	fmt.Printf("started %q correlation_id=%s steps=%d\n", *machineName, envelope.SystemContext.CorrelationID, envelope.SystemContext.Steps)
	if *local {
		for key, records := range stream.Records {
			for _, payload := range records {
				fmt.Printf("  published to %q: %s\n", key, payload)
			}
		}
	}
}

func buildRouter(ctx context.Context, local bool, streamARN string) (*failover.Router, *transport.MemoryStream, error) {
	if local {
		fake := transport.NewMemoryStream()
		b := broker.New(map[arn.Service]broker.Factory{
			arn.ServiceKinesis: func(context.Context, arn.ARN, time.Duration, time.Duration) (broker.Conn, error) {
				return fake, nil
			},
		})
		a := arn.MustParse("arn:aws:kinesis:us-east-1:000000000000:stream/local")
		router := failover.New(b, map[failover.Role]failover.Sides{
			failover.RoleStream: {Primary: a},
		}, broker.Options{}, emit.NewNullEmitter())
		return router, fake, nil
	}

	a, err := arn.Parse(streamARN)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	b := broker.New(map[arn.Service]broker.Factory{
		arn.ServiceKinesis: func(ctx context.Context, a arn.ARN, connectTimeout, readTimeout time.Duration) (broker.Conn, error) {
			return transport.NewKinesisStream(cfg, a, connectTimeout, readTimeout)
		},
	})
	router := failover.New(b, map[failover.Role]failover.Sides{
		failover.RoleStream: {Primary: a},
	}, broker.Options{}, emit.NewLogEmitter(os.Stderr, false))
	return router, nil, nil
}
