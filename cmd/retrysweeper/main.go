// Command retrysweeper runs the retry scheduler's sweep loop
// (spec §4.8: "a sweeper queries the partition index for run_at < now and
// re-submits payloads to the stream"). It is a standalone process, external
// to the dispatch pipeline's per-invocation path.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/lambdafsm/dispatcher/arn"
	"github.com/lambdafsm/dispatcher/broker"
	"github.com/lambdafsm/dispatcher/config"
	"github.com/lambdafsm/dispatcher/emit"
	"github.com/lambdafsm/dispatcher/failover"
	"github.com/lambdafsm/dispatcher/retry"
	"github.com/lambdafsm/dispatcher/transport"
)

var (
	errNoScanner = errors.New("retrysweeper: document store does not support partition scans")
	errNoStream  = errors.New("retrysweeper: no stream connection available")
)

func main() {
	retryTableARN := flag.String("retry-table", os.Getenv("FSM_RETRY_TABLE"), "ARN of the retry record table (DynamoDB); not used when -local is set")
	streamARN := flag.String("stream", os.Getenv("FSM_PRIMARY_STREAM_SOURCE"), "ARN of the stream to resubmit due records to")
	localSQL := flag.Bool("local", os.Getenv("FSM_RETRYSWEEPER_LOCAL") != "", "use a local SQL document store instead of DynamoDB")
	sqlDriver := flag.String("sql-driver", "sqlite", "driver name for -local mode: mysql or sqlite")
	sqlDSN := flag.String("sql-dsn", "file::memory:?cache=shared", "DSN for -local mode")
	interval := flag.Duration("interval", 30*time.Second, "sweep interval")
	jsonLogs := flag.Bool("json", false, "emit logs as JSON")
	flag.Parse()

	emitter := emit.NewLogEmitter(os.Stdout, *jsonLogs)
	settings := config.Load(os.Getenv)
	settings.Validate(context.Background(), emitter)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper, err := buildSweeper(ctx, *localSQL, *sqlDriver, *sqlDSN, *retryTableARN, *streamARN)
	if err != nil {
		log.Fatalf("retrysweeper: %v", err)
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	log.Printf("retrysweeper: sweeping every %s", *interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("retrysweeper: shutting down")
			return
		case <-ticker.C:
			n, err := sweeper.SweepAll(ctx, time.Now())
			if err != nil {
				emitter.Emit(emit.Event{Kind: emit.KindError, Message: "sweep failed", Fields: map[string]any{"error": err.Error()}})
				continue
			}
			if n > 0 {
				log.Printf("retrysweeper: resubmitted %d record(s)", n)
			}
		}
	}
}

func buildSweeper(ctx context.Context, local bool, sqlDriver, sqlDSN, retryTableARN, streamARN string) (*retry.Sweeper, error) {
	var scanner transport.Scanner

	if local {
		store, err := transport.NewSQLDocumentStore(sqlDriver, sqlDSN, "fsm_retry")
		if err != nil {
			return nil, err
		}
		scanner = store
	} else {
		a, err := arn.Parse(retryTableARN)
		if err != nil {
			return nil, err
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		conn, err := transport.NewDynamoDocumentStore(cfg, a, broker.DefaultConnectTimeout, broker.DefaultReadTimeout)
		if err != nil {
			return nil, err
		}
		store, ok := conn.(transport.Scanner)
		if !ok {
			return nil, errNoScanner
		}
		scanner = store
	}

	submit, err := streamSubmitter(ctx, local, streamARN)
	if err != nil {
		return nil, err
	}
	return retry.NewSweeper(scanner, submit), nil
}

func streamSubmitter(ctx context.Context, local bool, streamARN string) (func(context.Context, string, []byte) error, error) {
	if local {
		fake := transport.NewMemoryStream()
		return func(ctx context.Context, correlationIDSteps string, payload []byte) error {
			return fake.PutRecord(ctx, correlationIDSteps, payload)
		}, nil
	}

	a, err := arn.Parse(streamARN)
	if err != nil {
		return nil, err
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	b := broker.New(map[arn.Service]broker.Factory{
		arn.ServiceKinesis: func(ctx context.Context, a arn.ARN, connectTimeout, readTimeout time.Duration) (broker.Conn, error) {
			return transport.NewKinesisStream(cfg, a, connectTimeout, readTimeout)
		},
	})
	router := failover.New(b, map[failover.Role]failover.Sides{
		failover.RoleStream: {Primary: a},
	}, broker.Options{}, emit.NewNullEmitter())

	return func(ctx context.Context, correlationIDSteps string, payload []byte) error {
		conn, ok := router.Resolve(ctx, failover.RoleStream, true)
		if !ok {
			return errNoStream
		}
		stream, ok := conn.(interface {
			PutRecord(ctx context.Context, partitionKey string, payload []byte) error
		})
		if !ok {
			return errNoStream
		}
		return stream.PutRecord(ctx, correlationIDSteps, payload)
	}, nil
}
