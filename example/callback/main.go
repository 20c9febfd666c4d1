package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/AegisSpark/pkg/aegisspark"
)

func main() {
	flow, err := aegisspark.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(_ context.Context, msg aegisspark.OutboundMessage) error {
		fmt.Printf("%s %s topic=%s seq=%d historical=%t bytes=%d\n",
			msg.CreatedAt.Format(time.RFC3339Nano),
			msg.Kind,
			msg.Topic,
			msg.Seq,
			msg.Historical,
			len(msg.Payload),
		)
		return nil
	}

	if err := flow.Run(ctx, aegisspark.StreamOutCallback("stdout", callback)); err != nil && err != context.Canceled {
		log.Fatalf("gateway error: %v", err)
	}
}
