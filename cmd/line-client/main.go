// Command line-client sends a line-following goal to a running daemon over
// NATS, prints feedback as it arrives and waits for the result. Interrupting
// it preempts the run.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/harshv834/auv/internal/supervisor"
	"github.com/harshv834/auv/internal/task"
)

var (
	natsURL    = flag.String("nats", nats.DefaultURL, "NATS server URL")
	prefix     = flag.String("prefix", supervisor.DefaultPrefix, "Task subject prefix")
	order      = flag.Bool("order", true, "Goal order flag; false is acknowledged without running")
	timeout    = flag.Duration("timeout", 5*time.Minute, "Give up waiting for a result after this long")
	cancelOnly = flag.Bool("cancel", false, "Preempt the active run and exit")
	quiet      = flag.Bool("quiet", false, "Do not print feedback")
)

func main() {
	flag.Parse()

	nc, err := nats.Connect(*natsURL, nats.Name("line-client"))
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", *natsURL, err)
	}
	defer nc.Close()
	client := supervisor.NewClient(nc, *prefix)

	if *cancelOnly {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		canceled, err := client.Cancel(ctx)
		if err != nil {
			log.Fatalf("cancel: %v", err)
		}
		fmt.Printf("canceled: %v\n", canceled)
		return
	}

	code := execute(client, os.Stdout)
	nc.Close()
	os.Exit(code)
}

// execute runs one goal and returns the process exit status: 0 for
// SUCCEEDED, 1 for any other outcome.
func execute(client *supervisor.Client, out io.Writer) int {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
		}
		cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer ccancel()
		if _, err := client.Cancel(cctx); err != nil {
			log.Printf("cancel: %v", err)
		}
	}()

	var onFeedback func(supervisor.FeedbackEvent)
	if !*quiet {
		onFeedback = func(fb supervisor.FeedbackEvent) {
			fmt.Fprintf(out, "feedback run=%s angle_remaining=%.2f\n", fb.RunID, fb.AngleRemaining)
		}
	}

	res, err := client.Execute(ctx, *order, onFeedback)
	if err != nil {
		log.Printf("execute: %v", err)
		return 1
	}
	printResult(out, res)
	if res.Phase != task.Succeeded {
		return 1
	}
	return 0
}

func printResult(out io.Writer, res supervisor.ResultEvent) {
	completed := "none"
	if res.MotionCompleted != nil {
		completed = fmt.Sprint(*res.MotionCompleted)
	}
	phase := "UNSET"
	if res.Phase != 0 {
		phase = res.Phase.String()
	}
	fmt.Fprintf(out, "result run=%s phase=%s motion_completed=%s align_attempts=%d\n",
		res.RunID, phase, completed, res.AlignAttempts)
	if res.Error != "" {
		fmt.Fprintf(out, "error: %s\n", res.Error)
	}
}
